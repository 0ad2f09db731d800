package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GinRequireAuth runs RequireAuth for the session API group. /health is
// mounted on the bare router so probes never need a token.
func GinRequireAuth(auth *AuthMiddleware) gin.HandlerFunc {
	return func(c *gin.Context) {
		// RequireAuth hands the request on with the principal attached;
		// carry it back into the gin context before continuing.
		next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			c.Request = r
			c.Next()
		})

		auth.RequireAuth(next).ServeHTTP(c.Writer, c.Request)

		// A 401 was already written; later handlers must not run.
		if c.Writer.Written() && !c.IsAborted() && c.Writer.Status() == http.StatusUnauthorized {
			c.Abort()
		}
	}
}
