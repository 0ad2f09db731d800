package session

import (
	"github.com/google/uuid"
)

// newGeneration names one connection handle of a session so log lines
// from successive reconnects can be told apart.
func newGeneration() string {
	return uuid.NewString()
}
