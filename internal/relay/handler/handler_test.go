package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wa-relay/internal/credentials"
	"wa-relay/internal/messagelog"
	"wa-relay/internal/session"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubConn struct {
	events  chan session.Event
	done    chan struct{}
	once    sync.Once
	sendErr error
}

func (s *stubConn) Events() <-chan session.Event { return s.events }
func (s *stubConn) Done() <-chan struct{}        { return s.done }
func (s *stubConn) Logout(context.Context) error { return nil }

func (s *stubConn) Send(ctx context.Context, to, text string) (session.SendResult, error) {
	if s.sendErr != nil {
		return session.SendResult{}, s.sendErr
	}
	return session.SendResult{ID: "3EB0" + to, Timestamp: time.Now()}, nil
}

func (s *stubConn) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

type stubConnector struct {
	mu      sync.Mutex
	conns   []*stubConn
	err     error
	sendErr error
}

func (s *stubConnector) Connect(ctx context.Context, userID, dir string) (session.Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	c := &stubConn{
		events:  make(chan session.Event, 8),
		done:    make(chan struct{}),
		sendErr: s.sendErr,
	}
	c.events <- session.QRIssued("pair-me")
	s.conns = append(s.conns, c)
	return c, nil
}

func (s *stubConnector) last() *stubConn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conns[len(s.conns)-1]
}

type stubHistory struct {
	entries []messagelog.Entry
	limit   int
}

func (s *stubHistory) Recent(ctx context.Context, userID string, limit int) ([]messagelog.Entry, error) {
	s.limit = limit
	return s.entries, nil
}

type testServer struct {
	router    *gin.Engine
	ctrl      *session.Controller
	connector *stubConnector
	creds     *credentials.Store
}

func newTestServer(t *testing.T, opts session.Options, history History) *testServer {
	t.Helper()

	connector := &stubConnector{}
	creds := credentials.NewStore(afero.NewMemMapFs(), "/sessions")
	if opts.LoginWait == 0 {
		opts.LoginWait = time.Second
	}
	opts.EncodeQR = func(code string) (string, error) { return "data:image/png;base64," + code, nil }

	ctrl := session.NewController(session.NewRegistry(), creds, connector, opts)
	t.Cleanup(func() { _ = ctrl.Shutdown(context.Background()) })

	h := NewHandler(ctrl, history)
	r := gin.New()
	h.RegisterRoutes(r)
	r.GET("/health", h.Health)

	return &testServer{router: r, ctrl: ctrl, connector: connector, creds: creds}
}

func (s *testServer) do(t *testing.T, method, path string, body any) (int, map[string]any) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return w.Code, out
}

// connect logs userID in and opens the connection.
func (s *testServer) connect(t *testing.T, userID string) {
	t.Helper()
	code, _ := s.do(t, http.MethodGet, "/login/"+userID, nil)
	require.Equal(t, http.StatusOK, code)
	s.connector.last().events <- session.Opened()
	require.Eventually(t, func() bool {
		_, body := s.do(t, http.MethodGet, "/status/"+userID, nil)
		return body["status"] == "connected"
	}, 2*time.Second, 5*time.Millisecond)
}

func TestLoginThenOpen(t *testing.T) {
	s := newTestServer(t, session.Options{}, nil)

	code, body := s.do(t, http.MethodGet, "/login/alice", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "pending", body["status"])
	assert.Equal(t, "data:image/png;base64,pair-me", body["qr"])

	_, body = s.do(t, http.MethodGet, "/status/alice", nil)
	assert.Equal(t, "awaiting_qr", body["state"])

	s.connector.last().events <- session.Opened()
	require.Eventually(t, func() bool {
		_, body := s.do(t, http.MethodGet, "/status/alice", nil)
		return body["status"] == "connected"
	}, 2*time.Second, 5*time.Millisecond)

	code, body = s.do(t, http.MethodGet, "/login/alice", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "connected", body["status"])
	assert.NotContains(t, body, "qr")
	assert.NotContains(t, body, "lastError")
}

func TestLoginCreationFailure(t *testing.T) {
	s := newTestServer(t, session.Options{}, nil)
	s.connector.err = errors.New("dial failed")

	code, body := s.do(t, http.MethodGet, "/login/alice", nil)
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "failed to create session", body["error"])
}

func TestInvalidUserID(t *testing.T) {
	s := newTestServer(t, session.Options{}, nil)

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/login/a%20b"},
		{http.MethodGet, "/status/a%21b"},
		{http.MethodPost, "/logout/a%24b"},
		{http.MethodPost, "/reset/a%20b"},
	} {
		t.Run(tc.path, func(t *testing.T) {
			code, body := s.do(t, tc.method, tc.path, nil)
			assert.Equal(t, http.StatusBadRequest, code)
			assert.Equal(t, "validation failed", body["error"])
		})
	}
	assert.Zero(t, s.ctrl.Health().ActiveSessions)
}

func TestStatusUnknownUser(t *testing.T) {
	s := newTestServer(t, session.Options{}, nil)

	code, body := s.do(t, http.MethodGet, "/status/nobody", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "disconnected", body["status"])
	assert.EqualValues(t, 0, body["retryCount"])
}

func TestSendMessage(t *testing.T) {
	s := newTestServer(t, session.Options{}, nil)
	s.connect(t, "alice")

	code, body := s.do(t, http.MethodPost, "/send-message", gin.H{
		"userId":  "alice",
		"number":  "+1 555 0100",
		"message": "hello",
	})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "Message sent", body["message"])
	assert.Equal(t, "3EB015550100@s.whatsapp.net", body["id"])
}

func TestSendMessageMalformedAddress(t *testing.T) {
	s := newTestServer(t, session.Options{}, nil)
	s.connect(t, "alice")

	code, body := s.do(t, http.MethodPost, "/send-message", gin.H{
		"userId":  "alice",
		"number":  " 1 555@s.whatsapp.net",
		"message": "hello",
	})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, false, body["success"])
}

func TestSendMessageMissingFields(t *testing.T) {
	s := newTestServer(t, session.Options{}, nil)

	for _, req := range []gin.H{
		{"number": "1", "message": "hi"},
		{"userId": "alice", "message": "hi"},
		{"userId": "alice", "number": "1"},
	} {
		code, body := s.do(t, http.MethodPost, "/send-message", req)
		assert.Equal(t, http.StatusBadRequest, code)
		assert.Equal(t, false, body["success"])
	}
}

func TestSendMessageInvalidBody(t *testing.T) {
	s := newTestServer(t, session.Options{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/send-message", bytes.NewBufferString("{"))
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSendMessageNotConnected(t *testing.T) {
	s := newTestServer(t, session.Options{}, nil)

	code, body := s.do(t, http.MethodPost, "/send-message", gin.H{
		"userId": "alice", "number": "15550100", "message": "hi",
	})
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "session not connected", body["error"])
}

func TestSendMessageWhileDisconnected(t *testing.T) {
	s := newTestServer(t, session.Options{ReconnectDelay: time.Minute, MaxRetries: 3}, nil)
	s.connect(t, "alice")

	s.connector.last().events <- session.Closed(session.CloseReason{Code: session.CodeConnectionClosed, Message: "closed"})
	require.Eventually(t, func() bool {
		_, body := s.do(t, http.MethodGet, "/status/alice", nil)
		return body["status"] == "disconnected"
	}, 2*time.Second, 5*time.Millisecond)

	code, _ := s.do(t, http.MethodPost, "/send-message", gin.H{
		"userId": "alice", "number": "15550100", "message": "hi",
	})
	assert.Equal(t, http.StatusUnauthorized, code)

	_, body := s.do(t, http.MethodGet, "/status/alice", nil)
	lastErr, ok := body["lastError"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, session.CodeConnectionClosed, lastErr["code"])
	assert.EqualValues(t, 1, body["retryCount"])
}

func TestSendMessageFailure(t *testing.T) {
	s := newTestServer(t, session.Options{}, nil)
	s.connector.sendErr = errors.New("socket gone")
	s.connect(t, "alice")

	code, body := s.do(t, http.MethodPost, "/send-message", gin.H{
		"userId": "alice", "number": "15550100", "message": "hi",
	})
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, "failed to send message", body["error"])

	_, body = s.do(t, http.MethodGet, "/status/alice", nil)
	assert.Equal(t, "connected", body["status"])
}

func TestSendMessageRateLimited(t *testing.T) {
	s := newTestServer(t, session.Options{SendRatePerMinute: 1}, nil)
	s.connect(t, "alice")

	req := gin.H{"userId": "alice", "number": "15550100", "message": "hi"}
	code, _ := s.do(t, http.MethodPost, "/send-message", req)
	require.Equal(t, http.StatusOK, code)

	code, _ = s.do(t, http.MethodPost, "/send-message", req)
	assert.Equal(t, http.StatusTooManyRequests, code)
}

func TestLogoutTwice(t *testing.T) {
	s := newTestServer(t, session.Options{}, nil)
	s.connect(t, "alice")

	for i := 0; i < 2; i++ {
		code, body := s.do(t, http.MethodPost, "/logout/alice", nil)
		require.Equal(t, http.StatusOK, code)
		assert.Equal(t, true, body["success"])

		exists, err := s.creds.Exists("alice")
		require.NoError(t, err)
		assert.False(t, exists)
	}
}

func TestResetWhileConnected(t *testing.T) {
	s := newTestServer(t, session.Options{}, nil)
	s.connect(t, "alice")

	code, body := s.do(t, http.MethodPost, "/reset/alice", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Session reset", body["message"])

	exists, err := s.creds.Exists("alice")
	require.NoError(t, err)
	assert.False(t, exists)

	_, body = s.do(t, http.MethodGet, "/status/alice", nil)
	assert.Equal(t, "disconnected", body["status"])
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, session.Options{}, nil)
	s.connect(t, "alice")

	code, body := s.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
	assert.EqualValues(t, 1, body["activeSessions"])
	assert.Contains(t, body, "uptime")
}

func TestMessagesRouteOnlyWithHistory(t *testing.T) {
	s := newTestServer(t, session.Options{}, nil)

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/messages/alice", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMessages(t *testing.T) {
	sentAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	history := &stubHistory{entries: []messagelog.Entry{
		{Recipient: "15550100@s.whatsapp.net", MessageID: "id-1", SentAt: sentAt},
	}}
	s := newTestServer(t, session.Options{}, history)

	code, body := s.do(t, http.MethodGet, "/messages/alice?limit=500", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, maxHistoryLimit, history.limit)

	msgs, ok := body["messages"].([]any)
	require.True(t, ok)
	require.Len(t, msgs, 1)
	assert.Equal(t, map[string]any{
		"recipient": "15550100@s.whatsapp.net",
		"messageId": "id-1",
		"sentAt":    "2026-03-01T12:00:00Z",
	}, msgs[0])

	code, _ = s.do(t, http.MethodGet, "/messages/alice?limit=zero", nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestErrorStatus(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, errorStatus(session.ErrValidation))
	assert.Equal(t, http.StatusUnauthorized, errorStatus(session.ErrNotConnected))
	assert.Equal(t, http.StatusTooManyRequests, errorStatus(session.ErrRateLimited))
	assert.Equal(t, http.StatusInternalServerError, errorStatus(session.ErrSend))
	assert.Equal(t, http.StatusInternalServerError, errorStatus(session.ErrReset))
	assert.Equal(t, http.StatusInternalServerError, errorStatus(errors.New("other")))
}
