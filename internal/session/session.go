package session

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type LastError struct {
	Code      int       `json:"code"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

func newLastError(code int, message string) *LastError {
	return &LastError{Code: code, Message: message, Timestamp: time.Now()}
}

// Snapshot is a point-in-time copy of a Session.
type Snapshot struct {
	UserID     string     `json:"userId"`
	State      State      `json:"state"`
	Status     string     `json:"status"`
	QR         string     `json:"qr,omitempty"`
	LastError  *LastError `json:"lastError,omitempty"`
	RetryCount int        `json:"retryCount"`
	Account    string     `json:"account,omitempty"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

// scheduled is a cancelable timer. The token lets a callback that already
// fired detect that it was superseded.
type scheduled struct {
	timer *time.Timer
	token uint64
}

// Session is one user's connection and its lifecycle bookkeeping. All
// fields are guarded by mu; the connection handle is owned exclusively.
type Session struct {
	userID string

	mu         sync.Mutex
	generation string
	conn       Conn
	state      State
	qr         string
	lastError  *LastError
	retryCount int
	account    string
	updatedAt  time.Time

	qrTimer        *scheduled
	reconnectTimer *scheduled
	timerSeq       uint64

	settled     chan struct{}
	settledDone bool

	limiter *rate.Limiter
}

func newSession(userID string, sendPerMinute int) *Session {
	s := &Session{
		userID:    userID,
		state:     StateIdle,
		updatedAt: time.Now(),
		settled:   make(chan struct{}),
	}
	if sendPerMinute > 0 {
		s.limiter = rate.NewLimiter(
			rate.Every(time.Minute/time.Duration(sendPerMinute)),
			sendPerMinute,
		)
	}
	return s
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		UserID:     s.userID,
		State:      s.state,
		Status:     s.state.Status(),
		QR:         s.qr,
		RetryCount: s.retryCount,
		Account:    s.account,
		UpdatedAt:  s.updatedAt,
	}
	if s.lastError != nil {
		le := *s.lastError
		snap.LastError = &le
	}
	return snap
}

func (s *Session) touch() {
	s.updatedAt = time.Now()
}

// settle releases login callers waiting for the first event of the
// current connection.
func (s *Session) settle() {
	if !s.settledDone {
		s.settledDone = true
		close(s.settled)
	}
}

func (s *Session) resetSettled() {
	s.settled = make(chan struct{})
	s.settledDone = false
}

func (s *Session) schedule(d time.Duration, fn func(token uint64)) *scheduled {
	s.timerSeq++
	token := s.timerSeq
	return &scheduled{
		token: token,
		timer: time.AfterFunc(d, func() { fn(token) }),
	}
}

func (s *Session) stopQRTimer() {
	if s.qrTimer != nil {
		s.qrTimer.timer.Stop()
		s.qrTimer = nil
	}
}

func (s *Session) stopReconnectTimer() {
	if s.reconnectTimer != nil {
		s.reconnectTimer.timer.Stop()
		s.reconnectTimer = nil
	}
}

// stalled reports a disconnected session with nothing left to revive it.
func (s *Session) stalled() bool {
	return s.conn == nil && s.reconnectTimer == nil &&
		(s.state == StateDisconnected || s.state == StateLoggedOut || s.state == StateIdle)
}
