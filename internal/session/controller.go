package session

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"wa-relay/internal/credentials"
	"wa-relay/internal/logger"
)

type Options struct {
	QRTimeout      time.Duration
	ReconnectDelay time.Duration
	MaxRetries     int
	// WipeThreshold is the retry count from which a reconnect starts
	// from empty credentials.
	WipeThreshold int
	// RenewPendingQR makes a login for a user still waiting on a QR scan
	// restart the connection instead of returning the pending code.
	RenewPendingQR bool
	LoginWait      time.Duration

	SendRatePerMinute int

	// EncodeQR renders a raw QR string as the payload handed to clients.
	EncodeQR func(code string) (string, error)

	Mirror   Mirror
	Messages MessageLog
}

func (o Options) withDefaults() Options {
	if o.QRTimeout <= 0 {
		o.QRTimeout = 30 * time.Second
	}
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = 5 * time.Second
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 5
	}
	if o.WipeThreshold <= 0 {
		o.WipeThreshold = 3
	}
	if o.LoginWait < 0 {
		o.LoginWait = 0
	}
	if o.EncodeQR == nil {
		o.EncodeQR = func(code string) (string, error) { return code, nil }
	}
	return o
}

type Health struct {
	ActiveSessions int
	Uptime         time.Duration
}

// Controller owns the registry and drives every session transition,
// whether triggered by API calls, connection events or timers.
type Controller struct {
	registry  *Registry
	creds     CredentialStore
	connector Connector
	opts      Options

	mirror   *mirrorPublisher
	started  time.Time
	shutdown atomic.Bool

	// draining is closed once shutdown begins; it releases Login waiters.
	draining  chan struct{}
	drainOnce sync.Once
}

func NewController(
	registry *Registry,
	creds CredentialStore,
	connector Connector,
	opts Options,
) *Controller {
	opts = opts.withDefaults()

	c := &Controller{
		registry:  registry,
		creds:     creds,
		connector: connector,
		opts:      opts,
		started:   time.Now(),
		draining:  make(chan struct{}),
	}
	if opts.Mirror != nil {
		c.mirror = newMirrorPublisher(opts.Mirror)
	}
	return c
}

func validateUser(userID string) error {
	if err := credentials.ValidateUserID(userID); err != nil {
		return wrapKind(ErrValidation, "invalid_user_id", userID, err)
	}
	return nil
}

// Login returns the user's session, creating it when absent, stalled, or
// when reset is requested (reset wipes credentials first). It waits up
// to LoginWait for the first QR code or open so the caller can show it.
func (c *Controller) Login(ctx context.Context, userID string, reset bool) (Snapshot, error) {
	if err := validateUser(userID); err != nil {
		return Snapshot{}, err
	}
	if c.shutdown.Load() {
		return Snapshot{}, wrapKind(ErrCreation, "shutting_down", userID, nil)
	}

	unlock := c.registry.Lock(userID)

	s := c.registry.Get(userID)
	if s != nil {
		s.mu.Lock()
		replace := reset ||
			s.stalled() ||
			(c.opts.RenewPendingQR && s.state == StateAwaitingQR)
		if replace {
			c.terminateLocked(s, StateIdle, false)
		}
		s.mu.Unlock()
		if replace {
			s = nil
		}
	}

	if reset {
		if err := c.creds.Wipe(userID); err != nil {
			unlock()
			return Snapshot{}, wrapKind(ErrCreation, "credential_wipe_failed", userID, err)
		}
	}

	if s == nil {
		var err error
		s, err = c.create(ctx, userID)
		if err != nil {
			unlock()
			return Snapshot{}, err
		}
	}

	s.mu.Lock()
	settled := s.settled
	s.mu.Unlock()
	unlock()

	if c.opts.LoginWait > 0 {
		wait := time.NewTimer(c.opts.LoginWait)
		defer wait.Stop()
		select {
		case <-settled:
		case <-wait.C:
		case <-ctx.Done():
		case <-c.draining:
		}
	}

	return s.Snapshot(), nil
}

// create builds and registers a new session. Caller holds the user lock.
func (c *Controller) create(ctx context.Context, userID string) (*Session, error) {
	dir, err := c.creds.Load(userID)
	if err != nil {
		return nil, wrapKind(ErrCreation, "credential_load_failed", userID, err)
	}

	conn, err := c.connector.Connect(ctx, userID, dir)
	if err != nil {
		return nil, wrapKind(ErrCreation, "connect_failed", userID, err)
	}
	if c.shutdown.Load() {
		_ = conn.Close()
		return nil, wrapKind(ErrCreation, "shutting_down", userID, nil)
	}

	s := newSession(userID, c.opts.SendRatePerMinute)

	s.mu.Lock()
	c.attachLocked(s, conn)
	s.mu.Unlock()

	c.registry.Put(userID, s)

	logger.Info("session created", map[string]any{
		"user_id":    userID,
		"generation": s.generation,
	})

	return s, nil
}

// Status reports the user's session; an unknown user is disconnected.
func (c *Controller) Status(userID string) (Snapshot, error) {
	if err := validateUser(userID); err != nil {
		return Snapshot{}, err
	}

	s := c.registry.Get(userID)
	if s == nil {
		return Snapshot{
			UserID: userID,
			State:  StateDisconnected,
			Status: StatusDisconnected,
		}, nil
	}
	return s.Snapshot(), nil
}

// Send relays a text message. Only a connected session may send; a failed
// send leaves the session connected.
func (c *Controller) Send(ctx context.Context, userID, number, text string) (SendResult, error) {
	if err := validateUser(userID); err != nil {
		return SendResult{}, err
	}
	if strings.TrimSpace(number) == "" || text == "" {
		return SendResult{}, wrapKind(ErrValidation, "missing_fields", userID, nil)
	}

	to, err := NormalizeRecipient(number)
	if err != nil {
		return SendResult{}, wrapKind(ErrValidation, "invalid_recipient", userID, nil)
	}

	s := c.registry.Get(userID)
	if s == nil {
		return SendResult{}, wrapKind(ErrNotConnected, "not_connected", userID, nil)
	}

	s.mu.Lock()
	conn := s.conn
	connected := s.state == StateConnected && conn != nil
	limiter := s.limiter
	s.mu.Unlock()

	if !connected {
		return SendResult{}, wrapKind(ErrNotConnected, "not_connected", userID, nil)
	}
	if limiter != nil && !limiter.Allow() {
		return SendResult{}, wrapKind(ErrRateLimited, "rate_limited", userID, nil)
	}

	res, err := conn.Send(ctx, to, text)
	if err != nil {
		logger.Error("message send failed", map[string]any{
			"user_id":   userID,
			"recipient": to,
			"error":     err.Error(),
		})
		return SendResult{}, wrapKind(ErrSend, "send_failed", userID, err)
	}

	logger.Info("message sent", map[string]any{
		"user_id":    userID,
		"recipient":  to,
		"message_id": res.ID,
	})

	if c.opts.Messages != nil {
		sentAt := res.Timestamp
		if sentAt.IsZero() {
			sentAt = time.Now()
		}
		if err := c.opts.Messages.Record(ctx, SentMessage{
			UserID:    userID,
			Recipient: to,
			MessageID: res.ID,
			Text:      text,
			SentAt:    sentAt,
		}); err != nil {
			logger.Warn("message log write failed", map[string]any{
				"user_id": userID,
				"error":   err.Error(),
			})
		}
	}

	return res, nil
}

// Logout unlinks the device when connected, drops the session and wipes
// its credentials. It succeeds whether or not a session existed.
func (c *Controller) Logout(ctx context.Context, userID string) error {
	if err := validateUser(userID); err != nil {
		return err
	}

	unlock := c.registry.Lock(userID)
	defer unlock()

	if s := c.registry.Get(userID); s != nil {
		s.mu.Lock()
		conn := s.conn
		connected := s.state == StateConnected
		s.mu.Unlock()

		if conn != nil && connected {
			if err := conn.Logout(ctx); err != nil {
				logger.Warn("protocol logout failed", map[string]any{
					"user_id": userID,
					"error":   err.Error(),
				})
			}
		}

		s.mu.Lock()
		c.terminateLocked(s, StateLoggedOut, false)
		s.mu.Unlock()
	}

	if err := c.creds.Wipe(userID); err != nil {
		logger.Error("credential wipe on logout failed", map[string]any{
			"user_id": userID,
			"error":   err.Error(),
		})
	}

	logger.Info("session logged out", map[string]any{"user_id": userID})
	return nil
}

// Reset drops any session regardless of its state and wipes credentials.
func (c *Controller) Reset(ctx context.Context, userID string) error {
	if err := validateUser(userID); err != nil {
		return err
	}

	unlock := c.registry.Lock(userID)
	defer unlock()

	if s := c.registry.Get(userID); s != nil {
		s.mu.Lock()
		c.terminateLocked(s, StateIdle, false)
		s.mu.Unlock()
	}

	if err := c.creds.Wipe(userID); err != nil {
		return wrapKind(ErrReset, "credential_wipe_failed", userID, err)
	}

	logger.Info("session reset", map[string]any{"user_id": userID})
	return nil
}

func (c *Controller) Health() Health {
	return Health{
		ActiveSessions: c.registry.Size(),
		Uptime:         time.Since(c.started),
	}
}

// Drain refuses new sessions and releases callers waiting in Login. It is
// safe to call more than once.
func (c *Controller) Drain() {
	c.drainOnce.Do(func() {
		c.shutdown.Store(true)
		close(c.draining)
	})
}

// Shutdown closes every live connection and stops all timers. Credentials
// are kept so sessions resume on the next start.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.Drain()

	closed := 0
	c.registry.Range(func(s *Session) bool {
		unlock := c.registry.Lock(s.userID)
		s.mu.Lock()
		s.stopQRTimer()
		s.stopReconnectTimer()
		if s.conn != nil {
			_ = s.conn.Close()
			s.conn = nil
			closed++
		}
		s.state = StateDisconnected
		s.qr = ""
		s.settle()
		s.touch()
		c.publishLocked(s)
		s.mu.Unlock()
		c.registry.removeIf(s.userID, s)
		unlock()
		return true
	})

	logger.Info("sessions closed", map[string]any{"count": closed})

	return c.mirror.close(ctx)
}
