package session

import (
	"context"
	"fmt"
	"time"

	"wa-relay/internal/logger"
)

// reconnectSetupTimeout bounds credential and dial work of one reconnect.
const reconnectSetupTimeout = 30 * time.Second

// attachLocked installs conn as the session's only handle and starts
// consuming its events. Caller holds the user lock and s.mu, and has
// already released any previous handle.
func (c *Controller) attachLocked(s *Session, conn Conn) {
	s.generation = newGeneration()
	s.conn = conn
	s.state = StateAwaitingQR
	s.resetSettled()
	s.touch()
	c.publishLocked(s)

	go c.consume(s, conn, s.generation)
}

// consume applies one connection's events strictly in arrival order.
func (c *Controller) consume(s *Session, conn Conn, generation string) {
	for {
		select {
		case ev := <-conn.Events():
			c.handle(s, conn, generation, ev)
		case <-conn.Done():
			return
		}
	}
}

// current reports whether conn is still the live handle of a registered
// session. Caller holds s.mu.
func (c *Controller) current(s *Session, conn Conn) bool {
	return s.conn == conn && c.registry.Get(s.userID) == s
}

func (c *Controller) handle(s *Session, conn Conn, generation string, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			c.recoverEvent(s, conn, ev, r)
		}
	}()

	unlock := c.registry.Lock(s.userID)
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if !c.current(s, conn) {
		logger.Debug("ignoring event from stale connection", map[string]any{
			"user_id":    s.userID,
			"generation": generation,
			"event":      ev.Kind.String(),
		})
		return
	}

	switch ev.Kind {
	case EventQRIssued:
		c.onQRLocked(s, ev.QR)
	case EventOpened:
		c.onOpenedLocked(s)
	case EventClosed:
		c.onClosedLocked(s, ev.Close)
	case EventCredentialsUpdated:
		c.onCredentialsLocked(s, ev.Credentials)
	default:
		logger.Warn("unknown connection event", map[string]any{
			"user_id": s.userID,
			"kind":    int(ev.Kind),
		})
	}
}

// recoverEvent keeps a failing handler from taking the process down; the
// session is marked disconnected with the failure recorded.
func (c *Controller) recoverEvent(s *Session, conn Conn, ev Event, r any) {
	logger.Error("connection event handler panicked", map[string]any{
		"user_id": s.userID,
		"event":   ev.Kind.String(),
		"panic":   fmt.Sprint(r),
	})

	unlock := c.registry.Lock(s.userID)
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if !c.current(s, conn) {
		return
	}

	s.stopQRTimer()
	_ = s.conn.Close()
	s.conn = nil
	s.state = StateDisconnected
	s.lastError = newLastError(CodeInternal, fmt.Sprintf("event handler failed: %v", r))
	s.settle()
	s.touch()
	c.publishLocked(s)
}

func (c *Controller) onQRLocked(s *Session, code string) {
	s.state = StateAwaitingQR
	s.retryCount = 0

	payload, err := c.opts.EncodeQR(code)
	if err != nil {
		s.qr = ""
		s.lastError = newLastError(CodeInternal, "qr encoding failed: "+err.Error())
		logger.Error("qr encoding failed", map[string]any{
			"user_id": s.userID,
			"error":   err.Error(),
		})
	} else {
		s.qr = payload
	}

	s.stopQRTimer()
	s.qrTimer = s.schedule(c.opts.QRTimeout, func(token uint64) {
		c.qrExpired(s, token)
	})

	s.settle()
	s.touch()
	c.publishLocked(s)

	logger.Info("qr issued", map[string]any{
		"user_id":    s.userID,
		"generation": s.generation,
	})
}

func (c *Controller) onOpenedLocked(s *Session) {
	s.state = StateConnected
	s.qr = ""
	s.lastError = nil
	s.retryCount = 0
	s.stopQRTimer()
	s.stopReconnectTimer()

	s.settle()
	s.touch()
	c.publishLocked(s)

	logger.Info("session connected", map[string]any{
		"user_id":    s.userID,
		"generation": s.generation,
		"account":    s.account,
	})
}

func (c *Controller) onCredentialsLocked(s *Session, creds Credentials) {
	if creds.Account != "" {
		s.account = creds.Account
	}

	if creds.Name != "" {
		if err := c.creds.Save(s.userID, creds.Name, creds.Data); err != nil {
			logger.Error("credential save failed", map[string]any{
				"user_id": s.userID,
				"record":  creds.Name,
				"error":   err.Error(),
			})
		}
	}

	s.touch()
	c.publishLocked(s)
}

func (c *Controller) onClosedLocked(s *Session, reason CloseReason) {
	prev := s.state

	s.stopQRTimer()
	_ = s.conn.Close()
	s.conn = nil
	s.qr = ""
	s.lastError = newLastError(reason.Code, reason.Message)
	s.settle()

	fields := map[string]any{
		"user_id":     s.userID,
		"generation":  s.generation,
		"code":        reason.Code,
		"reason":      reason.Message,
		"was_open":    prev == StateConnected,
		"retry_count": s.retryCount,
	}

	switch {
	case reason.LoggedOut:
		logger.Warn("session logged out by server", fields)
		c.terminateLocked(s, StateLoggedOut, true)

	case prev == StateAwaitingQR && reason.Code == CodeQRTimeout:
		logger.Info("qr expired before scan", fields)
		c.terminateLocked(s, StateDisconnected, true)

	case s.retryCount >= c.opts.MaxRetries:
		// Credentials stay on disk; a later login may still reuse them.
		logger.Warn("reconnect attempts exhausted", fields)
		c.terminateLocked(s, StateLoggedOut, false)

	default:
		logger.Warn("session disconnected", fields)
		s.state = StateDisconnected
		c.scheduleReconnectLocked(s)
		s.touch()
		c.publishLocked(s)
	}
}

func (c *Controller) qrExpired(s *Session, token uint64) {
	unlock := c.registry.Lock(s.userID)
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.qrTimer == nil || s.qrTimer.token != token || c.registry.Get(s.userID) != s {
		return
	}
	s.qrTimer = nil

	logger.Info("qr scan timed out", map[string]any{
		"user_id":    s.userID,
		"generation": s.generation,
	})

	s.lastError = newLastError(CodeQRTimeout, "qr code was not scanned in time")
	c.terminateLocked(s, StateDisconnected, true)
}

func (c *Controller) scheduleReconnectLocked(s *Session) {
	s.stopReconnectTimer()
	s.retryCount++
	s.reconnectTimer = s.schedule(c.opts.ReconnectDelay, func(token uint64) {
		c.reconnect(s, token)
	})

	logger.Info("reconnect scheduled", map[string]any{
		"user_id":     s.userID,
		"retry_count": s.retryCount,
		"delay":       c.opts.ReconnectDelay.String(),
	})
}

func (c *Controller) reconnect(s *Session, token uint64) {
	unlock := c.registry.Lock(s.userID)
	defer unlock()

	s.mu.Lock()
	if s.reconnectTimer == nil || s.reconnectTimer.token != token || c.registry.Get(s.userID) != s {
		s.mu.Unlock()
		return
	}
	s.reconnectTimer = nil
	attempt := s.retryCount
	s.mu.Unlock()

	// Events and timers of this user are held off by the user lock, so
	// the session cannot change underneath the setup below.
	if attempt >= c.opts.WipeThreshold {
		logger.Warn("wiping credentials before reconnect", map[string]any{
			"user_id":     s.userID,
			"retry_count": attempt,
		})
		if err := c.creds.Wipe(s.userID); err != nil {
			logger.Error("credential wipe before reconnect failed", map[string]any{
				"user_id": s.userID,
				"error":   err.Error(),
			})
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), reconnectSetupTimeout)
	defer cancel()

	var conn Conn
	dir, err := c.creds.Load(s.userID)
	if err == nil {
		conn, err = c.connector.Connect(ctx, s.userID, dir)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		logger.Error("reconnect failed", map[string]any{
			"user_id":     s.userID,
			"retry_count": attempt,
			"error":       err.Error(),
		})
		s.lastError = newLastError(CodeConnectFailure, err.Error())
		if s.retryCount >= c.opts.MaxRetries {
			c.terminateLocked(s, StateLoggedOut, false)
			return
		}
		c.scheduleReconnectLocked(s)
		s.touch()
		c.publishLocked(s)
		return
	}

	c.attachLocked(s, conn)

	logger.Info("session reconnecting", map[string]any{
		"user_id":     s.userID,
		"generation":  s.generation,
		"retry_count": attempt,
	})
}

// terminateLocked cancels timers, closes the handle and unregisters the
// session, optionally wiping credentials. Caller holds the user lock and
// s.mu.
func (c *Controller) terminateLocked(s *Session, final State, wipe bool) {
	s.stopQRTimer()
	s.stopReconnectTimer()
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	s.state = final
	s.qr = ""
	s.settle()
	s.touch()

	c.registry.removeIf(s.userID, s)
	c.mirror.publish(mirrorOp{snap: s.snapshotLocked(), delete: true})

	if wipe {
		if err := c.creds.Wipe(s.userID); err != nil {
			logger.Error("credential wipe failed", map[string]any{
				"user_id": s.userID,
				"error":   err.Error(),
			})
		}
	}

	logger.Info("session removed", map[string]any{
		"user_id": s.userID,
		"state":   final.String(),
		"wiped":   wipe,
	})
}

func (c *Controller) publishLocked(s *Session) {
	c.mirror.publish(mirrorOp{snap: s.snapshotLocked()})
}
