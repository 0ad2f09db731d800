package session

import (
	"context"
	"sync"
	"time"

	"wa-relay/internal/logger"
)

const (
	mirrorQueueSize = 256
	mirrorTimeout   = 2 * time.Second
)

type mirrorOp struct {
	snap   Snapshot
	delete bool
}

// mirrorPublisher forwards snapshot changes to a Mirror from a single
// goroutine so writes land in the order transitions happened.
type mirrorPublisher struct {
	m Mirror

	mu     sync.Mutex
	closed bool
	ops    chan mirrorOp
	done   chan struct{}
}

func newMirrorPublisher(m Mirror) *mirrorPublisher {
	p := &mirrorPublisher{
		m:    m,
		ops:  make(chan mirrorOp, mirrorQueueSize),
		done: make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *mirrorPublisher) publish(op mirrorOp) {
	if p == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}

	select {
	case p.ops <- op:
	default:
		logger.Warn("snapshot mirror queue full, dropping update", map[string]any{
			"user_id": op.snap.UserID,
		})
	}
}

func (p *mirrorPublisher) run() {
	defer close(p.done)

	for op := range p.ops {
		ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)

		var err error
		if op.delete {
			err = p.m.Delete(ctx, op.snap.UserID)
		} else {
			err = p.m.Save(ctx, op.snap)
		}
		cancel()

		if err != nil {
			logger.Error("snapshot mirror write failed", map[string]any{
				"user_id": op.snap.UserID,
				"delete":  op.delete,
				"error":   err.Error(),
			})
		}
	}
}

// close drains queued writes until ctx expires.
func (p *mirrorPublisher) close(ctx context.Context) error {
	if p == nil {
		return nil
	}

	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.ops)
	}
	p.mu.Unlock()

	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
