package session

import (
	"context"
	"time"
)

// CredentialStore persists per-user authentication material.
type CredentialStore interface {
	Load(userID string) (dir string, err error)
	Wipe(userID string) error
	Save(userID, name string, data []byte) error
}

// Mirror receives every snapshot change so session state is visible
// outside this process. Implementations (e.g., Redis) must tolerate
// being written from one goroutine in event order.
type Mirror interface {
	Save(ctx context.Context, snap Snapshot) error
	Delete(ctx context.Context, userID string) error
}

type SentMessage struct {
	UserID    string
	Recipient string
	MessageID string
	Text      string
	SentAt    time.Time
}

// MessageLog records messages relayed through a session.
type MessageLog interface {
	Record(ctx context.Context, m SentMessage) error
}
