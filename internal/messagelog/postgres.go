package messagelog

import (
	"context"
	"time"

	"github.com/samber/oops"

	"wa-relay/internal/db"
	"wa-relay/internal/session"
)

// PostgresLog keeps an audit row per relayed message. Message bodies are
// not stored.
type PostgresLog struct {
	db *db.DB
}

func NewPostgresLog(db *db.DB) *PostgresLog {
	return &PostgresLog{db: db}
}

func (l *PostgresLog) Record(ctx context.Context, m session.SentMessage) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO relayed_messages (user_id, recipient, message_id, sent_at)
		VALUES ($1, $2, $3, $4)
	`, m.UserID, m.Recipient, m.MessageID, m.SentAt)

	if err != nil {
		return oops.
			In("messagelog").
			With("user_id", m.UserID, "message_id", m.MessageID).
			Wrapf(err, "insert relayed message")
	}
	return nil
}

type Entry struct {
	Recipient string
	MessageID string
	SentAt    time.Time
}

// Recent returns the user's latest relayed messages, newest first.
func (l *PostgresLog) Recent(ctx context.Context, userID string, limit int) ([]Entry, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT recipient, message_id, sent_at
		FROM relayed_messages
		WHERE user_id = $1
		ORDER BY sent_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, oops.In("messagelog").With("user_id", userID).Wrapf(err, "query relayed messages")
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Recipient, &e.MessageID, &e.SentAt); err != nil {
			return nil, oops.In("messagelog").With("user_id", userID).Wrapf(err, "scan relayed message")
		}
		out = append(out, e)
	}

	return out, rows.Err()
}
