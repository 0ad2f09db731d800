package db

import (
	"context"
)

const relayMigration = `
CREATE EXTENSION IF NOT EXISTS "pgcrypto";

CREATE TABLE IF NOT EXISTS relayed_messages (
    id uuid PRIMARY KEY DEFAULT gen_random_uuid(),
    user_id text NOT NULL,
    recipient text NOT NULL,
    message_id text NOT NULL,
    sent_at timestamptz NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS relayed_messages_user_sent_idx
ON relayed_messages (user_id, sent_at DESC);
`

func RunRelayMigration(ctx context.Context, db *DB) error {
	_, err := db.ExecContext(ctx, relayMigration)
	return err
}
