package whatsapp

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/samber/oops"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store/sqlstore"
	waLog "go.mau.fi/whatsmeow/util/log"
	_ "modernc.org/sqlite"

	"wa-relay/internal/logger"
	"wa-relay/internal/session"
)

// deviceDB is the SQLite file holding a user's device keys inside their
// credential directory.
const deviceDB = "device.db"

// Connector opens whatsmeow clients backed by a per-user SQLite device
// store, so wiping the user's directory forgets the pairing.
type Connector struct {
	log zerolog.Logger
}

func NewConnector(log zerolog.Logger) *Connector {
	return &Connector{log: log.With().Str("component", "whatsmeow").Logger()}
}

func deviceDSN(dir string) string {
	return fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", filepath.Join(dir, deviceDB))
}

func (c *Connector) Connect(ctx context.Context, userID string, dir string) (session.Conn, error) {
	errb := oops.In("whatsapp").With("user_id", userID)
	log := waLog.Zerolog(c.log.With().Str("user_id", userID).Logger())

	container, err := sqlstore.New(ctx, "sqlite", deviceDSN(dir), log.Sub("store"))
	if err != nil {
		return nil, errb.Wrapf(err, "open device store")
	}

	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		_ = container.Close()
		return nil, errb.Wrapf(err, "load device")
	}

	client := whatsmeow.NewClient(device, log.Sub("client"))
	// Reconnects are driven by the session lifecycle.
	client.EnableAutoReconnect = false

	conn := newConn(userID, client, container)
	client.AddEventHandler(conn.onEvent)

	paired := client.Store.ID != nil
	if !paired {
		qrCh, err := client.GetQRChannel(conn.ctx)
		if err != nil {
			_ = conn.Close()
			return nil, errb.Wrapf(err, "open qr channel")
		}
		go conn.pumpQR(qrCh)
	}

	if err := client.Connect(); err != nil {
		_ = conn.Close()
		return nil, errb.Wrapf(err, "connect")
	}

	logger.Debug("whatsapp client connecting", map[string]any{
		"user_id": userID,
		"paired":  paired,
	})

	return conn, nil
}
