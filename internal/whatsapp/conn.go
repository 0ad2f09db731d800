package whatsapp

import (
	"context"
	"sync"

	"github.com/samber/oops"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"

	"wa-relay/internal/logger"
	"wa-relay/internal/session"
)

const eventBuffer = 32

// conn adapts one whatsmeow client to session.Conn. It owns the client
// and its device store and releases both on Close.
type conn struct {
	userID    string
	client    *whatsmeow.Client
	container *sqlstore.Container

	ctx    context.Context
	cancel context.CancelFunc

	events    chan session.Event
	done      chan struct{}
	closeOnce sync.Once
}

func newConn(userID string, client *whatsmeow.Client, container *sqlstore.Container) *conn {
	ctx, cancel := context.WithCancel(context.Background())
	return &conn{
		userID:    userID,
		client:    client,
		container: container,
		ctx:       ctx,
		cancel:    cancel,
		events:    make(chan session.Event, eventBuffer),
		done:      make(chan struct{}),
	}
}

func (c *conn) Events() <-chan session.Event { return c.events }
func (c *conn) Done() <-chan struct{}        { return c.done }

// emit blocks until the event is consumed or the conn is closed.
func (c *conn) emit(ev session.Event) {
	select {
	case <-c.done:
		return
	default:
	}

	select {
	case c.events <- ev:
	case <-c.done:
	}
}

// onEvent is registered as the client's event handler.
func (c *conn) onEvent(evt any) {
	ev, ok := translate(evt)
	if !ok {
		return
	}
	c.emit(ev)

	// A device paired earlier reports its account only through the store.
	if _, connected := evt.(*events.Connected); connected && c.client.Store.ID != nil {
		c.emit(session.CredentialsUpdated(session.Credentials{
			Account: c.client.Store.ID.ToNonAD().String(),
		}))
	}
}

func (c *conn) pumpQR(ch <-chan whatsmeow.QRChannelItem) {
	for item := range ch {
		if ev, ok := translateQR(item); ok {
			c.emit(ev)
		}
	}
}

func (c *conn) Send(ctx context.Context, to string, text string) (session.SendResult, error) {
	jid, err := types.ParseJID(to)
	if err != nil {
		return session.SendResult{}, oops.
			In("whatsapp").
			With("recipient", to).
			Wrapf(err, "parse recipient")
	}

	resp, err := c.client.SendMessage(ctx, jid, &waE2E.Message{
		Conversation: proto.String(text),
	})
	if err != nil {
		return session.SendResult{}, oops.
			In("whatsapp").
			With("user_id", c.userID, "recipient", to).
			Wrapf(err, "send message")
	}

	return session.SendResult{ID: resp.ID, Timestamp: resp.Timestamp}, nil
}

func (c *conn) Logout(ctx context.Context) error {
	if err := c.client.Logout(ctx); err != nil {
		return oops.
			In("whatsapp").
			With("user_id", c.userID).
			Wrapf(err, "logout")
	}
	return nil
}

func (c *conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.cancel()
		c.client.Disconnect()
		if cerr := c.container.Close(); cerr != nil {
			logger.Warn("device store close failed", map[string]any{
				"user_id": c.userID,
				"error":   cerr.Error(),
			})
			err = cerr
		}
	})
	return err
}
