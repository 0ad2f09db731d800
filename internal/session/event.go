package session

import (
	"context"
	"time"
)

// Close codes recorded in LastError. They follow the numbering chat
// clients commonly use for disconnect reasons.
const (
	CodeLoggedOut          = 401
	CodeBanned             = 403
	CodeQRTimeout          = 408
	CodeConnectionClosed   = 428
	CodeConnectionReplaced = 440
	CodeInternal           = 500
	CodeConnectFailure     = 503
)

type EventKind int

const (
	EventQRIssued EventKind = iota + 1
	EventOpened
	EventClosed
	EventCredentialsUpdated
)

func (k EventKind) String() string {
	switch k {
	case EventQRIssued:
		return "qr_issued"
	case EventOpened:
		return "opened"
	case EventClosed:
		return "closed"
	case EventCredentialsUpdated:
		return "credentials_updated"
	default:
		return "unknown"
	}
}

// Event is one entry of a connection's event stream. Exactly one of the
// payload fields matches Kind.
type Event struct {
	Kind        EventKind
	QR          string
	Close       CloseReason
	Credentials Credentials
}

type CloseReason struct {
	Code      int
	Message   string
	LoggedOut bool
}

// Credentials carries material the connector wants persisted. Name and
// Data form one record in the user's credential directory; Account is
// the paired address once known.
type Credentials struct {
	Account string
	Name    string
	Data    []byte
}

func QRIssued(code string) Event {
	return Event{Kind: EventQRIssued, QR: code}
}

func Opened() Event {
	return Event{Kind: EventOpened}
}

func Closed(reason CloseReason) Event {
	return Event{Kind: EventClosed, Close: reason}
}

func CredentialsUpdated(c Credentials) Event {
	return Event{Kind: EventCredentialsUpdated, Credentials: c}
}

type SendResult struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
}

// Conn is one live protocol connection. Events are delivered in order on
// Events until Done is closed; Close is idempotent and closes Done.
type Conn interface {
	Events() <-chan Event
	Done() <-chan struct{}
	Send(ctx context.Context, to string, text string) (SendResult, error)
	Logout(ctx context.Context) error
	Close() error
}

// Connector opens connections. ctx bounds only the setup work; the
// returned Conn lives until closed.
type Connector interface {
	Connect(ctx context.Context, userID string, dir string) (Conn, error)
}
