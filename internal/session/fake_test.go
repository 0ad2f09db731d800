package session

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"wa-relay/internal/credentials"
)

type sentCall struct {
	To   string
	Text string
}

type fakeConn struct {
	events    chan Event
	done      chan struct{}
	closeOnce sync.Once

	mu        sync.Mutex
	sent      []sentCall
	sendErr   error
	loggedOut bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		events: make(chan Event, 16),
		done:   make(chan struct{}),
	}
}

func (f *fakeConn) Events() <-chan Event  { return f.events }
func (f *fakeConn) Done() <-chan struct{} { return f.done }

func (f *fakeConn) Send(ctx context.Context, to, text string) (SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return SendResult{}, f.sendErr
	}
	f.sent = append(f.sent, sentCall{To: to, Text: text})
	return SendResult{ID: fmt.Sprintf("msg-%d", len(f.sent)), Timestamp: time.Now()}, nil
}

func (f *fakeConn) Logout(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loggedOut = true
	return nil
}

func (f *fakeConn) Close() error {
	f.closeOnce.Do(func() { close(f.done) })
	return nil
}

func (f *fakeConn) closed() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

func (f *fakeConn) sentCalls() []sentCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentCall(nil), f.sent...)
}

func (f *fakeConn) setSendErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendErr = err
}

func (f *fakeConn) didLogout() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loggedOut
}

func (f *fakeConn) emit(ev Event) {
	f.events <- ev
}

type fakeConnector struct {
	mu        sync.Mutex
	conns     []*fakeConn
	err       error
	autoQR    string
	onConnect func(userID, dir string)
}

func (f *fakeConnector) Connect(ctx context.Context, userID, dir string) (Conn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.onConnect != nil {
		f.onConnect(userID, dir)
	}
	if f.err != nil {
		return nil, f.err
	}

	c := newFakeConn()
	if f.autoQR != "" {
		c.events <- QRIssued(f.autoQR)
	}
	f.conns = append(f.conns, c)
	return c, nil
}

func (f *fakeConnector) setAutoQR(code string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.autoQR = code
}

func (f *fakeConnector) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeConnector) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.conns)
}

func (f *fakeConnector) conn(i int) *fakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conns[i]
}

func (f *fakeConnector) last() *fakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conns[len(f.conns)-1]
}

type fakeMessageLog struct {
	mu      sync.Mutex
	entries []SentMessage
}

func (f *fakeMessageLog) Record(ctx context.Context, m SentMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, m)
	return nil
}

func (f *fakeMessageLog) all() []SentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]SentMessage(nil), f.entries...)
}

type fakeMirror struct {
	mu      sync.Mutex
	saved   []Snapshot
	deleted []string
}

func (f *fakeMirror) Save(ctx context.Context, snap Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, snap)
	return nil
}

func (f *fakeMirror) Delete(ctx context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, userID)
	return nil
}

func (f *fakeMirror) lastSaved() (Snapshot, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.saved) == 0 {
		return Snapshot{}, false
	}
	return f.saved[len(f.saved)-1], true
}

func (f *fakeMirror) deletedUsers() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...)
}

var errBoom = errors.New("boom")

type testEnv struct {
	ctrl      *Controller
	connector *fakeConnector
	creds     *credentials.Store
	fs        afero.Fs
	messages  *fakeMessageLog
}

func testOptions() Options {
	return Options{
		QRTimeout:      time.Minute,
		ReconnectDelay: 10 * time.Millisecond,
		MaxRetries:     3,
		WipeThreshold:  10,
		LoginWait:      time.Second,
		EncodeQR: func(code string) (string, error) {
			return "data:" + code, nil
		},
	}
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()

	connector := &fakeConnector{autoQR: "qr-code"}
	fs := afero.NewMemMapFs()
	creds := credentials.NewStore(fs, "/sessions")
	messages := &fakeMessageLog{}
	if opts.Messages == nil {
		opts.Messages = messages
	}

	ctrl := NewController(NewRegistry(), creds, connector, opts)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = ctrl.Shutdown(ctx)
	})

	return &testEnv{
		ctrl:      ctrl,
		connector: connector,
		creds:     creds,
		fs:        fs,
		messages:  messages,
	}
}

// readRecord returns a stored credential record of userID.
func (e *testEnv) readRecord(userID, name string) ([]byte, error) {
	return afero.ReadFile(e.fs, filepath.Join("/sessions", userID, name))
}

// credsEmpty reports whether userID has no stored records.
func (e *testEnv) credsEmpty(t *testing.T, userID string) bool {
	t.Helper()
	dir := filepath.Join("/sessions", userID)
	ok, err := afero.DirExists(e.fs, dir)
	require.NoError(t, err)
	if !ok {
		return true
	}
	empty, err := afero.IsEmpty(e.fs, dir)
	require.NoError(t, err)
	return empty
}

func (e *testEnv) status(t *testing.T, userID string) Snapshot {
	t.Helper()
	snap, err := e.ctrl.Status(userID)
	require.NoError(t, err)
	return snap
}

func (e *testEnv) waitState(t *testing.T, userID string, want State) {
	t.Helper()
	require.Eventually(t, func() bool {
		s := e.ctrl.registry.Get(userID)
		return s != nil && s.Snapshot().State == want
	}, 2*time.Second, 5*time.Millisecond, "waiting for %s", want)
}

func (e *testEnv) waitRemoved(t *testing.T, userID string) {
	t.Helper()
	require.Eventually(t, func() bool {
		return e.ctrl.registry.Get(userID) == nil
	}, 2*time.Second, 5*time.Millisecond, "waiting for %s to be removed", userID)
}

// connect logs userID in and drives the session to Connected.
func (e *testEnv) connect(t *testing.T, userID string) *fakeConn {
	t.Helper()
	_, err := e.ctrl.Login(context.Background(), userID, false)
	require.NoError(t, err)
	conn := e.connector.last()
	conn.emit(Opened())
	e.waitState(t, userID, StateConnected)
	return conn
}
