package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/fitz/tasksync/internal/models"
	"github.com/fitz/tasksync/internal/schedule"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
	)
}

// fakeConn delivers events pushed by the test and records writes.
type fakeConn struct {
	in     chan Event
	errs   chan error
	mu     sync.Mutex
	writes []Event
	closed chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan Event, 8), errs: make(chan error, 1), closed: make(chan struct{})}
}

func (c *fakeConn) ReadEvent() (Event, error) {
	select {
	case ev := <-c.in:
		return ev, nil
	case err := <-c.errs:
		return Event{}, err
	case <-c.closed:
		return Event{}, io.EOF
	}
}

func (c *fakeConn) WriteEvent(ev Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, ev)
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) Writes() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Event(nil), c.writes...)
}

// fakeDialer hands out scripted results in order; once exhausted it
// fails every dial.
type fakeDialer struct {
	mu      sync.Mutex
	results []any // *fakeConn or error
	dials   []time.Time
}

func (d *fakeDialer) Dial(context.Context) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials = append(d.dials, time.Now())
	if len(d.results) == 0 {
		return nil, errors.New("connection refused")
	}
	r := d.results[0]
	d.results = d.results[1:]
	if err, ok := r.(error); ok {
		return nil, err
	}
	return r.(*fakeConn), nil
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.dials)
}

func syncEvent(t *testing.T, typ SyncType, id, user string) Event {
	t.Helper()
	data, err := json.Marshal(TaskSync{Type: typ, Task: models.Task{ID: id}, UserID: user})
	require.NoError(t, err)
	return Event{Event: EventTaskSync, Data: data}
}

func fastConfig(d Dialer) Config {
	return Config{
		Dialer:         d,
		Backoff:        schedule.Backoff{Base: time.Millisecond, Max: 4 * time.Millisecond},
		Cooldown:       time.Hour,
		ConnectTimeout: time.Second,
	}
}

func TestConnectJoinsProjectThenSignals(t *testing.T) {
	conn := newFakeConn()
	d := &fakeDialer{results: []any{conn}}
	connected := make(chan struct{}, 1)
	cfg := fastConfig(d)
	cfg.OnConnected = func() {
		// the join must already be on the wire
		if len(conn.Writes()) == 1 {
			connected <- struct{}{}
		}
	}
	ch := New(cfg)
	require.NoError(t, ch.SetProject("p1"))

	ch.Connect(context.Background())
	defer ch.Disconnect()

	select {
	case <-connected:
	case <-time.After(2 * time.Second):
		t.Fatal("expected connected hook after join")
	}
	assert.Equal(t, StateConnected, ch.State())
	w := conn.Writes()
	require.Len(t, w, 1)
	assert.Equal(t, EventJoinProject, w[0].Event)
	assert.JSONEq(t, `{"projectId":"p1"}`, string(w[0].Data))

	require.NoError(t, ch.SetProject("p2"))
	assert.Len(t, conn.Writes(), 2)
	require.NoError(t, ch.SetProject("p2"))
	assert.Len(t, conn.Writes(), 2, "same project does not re-join")
}

func TestSelfEchoIsDiscarded(t *testing.T) {
	conn := newFakeConn()
	d := &fakeDialer{results: []any{conn}}
	got := make(chan TaskSync, 4)
	cfg := fastConfig(d)
	cfg.Actor = "me"
	cfg.OnEvent = func(ts TaskSync) { got <- ts }
	ch := New(cfg)
	ch.Connect(context.Background())
	defer ch.Disconnect()

	conn.in <- syncEvent(t, SyncUpdated, "mine", "me")
	conn.in <- Event{Event: "presence"}
	conn.in <- Event{Event: EventTaskSync, Data: json.RawMessage(`{bad`)}
	conn.in <- syncEvent(t, SyncDeleted, "theirs", "other")

	select {
	case ts := <-got:
		assert.Equal(t, "theirs", ts.Task.ID)
		assert.Equal(t, SyncDeleted, ts.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("expected remote event")
	}
	assert.Empty(t, got)
}

func TestReconnectsAfterRemoteDisconnect(t *testing.T) {
	first, second := newFakeConn(), newFakeConn()
	d := &fakeDialer{results: []any{first, second}}
	var mu sync.Mutex
	connects := 0
	cfg := fastConfig(d)
	cfg.OnConnected = func() {
		mu.Lock()
		connects++
		mu.Unlock()
	}
	ch := New(cfg)
	ch.Connect(context.Background())
	defer ch.Disconnect()

	require.Eventually(t, ch.Connected, 2*time.Second, time.Millisecond)
	first.errs <- io.ErrUnexpectedEOF

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return connects == 2
	}, 2*time.Second, time.Millisecond)
	assert.Equal(t, 2, d.count())
}

func TestLocalDisconnectDoesNotReconnect(t *testing.T) {
	conn := newFakeConn()
	d := &fakeDialer{results: []any{conn}}
	ch := New(fastConfig(d))
	ch.Connect(context.Background())
	require.Eventually(t, ch.Connected, 2*time.Second, time.Millisecond)

	ch.Disconnect()

	assert.Equal(t, StateDisconnected, ch.State())
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, d.count())
}

func TestBackoffThenCooldown(t *testing.T) {
	refused := errors.New("connection refused")
	d := &fakeDialer{results: []any{refused, refused, refused, refused, newFakeConn()}}
	states := make(chan State, 64)
	cfg := fastConfig(d)
	cfg.OnStateChange = func(s State) { states <- s }
	ch := New(cfg)
	ch.Connect(context.Background())
	defer ch.Disconnect()

	// initial dial plus three backoff retries, then the cooldown wait
	require.Eventually(t, func() bool { return d.count() == 4 }, 2*time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 4, d.count(), "no dials during cooldown")
	assert.Equal(t, StateDisconnected, ch.State())

	// a manual reconnect starts a fresh cycle; the first dial now succeeds
	ch.Reconnect()
	require.Eventually(t, ch.Connected, 2*time.Second, time.Millisecond)
	assert.Equal(t, 5, d.count())
}

func TestAuthRejectionIsFatal(t *testing.T) {
	tests := []struct {
		name    string
		results func() []any
		trigger func(conn *fakeConn)
	}{
		{
			name:    "handshake",
			results: func() []any { return []any{fmt.Errorf("%w: handshake status 401", ErrAuthRejected)} },
		},
		{
			name:    "close code",
			results: func() []any { return []any{newFakeConn()} },
			trigger: func(conn *fakeConn) { conn.errs <- fmt.Errorf("%w: token expired", ErrAuthRejected) },
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			results := tc.results()
			d := &fakeDialer{results: results}
			failed := make(chan error, 1)
			cfg := fastConfig(d)
			cfg.OnAuthFailed = func(err error) { failed <- err }
			ch := New(cfg)
			ch.Connect(context.Background())
			defer ch.Disconnect()

			if tc.trigger != nil {
				require.Eventually(t, ch.Connected, 2*time.Second, time.Millisecond)
				tc.trigger(results[0].(*fakeConn))
			}

			select {
			case err := <-failed:
				assert.ErrorIs(t, err, ErrAuthRejected)
			case <-time.After(2 * time.Second):
				t.Fatal("expected auth failure")
			}
			require.Eventually(t, func() bool { return ch.State() == StateAuthFailed }, time.Second, time.Millisecond)
			assert.ErrorIs(t, ch.AuthError(), ErrAuthRejected)

			dials := d.count()
			ch.Reconnect()
			time.Sleep(20 * time.Millisecond)
			assert.Equal(t, dials, d.count(), "auth failures are not retried")
		})
	}
}

func TestWebSocketURL(t *testing.T) {
	tests := []struct {
		in, want string
		wantErr  bool
	}{
		{"http://localhost:3000", "ws://localhost:3000/socket", false},
		{"https://api.example.com/v1/", "wss://api.example.com/v1/socket", false},
		{"ftp://x", "", true},
	}
	for _, tc := range tests {
		got, err := WebSocketURL(tc.in, "/socket")
		if (err != nil) != tc.wantErr {
			t.Errorf("%s: expected error=%v, got %v", tc.in, tc.wantErr, err)
			continue
		}
		if got != tc.want {
			t.Errorf("%s: expected %s, got %s", tc.in, tc.want, got)
		}
	}
}
