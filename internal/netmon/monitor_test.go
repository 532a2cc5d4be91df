package netmon

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fitz/tasksync/internal/api"
	"github.com/fitz/tasksync/internal/testutil"
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

// scripted returns queued results, then nil.
type scripted struct {
	mu      sync.Mutex
	results []error
}

func (s *scripted) Health(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.results) == 0 {
		return nil
	}
	err := s.results[0]
	s.results = s.results[1:]
	return err
}

func TestOfflineAfterThreeFailures(t *testing.T) {
	down := errors.New("down")
	p := &scripted{results: []error{down, down, down, nil}}
	var offline, online int
	m := New(p, Config{OnOffline: func() { offline++ }, OnOnline: func() { online++ }})
	ctx := context.Background()

	assert.True(t, m.Check(ctx))
	assert.True(t, m.Check(ctx))
	assert.Equal(t, 0, offline)
	assert.False(t, m.Check(ctx))
	assert.Equal(t, 1, offline)
	assert.Equal(t, 3, m.Status().Failures)

	assert.True(t, m.Check(ctx), "first success goes online")
	assert.Equal(t, 1, online)
	assert.Equal(t, 0, m.Status().Failures)
}

func TestSingleFailureDoesNotFlap(t *testing.T) {
	down := errors.New("down")
	p := &scripted{results: []error{down, nil, down, nil}}
	var offline int
	m := New(p, Config{OnOffline: func() { offline++ }})

	for i := 0; i < 4; i++ {
		assert.True(t, m.Check(context.Background()))
	}
	assert.Equal(t, 0, offline)
}

func TestProbeTimeout(t *testing.T) {
	p := ProberFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	m := New(p, Config{Timeout: 10 * time.Millisecond, FailureThreshold: 1})

	start := time.Now()
	assert.False(t, m.Check(context.Background()))
	assert.Less(t, time.Since(start), time.Second)
	assert.Contains(t, m.Status().LastError, "deadline")
}

func TestLoopAgainstServer(t *testing.T) {
	srv := testutil.NewServer()
	defer srv.Close()
	client, err := api.New(api.Config{BaseURL: srv.URL})
	require.NoError(t, err)

	var onlineCalls, offlineCalls atomic.Int32
	m := New(client, Config{
		Interval:         5 * time.Millisecond,
		FailureThreshold: 2,
		OnOnline:         func() { onlineCalls.Add(1) },
		OnOffline:        func() { offlineCalls.Add(1) },
	})
	m.Start(context.Background())
	defer m.Stop()

	srv.SetHealthy(false)
	assert.Eventually(t, func() bool { return !m.Online() }, 2*time.Second, 5*time.Millisecond)
	srv.SetHealthy(true)
	assert.Eventually(t, m.Online, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, int32(1), offlineCalls.Load())
	assert.GreaterOrEqual(t, onlineCalls.Load(), int32(1))
}

func TestStopIsIdempotent(t *testing.T) {
	m := New(&scripted{}, Config{Interval: time.Hour})
	m.Start(context.Background())
	m.Stop()
	m.Stop()
}
