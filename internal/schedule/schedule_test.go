package schedule

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestBackoffDelay(t *testing.T) {
	b := Backoff{Base: time.Second, Max: 30 * time.Second}

	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{-1, time.Second},
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second},
		{60, 30 * time.Second},
	}

	for _, tc := range tests {
		if got := b.Delay(tc.attempt); got != tc.expected {
			t.Errorf("Delay(%d): expected %v, got %v", tc.attempt, tc.expected, got)
		}
	}
}

func TestDebouncerCoalescesBursts(t *testing.T) {
	var calls atomic.Int32
	d := NewDebouncer(30*time.Millisecond, func() { calls.Add(1) })
	defer d.Stop()

	for i := 0; i < 5; i++ {
		d.Trigger()
		time.Sleep(5 * time.Millisecond)
	}

	assert.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
}

func TestDebouncerFlush(t *testing.T) {
	var calls atomic.Int32
	d := NewDebouncer(time.Hour, func() { calls.Add(1) })
	defer d.Stop()

	assert.False(t, d.Flush())
	d.Trigger()
	assert.True(t, d.Pending())
	assert.True(t, d.Flush())
	assert.False(t, d.Pending())
	assert.Equal(t, int32(1), calls.Load())
}

func TestDebouncerStopCancelsPending(t *testing.T) {
	var calls atomic.Int32
	d := NewDebouncer(10*time.Millisecond, func() { calls.Add(1) })
	d.Trigger()
	d.Stop()
	d.Trigger()

	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, int32(0), calls.Load())
}

func TestKeyedDebouncesPerKey(t *testing.T) {
	seen := make(chan string, 4)
	k := NewKeyed(20*time.Millisecond, func(key string) { seen <- key })
	defer k.Stop()

	k.Trigger("a")
	k.Trigger("b")
	k.Trigger("a")

	got := map[string]int{}
	for i := 0; i < 2; i++ {
		select {
		case key := <-seen:
			got[key]++
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for debounced keys")
		}
	}
	assert.Equal(t, map[string]int{"a": 1, "b": 1}, got)
}

func TestKeyedFlushRunsPendingKeys(t *testing.T) {
	var calls atomic.Int32
	k := NewKeyed(time.Hour, func(string) { calls.Add(1) })
	defer k.Stop()

	k.Trigger("a")
	k.Trigger("b")

	assert.Equal(t, 2, k.Flush())
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, 0, k.Flush())
}
