package neo4j

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fitz/tasksync/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRetryOptionsMatchStorage(t *testing.T) {
	assert.Equal(t, storage.DefaultRetryOptions(), DefaultRetryOptions())
}

func TestCalculateBackoff(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 500 * time.Millisecond},
		{20, 500 * time.Millisecond},
	}
	for _, tt := range tests {
		got := calculateBackoff(tt.attempt, 100*time.Millisecond, 500*time.Millisecond)
		if got != tt.want {
			t.Errorf("calculateBackoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestRetryWithBackoff(t *testing.T) {
	errDial := errors.New("connection refused")
	opts := RetryOptions{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}

	tests := []struct {
		name         string
		failures     int
		wantAttempts int
		wantErr      bool
	}{
		{"first dial succeeds", 0, 1, false},
		{"container still starting", 2, 3, false},
		{"never comes up", 10, 3, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attempts := 0
			err := retryWithBackoff(context.Background(), opts, func() error {
				attempts++
				if attempts <= tt.failures {
					return errDial
				}
				return nil
			})

			assert.Equal(t, tt.wantAttempts, attempts)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, errDial)
				assert.Contains(t, err.Error(), "failed after 3 attempts")
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRetryWithBackoffStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0

	err := retryWithBackoff(ctx, RetryOptions{MaxAttempts: 10, InitialDelay: time.Hour, MaxDelay: time.Hour}, func() error {
		attempts++
		cancel()
		return errors.New("unreachable")
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
}

func TestNewClientWithRetryUnreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := NewClientWithRetry(ctx, Config{
		URI:      "bolt://127.0.0.1:1",
		Username: "neo4j",
		Password: "password",
		Database: "neo4j",
	}, &RetryOptions{MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed after 2 attempts")
}

func TestConfigFromEnv(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		for _, key := range []string{"NEO4J_URI", "NEO4J_USERNAME", "NEO4J_PASSWORD", "NEO4J_DATABASE"} {
			t.Setenv(key, "")
		}
		assert.Equal(t, Config{
			URI:      "bolt://localhost:7687",
			Username: "neo4j",
			Password: "password",
			Database: "neo4j",
		}, ConfigFromEnv())
	})

	t.Run("overrides", func(t *testing.T) {
		t.Setenv("NEO4J_URI", "bolt://graph:7687")
		t.Setenv("NEO4J_DATABASE", "tasksync")

		cfg := ConfigFromEnv()
		assert.Equal(t, "bolt://graph:7687", cfg.URI)
		assert.Equal(t, "tasksync", cfg.Database)
	})
}
