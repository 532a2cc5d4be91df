// Package netmon derives a connectivity signal by probing the server.
package netmon

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	DefaultInterval         = 30 * time.Second
	DefaultTimeout          = 5 * time.Second
	DefaultFailureThreshold = 3
)

// Prober checks server reachability. api.Client satisfies it.
type Prober interface {
	Health(ctx context.Context) error
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context) error

// Health calls f.
func (f ProberFunc) Health(ctx context.Context) error { return f(ctx) }

// Config configures a Monitor.
type Config struct {
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold int
	Logger           *slog.Logger
	// OnOnline runs on every offline to online transition.
	OnOnline func()
	// OnOffline runs on every online to offline transition.
	OnOffline func()
}

// Monitor probes on a fixed interval. It starts optimistic: online until
// FailureThreshold consecutive probes fail.
type Monitor struct {
	cfg    Config
	prober Prober
	logger *slog.Logger

	mu       sync.Mutex
	online   bool
	failures int
	lastErr  error
	lastAt   time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Monitor.
func New(prober Prober, cfg Config) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultFailureThreshold
	}
	m := &Monitor{cfg: cfg, prober: prober, logger: cfg.Logger, online: true}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	return m
}

// Online reports the current connectivity signal.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Status describes the last probe.
type Status struct {
	Online    bool      `json:"online"`
	Failures  int       `json:"consecutiveFailures"`
	LastError string    `json:"lastError,omitempty"`
	LastProbe time.Time `json:"lastProbe"`
}

// Status returns a snapshot of the monitor state.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Status{Online: m.online, Failures: m.failures, LastProbe: m.lastAt}
	if m.lastErr != nil {
		s.LastError = m.lastErr.Error()
	}
	return s
}

// Check probes once with the configured timeout, applies the transition
// rules and returns the resulting signal.
func (m *Monitor) Check(ctx context.Context) bool {
	pctx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	err := m.prober.Health(pctx)
	cancel()
	if ctx.Err() != nil {
		return m.Online()
	}

	m.mu.Lock()
	m.lastAt = time.Now()
	m.lastErr = err
	var transition func()
	if err == nil {
		m.failures = 0
		if !m.online {
			m.online = true
			transition = m.cfg.OnOnline
			m.logger.Info("network online")
		}
	} else {
		m.failures++
		m.logger.Debug("health probe failed", "failures", m.failures, "error", err)
		if m.online && m.failures >= m.cfg.FailureThreshold {
			m.online = false
			transition = m.cfg.OnOffline
			m.logger.Warn("network offline", "failures", m.failures, "error", err)
		}
	}
	online := m.online
	m.mu.Unlock()

	if transition != nil {
		transition()
	}
	return online
}

// Start launches the probe loop. It probes immediately, then every Interval.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	done := m.done
	m.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(m.cfg.Interval)
		defer ticker.Stop()
		m.Check(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Check(ctx)
			}
		}
	}()
}

// Stop ends the probe loop and waits for it to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}
