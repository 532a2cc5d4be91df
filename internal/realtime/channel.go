// Package realtime maintains the push channel that carries remote task
// mutations and gates queue draining.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fitz/tasksync/internal/models"
	"github.com/fitz/tasksync/internal/schedule"
)

// ErrAuthRejected is returned when the server refuses the credentials.
// It is never retried automatically.
var ErrAuthRejected = errors.New("realtime authentication rejected")

// Event names on the wire.
const (
	EventJoinProject = "join:project"
	EventTaskSync    = "task:sync"
)

// Event is one frame: {"event": name, "data": payload}.
type Event struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// SyncType is the kind of remote mutation.
type SyncType string

const (
	SyncCreated SyncType = "created"
	SyncUpdated SyncType = "updated"
	SyncDeleted SyncType = "deleted"
)

// TaskSync is the payload of a task:sync event.
type TaskSync struct {
	Type   SyncType    `json:"type"`
	Task   models.Task `json:"task"`
	UserID string      `json:"userId"`
}

// Conn is an established channel connection.
type Conn interface {
	ReadEvent() (Event, error)
	WriteEvent(Event) error
	Close() error
}

// Dialer opens connections. Credential refusals must wrap ErrAuthRejected.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// State of the channel.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateAuthFailed   State = "auth_failed"
)

// Config configures a Channel. Zero durations take defaults.
type Config struct {
	Dialer         Dialer
	Logger         *slog.Logger
	Actor          string
	Backoff        schedule.Backoff
	MaxAttempts    int
	Cooldown       time.Duration
	ConnectTimeout time.Duration

	// OnConnected runs after each successful connect and project join.
	OnConnected func()
	// OnEvent receives remote task mutations, self-echo already removed.
	OnEvent func(TaskSync)
	// OnAuthFailed runs once when the server rejects the credentials.
	OnAuthFailed func(error)
	// OnStateChange observes every state transition.
	OnStateChange func(State)
}

const (
	DefaultMaxAttempts    = 3
	DefaultCooldown       = time.Hour
	DefaultConnectTimeout = 10 * time.Second
)

// DefaultBackoff starts at 1s and doubles to 30s.
var DefaultBackoff = schedule.Backoff{Base: time.Second, Max: 30 * time.Second}

// Channel reconnects after remote disconnects with capped backoff, and
// after MaxAttempts consecutive failures waits Cooldown before starting
// over. Disconnect stops it without reconnecting.
type Channel struct {
	cfg    Config
	logger *slog.Logger

	mu        sync.Mutex
	state     State
	actor     string
	projectID string
	conn      Conn
	authErr   error
	cancel    context.CancelFunc
	done      chan struct{}
	kick      chan struct{}

	writeMu sync.Mutex
}

// New creates a disconnected Channel.
func New(cfg Config) *Channel {
	if cfg.Backoff == (schedule.Backoff{}) {
		cfg.Backoff = DefaultBackoff
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	c := &Channel{
		cfg:    cfg,
		logger: cfg.Logger,
		state:  StateDisconnected,
		actor:  cfg.Actor,
		kick:   make(chan struct{}, 1),
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// State returns the current state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connected reports whether the channel is connected.
func (c *Channel) Connected() bool {
	return c.State() == StateConnected
}

// AuthError returns the rejection that stopped the channel, if any.
func (c *Channel) AuthError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authErr
}

// SetActor changes the id used to discard self-echo.
func (c *Channel) SetActor(actor string) {
	c.mu.Lock()
	c.actor = actor
	c.mu.Unlock()
}

func (c *Channel) setState(s State) {
	c.mu.Lock()
	if c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	c.mu.Unlock()
	c.logger.Debug("realtime state", "state", s)
	if c.cfg.OnStateChange != nil {
		c.cfg.OnStateChange(s)
	}
}

// Connect starts the connection loop. It is a no-op while running. After
// an authentication failure Connect clears the failure and tries again,
// which is how fresh credentials are picked up.
func (c *Channel) Connect(ctx context.Context) {
	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		return
	}
	c.authErr = nil
	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})
	done := c.done
	c.mu.Unlock()

	go func() {
		defer close(done)
		c.run(ctx)
	}()
}

// Reconnect cuts a pending backoff or cooldown wait short. It does nothing
// when the loop is not running.
func (c *Channel) Reconnect() {
	select {
	case c.kick <- struct{}{}:
	default:
	}
}

// Disconnect closes the channel locally and waits for the loop to exit.
// No reconnection follows.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// SetProject records the active project and joins it when connected.
func (c *Channel) SetProject(projectID string) error {
	c.mu.Lock()
	changed := c.projectID != projectID
	c.projectID = projectID
	conn := c.conn
	c.mu.Unlock()
	if !changed || conn == nil || projectID == "" {
		return nil
	}
	return c.join(conn, projectID)
}

func (c *Channel) join(conn Conn, projectID string) error {
	data, err := json.Marshal(map[string]string{"projectId": projectID})
	if err != nil {
		return fmt.Errorf("failed to encode join: %w", err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.WriteEvent(Event{Event: EventJoinProject, Data: data}); err != nil {
		return fmt.Errorf("failed to join project %s: %w", projectID, err)
	}
	c.logger.Info("joined project room", "project_id", projectID)
	return nil
}

func (c *Channel) run(ctx context.Context) {
	defer func() {
		c.mu.Lock()
		if c.cancel != nil {
			c.cancel()
		}
		c.cancel, c.done = nil, nil
		c.mu.Unlock()
	}()

	attempts := 0
	for {
		c.setState(StateConnecting)
		dctx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
		conn, err := c.cfg.Dialer.Dial(dctx)
		cancel()

		if err == nil {
			attempts = 0
			err = c.serve(ctx, conn)
		}
		if ctx.Err() != nil {
			c.setState(StateDisconnected)
			return
		}
		if errors.Is(err, ErrAuthRejected) {
			c.mu.Lock()
			c.authErr = err
			c.mu.Unlock()
			c.setState(StateAuthFailed)
			c.logger.Error("realtime authentication rejected", "error", err)
			if c.cfg.OnAuthFailed != nil {
				c.cfg.OnAuthFailed(err)
			}
			return
		}
		c.setState(StateDisconnected)

		var wait time.Duration
		if attempts >= c.cfg.MaxAttempts {
			wait = c.cfg.Cooldown
			attempts = 0
			c.logger.Warn("realtime reconnect attempts exhausted", "cooldown", wait, "error", err)
		} else {
			wait = c.cfg.Backoff.Delay(attempts)
			attempts++
			c.logger.Info("realtime reconnect scheduled", "attempt", attempts, "delay", wait, "error", err)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			c.setState(StateDisconnected)
			return
		case <-c.kick:
			timer.Stop()
			attempts = 0
		case <-timer.C:
		}
	}
}

// serve runs one connection until it drops.
func (c *Channel) serve(ctx context.Context, conn Conn) error {
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	defer conn.Close()

	c.mu.Lock()
	c.conn = conn
	projectID := c.projectID
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
	}()

	select {
	case <-c.kick:
	default:
	}
	c.setState(StateConnected)
	if projectID != "" {
		if err := c.join(conn, projectID); err != nil {
			return err
		}
	}
	if c.cfg.OnConnected != nil {
		c.cfg.OnConnected()
	}

	for {
		ev, err := conn.ReadEvent()
		if err != nil {
			return err
		}
		c.dispatch(ev)
	}
}

func (c *Channel) dispatch(ev Event) {
	if ev.Event != EventTaskSync {
		c.logger.Debug("ignoring realtime event", "event", ev.Event)
		return
	}
	var ts TaskSync
	if err := json.Unmarshal(ev.Data, &ts); err != nil {
		c.logger.Warn("malformed task:sync event", "error", err)
		return
	}
	c.mu.Lock()
	actor := c.actor
	c.mu.Unlock()
	if actor != "" && ts.UserID == actor {
		c.logger.Debug("discarding self-echo", "id", ts.Task.ID, "type", ts.Type)
		return
	}
	if c.cfg.OnEvent != nil {
		c.cfg.OnEvent(ts)
	}
}
