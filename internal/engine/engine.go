// Package engine is the process-wide owner of the sync core. It wires the
// entity store, sync queue, conflict resolver, persistence, REST client,
// realtime channel and network monitor together and exposes the Action API.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/fitz/tasksync/internal/api"
	"github.com/fitz/tasksync/internal/conflict"
	"github.com/fitz/tasksync/internal/models"
	"github.com/fitz/tasksync/internal/netmon"
	"github.com/fitz/tasksync/internal/persistence"
	"github.com/fitz/tasksync/internal/queue"
	"github.com/fitz/tasksync/internal/realtime"
	"github.com/fitz/tasksync/internal/schedule"
	"github.com/fitz/tasksync/internal/storage"
	"github.com/fitz/tasksync/internal/store"
)

// ErrOffline is returned by operations that need the server while the
// network monitor reports offline or no server is configured.
var ErrOffline = errors.New("server unreachable")

// Tuning holds the timing knobs of the sync core.
type Tuning struct {
	PersistDebounce   time.Duration
	ReorderDebounce   time.Duration
	ProbeInterval     time.Duration
	ProbeTimeout      time.Duration
	FailureThreshold  int
	QueueBackoff      schedule.Backoff
	MaxRetries        int
	RealtimeBackoff   schedule.Backoff
	RealtimeAttempts  int
	RealtimeCooldown  time.Duration
	ConnectTimeout    time.Duration
	CleanupInterval   time.Duration
	ConflictRetention time.Duration
}

// DefaultTuning returns the production timings.
func DefaultTuning() Tuning {
	return Tuning{
		PersistDebounce:   persistence.DefaultDebounce,
		ReorderDebounce:   time.Second,
		ProbeInterval:     netmon.DefaultInterval,
		ProbeTimeout:      netmon.DefaultTimeout,
		FailureThreshold:  netmon.DefaultFailureThreshold,
		QueueBackoff:      queue.DefaultBackoff,
		MaxRetries:        queue.DefaultMaxRetries,
		RealtimeBackoff:   realtime.DefaultBackoff,
		RealtimeAttempts:  realtime.DefaultMaxAttempts,
		RealtimeCooldown:  realtime.DefaultCooldown,
		ConnectTimeout:    realtime.DefaultConnectTimeout,
		CleanupInterval:   24 * time.Hour,
		ConflictRetention: 7 * 24 * time.Hour,
	}
}

// Options configures an Engine. A nil API runs the engine purely offline.
type Options struct {
	Logger *slog.Logger
	Actor  string
	Now    func() time.Time
	NewID  func() string

	API *api.Client
	// Dialer enables the realtime channel.
	Dialer realtime.Dialer
	// KV enables local persistence.
	KV     storage.KV
	KVKey  string
	Tuning Tuning

	// ManualSync stops mutations and connectivity changes from draining the
	// queue on their own; SyncNow drains explicitly.
	ManualSync bool
}

// Engine is the state manager. Create it once with New.
type Engine struct {
	logger *slog.Logger
	tuning Tuning
	now    func() time.Time
	newID  func() string
	manual bool

	store     *store.Store
	queue     *queue.Queue
	resolver  *conflict.Resolver
	persister *persistence.Persister
	api       *api.Client
	channel   *realtime.Channel
	monitor   *netmon.Monitor
	notes     *notifier
	reorders  *schedule.Keyed

	// mu serializes state mutations. Network I/O runs without it.
	mu             sync.Mutex
	actor          string
	currentProject string
	projects       []models.Project
	filters        models.Filters
	lastSync       *time.Time
	cleanup        persistence.Cleanup
	before         map[string]models.Task
	reorderBase    map[string]int

	ctx        context.Context
	cancel     context.CancelFunc
	started    bool
	stopped    bool
	wg         sync.WaitGroup
	retryTimer *time.Timer
}

// New builds an Engine. Nothing runs until Start.
func New(opts Options) (*Engine, error) {
	e := &Engine{
		logger:      opts.Logger,
		tuning:      opts.Tuning,
		now:         opts.Now,
		newID:       opts.NewID,
		manual:      opts.ManualSync,
		api:         opts.API,
		actor:       opts.Actor,
		before:      make(map[string]models.Task),
		reorderBase: make(map[string]int),
		ctx:         context.Background(),
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.now == nil {
		e.now = func() time.Time { return time.Now().UTC() }
	}
	e.tuning = withDefaults(e.tuning)
	e.notes = newNotifier(e.logger, e.now)

	e.store = store.New(store.Options{
		Logger:   e.logger,
		Actor:    opts.Actor,
		Now:      e.now,
		NewID:    opts.NewID,
		OnChange: e.persistLater,
	})
	e.queue = queue.New(queue.Options{
		Logger:            e.logger,
		Now:               e.now,
		Backoff:           e.tuning.QueueBackoff,
		MaxRetries:        e.tuning.MaxRetries,
		OnChange:          e.persistLater,
		OnTerminalFailure: e.onTerminalFailure,
	})
	e.resolver = conflict.NewResolver(conflict.Options{
		Logger:   e.logger,
		Actor:    opts.Actor,
		Now:      e.now,
		OnChange: e.persistLater,
	})
	e.reorders = schedule.NewKeyed(e.tuning.ReorderDebounce, e.confirmReorder)

	if opts.KV != nil {
		p, err := persistence.New(persistence.Options{
			KV:       opts.KV,
			Key:      opts.KVKey,
			Debounce: e.tuning.PersistDebounce,
			Logger:   e.logger,
			Source:   e.snapshot,
		})
		if err != nil {
			return nil, err
		}
		e.persister = p
	}

	if e.api != nil {
		e.monitor = netmon.New(e.api, netmon.Config{
			Interval:         e.tuning.ProbeInterval,
			Timeout:          e.tuning.ProbeTimeout,
			FailureThreshold: e.tuning.FailureThreshold,
			Logger:           e.logger,
			OnOnline:         e.onOnline,
			OnOffline:        e.onOffline,
		})
	}
	if opts.Dialer != nil {
		e.channel = realtime.New(realtime.Config{
			Dialer:         opts.Dialer,
			Logger:         e.logger,
			Actor:          opts.Actor,
			Backoff:        e.tuning.RealtimeBackoff,
			MaxAttempts:    e.tuning.RealtimeAttempts,
			Cooldown:       e.tuning.RealtimeCooldown,
			ConnectTimeout: e.tuning.ConnectTimeout,
			OnConnected:    e.kickDrain,
			OnEvent:        e.applyRemote,
			OnAuthFailed:   e.onAuthFailed,
		})
	}
	return e, nil
}

func withDefaults(t Tuning) Tuning {
	d := DefaultTuning()
	if t.PersistDebounce <= 0 {
		t.PersistDebounce = d.PersistDebounce
	}
	if t.ReorderDebounce <= 0 {
		t.ReorderDebounce = d.ReorderDebounce
	}
	if t.ProbeInterval <= 0 {
		t.ProbeInterval = d.ProbeInterval
	}
	if t.ProbeTimeout <= 0 {
		t.ProbeTimeout = d.ProbeTimeout
	}
	if t.FailureThreshold <= 0 {
		t.FailureThreshold = d.FailureThreshold
	}
	if t.QueueBackoff == (schedule.Backoff{}) {
		t.QueueBackoff = d.QueueBackoff
	}
	if t.MaxRetries <= 0 {
		t.MaxRetries = d.MaxRetries
	}
	if t.RealtimeBackoff == (schedule.Backoff{}) {
		t.RealtimeBackoff = d.RealtimeBackoff
	}
	if t.RealtimeAttempts <= 0 {
		t.RealtimeAttempts = d.RealtimeAttempts
	}
	if t.RealtimeCooldown <= 0 {
		t.RealtimeCooldown = d.RealtimeCooldown
	}
	if t.ConnectTimeout <= 0 {
		t.ConnectTimeout = d.ConnectTimeout
	}
	if t.CleanupInterval <= 0 {
		t.CleanupInterval = d.CleanupInterval
	}
	if t.ConflictRetention <= 0 {
		t.ConflictRetention = d.ConflictRetention
	}
	return t
}

// Start loads persisted state, runs cleanup when due and starts the
// background loops.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return errors.New("engine already started")
	}
	e.started = true
	e.ctx, e.cancel = context.WithCancel(ctx)
	e.mu.Unlock()

	if err := e.load(ctx); err != nil {
		return err
	}

	e.mu.Lock()
	due := e.cleanup.LastRun == nil || e.now().Sub(*e.cleanup.LastRun) >= e.tuning.CleanupInterval
	project := e.currentProject
	e.mu.Unlock()
	if due {
		e.RunCleanup()
	}

	e.wg.Add(1)
	go e.cleanupLoop()

	if e.monitor != nil {
		e.monitor.Start(e.ctx)
	}
	if e.channel != nil {
		_ = e.channel.SetProject(project)
		e.channel.Connect(e.ctx)
	}
	e.kickDrain()
	e.logger.Info("engine started", "tasks", e.store.Len(), "queued", e.queue.Len())
	return nil
}

// Stop halts every loop, waits for in-flight work and flushes the last
// snapshot.
func (e *Engine) Stop() error {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return nil
	}
	e.stopped = true
	if e.retryTimer != nil {
		e.retryTimer.Stop()
	}
	cancel := e.cancel
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if e.monitor != nil {
		e.monitor.Stop()
	}
	if e.channel != nil {
		e.channel.Disconnect()
	}
	e.reorders.Flush()
	e.reorders.Stop()
	e.wg.Wait()

	if e.persister != nil {
		if err := e.persister.Close(); err != nil {
			return err
		}
	}
	e.logger.Info("engine stopped")
	return nil
}

func (e *Engine) cleanupLoop() {
	defer e.wg.Done()
	ticker := time.NewTicker(e.tuning.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			e.RunCleanup()
		}
	}
}

// SetActor changes the user id stamped on local mutations and used to
// discard realtime self-echo.
func (e *Engine) SetActor(actor string) {
	e.mu.Lock()
	e.actor = actor
	e.mu.Unlock()
	e.store.SetActor(actor)
	e.resolver.SetActor(actor)
	if e.channel != nil {
		e.channel.SetActor(actor)
	}
}

// Online reports the network monitor's view. Without a server the engine
// is always offline.
func (e *Engine) Online() bool {
	return e.monitor != nil && e.monitor.Online()
}

// Status summarizes the sync state.
type Status struct {
	Online           bool           `json:"online"`
	Realtime         realtime.State `json:"realtime"`
	Queue            queue.Stats    `json:"queue"`
	Draining         bool           `json:"draining"`
	PendingConflicts int            `json:"pendingConflicts"`
	Tasks            int            `json:"tasks"`
	CurrentProject   string         `json:"currentProject,omitempty"`
	LastSync         *time.Time     `json:"lastSync,omitempty"`
}

// Status returns the current sync summary.
func (e *Engine) Status() Status {
	st := Status{
		Online:           e.Online(),
		Realtime:         realtime.StateDisconnected,
		Queue:            e.queue.Stats(),
		Draining:         e.queue.Draining(),
		PendingConflicts: len(e.resolver.Pending()),
		Tasks:            e.store.Len(),
	}
	if e.channel != nil {
		st.Realtime = e.channel.State()
	}
	e.mu.Lock()
	st.CurrentProject = e.currentProject
	if e.lastSync != nil {
		ls := *e.lastSync
		st.LastSync = &ls
	}
	e.mu.Unlock()
	return st
}

// Notifications returns the recorded user notifications, oldest first.
func (e *Engine) Notifications() []models.Notification {
	return e.notes.list()
}

// ClearNotifications drops every recorded notification.
func (e *Engine) ClearNotifications() {
	e.notes.clear()
}

func (e *Engine) persistLater() {
	if e.persister != nil {
		e.persister.Schedule()
	}
}

func (e *Engine) onOnline() {
	e.notes.add(models.NotifyPositive, "connection restored, syncing changes", "", "")
	if e.channel != nil {
		e.channel.Reconnect()
	}
	e.kickDrain()
}

func (e *Engine) onOffline() {
	e.notes.add(models.NotifyWarning, "offline: changes are saved locally and will sync later", "", "")
}

func (e *Engine) onAuthFailed(err error) {
	e.notes.add(models.NotifyNegative, "realtime connection rejected, please sign in again", "", "")
	e.logger.Error("realtime authentication failed", "error", err)
}

func (e *Engine) onTerminalFailure(item models.SyncQueueItem) {
	e.notes.addItem(models.NotifyNegative, "sync failed after repeated attempts: "+item.LastError, item.ID)
}

// CheckConnectivity probes the server now and returns the resulting state.
func (e *Engine) CheckConnectivity(ctx context.Context) bool {
	if e.monitor == nil {
		return false
	}
	return e.monitor.Check(ctx)
}
