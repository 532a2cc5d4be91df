package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/fitz/tasksync/internal/schedule"
	"github.com/fitz/tasksync/internal/storage"
)

// DefaultDebounce is how long writes settle before the snapshot is saved.
const DefaultDebounce = 500 * time.Millisecond

// Options configures a Persister.
type Options struct {
	KV       storage.KV
	Key      string
	Debounce time.Duration
	Logger   *slog.Logger
	// Source produces the snapshot a debounced save writes.
	Source func() Snapshot
}

// Persister loads and saves the state snapshot.
type Persister struct {
	kv     storage.KV
	key    string
	logger *slog.Logger
	source func() Snapshot
	schema *jsonschema.Schema

	debouncer *schedule.Debouncer

	mu      sync.Mutex
	lastErr error
	saves   int
}

// New creates a Persister. KV and Source are required.
func New(opts Options) (*Persister, error) {
	if opts.KV == nil || opts.Source == nil {
		return nil, errors.New("missing required persister options: KV, Source")
	}
	if opts.Key == "" {
		opts.Key = DefaultKey
	}
	if err := storage.ValidateKey(opts.Key); err != nil {
		return nil, err
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	schema, err := compileSchema()
	if err != nil {
		return nil, fmt.Errorf("failed to load state schema: %w", err)
	}

	p := &Persister{
		kv:     opts.KV,
		key:    opts.Key,
		logger: opts.Logger,
		source: opts.Source,
		schema: schema,
	}
	p.debouncer = schedule.NewDebouncer(opts.Debounce, func() {
		_ = p.write(context.Background())
	})
	return p, nil
}

// Load reads the stored snapshot. A missing, unparseable or schema-invalid
// document yields Default(); only backend failures are returned as errors.
func (p *Persister) Load(ctx context.Context) (Snapshot, error) {
	data, err := p.kv.Get(ctx, p.key)
	if errors.Is(err, storage.ErrNotFound) {
		return Default(), nil
	}
	if err != nil {
		return Default(), fmt.Errorf("failed to read state: %w", err)
	}

	if err := validate(p.schema, data); err != nil {
		p.logger.Warn("discarding corrupt state", "key", p.key, "error", err)
		return Default(), nil
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		p.logger.Warn("discarding corrupt state", "key", p.key, "error", err)
		return Default(), nil
	}
	return snap.normalize(), nil
}

// Save writes snap immediately.
func (p *Persister) Save(ctx context.Context, snap Snapshot) error {
	data, err := json.Marshal(snap.normalize())
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}
	if err := p.kv.Put(ctx, p.key, data); err != nil {
		return fmt.Errorf("failed to write state: %w", err)
	}
	p.mu.Lock()
	p.saves++
	p.mu.Unlock()
	return nil
}

func (p *Persister) write(ctx context.Context) error {
	err := p.Save(ctx, p.source())
	if err != nil {
		p.logger.Error("failed to persist state", "key", p.key, "error", err)
	}
	p.mu.Lock()
	p.lastErr = err
	p.mu.Unlock()
	return err
}

// Schedule requests a save. Bursts of calls collapse into one write.
func (p *Persister) Schedule() {
	p.debouncer.Trigger()
}

// Pending reports whether a scheduled save has not run yet.
func (p *Persister) Pending() bool {
	return p.debouncer.Pending()
}

// Flush runs a pending save now and returns its error.
func (p *Persister) Flush() error {
	if !p.debouncer.Flush() {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}

// Saves returns how many snapshots have been written.
func (p *Persister) Saves() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.saves
}

// Close flushes a pending save and stops the debouncer.
func (p *Persister) Close() error {
	err := p.Flush()
	p.debouncer.Stop()
	return err
}
