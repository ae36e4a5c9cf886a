// Package journal persists per-file ingestion reports to a relational
// backend so operators can audit what each run did after the logs have
// rotated away.
package journal

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Config selects and configures a journal backend.
//
// Kind must match a registered backend kind ("sqlite", "postgres").
// DSN is passed through to the backend factory; validation is
// backend-specific.
type Config struct {
	Kind string
	DSN  string
}

// FileReport is one journaled row: the outcome of ingesting one input
// file within a run.
type FileReport struct {
	RunID        string
	File         string
	Table        string
	Database     string
	State        string
	ChunksTotal  int
	ChunksFailed int
	Error        string
	FinishedAt   time.Time
}

// Repository is the backend-agnostic journal interface. Implementations
// must be safe for sequential use from a single pipeline run.
type Repository interface {
	// EnsureSchema creates the journal table if it does not exist.
	// Idempotent; call once at startup.
	EnsureSchema(ctx context.Context) error

	// RecordFile appends one file report.
	RecordFile(ctx context.Context, r FileReport) error

	// Close releases backend resources. Call once at shutdown.
	Close()
}

type factory func(ctx context.Context, cfg Config) (Repository, error)

var (
	mu        sync.RWMutex
	factories = map[string]factory{}
)

// Register registers a backend under a kind. Call from an init()
// function in a backend package.
//
// Panics on empty kind, nil factory, or duplicate registration; backend
// selection must never be ambiguous.
func Register(kind string, f factory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("journal: Register called with empty kind")
	}
	if f == nil {
		panic("journal: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("journal: factory already registered for kind=%q", kind))
	}

	factories[kind] = f
}

// New constructs a Repository using the registered backend factory.
func New(ctx context.Context, cfg Config) (Repository, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("journal: missing Kind")
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("unsupported journal kind=%s", cfg.Kind)
	}
	return f(ctx, cfg)
}

type nopRepository struct{}

func (nopRepository) EnsureSchema(context.Context) error           { return nil }
func (nopRepository) RecordFile(context.Context, FileReport) error { return nil }
func (nopRepository) Close()                                        {}

// Nop returns a Repository that discards all reports. Used when
// journaling is disabled.
func Nop() Repository { return nopRepository{} }
