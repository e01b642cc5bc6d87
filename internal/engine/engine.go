package engine

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/roach88/runledger/internal/ir"
	"github.com/roach88/runledger/internal/normalize"
)

// Store is the persistence the engine consumes. *store.Store implements it.
// Lookups report missing rows with store.ErrNotFound.
type Store interface {
	InsertRun(ctx context.Context, r ir.Run) (bool, error)
	UpsertThread(ctx context.Context, r ir.Run) (ir.Run, error)
	UpdateRun(ctx context.Context, id string, patch ir.RunPatch) (int64, error)
	GetRun(ctx context.Context, id string) (ir.Run, error)
	LatestChildRun(ctx context.Context, parentID string) (ir.Run, error)
	ChildRuns(ctx context.Context, parentID string) ([]ir.Run, error)
	Siblings(ctx context.Context, originID string) ([]ir.Run, error)
	UpsertAppUser(ctx context.Context, u ir.AppUser) (int64, error)
	InsertLog(ctx context.Context, e ir.LogEntry) error
}

// DefaultParentRetryDelay is how long a start event waits for a missing
// parent before dropping the link.
const DefaultParentRetryDelay = 2 * time.Second

// Engine applies normalized events to the store.
//
// Thread-safety: Ingest may be called from any number of goroutines; each
// call processes its batch sequentially.
type Engine struct {
	store      Store
	normalizer *normalize.Normalizer
	sleeper    Sleeper
	retryDelay time.Duration
	ids        IDGenerator
	logger     *zap.Logger
	tracer     trace.Tracer
}

// Option allows configuration of engine parameters.
type Option func(*Engine)

// WithLogger sets the engine logger. Default: no-op.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithSleeper replaces the wall-clock sleeper used for the parent retry.
func WithSleeper(s Sleeper) Option {
	return func(e *Engine) { e.sleeper = s }
}

// WithParentRetryDelay sets the parent-visibility retry delay.
//
// Default: 2s (DefaultParentRetryDelay)
func WithParentRetryDelay(d time.Duration) Option {
	return func(e *Engine) { e.retryDelay = d }
}

// WithIDGenerator sets the generator for turn ids.
func WithIDGenerator(g IDGenerator) Option {
	return func(e *Engine) { e.ids = g }
}

// WithNormalizer sets the event normalizer.
func WithNormalizer(n *normalize.Normalizer) Option {
	return func(e *Engine) { e.normalizer = n }
}

// WithTracer sets the OpenTelemetry tracer. Default: the global provider's.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// New creates an Engine over s.
//
// Returns an error only if the default normalizer cannot be built (the
// embedded event schema failed to compile).
func New(s Store, opts ...Option) (*Engine, error) {
	e := &Engine{
		store:      s,
		sleeper:    WallSleeper{},
		retryDelay: DefaultParentRetryDelay,
		ids:        UUIDv7Generator{},
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.normalizer == nil {
		n, err := normalize.New()
		if err != nil {
			return nil, fmt.Errorf("failed to build normalizer: %w", err)
		}
		e.normalizer = n
	}
	if e.tracer == nil {
		e.tracer = otel.Tracer("github.com/roach88/runledger/internal/engine")
	}
	return e, nil
}
