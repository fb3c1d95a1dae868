// Package smartaccount is the governance engine of a smart account. Each
// exported Engine method is one caller-facing operation: it loads the
// records it needs through a store batch, applies the change to local
// copies, re-checks the invariants of every touched consensus record and
// commits all writes at once. Any error before the commit leaves storage
// untouched.
package smartaccount

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/authority"
	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/errs"
	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/executor"
	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/observability"
	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/store"
)

// Engine executes governance operations against a Store.
type Engine struct {
	store        *store.Store
	deriver      authority.Deriver
	invoker      executor.Invoker
	events       EventSink
	obs          *observability.Provider
	initializers map[solana.PublicKey]bool
	clock        func() time.Time
	logger       *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithInvoker replaces the sub-call layer. The default is a LocalInvoker.
func WithInvoker(inv executor.Invoker) Option {
	return func(e *Engine) { e.invoker = inv }
}

// WithEventSink sets where operation events go. The default logs them.
func WithEventSink(sink EventSink) Option {
	return func(e *Engine) { e.events = sink }
}

// WithObservability wraps every operation in a span and RED metrics.
func WithObservability(p *observability.Provider) Option {
	return func(e *Engine) { e.obs = p }
}

// WithInitializers sets the keys allowed to initialize the program config.
func WithInitializers(keys ...solana.PublicKey) Option {
	return func(e *Engine) {
		e.initializers = make(map[solana.PublicKey]bool, len(keys))
		for _, k := range keys {
			e.initializers[k] = true
		}
	}
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New returns an Engine for programID over st.
func New(st *store.Store, programID solana.PublicKey, opts ...Option) *Engine {
	e := &Engine{
		store:        st,
		deriver:      authority.New(programID),
		initializers: map[solana.PublicKey]bool{},
		clock:        time.Now,
		logger:       slog.Default().With("component", "smartaccount"),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.invoker == nil {
		e.invoker = executor.NewLocalInvoker(programID)
	}
	if e.events == nil {
		e.events = NewLogSink(e.logger)
	}
	return e
}

// WithClock overrides clock for testing.
func (e *Engine) WithClock(clock func() time.Time) *Engine {
	e.clock = clock
	return e
}

// Deriver returns the address deriver of the program.
func (e *Engine) Deriver() authority.Deriver { return e.deriver }

// ProgramID is the owner of every governance record.
func (e *Engine) ProgramID() solana.PublicKey { return e.deriver.ProgramID }

func (e *Engine) now() int64 { return e.clock().Unix() }

// run executes op inside one store batch and commits it on success. Events
// are only published once the commit succeeded.
func (e *Engine) run(ctx context.Context, name string, op func(ctx context.Context, tx *opTx) error, attrs ...attribute.KeyValue) error {
	done := func(error) {}
	if e.obs != nil {
		ctx, done = e.obs.TrackOperation(ctx, "smartaccount."+name, append(attrs, observability.AttrOperation.String(name))...)
	}

	tx := &opTx{engine: e, batch: e.store.NewBatch(), now: e.now()}
	err := op(ctx, tx)
	if err == nil {
		err = tx.batch.Commit(ctx)
	}
	done(err)

	if err != nil {
		e.logRejected(ctx, name, err)
		return err
	}
	for _, ev := range tx.events {
		e.events.Publish(ctx, ev)
	}
	e.logger.DebugContext(ctx, "operation applied", "operation", name, "writes", len(tx.batch.Writes()))
	return nil
}

func (e *Engine) logRejected(ctx context.Context, name string, err error) {
	var ge *errs.Error
	if errors.As(err, &ge) {
		e.logger.WarnContext(ctx, "operation rejected", "operation", name, "code", ge.Code, "class", string(ge.Class), "error", err)
		if e.obs != nil {
			e.obs.RecordRejection(ctx, name, ge.Code, string(ge.Class))
		}
		return
	}
	e.logger.WarnContext(ctx, "operation failed", "operation", name, "error", err)
}

// opTx is the working state of one operation.
type opTx struct {
	engine *Engine
	batch  *store.Batch
	now    int64
	events []Event
}

func (t *opTx) emit(kind EventKind, record solana.PublicKey, index uint64, attrs map[string]string) {
	t.events = append(t.events, newEvent(kind, record, index, time.Unix(t.now, 0).UTC(), attrs))
}
