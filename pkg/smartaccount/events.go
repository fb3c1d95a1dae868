package smartaccount

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
)

// EventKind names a state change.
type EventKind string

const (
	EventProgramConfigInitialized EventKind = "program_config.initialized"
	EventProgramConfigUpdated     EventKind = "program_config.updated"
	EventSettingsCreated          EventKind = "settings.created"
	EventSettingsChanged          EventKind = "settings.changed"
	EventProposalCreated          EventKind = "proposal.created"
	EventProposalActivated        EventKind = "proposal.activated"
	EventProposalApproved         EventKind = "proposal.approved"
	EventProposalRejected         EventKind = "proposal.rejected"
	EventProposalCancelled        EventKind = "proposal.cancelled"
	EventProposalVoted            EventKind = "proposal.voted"
	EventProposalExecuted         EventKind = "proposal.executed"
	EventTransactionCreated       EventKind = "transaction.created"
	EventTransactionExecuted      EventKind = "transaction.executed"
	EventTransactionClosed        EventKind = "transaction.closed"
	EventBatchCreated             EventKind = "batch.created"
	EventBatchTransactionAdded    EventKind = "batch.transaction_added"
	EventBatchTransactionExecuted EventKind = "batch.transaction_executed"
	EventBatchTransactionClosed   EventKind = "batch.transaction_closed"
	EventBatchClosed              EventKind = "batch.closed"
	EventSettingsTxCreated        EventKind = "settings_transaction.created"
	EventSettingsTxExecuted       EventKind = "settings_transaction.executed"
	EventSettingsTxClosed         EventKind = "settings_transaction.closed"
	EventBufferCreated            EventKind = "buffer.created"
	EventBufferExtended           EventKind = "buffer.extended"
	EventBufferClosed             EventKind = "buffer.closed"
	EventSpendingLimitAdded       EventKind = "spending_limit.added"
	EventSpendingLimitRemoved     EventKind = "spending_limit.removed"
	EventSpendingLimitUsed        EventKind = "spending_limit.used"
	EventPolicyCreated            EventKind = "policy.created"
	EventPolicyUpdated            EventKind = "policy.updated"
	EventPolicyRemoved            EventKind = "policy.removed"
	EventSyncExecuted             EventKind = "sync.executed"
)

// Event describes one applied state change.
type Event struct {
	ID         string            `json:"id"`
	Kind       EventKind         `json:"kind"`
	Record     solana.PublicKey  `json:"record"`
	Index      uint64            `json:"index"`
	Timestamp  time.Time         `json:"timestamp"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

func newEvent(kind EventKind, record solana.PublicKey, index uint64, ts time.Time, attrs map[string]string) Event {
	return Event{
		ID:         uuid.New().String(),
		Kind:       kind,
		Record:     record,
		Index:      index,
		Timestamp:  ts,
		Attributes: attrs,
	}
}

// EventSink receives events after their operation committed.
type EventSink interface {
	Publish(ctx context.Context, ev Event)
}

// LogSink writes events to a slog logger.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink returns a sink logging at Info through l.
func NewLogSink(l *slog.Logger) *LogSink {
	if l == nil {
		l = slog.Default().With("component", "smartaccount")
	}
	return &LogSink{logger: l}
}

func (s *LogSink) Publish(ctx context.Context, ev Event) {
	args := []any{
		"event_id", ev.ID,
		"kind", string(ev.Kind),
		"record", ev.Record.String(),
		"index", ev.Index,
	}
	for k, v := range ev.Attributes {
		args = append(args, k, v)
	}
	s.logger.InfoContext(ctx, "event", args...)
}

// MemorySink keeps events in memory.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

// NewMemorySink returns an empty sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Publish(_ context.Context, ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

// Events returns a copy of the recorded events.
func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// Kinds returns the recorded event kinds in order.
func (s *MemorySink) Kinds() []EventKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]EventKind, len(s.events))
	for i, ev := range s.events {
		out[i] = ev.Kind
	}
	return out
}
