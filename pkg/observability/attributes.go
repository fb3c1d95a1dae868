package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Governance attributes.
var (
	AttrOperation        = attribute.Key("smartaccount.operation")
	AttrConsensus        = attribute.Key("smartaccount.consensus")
	AttrTransactionIndex = attribute.Key("smartaccount.transaction.index")
	AttrProposalStatus   = attribute.Key("smartaccount.proposal.status")
	AttrErrorCode        = attribute.Key("smartaccount.error.code")
	AttrErrorClass       = attribute.Key("smartaccount.error.class")
)

// ProposalOperation creates attributes for an operation on one proposal.
func ProposalOperation(consensus string, index uint64) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrConsensus.String(consensus),
		AttrTransactionIndex.Int64(int64(index)),
	}
}

// Rejection creates attributes for a refused operation.
func Rejection(operation, code, class string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrOperation.String(operation),
		AttrErrorCode.String(code),
		AttrErrorClass.String(class),
	}
}

// AddSpanEvent adds an event to the current span.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(attrs...))
}
