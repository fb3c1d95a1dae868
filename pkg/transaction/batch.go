package transaction

import (
	"math"

	"github.com/gagliardetto/solana-go"

	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/contracts"
	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/errs"
)

// Batch is an ordered, appendable list of vault messages voted on by one
// proposal. Elements are numbered from 1 and run strictly in order.
type Batch struct {
	Settings      solana.PublicKey `json:"settings"`
	Creator       solana.PublicKey `json:"creator"`
	RentCollector solana.PublicKey `json:"rent_collector"`
	Index         uint64           `json:"index"`
	Bump          uint8            `json:"bump"`
	AccountIndex  uint8            `json:"account_index"`
	AccountBump   uint8            `json:"account_bump"`
	// Size is the number of elements currently stored.
	Size uint32 `json:"size"`
	// ExecutedTransactionIndex is the element index of the last executed
	// element, 0 when none ran.
	ExecutedTransactionIndex uint32 `json:"executed_transaction_index"`
}

func (*Batch) AccountName() string { return "Batch" }

// Append reserves the index of a new element.
func (b *Batch) Append() (uint32, error) {
	if b.Size == math.MaxUint32 {
		return 0, errs.ErrOverflow.With("batch %d size", b.Index)
	}
	b.Size++
	return b.Size, nil
}

// Next returns the element index that must execute next.
func (b *Batch) Next() (uint32, error) {
	if b.ExecutedTransactionIndex >= b.Size {
		return 0, errs.ErrBatchExecuted.With("batch %d executed %d of %d", b.Index, b.ExecutedTransactionIndex, b.Size)
	}
	return b.ExecutedTransactionIndex + 1, nil
}

// CheckNext fails unless element is the next one to execute.
func (b *Batch) CheckNext(element uint32) error {
	next, err := b.Next()
	if err != nil {
		return err
	}
	if element != next {
		return errs.ErrBatchOrder.With("element %d requested, %d is next", element, next)
	}
	return nil
}

// MarkExecuted records that element ran. It reports whether the batch is
// now fully executed.
func (b *Batch) MarkExecuted(element uint32) (bool, error) {
	if err := b.CheckNext(element); err != nil {
		return false, err
	}
	b.ExecutedTransactionIndex = element
	return b.Done(), nil
}

// Done reports whether every stored element ran.
func (b *Batch) Done() bool {
	return b.Size > 0 && b.ExecutedTransactionIndex >= b.Size
}

// RemoveLast drops the last element. Elements close from the end backward
// so the remaining indices stay contiguous.
func (b *Batch) RemoveLast(element uint32) error {
	if b.Size == 0 {
		return errs.ErrTransactionNotClosable.With("batch %d is empty", b.Index)
	}
	if element != b.Size {
		return errs.ErrBatchOrder.With("element %d closed before last element %d", element, b.Size)
	}
	b.Size--
	if b.ExecutedTransactionIndex > b.Size {
		b.ExecutedTransactionIndex = b.Size
	}
	return nil
}

// CheckEmpty fails while elements remain.
func (b *Batch) CheckEmpty() error {
	if b.Size != 0 {
		return errs.ErrBatchNotEmpty.With("batch %d holds %d elements", b.Index, b.Size)
	}
	return nil
}

// BatchTransaction is one element of a batch.
type BatchTransaction struct {
	Bump                 uint8              `json:"bump"`
	RentCollector        solana.PublicKey   `json:"rent_collector"`
	EphemeralSignerBumps []uint8            `json:"ephemeral_signer_bumps"`
	Message              *contracts.Message `json:"message,omitempty"`
}

func (*BatchTransaction) AccountName() string { return "BatchTransaction" }

// TakeMessage moves the message out of the element.
func (t *BatchTransaction) TakeMessage() (*contracts.Message, error) {
	if t.Message == nil {
		return nil, errs.ErrPayloadConsumed.With("batch element message")
	}
	m := t.Message
	t.Message = nil
	return m, nil
}
