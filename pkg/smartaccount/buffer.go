package smartaccount

import (
	"context"
	"strconv"

	"github.com/gagliardetto/solana-go"

	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/errs"
	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/signers"
	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/transaction"
)

// BufferRef names a transaction buffer. Buffers are scoped to their creator.
type BufferRef struct {
	Settings    solana.PublicKey
	Creator     solana.PublicKey
	BufferIndex uint8
}

// CreateBufferRequest starts a transaction buffer with its first chunk.
type CreateBufferRequest struct {
	BufferRef
	RentPayer       solana.PublicKey
	AccountIndex    uint8
	FinalBufferHash [32]byte
	FinalBufferSize uint16
	Chunk           []byte
}

func (t *opTx) bufferKey(ref BufferRef) (solana.PublicKey, error) {
	d, err := t.engine.deriver.TransactionBuffer(ref.Settings, ref.Creator, ref.BufferIndex)
	return d.Address, err
}

// CreateTransactionBuffer creates a buffer for a vault message too large to
// submit at once.
func (e *Engine) CreateTransactionBuffer(ctx context.Context, req CreateBufferRequest) error {
	return e.run(ctx, "create_transaction_buffer", func(ctx context.Context, t *opTx) error {
		c, err := t.loadSettingsRecord(ctx, req.Settings)
		if err != nil {
			return err
		}
		if err := c.core().RequireSigner(req.Creator, signers.Initiate); err != nil {
			return err
		}
		buf, err := transaction.NewTransactionBuffer(req.Settings, req.Creator, req.BufferIndex, req.AccountIndex, req.FinalBufferHash, req.FinalBufferSize, req.Chunk)
		if err != nil {
			return err
		}
		key, err := t.bufferKey(req.BufferRef)
		if err != nil {
			return err
		}
		if err := t.batch.Create(ctx, key, e.ProgramID(), payerOr(req.RentPayer, req.Creator), buf); err != nil {
			return err
		}
		t.emit(EventBufferCreated, key, uint64(req.BufferIndex), map[string]string{
			"settings":   req.Settings.String(),
			"final_size": strconv.Itoa(int(req.FinalBufferSize)),
		})
		return nil
	})
}

func (t *opTx) loadBuffer(ctx context.Context, ref BufferRef) (solana.PublicKey, *transaction.TransactionBuffer, error) {
	key, err := t.bufferKey(ref)
	if err != nil {
		return key, nil, err
	}
	var buf transaction.TransactionBuffer
	if err := t.batch.Load(ctx, key, t.engine.ProgramID(), &buf); err != nil {
		return key, nil, err
	}
	if buf.Settings != ref.Settings {
		return key, nil, errs.ErrSettingsMismatch.With("buffer belongs to %s", buf.Settings)
	}
	if buf.Creator != ref.Creator {
		return key, nil, errs.ErrNotBufferCreator.With("%s", ref.Creator)
	}
	return key, &buf, nil
}

// ExtendTransactionBuffer appends a chunk. The creator funds the growth.
func (e *Engine) ExtendTransactionBuffer(ctx context.Context, ref BufferRef, chunk []byte) error {
	return e.run(ctx, "extend_transaction_buffer", func(ctx context.Context, t *opTx) error {
		key, buf, err := t.loadBuffer(ctx, ref)
		if err != nil {
			return err
		}
		if err := buf.Extend(ref.Creator, chunk); err != nil {
			return err
		}
		if err := t.batch.Put(ctx, key, ref.Creator, buf); err != nil {
			return err
		}
		t.emit(EventBufferExtended, key, uint64(ref.BufferIndex), map[string]string{
			"size": strconv.Itoa(len(buf.Buffer)),
		})
		return nil
	})
}

// CloseTransactionBuffer discards a buffer and refunds the creator.
func (e *Engine) CloseTransactionBuffer(ctx context.Context, ref BufferRef) error {
	return e.run(ctx, "close_transaction_buffer", func(ctx context.Context, t *opTx) error {
		key, _, err := t.loadBuffer(ctx, ref)
		if err != nil {
			return err
		}
		if err := t.batch.Close(ctx, key, ref.Creator); err != nil {
			return err
		}
		t.emit(EventBufferClosed, key, uint64(ref.BufferIndex), nil)
		return nil
	})
}

// CreateFromBufferRequest turns a complete buffer into a transaction.
type CreateFromBufferRequest struct {
	BufferRef
	RentPayer        solana.PublicKey
	EphemeralSigners uint8
}

// CreateTransactionFromBuffer verifies the buffer hash and size, closes
// the buffer and creates a transaction from the buffered message. It returns
// the new transaction index.
func (e *Engine) CreateTransactionFromBuffer(ctx context.Context, req CreateFromBufferRequest) (uint64, error) {
	var index uint64
	err := e.run(ctx, "create_transaction_from_buffer", func(ctx context.Context, t *opTx) error {
		key, buf, err := t.loadBuffer(ctx, req.BufferRef)
		if err != nil {
			return err
		}
		msg, err := buf.Message()
		if err != nil {
			return err
		}
		c, err := t.loadSettingsRecord(ctx, req.Settings)
		if err != nil {
			return err
		}
		if err := t.batch.Close(ctx, key, req.Creator); err != nil {
			return err
		}
		index, err = t.createTransaction(ctx, c, CreateTransactionRequest{
			Consensus:        req.Settings,
			Creator:          req.Creator,
			RentPayer:        req.RentPayer,
			AccountIndex:     buf.AccountIndex,
			EphemeralSigners: req.EphemeralSigners,
			Message:          msg,
		})
		if err != nil {
			return err
		}
		t.emit(EventBufferClosed, key, uint64(req.BufferIndex), map[string]string{"transaction_index": strconv.FormatUint(index, 10)})
		return nil
	})
	return index, err
}

// TransactionBuffer returns the buffer named by ref.
func (e *Engine) TransactionBuffer(ctx context.Context, ref BufferRef) (*transaction.TransactionBuffer, error) {
	t := &opTx{engine: e, batch: e.store.NewBatch()}
	_, buf, err := t.loadBuffer(ctx, ref)
	return buf, err
}
