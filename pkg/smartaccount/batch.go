package smartaccount

import (
	"context"
	"errors"
	"strconv"

	"github.com/gagliardetto/solana-go"

	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/contracts"
	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/errs"
	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/proposal"
	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/signers"
	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/transaction"
)

// CreateBatchRequest opens an empty batch for the vault at AccountIndex.
type CreateBatchRequest struct {
	Settings     solana.PublicKey
	Creator      solana.PublicKey
	RentPayer    solana.PublicKey
	AccountIndex uint8
}

// CreateBatch creates an empty batch under the next transaction index and
// returns the index.
func (e *Engine) CreateBatch(ctx context.Context, req CreateBatchRequest) (uint64, error) {
	var index uint64
	err := e.run(ctx, "create_batch", func(ctx context.Context, t *opTx) error {
		c, err := t.loadSettingsRecord(ctx, req.Settings)
		if err != nil {
			return err
		}
		if err := c.core().RequireSigner(req.Creator, signers.Initiate); err != nil {
			return err
		}
		if index, err = c.core().NextTransactionIndex(); err != nil {
			return err
		}
		d, err := e.deriver.Transaction(req.Settings, index)
		if err != nil {
			return err
		}
		vault, err := e.deriver.SmartAccount(req.Settings, req.AccountIndex)
		if err != nil {
			return err
		}
		payer := payerOr(req.RentPayer, req.Creator)
		b := &transaction.Batch{
			Settings:      req.Settings,
			Creator:       req.Creator,
			RentCollector: payer,
			Index:         index,
			Bump:          d.Bump,
			AccountIndex:  req.AccountIndex,
			AccountBump:   vault.Bump,
		}
		if err := t.batch.Create(ctx, d.Address, e.ProgramID(), payer, b); err != nil {
			return err
		}
		if err := t.putSettings(ctx, req.Settings, c.settings, payer); err != nil {
			return err
		}
		t.emit(EventBatchCreated, d.Address, index, map[string]string{
			"settings":      req.Settings.String(),
			"account_index": strconv.Itoa(int(req.AccountIndex)),
		})
		return nil
	})
	return index, err
}

// AddToBatchRequest appends a vault message to a batch whose proposal is
// still a draft.
type AddToBatchRequest struct {
	Settings         solana.PublicKey
	BatchIndex       uint64
	Signer           solana.PublicKey
	RentPayer        solana.PublicKey
	EphemeralSigners uint8
	Message          *contracts.Message
}

// AddTransactionToBatch stores a new element at the end of the batch and
// returns its element index.
func (e *Engine) AddTransactionToBatch(ctx context.Context, req AddToBatchRequest) (uint32, error) {
	var element uint32
	err := e.run(ctx, "add_transaction_to_batch", func(ctx context.Context, t *opTx) error {
		c, err := t.loadSettingsRecord(ctx, req.Settings)
		if err != nil {
			return err
		}
		if err := c.core().RequireSigner(req.Signer, signers.Initiate); err != nil {
			return err
		}
		key, b, err := t.loadBatch(ctx, req.Settings, req.BatchIndex)
		if err != nil {
			return err
		}
		if req.Signer != b.Creator {
			return errs.ErrUnauthorized.With("only the batch creator adds elements")
		}
		_, prop, err := t.requireProposal(ctx, req.Settings, req.BatchIndex)
		if err != nil {
			return err
		}
		if prop.Status.Kind != proposal.Draft {
			return errs.ErrInvalidProposalStatus.With("batch proposal is %s, want draft", prop.Status.Kind)
		}
		if req.Message == nil {
			return errs.ErrInvalidTransactionMessage.With("missing message")
		}
		if err := req.Message.Validate(); err != nil {
			return err
		}

		if element, err = b.Append(); err != nil {
			return err
		}
		d, err := e.deriver.BatchTransaction(req.Settings, req.BatchIndex, element)
		if err != nil {
			return err
		}
		bumps, err := ephemeralBumps(e.deriver, d.Address, req.EphemeralSigners)
		if err != nil {
			return err
		}
		payer := payerOr(req.RentPayer, req.Signer)
		bt := &transaction.BatchTransaction{
			Bump:                 d.Bump,
			RentCollector:        payer,
			EphemeralSignerBumps: bumps,
			Message:              req.Message,
		}
		if err := t.batch.Create(ctx, d.Address, e.ProgramID(), payer, bt); err != nil {
			return err
		}
		if err := t.batch.Put(ctx, key, payer, b); err != nil {
			return err
		}
		t.emit(EventBatchTransactionAdded, d.Address, req.BatchIndex, map[string]string{
			"settings": req.Settings.String(),
			"element":  strconv.FormatUint(uint64(element), 10),
		})
		return nil
	})
	return element, err
}

func (t *opTx) loadBatch(ctx context.Context, settingsKey solana.PublicKey, index uint64) (solana.PublicKey, *transaction.Batch, error) {
	d, err := t.engine.deriver.Transaction(settingsKey, index)
	if err != nil {
		return solana.PublicKey{}, nil, err
	}
	var b transaction.Batch
	if err := t.batch.Load(ctx, d.Address, t.engine.ProgramID(), &b); err != nil {
		return d.Address, nil, err
	}
	if b.Settings != settingsKey {
		return d.Address, nil, errs.ErrSettingsMismatch.With("batch belongs to %s", b.Settings)
	}
	return d.Address, &b, nil
}

// ExecuteBatchRequest runs the next element of an approved batch.
type ExecuteBatchRequest struct {
	Settings   solana.PublicKey
	BatchIndex uint64
	Executor   solana.PublicKey
	Signers    []solana.PublicKey
	Accounts   []solana.PublicKey
}

// ExecuteBatchTransaction runs the next element in order. The proposal only
// flips to Executed after the last element ran.
func (e *Engine) ExecuteBatchTransaction(ctx context.Context, req ExecuteBatchRequest) error {
	return e.run(ctx, "execute_batch_transaction", func(ctx context.Context, t *opTx) error {
		c, err := t.loadSettingsRecord(ctx, req.Settings)
		if err != nil {
			return err
		}
		if err := c.core().RequireSigner(req.Executor, signers.Execute); err != nil {
			return err
		}
		propKey, prop, err := t.requireProposal(ctx, req.Settings, req.BatchIndex)
		if err != nil {
			return err
		}
		if err := prop.CheckExecutable(c.account(), t.now); err != nil {
			return err
		}
		batchKey, b, err := t.loadBatch(ctx, req.Settings, req.BatchIndex)
		if err != nil {
			return err
		}
		element, err := b.Next()
		if err != nil {
			return err
		}
		d, err := e.deriver.BatchTransaction(req.Settings, req.BatchIndex, element)
		if err != nil {
			return err
		}
		var bt transaction.BatchTransaction
		if err := t.batch.Load(ctx, d.Address, e.ProgramID(), &bt); err != nil {
			return err
		}
		msg, err := bt.TakeMessage()
		if err != nil {
			return err
		}
		if err := t.batch.Put(ctx, d.Address, req.Executor, &bt); err != nil {
			return err
		}
		done, err := b.MarkExecuted(element)
		if err != nil {
			return err
		}
		if err := t.batch.Put(ctx, batchKey, req.Executor, b); err != nil {
			return err
		}
		if done {
			if err := prop.MarkExecuted(c.account(), t.now); err != nil {
				return err
			}
			if err := t.batch.Put(ctx, propKey, req.Executor, prop); err != nil {
				return err
			}
		}

		signed := append([]solana.PublicKey{req.Executor}, req.Signers...)
		protected := []solana.PublicKey{req.Settings, propKey, batchKey, d.Address}
		if err := t.executeMessage(ctx, c, d.Address, b.AccountIndex, bt.EphemeralSignerBumps, msg, signed, req.Accounts, protected); err != nil {
			return err
		}

		t.emit(EventBatchTransactionExecuted, d.Address, req.BatchIndex, map[string]string{
			"element":  strconv.FormatUint(uint64(element), 10),
			"executor": req.Executor.String(),
		})
		if done {
			t.emit(EventProposalExecuted, propKey, req.BatchIndex, nil)
		}
		return nil
	})
}

// CloseBatchRequest names a batch to shrink or close.
type CloseBatchRequest struct {
	Settings   solana.PublicKey
	BatchIndex uint64
}

// CloseBatchTransaction closes the last element of a batch. Elements close
// from the end backward. An element may close once it ran, or once the
// batch proposal can no longer execute.
func (e *Engine) CloseBatchTransaction(ctx context.Context, req CloseBatchRequest) error {
	return e.run(ctx, "close_batch_transaction", func(ctx context.Context, t *opTx) error {
		c, err := t.loadSettingsRecord(ctx, req.Settings)
		if err != nil {
			return err
		}
		batchKey, b, err := t.loadBatch(ctx, req.Settings, req.BatchIndex)
		if err != nil {
			return err
		}
		element := b.Size
		_, prop, err := t.loadProposal(ctx, req.Settings, req.BatchIndex)
		if err != nil {
			return err
		}
		executed := element > 0 && element <= b.ExecutedTransactionIndex
		if !executed && !proposal.CanCloseExternalAction(c.core(), req.BatchIndex, prop) {
			return errs.ErrTransactionNotClosable.With("batch %d element %d", req.BatchIndex, element)
		}
		if err := b.RemoveLast(element); err != nil {
			return err
		}
		d, err := e.deriver.BatchTransaction(req.Settings, req.BatchIndex, element)
		if err != nil {
			return err
		}
		var bt transaction.BatchTransaction
		if err := t.batch.Load(ctx, d.Address, e.ProgramID(), &bt); err != nil {
			return err
		}
		if err := t.batch.Close(ctx, d.Address, bt.RentCollector); err != nil {
			return err
		}
		if err := t.batch.Put(ctx, batchKey, b.RentCollector, b); err != nil {
			return err
		}
		t.emit(EventBatchTransactionClosed, d.Address, req.BatchIndex, map[string]string{
			"element": strconv.FormatUint(uint64(element), 10),
		})
		return nil
	})
}

// CloseBatch closes an empty batch and its proposal. Closing a batch that
// no longer exists succeeds without effect.
func (e *Engine) CloseBatch(ctx context.Context, req CloseBatchRequest) error {
	return e.run(ctx, "close_batch", func(ctx context.Context, t *opTx) error {
		c, err := t.loadSettingsRecord(ctx, req.Settings)
		if err != nil {
			return err
		}
		batchKey, b, err := t.loadBatch(ctx, req.Settings, req.BatchIndex)
		if errors.Is(err, errs.ErrNotFound) {
			b = nil
		} else if err != nil {
			return err
		}
		propKey, prop, err := t.loadProposal(ctx, req.Settings, req.BatchIndex)
		if err != nil {
			return err
		}
		if b == nil && prop == nil {
			return nil
		}
		if !proposal.CanCloseExternalAction(c.core(), req.BatchIndex, prop) {
			return errs.ErrTransactionNotClosable.With("batch %d", req.BatchIndex)
		}
		if b != nil {
			if err := b.CheckEmpty(); err != nil {
				return err
			}
			if err := t.batch.Close(ctx, batchKey, b.RentCollector); err != nil {
				return err
			}
		}
		if prop != nil {
			if err := t.batch.Close(ctx, propKey, prop.RentCollector); err != nil {
				return err
			}
		}
		t.emit(EventBatchClosed, batchKey, req.BatchIndex, map[string]string{"settings": req.Settings.String()})
		return nil
	})
}

// Batch returns the batch stored at index.
func (e *Engine) Batch(ctx context.Context, settingsKey solana.PublicKey, index uint64) (*transaction.Batch, error) {
	t := &opTx{engine: e, batch: e.store.NewBatch()}
	_, b, err := t.loadBatch(ctx, settingsKey, index)
	return b, err
}
