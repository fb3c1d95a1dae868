package smartaccount

import (
	"context"
	"errors"
	"strconv"

	"github.com/gagliardetto/solana-go"

	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/errs"
	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/proposal"
	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/signers"
	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/transaction"
)

// CreateSettingsTransactionRequest proposes governance changes to
// autonomous settings.
type CreateSettingsTransactionRequest struct {
	Settings  solana.PublicKey
	Creator   solana.PublicKey
	RentPayer solana.PublicKey
	Actions   []transaction.SettingsAction
}

// loadAutonomous loads settings that govern themselves through proposals.
func (t *opTx) loadAutonomous(ctx context.Context, key solana.PublicKey) (*consensusRecord, error) {
	c, err := t.loadSettingsRecord(ctx, key)
	if err != nil {
		return nil, err
	}
	if c.settings.IsControlled() {
		return nil, errs.ErrNotAutonomous.With("%s is controlled by %s", key, c.settings.SettingsAuthority)
	}
	return c, nil
}

// CreateSettingsTransaction stores the actions under the next transaction
// index and returns the index.
func (e *Engine) CreateSettingsTransaction(ctx context.Context, req CreateSettingsTransactionRequest) (uint64, error) {
	var index uint64
	err := e.run(ctx, "create_settings_transaction", func(ctx context.Context, t *opTx) error {
		c, err := t.loadAutonomous(ctx, req.Settings)
		if err != nil {
			return err
		}
		if err := c.core().RequireSigner(req.Creator, signers.Initiate); err != nil {
			return err
		}
		if err := transaction.ValidateActions(req.Actions); err != nil {
			return err
		}
		if index, err = c.core().NextTransactionIndex(); err != nil {
			return err
		}
		d, err := e.deriver.Transaction(req.Settings, index)
		if err != nil {
			return err
		}
		payer := payerOr(req.RentPayer, req.Creator)
		st := &transaction.SettingsTransaction{
			Settings:      req.Settings,
			Creator:       req.Creator,
			RentCollector: payer,
			Index:         index,
			Bump:          d.Bump,
			Actions:       req.Actions,
		}
		if err := t.batch.Create(ctx, d.Address, e.ProgramID(), payer, st); err != nil {
			return err
		}
		if err := t.putSettings(ctx, req.Settings, c.settings, payer); err != nil {
			return err
		}
		t.emit(EventSettingsTxCreated, d.Address, index, map[string]string{
			"settings": req.Settings.String(),
			"actions":  strconv.Itoa(len(req.Actions)),
		})
		return nil
	})
	return index, err
}

// ExecuteSettingsTransactionRequest applies an approved settings
// transaction. RentPayer funds records the actions create.
type ExecuteSettingsTransactionRequest struct {
	Settings         solana.PublicKey
	TransactionIndex uint64
	Executor         solana.PublicKey
	RentPayer        solana.PublicKey
}

// ExecuteSettingsTransaction applies the actions of an approved, non-stale
// settings transaction in order.
func (e *Engine) ExecuteSettingsTransaction(ctx context.Context, req ExecuteSettingsTransactionRequest) error {
	return e.run(ctx, "execute_settings_transaction", func(ctx context.Context, t *opTx) error {
		c, err := t.loadAutonomous(ctx, req.Settings)
		if err != nil {
			return err
		}
		if err := c.core().RequireSigner(req.Executor, signers.Execute); err != nil {
			return err
		}
		if c.core().IsStale(req.TransactionIndex) {
			return errs.ErrStaleProposal.With("settings transaction %d", req.TransactionIndex)
		}
		propKey, prop, err := t.requireProposal(ctx, req.Settings, req.TransactionIndex)
		if err != nil {
			return err
		}
		d, err := e.deriver.Transaction(req.Settings, req.TransactionIndex)
		if err != nil {
			return err
		}
		var st transaction.SettingsTransaction
		if err := t.batch.Load(ctx, d.Address, e.ProgramID(), &st); err != nil {
			return err
		}
		if st.Settings != req.Settings {
			return errs.ErrSettingsMismatch.With("settings transaction belongs to %s", st.Settings)
		}
		if err := prop.MarkExecuted(c.account(), t.now); err != nil {
			return err
		}
		if err := t.batch.Put(ctx, propKey, req.Executor, prop); err != nil {
			return err
		}
		if err := t.applySettingsActions(ctx, req.Settings, c.settings, st.Actions, payerOr(req.RentPayer, req.Executor)); err != nil {
			return err
		}
		t.emit(EventSettingsTxExecuted, d.Address, req.TransactionIndex, map[string]string{"executor": req.Executor.String()})
		t.emit(EventProposalExecuted, propKey, req.TransactionIndex, nil)
		return nil
	})
}

// CloseSettingsTransaction closes a settings transaction and its proposal
// once the proposal is terminal or the transaction went stale. Closing
// records that no longer exist succeeds without effect.
func (e *Engine) CloseSettingsTransaction(ctx context.Context, req CloseRequest) error {
	return e.run(ctx, "close_settings_transaction", func(ctx context.Context, t *opTx) error {
		c, err := t.loadSettingsRecord(ctx, req.Consensus)
		if err != nil {
			return err
		}
		d, err := e.deriver.Transaction(req.Consensus, req.TransactionIndex)
		if err != nil {
			return err
		}
		var st transaction.SettingsTransaction
		exists, err := t.loadOptional(ctx, d.Address, &st)
		if err != nil {
			return err
		}
		propKey, prop, err := t.loadProposal(ctx, req.Consensus, req.TransactionIndex)
		if err != nil {
			return err
		}
		if !exists && prop == nil {
			return nil
		}
		if !proposal.CanCloseSettingsAction(c.core(), req.TransactionIndex, prop) {
			return errs.ErrTransactionNotClosable.With("settings transaction %d", req.TransactionIndex)
		}
		if exists {
			if err := t.batch.Close(ctx, d.Address, st.RentCollector); err != nil {
				return err
			}
		}
		if prop != nil {
			if err := t.batch.Close(ctx, propKey, prop.RentCollector); err != nil {
				return err
			}
		}
		t.emit(EventSettingsTxClosed, d.Address, req.TransactionIndex, map[string]string{"settings": req.Consensus.String()})
		return nil
	})
}

// SettingsTransaction returns the settings transaction at index.
func (e *Engine) SettingsTransaction(ctx context.Context, settingsKey solana.PublicKey, index uint64) (*transaction.SettingsTransaction, error) {
	d, err := e.deriver.Transaction(settingsKey, index)
	if err != nil {
		return nil, err
	}
	var st transaction.SettingsTransaction
	if err := e.store.Load(ctx, d.Address, e.ProgramID(), &st); err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return nil, errs.ErrNotFound.With("settings transaction %d of %s", index, settingsKey)
		}
		return nil, err
	}
	return &st, nil
}
