package smartaccount

import (
	"context"
	"strconv"

	"github.com/gagliardetto/solana-go"

	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/contracts"
	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/errs"
	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/policy"
	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/transaction"
)

// SyncRequest executes an action on the spot. The present signers stand in
// for a proposal: NumSigners must match their count, they must be distinct
// signers of the record whose permissions together cover initiate, vote and
// execute, with at least threshold voters, and the time lock must be zero.
type SyncRequest struct {
	Consensus     solana.PublicKey
	NumSigners    int
	Signers       []solana.PublicKey
	AccountIndex  uint8
	Message       *contracts.Message
	PolicyPayload *policy.Payload
	Accounts      []solana.PublicKey
}

// ExecuteTransactionSync runs a vault message of settings, or a policy
// payload, without storing a transaction or proposal.
func (e *Engine) ExecuteTransactionSync(ctx context.Context, req SyncRequest) error {
	return e.run(ctx, "execute_transaction_sync", func(ctx context.Context, t *opTx) error {
		c, err := t.loadConsensus(ctx, req.Consensus)
		if err != nil {
			return err
		}
		if err := c.checkActive(t.now); err != nil {
			return err
		}
		if err := c.core().VerifyLiveQuorum(req.NumSigners, req.Signers); err != nil {
			return err
		}
		payer := req.Signers[0]
		protected := []solana.PublicKey{req.Consensus}

		switch {
		case c.isPolicy():
			if req.PolicyPayload == nil || req.Message != nil {
				return errs.ErrInvalidPayload.With("policy execution carries a policy payload")
			}
			if err := t.evaluatePolicy(ctx, c, req.PolicyPayload, req.Signers, req.Accounts, protected, payer); err != nil {
				return err
			}
		default:
			if req.Message == nil || req.PolicyPayload != nil {
				return errs.ErrInvalidPayload.With("settings execution carries a message")
			}
			if err := t.executeMessage(ctx, c, solana.PublicKey{}, req.AccountIndex, nil, req.Message, req.Signers, req.Accounts, protected); err != nil {
				return err
			}
		}
		t.emit(EventSyncExecuted, req.Consensus, 0, map[string]string{
			"signers": strconv.Itoa(len(req.Signers)),
			"kind":    c.account().Kind().String(),
		})
		return nil
	})
}

// SyncSettingsRequest applies governance changes on the spot.
type SyncSettingsRequest struct {
	Settings   solana.PublicKey
	NumSigners int
	Signers    []solana.PublicKey
	RentPayer  solana.PublicKey
	Actions    []transaction.SettingsAction
}

// ExecuteSettingsTransactionSync applies actions to autonomous settings with
// the same live-quorum rules as ExecuteTransactionSync.
func (e *Engine) ExecuteSettingsTransactionSync(ctx context.Context, req SyncSettingsRequest) error {
	return e.run(ctx, "execute_settings_transaction_sync", func(ctx context.Context, t *opTx) error {
		c, err := t.loadAutonomous(ctx, req.Settings)
		if err != nil {
			return err
		}
		if err := c.core().VerifyLiveQuorum(req.NumSigners, req.Signers); err != nil {
			return err
		}
		if err := transaction.ValidateActions(req.Actions); err != nil {
			return err
		}
		if err := t.applySettingsActions(ctx, req.Settings, c.settings, req.Actions, payerOr(req.RentPayer, req.Signers[0])); err != nil {
			return err
		}
		t.emit(EventSyncExecuted, req.Settings, c.settings.TransactionIndex, map[string]string{
			"signers": strconv.Itoa(len(req.Signers)),
			"actions": strconv.Itoa(len(req.Actions)),
		})
		return nil
	})
}
