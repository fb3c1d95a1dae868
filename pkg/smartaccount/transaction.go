package smartaccount

import (
	"context"
	"errors"

	"github.com/gagliardetto/solana-go"

	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/authority"
	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/contracts"
	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/errs"
	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/executor"
	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/observability"
	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/policy"
	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/proposal"
	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/signers"
	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/transaction"
)

// CreateTransactionRequest stores an action for a settings vault or a
// policy. Settings take a Message; policies take a PolicyPayload.
type CreateTransactionRequest struct {
	Consensus        solana.PublicKey
	Creator          solana.PublicKey
	RentPayer        solana.PublicKey
	AccountIndex     uint8
	EphemeralSigners uint8
	Message          *contracts.Message
	PolicyPayload    *policy.Payload
}

// CreateTransaction stores a new action under the next transaction index
// and returns the index.
func (e *Engine) CreateTransaction(ctx context.Context, req CreateTransactionRequest) (uint64, error) {
	var index uint64
	err := e.run(ctx, "create_transaction", func(ctx context.Context, t *opTx) error {
		c, err := t.loadConsensus(ctx, req.Consensus)
		if err != nil {
			return err
		}
		index, err = t.createTransaction(ctx, c, req)
		return err
	})
	return index, err
}

func (t *opTx) createTransaction(ctx context.Context, c *consensusRecord, req CreateTransactionRequest) (uint64, error) {
	e := t.engine
	if err := c.checkActive(t.now); err != nil {
		return 0, err
	}
	if err := c.core().RequireSigner(req.Creator, signers.Initiate); err != nil {
		return 0, err
	}

	var payload transaction.Payload
	switch {
	case c.isPolicy():
		if req.PolicyPayload == nil || req.Message != nil {
			return 0, errs.ErrInvalidPayload.With("policy transactions carry a policy payload")
		}
		env, _, err := t.policyEnv(ctx, c, req.PolicyPayload, nil, nil)
		if err != nil {
			return 0, err
		}
		if err := c.policy.ValidatePayload(env, req.PolicyPayload); err != nil {
			return 0, err
		}
		payload.Policy = req.PolicyPayload
	default:
		if req.Message == nil || req.PolicyPayload != nil {
			return 0, errs.ErrInvalidPayload.With("settings transactions carry a message")
		}
		if err := req.Message.Validate(); err != nil {
			return 0, err
		}
		payload.Message = &transaction.Message{AccountIndex: req.AccountIndex, Message: *req.Message}
	}

	index, err := c.core().NextTransactionIndex()
	if err != nil {
		return 0, err
	}
	d, err := e.deriver.Transaction(c.key, index)
	if err != nil {
		return 0, err
	}
	if payload.Message != nil {
		bumps, err := ephemeralBumps(e.deriver, d.Address, req.EphemeralSigners)
		if err != nil {
			return 0, err
		}
		payload.Message.EphemeralSignerBumps = bumps
	}

	payer := payerOr(req.RentPayer, req.Creator)
	tx := &transaction.Transaction{
		Consensus:     c.key,
		Creator:       req.Creator,
		RentCollector: payer,
		Index:         index,
		Bump:          d.Bump,
		Payload:       payload,
	}
	if err := tx.Validate(); err != nil {
		return 0, err
	}
	if err := t.batch.Create(ctx, d.Address, e.ProgramID(), payer, tx); err != nil {
		return 0, err
	}
	if err := t.putConsensus(ctx, c, payer); err != nil {
		return 0, err
	}
	t.emit(EventTransactionCreated, d.Address, index, map[string]string{
		"consensus": c.key.String(),
		"creator":   req.Creator.String(),
	})
	return index, nil
}

func ephemeralBumps(d authority.Deriver, txKey solana.PublicKey, n uint8) ([]uint8, error) {
	bumps := make([]uint8, n)
	for i := range bumps {
		e, err := d.EphemeralSigner(txKey, uint8(i))
		if err != nil {
			return nil, err
		}
		bumps[i] = e.Bump
	}
	return bumps, nil
}

// ExecuteRequest executes an approved action.
type ExecuteRequest struct {
	Consensus        solana.PublicKey
	TransactionIndex uint64
	Executor         solana.PublicKey
	// Signers are keys that signed the outer call besides the executor.
	Signers []solana.PublicKey
	// Accounts lists extra accounts the action needs beyond those it names.
	Accounts []solana.PublicKey
}

func (r ExecuteRequest) signed() []solana.PublicKey {
	return append([]solana.PublicKey{r.Executor}, r.Signers...)
}

// ExecuteTransaction runs an approved action once its time lock elapsed.
// The stored payload is consumed before any effect, and the proposal flips
// to Executed.
func (e *Engine) ExecuteTransaction(ctx context.Context, req ExecuteRequest) error {
	return e.run(ctx, "execute_transaction", func(ctx context.Context, t *opTx) error {
		c, err := t.loadConsensus(ctx, req.Consensus)
		if err != nil {
			return err
		}
		if err := c.checkActive(t.now); err != nil {
			return err
		}
		if err := c.core().RequireSigner(req.Executor, signers.Execute); err != nil {
			return err
		}
		propKey, prop, err := t.requireProposal(ctx, req.Consensus, req.TransactionIndex)
		if err != nil {
			return err
		}
		if err := prop.CheckExecutable(c.account(), t.now); err != nil {
			return err
		}

		txKey, err := e.deriver.Transaction(req.Consensus, req.TransactionIndex)
		if err != nil {
			return err
		}
		var tx transaction.Transaction
		if err := t.batch.Load(ctx, txKey.Address, e.ProgramID(), &tx); err != nil {
			return err
		}
		if tx.Consensus != req.Consensus {
			return errs.ErrSettingsMismatch.With("transaction belongs to %s", tx.Consensus)
		}
		payload, err := tx.TakePayload()
		if err != nil {
			return err
		}
		if err := t.batch.Put(ctx, txKey.Address, req.Executor, &tx); err != nil {
			return err
		}
		if err := prop.MarkExecuted(c.account(), t.now); err != nil {
			return err
		}
		if err := t.batch.Put(ctx, propKey, req.Executor, prop); err != nil {
			return err
		}

		protected := []solana.PublicKey{req.Consensus, propKey, txKey.Address}
		switch {
		case payload.Message != nil:
			if c.isPolicy() {
				return errs.ErrInvalidPayload.With("policy transaction holds a vault message")
			}
			if err := t.executeMessage(ctx, c, txKey.Address, payload.Message.AccountIndex, payload.Message.EphemeralSignerBumps, &payload.Message.Message, req.signed(), req.Accounts, protected); err != nil {
				return err
			}
		case payload.Policy != nil:
			if !c.isPolicy() {
				return errs.ErrInvalidPayload.With("settings transaction holds a policy payload")
			}
			if err := t.evaluatePolicy(ctx, c, payload.Policy, req.signed(), req.Accounts, protected, req.Executor); err != nil {
				return err
			}
		}

		t.emit(EventTransactionExecuted, txKey.Address, req.TransactionIndex, map[string]string{
			"consensus": req.Consensus.String(),
			"executor":  req.Executor.String(),
		})
		t.emit(EventProposalExecuted, propKey, req.TransactionIndex, nil)
		return nil
	}, observability.ProposalOperation(req.Consensus.String(), req.TransactionIndex)...)
}

// executeMessage runs a vault message signed by the vault at accountIndex
// and the ephemeral signers of txKey, then stages the touched accounts.
func (t *opTx) executeMessage(ctx context.Context, c *consensusRecord, txKey solana.PublicKey, accountIndex uint8, bumps []uint8, msg *contracts.Message, signed, extra, protected []solana.PublicKey) error {
	e := t.engine
	vault, err := e.deriver.SmartAccount(c.settingsKey, accountIndex)
	if err != nil {
		return err
	}
	var ephemeral []authority.Derived
	if len(bumps) > 0 {
		if ephemeral, err = transaction.EphemeralSigners(e.deriver, txKey, bumps); err != nil {
			return err
		}
	}

	keys := append(append([]solana.PublicKey(nil), msg.AccountKeys...), extra...)
	set, err := t.loadAccounts(ctx, keys, signed, protected)
	if err != nil {
		return err
	}
	for i, k := range msg.AccountKeys {
		info := set.byKey[k]
		info.IsWritable = info.IsWritable && msg.IsWritableIndex(i)
	}

	em, err := executor.NewExecutableMessage(executor.Params{
		Message:          msg,
		Accounts:         set.aligned(msg.AccountKeys),
		Vault:            vault,
		EphemeralSigners: ephemeral,
		Protected:        protected,
		Signers:          c.core(),
	})
	if err != nil {
		return err
	}
	if err := em.Execute(ctx, e.invoker); err != nil {
		return err
	}
	t.persist(set)
	return nil
}

// policyEnv loads the accounts payload needs into a policy environment.
func (t *opTx) policyEnv(ctx context.Context, c *consensusRecord, payload *policy.Payload, signed, extra []solana.PublicKey) (*policy.Env, *accountSet, error) {
	e := t.engine
	keys, err := c.policy.AccountKeys(e.deriver, c.settingsKey, payload)
	if err != nil {
		return nil, nil, err
	}
	protected := []solana.PublicKey{c.key, c.settingsKey}
	set, err := t.loadAccounts(ctx, append(keys, extra...), signed, protected)
	if err != nil {
		return nil, nil, err
	}
	env := &policy.Env{
		SettingsKey: c.settingsKey,
		Settings:    c.settings,
		PolicyKey:   c.key,
		Deriver:     e.deriver,
		Invoker:     e.invoker,
		Accounts:    set.infos,
		Protected:   protected,
		Now:         t.now,
	}
	return env, set, nil
}

// evaluatePolicy runs payload under policy c and stages the policy, the
// touched accounts and, for settings changes, the governing settings.
func (t *opTx) evaluatePolicy(ctx context.Context, c *consensusRecord, payload *policy.Payload, signed, extra, protected []solana.PublicKey, payer solana.PublicKey) error {
	env, set, err := t.policyEnv(ctx, c, payload, signed, extra)
	if err != nil {
		return err
	}
	env.Protected = append(env.Protected, protected...)
	if err := c.policy.Evaluate(ctx, env, payload); err != nil {
		return err
	}
	t.persist(set)
	if payload.SettingsChange != nil {
		if err := t.putSettings(ctx, c.settingsKey, c.settings, payer); err != nil {
			return err
		}
		t.emit(EventSettingsChanged, c.settingsKey, c.settings.TransactionIndex, map[string]string{"policy": c.key.String()})
	}
	return t.putConsensus(ctx, c, payer)
}

// CloseRequest closes a finished or stale action and refunds its rent.
type CloseRequest struct {
	Consensus        solana.PublicKey
	TransactionIndex uint64
}

// CloseTransaction closes an action and its proposal once the proposal is
// terminal, or stale and not approved. Closing records that no longer exist
// succeeds without effect.
func (e *Engine) CloseTransaction(ctx context.Context, req CloseRequest) error {
	return e.run(ctx, "close_transaction", func(ctx context.Context, t *opTx) error {
		txKey, err := e.deriver.Transaction(req.Consensus, req.TransactionIndex)
		if err != nil {
			return err
		}
		var tx transaction.Transaction
		txExists, err := t.loadOptional(ctx, txKey.Address, &tx)
		if err != nil {
			return err
		}
		propKey, prop, err := t.loadProposal(ctx, req.Consensus, req.TransactionIndex)
		if err != nil {
			return err
		}
		if !txExists && prop == nil {
			return nil
		}

		c, err := t.loadConsensus(ctx, req.Consensus)
		switch {
		case errors.Is(err, errs.ErrNotFound):
			// The governing policy was removed; nothing can execute anymore.
		case err != nil:
			return err
		case !proposal.CanCloseExternalAction(c.core(), req.TransactionIndex, prop):
			return errs.ErrTransactionNotClosable.With("transaction %d", req.TransactionIndex)
		}

		if txExists {
			if err := t.batch.Close(ctx, txKey.Address, tx.RentCollector); err != nil {
				return err
			}
		}
		if prop != nil {
			if err := t.batch.Close(ctx, propKey, prop.RentCollector); err != nil {
				return err
			}
		}
		t.emit(EventTransactionClosed, txKey.Address, req.TransactionIndex, map[string]string{"consensus": req.Consensus.String()})
		return nil
	})
}

// Transaction returns the stored action at index.
func (e *Engine) Transaction(ctx context.Context, consensusKey solana.PublicKey, index uint64) (*transaction.Transaction, error) {
	d, err := e.deriver.Transaction(consensusKey, index)
	if err != nil {
		return nil, err
	}
	var tx transaction.Transaction
	if err := e.store.Load(ctx, d.Address, e.ProgramID(), &tx); err != nil {
		return nil, err
	}
	return &tx, nil
}
