package policy

import (
	"context"

	"github.com/gagliardetto/solana-go"

	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/budget"
	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/contracts"
	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/errs"
	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/executor"
)

// ProgramInteraction lets the policy signers call other programs from one
// vault, as long as every instruction matches a declared shape.
type ProgramInteraction struct {
	AccountIndex uint8 `json:"account_index"`
	// Instructions lists the allowed call shapes. An instruction passes when
	// it satisfies any shape declared for its program. Empty allows any call.
	Instructions []InstructionConstraint `json:"instructions,omitempty"`
	// Spending enables the balance constraint: vault balances may only
	// decrease within these limits, one per mint (zero key = native).
	Spending []budget.Limit `json:"spending,omitempty"`
}

// ProgramInteractionPayload is the message to run from the vault.
type ProgramInteractionPayload struct {
	Message contracts.Message `json:"message"`
}

func (p *ProgramInteraction) clone() *ProgramInteraction {
	c := &ProgramInteraction{AccountIndex: p.AccountIndex}
	for _, ic := range p.Instructions {
		c.Instructions = append(c.Instructions, ic.clone())
	}
	for i := range p.Spending {
		c.Spending = append(c.Spending, *p.Spending[i].Clone())
	}
	return c
}

func (p *ProgramInteraction) validate() error {
	for _, ic := range p.Instructions {
		if err := ic.validate(); err != nil {
			return err
		}
	}
	seen := make(map[solana.PublicKey]bool, len(p.Spending))
	for i := range p.Spending {
		l := &p.Spending[i]
		if seen[l.Mint] {
			return errs.ErrInvalidPolicyPayload.With("two balance limits for mint %s", l.Mint)
		}
		seen[l.Mint] = true
		if err := l.Invariant(); err != nil {
			return err
		}
	}
	return nil
}

func (p *ProgramInteraction) limit(mint solana.PublicKey) *budget.Limit {
	for i := range p.Spending {
		if p.Spending[i].Mint == mint {
			return &p.Spending[i]
		}
	}
	return nil
}

// checkInstruction ORs the shapes declared for the program and ANDs the
// constraints within a shape. The last failure is reported.
func (p *ProgramInteraction) checkInstruction(ix contracts.Instruction, accounts []ResolvedAccount) error {
	if len(p.Instructions) == 0 {
		return nil
	}
	var last error
	for _, ic := range p.Instructions {
		if ic.ProgramID != ix.ProgramID {
			continue
		}
		err := ic.Check(ix.ProgramID, accounts, ix.Data)
		if err == nil {
			return nil
		}
		last = err
	}
	if last == nil {
		return errs.ErrProgramInteractionCall.With("no shape declared for program %s", ix.ProgramID)
	}
	return last
}

func (p *ProgramInteraction) validatePayload(env *Env, payload *Payload) error {
	m := &payload.ProgramInteraction.Message
	if err := m.Validate(); err != nil {
		return err
	}
	for i := range m.Instructions {
		ix := m.Instruction(i)
		resolved := make([]ResolvedAccount, len(ix.Accounts))
		for j, meta := range ix.Accounts {
			resolved[j] = ResolvedAccount{Key: meta.PublicKey}
			if info, err := env.Account(meta.PublicKey); err == nil {
				resolved[j].Data = info.Data
			}
		}
		if err := p.checkInstruction(ix, resolved); err != nil {
			return err
		}
	}
	return nil
}

func (p *ProgramInteraction) executePayload(ctx context.Context, env *Env, payload *Payload) error {
	m := &payload.ProgramInteraction.Message
	vault, err := env.Vault(p.AccountIndex)
	if err != nil {
		return err
	}
	infos := make([]*contracts.AccountInfo, len(m.AccountKeys))
	for i, key := range m.AccountKeys {
		if infos[i], err = env.Account(key); err != nil {
			return err
		}
		infos[i].IsWritable = infos[i].IsWritable && m.IsWritableIndex(i)
	}
	protected := append([]solana.PublicKey{env.PolicyKey}, env.Protected...)
	em, err := executor.NewExecutableMessage(executor.Params{
		Message:   m,
		Accounts:  infos,
		Vault:     vault,
		Protected: protected,
		Signers:   env.core,
	})
	if err != nil {
		return err
	}

	var snap *balanceSnapshot
	if len(p.Spending) > 0 {
		if snap, err = takeSnapshot(vault.Address, infos); err != nil {
			return err
		}
	}
	if err := em.Execute(ctx, env.Invoker); err != nil {
		return err
	}
	if snap == nil {
		return nil
	}
	return snap.enforce(env.Now, p)
}
