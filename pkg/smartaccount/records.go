package smartaccount

import (
	"context"
	"errors"

	"github.com/gagliardetto/solana-go"

	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/codec"
	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/consensus"
	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/contracts"
	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/errs"
	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/policy"
	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/proposal"
	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/settings"
)

// consensusRecord is a loaded settings or policy record. For a policy,
// settings holds its governing settings, read-only.
type consensusRecord struct {
	key         solana.PublicKey
	settingsKey solana.PublicKey
	settings    *settings.Settings
	policy      *policy.Policy
}

func (c *consensusRecord) account() consensus.Account {
	if c.policy != nil {
		return c.policy
	}
	return c.settings
}

func (c *consensusRecord) core() *consensus.Core { return c.account().Consensus() }

func (c *consensusRecord) isPolicy() bool { return c.policy != nil }

// checkActive fails for a policy that is expired or not started.
func (c *consensusRecord) checkActive(now int64) error {
	if c.policy == nil {
		return nil
	}
	return c.policy.IsActive(now, c.settings)
}

func (t *opTx) loadSettings(ctx context.Context, key solana.PublicKey) (*settings.Settings, error) {
	var s settings.Settings
	if err := t.batch.Load(ctx, key, t.engine.ProgramID(), &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// loadConsensus loads the settings or policy record at key.
func (t *opTx) loadConsensus(ctx context.Context, key solana.PublicKey) (*consensusRecord, error) {
	acc, err := t.batch.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if acc == nil {
		return nil, errs.ErrNotFound.With("consensus account %s", key)
	}
	if acc.Owner != t.engine.ProgramID() {
		return nil, errs.ErrInvalidOwner.With("%s owned by %s", key, acc.Owner)
	}

	if codec.Check(acc.Data, (&settings.Settings{}).AccountName()) == nil {
		s, err := t.loadSettings(ctx, key)
		if err != nil {
			return nil, err
		}
		return &consensusRecord{key: key, settingsKey: key, settings: s}, nil
	}

	var p policy.Policy
	if err := t.batch.Load(ctx, key, t.engine.ProgramID(), &p); err != nil {
		if errors.Is(err, errs.ErrInvalidAccount) {
			return nil, errs.ErrInvalidAccount.With("%s is neither settings nor a policy", key)
		}
		return nil, err
	}
	s, err := t.loadSettings(ctx, p.Settings)
	if err != nil {
		return nil, err
	}
	return &consensusRecord{key: key, settingsKey: p.Settings, settings: s, policy: &p}, nil
}

// loadSettingsRecord loads key and fails if it is a policy.
func (t *opTx) loadSettingsRecord(ctx context.Context, key solana.PublicKey) (*consensusRecord, error) {
	c, err := t.loadConsensus(ctx, key)
	if err != nil {
		return nil, err
	}
	if c.isPolicy() {
		return nil, errs.ErrInvalidPolicyKind.With("%s is a policy, settings required", key)
	}
	return c, nil
}

// putConsensus re-checks the invariants of c and stages the record itself.
// The governing settings of a policy are not written.
func (t *opTx) putConsensus(ctx context.Context, c *consensusRecord, payer solana.PublicKey) error {
	if c.policy != nil {
		if err := c.policy.Invariant(); err != nil {
			return err
		}
		return t.batch.Put(ctx, c.key, payer, c.policy)
	}
	return t.putSettings(ctx, c.settingsKey, c.settings, payer)
}

func (t *opTx) putSettings(ctx context.Context, key solana.PublicKey, s *settings.Settings, payer solana.PublicKey) error {
	if err := s.Invariant(); err != nil {
		return err
	}
	return t.batch.Put(ctx, key, payer, s)
}

func (t *opTx) proposalKey(consensusKey solana.PublicKey, index uint64) (solana.PublicKey, error) {
	d, err := t.engine.deriver.Proposal(consensusKey, index)
	return d.Address, err
}

// loadProposal returns the proposal for index, or nil when it does not
// exist.
func (t *opTx) loadProposal(ctx context.Context, consensusKey solana.PublicKey, index uint64) (solana.PublicKey, *proposal.Proposal, error) {
	key, err := t.proposalKey(consensusKey, index)
	if err != nil {
		return key, nil, err
	}
	var p proposal.Proposal
	if err := t.batch.Load(ctx, key, t.engine.ProgramID(), &p); err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return key, nil, nil
		}
		return key, nil, err
	}
	return key, &p, nil
}

func (t *opTx) requireProposal(ctx context.Context, consensusKey solana.PublicKey, index uint64) (solana.PublicKey, *proposal.Proposal, error) {
	key, p, err := t.loadProposal(ctx, consensusKey, index)
	if err != nil {
		return key, nil, err
	}
	if p == nil {
		return key, nil, errs.ErrNotFound.With("proposal %d of %s", index, consensusKey)
	}
	return key, p, nil
}

// loadOptional loads r at key and reports false when it does not exist.
func (t *opTx) loadOptional(ctx context.Context, key solana.PublicKey, r codec.Record) (bool, error) {
	if err := t.batch.Load(ctx, key, t.engine.ProgramID(), r); err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// accountSet is the set of account views handed to sub-calls.
type accountSet struct {
	infos   []*contracts.AccountInfo
	byKey   map[solana.PublicKey]*contracts.AccountInfo
	existed map[solana.PublicKey]bool
}

var readOnlyPrograms = map[solana.PublicKey]bool{
	solana.SystemProgramID: true,
	solana.TokenProgramID:  true,
}

// loadAccounts builds views for keys in order, deduplicated. Missing
// accounts appear as empty system accounts. signed keys are marked as outer
// signers; every other account is writable unless it is a program or
// protected.
func (t *opTx) loadAccounts(ctx context.Context, keys []solana.PublicKey, signed []solana.PublicKey, protected []solana.PublicKey) (*accountSet, error) {
	set := &accountSet{
		byKey:   make(map[solana.PublicKey]*contracts.AccountInfo, len(keys)),
		existed: make(map[solana.PublicKey]bool, len(keys)),
	}
	isSigned := make(map[solana.PublicKey]bool, len(signed))
	for _, k := range signed {
		isSigned[k] = true
	}
	isProtected := make(map[solana.PublicKey]bool, len(protected))
	for _, k := range protected {
		isProtected[k] = true
	}
	for _, k := range keys {
		if _, ok := set.byKey[k]; ok {
			continue
		}
		acc, err := t.batch.Get(ctx, k)
		if err != nil {
			return nil, err
		}
		set.existed[k] = acc != nil
		if acc == nil {
			acc = &contracts.Account{Key: k, Owner: solana.SystemProgramID}
		}
		info := &contracts.AccountInfo{
			Account:    *acc,
			IsSigner:   isSigned[k],
			IsWritable: !readOnlyPrograms[k] && !isProtected[k] && acc.Owner != solana.BPFLoaderUpgradeableProgramID,
		}
		set.infos = append(set.infos, info)
		set.byKey[k] = info
	}
	return set, nil
}

// aligned returns the views for keys in order; keys must have been loaded.
func (s *accountSet) aligned(keys []solana.PublicKey) []*contracts.AccountInfo {
	out := make([]*contracts.AccountInfo, len(keys))
	for i, k := range keys {
		out[i] = s.byKey[k]
	}
	return out
}

// persist stages every writable account. Accounts emptied by the sub-calls
// are deleted; placeholders for accounts that never existed and stayed
// empty are dropped.
func (t *opTx) persist(s *accountSet) {
	for _, info := range s.infos {
		if !info.IsWritable {
			continue
		}
		if info.Closed() {
			if s.existed[info.Key] {
				t.batch.Delete(info.Key)
			}
			continue
		}
		acc := info.Account
		t.batch.PutAccount(&acc)
	}
}
