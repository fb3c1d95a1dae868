package executor

import (
	"bytes"
	"context"
	"log/slog"
	"math/bits"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	splToken "github.com/gagliardetto/solana-go/programs/token"

	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/authority"
	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/contracts"
	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/errs"
	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/token"
)

// Handler runs instructions for one program against in-memory accounts.
type Handler func(ctx context.Context, call *Call) error

// Call is an instruction with its resolved accounts and signer status.
type Call struct {
	Instruction contracts.Instruction
	accounts    map[solana.PublicKey]*contracts.AccountInfo
	signed      map[solana.PublicKey]bool
}

// Account returns the view for the i-th instruction account.
func (c *Call) Account(i int) (*contracts.AccountInfo, error) {
	if i >= len(c.Instruction.Accounts) {
		return nil, errs.ErrInvalidNumberOfAccounts.With("instruction needs account %d", i)
	}
	return c.accounts[c.Instruction.Accounts[i].PublicKey], nil
}

// Signed reports whether key authorized the call.
func (c *Call) Signed(key solana.PublicKey) bool { return c.signed[key] }

// LocalInvoker executes system and token instructions directly on account
// views. It is the sub-call layer for local runs and tests.
type LocalInvoker struct {
	deriver  authority.Deriver
	handlers map[solana.PublicKey]Handler
	logger   *slog.Logger
}

// NewLocalInvoker returns an invoker that verifies derived signers under
// programID and understands the system and token programs.
func NewLocalInvoker(programID solana.PublicKey) *LocalInvoker {
	l := &LocalInvoker{
		deriver:  authority.New(programID),
		handlers: make(map[solana.PublicKey]Handler),
		logger:   slog.Default().With("component", "local_invoker"),
	}
	l.Register(solana.SystemProgramID, systemHandler)
	l.Register(solana.TokenProgramID, tokenHandler)
	return l
}

// Register installs a handler for programID, replacing any existing one.
func (l *LocalInvoker) Register(programID solana.PublicKey, h Handler) {
	l.handlers[programID] = h
}

// Invoke implements Invoker.
func (l *LocalInvoker) Invoke(ctx context.Context, ix contracts.Instruction, accounts []*contracts.AccountInfo, signerSeeds [][][]byte) error {
	h, ok := l.handlers[ix.ProgramID]
	if !ok {
		return errs.ErrInvalidAccount.With("program %s is not available", ix.ProgramID)
	}
	if len(accounts) != len(ix.Accounts) {
		return errs.ErrInvalidNumberOfAccounts.With("%d metas, %d accounts", len(ix.Accounts), len(accounts))
	}

	call := &Call{
		Instruction: ix,
		accounts:    make(map[solana.PublicKey]*contracts.AccountInfo, len(accounts)),
		signed:      make(map[solana.PublicKey]bool),
	}
	for i, meta := range ix.Accounts {
		info := accounts[i]
		if info == nil || info.Key != meta.PublicKey {
			return errs.ErrInvalidAccount.With("account %d does not match meta %s", i, meta.PublicKey)
		}
		if meta.IsWritable && !info.IsWritable {
			return errs.ErrInvalidAccount.With("%s is not writable", meta.PublicKey)
		}
		call.accounts[meta.PublicKey] = info
		if !meta.IsSigner {
			continue
		}
		if info.IsSigner || l.derivedBy(meta.PublicKey, signerSeeds) {
			call.signed[meta.PublicKey] = true
			continue
		}
		return errs.ErrMissingSignature.With("%s", meta.PublicKey)
	}

	snaps := snapshot(ix.Accounts, call.accounts)
	if err := h(ctx, call); err != nil {
		restore(snaps, call.accounts)
		l.logger.DebugContext(ctx, "sub-call failed", "program", ix.ProgramID.String(), "error", err)
		return err
	}
	for _, snap := range snaps {
		if snap.writable || snap.matches(call.accounts[snap.key]) {
			continue
		}
		restore(snaps, call.accounts)
		l.logger.WarnContext(ctx, "sub-call modified read-only account", "program", ix.ProgramID.String(), "account", snap.key.String())
		return errs.ErrReadonlyModified.With("%s", snap.key)
	}
	return nil
}

type accountSnapshot struct {
	key      solana.PublicKey
	writable bool
	lamports uint64
	owner    solana.PublicKey
	data     []byte
}

// snapshot copies every account the call can reach. A key listed by several
// metas is writable if any of them is.
func snapshot(metas []*solana.AccountMeta, accounts map[solana.PublicKey]*contracts.AccountInfo) []*accountSnapshot {
	byKey := make(map[solana.PublicKey]*accountSnapshot, len(metas))
	var out []*accountSnapshot
	for _, meta := range metas {
		if s, ok := byKey[meta.PublicKey]; ok {
			s.writable = s.writable || meta.IsWritable
			continue
		}
		info := accounts[meta.PublicKey]
		s := &accountSnapshot{
			key:      info.Key,
			writable: meta.IsWritable,
			lamports: info.Lamports,
			owner:    info.Owner,
			data:     bytes.Clone(info.Data),
		}
		byKey[meta.PublicKey] = s
		out = append(out, s)
	}
	return out
}

func (s *accountSnapshot) matches(info *contracts.AccountInfo) bool {
	return info.Lamports == s.lamports && info.Owner == s.owner && bytes.Equal(info.Data, s.data)
}

// restore rolls every account back so a rejected call leaves no partial
// effects behind.
func restore(snaps []*accountSnapshot, accounts map[solana.PublicKey]*contracts.AccountInfo) {
	for _, s := range snaps {
		info := accounts[s.key]
		info.Lamports = s.lamports
		info.Owner = s.owner
		info.Data = bytes.Clone(s.data)
	}
}

func (l *LocalInvoker) derivedBy(key solana.PublicKey, signerSeeds [][][]byte) bool {
	for _, seeds := range signerSeeds {
		if l.deriver.Verify(key, seeds) {
			return true
		}
	}
	return false
}

func requireSigned(call *Call, key solana.PublicKey) error {
	if !call.Signed(key) {
		return errs.ErrMissingSignature.With("%s", key)
	}
	return nil
}

func moveLamports(from, to *contracts.AccountInfo, amount uint64) error {
	if from.Lamports < amount {
		return errs.ErrInsufficientFunds.With("%s has %d, needs %d", from.Key, from.Lamports, amount)
	}
	sum, carry := bits.Add64(to.Lamports, amount, 0)
	if carry != 0 {
		return errs.ErrOverflow.With("lamports of %s", to.Key)
	}
	from.Lamports -= amount
	to.Lamports = sum
	return nil
}

func systemHandler(_ context.Context, call *Call) error {
	inst, err := system.DecodeInstruction(call.Instruction.Accounts, call.Instruction.Data)
	if err != nil {
		return errs.ErrParsing.Wrap(err)
	}
	transfer, ok := inst.Impl.(*system.Transfer)
	if !ok {
		return errs.ErrInvalidAccount.With("unsupported system instruction %d", inst.TypeID.Uint32())
	}
	from, err := call.Account(0)
	if err != nil {
		return err
	}
	to, err := call.Account(1)
	if err != nil {
		return err
	}
	if err := requireSigned(call, from.Key); err != nil {
		return err
	}
	if from.Owner != solana.SystemProgramID || len(from.Data) != 0 {
		return errs.ErrInvalidAccount.With("transfer source %s must be a plain system account", from.Key)
	}
	return moveLamports(from, to, *transfer.Lamports)
}

func tokenHandler(_ context.Context, call *Call) error {
	inst, err := splToken.DecodeInstruction(call.Instruction.Accounts, call.Instruction.Data)
	if err != nil {
		return errs.ErrParsing.Wrap(err)
	}
	switch impl := inst.Impl.(type) {
	case *splToken.Transfer:
		return tokenTransfer(call, 0, 1, 2, nil, *impl.Amount)
	case *splToken.TransferChecked:
		mint, err := call.Account(1)
		if err != nil {
			return err
		}
		return tokenTransfer(call, 0, 2, 3, &mint.Key, *impl.Amount)
	case *splToken.Approve:
		return tokenApprove(call, *impl.Amount)
	case *splToken.CloseAccount:
		return tokenClose(call)
	default:
		return errs.ErrInvalidAccount.With("unsupported token instruction %d", inst.TypeID.Uint8())
	}
}

func loadToken(info *contracts.AccountInfo) (*token.Account, error) {
	if !token.IsTokenAccount(info) {
		return nil, errs.ErrInvalidAccount.With("%s is not a token account", info.Key)
	}
	return token.Decode(info.Data)
}

func storeToken(info *contracts.AccountInfo, acc *token.Account) error {
	data, err := token.Encode(acc)
	if err != nil {
		return err
	}
	info.Data = data
	return nil
}

func tokenTransfer(call *Call, srcIdx, dstIdx, authIdx int, mint *solana.PublicKey, amount uint64) error {
	srcInfo, err := call.Account(srcIdx)
	if err != nil {
		return err
	}
	dstInfo, err := call.Account(dstIdx)
	if err != nil {
		return err
	}
	auth, err := call.Account(authIdx)
	if err != nil {
		return err
	}
	src, err := loadToken(srcInfo)
	if err != nil {
		return err
	}
	dst, err := loadToken(dstInfo)
	if err != nil {
		return err
	}
	if src.Mint != dst.Mint || (mint != nil && *mint != src.Mint) {
		return errs.ErrInvalidAccount.With("mint mismatch")
	}
	if err := requireSigned(call, auth.Key); err != nil {
		return err
	}
	switch {
	case src.Owner == auth.Key:
	case src.Delegate != nil && *src.Delegate == auth.Key:
		if src.DelegatedAmount < amount {
			return errs.ErrInsufficientFunds.With("delegated %d, needs %d", src.DelegatedAmount, amount)
		}
		src.DelegatedAmount -= amount
	default:
		return errs.ErrUnauthorized.With("%s cannot move tokens of %s", auth.Key, srcInfo.Key)
	}
	if src.Amount < amount {
		return errs.ErrInsufficientFunds.With("%s holds %d, needs %d", srcInfo.Key, src.Amount, amount)
	}
	sum, carry := bits.Add64(dst.Amount, amount, 0)
	if carry != 0 {
		return errs.ErrOverflow.With("token amount of %s", dstInfo.Key)
	}
	src.Amount -= amount
	dst.Amount = sum
	if srcInfo.Key == dstInfo.Key {
		return nil
	}
	if err := storeToken(srcInfo, src); err != nil {
		return err
	}
	return storeToken(dstInfo, dst)
}

func tokenApprove(call *Call, amount uint64) error {
	srcInfo, err := call.Account(0)
	if err != nil {
		return err
	}
	delegate, err := call.Account(1)
	if err != nil {
		return err
	}
	owner, err := call.Account(2)
	if err != nil {
		return err
	}
	src, err := loadToken(srcInfo)
	if err != nil {
		return err
	}
	if src.Owner != owner.Key {
		return errs.ErrUnauthorized.With("%s does not own %s", owner.Key, srcInfo.Key)
	}
	if err := requireSigned(call, owner.Key); err != nil {
		return err
	}
	d := delegate.Key
	src.Delegate = &d
	src.DelegatedAmount = amount
	return storeToken(srcInfo, src)
}

func tokenClose(call *Call) error {
	accInfo, err := call.Account(0)
	if err != nil {
		return err
	}
	dest, err := call.Account(1)
	if err != nil {
		return err
	}
	owner, err := call.Account(2)
	if err != nil {
		return err
	}
	acc, err := loadToken(accInfo)
	if err != nil {
		return err
	}
	closer := acc.Owner
	if acc.CloseAuthority != nil {
		closer = *acc.CloseAuthority
	}
	if closer != owner.Key {
		return errs.ErrUnauthorized.With("%s cannot close %s", owner.Key, accInfo.Key)
	}
	if err := requireSigned(call, owner.Key); err != nil {
		return err
	}
	if acc.Amount != 0 {
		return errs.ErrInvalidAccount.With("%s still holds %d tokens", accInfo.Key, acc.Amount)
	}
	if err := moveLamports(accInfo, dest, accInfo.Lamports); err != nil {
		return err
	}
	accInfo.Data = nil
	accInfo.Owner = solana.SystemProgramID
	return nil
}
