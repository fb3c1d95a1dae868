package policy

import (
	"math/bits"

	"github.com/gagliardetto/solana-go"

	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/contracts"
	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/errs"
	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/token"
)

type trackedToken struct {
	info           *contracts.AccountInfo
	mint           solana.PublicKey
	amount         uint64
	delegate       *solana.PublicKey
	closeAuthority *solana.PublicKey
}

// balanceSnapshot is the vault's holdings before a program interaction: its
// native balance and every token account it owns among the passed accounts.
type balanceSnapshot struct {
	owner  solana.PublicKey
	vault  *contracts.AccountInfo
	native uint64
	tokens []trackedToken
}

func takeSnapshot(vault solana.PublicKey, infos []*contracts.AccountInfo) (*balanceSnapshot, error) {
	s := &balanceSnapshot{owner: vault}
	seen := make(map[solana.PublicKey]bool, len(infos))
	for _, info := range infos {
		if seen[info.Key] {
			continue
		}
		seen[info.Key] = true
		if info.Key == vault {
			s.vault = info
			s.native = info.Lamports
			continue
		}
		if !token.IsTokenAccount(info) {
			continue
		}
		acc, err := token.Decode(info.Data)
		if err != nil {
			return nil, err
		}
		if acc.Owner != vault {
			continue
		}
		s.tokens = append(s.tokens, trackedToken{
			info:           info,
			mint:           acc.Mint,
			amount:         acc.Amount,
			delegate:       copyKey(acc.Delegate),
			closeAuthority: copyKey(acc.CloseAuthority),
		})
	}
	return s, nil
}

func copyKey(k *solana.PublicKey) *solana.PublicKey {
	if k == nil {
		return nil
	}
	v := *k
	return &v
}

func sameKey(a, b *solana.PublicKey) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

type mintBalance struct {
	before, after uint64
}

// enforce compares the post-execution state with the snapshot and charges
// every decrease to the matching limit of p. A decrease in a mint without
// a limit is never allowed.
func (s *balanceSnapshot) enforce(now int64, p *ProgramInteraction) error {
	balances := make(map[solana.PublicKey]*mintBalance)
	var order []solana.PublicKey
	add := func(mint solana.PublicKey, before, after uint64) error {
		b, ok := balances[mint]
		if !ok {
			b = &mintBalance{}
			balances[mint] = b
			order = append(order, mint)
		}
		var c1, c2 uint64
		b.before, c1 = bits.Add64(b.before, before, 0)
		b.after, c2 = bits.Add64(b.after, after, 0)
		if c1 != 0 || c2 != 0 {
			return errs.ErrOverflow.With("balance of mint %s", mint)
		}
		return nil
	}

	if s.vault != nil {
		if err := add(solana.PublicKey{}, s.native, s.vault.Lamports); err != nil {
			return err
		}
	}
	for _, t := range s.tokens {
		if t.info.Closed() || !token.IsTokenAccount(t.info) {
			return errs.ErrTokenAccountClosed.With("%s", t.info.Key)
		}
		acc, err := token.Decode(t.info.Data)
		if err != nil {
			return err
		}
		if acc.Mint != t.mint {
			return errs.ErrTokenAuthorityChanged.With("%s changed mint", t.info.Key)
		}
		if acc.Owner != s.owner || !sameKey(acc.Delegate, t.delegate) || !sameKey(acc.CloseAuthority, t.closeAuthority) {
			return errs.ErrTokenAuthorityChanged.With("%s", t.info.Key)
		}
		if err := add(t.mint, t.amount, acc.Amount); err != nil {
			return err
		}
	}

	for _, mint := range order {
		b := balances[mint]
		if b.after >= b.before {
			continue
		}
		spent := b.before - b.after
		l := p.limit(mint)
		if l == nil {
			return errs.ErrInsufficientAllowance.With("mint %s decreased by %d without an allowance", mint, spent)
		}
		if err := l.Use(now, spent); err != nil {
			return errs.ErrInsufficientAllowance.Wrap(err).With("mint %s decreased by %d", mint, spent)
		}
	}
	return nil
}
