package store

import (
	"context"
	"sync"

	"github.com/gagliardetto/solana-go"

	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/contracts"
)

// MemoryBackend keeps accounts in a map. Safe for concurrent use.
type MemoryBackend struct {
	mu       sync.RWMutex
	accounts map[solana.PublicKey]*contracts.Account
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{accounts: make(map[solana.PublicKey]*contracts.Account)}
}

func (m *MemoryBackend) Get(_ context.Context, key solana.PublicKey) (*contracts.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	acc, ok := m.accounts[key]
	if !ok {
		return nil, nil
	}
	return acc.Clone(), nil
}

func (m *MemoryBackend) Commit(ctx context.Context, writes []Write) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, w := range writes {
		if w.Account == nil {
			delete(m.accounts, w.Key)
			continue
		}
		m.accounts[w.Key] = w.Account.Clone()
	}
	return nil
}

// Len returns the number of stored accounts.
func (m *MemoryBackend) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.accounts)
}

func (m *MemoryBackend) Close() error { return nil }
