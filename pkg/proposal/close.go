package proposal

import (
	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/consensus"
)

// CanCloseSettingsAction reports whether a governance-change action and its
// proposal may be closed. A stale governance change can never execute, so
// staleness alone is enough, whatever the status. p may be nil when the
// proposal was never created or is already closed.
func CanCloseSettingsAction(c *consensus.Core, index uint64, p *Proposal) bool {
	stale := c.IsStale(index)
	if p == nil {
		return stale
	}
	return p.Status.Terminal() || stale
}

// CanCloseExternalAction reports whether an external action or batch and its
// proposal may be closed. An approved proposal stays open even when stale,
// because it can still be executed.
func CanCloseExternalAction(c *consensus.Core, index uint64, p *Proposal) bool {
	stale := c.IsStale(index)
	if p == nil {
		return stale
	}
	if p.Status.Terminal() {
		return true
	}
	switch p.Status.Kind {
	case Draft, Active:
		return stale
	default:
		return false
	}
}
