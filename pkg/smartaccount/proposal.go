package smartaccount

import (
	"context"

	"github.com/gagliardetto/solana-go"

	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/observability"
	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/proposal"
)

// CreateProposalRequest opens the vote on an existing action.
type CreateProposalRequest struct {
	Consensus        solana.PublicKey
	TransactionIndex uint64
	Creator          solana.PublicKey
	RentPayer        solana.PublicKey
	Draft            bool
}

// CreateProposal creates the proposal for an action. The rent payer
// receives the rent back when the proposal is closed.
func (e *Engine) CreateProposal(ctx context.Context, req CreateProposalRequest) error {
	return e.run(ctx, "create_proposal", func(ctx context.Context, t *opTx) error {
		c, err := t.loadConsensus(ctx, req.Consensus)
		if err != nil {
			return err
		}
		if err := c.checkActive(t.now); err != nil {
			return err
		}
		payer := payerOr(req.RentPayer, req.Creator)
		p, err := proposal.Create(c.account(), req.Consensus, req.Creator, payer, req.TransactionIndex, req.Draft, t.now)
		if err != nil {
			return err
		}
		d, err := e.deriver.Proposal(req.Consensus, req.TransactionIndex)
		if err != nil {
			return err
		}
		p.Bump = d.Bump
		if err := t.batch.Create(ctx, d.Address, e.ProgramID(), payer, p); err != nil {
			return err
		}
		t.emit(EventProposalCreated, d.Address, req.TransactionIndex, map[string]string{
			"consensus": req.Consensus.String(),
			"status":    p.Status.Kind.String(),
		})
		return nil
	}, observability.ProposalOperation(req.Consensus.String(), req.TransactionIndex)...)
}

// VoteRequest names a proposal and the signer acting on it.
type VoteRequest struct {
	Consensus        solana.PublicKey
	TransactionIndex uint64
	Signer           solana.PublicKey
}

type voteFunc func(p *proposal.Proposal, c *consensusRecord, signer solana.PublicKey, now int64) error

func (e *Engine) vote(ctx context.Context, name string, req VoteRequest, apply voteFunc) error {
	return e.run(ctx, name, func(ctx context.Context, t *opTx) error {
		c, err := t.loadConsensus(ctx, req.Consensus)
		if err != nil {
			return err
		}
		if err := c.checkActive(t.now); err != nil {
			return err
		}
		key, p, err := t.requireProposal(ctx, req.Consensus, req.TransactionIndex)
		if err != nil {
			return err
		}
		before := p.Status.Kind
		if err := apply(p, c, req.Signer, t.now); err != nil {
			return err
		}
		if err := t.batch.Put(ctx, key, req.Signer, p); err != nil {
			return err
		}
		t.emit(voteEvent(before, p.Status.Kind), key, req.TransactionIndex, map[string]string{
			"signer": req.Signer.String(),
			"action": name,
			"status": p.Status.Kind.String(),
		})
		return nil
	}, observability.ProposalOperation(req.Consensus.String(), req.TransactionIndex)...)
}

func voteEvent(before, after proposal.StatusKind) EventKind {
	if before == after {
		return EventProposalVoted
	}
	switch after {
	case proposal.Active:
		return EventProposalActivated
	case proposal.Approved:
		return EventProposalApproved
	case proposal.Rejected:
		return EventProposalRejected
	case proposal.Cancelled:
		return EventProposalCancelled
	default:
		return EventProposalVoted
	}
}

// ActivateProposal moves a draft proposal to Active.
func (e *Engine) ActivateProposal(ctx context.Context, req VoteRequest) error {
	return e.vote(ctx, "activate_proposal", req, func(p *proposal.Proposal, c *consensusRecord, signer solana.PublicKey, now int64) error {
		return p.Activate(c.account(), signer, now)
	})
}

// ApproveProposal records an approval.
func (e *Engine) ApproveProposal(ctx context.Context, req VoteRequest) error {
	return e.vote(ctx, "approve_proposal", req, func(p *proposal.Proposal, c *consensusRecord, signer solana.PublicKey, now int64) error {
		return p.Approve(c.account(), signer, now)
	})
}

// RejectProposal records a rejection.
func (e *Engine) RejectProposal(ctx context.Context, req VoteRequest) error {
	return e.vote(ctx, "reject_proposal", req, func(p *proposal.Proposal, c *consensusRecord, signer solana.PublicKey, now int64) error {
		return p.Reject(c.account(), signer, now)
	})
}

// CancelProposal records a cancellation of an approved proposal.
func (e *Engine) CancelProposal(ctx context.Context, req VoteRequest) error {
	return e.vote(ctx, "cancel_proposal", req, func(p *proposal.Proposal, c *consensusRecord, signer solana.PublicKey, now int64) error {
		return p.Cancel(c.account(), signer, now)
	})
}

// Proposal returns the proposal for index, or nil when none exists.
func (e *Engine) Proposal(ctx context.Context, consensusKey solana.PublicKey, index uint64) (*proposal.Proposal, error) {
	t := &opTx{engine: e, batch: e.store.NewBatch()}
	_, p, err := t.loadProposal(ctx, consensusKey, index)
	return p, err
}
