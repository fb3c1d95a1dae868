// Package transaction holds the stored action descriptions a proposal votes
// on: single transactions (a vault message or a policy payload), settings
// transactions, batches and their elements, and the staging buffer used to
// upload large messages.
package transaction

import (
	"github.com/gagliardetto/solana-go"

	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/authority"
	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/contracts"
	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/errs"
	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/policy"
)

// Message is a vault message: the instructions to run with the smart
// account at AccountIndex as signer, plus one bump per ephemeral signer.
type Message struct {
	AccountIndex         uint8             `json:"account_index"`
	EphemeralSignerBumps []uint8           `json:"ephemeral_signer_bumps"`
	Message              contracts.Message `json:"message"`
}

// Payload is what a Transaction executes. Exactly one field is set until the
// payload is taken for execution; afterwards both are nil.
type Payload struct {
	Message *Message        `json:"message,omitempty"`
	Policy  *policy.Payload `json:"policy,omitempty"`
}

// Empty reports whether the payload has been consumed.
func (p Payload) Empty() bool { return p.Message == nil && p.Policy == nil }

// Transaction is a single external action owned by a settings or policy
// record.
type Transaction struct {
	Consensus     solana.PublicKey `json:"consensus"`
	Creator       solana.PublicKey `json:"creator"`
	RentCollector solana.PublicKey `json:"rent_collector"`
	Index         uint64           `json:"index"`
	Bump          uint8            `json:"bump"`
	Payload       Payload          `json:"payload"`
}

func (*Transaction) AccountName() string { return "Transaction" }

// Validate checks that exactly one payload kind is present.
func (t *Transaction) Validate() error {
	if t.Payload.Message != nil && t.Payload.Policy != nil {
		return errs.ErrInvalidPayload.With("transaction holds both a message and a policy payload")
	}
	if t.Payload.Empty() {
		return errs.ErrInvalidPayload.With("transaction holds no payload")
	}
	if m := t.Payload.Message; m != nil {
		return m.Message.Validate()
	}
	_, err := t.Payload.Policy.Kind()
	return err
}

// TakePayload moves the payload out of the record. The record keeps no copy,
// so a second call fails with ErrPayloadConsumed.
func (t *Transaction) TakePayload() (Payload, error) {
	if t.Payload.Empty() {
		return Payload{}, errs.ErrPayloadConsumed.With("transaction %d", t.Index)
	}
	p := t.Payload
	t.Payload = Payload{}
	return p, nil
}

// EphemeralSigners derives the per-transaction signers of a message.
func EphemeralSigners(d authority.Deriver, txKey solana.PublicKey, bumps []uint8) ([]authority.Derived, error) {
	out := make([]authority.Derived, 0, len(bumps))
	for i, bump := range bumps {
		e, err := d.EphemeralSigner(txKey, uint8(i))
		if err != nil {
			return nil, err
		}
		if e.Bump != bump {
			return nil, errs.ErrInvalidEphemeralSigner.With("signer %d bump %d, derived %d", i, bump, e.Bump)
		}
		out = append(out, e)
	}
	return out, nil
}
