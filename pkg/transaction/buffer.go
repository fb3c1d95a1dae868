package transaction

import (
	"bytes"
	"crypto/sha256"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/codec"
	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/contracts"
	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/errs"
)

// MaxBufferSize bounds the final size of a transaction buffer.
const MaxBufferSize = 4000

// TransactionBuffer accumulates an encoded vault message in chunks until
// its declared hash and size match.
type TransactionBuffer struct {
	Settings        solana.PublicKey `json:"settings"`
	Creator         solana.PublicKey `json:"creator"`
	BufferIndex     uint8            `json:"buffer_index"`
	AccountIndex    uint8            `json:"account_index"`
	FinalBufferHash [32]byte         `json:"final_buffer_hash"`
	FinalBufferSize uint16           `json:"final_buffer_size"`
	Buffer          []byte           `json:"buffer"`
}

func (*TransactionBuffer) AccountName() string { return "TransactionBuffer" }

// NewTransactionBuffer starts a buffer with its first chunk.
func NewTransactionBuffer(settingsKey, creator solana.PublicKey, bufferIndex, accountIndex uint8, finalHash [32]byte, finalSize uint16, chunk []byte) (*TransactionBuffer, error) {
	if finalSize > MaxBufferSize {
		return nil, errs.ErrBufferTooLarge.With("final size %d exceeds %d", finalSize, MaxBufferSize)
	}
	if len(chunk) > int(finalSize) {
		return nil, errs.ErrBufferTooLarge.With("chunk of %d bytes exceeds final size %d", len(chunk), finalSize)
	}
	return &TransactionBuffer{
		Settings:        settingsKey,
		Creator:         creator,
		BufferIndex:     bufferIndex,
		AccountIndex:    accountIndex,
		FinalBufferHash: finalHash,
		FinalBufferSize: finalSize,
		Buffer:          bytes.Clone(chunk),
	}, nil
}

// Extend appends a chunk. Only the creator may extend.
func (b *TransactionBuffer) Extend(caller solana.PublicKey, chunk []byte) error {
	if caller != b.Creator {
		return errs.ErrNotBufferCreator.With("caller %s", caller)
	}
	if len(b.Buffer)+len(chunk) > int(b.FinalBufferSize) {
		return errs.ErrBufferTooLarge.With("buffer would hold %d of %d bytes", len(b.Buffer)+len(chunk), b.FinalBufferSize)
	}
	b.Buffer = append(b.Buffer, chunk...)
	return nil
}

// Validate checks the buffer is complete: its size and sha256 match the
// declared values.
func (b *TransactionBuffer) Validate() error {
	if len(b.Buffer) > MaxBufferSize {
		return errs.ErrBufferTooLarge.With("%d bytes", len(b.Buffer))
	}
	if len(b.Buffer) != int(b.FinalBufferSize) {
		return errs.ErrInvalidBuffer.With("size %d, declared %d", len(b.Buffer), b.FinalBufferSize)
	}
	if sha256.Sum256(b.Buffer) != b.FinalBufferHash {
		return errs.ErrInvalidBuffer.With("hash mismatch")
	}
	return nil
}

// Message validates the buffer and decodes the vault message it holds.
func (b *TransactionBuffer) Message() (*contracts.Message, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	var m contracts.Message
	if err := codec.Unmarshal(b.Buffer, &m); err != nil {
		return nil, errs.ErrInvalidTransactionMessage.Wrap(err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// EncodeMessage returns the buffer encoding of m and its hash, for callers
// staging a message.
func EncodeMessage(m *contracts.Message) ([]byte, [32]byte, error) {
	data, err := codec.Marshal(m)
	if err != nil {
		return nil, [32]byte{}, fmt.Errorf("transaction: encode message: %w", err)
	}
	return data, sha256.Sum256(data), nil
}
