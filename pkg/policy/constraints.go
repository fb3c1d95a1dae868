package policy

import (
	"bytes"
	"encoding/binary"

	"github.com/gagliardetto/solana-go"

	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/authority"
	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/errs"
)

// Operator compares a value read from data with a declared value.
type Operator uint8

const (
	OpEquals Operator = iota
	OpNotEquals
	OpGreaterThan
	OpGreaterThanOrEqual
	OpLessThan
	OpLessThanOrEqual
)

func (o Operator) String() string {
	switch o {
	case OpEquals:
		return "eq"
	case OpNotEquals:
		return "ne"
	case OpGreaterThan:
		return "gt"
	case OpGreaterThanOrEqual:
		return "gte"
	case OpLessThan:
		return "lt"
	case OpLessThanOrEqual:
		return "lte"
	default:
		return "unknown"
	}
}

// ValueKind is the type of a DataValue.
type ValueKind uint8

const (
	ValueU8 ValueKind = iota
	ValueU16
	ValueU32
	ValueU64
	ValueU128
	ValueBytes
)

// width is the byte length of fixed-width kinds, zero for ValueBytes.
func (k ValueKind) width() int {
	switch k {
	case ValueU8:
		return 1
	case ValueU16:
		return 2
	case ValueU32:
		return 4
	case ValueU64:
		return 8
	case ValueU128:
		return 16
	default:
		return 0
	}
}

// DataValue is a declared comparison value. Integers are stored
// little-endian at their exact width.
type DataValue struct {
	Kind  ValueKind `json:"kind"`
	Bytes []byte    `json:"bytes"`
}

func U8(v uint8) DataValue { return DataValue{Kind: ValueU8, Bytes: []byte{v}} }

func U16(v uint16) DataValue {
	return DataValue{Kind: ValueU16, Bytes: binary.LittleEndian.AppendUint16(nil, v)}
}

func U32(v uint32) DataValue {
	return DataValue{Kind: ValueU32, Bytes: binary.LittleEndian.AppendUint32(nil, v)}
}

func U64(v uint64) DataValue {
	return DataValue{Kind: ValueU64, Bytes: binary.LittleEndian.AppendUint64(nil, v)}
}

// U128 takes the value in the same little-endian layout as authority.U128.
func U128(v authority.U128) DataValue {
	return DataValue{Kind: ValueU128, Bytes: append([]byte(nil), v[:]...)}
}

// Bytes matches a raw byte slice. Only OpEquals and OpNotEquals apply.
func Bytes(b []byte) DataValue {
	return DataValue{Kind: ValueBytes, Bytes: append([]byte(nil), b...)}
}

// PublicKeyValue matches 32 raw bytes holding key.
func PublicKeyValue(key solana.PublicKey) DataValue { return Bytes(key[:]) }

func (v DataValue) validate(op Operator) error {
	if op > OpLessThanOrEqual {
		return errs.ErrInvalidOperator.With("operator %d", op)
	}
	if v.Kind > ValueBytes {
		return errs.ErrInvalidPolicyPayload.With("value kind %d", v.Kind)
	}
	if v.Kind == ValueBytes {
		if op != OpEquals && op != OpNotEquals {
			return errs.ErrInvalidOperator.With("%s on bytes", op)
		}
		if len(v.Bytes) == 0 {
			return errs.ErrInvalidPolicyPayload.With("empty byte value")
		}
		return nil
	}
	if len(v.Bytes) != v.Kind.width() {
		return errs.ErrInvalidPolicyPayload.With("value is %d bytes, kind needs %d", len(v.Bytes), v.Kind.width())
	}
	return nil
}

func (v DataValue) size() int {
	if v.Kind == ValueBytes {
		return len(v.Bytes)
	}
	return v.Kind.width()
}

// compareLE compares two unsigned little-endian integers of equal width.
func compareLE(a, b []byte) int {
	for i := len(a) - 1; i >= 0; i-- {
		switch {
		case a[i] < b[i]:
			return -1
		case a[i] > b[i]:
			return 1
		}
	}
	return 0
}

// DataConstraint compares the value at DataOffset with Value.
type DataConstraint struct {
	DataOffset uint64    `json:"data_offset"`
	Value      DataValue `json:"value"`
	Operator   Operator  `json:"operator"`
}

func (c DataConstraint) validate() error {
	return c.Value.validate(c.Operator)
}

// Evaluate checks data against the constraint.
func (c DataConstraint) Evaluate(data []byte) error {
	if err := c.validate(); err != nil {
		return err
	}
	n := uint64(c.Value.size())
	if c.DataOffset > uint64(len(data)) || uint64(len(data))-c.DataOffset < n {
		return errs.ErrDataTooShort.With("need %d bytes at offset %d, have %d", n, c.DataOffset, len(data))
	}
	got := data[c.DataOffset : c.DataOffset+n]

	var ok bool
	if c.Value.Kind == ValueBytes {
		eq := bytes.Equal(got, c.Value.Bytes)
		ok = eq == (c.Operator == OpEquals)
	} else {
		cmp := compareLE(got, c.Value.Bytes)
		switch c.Operator {
		case OpEquals:
			ok = cmp == 0
		case OpNotEquals:
			ok = cmp != 0
		case OpGreaterThan:
			ok = cmp > 0
		case OpGreaterThanOrEqual:
			ok = cmp >= 0
		case OpLessThan:
			ok = cmp < 0
		case OpLessThanOrEqual:
			ok = cmp <= 0
		}
	}
	if !ok {
		return errs.ErrDataConstraintFailed.With("offset %d %s", c.DataOffset, c.Operator)
	}
	return nil
}

// AccountConstraint restricts the account at an instruction-relative index:
// its key must be one of Keys, and its data must satisfy every Data
// constraint. An empty Keys list skips the key check.
type AccountConstraint struct {
	AccountIndex uint8              `json:"account_index"`
	Keys         []solana.PublicKey `json:"keys,omitempty"`
	Data         []DataConstraint   `json:"data,omitempty"`
}

func (c AccountConstraint) validate() error {
	if len(c.Keys) == 0 && len(c.Data) == 0 {
		return errs.ErrInvalidPolicyPayload.With("account constraint %d checks nothing", c.AccountIndex)
	}
	for _, d := range c.Data {
		if err := d.validate(); err != nil {
			return err
		}
	}
	return nil
}

// InstructionConstraint is one allowed call shape for ProgramID. All of its
// account and data constraints must hold.
type InstructionConstraint struct {
	ProgramID solana.PublicKey    `json:"program_id"`
	Accounts  []AccountConstraint `json:"accounts,omitempty"`
	Data      []DataConstraint    `json:"data,omitempty"`
}

func (c InstructionConstraint) validate() error {
	if c.ProgramID.IsZero() {
		return errs.ErrInvalidPolicyPayload.With("instruction constraint without program id")
	}
	for _, a := range c.Accounts {
		if err := a.validate(); err != nil {
			return err
		}
	}
	for _, d := range c.Data {
		if err := d.validate(); err != nil {
			return err
		}
	}
	return nil
}

func (c InstructionConstraint) clone() InstructionConstraint {
	out := InstructionConstraint{ProgramID: c.ProgramID}
	for _, a := range c.Accounts {
		a.Keys = append([]solana.PublicKey(nil), a.Keys...)
		a.Data = cloneData(a.Data)
		out.Accounts = append(out.Accounts, a)
	}
	out.Data = cloneData(c.Data)
	return out
}

func cloneData(in []DataConstraint) []DataConstraint {
	if in == nil {
		return nil
	}
	out := make([]DataConstraint, len(in))
	for i, d := range in {
		d.Value.Bytes = append([]byte(nil), d.Value.Bytes...)
		out[i] = d
	}
	return out
}

// ResolvedAccount is an instruction account with its current data.
type ResolvedAccount struct {
	Key  solana.PublicKey
	Data []byte
}

// Check evaluates the constraint against one instruction.
func (c InstructionConstraint) Check(programID solana.PublicKey, accounts []ResolvedAccount, data []byte) error {
	if programID != c.ProgramID {
		return errs.ErrProgramIDMismatch.With("%s, want %s", programID, c.ProgramID)
	}
	for _, ac := range c.Accounts {
		if int(ac.AccountIndex) >= len(accounts) {
			return errs.ErrAccountIndexOutOfBounds.With("index %d of %d accounts", ac.AccountIndex, len(accounts))
		}
		acc := accounts[ac.AccountIndex]
		if len(ac.Keys) > 0 && !containsKey(ac.Keys, acc.Key) {
			return errs.ErrAccountConstraintFailed.With("account %d is %s", ac.AccountIndex, acc.Key)
		}
		for _, dc := range ac.Data {
			if err := dc.Evaluate(acc.Data); err != nil {
				return errs.ErrAccountConstraintFailed.Wrap(err).With("account %d data", ac.AccountIndex)
			}
		}
	}
	for _, dc := range c.Data {
		if err := dc.Evaluate(data); err != nil {
			return err
		}
	}
	return nil
}

func containsKey(keys []solana.PublicKey, k solana.PublicKey) bool {
	for _, x := range keys {
		if x == k {
			return true
		}
	}
	return false
}
