// Package codec defines the persisted layout of governance records: an
// 8-byte discriminator naming the record type followed by the record body in
// Core Deterministic CBOR (RFC 8949 §4.2). The same record always encodes to
// the same bytes, so Size is exact and can drive allocation.
package codec

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"

	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/errs"
)

// DiscriminatorSize is the length of the record type prefix.
const DiscriminatorSize = 8

// Record is implemented by every persisted governance type.
type Record interface {
	AccountName() string
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Discriminator returns the first 8 bytes of sha256("account:<name>").
func Discriminator(name string) [DiscriminatorSize]byte {
	sum := sha256.Sum256([]byte("account:" + name))
	var d [DiscriminatorSize]byte
	copy(d[:], sum[:DiscriminatorSize])
	return d
}

// Marshal encodes v as deterministic CBOR without a prefix.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// Encode returns the discriminator-prefixed encoding of r.
func Encode(r Record) ([]byte, error) {
	body, err := encMode.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("codec: encode %s: %w", r.AccountName(), err)
	}
	d := Discriminator(r.AccountName())
	out := make([]byte, 0, DiscriminatorSize+len(body))
	out = append(out, d[:]...)
	return append(out, body...), nil
}

// Decode checks the discriminator of data against r and decodes the body
// into r.
func Decode(data []byte, r Record) error {
	if err := Check(data, r.AccountName()); err != nil {
		return err
	}
	if err := decMode.Unmarshal(data[DiscriminatorSize:], r); err != nil {
		return errs.ErrDecode.Wrap(err).With("%s", r.AccountName())
	}
	return nil
}

// Check verifies that data carries the discriminator of name.
func Check(data []byte, name string) error {
	if len(data) < DiscriminatorSize {
		return errs.ErrDecode.With("%s: %d bytes", name, len(data))
	}
	d := Discriminator(name)
	if !bytes.Equal(data[:DiscriminatorSize], d[:]) {
		return errs.ErrInvalidAccount.With("discriminator mismatch for %s", name)
	}
	return nil
}

// Size is the exact encoded length of r including the discriminator.
func Size(r Record) (int, error) {
	body, err := encMode.Marshal(r)
	if err != nil {
		return 0, fmt.Errorf("codec: size %s: %w", r.AccountName(), err)
	}
	return DiscriminatorSize + len(body), nil
}
