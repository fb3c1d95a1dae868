// Package signers models the identities attached to a consensus record and
// the permission bits that weight them.
package signers

import (
	"bytes"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/gagliardetto/solana-go"

	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/errs"
)

// Permission is a single capability bit.
type Permission uint8

const (
	Initiate Permission = 1 << 0
	Vote     Permission = 1 << 1
	Execute  Permission = 1 << 2
)

// Permissions is a bitmask of Permission values.
type Permissions struct {
	Mask uint8 `json:"mask" yaml:"mask"`
}

// AllPermissions holds Initiate, Vote and Execute.
var AllPermissions = NewPermissions(Initiate, Vote, Execute)

// NewPermissions builds a mask from individual permissions.
func NewPermissions(perms ...Permission) Permissions {
	var m uint8
	for _, p := range perms {
		m |= uint8(p)
	}
	return Permissions{Mask: m}
}

// Has reports whether p includes perm.
func (p Permissions) Has(perm Permission) bool {
	return p.Mask&uint8(perm) == uint8(perm)
}

// Valid reports whether the mask carries only known bits.
func (p Permissions) Valid() bool {
	return p.Mask < 8
}

func (p Permissions) String() string {
	var parts []string
	if p.Has(Initiate) {
		parts = append(parts, "initiate")
	}
	if p.Has(Vote) {
		parts = append(parts, "vote")
	}
	if p.Has(Execute) {
		parts = append(parts, "execute")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// ParsePermissions accepts a "initiate|vote|execute" style list.
func ParsePermissions(s string) (Permissions, error) {
	var perms []Permission
	for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == '|' || r == ',' || r == ' ' }) {
		switch strings.ToLower(part) {
		case "initiate":
			perms = append(perms, Initiate)
		case "vote":
			perms = append(perms, Vote)
		case "execute":
			perms = append(perms, Execute)
		case "all":
			perms = append(perms, Initiate, Vote, Execute)
		default:
			return Permissions{}, fmt.Errorf("signers: unknown permission %q", part)
		}
	}
	return NewPermissions(perms...), nil
}

// Signer is an identity with its permission mask.
type Signer struct {
	Key         solana.PublicKey `json:"key"`
	Permissions Permissions      `json:"permissions"`
}

// MaxSigners bounds the size of a signer set.
const MaxSigners = math.MaxUint16

// Set is a signer list kept sorted by key bytes.
type Set []Signer

// NewSet sorts the given signers. Duplicates are left in place for Validate
// to report.
func NewSet(in ...Signer) Set {
	s := make(Set, len(in))
	copy(s, in)
	s.sort()
	return s
}

func (s Set) sort() {
	sort.SliceStable(s, func(i, j int) bool {
		return bytes.Compare(s[i].Key[:], s[j].Key[:]) < 0
	})
}

// Clone returns an independent copy.
func (s Set) Clone() Set {
	c := make(Set, len(s))
	copy(c, s)
	return c
}

// IsSigner returns the position of key in the set.
func (s Set) IsSigner(key solana.PublicKey) (int, bool) {
	i := sort.Search(len(s), func(i int) bool {
		return bytes.Compare(s[i].Key[:], key[:]) >= 0
	})
	if i < len(s) && s[i].Key == key {
		return i, true
	}
	return -1, false
}

// HasPermission reports whether key is a signer holding perm.
func (s Set) HasPermission(key solana.PublicKey, perm Permission) bool {
	i, ok := s.IsSigner(key)
	return ok && s[i].Permissions.Has(perm)
}

// Add inserts signer keeping the set sorted.
func (s *Set) Add(signer Signer) error {
	if _, ok := s.IsSigner(signer.Key); ok {
		return errs.ErrDuplicateSigner.With("%s", signer.Key)
	}
	if len(*s) >= MaxSigners {
		return errs.ErrTooManySigners.With("limit %d", MaxSigners)
	}
	*s = append(*s, signer)
	s.sort()
	return nil
}

// Remove deletes key from the set.
func (s *Set) Remove(key solana.PublicKey) error {
	i, ok := s.IsSigner(key)
	if !ok {
		return errs.ErrNotASigner.With("%s", key)
	}
	*s = append((*s)[:i], (*s)[i+1:]...)
	return nil
}

func (s Set) count(perm Permission) int {
	n := 0
	for _, sg := range s {
		if sg.Permissions.Has(perm) {
			n++
		}
	}
	return n
}

// NumVoters counts signers holding Vote.
func (s Set) NumVoters() int { return s.count(Vote) }

// NumProposers counts signers holding Initiate.
func (s Set) NumProposers() int { return s.count(Initiate) }

// NumExecutors counts signers holding Execute.
func (s Set) NumExecutors() int { return s.count(Execute) }

// Keys lists the signer identities in set order.
func (s Set) Keys() []solana.PublicKey {
	keys := make([]solana.PublicKey, len(s))
	for i, sg := range s {
		keys[i] = sg.Key
	}
	return keys
}

// Validate checks the structural signer-set invariants: bounded size, sorted
// without duplicates, known permission bits and at least one holder of each
// permission.
func (s Set) Validate() error {
	if len(s) == 0 {
		return errs.ErrEmptySigners
	}
	if len(s) > MaxSigners {
		return errs.ErrTooManySigners.With("%d signers", len(s))
	}
	for i, sg := range s {
		if !sg.Permissions.Valid() {
			return errs.ErrUnknownPermission.With("signer %s mask %d", sg.Key, sg.Permissions.Mask)
		}
		if i == 0 {
			continue
		}
		switch c := bytes.Compare(s[i-1].Key[:], sg.Key[:]); {
		case c == 0:
			return errs.ErrDuplicateSigner.With("%s", sg.Key)
		case c > 0:
			return errs.ErrInvariantViolated.With("signers not sorted at position %d", i)
		}
	}
	if s.NumProposers() == 0 {
		return errs.ErrNoProposers
	}
	if s.NumVoters() == 0 {
		return errs.ErrNoVoters
	}
	if s.NumExecutors() == 0 {
		return errs.ErrNoExecutors
	}
	return nil
}
