//go:build property
// +build property

package signers_test

import (
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/signers"
)

// TestSetStaysSortedAndUnique applies random add/remove sequences and checks
// the set never holds a duplicate and lookups find every member.
func TestSetStaysSortedAndUnique(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("add/remove keeps the set sorted", prop.ForAll(
		func(ops []uint8) bool {
			s := signers.NewSet(signers.Signer{Key: solana.PublicKey{0xff}, Permissions: signers.AllPermissions})
			for _, op := range ops {
				k := solana.PublicKey{op & 0x1f}
				if op&0x80 != 0 {
					_ = s.Remove(k)
				} else {
					_ = s.Add(signers.Signer{Key: k, Permissions: signers.Permissions{Mask: op & 0x7}})
				}
			}
			for i := 1; i < len(s); i++ {
				if s[i-1].Key[0] >= s[i].Key[0] {
					return false
				}
			}
			for i, sg := range s {
				j, ok := s.IsSigner(sg.Key)
				if !ok || j != i {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.UInt8()),
	))

	properties.TestingRun(t)
}
