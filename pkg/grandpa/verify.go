package grandpa

import (
	"github.com/certen/grandpa-parachain-client/pkg/ancestry"
	"github.com/certen/grandpa-parachain-client/pkg/host"
	"github.com/certen/grandpa-parachain-client/pkg/lcerr"
	"github.com/certen/grandpa-parachain-client/pkg/relaychain"
)

// Verify decodes encoded as a Justification and checks it against
// authorities. A precommit counts toward the voting weight only if its
// signer is a member of the authority set, its signature is valid, and it
// targets a block whose ancestry includes the commit's target hash; a
// precommit failing any of these is ignored rather than rejected. A signer
// repeated after one of its precommits was counted is rejected. Verify
// succeeds when the counted weight exceeds two-thirds of the total. It
// never panics on malformed input.
func Verify(encoded []byte, authorities AuthoritySet, fn host.Functions, hash relaychain.HashFunc) (*Justification, error) {
	j, err := Decode(encoded)
	if err != nil {
		return nil, lcerr.Wrap(lcerr.Decode, "justification decode failed", err)
	}

	if len(j.Commit.Precommits) == 0 {
		return nil, lcerr.New(lcerr.InvalidJustification, "commit carries no precommits")
	}

	byAuthority := make(map[[32]byte]uint64, len(authorities.Authorities))
	for _, a := range authorities.Authorities {
		byAuthority[a.AuthorityID] = a.Weight
	}

	chain := ancestry.New(j.VoteAncestries, hash)

	seen := make(map[[32]byte]bool, len(j.Commit.Precommits))
	var validWeight uint64

	for _, sp := range j.Commit.Precommits {
		if seen[sp.ID] {
			return nil, lcerr.Newf(lcerr.InvalidJustification, "duplicate precommit signer %x", sp.ID)
		}
		weight, isMember := byAuthority[sp.ID]
		if !isMember {
			continue // non-member signatures simply do not count toward weight
		}

		payload := SignedPayload(j.Round, authorities.SetID, sp.Precommit)
		if !fn.VerifyEd25519(sp.ID, payload, sp.Signature[:]) {
			continue
		}

		if !precommitDescendsFromTarget(sp.Precommit, j.Commit.TargetHash, chain) {
			continue
		}

		seen[sp.ID] = true
		validWeight += weight
	}

	total := authorities.TotalWeight()
	if total == 0 {
		return nil, lcerr.New(lcerr.InvalidJustification, "authority set has zero total weight")
	}
	// validWeight * 3 > total * 2  <=>  validWeight > 2/3 * total, computed
	// without floating point.
	if validWeight*3 <= total*2 {
		return nil, lcerr.Newf(lcerr.InvalidJustification, "insufficient voting weight: %d of %d (need > 2/3)", validWeight, total)
	}

	return j, nil
}

func precommitDescendsFromTarget(p Precommit, commitTarget relaychain.Hash, chain *ancestry.Chain) bool {
	if p.TargetHash == commitTarget {
		return true
	}
	_, err := chain.Ancestry(commitTarget, p.TargetHash)
	return err == nil
}
