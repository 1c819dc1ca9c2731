// Package client implements the GRANDPA parachain light client's state
// machine: header verification, state update, misbehaviour detection,
// update-on-misbehaviour, upgrade verification, and IBC membership
// verification, tying together the ancestry, grandpa, trieproof, parachain,
// and ledger packages.
package client

import (
	"encoding/hex"
	"fmt"

	"github.com/certen/grandpa-parachain-client/pkg/hostctx"
	"github.com/certen/grandpa-parachain-client/pkg/ledger"
	"github.com/certen/grandpa-parachain-client/pkg/relaychain"
)

// Input-size limits this client enforces on every verification path.
const (
	MaxUnknownHeaders   = 512
	MaxParachainHeaders = 256
)

// HashFunc computes a 32-byte digest; supplied by the embedding host's
// capability bundle.
type HashFunc func(data []byte) [32]byte

// ClientState is the long-lived verifier state for one parachain light
// client instance.
type ClientState struct {
	RelayChain string
	ParaID     uint32

	LatestRelayHash   relaychain.Hash
	LatestRelayHeight uint32
	LatestParaHeight  uint32

	// FrozenHeight is nil while the client is healthy. Once set (by
	// UpdateStateOnMisbehaviour), every membership verification at or
	// above it fails until VerifyUpgradeAndUpdateState clears it.
	FrozenHeight *hostctx.Height

	Ledger *ledger.Ledger
}

// IsFrozen reports whether the client currently refuses updates.
func (cs *ClientState) IsFrozen() bool { return cs.FrozenHeight != nil }

// VerifyHeight rejects if the client is frozen at or below height, or if
// height is ahead of the client's latest known parachain height.
func (cs *ClientState) VerifyHeight(height hostctx.Height) error {
	if cs.FrozenHeight != nil && !height.LT(*cs.FrozenHeight) {
		return frozenClientError()
	}
	if height.RevisionHeight > uint64(cs.LatestParaHeight) {
		return heightAheadOfLatestError(height, cs.LatestParaHeight)
	}
	return nil
}

// ParachainHeaderProof is the encoded trie nodes proving a parachain
// header's inclusion in a particular relay header's state.
type ParachainHeaderProof [][]byte

// FinalityProof is a GRANDPA finality proof for a single relay block:
// the finalized block, its encoded justification, and any
// relay headers the recipient does not yet know about.
type FinalityProof struct {
	Block          relaychain.Hash
	Justification  []byte
	UnknownHeaders []relaychain.Header
}

// HeaderMessage is the ClientMessage::Header variant.
type HeaderMessage struct {
	Height           hostctx.Height // RevisionNumber = para_id
	FinalityProof    FinalityProof
	ParachainHeaders map[relaychain.Hash]ParachainHeaderProof
}

// MisbehaviourMessage is the ClientMessage::Misbehaviour variant: two
// finality proofs alleged to demonstrate conflicting finality.
type MisbehaviourMessage struct {
	First  FinalityProof
	Second FinalityProof
}

// ClientMessage is the tagged sum of the two message variants this client
// accepts. Exactly one of Header/Misbehaviour must be non-nil.
type ClientMessage struct {
	Header       *HeaderMessage
	Misbehaviour *MisbehaviourMessage
}

// Config bundles the values that are tunable per deployment rather than
// hard-coded client invariants.
type Config struct {
	// GenesisHashAllowlist, if non-empty, is the set of relay hashes this
	// client will accept as a common ancestor for a misbehaviour proof
	// even when that ancestor is the all-zero genesis parent hash. Left
	// empty, genesis-anchored equivocations are always rejected, the
	// conservative resolution of an otherwise-unbounded trust anchor.
	GenesisHashAllowlist map[relaychain.Hash]bool
}

// ParseGenesisHashAllowlist decodes a list of hex-encoded relay hashes
// (with or without a leading "0x") into the set form Config.
// GenesisHashAllowlist expects, the way config.Load's caller is expected
// to populate it from chain.genesis_hash_allowlist.
func ParseGenesisHashAllowlist(hexHashes []string) (map[relaychain.Hash]bool, error) {
	if len(hexHashes) == 0 {
		return nil, nil
	}
	allowlist := make(map[relaychain.Hash]bool, len(hexHashes))
	for _, s := range hexHashes {
		trimmed := s
		if len(trimmed) >= 2 && trimmed[0] == '0' && (trimmed[1] == 'x' || trimmed[1] == 'X') {
			trimmed = trimmed[2:]
		}
		raw, err := hex.DecodeString(trimmed)
		if err != nil {
			return nil, fmt.Errorf("client: invalid genesis_hash_allowlist entry %q: %w", s, err)
		}
		if len(raw) != 32 {
			return nil, fmt.Errorf("client: genesis_hash_allowlist entry %q must decode to 32 bytes, got %d", s, len(raw))
		}
		var h relaychain.Hash
		copy(h[:], raw)
		allowlist[h] = true
	}
	return allowlist, nil
}
