// Package host provides the light client's Host Capability Interface: the
// small set of cryptographic and storage primitives the verifier needs
// from its embedding host, kept behind an interface so the core packages
// never hard-code a specific crypto library.
package host

import (
	"encoding/binary"

	cmted25519 "github.com/cometbft/cometbft/crypto/ed25519"
	"golang.org/x/crypto/blake2b"
)

// Hash is a 32-byte BLAKE2-256 digest.
type Hash [32]byte

// Functions is the capability surface the client verifier relies on. A
// host embedding this client supplies an implementation; nothing in
// pkg/ancestry, pkg/grandpa, pkg/trieproof, pkg/parachain, pkg/ledger, or
// pkg/client imports a concrete crypto package directly.
type Functions interface {
	// Blake2b256 returns the BLAKE2-256 digest of data.
	Blake2b256(data []byte) Hash
	// VerifyEd25519 reports whether sig is a valid ed25519 signature by
	// pub over msg.
	VerifyEd25519(pub [32]byte, msg, sig []byte) bool
	// InsertRelayHeaderHashes records hashes as having been seen at
	// tsMs (host wall-clock milliseconds), for later membership checks.
	InsertRelayHeaderHashes(tsMs int64, hashes []Hash)
	// ContainsRelayHeaderHash reports whether hash was previously
	// recorded via InsertRelayHeaderHashes.
	ContainsRelayHeaderHash(hash Hash) bool
}

// KV is the minimal persistence primitive Functions needs for its
// known-relay-header-hash set. It is satisfied by *kvdb.Namespace and by
// any in-memory test double.
type KV interface {
	Get(key []byte) ([]byte, error)
	Set(key, value []byte) error
}

// DefaultFunctions is the reference Functions implementation: BLAKE2-256
// via golang.org/x/crypto/blake2b, ed25519 verification via CometBFT's
// crypto/ed25519 (itself backed by oasisprotocol/curve25519-voi), and a
// KV-persisted known-hash set.
type DefaultFunctions struct {
	kv KV
}

// New returns a DefaultFunctions backed by kv. kv may be nil, in which case
// InsertRelayHeaderHashes/ContainsRelayHeaderHash behave as an always-empty
// set (useful for tests that only exercise hashing/signature checks).
func New(kv KV) *DefaultFunctions {
	return &DefaultFunctions{kv: kv}
}

// Blake2b256 implements Functions.
func (f *DefaultFunctions) Blake2b256(data []byte) Hash {
	return Hash(blake2b.Sum256(data))
}

// VerifyEd25519 implements Functions.
func (f *DefaultFunctions) VerifyEd25519(pub [32]byte, msg, sig []byte) bool {
	if len(sig) != cmted25519.SignatureSize {
		return false
	}
	pubKey := cmted25519.PubKey(pub[:])
	return pubKey.VerifySignature(msg, sig)
}

var relayHashPrefix = []byte("relayhdr/")

func relayHashKey(h Hash) []byte {
	key := make([]byte, 0, len(relayHashPrefix)+32)
	key = append(key, relayHashPrefix...)
	key = append(key, h[:]...)
	return key
}

// InsertRelayHeaderHashes implements Functions.
func (f *DefaultFunctions) InsertRelayHeaderHashes(tsMs int64, hashes []Hash) {
	if f.kv == nil {
		return
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(tsMs))
	for _, h := range hashes {
		// Best-effort: a failed write here degrades future misbehaviour
		// detection but must never abort header processing, since the
		// header itself has already been accepted by the time the
		// client records its hash.
		_ = f.kv.Set(relayHashKey(h), buf[:])
	}
}

// ContainsRelayHeaderHash implements Functions.
func (f *DefaultFunctions) ContainsRelayHeaderHash(h Hash) bool {
	if f.kv == nil {
		return false
	}
	v, err := f.kv.Get(relayHashKey(h))
	return err == nil && len(v) > 0
}
