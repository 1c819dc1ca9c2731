package client

import (
	"testing"

	cmted25519 "github.com/cometbft/cometbft/crypto/ed25519"
	"golang.org/x/crypto/blake2b"

	"github.com/certen/grandpa-parachain-client/pkg/grandpa"
	"github.com/certen/grandpa-parachain-client/pkg/host"
	"github.com/certen/grandpa-parachain-client/pkg/hostctx"
	"github.com/certen/grandpa-parachain-client/pkg/ledger"
	"github.com/certen/grandpa-parachain-client/pkg/parachain"
	"github.com/certen/grandpa-parachain-client/pkg/relaychain"
	"github.com/certen/grandpa-parachain-client/pkg/trieproof"
)

func hashFn(data []byte) [32]byte { return blake2b.Sum256(data) }

type votingKey struct {
	priv cmted25519.PrivKey
	id   [32]byte
}

func newVotingKeys(n int) []votingKey {
	keys := make([]votingKey, n)
	for i := 0; i < n; i++ {
		priv := cmted25519.GenPrivKey()
		pub := priv.PubKey().(cmted25519.PubKey)
		var id [32]byte
		copy(id[:], pub)
		keys[i] = votingKey{priv: priv, id: id}
	}
	return keys
}

func authorityWeights(keys []votingKey) []relaychain.AuthorityIDWeight {
	out := make([]relaychain.AuthorityIDWeight, len(keys))
	for i, k := range keys {
		out[i] = relaychain.AuthorityIDWeight{AuthorityID: k.id, Weight: 1}
	}
	return out
}

func signJustification(t *testing.T, keys []votingKey, round, setID uint64, target grandpa.Precommit) []byte {
	t.Helper()
	var commit grandpa.Commit
	commit.TargetHash = target.TargetHash
	commit.TargetNumber = target.TargetNumber
	for _, k := range keys {
		payload := grandpa.SignedPayload(round, setID, target)
		sig, err := k.priv.Sign(payload)
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		sp := grandpa.SignedPrecommit{Precommit: target, ID: k.id}
		copy(sp.Signature[:], sig)
		commit.Precommits = append(commit.Precommits, sp)
	}
	j := &grandpa.Justification{Round: round, Commit: commit}
	return j.Encode()
}

func nibblesOf(key []byte) []byte {
	out := make([]byte, 0, len(key)*2)
	for _, b := range key {
		out = append(out, b>>4, b&0x0F)
	}
	return out
}

// buildTrie builds a minimal radix trie, branching purely by nibble
// divergence, from an arbitrary set of byte-string keys to values. It's a
// general-purpose test fixture builder, unlike the fixed two-leaf tries
// the lower-level packages' own tests use.
func buildTrie(hash func([]byte) [32]byte, entries map[string][]byte) (root [32]byte, nodes [][]byte) {
	type kv struct {
		nibbles []byte
		value   []byte
	}
	var items []kv
	for k, v := range entries {
		items = append(items, kv{nibbles: nibblesOf([]byte(k)), value: v})
	}

	var all [][]byte
	var build func(items []kv, depth int) [32]byte
	build = func(items []kv, depth int) [32]byte {
		if len(items) == 1 {
			leaf := trieproof.EncodeLeaf(items[0].nibbles[depth:], items[0].value)
			all = append(all, leaf)
			return hash(leaf)
		}
		groups := map[byte][]kv{}
		for _, it := range items {
			groups[it.nibbles[depth]] = append(groups[it.nibbles[depth]], it)
		}
		var children [16]*[32]byte
		for nib, group := range groups {
			h := build(group, depth+1)
			hc := h
			children[nib] = &hc
		}
		branch := trieproof.EncodeBranch(nil, false, children)
		all = append(all, branch)
		return hash(branch)
	}
	r := build(items, 0)
	return r, all
}

func buildParachainProof(paraID uint32, number uint32, timestampNs uint64) (nodes [][]byte, stateRoot [32]byte) {
	head := &parachain.Header{ParaID: paraID, Number: number, TimestampNs: timestampNs}
	key := parachain.HeadsStorageKey(paraID, hashFn)
	stateRoot, nodes = buildTrie(hashFn, map[string][]byte{string(key): head.Encode()})
	return nodes, stateRoot
}

// fixture wires up a minimal genesis ClientState: one authority set at
// height 0, a known genesis relay hash, fresh in-memory ledger.
type fixture struct {
	keys        []votingKey
	genesisHash relaychain.Hash
	cs          *ClientState
	c           *Client
}

type memKV struct{ m map[string][]byte }

func newMemKV() *memKV { return &memKV{m: map[string][]byte{}} }
func (k *memKV) Get(key []byte) ([]byte, error) { return k.m[string(key)], nil }
func (k *memKV) Set(key, value []byte) error {
	k.m[string(key)] = append([]byte{}, value...)
	return nil
}

func newFixture(nAuthorities int) *fixture {
	keys := newVotingKeys(nAuthorities)
	genesisHash := relaychain.Hash(hashFn([]byte("genesis")))
	led := ledger.New(ledger.Change{Height: 0, SetID: 0, Authorities: authorityWeights(keys)}, nil, nil)
	cs := &ClientState{
		RelayChain:      "test-relay",
		ParaID:          2000,
		LatestRelayHash: genesisHash,
		Ledger:          led,
	}
	c := New(host.New(newMemKV()), Config{})
	return &fixture{keys: keys, genesisHash: genesisHash, cs: cs, c: c}
}

func header(number uint32, parent relaychain.Hash, marker byte) relaychain.Header {
	h := relaychain.Header{Number: number, ParentHash: parent}
	h.StateRoot[0] = marker
	return h
}

// buildHeaderMessage builds a HeaderMessage whose finality proof targets
// unknown[targetIdx]. It sets that header's StateRoot to the root of a
// freshly-built parachain proof before hashing it, so the hash used as
// the finality proof's Block and the hash ancestry.New derives from
// UnknownHeaders agree.
func buildHeaderMessage(t *testing.T, f *fixture, unknown []relaychain.Header, targetIdx int, paraHeight uint32) *HeaderMessage {
	t.Helper()
	nodes, stateRoot := buildParachainProof(f.cs.ParaID, paraHeight, 1000)
	unknown[targetIdx].StateRoot = relaychain.Hash(stateRoot)
	targetHash := relaychain.HashHeader(&unknown[targetIdx], hashFn)

	encoded := signJustification(t, f.keys, 1, 0, grandpa.Precommit{TargetHash: targetHash, TargetNumber: unknown[targetIdx].Number})

	return &HeaderMessage{
		Height: hostctx.Height{RevisionNumber: uint64(f.cs.ParaID)},
		FinalityProof: FinalityProof{
			Block:          targetHash,
			Justification:  encoded,
			UnknownHeaders: unknown,
		},
		ParachainHeaders: map[relaychain.Hash]ParachainHeaderProof{targetHash: nodes},
	}
}

func TestVerifyClientMessageHeaderSuccess(t *testing.T) {
	f := newFixture(4)
	target := header(1, f.genesisHash, 1)
	hm := buildHeaderMessage(t, f, []relaychain.Header{target}, 0, 5)

	if err := f.c.VerifyClientMessage(f.cs, &ClientMessage{Header: hm}); err != nil {
		t.Fatalf("VerifyClientMessage: %v", err)
	}
}

func TestVerifyClientMessageHeaderParaIDMismatch(t *testing.T) {
	f := newFixture(4)
	target := header(1, f.genesisHash, 1)
	hm := buildHeaderMessage(t, f, []relaychain.Header{target}, 0, 5)
	hm.Height.RevisionNumber = 9999

	err := f.c.VerifyClientMessage(f.cs, &ClientMessage{Header: hm})
	if err == nil {
		t.Fatalf("expected para_id mismatch error")
	}
}

func TestVerifyClientMessageHeaderMissingTarget(t *testing.T) {
	f := newFixture(4)
	target := header(1, f.genesisHash, 1)
	other := header(1, f.genesisHash, 2)
	targetHash := relaychain.HashHeader(&target, hashFn)
	nodes, _ := buildParachainProof(f.cs.ParaID, 5, 1000)
	encoded := signJustification(t, f.keys, 1, 0, grandpa.Precommit{TargetHash: targetHash, TargetNumber: target.Number})

	hm := &HeaderMessage{
		Height: hostctx.Height{RevisionNumber: uint64(f.cs.ParaID)},
		FinalityProof: FinalityProof{
			Block:          targetHash,
			Justification:  encoded,
			UnknownHeaders: []relaychain.Header{other}, // target itself never included
		},
		ParachainHeaders: map[relaychain.Hash]ParachainHeaderProof{targetHash: nodes},
	}

	if err := f.c.VerifyClientMessage(f.cs, &ClientMessage{Header: hm}); err == nil {
		t.Fatalf("expected missing-target-header error")
	}
}

func TestUpdateStateAdvancesRelayAndParaHeight(t *testing.T) {
	f := newFixture(4)
	target := header(1, f.genesisHash, 1)
	hm := buildHeaderMessage(t, f, []relaychain.Header{target}, 0, 5)

	if err := f.c.VerifyClientMessage(f.cs, &ClientMessage{Header: hm}); err != nil {
		t.Fatalf("VerifyClientMessage: %v", err)
	}

	ctx := hostctx.NewMemoryContext(1_000_000_000, hostctx.Height{})
	next, newStates, err := f.c.UpdateState(ctx, "client-0", f.cs, hm)
	if err != nil {
		t.Fatalf("UpdateState: %v", err)
	}
	targetHash := relaychain.HashHeader(&target, hashFn)
	if next.LatestRelayHash != targetHash || next.LatestRelayHeight != 1 {
		t.Fatalf("relay state not advanced: %+v", next)
	}
	if next.LatestParaHeight != 5 {
		t.Fatalf("para height not advanced: got %d, want 5", next.LatestParaHeight)
	}
	cs, ok := newStates[5]
	if !ok || cs.TimestampNs != 1000 {
		t.Fatalf("expected new consensus state at height 5, got %+v", newStates)
	}
}

func TestUpdateStateInsertsScheduledAuthorityChange(t *testing.T) {
	f := newFixture(4)
	newKeys := newVotingKeys(2)
	target := header(1, f.genesisHash, 1)
	target.Digest = []relaychain.DigestItem{{
		EngineID:  relaychain.GrandpaEngineID,
		Scheduled: &relaychain.ScheduledChange{NextAuthorities: authorityWeights(newKeys), Delay: 0},
	}}
	hm := buildHeaderMessage(t, f, []relaychain.Header{target}, 0, 5)

	if err := f.c.VerifyClientMessage(f.cs, &ClientMessage{Header: hm}); err != nil {
		t.Fatalf("VerifyClientMessage: %v", err)
	}
	ctx := hostctx.NewMemoryContext(0, hostctx.Height{})
	next, _, err := f.c.UpdateState(ctx, "client-0", f.cs, hm)
	if err != nil {
		t.Fatalf("UpdateState: %v", err)
	}
	if next.Ledger.LastSetID() != 1 {
		t.Fatalf("expected a new authority set to be recorded, last_set_id=%d", next.Ledger.LastSetID())
	}
}

func TestUpdateStateRejectsRelayHeightRegression(t *testing.T) {
	f := newFixture(4)
	target := header(1, f.genesisHash, 1)
	hm := buildHeaderMessage(t, f, []relaychain.Header{target}, 0, 5)
	f.cs.LatestRelayHeight = 1 // already at the target's number: no advance possible

	ctx := hostctx.NewMemoryContext(0, hostctx.Height{})
	if _, _, err := f.c.UpdateState(ctx, "client-0", f.cs, hm); err == nil {
		t.Fatalf("expected height-regression rejection")
	}
}

func TestCheckForMisbehaviourDetectsForcedChange(t *testing.T) {
	f := newFixture(4)
	target := header(1, f.genesisHash, 1)
	target.Digest = []relaychain.DigestItem{{
		EngineID: relaychain.GrandpaEngineID,
		Forced:   &relaychain.ForcedChange{NextAuthorities: authorityWeights(f.keys)},
	}}
	hm := buildHeaderMessage(t, f, []relaychain.Header{target}, 0, 5)

	ctx := hostctx.NewMemoryContext(0, hostctx.Height{})
	detected, err := f.c.CheckForMisbehaviour(ctx, "client-0", f.cs, &ClientMessage{Header: hm})
	if err != nil {
		t.Fatalf("CheckForMisbehaviour: %v", err)
	}
	if !detected {
		t.Fatalf("expected forced-change header to count as misbehaviour")
	}
}

func TestCheckForMisbehaviourDetectsConflictingStoredState(t *testing.T) {
	f := newFixture(4)
	target := header(1, f.genesisHash, 1)
	hm := buildHeaderMessage(t, f, []relaychain.Header{target}, 0, 5)

	ctx := hostctx.NewMemoryContext(0, hostctx.Height{})
	ctx.StoreConsensusState("client-0", hostctx.Height{RevisionNumber: uint64(f.cs.ParaID), RevisionHeight: 5},
		&parachain.ConsensusState{CommitmentRoot: [32]byte{0xFF}, TimestampNs: 42})

	detected, err := f.c.CheckForMisbehaviour(ctx, "client-0", f.cs, &ClientMessage{Header: hm})
	if err != nil {
		t.Fatalf("CheckForMisbehaviour: %v", err)
	}
	if !detected {
		t.Fatalf("expected conflicting stored consensus state to count as misbehaviour")
	}
}

func TestCheckForMisbehaviourFalseOnCleanHeader(t *testing.T) {
	f := newFixture(4)
	target := header(1, f.genesisHash, 1)
	hm := buildHeaderMessage(t, f, []relaychain.Header{target}, 0, 5)

	ctx := hostctx.NewMemoryContext(0, hostctx.Height{})
	detected, err := f.c.CheckForMisbehaviour(ctx, "client-0", f.cs, &ClientMessage{Header: hm})
	if err != nil {
		t.Fatalf("CheckForMisbehaviour: %v", err)
	}
	if detected {
		t.Fatalf("expected no misbehaviour for a clean header")
	}
}

func TestUpdateStateOnMisbehaviourFreezesAndIsIdempotent(t *testing.T) {
	f := newFixture(4)
	f.cs.LatestParaHeight = 7

	frozen := f.c.UpdateStateOnMisbehaviour(f.cs)
	if frozen.FrozenHeight == nil || frozen.FrozenHeight.RevisionHeight != 7 {
		t.Fatalf("expected FrozenHeight at para height 7, got %+v", frozen.FrozenHeight)
	}

	again := f.c.UpdateStateOnMisbehaviour(frozen)
	if again != frozen {
		t.Fatalf("expected UpdateStateOnMisbehaviour to be a no-op once already frozen")
	}
}

func TestCheckSubstituteAndUpdateStateIsUnimplemented(t *testing.T) {
	f := newFixture(1)
	if _, err := f.c.CheckSubstituteAndUpdateState(f.cs); err == nil {
		t.Fatalf("expected CheckSubstituteAndUpdateState to report Unimplemented")
	}
}

func TestVerifyMisbehaviourMessageProvesEquivocation(t *testing.T) {
	f := newFixture(4)
	f.c.fn.InsertRelayHeaderHashes(0, []host.Hash{host.Hash(f.genesisHash)})

	baseA := header(1, f.genesisHash, 0xA1)
	baseAHash := relaychain.HashHeader(&baseA, hashFn)
	targetA := header(2, baseAHash, 0xA2)
	targetAHash := relaychain.HashHeader(&targetA, hashFn)

	baseB := header(1, f.genesisHash, 0xB1)
	baseBHash := relaychain.HashHeader(&baseB, hashFn)
	targetB := header(2, baseBHash, 0xB2)
	targetBHash := relaychain.HashHeader(&targetB, hashFn)

	just1 := signJustification(t, f.keys, 1, 0, grandpa.Precommit{TargetHash: targetAHash, TargetNumber: 2})
	just2 := signJustification(t, f.keys, 1, 0, grandpa.Precommit{TargetHash: targetBHash, TargetNumber: 2})

	m := &MisbehaviourMessage{
		First: FinalityProof{
			Block:          targetAHash,
			Justification:  just1,
			UnknownHeaders: []relaychain.Header{baseA, targetA},
		},
		Second: FinalityProof{
			Block:          targetBHash,
			Justification:  just2,
			UnknownHeaders: []relaychain.Header{baseB, targetB},
		},
	}

	if err := f.c.VerifyClientMessage(f.cs, &ClientMessage{Misbehaviour: m}); err != nil {
		t.Fatalf("expected equivocation to verify, got %v", err)
	}
}

func TestVerifyMisbehaviourMessageRejectsSameBlock(t *testing.T) {
	f := newFixture(4)
	base := header(1, f.genesisHash, 0xA1)
	baseHash := relaychain.HashHeader(&base, hashFn)
	target := header(2, baseHash, 0xA2)
	targetHash := relaychain.HashHeader(&target, hashFn)
	just := signJustification(t, f.keys, 1, 0, grandpa.Precommit{TargetHash: targetHash, TargetNumber: 2})

	fp := FinalityProof{Block: targetHash, Justification: just, UnknownHeaders: []relaychain.Header{base, target}}
	m := &MisbehaviourMessage{First: fp, Second: fp}

	if err := f.c.VerifyClientMessage(f.cs, &ClientMessage{Misbehaviour: m}); err == nil {
		t.Fatalf("expected rejection: both proofs target the same block")
	}
}

func TestVerifyMembershipAndNonMembership(t *testing.T) {
	f := newFixture(1)
	f.cs.LatestParaHeight = 10

	root, nodes := buildTrie(hashFn, map[string][]byte{"present-path": []byte("hello")})
	height := hostctx.Height{RevisionNumber: uint64(f.cs.ParaID), RevisionHeight: 5}

	if err := f.c.VerifyMembership(f.cs, height, nodes, root, "present-path", []byte("hello")); err != nil {
		t.Fatalf("VerifyMembership: %v", err)
	}
	if err := f.c.VerifyNonMembership(f.cs, height, nodes, root); err != nil {
		t.Fatalf("VerifyNonMembership: %v", err)
	}
}

func TestVerifyMembershipRejectsAboveLatestHeight(t *testing.T) {
	f := newFixture(1)
	f.cs.LatestParaHeight = 3
	root, nodes := buildTrie(hashFn, map[string][]byte{"p": []byte("v")})
	height := hostctx.Height{RevisionNumber: uint64(f.cs.ParaID), RevisionHeight: 4}

	if err := f.c.VerifyMembership(f.cs, height, nodes, root, "p", []byte("v")); err == nil {
		t.Fatalf("expected rejection for height ahead of latest")
	}
}

func TestVerifyMembershipRejectsWhenFrozen(t *testing.T) {
	f := newFixture(1)
	f.cs.LatestParaHeight = 10
	frozen := hostctx.Height{RevisionNumber: uint64(f.cs.ParaID), RevisionHeight: 5}
	f.cs.FrozenHeight = &frozen

	root, nodes := buildTrie(hashFn, map[string][]byte{"p": []byte("v")})
	height := hostctx.Height{RevisionNumber: uint64(f.cs.ParaID), RevisionHeight: 5}
	if err := f.c.VerifyMembership(f.cs, height, nodes, root, "p", []byte("v")); err == nil {
		t.Fatalf("expected rejection: client is frozen at this height")
	}
}

func TestVerifyUpgradeAndUpdateState(t *testing.T) {
	f := newFixture(1)
	f.cs.LatestParaHeight = 5

	root, nodes := buildTrie(hashFn, map[string][]byte{
		ClientStateUpgradePath:    []byte("new-client-state-bytes"),
		ConsensusStateUpgradePath: []byte("new-consensus-state-bytes"),
	})

	ctx := hostctx.NewMemoryContext(0, hostctx.Height{})
	currentHeight := hostctx.Height{RevisionNumber: uint64(f.cs.ParaID), RevisionHeight: 5}
	ctx.StoreConsensusState("client-0", currentHeight, &parachain.ConsensusState{CommitmentRoot: root, TimestampNs: 10})

	newLedger := ledger.New(ledger.Change{Height: 0, SetID: 0, Authorities: authorityWeights(f.keys)}, nil, nil)
	up := &UpgradeProof{
		UpgradeClientState: &ClientState{
			RelayChain:        f.cs.RelayChain,
			ParaID:            2001,
			LatestRelayHeight: 100,
			LatestParaHeight:  6,
			Ledger:            newLedger,
		},
		UpgradeConsensusState:        &parachain.ConsensusState{CommitmentRoot: [32]byte{9, 9, 9}, TimestampNs: 999},
		EncodedUpgradeClientState:    []byte("new-client-state-bytes"),
		EncodedUpgradeConsensusState: []byte("new-consensus-state-bytes"),
		ClientStateProofNodes:       nodes,
		ConsensusStateProofNodes:    nodes,
	}

	next, height, cs, err := f.c.VerifyUpgradeAndUpdateState(ctx, "client-0", f.cs, up)
	if err != nil {
		t.Fatalf("VerifyUpgradeAndUpdateState: %v", err)
	}
	if next.ParaID != 2001 || next.RelayChain != f.cs.RelayChain {
		t.Fatalf("unexpected post-upgrade state: %+v", next)
	}
	if next.FrozenHeight != nil {
		t.Fatalf("post-upgrade state must not be frozen")
	}
	if height != 6 || cs.TimestampNs != 999 {
		t.Fatalf("unexpected returned consensus state insertion: height=%d cs=%+v", height, cs)
	}
}

func TestVerifyUpgradeRejectsNonAdvancingHeight(t *testing.T) {
	f := newFixture(1)
	f.cs.LatestParaHeight = 10

	root, nodes := buildTrie(hashFn, map[string][]byte{
		ClientStateUpgradePath:    []byte("x"),
		ConsensusStateUpgradePath: []byte("y"),
	})
	ctx := hostctx.NewMemoryContext(0, hostctx.Height{})
	currentHeight := hostctx.Height{RevisionNumber: uint64(f.cs.ParaID), RevisionHeight: 10}
	ctx.StoreConsensusState("client-0", currentHeight, &parachain.ConsensusState{CommitmentRoot: root})

	up := &UpgradeProof{
		UpgradeClientState:           &ClientState{ParaID: f.cs.ParaID, LatestParaHeight: 10, Ledger: f.cs.Ledger},
		UpgradeConsensusState:        &parachain.ConsensusState{},
		EncodedUpgradeClientState:    []byte("x"),
		EncodedUpgradeConsensusState: []byte("y"),
		ClientStateProofNodes:        nodes,
		ConsensusStateProofNodes:     nodes,
	}
	if _, _, _, err := f.c.VerifyUpgradeAndUpdateState(ctx, "client-0", f.cs, up); err == nil {
		t.Fatalf("expected rejection: upgrade height does not exceed current height")
	}
}
