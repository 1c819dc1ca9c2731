package client

import (
	"bytes"

	"github.com/certen/grandpa-parachain-client/pkg/ancestry"
	"github.com/certen/grandpa-parachain-client/pkg/grandpa"
	"github.com/certen/grandpa-parachain-client/pkg/host"
	"github.com/certen/grandpa-parachain-client/pkg/hostctx"
	"github.com/certen/grandpa-parachain-client/pkg/lcerr"
	"github.com/certen/grandpa-parachain-client/pkg/metrics"
	"github.com/certen/grandpa-parachain-client/pkg/parachain"
	"github.com/certen/grandpa-parachain-client/pkg/relaychain"
	"github.com/certen/grandpa-parachain-client/pkg/trieproof"
)

// Client ties the ancestry, grandpa, trieproof, parachain, and ledger
// packages together into the six state-machine operations a parachain
// light client exposes. It holds no per-client-instance state itself — all mutable
// state lives in the ClientState/Ledger values callers pass in and
// receive back.
type Client struct {
	fn      host.Functions
	cfg     Config
	metrics *metrics.Collector
}

// New constructs a Client backed by fn (the host capability bundle) and
// cfg (deployment-tunable settings). Metrics are disabled until
// WithMetrics is called.
func New(fn host.Functions, cfg Config) *Client {
	return &Client{fn: fn, cfg: cfg}
}

// WithMetrics attaches a Prometheus collector and returns c for chaining.
// A nil collector is accepted and simply disables instrumentation.
func (c *Client) WithMetrics(m *metrics.Collector) *Client {
	c.metrics = m
	return c
}

func (c *Client) hash(data []byte) [32]byte { return c.fn.Blake2b256(data) }

func (c *Client) verifyParachainProof(relayHeader *relaychain.Header, paraID uint32, proofNodes ParachainHeaderProof) (uint32, *parachain.ConsensusState, error) {
	proof, err := trieproof.New(relayHeader.StateRoot, proofNodes, c.hash)
	if err != nil {
		return 0, nil, err
	}
	return parachain.ExtractConsensusState(proof, paraID, c.hash)
}

// VerifyClientMessage checks a ClientMessage's Header or Misbehaviour
// variant. It never mutates cs; a nil error
// means every checked property held.
func (c *Client) VerifyClientMessage(cs *ClientState, msg *ClientMessage) error {
	switch {
	case msg.Header != nil:
		err := c.verifyHeaderMessage(cs, msg.Header)
		c.metrics.RecordClientMessage("header", err)
		return err
	case msg.Misbehaviour != nil:
		err := c.verifyMisbehaviourMessage(cs, msg.Misbehaviour)
		c.metrics.RecordClientMessage("misbehaviour", err)
		if err == nil {
			c.metrics.RecordMisbehaviourDetected()
		}
		return err
	default:
		return lcerr.New(lcerr.TypeMismatch, "client message carries neither Header nor Misbehaviour variant")
	}
}

func (c *Client) verifyHeaderMessage(cs *ClientState, h *HeaderMessage) error {
	if uint32(h.Height.RevisionNumber) != cs.ParaID {
		return lcerr.Newf(lcerr.ParaIDMismatch, "header revision_number %d does not match client para_id %d", h.Height.RevisionNumber, cs.ParaID)
	}
	if len(h.FinalityProof.UnknownHeaders) > MaxUnknownHeaders {
		return lcerr.Newf(lcerr.Decode, "unknown header count %d exceeds limit %d", len(h.FinalityProof.UnknownHeaders), MaxUnknownHeaders)
	}
	if len(h.ParachainHeaders) > MaxParachainHeaders {
		return lcerr.Newf(lcerr.Decode, "parachain header count %d exceeds limit %d", len(h.ParachainHeaders), MaxParachainHeaders)
	}

	chain := ancestry.New(h.FinalityProof.UnknownHeaders, c.hash)
	target := chain.Header(h.FinalityProof.Block)
	if target == nil {
		return lcerr.New(lcerr.MissingHeader, "finality proof's target relay header not present among unknown headers")
	}

	authorities := cs.Ledger.GetAuthorities(target.Number)
	j, err := grandpa.Verify(h.FinalityProof.Justification, grandpa.AuthoritySet{SetID: authorities.SetID, Authorities: authorities.Authorities}, c.fn, c.hash)
	if err != nil {
		return err
	}
	if j.Commit.TargetHash != h.FinalityProof.Block {
		return lcerr.New(lcerr.InvalidJustification, "justification commit target does not match finality proof block")
	}

	for relayHash, proofNodes := range h.ParachainHeaders {
		relayHeader := chain.Header(relayHash)
		if relayHeader == nil {
			return lcerr.Newf(lcerr.MissingHeader, "no relay header for hash %x referenced by parachain header proof", relayHash)
		}
		if _, _, err := c.verifyParachainProof(relayHeader, cs.ParaID, proofNodes); err != nil {
			return err
		}
	}
	return nil
}

func maxMinHeaders(headers []relaychain.Header) (max, min *relaychain.Header, err error) {
	if len(headers) == 0 {
		return nil, nil, lcerr.New(lcerr.MissingHeader, "finality proof carries no unknown headers")
	}
	maxH, minH := &headers[0], &headers[0]
	for i := 1; i < len(headers); i++ {
		if headers[i].Number > maxH.Number {
			maxH = &headers[i]
		}
		if headers[i].Number < minH.Number {
			minH = &headers[i]
		}
	}
	return maxH, minH, nil
}

func pathsEqual(a, b []relaychain.Hash) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (c *Client) verifyMisbehaviourMessage(cs *ClientState, m *MisbehaviourMessage) error {
	p1, p2 := m.First, m.Second

	if p1.Block == p2.Block {
		return lcerr.New(lcerr.InvalidEquivocation, "both finality proofs target the same block")
	}
	if len(p1.UnknownHeaders) > MaxUnknownHeaders || len(p2.UnknownHeaders) > MaxUnknownHeaders {
		return lcerr.New(lcerr.Decode, "unknown header count exceeds limit")
	}

	target1, base1, err := maxMinHeaders(p1.UnknownHeaders)
	if err != nil {
		return err
	}
	target2, base2, err := maxMinHeaders(p2.UnknownHeaders)
	if err != nil {
		return err
	}

	if relaychain.HashHeader(target1, c.hash) != p1.Block {
		return lcerr.New(lcerr.InvalidEquivocation, "first proof's target header does not hash to its claimed block")
	}
	if relaychain.HashHeader(target2, c.hash) != p2.Block {
		return lcerr.New(lcerr.InvalidEquivocation, "second proof's target header does not hash to its claimed block")
	}
	if base1.ParentHash != base2.ParentHash {
		return lcerr.New(lcerr.InvalidEquivocation, "the two proofs' base headers do not share a common ancestor")
	}
	commonAncestor := base1.ParentHash

	chain1 := ancestry.New(p1.UnknownHeaders, c.hash)
	chain2 := ancestry.New(p2.UnknownHeaders, c.hash)

	baseHash1 := relaychain.HashHeader(base1, c.hash)
	baseHash2 := relaychain.HashHeader(base2, c.hash)

	path1, err := chain1.Ancestry(baseHash1, p1.Block)
	if err != nil {
		return lcerr.Wrap(lcerr.InvalidAncestry, "first proof's finalized path reconstruction failed", err)
	}
	path2, err := chain2.Ancestry(baseHash2, p2.Block)
	if err != nil {
		return lcerr.Wrap(lcerr.InvalidAncestry, "second proof's finalized path reconstruction failed", err)
	}
	if pathsEqual(path1, path2) {
		return lcerr.New(lcerr.InvalidEquivocation, "the two finalized paths do not diverge")
	}

	if commonAncestor.IsZero() && !c.cfg.GenesisHashAllowlist[commonAncestor] {
		return lcerr.New(lcerr.InvalidEquivocation, "equivocation anchored at the genesis relay parent is rejected without an explicit allowlist entry")
	}
	if !c.fn.ContainsRelayHeaderHash(host.Hash(commonAncestor)) {
		return lcerr.New(lcerr.InvalidEquivocation, "common ancestor is not a previously trusted relay header")
	}

	j1raw, err := grandpa.Decode(p1.Justification)
	if err != nil {
		return lcerr.Wrap(lcerr.Decode, "first justification decode failed", err)
	}
	if j1raw.Commit.TargetHash != p1.Block {
		return lcerr.New(lcerr.InvalidJustification, "first justification's commit target does not match its proof's block")
	}
	j2raw, err := grandpa.Decode(p2.Justification)
	if err != nil {
		return lcerr.Wrap(lcerr.Decode, "second justification decode failed", err)
	}
	if j2raw.Commit.TargetHash != p2.Block {
		return lcerr.New(lcerr.InvalidJustification, "second justification's commit target does not match its proof's block")
	}

	// Block numbers in untrusted headers are not authoritative: recompute
	// candidate target heights from each side's own base number and
	// finalized path length, rather than trusting target.Number directly.
	candidate1 := base1.Number + uint32(len(path1)) - 1
	candidate2 := base2.Number + uint32(len(path2)) - 1
	candidates := []uint32{candidate1}
	if candidate2 != candidate1 {
		candidates = append(candidates, candidate2)
	}

	var lastErr error = lcerr.New(lcerr.InvalidJustification, "no candidate height allowed both justifications to validate")
	for _, height := range candidates {
		authorities := cs.Ledger.GetAuthorities(height)
		as := grandpa.AuthoritySet{SetID: authorities.SetID, Authorities: authorities.Authorities}

		if _, err := grandpa.Verify(p1.Justification, as, c.fn, c.hash); err != nil {
			lastErr = err
			continue
		}
		if _, err := grandpa.Verify(p2.Justification, as, c.fn, c.hash); err != nil {
			lastErr = err
			continue
		}
		return nil // both validated under this candidate pairing: equivocation proven
	}
	return lastErr
}

// CheckForMisbehaviour is a pure inspection that never mutates cs or ctx.
func (c *Client) CheckForMisbehaviour(ctx hostctx.ReaderContext, clientID string, cs *ClientState, msg *ClientMessage) (bool, error) {
	if msg.Misbehaviour != nil {
		return true, nil
	}
	h := msg.Header
	if h == nil {
		return false, lcerr.New(lcerr.TypeMismatch, "client message carries neither Header nor Misbehaviour variant")
	}

	for _, hdr := range h.FinalityProof.UnknownHeaders {
		if hdr.ForcedChange() != nil {
			return true, nil
		}
	}

	chain := ancestry.New(h.FinalityProof.UnknownHeaders, c.hash)
	finalized, err := chain.Ancestry(cs.LatestRelayHash, h.FinalityProof.Block)
	if err != nil {
		return false, nil
	}
	finalizedSet := make(map[relaychain.Hash]bool, len(finalized))
	for _, hh := range finalized {
		finalizedSet[hh] = true
	}

	for relayHash, proofNodes := range h.ParachainHeaders {
		if !finalizedSet[relayHash] {
			continue
		}
		relayHeader := chain.Header(relayHash)
		if relayHeader == nil {
			continue
		}
		height, state, err := c.verifyParachainProof(relayHeader, cs.ParaID, proofNodes)
		if err != nil {
			continue
		}
		stored, ok := ctx.MaybeConsensusState(clientID, hostctx.Height{RevisionNumber: uint64(cs.ParaID), RevisionHeight: uint64(height)})
		if !ok {
			continue
		}
		storedState, ok := stored.(*parachain.ConsensusState)
		if !ok {
			continue
		}
		if *storedState != *state {
			return true, nil
		}
	}
	return false, nil
}

// UpdateState advances a ClientState past a verified header. Callers
// must have already succeeded at
// VerifyClientMessage(Header) for h; UpdateState re-derives everything it
// needs rather than trusting that precondition blindly, since the two
// operations are exposed as separate calls.
func (c *Client) UpdateState(ctx hostctx.ReaderContext, clientID string, cs *ClientState, h *HeaderMessage) (*ClientState, map[uint32]*parachain.ConsensusState, error) {
	if cs.IsFrozen() {
		return nil, nil, frozenClientError()
	}
	chain := ancestry.New(h.FinalityProof.UnknownHeaders, c.hash)
	finalized, err := chain.Ancestry(cs.LatestRelayHash, h.FinalityProof.Block)
	if err != nil {
		return nil, nil, err
	}
	finalizedSet := make(map[relaychain.Hash]bool, len(finalized))
	for _, hh := range finalized {
		finalizedSet[hh] = true
	}

	newStates := make(map[uint32]*parachain.ConsensusState)
	for relayHash, proofNodes := range h.ParachainHeaders {
		if !finalizedSet[relayHash] {
			continue
		}
		relayHeader := chain.Header(relayHash)
		if relayHeader == nil {
			return nil, nil, lcerr.Newf(lcerr.MissingHeader, "no relay header for finalized hash %x", relayHash)
		}
		height, state, err := c.verifyParachainProof(relayHeader, cs.ParaID, proofNodes)
		if err != nil {
			return nil, nil, err
		}
		if _, exists := ctx.MaybeConsensusState(clientID, hostctx.Height{RevisionNumber: uint64(cs.ParaID), RevisionHeight: uint64(height)}); exists {
			continue // duplicate-is-idempotent
		}
		newStates[height] = state
	}

	target := chain.Header(h.FinalityProof.Block)
	if target == nil {
		panic("grandpa-parachain-client: finality proof target header missing in update_state after being found during verify_client_message")
	}

	if target.Number <= cs.LatestRelayHeight {
		return nil, nil, lcerr.New(lcerr.HeightRegression, "relay height would not advance")
	}
	expectedNumber := cs.LatestRelayHeight + uint32(len(finalized))
	if target.Number != expectedNumber {
		return nil, nil, lcerr.Newf(lcerr.HeightMismatch, "target number %d does not match expected %d (latest %d + finalized len %d)", target.Number, expectedNumber, cs.LatestRelayHeight, len(finalized))
	}

	var minParaHeight, maxParaHeight uint32
	haveAny := false
	for height := range newStates {
		if !haveAny || height < minParaHeight {
			minParaHeight = height
		}
		if !haveAny || height > maxParaHeight {
			maxParaHeight = height
		}
		haveAny = true
	}
	if haveAny && minParaHeight <= cs.LatestParaHeight {
		return nil, nil, lcerr.New(lcerr.HeightRegression, "parachain height would not advance")
	}

	next := *cs
	if haveAny {
		next.LatestParaHeight = maxParaHeight
	}
	next.LatestRelayHash = h.FinalityProof.Block
	next.LatestRelayHeight = target.Number

	if sc := target.ScheduledChange(); sc != nil {
		next.Ledger.InsertScheduled(target.Number, sc.Delay, sc.NextAuthorities, ctx.HostTimestamp())
	}

	hostHashes := make([]host.Hash, 0, len(finalized))
	for _, hh := range finalized {
		hostHashes = append(hostHashes, host.Hash(hh))
	}
	c.fn.InsertRelayHeaderHashes(ctx.HostTimestamp()/1_000_000, hostHashes)

	return &next, newStates, nil
}

// UpdateStateOnMisbehaviour freezes a ClientState once proven-faulty;
// idempotent if already frozen.
func (c *Client) UpdateStateOnMisbehaviour(cs *ClientState) *ClientState {
	if cs.IsFrozen() {
		return cs
	}
	next := *cs
	frozen := hostctx.Height{RevisionNumber: uint64(cs.ParaID), RevisionHeight: uint64(cs.LatestParaHeight)}
	next.FrozenHeight = &frozen
	c.metrics.RecordFrozen()
	return &next
}

// CheckSubstituteAndUpdateState would let governance substitute a
// client's state after a successful proposal; this client does not
// implement governance-triggered substitution. Callers get a typed,
// documented error rather than a missing method.
func (c *Client) CheckSubstituteAndUpdateState(cs *ClientState) (*ClientState, error) {
	return nil, lcerr.New(lcerr.Unimplemented, "check_substitute_and_update_state is not implemented")
}

// UpgradeProof carries the data verify_upgrade_and_update_state needs: the
// proposed post-upgrade client/consensus states, their canonical
// encodings (checked against the storage proof values), and the proof
// nodes themselves.
type UpgradeProof struct {
	UpgradeClientState    *ClientState
	UpgradeConsensusState *parachain.ConsensusState

	EncodedUpgradeClientState    []byte
	EncodedUpgradeConsensusState []byte

	ClientStateProofNodes    ParachainHeaderProof
	ConsensusStateProofNodes ParachainHeaderProof
}

// VerifyUpgradeAndUpdateState verifies a counterparty's client/consensus
// state upgrade proof and returns the upgraded state.
func (c *Client) VerifyUpgradeAndUpdateState(ctx hostctx.ReaderContext, clientID string, cs *ClientState, up *UpgradeProof) (*ClientState, uint32, *parachain.ConsensusState, error) {
	currentHeight := hostctx.Height{RevisionNumber: uint64(cs.ParaID), RevisionHeight: uint64(cs.LatestParaHeight)}
	newHeight := hostctx.Height{RevisionNumber: uint64(up.UpgradeClientState.ParaID), RevisionHeight: uint64(up.UpgradeClientState.LatestParaHeight)}
	if !newHeight.GT(currentHeight) {
		return nil, 0, nil, lcerr.New(lcerr.HeightRegression, "upgrade height does not exceed current latest height")
	}

	raw, err := ctx.ConsensusState(clientID, currentHeight)
	if err != nil {
		return nil, 0, nil, lcerr.Wrap(lcerr.MissingHeader, "no consensus state at current latest height", err)
	}
	csState, ok := raw.(*parachain.ConsensusState)
	if !ok {
		return nil, 0, nil, lcerr.New(lcerr.TypeMismatch, "stored consensus state is not the expected concrete type")
	}
	root := csState.CommitmentRoot

	clientProof, err := trieproof.New(root, up.ClientStateProofNodes, c.hash)
	if err != nil {
		return nil, 0, nil, err
	}
	value, present, err := clientProof.Get([]byte(ClientStateUpgradePath))
	if err != nil {
		return nil, 0, nil, err
	}
	if !present || !bytes.Equal(value, up.EncodedUpgradeClientState) {
		return nil, 0, nil, lcerr.New(lcerr.InvalidUpgradeProof, "client state upgrade proof value mismatch")
	}

	consensusProof, err := trieproof.New(root, up.ConsensusStateProofNodes, c.hash)
	if err != nil {
		return nil, 0, nil, err
	}
	value2, present2, err := consensusProof.Get([]byte(ConsensusStateUpgradePath))
	if err != nil {
		return nil, 0, nil, err
	}
	if !present2 || !bytes.Equal(value2, up.EncodedUpgradeConsensusState) {
		return nil, 0, nil, lcerr.New(lcerr.InvalidUpgradeProof, "consensus state upgrade proof value mismatch")
	}

	next := &ClientState{
		RelayChain:        cs.RelayChain,
		ParaID:            up.UpgradeClientState.ParaID,
		LatestRelayHash:   up.UpgradeClientState.LatestRelayHash,
		LatestRelayHeight: up.UpgradeClientState.LatestRelayHeight,
		LatestParaHeight:  up.UpgradeClientState.LatestParaHeight,
		FrozenHeight:      nil,
		Ledger:            up.UpgradeClientState.Ledger,
	}

	return next, up.UpgradeClientState.LatestParaHeight, up.UpgradeConsensusState, nil
}
