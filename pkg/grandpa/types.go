// Package grandpa decodes and verifies GRANDPA finality justifications: a
// commit plus the signed precommits and vote-ancestry headers that support
// it, checked against a (set_id, authorities) tuple.
package grandpa

import (
	"github.com/certen/grandpa-parachain-client/pkg/relaychain"
	"github.com/certen/grandpa-parachain-client/pkg/scale"
)

// Precommit is one voter's claim that a block is final.
type Precommit struct {
	TargetHash   relaychain.Hash
	TargetNumber uint32 // NOT compact-encoded on the wire; see package scale docs.
}

// SignedPrecommit pairs a Precommit with the voter's ed25519 signature and
// public key.
type SignedPrecommit struct {
	Precommit Precommit
	Signature [64]byte
	ID        [32]byte
}

// Commit is the aggregate of precommits GRANDPA produces once a block
// reaches supermajority agreement.
type Commit struct {
	TargetHash   relaychain.Hash
	TargetNumber uint32
	Precommits   []SignedPrecommit
}

// Justification is a full GRANDPA finality justification: the commit, plus
// the headers ("vote ancestries") needed to establish that every precommit
// target descends from the commit's target.
type Justification struct {
	Round          uint64
	Commit         Commit
	VoteAncestries []relaychain.Header
}

// AuthoritySet is the (set_id, authorities) tuple a justification is
// checked against.
type AuthoritySet struct {
	SetID       uint64
	Authorities []relaychain.AuthorityIDWeight
}

// TotalWeight sums the voting weight of every authority in the set.
func (a AuthoritySet) TotalWeight() uint64 {
	var total uint64
	for _, auth := range a.Authorities {
		total += auth.Weight
	}
	return total
}

// precommitMessageTag mirrors finality_grandpa::Message::Precommit's
// variant index (Prevote=0, Precommit=1, PrimaryPropose=2).
const precommitMessageTag = 1

// SignedPayload returns the exact byte sequence a GRANDPA voter signs for a
// precommit: the SCALE-encoded Message::Precommit variant, followed by the
// fixed-width round and set_id that localize the vote to this justification
// (mirrors finality_grandpa::localized_payload).
func SignedPayload(round, setID uint64, p Precommit) []byte {
	e := scale.NewEncoder()
	e.PutRaw([]byte{precommitMessageTag})
	e.PutRaw(p.TargetHash[:])
	e.PutUint32(p.TargetNumber)
	e.PutUint64(round)
	e.PutUint64(setID)
	return e.Bytes()
}

// Encode SCALE-encodes the justification, the inverse of Decode.
func (j *Justification) Encode() []byte {
	e := scale.NewEncoder()
	e.PutUint64(j.Round)
	encodeCommit(e, &j.Commit)
	e.PutVector(len(j.VoteAncestries), func(i int) {
		e.PutRaw(j.VoteAncestries[i].Encode())
	})
	return e.Bytes()
}

func encodeCommit(e *scale.Encoder, c *Commit) {
	e.PutRaw(c.TargetHash[:])
	e.PutUint32(c.TargetNumber)
	e.PutVector(len(c.Precommits), func(i int) {
		encodeSignedPrecommit(e, &c.Precommits[i])
	})
}

func encodeSignedPrecommit(e *scale.Encoder, sp *SignedPrecommit) {
	e.PutRaw(sp.Precommit.TargetHash[:])
	e.PutUint32(sp.Precommit.TargetNumber)
	e.PutRaw(sp.Signature[:])
	e.PutRaw(sp.ID[:])
}

// Decode parses a SCALE-encoded justification.
func Decode(buf []byte) (*Justification, error) {
	d := scale.NewDecoder(buf)

	round, err := d.TakeUint64()
	if err != nil {
		return nil, err
	}

	commit, err := decodeCommit(d)
	if err != nil {
		return nil, err
	}

	// Vote ancestry headers are length-prefixed like any other vector, but
	// each element is itself a variable-length SCALE header, so decoding
	// goes through relaychain.DecodePrefix against the remaining stream
	// rather than a fixed per-element width.
	var ancestries []relaychain.Header
	n, err := d.TakeCompactUint64()
	if err != nil {
		return nil, err
	}
	for i := uint64(0); i < n; i++ {
		hdr, err := decodeHeaderFromDecoder(d)
		if err != nil {
			return nil, err
		}
		ancestries = append(ancestries, *hdr)
	}

	return &Justification{
		Round:          round,
		Commit:         *commit,
		VoteAncestries: ancestries,
	}, nil
}

func decodeCommit(d *scale.Decoder) (*Commit, error) {
	targetHashRaw, err := d.TakeRaw(32)
	if err != nil {
		return nil, err
	}
	targetNumber, err := d.TakeUint32()
	if err != nil {
		return nil, err
	}

	var precommits []SignedPrecommit
	_, err = d.TakeVector(func(i int) error {
		sp, err := decodeSignedPrecommit(d)
		if err != nil {
			return err
		}
		precommits = append(precommits, *sp)
		return nil
	})
	if err != nil {
		return nil, err
	}

	c := &Commit{TargetNumber: targetNumber, Precommits: precommits}
	copy(c.TargetHash[:], targetHashRaw)
	return c, nil
}

func decodeSignedPrecommit(d *scale.Decoder) (*SignedPrecommit, error) {
	targetHashRaw, err := d.TakeRaw(32)
	if err != nil {
		return nil, err
	}
	targetNumber, err := d.TakeUint32()
	if err != nil {
		return nil, err
	}
	sigRaw, err := d.TakeRaw(64)
	if err != nil {
		return nil, err
	}
	idRaw, err := d.TakeRaw(32)
	if err != nil {
		return nil, err
	}

	sp := &SignedPrecommit{}
	copy(sp.Precommit.TargetHash[:], targetHashRaw)
	sp.Precommit.TargetNumber = targetNumber
	copy(sp.Signature[:], sigRaw)
	copy(sp.ID[:], idRaw)
	return sp, nil
}

// decodeHeaderFromDecoder decodes one relaychain.Header out of the
// remaining bytes of d and advances d past it, leaving any further
// elements (or trailing justification fields) untouched.
func decodeHeaderFromDecoder(d *scale.Decoder) (*relaychain.Header, error) {
	remaining, err := d.TakeRaw(d.Remaining())
	if err != nil {
		return nil, err
	}
	hdr, consumed, err := relaychain.DecodePrefix(remaining)
	if err != nil {
		return nil, err
	}
	*d = *scale.NewDecoder(remaining[consumed:])
	return hdr, nil
}
