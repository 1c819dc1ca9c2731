// Package relaychain defines the relay chain block header this client
// tracks GRANDPA finality over, including the consensus digest items that
// carry scheduled and forced authority-set changes.
package relaychain

import (
	"encoding/hex"
	"fmt"

	"github.com/certen/grandpa-parachain-client/pkg/scale"
)

// Hash is a 32-byte BLAKE2-256 digest.
type Hash [32]byte

// IsZero reports whether h is the all-zero (genesis-parent) hash.
func (h Hash) IsZero() bool { return h == Hash{} }

// MarshalText hex-encodes h, letting Hash serve as a JSON object key (the
// encoding/json map-key path requires encoding.TextMarshaler for any key
// type that isn't a string or integer) as well as a plain JSON string
// value.
func (h Hash) MarshalText() ([]byte, error) {
	dst := make([]byte, hex.EncodedLen(len(h)))
	hex.Encode(dst, h[:])
	return dst, nil
}

// UnmarshalText decodes a hex string produced by MarshalText back into h,
// with or without a leading "0x".
func (h *Hash) UnmarshalText(text []byte) error {
	if len(text) >= 2 && text[0] == '0' && (text[1] == 'x' || text[1] == 'X') {
		text = text[2:]
	}
	if hex.DecodedLen(len(text)) != len(h) {
		return fmt.Errorf("relaychain: hash must decode to %d bytes, got %d hex chars", len(h), len(text))
	}
	_, err := hex.Decode(h[:], text)
	return err
}

// GrandpaEngineID is the four-byte consensus engine identifier GRANDPA
// digest items are tagged with ("FRNK" in ASCII, matching
// sp_consensus_grandpa::GRANDPA_ENGINE_ID).
var GrandpaEngineID = [4]byte{'F', 'R', 'N', 'K'}

// AuthorityIDWeight pairs a GRANDPA authority's ed25519 public key with its
// voting weight.
type AuthorityIDWeight struct {
	AuthorityID [32]byte
	Weight      uint64
}

// ScheduledChange is a GRANDPA authority-set change that activates `Delay`
// blocks after the block carrying this digest item.
type ScheduledChange struct {
	NextAuthorities []AuthorityIDWeight
	Delay           uint32
}

// ForcedChange is a GRANDPA authority-set change forced in, activating
// `Delay` blocks after `MedianLastFinalized`.
type ForcedChange struct {
	MedianLastFinalized uint32
	NextAuthorities     []AuthorityIDWeight
	Delay               uint32
}

// DigestItem is one entry in a header's digest log. Only the GRANDPA
// consensus log items this client interprets are decoded into their typed
// form; any other item is kept as Opaque so round-trip encoding is exact.
type DigestItem struct {
	EngineID  [4]byte
	Scheduled *ScheduledChange
	Forced    *ForcedChange
	Opaque    []byte // raw payload, populated when neither field above is
}

// Header is a relay chain block header.
type Header struct {
	Number         uint32
	ParentHash     Hash
	StateRoot      Hash
	ExtrinsicsRoot Hash
	Digest         []DigestItem
}

// ScheduledChange returns the first ScheduledChange carried in the header's
// digest, if any (mirrors find_scheduled_change in Substrate's GRANDPA
// client).
func (h *Header) ScheduledChange() *ScheduledChange {
	for _, item := range h.Digest {
		if item.EngineID == GrandpaEngineID && item.Scheduled != nil {
			return item.Scheduled
		}
	}
	return nil
}

// ForcedChange returns the first ForcedChange carried in the header's
// digest, if any.
func (h *Header) ForcedChange() *ForcedChange {
	for _, item := range h.Digest {
		if item.EngineID == GrandpaEngineID && item.Forced != nil {
			return item.Forced
		}
	}
	return nil
}

// Encode SCALE-encodes the header. The block number is compact-encoded,
// matching Substrate's #[codec(compact)] attribute on Header::number;
// everything else is encoded at its natural width.
func (h *Header) Encode() []byte {
	e := scale.NewEncoder()
	e.PutCompactUint32(h.Number)
	e.PutRaw(h.ParentHash[:])
	e.PutRaw(h.StateRoot[:])
	e.PutRaw(h.ExtrinsicsRoot[:])
	e.PutVector(len(h.Digest), func(i int) {
		encodeDigestItem(e, &h.Digest[i])
	})
	return e.Bytes()
}

func encodeDigestItem(e *scale.Encoder, item *DigestItem) {
	e.PutRaw(item.EngineID[:])
	switch {
	case item.Scheduled != nil:
		e.PutRaw([]byte{0})
		encodeAuthoritySet(e, item.Scheduled.NextAuthorities)
		e.PutUint32(item.Scheduled.Delay)
	case item.Forced != nil:
		e.PutRaw([]byte{1})
		e.PutUint32(item.Forced.MedianLastFinalized)
		encodeAuthoritySet(e, item.Forced.NextAuthorities)
		e.PutUint32(item.Forced.Delay)
	default:
		e.PutRaw([]byte{2})
		e.PutVector(len(item.Opaque), func(i int) { e.PutRaw(item.Opaque[i : i+1]) })
	}
}

func encodeAuthoritySet(e *scale.Encoder, authorities []AuthorityIDWeight) {
	e.PutVector(len(authorities), func(i int) {
		e.PutRaw(authorities[i].AuthorityID[:])
		e.PutUint64(authorities[i].Weight)
	})
}

// HashFunc computes a 32-byte digest over data; callers supply the host's
// BLAKE2-256 implementation so this package never hard-codes a crypto
// library.
type HashFunc func(data []byte) [32]byte

// HashHeader returns the canonical hash of h under the supplied hash
// function.
func HashHeader(h *Header, hash HashFunc) Hash {
	return Hash(hash(h.Encode()))
}

// Decode reads a single Header occupying the entirety of buf, and errors
// if any bytes trail it.
func Decode(buf []byte) (*Header, error) {
	h, consumed, err := DecodePrefix(buf)
	if err != nil {
		return nil, err
	}
	if consumed != len(buf) {
		return nil, fmt.Errorf("relaychain: %d trailing bytes after header", len(buf)-consumed)
	}
	return h, nil
}

// DecodePrefix reads a Header from the start of buf and reports how many
// bytes it consumed, leaving any trailing bytes unexamined. This is used
// when a Header is embedded inside a larger encoded structure (such as a
// GRANDPA justification's vote-ancestry list) whose own length prefix
// determines the overall boundary, not the header's.
func DecodePrefix(buf []byte) (*Header, int, error) {
	d := scale.NewDecoder(buf)
	h, err := decodeHeader(d)
	if err != nil {
		return nil, 0, err
	}
	return h, len(buf) - d.Remaining(), nil
}

func decodeHeader(d *scale.Decoder) (*Header, error) {
	number, err := d.TakeCompactUint32()
	if err != nil {
		return nil, err
	}
	parent, err := d.TakeRaw(32)
	if err != nil {
		return nil, err
	}
	state, err := d.TakeRaw(32)
	if err != nil {
		return nil, err
	}
	extrinsics, err := d.TakeRaw(32)
	if err != nil {
		return nil, err
	}
	h := &Header{Number: number}
	copy(h.ParentHash[:], parent)
	copy(h.StateRoot[:], state)
	copy(h.ExtrinsicsRoot[:], extrinsics)

	_, err = d.TakeVector(func(i int) error {
		item, err := decodeDigestItem(d)
		if err != nil {
			return err
		}
		h.Digest = append(h.Digest, *item)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return h, nil
}

func decodeDigestItem(d *scale.Decoder) (*DigestItem, error) {
	engine, err := d.TakeRaw(4)
	if err != nil {
		return nil, err
	}
	tag, err := d.TakeRaw(1)
	if err != nil {
		return nil, err
	}
	item := &DigestItem{}
	copy(item.EngineID[:], engine)

	switch tag[0] {
	case 0:
		authorities, delay, err := decodeAuthoritySetAndDelay(d)
		if err != nil {
			return nil, err
		}
		item.Scheduled = &ScheduledChange{NextAuthorities: authorities, Delay: delay}
	case 1:
		median, err := d.TakeUint32()
		if err != nil {
			return nil, err
		}
		authorities, delay, err := decodeAuthoritySetAndDelay(d)
		if err != nil {
			return nil, err
		}
		item.Forced = &ForcedChange{MedianLastFinalized: median, NextAuthorities: authorities, Delay: delay}
	default:
		var opaque []byte
		_, err := d.TakeVector(func(i int) error {
			b, err := d.TakeRaw(1)
			if err != nil {
				return err
			}
			opaque = append(opaque, b[0])
			return nil
		})
		if err != nil {
			return nil, err
		}
		item.Opaque = opaque
	}
	return item, nil
}

func decodeAuthoritySetAndDelay(d *scale.Decoder) ([]AuthorityIDWeight, uint32, error) {
	var authorities []AuthorityIDWeight
	_, err := d.TakeVector(func(i int) error {
		id, err := d.TakeRaw(32)
		if err != nil {
			return err
		}
		weight, err := d.TakeUint64()
		if err != nil {
			return err
		}
		var a AuthorityIDWeight
		copy(a.AuthorityID[:], id)
		a.Weight = weight
		authorities = append(authorities, a)
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	delay, err := d.TakeUint32()
	if err != nil {
		return nil, 0, err
	}
	return authorities, delay, nil
}
