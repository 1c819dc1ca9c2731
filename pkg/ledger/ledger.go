// Package ledger implements the Authority-Set Ledger: an ordered
// collection of GRANDPA authority-set changes with activation heights,
// supporting height-to-authorities lookup with forward-tolerance and
// age-based pruning with a minimum-retention floor.
package ledger

import (
	"encoding/json"
	"sort"

	"github.com/certen/grandpa-parachain-client/pkg/lcerr"
	"github.com/certen/grandpa-parachain-client/pkg/relaychain"
)

// MinRetention is AUTHORITIES_CHANGE_ITEM_MIN_COUNT: the ledger always
// retains at least this many entries regardless of age.
const MinRetention = 100

// Lifetime is AUTHORITIES_CHANGE_ITEM_LIFETIME: entries older than this
// (relative to the host's current timestamp) become eligible for pruning,
// subject to MinRetention.
const Lifetime int64 = 30 * 24 * 60 * 60 * 1_000_000_000 // 30 days, nanoseconds

// Change is one authority-set transition: the height it activates at, the
// wall-clock time it was recorded, the new set_id, and the new authority
// set.
type Change struct {
	Height      uint32                         `json:"height"`
	TimestampNs int64                          `json:"timestamp_ns"`
	SetID       uint64                         `json:"set_id"`
	Authorities []relaychain.AuthorityIDWeight `json:"authorities"`
}

// KV is the minimal persistence primitive the ledger needs. It is
// satisfied by *kvdb.Namespace and by any in-memory test double.
type KV interface {
	Get(key []byte) ([]byte, error)
	Set(key, value []byte) error
}

// Ledger is a single ClientState's authority-set history. It is never
// shared across clients: each ClientState owns its own
// Ledger and its own KV namespace.
type Ledger struct {
	entries []Change // strictly height-sorted, strictly increasing set_id
	kv      KV
	kvKey   []byte // key the JSON-encoded entries are persisted under within kv
}

// New constructs a Ledger seeded with genesis, the client's initial
// authority set. genesis is required: the ledger is never empty.
// kv/kvKey may be nil/empty for a purely in-memory ledger.
func New(genesis Change, kv KV, kvKey []byte) *Ledger {
	l := &Ledger{entries: []Change{genesis}, kv: kv, kvKey: kvKey}
	l.persist()
	return l
}

// Load reconstructs a Ledger previously persisted under kvKey. Returns an
// error if nothing has been persisted yet (callers should use New for a
// fresh client).
func Load(kv KV, kvKey []byte) (*Ledger, error) {
	raw, err := kv.Get(kvKey)
	if err != nil {
		return nil, lcerr.Wrap(lcerr.Decode, "ledger load failed", err)
	}
	if len(raw) == 0 {
		return nil, lcerr.New(lcerr.Decode, "no ledger persisted under this key")
	}
	var entries []Change
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, lcerr.Wrap(lcerr.Decode, "ledger deserialization failed", err)
	}
	if len(entries) == 0 {
		return nil, lcerr.New(lcerr.Decode, "persisted ledger is empty")
	}
	return &Ledger{entries: entries, kv: kv, kvKey: kvKey}, nil
}

func (l *Ledger) persist() {
	if l.kv == nil || len(l.kvKey) == 0 {
		return
	}
	raw, err := json.Marshal(l.entries)
	if err != nil {
		return
	}
	_ = l.kv.Set(l.kvKey, raw)
}

// Len reports the number of retained entries.
func (l *Ledger) Len() int { return len(l.entries) }

// Entries returns a defensive copy of the retained entries, oldest first.
func (l *Ledger) Entries() []Change {
	out := make([]Change, len(l.entries))
	copy(out, l.entries)
	return out
}

// LastSetID returns the set_id of the most recently inserted change.
func (l *Ledger) LastSetID() uint64 {
	return l.entries[len(l.entries)-1].SetID
}

// GetAuthorities resolves the (set_id, authorities) tuple in force at
// height: the entry with the greatest Height <= height, or, if none
// qualifies (height precedes every recorded entry), the most recent entry.
// This forward-tolerance is deliberate: a justification may arrive
// referencing a just-activated set before the ledger has a
// strictly-dominating entry.
func (l *Ledger) GetAuthorities(height uint32) Change {
	idx := sort.Search(len(l.entries), func(i int) bool {
		return l.entries[i].Height > height
	})
	if idx == 0 {
		return l.entries[len(l.entries)-1]
	}
	return l.entries[idx-1]
}

// InsertScheduled appends a new change activating at
// targetNumber+delay+1, with set_id = LastSetID()+1, then prunes. nowNs is
// the host's current wall-clock time in nanoseconds, used both as the new
// entry's timestamp and as the pruning reference point.
func (l *Ledger) InsertScheduled(targetNumber, delay uint32, nextAuthorities []relaychain.AuthorityIDWeight, nowNs int64) {
	change := Change{
		Height:      targetNumber + delay + 1,
		TimestampNs: nowNs,
		SetID:       l.LastSetID() + 1,
		Authorities: nextAuthorities,
	}
	l.entries = append(l.entries, change)
	l.prune(nowNs)
	l.persist()
}

// prune removes entries whose TimestampNs+Lifetime has expired relative to
// nowNs, except that the MinRetention most recent entries are always kept.
// Timestamp overflow during the expiry computation is treated as
// non-expired (pessimistic retention): an entry is only ever removed when
// its expiry can be computed and definitely has passed.
func (l *Ledger) prune(nowNs int64) {
	if len(l.entries) <= MinRetention {
		return
	}

	keepFrom := len(l.entries) - MinRetention // entries before this index are prune-eligible by count
	cut := 0
	for cut < keepFrom {
		expiry, overflowed := addOverflowSafe(l.entries[cut].TimestampNs, Lifetime)
		if overflowed || expiry > nowNs {
			break // not expired (or can't safely tell) - stop pruning here and everything after
		}
		cut++
	}
	if cut > 0 {
		l.entries = append([]Change{}, l.entries[cut:]...)
	}
}

// addOverflowSafe returns a+b and whether the addition overflowed an
// int64.
func addOverflowSafe(a, b int64) (sum int64, overflowed bool) {
	sum = a + b
	if b > 0 && sum < a {
		return 0, true
	}
	if b < 0 && sum > a {
		return 0, true
	}
	return sum, false
}
