// Package ancestry builds an in-memory index over a batch of candidate
// relay-chain headers and supports parent lookup and bounded path
// reconstruction between two hashes. It never owns the headers long-term —
// callers build a fresh Chain per verification call from whatever headers
// arrived with that message.
package ancestry

import (
	"github.com/certen/grandpa-parachain-client/pkg/lcerr"
	"github.com/certen/grandpa-parachain-client/pkg/relaychain"
)

// Chain is a hash-indexed set of candidate relay headers. It deliberately
// holds no owned graph of pointers: traversal always goes back through the
// hash map, so a malformed or cyclic parent-hash chain cannot be
// represented as anything other than a lookup failure.
type Chain struct {
	byHash map[relaychain.Hash]*relaychain.Header
}

// New indexes headers by their hash, computed via hash. Later entries with
// a duplicate hash overwrite earlier ones (the caller is expected to supply
// a header set with no true duplicates; a duplicate hash implies identical
// content under a collision-resistant hash).
func New(headers []relaychain.Header, hash relaychain.HashFunc) *Chain {
	c := &Chain{byHash: make(map[relaychain.Hash]*relaychain.Header, len(headers))}
	for i := range headers {
		h := headers[i]
		c.byHash[relaychain.HashHeader(&h, hash)] = &headers[i]
	}
	return c
}

// Len reports how many headers are indexed.
func (c *Chain) Len() int { return len(c.byHash) }

// Header returns the header with the given hash, or nil if it is not
// present in this chain's index.
func (c *Chain) Header(hash relaychain.Hash) *relaychain.Header {
	return c.byHash[hash]
}

// Ancestry walks parent pointers starting at to, moving backwards until
// from is reached, and returns the path as a hash slice ordered from the
// oldest header after from up to and including to (from itself is
// excluded, to is included). Returns lcerr.InvalidAncestry if to is not
// reachable from from within the indexed headers, or if the walk would
// exceed the number of indexed headers (a cycle is otherwise impossible
// under correct parent hashing, but malformed input must not loop
// indefinitely).
func (c *Chain) Ancestry(from, to relaychain.Hash) ([]relaychain.Hash, error) {
	if from == to {
		return nil, lcerr.New(lcerr.InvalidAncestry, "from and to are identical")
	}

	var reversed []relaychain.Hash
	cursor := to
	bound := len(c.byHash) + 1

	for i := 0; ; i++ {
		if i > bound {
			return nil, lcerr.New(lcerr.InvalidAncestry, "ancestry walk exceeded indexed header count, likely cyclic input")
		}
		header := c.byHash[cursor]
		if header == nil {
			return nil, lcerr.Newf(lcerr.InvalidAncestry, "header %x not present while walking ancestry", cursor)
		}
		reversed = append(reversed, cursor)
		if header.ParentHash == from {
			break
		}
		if header.ParentHash.IsZero() {
			return nil, lcerr.New(lcerr.InvalidAncestry, "reached genesis parent before reaching target ancestor")
		}
		cursor = header.ParentHash
	}

	path := make([]relaychain.Hash, len(reversed))
	for i, h := range reversed {
		path[len(reversed)-1-i] = h
	}
	return path, nil
}
