package hostctx

import "testing"

func TestMemoryContextConsensusStateRoundTrip(t *testing.T) {
	ctx := NewMemoryContext(1000, Height{RevisionNumber: 2000, RevisionHeight: 1})

	h := Height{RevisionNumber: 2000, RevisionHeight: 10}
	if _, ok := ctx.MaybeConsensusState("client-0", h); ok {
		t.Fatalf("expected no consensus state before store")
	}

	ctx.StoreConsensusState("client-0", h, "some-state")
	v, ok := ctx.MaybeConsensusState("client-0", h)
	if !ok || v.(string) != "some-state" {
		t.Fatalf("got (%v, %v), want (some-state, true)", v, ok)
	}

	got, err := ctx.ConsensusState("client-0", h)
	if err != nil || got.(string) != "some-state" {
		t.Fatalf("ConsensusState: got (%v, %v)", got, err)
	}

	if _, err := ctx.ConsensusState("client-0", Height{RevisionNumber: 2000, RevisionHeight: 99}); err == nil {
		t.Fatalf("expected error for missing height")
	}
}

func TestMemoryContextProcessedTimeAndHeight(t *testing.T) {
	ctx := NewMemoryContext(0, Height{})
	h := Height{RevisionNumber: 1, RevisionHeight: 5}

	if _, ok := ctx.GetProcessedTime("c", h); ok {
		t.Fatalf("expected no processed time initially")
	}
	ctx.SetProcessedTime("c", h, 12345)
	ts, ok := ctx.GetProcessedTime("c", h)
	if !ok || ts != 12345 {
		t.Fatalf("got (%d, %v), want (12345, true)", ts, ok)
	}

	ctx.SetProcessedHeight("c", h, Height{RevisionNumber: 1, RevisionHeight: 6})
	ph, ok := ctx.GetProcessedHeight("c", h)
	if !ok || ph.RevisionHeight != 6 {
		t.Fatalf("got (%v, %v)", ph, ok)
	}
}

func TestHeightComparisons(t *testing.T) {
	a := Height{RevisionNumber: 1, RevisionHeight: 5}
	b := Height{RevisionNumber: 1, RevisionHeight: 6}
	if !a.LT(b) || !b.GT(a) {
		t.Fatalf("expected a < b")
	}
	if a.LT(a) {
		t.Fatalf("height must not be LT itself")
	}
}
