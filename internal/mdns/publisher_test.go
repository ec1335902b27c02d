package mdns

import (
	"testing"
	"time"
)

// TestFIFOCallbackOrdering covers the spec §4.4 invariant: callbacks
// for a given (instance, type) key are delivered in issue order, even
// when the underlying operations complete out of order.
func TestFIFOCallbackOrdering(t *testing.T) {
	b := newBase()
	b.setState(Ready)
	key := recordKey{kind: "service", name: "svc", typ: "_http._tcp"}

	var got []int
	pc1 := b.enqueue(key, func(Result) { got = append(got, 1) })
	pc2 := b.enqueue(key, func(Result) { got = append(got, 2) })
	pc3 := b.enqueue(key, func(Result) { got = append(got, 3) })

	// Complete out of order: 3 finishes first, but its callback must
	// not fire before 1 and 2 have.
	b.complete(key, pc3, Ok)
	if len(got) != 0 {
		t.Fatalf("callback 3 delivered before 1/2: %v", got)
	}
	b.complete(key, pc1, Ok)
	b.complete(key, pc2, Ok)

	if len(got) != 3 || got[0] != 1 || got[1] != 2 || got[2] != 3 {
		t.Errorf("delivery order = %v, want [1 2 3]", got)
	}
}

// TestSupersedeAborts covers "Aborted specifically means superseded by
// a later call for the same name" (spec §4.4).
func TestSupersedeAborts(t *testing.T) {
	b := newBase()
	b.setState(Ready)
	key := recordKey{kind: "service", name: "svc", typ: "_http._tcp"}

	var results []Result
	pc1 := b.enqueue(key, func(r Result) { results = append(results, r) })
	pc2 := b.enqueue(key, func(r Result) { results = append(results, r) })
	b.supersede(key, pc2.seq) // pc2 is the "later call", pc1 must abort
	b.complete(key, pc2, Ok)

	if len(results) != 2 || results[0] != Aborted || results[1] != Ok {
		t.Errorf("results = %v, want [Aborted Ok]", results)
	}
	_ = pc1
}

// TestDeferredUntilReady covers "a publisher in Idle queues requests
// but delivers callbacks deferred until Ready".
func TestDeferredUntilReady(t *testing.T) {
	b := newBase()
	key := recordKey{kind: "host", name: "host1"}

	delivered := make(chan Result, 1)
	pc := b.enqueue(key, func(r Result) { delivered <- r })
	b.complete(key, pc, Ok)

	select {
	case <-delivered:
		t.Fatal("callback delivered while publisher was Idle")
	case <-time.After(10 * time.Millisecond):
	}

	b.setState(Ready)
	select {
	case r := <-delivered:
		if r != Ok {
			t.Errorf("deferred callback result = %v, want Ok", r)
		}
	case <-time.After(time.Second):
		t.Fatal("deferred callback never delivered after Ready")
	}
}
