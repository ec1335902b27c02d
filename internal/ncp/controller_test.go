package ncp

import (
	"net"
	"testing"
	"time"

	"github.com/openthread/otbr-agent-go/internal/errclass"
	"github.com/openthread/otbr-agent-go/internal/loop"
)

// pairTransport returns two ends of an in-memory pipe framed as a
// Transport, so tests can drive the controller without a real NCP.
func pairTransport(t *testing.T) (Transport, net.Conn) {
	t.Helper()
	client, server := net.Pipe()
	tr := &socketTransport{framedRW: newFramedRW(client), conn: client}
	t.Cleanup(func() { _ = tr.Close(); _ = server.Close() })
	return tr, server
}

func newTestLoop(t *testing.T) *loop.Loop {
	t.Helper()
	l, err := loop.New()
	if err != nil {
		t.Fatalf("loop.New() error = %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestStateChangedListenersFireInRegistrationOrder(t *testing.T) {
	l := newTestLoop(t)
	tr, _ := pairTransport(t)
	c := New(l, tr)

	var got []int
	c.OnStateChanged(func(ChangeFlags) { got = append(got, 1) })
	c.OnStateChanged(func(ChangeFlags) { got = append(got, 2) })
	c.OnStateChanged(func(ChangeFlags) { got = append(got, 3) })

	c.SimulateStateChange(ChangedRole, func(s *NetworkState) { s.Role = RoleLeader })

	if len(got) != 3 || got[0] != 1 || got[1] != 2 || got[2] != 3 {
		t.Errorf("listener order = %v, want [1 2 3]", got)
	}
}

// TestReentrantDispatchSuppressed covers invariant I3: a listener that
// triggers another StateChanged dispatch for the *same* flag set while
// already inside that dispatch must not be invoked reentrantly.
func TestReentrantDispatchSuppressed(t *testing.T) {
	l := newTestLoop(t)
	tr, _ := pairTransport(t)
	c := New(l, tr)

	calls := 0
	c.OnStateChanged(func(flags ChangeFlags) {
		calls++
		if calls == 1 {
			c.fanOut(ChangedRole) // reentrant call for the identical flag set
		}
	})

	c.SimulateStateChange(ChangedRole, func(s *NetworkState) { s.Role = RoleChild })

	if calls != 1 {
		t.Errorf("listener invoked %d times, want 1 (reentrant dispatch must be suppressed)", calls)
	}
}

// TestApplyNotificationDecodesInlinePayload covers spec §4.3: a real
// StateChanged notification carries its new field values inline, so
// listeners observe up-to-date NetworkState without a GetProperty
// round trip (which would deadlock if issued from the loop thread).
func TestApplyNotificationDecodesInlinePayload(t *testing.T) {
	l := newTestLoop(t)
	tr, _ := pairTransport(t)
	c := New(l, tr)

	flags := ChangedRole | ChangedPartitionID | ChangedDomainPrefix
	payload := []byte{
		byte(RoleLeader), // ChangedRole
		0x00, 0x00, 0x12, 0x34, // ChangedPartitionID
		0x03, 0xAA, 0xBB, 0xCC, // ChangedDomainPrefix: len=3, bytes
	}
	c.applyNotification(flags, payload)

	got := c.State()
	if got.Role != RoleLeader {
		t.Errorf("Role = %v, want Leader", got.Role)
	}
	if got.PartitionID != 0x1234 {
		t.Errorf("PartitionID = %#x, want 0x1234", got.PartitionID)
	}
	if string(got.DomainPrefix) != "\xAA\xBB\xCC" {
		t.Errorf("DomainPrefix = % x, want aa bb cc", got.DomainPrefix)
	}
}

func TestResetCancelsPendingRequests(t *testing.T) {
	l := newTestLoop(t)
	tr, server := pairTransport(t)
	c := New(l, tr)
	if err := c.Init(); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	// Drain (and discard) whatever the controller writes to the link so
	// Send does not block forever on the unbuffered net.Pipe.
	go func() {
		buf := make([]byte, 4096)
		for {
			if _, err := server.Read(buf); err != nil {
				return
			}
		}
	}()

	done := make(chan error, 1)
	go func() {
		_, err := c.GetProperty(1)
		done <- err
	}()

	// Give the request time to land in c.pending before resetting.
	time.Sleep(20 * time.Millisecond)
	c.Reset()

	select {
	case err := <-done:
		if errclass.KindOf(err) != errclass.Canceled {
			t.Errorf("GetProperty error kind = %v, want Canceled", errclass.KindOf(err))
		}
	case <-time.After(time.Second):
		t.Fatal("GetProperty did not return after reset")
	}
}
