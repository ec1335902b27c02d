package borderagent

import (
	"bytes"
	"testing"

	"github.com/openthread/otbr-agent-go/internal/loop"
	"github.com/openthread/otbr-agent-go/internal/mdns"
	"github.com/openthread/otbr-agent-go/internal/ncp"
)

func TestInstanceNameAlgorithm(t *testing.T) {
	extMAC := [8]byte{0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77, 0x88}
	got := baseInstanceName("Vendor", "Product", extMAC)
	want := "Vendor_Product #7788"
	if got != want {
		t.Errorf("baseInstanceName() = %q, want %q", got, want)
	}
}

// TestStateBitmapStartupNoNetwork covers spec §8 end-to-end scenario 1:
// role=Disabled, sb = 00 00 00 21 (PSKc | High availability<<5).
func TestStateBitmapStartupNoNetwork(t *testing.T) {
	state := ncp.NetworkState{Role: ncp.RoleDisabled}
	status := AgentStatus{Mode: ConnPSKc}
	got := encodeStateBitmap(state, status, AvailabilityHigh)
	want := []byte{0x00, 0x00, 0x00, 0x21}
	if !bytes.Equal(got, want) {
		t.Errorf("sb = % x, want % x", got, want)
	}
}

// TestStateBitmapFormedNetwork covers spec §8 scenario 2: Leader role,
// sb = 00 00 00 31 (interface active<<3 | PSKc | High availability<<5).
func TestStateBitmapFormedNetwork(t *testing.T) {
	state := ncp.NetworkState{Role: ncp.RoleLeader}
	status := AgentStatus{Mode: ConnPSKc}
	got := encodeStateBitmap(state, status, AvailabilityHigh)
	want := []byte{0x00, 0x00, 0x00, 0x31}
	if !bytes.Equal(got, want) {
		t.Errorf("sb = % x, want % x", got, want)
	}
}

// TestStateBitmapRoundTrip covers invariant I5: the sb entry decodes
// to a bitmap consistent with the current role and BR state.
func TestStateBitmapRoundTrip(t *testing.T) {
	state := ncp.NetworkState{Role: ncp.RoleRouter, BRState: ncp.BRPrimary}
	status := AgentStatus{Mode: ConnPSKd}
	encoded := encodeStateBitmap(state, status, AvailabilityInfrequent)

	mode, ifaceStatus, avail, brActive, brPrimary := DecodeStateBitmap(encoded)
	if mode != ConnPSKd {
		t.Errorf("mode = %v, want ConnPSKd", mode)
	}
	if ifaceStatus != 2 {
		t.Errorf("ifaceStatus = %d, want 2 (active)", ifaceStatus)
	}
	if avail != AvailabilityInfrequent {
		t.Errorf("avail = %v, want Infrequent", avail)
	}
	if !brActive || !brPrimary {
		t.Errorf("brActive=%v brPrimary=%v, want true/true for BRPrimary", brActive, brPrimary)
	}
}

// fakePublisher captures PublishService calls for assertions.
type fakePublisher struct {
	mdns.Publisher
	calls []struct {
		name string
		cb   mdns.Callback
	}
}

func (f *fakePublisher) PublishService(host, instance, serviceType string, subtypes []string, port uint16, txt mdns.TXTEntries, cb mdns.Callback) {
	f.calls = append(f.calls, struct {
		name string
		cb   mdns.Callback
	}{instance, cb})
}

func (f *fakePublisher) UnpublishService(instance, serviceType string, cb mdns.Callback) {
	cb(mdns.Ok)
}

// TestRenameOnDuplicated covers spec §8 scenario 4: a name collision
// triggers unpublish + a randomized-suffix retry, with no global
// counter kept across collisions.
func TestRenameOnDuplicated(t *testing.T) {
	fp := &fakePublisher{}
	l, err := loop.New()
	if err != nil {
		t.Fatalf("loop.New() error = %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })

	controller := ncp.New(l, nil)
	controller.SimulateStateChange(0, func(s *ncp.NetworkState) {
		s.ExtMAC = [8]byte{0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77, 0x88}
	})

	a := New(Config{Vendor: "Vendor", Product: "Product"}, controller, fp, func() AgentStatus { return AgentStatus{} })
	a.Republish()

	if len(fp.calls) != 1 {
		t.Fatalf("expected 1 publish call, got %d", len(fp.calls))
	}
	firstName := fp.calls[0].name
	fp.calls[0].cb(mdns.Duplicated)

	if len(fp.calls) != 2 {
		t.Fatalf("expected a retry publish call, got %d", len(fp.calls))
	}
	secondName := fp.calls[1].name
	if secondName == firstName {
		t.Error("retry used the same instance name")
	}
}
