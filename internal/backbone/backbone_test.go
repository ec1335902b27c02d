package backbone

import (
	"strings"
	"testing"
)

type fakeNDProxy struct {
	armed    bool
	disarmed bool
}

func (f *fakeNDProxy) Arm(domainPrefix []byte) error { f.armed = true; return nil }
func (f *fakeNDProxy) Disarm() error                 { f.disarmed = true; return nil }

func newTestRouter(t *testing.T) (*Router, *[]string, *fakeNDProxy) {
	t.Helper()
	nd := &fakeNDProxy{}
	r := New("wpan0", "eth0", nd)
	var calls []string
	r.ctl.run = func(argv ...string) error {
		calls = append(calls, strings.Join(argv, " "))
		return nil
	}
	return r, &calls, nd
}

func TestEnableInstallsOutboundRuleAndArmsND(t *testing.T) {
	r, calls, nd := newTestRouter(t)
	if err := r.AddListener("ff04::1"); err != nil {
		t.Fatalf("AddListener before enable: %v", err)
	}
	if err := r.Enable([]byte{0xfd, 0x00}); err != nil {
		t.Fatalf("Enable() error = %v", err)
	}
	if !r.Enabled() {
		t.Error("Enabled() = false after Enable")
	}
	if !nd.armed {
		t.Error("nd-proxy not armed on Enable")
	}

	joined := strings.Join(*calls, "\n")
	if !strings.Contains(joined, "smcroutectl flush") {
		t.Error("expected a flush before bulk reconfigure")
	}
	if !strings.Contains(joined, "add wpan0 :: :: 65520 eth0") {
		t.Error("expected outbound wildcard rule")
	}
	if !strings.Contains(joined, "add eth0 :: ff04::1 wpan0") {
		t.Error("expected route for pre-existing listener")
	}
}

func TestAddListenerAfterEnableInstallsRouteImmediately(t *testing.T) {
	r, calls, _ := newTestRouter(t)
	_ = r.Enable(nil)
	*calls = nil

	if err := r.AddListener("ff04::2"); err != nil {
		t.Fatalf("AddListener() error = %v", err)
	}
	joined := strings.Join(*calls, "\n")
	if !strings.Contains(joined, "add eth0 :: ff04::2 wpan0") {
		t.Errorf("expected immediate route install, calls = %v", *calls)
	}
}

func TestDisableTearsDownInReverseOrder(t *testing.T) {
	r, calls, nd := newTestRouter(t)
	_ = r.AddListener("ff04::1")
	_ = r.Enable(nil)
	*calls = nil

	if err := r.Disable(); err != nil {
		t.Fatalf("Disable() error = %v", err)
	}
	if r.Enabled() {
		t.Error("Enabled() = true after Disable")
	}
	if !nd.disarmed {
		t.Error("nd-proxy not disarmed on Disable")
	}
	joined := strings.Join(*calls, "\n")
	if !strings.Contains(joined, "del eth0 :: ff04::1 wpan0") {
		t.Error("expected route teardown")
	}
	if !strings.Contains(joined, "remove wpan0 :: :: 65520 eth0") {
		t.Error("expected outbound wildcard rule removal")
	}
}
