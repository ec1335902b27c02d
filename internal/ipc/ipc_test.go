package ipc

import (
	"testing"

	"github.com/openthread/otbr-agent-go/internal/borderagent"
	"github.com/openthread/otbr-agent-go/internal/loop"
	"github.com/openthread/otbr-agent-go/internal/mdns"
	"github.com/openthread/otbr-agent-go/internal/ncp"
)

type nopPublisher struct{ mdns.Publisher }

func (nopPublisher) PublishService(host, instance, serviceType string, subtypes []string, port uint16, txt mdns.TXTEntries, cb mdns.Callback) {
	cb(mdns.Ok)
}
func (nopPublisher) OnStateChanged(func(mdns.State)) {}

func TestSetVendorMeshCoPTxtEntriesForwardsToBorderAgent(t *testing.T) {
	l, err := loop.New()
	if err != nil {
		t.Fatalf("loop.New() error = %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })

	controller := ncp.New(l, nil)
	ba := borderagent.New(borderagent.Config{Vendor: "V", Product: "P"}, controller, nopPublisher{}, func() borderagent.AgentStatus {
		return borderagent.AgentStatus{}
	})

	core := New(controller, ba)
	core.SetVendorMeshCoPTxtEntries(map[string][]byte{"foo": []byte("bar")})
	// No panic and the call reaching the Border Agent is exercised
	// fully by internal/borderagent's own tests; this test only
	// verifies the proxy wiring does not itself misbehave.
}
