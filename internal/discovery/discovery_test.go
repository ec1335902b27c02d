package discovery

import (
	"errors"
	"testing"

	"github.com/openthread/otbr-agent-go/internal/errclass"
	"github.com/openthread/otbr-agent-go/internal/mdns"
)

// fakePublisher records subscribe/unsubscribe calls and lets tests
// fire discovery callbacks directly.
type fakePublisher struct {
	mdns.Publisher

	lastOnInstance func(mdns.DiscoveredInstanceInfo)
	lastOnHost     func(mdns.DiscoveredHostInfo)
	removed        []mdns.SubscriptionID
	nextSub        mdns.SubscriptionID
	lastCallbackID mdns.SubscriptionID
}

func (f *fakePublisher) SubscribeService(serviceType, instance string) mdns.SubscriptionID {
	f.nextSub++
	return f.nextSub
}

func (f *fakePublisher) SubscribeHost(name string) mdns.SubscriptionID {
	f.nextSub++
	return f.nextSub
}

func (f *fakePublisher) AddSubscriptionCallbacks(onInstance func(mdns.DiscoveredInstanceInfo), onHost func(mdns.DiscoveredHostInfo)) mdns.SubscriptionID {
	f.lastOnInstance = onInstance
	f.lastOnHost = onHost
	f.nextSub++
	f.lastCallbackID = f.nextSub
	return f.nextSub
}

func (f *fakePublisher) RemoveSubscriptionCallbacks(id mdns.SubscriptionID) {
	f.removed = append(f.removed, id)
}

func TestServiceBrowserTranslatesNames(t *testing.T) {
	fp := &fakePublisher{}
	var got ServiceResult
	p := New(fp, Sink{OnService: func(callID uint64, r ServiceResult) { got = r }})

	p.StartServiceBrowser(1, "_ipps._tcp")
	fp.lastOnInstance(mdns.DiscoveredInstanceInfo{
		InstanceName: "dev1._ipps._tcp.local.",
		HostName:     "dev1.local.",
		Addresses:    []string{"fd00::1"},
		Port:         631,
	})

	if got.InstanceName != "dev1._ipps._tcp.local" {
		t.Errorf("InstanceName = %q, want unqualified trailing dot stripped", got.InstanceName)
	}
	if got.HostName != "dev1.local" {
		t.Errorf("HostName = %q, want unqualified", got.HostName)
	}
}

func TestServiceResolverFiltersByInstance(t *testing.T) {
	fp := &fakePublisher{}
	var calls int
	p := New(fp, Sink{OnService: func(uint64, ServiceResult) { calls++ }})

	p.StartServiceResolver(1, "dev1", "_ipps._tcp")
	fp.lastOnInstance(mdns.DiscoveredInstanceInfo{InstanceName: "dev2"})
	if calls != 0 {
		t.Fatalf("non-matching instance delivered, calls = %d", calls)
	}
	fp.lastOnInstance(mdns.DiscoveredInstanceInfo{InstanceName: "dev1"})
	if calls != 1 {
		t.Fatalf("matching instance not delivered, calls = %d", calls)
	}
}

// TestStopReleasesSubscription covers spec §4.7 step 3: Stop must
// release the callback-bearing subscription (from
// AddSubscriptionCallbacks), not just the inert query one from
// SubscribeService, or the sink keeps receiving results after Stop.
func TestStopReleasesSubscription(t *testing.T) {
	fp := &fakePublisher{}
	p := New(fp, Sink{})
	p.StartServiceBrowser(1, "_ipps._tcp")
	cbID := fp.lastCallbackID

	p.Stop(1)

	if len(fp.removed) != 2 {
		t.Fatalf("expected 2 RemoveSubscriptionCallbacks calls (query + callback subscriptions), got %d", len(fp.removed))
	}
	found := false
	for _, id := range fp.removed {
		if id == cbID {
			found = true
		}
	}
	if !found {
		t.Errorf("removed = %v, want it to include the callback-bearing subscription %d", fp.removed, cbID)
	}
	if _, ok := p.calls[1]; ok {
		t.Error("call 1 still tracked after Stop")
	}
}

func TestKeyNameSynthesis(t *testing.T) {
	if got := KeyName("dev1", ""); got != "dev1" {
		t.Errorf("KeyName(no type) = %q, want dev1", got)
	}
	if got := KeyName("dev1", "_ipps._tcp"); got != "dev1._ipps._tcp" {
		t.Errorf("KeyName(type) = %q, want dev1._ipps._tcp", got)
	}
}

func TestTranslateError(t *testing.T) {
	cases := []struct {
		err  error
		want PlatformError
	}{
		{nil, PlatformOk},
		{errclass.New("x", errclass.Duplicated, nil), PlatformDuplicated},
		{errclass.New("x", errclass.Aborted, nil), PlatformAbort},
		{errclass.New("x", errclass.NotFound, nil), PlatformNotFound},
		{errors.New("unrelated"), PlatformFailed},
	}
	for _, c := range cases {
		if got := TranslateError(c.err); got != c.want {
			t.Errorf("TranslateError(%v) = %v, want %v", c.err, got, c.want)
		}
	}
}
