package advertising

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/openthread/otbr-agent-go/internal/loop"
	"github.com/openthread/otbr-agent-go/internal/mdns"
)

// newTestLoop starts a real Loop's Run on a background goroutine so
// PostTimerTask tasks fire, then tears it down at test end.
func newTestLoop(t *testing.T) *loop.Loop {
	t.Helper()
	l, err := loop.New()
	if err != nil {
		t.Fatalf("loop.New() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go l.Run(ctx)
	t.Cleanup(func() {
		cancel()
		_ = l.Close()
	})
	return l
}

// fakePublisher lets tests complete publish/unpublish calls under
// their own control and records which names were unpublished.
type fakePublisher struct {
	mdns.Publisher

	mu            sync.Mutex
	unpublished   []string
	onPublishHost func(name string, cb mdns.Callback)
	onPublishSvc  func(instance string, cb mdns.Callback)
}

func (f *fakePublisher) PublishHost(name string, addresses []string, cb mdns.Callback) {
	f.onPublishHost(name, cb)
}

func (f *fakePublisher) PublishService(host, instance, serviceType string, subtypes []string, port uint16, txt mdns.TXTEntries, cb mdns.Callback) {
	f.onPublishSvc(instance, cb)
}

func (f *fakePublisher) UnpublishHost(name string, cb mdns.Callback) {
	f.mu.Lock()
	f.unpublished = append(f.unpublished, "host:"+name)
	f.mu.Unlock()
	cb(mdns.Ok)
}

func (f *fakePublisher) UnpublishService(instance, serviceType string, cb mdns.Callback) {
	f.mu.Lock()
	f.unpublished = append(f.unpublished, "svc:"+instance)
	f.mu.Unlock()
	cb(mdns.Ok)
}

func (f *fakePublisher) PublishKey(name string, key []byte, cb mdns.Callback) { cb(mdns.Ok) }
func (f *fakePublisher) OnStateChanged(func(mdns.State))                      {}

// TestAdvertiseOneHostTwoServices covers spec §8 scenario 3: counter
// initialises to 3, all three completions arrive Ok, advertising_done
// fires exactly once with Ok.
func TestAdvertiseOneHostTwoServices(t *testing.T) {
	var hostCB, svc1CB, svc2CB mdns.Callback
	fp := &fakePublisher{
		onPublishHost: func(name string, cb mdns.Callback) { hostCB = cb },
		onPublishSvc:  func(instance string, cb mdns.Callback) {
			if svc1CB == nil {
				svc1CB = cb
			} else {
				svc2CB = cb
			}
		},
	}
	p := New(fp, newTestLoop(t))

	var gotResult AdvertisingResult
	var doneCount int
	p.Advertise(HostUpdate{
		Handle:    1,
		HostName:  "dev1",
		Addresses: []string{"fd00::1"},
		Services: []ServiceRegistration{
			{InstanceName: "dev1", ServiceType: "_ipps._tcp"},
			{InstanceName: "dev1", ServiceType: "_privet._tcp"},
		},
		TimeoutMS: 5000,
	}, func(h HostHandle, res AdvertisingResult) {
		doneCount++
		gotResult = res
	})

	hostCB(mdns.Ok)
	svc1CB(mdns.Ok)
	svc2CB(mdns.Ok)

	if doneCount != 1 {
		t.Fatalf("advertising_done called %d times, want 1", doneCount)
	}
	if gotResult != AdvertisingOk {
		t.Errorf("result = %v, want AdvertisingOk", gotResult)
	}
}

// TestFailureUnpublishesSuccessfulEntries covers spec §4.6 "rejects on
// any failure": a service failure rolls back the host publish that did
// succeed.
func TestFailureUnpublishesSuccessfulEntries(t *testing.T) {
	var hostCB, svcCB mdns.Callback
	fp := &fakePublisher{
		onPublishHost: func(name string, cb mdns.Callback) { hostCB = cb },
		onPublishSvc:  func(instance string, cb mdns.Callback) { svcCB = cb },
	}
	p := New(fp, newTestLoop(t))

	var gotResult AdvertisingResult
	p.Advertise(HostUpdate{
		Handle:    2,
		HostName:  "dev2",
		Addresses: []string{"fd00::2"},
		Services:  []ServiceRegistration{{InstanceName: "dev2", ServiceType: "_ipps._tcp"}},
		TimeoutMS: 5000,
	}, func(h HostHandle, res AdvertisingResult) { gotResult = res })

	hostCB(mdns.Ok)
	svcCB(mdns.Other)

	if gotResult != AdvertisingFailure {
		t.Fatalf("result = %v, want AdvertisingFailure", gotResult)
	}
	fp.mu.Lock()
	defer fp.mu.Unlock()
	if len(fp.unpublished) != 1 || fp.unpublished[0] != "host:dev2" {
		t.Errorf("unpublished = %v, want [host:dev2]", fp.unpublished)
	}
}

// TestTimeoutFailsUpdateInPlace covers the resolved Open Question
// (spec §9): a timeout with the counter still positive fails the
// update, and a completion arriving afterward is ignored, not double
// counted (invariant I2).
func TestTimeoutFailsUpdateInPlace(t *testing.T) {
	var svcCB mdns.Callback
	fp := &fakePublisher{
		onPublishHost: func(string, mdns.Callback) {},
		onPublishSvc:  func(instance string, cb mdns.Callback) { svcCB = cb },
	}
	p := New(fp, newTestLoop(t))

	done := make(chan AdvertisingResult, 2)
	p.Advertise(HostUpdate{
		Handle:    3,
		HostName:  "dev3",
		Services:  []ServiceRegistration{{InstanceName: "dev3", ServiceType: "_ipps._tcp"}},
		TimeoutMS: 10,
	}, func(h HostHandle, res AdvertisingResult) { done <- res })

	select {
	case res := <-done:
		if res != AdvertisingFailure {
			t.Errorf("result = %v, want AdvertisingFailure", res)
		}
	case <-time.After(time.Second):
		t.Fatal("advertising_done never fired after timeout")
	}

	// A late completion must be ignored, not trigger a second callback.
	svcCB(mdns.Ok)
	select {
	case res := <-done:
		t.Fatalf("advertising_done fired a second time with result %v", res)
	case <-time.After(50 * time.Millisecond):
	}
}
