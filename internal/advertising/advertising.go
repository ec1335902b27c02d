// Package advertising mirrors the Thread SRP server's registrations
// onto the LAN as mDNS records (spec §4.6): every SRP update is
// partitioned into per-host and per-service publishes against the
// mdns.Publisher, tracked by an OutstandingUpdate until every publish
// completes, and committed back to the NCP with a single
// advertising_done reply.
package advertising

import (
	"sync"
	"time"

	"github.com/openthread/otbr-agent-go/internal/logging"
	"github.com/openthread/otbr-agent-go/internal/loop"
	"github.com/openthread/otbr-agent-go/internal/mdns"
)

var log = logging.For("advertising-proxy")

// HostHandle is the opaque SRP-host handle the NCP's AdvertisingHandler
// callback carries (spec §3 OutstandingUpdate).
type HostHandle uint64

// AdvertisingResult is the result reported back to the SRP server via
// advertising_done (spec §4.6).
type AdvertisingResult int

const (
	AdvertisingOk AdvertisingResult = iota
	AdvertisingDuplicated
	AdvertisingFailure
)

// ServiceRegistration is one service entry of an SRP host update.
type ServiceRegistration struct {
	InstanceName string
	ServiceType  string
	Port         uint16
	TXT          mdns.TXTEntries
	KeyData      []byte // non-nil if the SRP registration included a service key
}

// HostUpdate is the snapshot handed to Advertise: one SRP
// AdvertisingHandler invocation (spec §4.6 step 1).
type HostUpdate struct {
	Handle    HostHandle
	HostName  string
	Addresses []string // non-empty triggers a PublishHost
	HostKey   []byte   // non-nil if the SRP registration included a host key
	Services  []ServiceRegistration
	TimeoutMS uint32
}

// OutstandingUpdate tracks one in-flight host update from allocation
// to commit/reject (spec §3). Worst-result tracking follows
// Ok < Duplicated < Other: any single Duplicated downgrades the whole
// update to Duplicated unless a harder failure also occurred.
type OutstandingUpdate struct {
	mu       sync.Mutex
	handle   HostHandle
	hostName string
	// published holds every (instance, serviceType) or host name that
	// completed Ok, so a failed update can unpublish what succeeded.
	published   []published
	counter     int
	worst       mdns.Result
	done        bool
	timer       *loop.Timer
	onComplete  func(HostHandle, AdvertisingResult)
}

type published struct {
	kind string // "service" or "host"
	name string
	typ  string
}

func worstOf(a, b mdns.Result) mdns.Result {
	rank := func(r mdns.Result) int {
		switch r {
		case mdns.Ok:
			return 0
		case mdns.Duplicated:
			return 1
		default:
			return 2
		}
	}
	if rank(b) > rank(a) {
		return b
	}
	return a
}

// Proxy is the Advertising Proxy of spec §4.6.
type Proxy struct {
	publisher mdns.Publisher
	loop      *loop.Loop

	mu      sync.Mutex
	updates map[HostHandle]*OutstandingUpdate
	// registry remembers every host/service currently advertised so
	// PublishAllHostsAndServices can replay it after a responder
	// restart (spec §4.6 "Restart semantics").
	registry map[HostHandle]*HostUpdate
}

// New wires a Proxy to the shared Publisher and the event loop's timer
// wheel (spec §5: "NCP/publisher timeouts are enforced by timer tasks
// on the single loop thread"), and arms the restart-replay hook on the
// publisher's Idle→Ready transition.
func New(publisher mdns.Publisher, l *loop.Loop) *Proxy {
	p := &Proxy{
		publisher: publisher,
		loop:      l,
		updates:   map[HostHandle]*OutstandingUpdate{},
		registry:  map[HostHandle]*HostUpdate{},
	}
	var last mdns.State
	publisher.OnStateChanged(func(s mdns.State) {
		if last != mdns.Ready && s == mdns.Ready {
			p.PublishAllHostsAndServices()
		}
		last = s
	})
	return p
}

// Advertise runs one SRP AdvertisingHandler invocation (spec §4.6 steps
// 1-5): it allocates the OutstandingUpdate, issues every publish, and
// invokes onDone at most once, from whichever path retires the counter
// to zero first -- normal completion or timeout. An update whose worst
// result is Aborted gets no onDone call (see finish).
func (p *Proxy) Advertise(u HostUpdate, onDone func(HostHandle, AdvertisingResult)) {
	counter := len(u.Services)
	if len(u.Addresses) > 0 {
		counter++
	}

	ou := &OutstandingUpdate{
		handle:     u.Handle,
		hostName:   u.HostName,
		counter:    counter,
		onComplete: onDone,
	}

	p.mu.Lock()
	p.updates[u.Handle] = ou
	p.registry[u.Handle] = &u
	p.mu.Unlock()

	if counter == 0 {
		p.finish(ou, mdns.Ok)
		return
	}

	timeout := time.Duration(u.TimeoutMS) * time.Millisecond
	ou.timer = p.loop.PostTimerTask(time.Now().Add(timeout), func() { p.onTimeout(ou) })

	if len(u.Addresses) > 0 {
		p.publisher.PublishHost(u.HostName, u.Addresses, func(res mdns.Result) {
			p.onEntryDone(ou, published{kind: "host", name: u.HostName}, res)
		})
		if u.HostKey != nil {
			p.publisher.PublishKey(u.HostName, u.HostKey, func(mdns.Result) {
				// Key publication is best-effort and never part of the
				// counter (spec §4.6 "Key records").
			})
		}
	}

	for _, svc := range u.Services {
		svc := svc
		p.publisher.PublishService(u.HostName, svc.InstanceName, svc.ServiceType, nil, svc.Port, svc.TXT,
			func(res mdns.Result) {
				p.onEntryDone(ou, published{kind: "service", name: svc.InstanceName, typ: svc.ServiceType}, res)
			})
		if svc.KeyData != nil {
			keyName := svc.InstanceName + "." + svc.ServiceType
			p.publisher.PublishKey(keyName, svc.KeyData, func(mdns.Result) {})
		}
	}
}

// onEntryDone retires one counted completion. Invariant I2: the
// counter never goes negative and advertising_done fires exactly once.
func (p *Proxy) onEntryDone(ou *OutstandingUpdate, pub published, res mdns.Result) {
	ou.mu.Lock()
	if ou.done {
		// The timeout already fired and destroyed this update; a late
		// completion is accepted but ignored (resolved Open Question,
		// spec §9 "SRP Advertising timeout").
		ou.mu.Unlock()
		return
	}
	if res == mdns.Ok {
		ou.published = append(ou.published, pub)
	}
	ou.worst = worstOf(ou.worst, res)
	ou.counter--
	counter := ou.counter
	worst := ou.worst
	ou.mu.Unlock()

	if counter <= 0 {
		p.finish(ou, worst)
	}
}

func (p *Proxy) onTimeout(ou *OutstandingUpdate) {
	ou.mu.Lock()
	if ou.done || ou.counter <= 0 {
		ou.mu.Unlock()
		return
	}
	ou.mu.Unlock()
	log.WithField("host", ou.hostName).Warn("advertising update timed out with publishes still outstanding")
	p.finish(ou, mdns.Other)
}

// finish commits or rejects the update exactly once (spec §4.6 step 5)
// and, on a Duplicated or failed worst result, unpublishes every entry
// that did succeed so the LAN never retains a partial registration. An
// Aborted worst result is dropped: nothing is unpublished and
// onComplete is not called.
func (p *Proxy) finish(ou *OutstandingUpdate, worst mdns.Result) {
	ou.mu.Lock()
	if ou.done {
		ou.mu.Unlock()
		return
	}
	ou.done = true
	toUnpublish := ou.published
	timer := ou.timer
	ou.mu.Unlock()

	if timer != nil {
		p.loop.Cancel(timer)
	}

	p.mu.Lock()
	delete(p.updates, ou.handle)
	if worst != mdns.Ok {
		delete(p.registry, ou.handle)
	}
	p.mu.Unlock()

	result := AdvertisingOk
	switch worst {
	case mdns.Ok:
		result = AdvertisingOk
	case mdns.Duplicated:
		result = AdvertisingDuplicated
	case mdns.Aborted:
		// Superseded: spec §4.6 "silently drop, the newer call takes
		// over" -- no advertising_done is sent for this handle at all.
		return
	default:
		result = AdvertisingFailure
	}

	if result != AdvertisingOk {
		for _, pub := range toUnpublish {
			switch pub.kind {
			case "host":
				p.publisher.UnpublishHost(pub.name, func(mdns.Result) {})
			case "service":
				p.publisher.UnpublishService(pub.name, pub.typ, func(mdns.Result) {})
			}
		}
	}

	if ou.onComplete != nil {
		ou.onComplete(ou.handle, result)
	}
}

// PublishAllHostsAndServices replays the proxy's full registry against
// the publisher (spec §4.6 "Restart semantics"): necessary because a
// responder restart loses all prior publisher-side state.
func (p *Proxy) PublishAllHostsAndServices() {
	p.mu.Lock()
	updates := make([]HostUpdate, 0, len(p.registry))
	for _, u := range p.registry {
		updates = append(updates, *u)
	}
	p.mu.Unlock()

	for _, u := range updates {
		log.WithField("host", u.HostName).Info("replaying advertisement after publisher restart")
		p.Advertise(u, func(HostHandle, AdvertisingResult) {})
	}
}
