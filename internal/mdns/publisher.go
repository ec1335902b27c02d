// Package mdns implements the polymorphic mDNS Publisher abstraction
// (spec §4.4, §6.2): the boundary every upper layer (Border Agent,
// Advertising Proxy, Discovery Proxy) publishes through and subscribes
// against, backed by one of two concrete responders.
package mdns

import (
	"sync"

	"github.com/openthread/otbr-agent-go/internal/logging"
)

var log = logging.For("mdns")

// Result is the outcome of a publish/unpublish request (spec §4.4).
type Result int

const (
	Ok Result = iota
	Duplicated
	Aborted
	Invalid
	NotFound
	Other
)

func (r Result) String() string {
	switch r {
	case Ok:
		return "ok"
	case Duplicated:
		return "duplicated"
	case Aborted:
		return "aborted"
	case Invalid:
		return "invalid"
	case NotFound:
		return "not-found"
	default:
		return "other"
	}
}

// Callback fires exactly once per publish/unpublish call (spec §4.4).
type Callback func(Result)

// State is the publisher's own lifecycle (spec §4.4).
type State int

const (
	Idle State = iota
	Ready
)

// TXTEntries is an ordered key/value TXT record, printable-ASCII keys
// of at most 9 bytes (spec §3 ServiceInstance invariant).
type TXTEntries []TXTEntry

type TXTEntry struct {
	Key   string
	Value []byte
}

// ServiceInstance is the value type of spec §3.
type ServiceInstance struct {
	InstanceName string
	ServiceType  string
	Subtypes     []string
	HostName     string
	Port         uint16
	TXT          TXTEntries
}

// DiscoveredInstanceInfo/DiscoveredHostInfo are delivered to
// subscription callbacks (spec §4.4).
type DiscoveredInstanceInfo struct {
	InstanceName string
	ServiceType  string
	HostName     string
	Addresses    []string
	Port         uint16
	TXT          TXTEntries
	Removed      bool
}

type DiscoveredHostInfo struct {
	HostName  string
	Addresses []string
	Removed   bool
}

// SubscriptionID identifies a registered pair of subscription
// callbacks, for RemoveSubscriptionCallbacks (spec §4.4).
type SubscriptionID uint64

// Publisher is the interface of spec §4.4. Two concrete
// implementations exist: Avahi (external responder daemon, D-Bus) and
// Embedded (a self-contained multicast agent). Both share the FIFO
// callback-ordering and Idle-queues/Ready-delivers semantics
// implemented by the embedded `base` helper type.
type Publisher interface {
	PublishService(host, instance, serviceType string, subtypes []string, port uint16, txt TXTEntries, cb Callback)
	UnpublishService(instance, serviceType string, cb Callback)
	PublishHost(name string, addresses []string, cb Callback)
	UnpublishHost(name string, cb Callback)
	PublishKey(name string, key []byte, cb Callback)
	UnpublishKey(name string, cb Callback)

	SubscribeService(serviceType, instance string) SubscriptionID
	SubscribeHost(name string) SubscriptionID
	AddSubscriptionCallbacks(onInstance func(DiscoveredInstanceInfo), onHost func(DiscoveredHostInfo)) SubscriptionID
	RemoveSubscriptionCallbacks(id SubscriptionID)

	State() State
	OnStateChanged(func(State))

	Close() error
}

// recordKey identifies a published record for FIFO-ordering and supersede
// tracking (spec §4.4 invariant: "preserves FIFO ordering of callbacks
// per (instance, type) key; an out-of-order publish may never appear
// to succeed after its successor").
type recordKey struct {
	kind string // "service", "host", "key"
	name string
	typ  string
}

// pendingCall is one outstanding publish/unpublish call queued against
// a recordKey.
type pendingCall struct {
	seq uint64
	cb  Callback
	// result and done are set once the underlying responder operation
	// completes (or the call is superseded); complete delivers cb in
	// seq order per key so an older call can never complete after a
	// newer one.
	result Result
	done   bool
}

// base implements the shared bookkeeping (state machine, FIFO
// queues, subscription callback table) used by both concrete
// Publisher variants, so Avahi and Embedded only need to implement the
// actual wire operations.
type base struct {
	mu sync.Mutex

	state     State
	stateCbs  []func(State)
	seqCounter uint64

	queues map[recordKey][]*pendingCall

	subs     map[SubscriptionID]subscription
	subSeq   SubscriptionID
	deferred []func() // callbacks queued while Idle, flushed on Ready
}

type subscription struct {
	onInstance func(DiscoveredInstanceInfo)
	onHost     func(DiscoveredHostInfo)
}

func newBase() *base {
	return &base{
		queues: map[recordKey][]*pendingCall{},
		subs:   map[SubscriptionID]subscription{},
	}
}

func (b *base) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *base) OnStateChanged(fn func(State)) {
	b.mu.Lock()
	b.stateCbs = append(b.stateCbs, fn)
	b.mu.Unlock()
}

// setState transitions the publisher's lifecycle and, on entering
// Ready, flushes any callbacks that were deferred while Idle (spec
// §4.4: "a publisher in Idle queues requests but delivers callbacks
// deferred until Ready").
func (b *base) setState(s State) {
	b.mu.Lock()
	prev := b.state
	b.state = s
	var flush []func()
	if prev != Ready && s == Ready {
		flush = b.deferred
		b.deferred = nil
	}
	cbs := append([]func(State){}, b.stateCbs...)
	b.mu.Unlock()

	for _, cb := range cbs {
		cb(s)
	}
	for _, fn := range flush {
		fn()
	}
}

// enqueue registers call under key in issue order and returns the
// sequence number it must wait for (all earlier calls for the same
// key must have delivered) before its own callback may fire.
func (b *base) enqueue(key recordKey, cb Callback) *pendingCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seqCounter++
	pc := &pendingCall{seq: b.seqCounter, cb: cb}
	b.queues[key] = append(b.queues[key], pc)
	return pc
}

// complete marks pc done with the given result and delivers every
// callback in key's queue that is now the head and already done, in
// FIFO order, guaranteeing the invariant that an older call's callback
// never fires after a newer one's (spec §4.4).
func (b *base) complete(key recordKey, pc *pendingCall, res Result) {
	b.mu.Lock()
	pc.result = res
	pc.done = true
	q := b.queues[key]

	var toDeliver []*pendingCall
	for len(q) > 0 && q[0].done {
		toDeliver = append(toDeliver, q[0])
		q = q[1:]
	}
	b.queues[key] = q
	ready := b.state == Ready
	b.mu.Unlock()

	for _, call := range toDeliver {
		if ready {
			call.cb(call.result)
		} else {
			b.mu.Lock()
			c := call
			b.deferred = append(b.deferred, func() { c.cb(c.result) })
			b.mu.Unlock()
		}
	}
}

// supersede marks every still-pending earlier call for key as Aborted
// (spec: "Aborted specifically means superseded by a later call for
// the same name"), used when a new publish for the same (instance,
// type) arrives before the previous one finished.
func (b *base) supersede(key recordKey, exceptSeq uint64) {
	b.mu.Lock()
	q := b.queues[key]
	var toAbort []*pendingCall
	for _, pc := range q {
		if pc.seq != exceptSeq && !pc.done {
			pc.result = Aborted
			pc.done = true
			toAbort = append(toAbort, pc)
		}
	}
	b.mu.Unlock()
	// Re-run the completion drain for each aborted call so FIFO
	// delivery ordering is preserved.
	for _, pc := range toAbort {
		b.complete(key, pc, Aborted)
	}
}

func (b *base) addSubscription(s subscription) SubscriptionID {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subSeq++
	b.subs[b.subSeq] = s
	return b.subSeq
}

func (b *base) removeSubscription(id SubscriptionID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, id)
}

func (b *base) notifyInstance(info DiscoveredInstanceInfo) {
	b.mu.Lock()
	subs := make([]subscription, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()
	for _, s := range subs {
		if s.onInstance != nil {
			s.onInstance(info)
		}
	}
}

func (b *base) notifyHost(info DiscoveredHostInfo) {
	b.mu.Lock()
	subs := make([]subscription, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()
	for _, s := range subs {
		if s.onHost != nil {
			s.onHost(info)
		}
	}
}
