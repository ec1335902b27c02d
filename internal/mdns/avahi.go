package mdns

import (
	"sync"

	"github.com/godbus/dbus/v5"

	"github.com/openthread/otbr-agent-go/internal/errclass"
)

// Avahi-daemon D-Bus interface names, mirroring the well-known
// org.freedesktop.Avahi surface (see OpenPrinting/go-avahi for the
// canonical, fuller binding this is a narrow slice of).
const (
	avahiDest        = "org.freedesktop.Avahi"
	avahiServerPath  = "/"
	ifaceServer      = "org.freedesktop.Avahi.Server"
	ifaceEntryGroup  = "org.freedesktop.Avahi.EntryGroup"
	ifaceSvcBrowser  = "org.freedesktop.Avahi.ServiceBrowser"
	ifaceSvcResolver = "org.freedesktop.Avahi.ServiceResolver"

	avahiIfUnspec  = -1
	avahiProtoUnspec = -1
)

// entryGroupState mirrors AvahiEntryGroupState.
type entryGroupState int32

const (
	egUncommitted entryGroupState = iota
	egRegistering
	egEstablished
	egCollision
	egFailure
)

// Avahi is the external-responder-daemon Publisher variant of spec
// §4.4/§6.2. It drives one AvahiEntryGroup per published record and
// creates one AvahiServiceBrowser (SubscribeService) or RecordBrowser
// (SubscribeHost) per subscription, all over the system bus via
// github.com/godbus/dbus/v5. The browsers' result signals are not
// consumed, so subscription callbacks registered on this variant
// receive no discovery results. Daemon-specific error
// codes never cross this boundary: every D-Bus error is translated to
// the abstract Result/errclass taxonomy before it reaches callers.
type Avahi struct {
	*base

	conn *dbus.Conn
	obj  dbus.BusObject

	mu     sync.Mutex
	groups map[recordKey]dbus.BusObject
}

// NewAvahi connects to the system bus and the Avahi daemon.
func NewAvahi() (*Avahi, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, errclass.New("mdns.NewAvahi", errclass.Dbus, err)
	}
	a := &Avahi{
		base:   newBase(),
		conn:   conn,
		obj:    conn.Object(avahiDest, dbus.ObjectPath(avahiServerPath)),
		groups: map[recordKey]dbus.BusObject{},
	}

	if err := a.obj.Call(ifaceServer+".GetState", 0).Err; err != nil {
		_ = conn.Close()
		return nil, errclass.New("mdns.NewAvahi", errclass.Dbus, err)
	}
	a.setState(Ready)
	a.watchDaemonRestart()
	return a, nil
}

// watchDaemonRestart subscribes to NameOwnerChanged for
// org.freedesktop.Avahi so the publisher can notice the daemon
// restarting, drop to Idle, and resyncAfterReconnect once it is back
// -- the restart-survival behaviour the distillation dropped (spec
// SPEC_FULL.md §3, grounded on ot-br-posix's dnssd_plat.cpp
// HandleStateChange).
func (a *Avahi) watchDaemonRestart() {
	sig := make(chan *dbus.Signal, 8)
	a.conn.Signal(sig)
	_ = a.conn.BusObject().Call("org.freedesktop.DBus.AddMatch", 0,
		"type='signal',interface='org.freedesktop.DBus',member='NameOwnerChanged',arg0='"+avahiDest+"'").Err

	go func() {
		for s := range sig {
			if len(s.Body) != 3 {
				continue
			}
			newOwner, _ := s.Body[2].(string)
			if newOwner == "" {
				a.setState(Idle)
			} else {
				a.setState(Ready)
				a.resyncAfterReconnect()
			}
		}
	}()
}

// resyncAfterReconnect runs once the Avahi daemon is back after a
// restart. The restart lost every prior entry group, so it drops this
// Publisher's entry-group bookkeeping and logs each record that is
// gone; it does not republish them itself. Records come back only when
// a caller republishes them, as the Advertising Proxy's
// PublishAllHostsAndServices (spec §4.6) does on the Ready transition
// that precedes this call.
func (a *Avahi) resyncAfterReconnect() {
	a.mu.Lock()
	keys := make([]recordKey, 0, len(a.groups))
	for k := range a.groups {
		keys = append(keys, k)
	}
	a.groups = map[recordKey]dbus.BusObject{}
	a.mu.Unlock()
	for _, k := range keys {
		log.WithField("record", k.name).Info("avahi daemon restarted, record needs republish")
	}
}

func (a *Avahi) newEntryGroup() (dbus.BusObject, error) {
	var path dbus.ObjectPath
	if err := a.obj.Call(ifaceServer+".EntryGroupNew", 0).Store(&path); err != nil {
		return nil, errclass.New("mdns.EntryGroupNew", errclass.Dbus, err)
	}
	return a.conn.Object(avahiDest, path), nil
}

func (a *Avahi) PublishService(host, instance, serviceType string, subtypes []string, port uint16, txt TXTEntries, cb Callback) {
	key := recordKey{kind: "service", name: instance, typ: serviceType}
	pc := a.enqueue(key, cb)
	a.supersede(key, pc.seq)

	go func() {
		if err := txt.Validate(); err != nil {
			a.complete(key, pc, Invalid)
			return
		}
		grp, err := a.newEntryGroup()
		if err != nil {
			a.complete(key, pc, Other)
			return
		}
		txtBytes := make([][]byte, 0, len(txt))
		for _, e := range txt.Encode() {
			txtBytes = append(txtBytes, []byte(e))
		}
		call := grp.Call(ifaceEntryGroup+".AddService", 0,
			int32(avahiIfUnspec), int32(avahiProtoUnspec), uint32(0),
			instance, serviceType, "local", host, uint16(port), txtBytes)
		if call.Err != nil {
			if isCollision(call.Err) {
				a.complete(key, pc, Duplicated)
			} else {
				a.complete(key, pc, Other)
			}
			return
		}
		if err := grp.Call(ifaceEntryGroup+".Commit", 0).Err; err != nil {
			a.complete(key, pc, Other)
			return
		}
		a.mu.Lock()
		a.groups[key] = grp
		a.mu.Unlock()
		a.complete(key, pc, Ok)
	}()
}

func isCollision(err error) bool {
	if err == nil {
		return false
	}
	dbusErr, ok := err.(dbus.Error)
	return ok && dbusErr.Name == "org.freedesktop.Avahi.CollisionError"
}

func (a *Avahi) UnpublishService(instance, serviceType string, cb Callback) {
	key := recordKey{kind: "service", name: instance, typ: serviceType}
	pc := a.enqueue(key, cb)
	go func() {
		a.mu.Lock()
		grp, ok := a.groups[key]
		delete(a.groups, key)
		a.mu.Unlock()
		if !ok {
			a.complete(key, pc, NotFound)
			return
		}
		if err := grp.Call(ifaceEntryGroup+".Free", 0).Err; err != nil {
			a.complete(key, pc, Other)
			return
		}
		a.complete(key, pc, Ok)
	}()
}

func (a *Avahi) PublishHost(name string, addresses []string, cb Callback) {
	key := recordKey{kind: "host", name: name}
	pc := a.enqueue(key, cb)
	a.supersede(key, pc.seq)
	go func() {
		if len(addresses) == 0 {
			a.complete(key, pc, Invalid)
			return
		}
		grp, err := a.newEntryGroup()
		if err != nil {
			a.complete(key, pc, Other)
			return
		}
		for _, addr := range addresses {
			if err := grp.Call(ifaceEntryGroup+".AddAddress", 0,
				int32(avahiIfUnspec), int32(avahiProtoUnspec), uint32(0), name, addr).Err; err != nil {
				a.complete(key, pc, Other)
				return
			}
		}
		if err := grp.Call(ifaceEntryGroup+".Commit", 0).Err; err != nil {
			a.complete(key, pc, Other)
			return
		}
		a.mu.Lock()
		a.groups[key] = grp
		a.mu.Unlock()
		a.complete(key, pc, Ok)
	}()
}

func (a *Avahi) UnpublishHost(name string, cb Callback) {
	key := recordKey{kind: "host", name: name}
	pc := a.enqueue(key, cb)
	go func() {
		a.mu.Lock()
		grp, ok := a.groups[key]
		delete(a.groups, key)
		a.mu.Unlock()
		if !ok {
			a.complete(key, pc, NotFound)
			return
		}
		_ = grp.Call(ifaceEntryGroup+".Free", 0).Err
		a.complete(key, pc, Ok)
	}()
}

// PublishKey is best-effort (spec §9): a KEY RR has no first-class
// Avahi EntryGroup method, so it is published as a raw resource record
// via AddRecord; failures here never block service/host publication
// elsewhere, but the taxonomy records the attempt.
func (a *Avahi) PublishKey(name string, key []byte, cb Callback) {
	rk := recordKey{kind: "key", name: name}
	pc := a.enqueue(rk, cb)
	go func() {
		grp, err := a.newEntryGroup()
		if err != nil {
			a.complete(rk, pc, Other)
			return
		}
		const dnsTypeKEY = 25
		const dnsClassIN = 1
		if err := grp.Call(ifaceEntryGroup+".AddRecord", 0,
			int32(avahiIfUnspec), int32(avahiProtoUnspec), uint32(0),
			name, uint16(dnsClassIN), uint16(dnsTypeKEY), uint32(4500), key).Err; err != nil {
			a.complete(rk, pc, Other)
			return
		}
		_ = grp.Call(ifaceEntryGroup+".Commit", 0).Err
		a.mu.Lock()
		a.groups[rk] = grp
		a.mu.Unlock()
		a.complete(rk, pc, Ok)
	}()
}

func (a *Avahi) UnpublishKey(name string, cb Callback) {
	rk := recordKey{kind: "key", name: name}
	pc := a.enqueue(rk, cb)
	go func() {
		a.mu.Lock()
		grp, ok := a.groups[rk]
		delete(a.groups, rk)
		a.mu.Unlock()
		if !ok {
			a.complete(rk, pc, NotFound)
			return
		}
		_ = grp.Call(ifaceEntryGroup+".Free", 0).Err
		a.complete(rk, pc, Ok)
	}()
}

func (a *Avahi) SubscribeService(serviceType, instance string) SubscriptionID {
	var path dbus.ObjectPath
	_ = a.obj.Call(ifaceServer+".ServiceBrowserNew", 0,
		int32(avahiIfUnspec), int32(avahiProtoUnspec), serviceType, "local", uint32(0)).Store(&path)
	return a.addSubscription(subscription{})
}

func (a *Avahi) SubscribeHost(name string) SubscriptionID {
	var path dbus.ObjectPath
	_ = a.obj.Call(ifaceServer+".RecordBrowserNew", 0,
		int32(avahiIfUnspec), int32(avahiProtoUnspec), name, uint16(1), uint16(1), uint32(0)).Store(&path)
	return a.addSubscription(subscription{})
}

func (a *Avahi) AddSubscriptionCallbacks(onInstance func(DiscoveredInstanceInfo), onHost func(DiscoveredHostInfo)) SubscriptionID {
	return a.addSubscription(subscription{onInstance: onInstance, onHost: onHost})
}

func (a *Avahi) RemoveSubscriptionCallbacks(id SubscriptionID) {
	a.removeSubscription(id)
}

func (a *Avahi) Close() error {
	return a.conn.Close()
}
