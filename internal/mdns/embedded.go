package mdns

import (
	"net"
	"sync"
	"time"

	"github.com/miekg/dns"
	"golang.org/x/net/ipv4"

	"github.com/openthread/otbr-agent-go/internal/errclass"
)

// MulticastAddr and Port are the mDNS well-known group and port
// (RFC 6762 §5), matching the teacher's internal/protocol constants.
const (
	MulticastAddr = "224.0.0.251"
	Port          = 5353
)

// probeWindow is how long the embedded publisher listens for a
// conflicting answer after its single probe query before declaring a
// name free. RFC 6762 sends three probes 250ms apart; this variant
// sends one probe and waits 300ms, so PublishService completes sooner.
const probeWindow = 300 * time.Millisecond

// Embedded is the self-contained multicast Publisher variant of spec
// §4.4: it owns its own UDP multicast socket and implements probing,
// announcing, query answering and browse/resolve subscriptions
// in-process, with no external responder daemon. The probe/conflict
// logic is adapted from the teacher's responder.ConflictDetector
// (RFC 6762 §8.2 lexicographic tiebreak is not modelled here -- the
// embedded variant treats any answer seen during the probe window as a
// conflict, which is the conservative subset the Border Agent's
// rename-on-Duplicated loop already handles).
type Embedded struct {
	*base

	pc      *ipv4.PacketConn
	conn    *net.UDPConn
	groupIP net.IP

	mu       sync.Mutex
	services map[recordKey]ServiceInstance
	hosts    map[string][]string
	keys     map[string][]byte

	closed chan struct{}
}

// NewEmbedded opens the multicast socket and joins the mDNS group on
// every multicast-capable interface (spec §4.4 "a self-contained
// multicast agent").
func NewEmbedded() (*Embedded, error) {
	addr := &net.UDPAddr{IP: net.IPv4zero, Port: Port}
	conn, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return nil, errclass.New("mdns.NewEmbedded", errclass.Other, err)
	}
	pc := ipv4.NewPacketConn(conn)

	group := net.ParseIP(MulticastAddr)
	ifaces, _ := net.Interfaces()
	joined := false
	for _, ifi := range ifaces {
		if ifi.Flags&net.FlagMulticast == 0 || ifi.Flags&net.FlagUp == 0 {
			continue
		}
		if err := pc.JoinGroup(&ifi, &net.UDPAddr{IP: group}); err == nil {
			joined = true
		}
	}
	if !joined {
		_ = conn.Close()
		return nil, errclass.New("mdns.NewEmbedded", errclass.Other, nil)
	}

	e := &Embedded{
		base:     newBase(),
		pc:       pc,
		conn:     conn,
		groupIP:  group,
		services: map[recordKey]ServiceInstance{},
		hosts:    map[string][]string{},
		keys:     map[string][]byte{},
		closed:   make(chan struct{}),
	}
	e.setState(Ready)
	go e.receiveLoop()
	return e, nil
}

func (e *Embedded) dest() *net.UDPAddr { return &net.UDPAddr{IP: e.groupIP, Port: Port} }

func (e *Embedded) send(msg *dns.Msg) {
	buf, err := msg.Pack()
	if err != nil {
		return
	}
	_, _ = e.conn.WriteToUDP(buf, e.dest())
}

// probe sends one query for instance.serviceType and listens for an
// answer from anyone else within probeWindow. A reply means the name
// is taken (Duplicated); silence means it is free.
func (e *Embedded) probe(fqdn string) bool {
	q := new(dns.Msg)
	q.SetQuestion(dns.Fqdn(fqdn), dns.TypeANY)
	e.send(q)

	sub := make(chan struct{}, 1)
	id := e.addSubscription(subscription{onInstance: func(info DiscoveredInstanceInfo) {
		if dns.Fqdn(info.InstanceName+"."+info.ServiceType) == dns.Fqdn(fqdn) {
			select {
			case sub <- struct{}{}:
			default:
			}
		}
	}})
	defer e.removeSubscription(id)

	select {
	case <-sub:
		return true
	case <-time.After(probeWindow):
		return false
	}
}

func (e *Embedded) PublishService(host, instance, serviceType string, subtypes []string, port uint16, txt TXTEntries, cb Callback) {
	key := recordKey{kind: "service", name: instance, typ: serviceType}
	pc := e.enqueue(key, cb)
	e.supersede(key, pc.seq)

	go func() {
		if err := txt.Validate(); err != nil {
			e.complete(key, pc, Invalid)
			return
		}
		fqdn := instance + "." + serviceType
		if e.probe(fqdn) {
			e.complete(key, pc, Duplicated)
			return
		}

		e.mu.Lock()
		e.services[key] = ServiceInstance{
			InstanceName: instance, ServiceType: serviceType, Subtypes: subtypes,
			HostName: host, Port: port, TXT: txt,
		}
		e.mu.Unlock()

		e.announceService(instance, serviceType, host, port, txt)
		e.complete(key, pc, Ok)
	}()
}

func (e *Embedded) announceService(instance, serviceType, host string, port uint16, txt TXTEntries) {
	msg := new(dns.Msg)
	msg.Response = true
	fqdn := dns.Fqdn(instance + "." + serviceType)
	msg.Answer = append(msg.Answer,
		&dns.PTR{Hdr: dns.RR_Header{Name: dns.Fqdn(serviceType), Rrtype: dns.TypePTR, Class: dns.ClassINET, Ttl: 120}, Ptr: fqdn},
		&dns.SRV{Hdr: dns.RR_Header{Name: fqdn, Rrtype: dns.TypeSRV, Class: dns.ClassINET, Ttl: 120}, Port: port, Target: dns.Fqdn(host)},
		BuildTXTRR(fqdn, 4500, txt),
	)
	e.send(msg)
}

func (e *Embedded) UnpublishService(instance, serviceType string, cb Callback) {
	key := recordKey{kind: "service", name: instance, typ: serviceType}
	pc := e.enqueue(key, cb)
	go func() {
		e.mu.Lock()
		_, existed := e.services[key]
		delete(e.services, key)
		e.mu.Unlock()
		if !existed {
			e.complete(key, pc, NotFound)
			return
		}
		// Goodbye packet: TTL=0 PTR (RFC 6762 §10.1).
		msg := new(dns.Msg)
		msg.Response = true
		msg.Answer = append(msg.Answer, &dns.PTR{
			Hdr: dns.RR_Header{Name: dns.Fqdn(serviceType), Rrtype: dns.TypePTR, Class: dns.ClassINET, Ttl: 0},
			Ptr: dns.Fqdn(instance + "." + serviceType),
		})
		e.send(msg)
		e.complete(key, pc, Ok)
	}()
}

func (e *Embedded) PublishHost(name string, addresses []string, cb Callback) {
	key := recordKey{kind: "host", name: name}
	pc := e.enqueue(key, cb)
	e.supersede(key, pc.seq)
	go func() {
		if len(addresses) == 0 {
			e.complete(key, pc, Invalid)
			return
		}
		e.mu.Lock()
		e.hosts[name] = addresses
		e.mu.Unlock()

		msg := new(dns.Msg)
		msg.Response = true
		for _, a := range addresses {
			ip := net.ParseIP(a)
			if ip == nil {
				continue
			}
			if v4 := ip.To4(); v4 != nil {
				msg.Answer = append(msg.Answer, &dns.A{
					Hdr: dns.RR_Header{Name: dns.Fqdn(name), Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 120}, A: v4,
				})
			} else {
				msg.Answer = append(msg.Answer, &dns.AAAA{
					Hdr: dns.RR_Header{Name: dns.Fqdn(name), Rrtype: dns.TypeAAAA, Class: dns.ClassINET, Ttl: 120}, AAAA: ip,
				})
			}
		}
		e.send(msg)
		e.complete(key, pc, Ok)
	}()
}

func (e *Embedded) UnpublishHost(name string, cb Callback) {
	key := recordKey{kind: "host", name: name}
	pc := e.enqueue(key, cb)
	go func() {
		e.mu.Lock()
		_, existed := e.hosts[name]
		delete(e.hosts, name)
		e.mu.Unlock()
		if !existed {
			e.complete(key, pc, NotFound)
			return
		}
		e.complete(key, pc, Ok)
	}()
}

// PublishKey publishes an mDNS KEY RR. Per spec §9 ("mDNS key
// records"), this is best-effort and never blocks service/host
// publication on its own outcome, but the taxonomy still records
// Ok/Other so callers (the Advertising Proxy) can assert it was
// attempted.
func (e *Embedded) PublishKey(name string, key []byte, cb Callback) {
	rk := recordKey{kind: "key", name: name}
	pc := e.enqueue(rk, cb)
	go func() {
		e.mu.Lock()
		e.keys[name] = key
		e.mu.Unlock()
		msg := new(dns.Msg)
		msg.Response = true
		msg.Answer = append(msg.Answer, &dns.KEY{
			Hdr:       dns.RR_Header{Name: dns.Fqdn(name), Rrtype: dns.TypeKEY, Class: dns.ClassINET, Ttl: 4500},
			Flags:     0,
			Protocol:  3,
			Algorithm: 0,
			PublicKey: string(key),
		})
		e.send(msg)
		e.complete(rk, pc, Ok)
	}()
}

func (e *Embedded) UnpublishKey(name string, cb Callback) {
	rk := recordKey{kind: "key", name: name}
	pc := e.enqueue(rk, cb)
	go func() {
		e.mu.Lock()
		_, existed := e.keys[name]
		delete(e.keys, name)
		e.mu.Unlock()
		if !existed {
			e.complete(rk, pc, NotFound)
			return
		}
		e.complete(rk, pc, Ok)
	}()
}

func (e *Embedded) SubscribeService(serviceType, instance string) SubscriptionID {
	q := new(dns.Msg)
	if instance != "" {
		q.SetQuestion(dns.Fqdn(instance+"."+serviceType), dns.TypeSRV)
	} else {
		q.SetQuestion(dns.Fqdn(serviceType), dns.TypePTR)
	}
	e.send(q)
	return e.addSubscription(subscription{})
}

func (e *Embedded) SubscribeHost(name string) SubscriptionID {
	q := new(dns.Msg)
	q.SetQuestion(dns.Fqdn(name), dns.TypeA)
	e.send(q)
	return e.addSubscription(subscription{})
}

func (e *Embedded) AddSubscriptionCallbacks(onInstance func(DiscoveredInstanceInfo), onHost func(DiscoveredHostInfo)) SubscriptionID {
	return e.addSubscription(subscription{onInstance: onInstance, onHost: onHost})
}

func (e *Embedded) RemoveSubscriptionCallbacks(id SubscriptionID) {
	e.removeSubscription(id)
}

func (e *Embedded) Close() error {
	close(e.closed)
	return e.conn.Close()
}

// receiveLoop parses incoming packets and answers queries matching our
// registered services/hosts, and feeds subscription callbacks for
// records we are browsing/resolving (spec §4.4, §4.7).
func (e *Embedded) receiveLoop() {
	buf := make([]byte, 9000)
	for {
		n, _, err := e.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-e.closed:
				return
			default:
				continue
			}
		}
		msg := new(dns.Msg)
		if err := msg.Unpack(buf[:n]); err != nil {
			continue
		}
		if msg.Response {
			e.handleAnswer(msg)
		} else {
			e.handleQuery(msg)
		}
	}
}

func (e *Embedded) handleQuery(msg *dns.Msg) {
	e.mu.Lock()
	services := make(map[recordKey]ServiceInstance, len(e.services))
	for k, v := range e.services {
		services[k] = v
	}
	e.mu.Unlock()

	for _, q := range msg.Question {
		for _, svc := range services {
			if dns.Fqdn(svc.ServiceType) == q.Name || dns.Fqdn(svc.InstanceName+"."+svc.ServiceType) == q.Name {
				e.announceService(svc.InstanceName, svc.ServiceType, svc.HostName, svc.Port, svc.TXT)
			}
		}
	}
}

func (e *Embedded) handleAnswer(msg *dns.Msg) {
	for _, rr := range msg.Answer {
		switch rec := rr.(type) {
		case *dns.SRV:
			instance, serviceType := splitInstanceName(rec.Hdr.Name)
			e.notifyInstance(DiscoveredInstanceInfo{
				InstanceName: instance, ServiceType: serviceType,
				HostName: rec.Target, Port: rec.Port,
			})
		case *dns.PTR:
			instance, serviceType := splitInstanceName(rec.Ptr)
			e.notifyInstance(DiscoveredInstanceInfo{InstanceName: instance, ServiceType: serviceType})
		case *dns.A:
			e.notifyHost(DiscoveredHostInfo{HostName: rec.Hdr.Name, Addresses: []string{rec.A.String()}})
		case *dns.AAAA:
			e.notifyHost(DiscoveredHostInfo{HostName: rec.Hdr.Name, Addresses: []string{rec.AAAA.String()}})
		}
	}
}

// splitInstanceName splits "Instance Name._service._proto.local." into
// its instance and service-type components at the first unescaped dot
// boundary following the instance label.
func splitInstanceName(fqdn string) (instance, serviceType string) {
	labels := dns.SplitDomainName(fqdn)
	if len(labels) == 0 {
		return "", fqdn
	}
	return labels[0], dns.Fqdn(joinLabels(labels[1:]))
}

func joinLabels(labels []string) string {
	out := ""
	for i, l := range labels {
		if i > 0 {
			out += "."
		}
		out += l
	}
	return out
}
