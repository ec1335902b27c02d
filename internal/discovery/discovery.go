// Package discovery mirrors LAN mDNS discovery back to the NCP's
// SRP/DNS-SD platform layer (spec §4.7): for each start_* request it
// receives, it opens a subscription against the mDNS publisher and
// translates each discovered item back into the NCP's result type.
package discovery

import (
	"strings"

	"github.com/openthread/otbr-agent-go/internal/errclass"
	"github.com/openthread/otbr-agent-go/internal/logging"
	"github.com/openthread/otbr-agent-go/internal/mdns"
)

var log = logging.For("discovery-proxy")

// ResolverKind is one of the four DNS-SD request shapes the NCP's
// platform layer emits (spec §4.7, §3 ResolverCall).
type ResolverKind int

const (
	ServiceBrowser ResolverKind = iota
	ServiceResolver
	AddressResolverV4
	AddressResolverV6
)

func (k ResolverKind) String() string {
	switch k {
	case ServiceBrowser:
		return "service-browser"
	case ServiceResolver:
		return "service-resolver"
	case AddressResolverV4:
		return "address-resolver-v4"
	case AddressResolverV6:
		return "address-resolver-v6"
	default:
		return "unknown"
	}
}

// ResolverCall is one outstanding start_*/stop_* pair the proxy is
// tracking, keyed by the NCP's own call id (spec §3).
type ResolverCall struct {
	Kind         ResolverKind
	ServiceType  string
	InstanceName string
	HostName     string
	subID        mdns.SubscriptionID // inert query subscription (SubscribeService/SubscribeHost)
	cbID         mdns.SubscriptionID // callback-bearing subscription (AddSubscriptionCallbacks)
}

// ServiceResult is the translated payload the NCP's result-handling
// entry point receives for a ServiceBrowser/ServiceResolver discovery
// (spec §4.7 step 2).
type ServiceResult struct {
	InstanceName string // unqualified
	ServiceType  string // unqualified
	HostName     string // unqualified
	Addresses    []string
	Port         uint16
	TXT          mdns.TXTEntries
	Removed      bool
}

// AddressResult is the translated payload for an address-resolver
// discovery.
type AddressResult struct {
	HostName  string // unqualified
	Addresses []string
	Removed   bool
}

// Sink is the NCP's result-handling entry point the proxy calls into
// (spec §4.7 step 2). OnService receives browser/resolver results and
// OnAddress address-resolver results; one Sink serves every call.
type Sink struct {
	OnService func(callID uint64, r ServiceResult)
	OnAddress func(callID uint64, r AddressResult)
}

// Proxy is the Discovery Proxy of spec §4.7.
type Proxy struct {
	publisher mdns.Publisher
	sink      Sink

	calls map[uint64]*ResolverCall
}

// New wires a Proxy to the shared Publisher and the NCP's result sink.
func New(publisher mdns.Publisher, sink Sink) *Proxy {
	return &Proxy{
		publisher: publisher,
		sink:      sink,
		calls:     map[uint64]*ResolverCall{},
	}
}

// unqualify strips a trailing "." (fully-qualified "foo.local." becomes
// "foo.local"), per spec §4.7 "Name translation". Service-type labels
// are left in place.
func unqualify(fqdn string) string {
	return strings.TrimSuffix(fqdn, ".")
}

// qualify is the inverse used when issuing a subscription, which wants
// a fully-qualified name.
func qualify(name string) string {
	if strings.HasSuffix(name, ".") {
		return name
	}
	return name + "."
}

// StartServiceBrowser opens a subscription for callID against
// serviceType (spec §4.7 step 1).
func (p *Proxy) StartServiceBrowser(callID uint64, serviceType string) {
	call := &ResolverCall{Kind: ServiceBrowser, ServiceType: serviceType}
	call.subID = p.publisher.SubscribeService(qualify(serviceType), "")
	p.registerInstanceCallback(callID, call)
}

// StartServiceResolver opens a subscription for one specific instance
// of serviceType.
func (p *Proxy) StartServiceResolver(callID uint64, instanceName, serviceType string) {
	call := &ResolverCall{Kind: ServiceResolver, ServiceType: serviceType, InstanceName: instanceName}
	call.subID = p.publisher.SubscribeService(qualify(serviceType), instanceName)
	p.registerInstanceCallback(callID, call)
}

func (p *Proxy) registerInstanceCallback(callID uint64, call *ResolverCall) {
	p.calls = p.ensureCalls()
	p.calls[callID] = call
	call.cbID = p.publisher.AddSubscriptionCallbacks(func(info mdns.DiscoveredInstanceInfo) {
		if call.Kind == ServiceResolver && call.InstanceName != "" && info.InstanceName != call.InstanceName {
			return
		}
		if p.sink.OnService == nil {
			return
		}
		p.sink.OnService(callID, ServiceResult{
			InstanceName: unqualify(info.InstanceName),
			ServiceType:  unqualify(call.ServiceType),
			HostName:     unqualify(info.HostName),
			Addresses:    info.Addresses,
			Port:         info.Port,
			TXT:          info.TXT,
			Removed:      info.Removed,
		})
	}, nil)
}

func (p *Proxy) startAddressResolver(callID uint64, kind ResolverKind, hostName string) {
	call := &ResolverCall{Kind: kind, HostName: hostName}
	call.subID = p.publisher.SubscribeHost(qualify(hostName))
	p.calls = p.ensureCalls()
	p.calls[callID] = call
	call.cbID = p.publisher.AddSubscriptionCallbacks(nil, func(info mdns.DiscoveredHostInfo) {
		if unqualify(info.HostName) != hostName {
			return
		}
		if p.sink.OnAddress == nil {
			return
		}
		p.sink.OnAddress(callID, AddressResult{
			HostName:  unqualify(info.HostName),
			Addresses: info.Addresses,
			Removed:   info.Removed,
		})
	})
}

// StartAddressResolverV4/V6 open a host subscription; the address
// family distinction is carried only for stop_*/logging symmetry with
// the NCP's platform surface (spec §6.1), since DiscoveredHostInfo
// carries both families together.
func (p *Proxy) StartAddressResolverV4(callID uint64, hostName string) {
	p.startAddressResolver(callID, AddressResolverV4, hostName)
}

func (p *Proxy) StartAddressResolverV6(callID uint64, hostName string) {
	p.startAddressResolver(callID, AddressResolverV6, hostName)
}

// Stop releases both the inert query subscription and the
// callback-bearing one for callID (spec §4.7 step 3): dropping only
// the former would leave the sink receiving results after Stop.
func (p *Proxy) Stop(callID uint64) {
	call, ok := p.calls[callID]
	if !ok {
		return
	}
	p.publisher.RemoveSubscriptionCallbacks(call.cbID)
	p.publisher.RemoveSubscriptionCallbacks(call.subID)
	delete(p.calls, callID)
}

func (p *Proxy) ensureCalls() map[uint64]*ResolverCall {
	if p.calls == nil {
		return map[uint64]*ResolverCall{}
	}
	return p.calls
}

// KeyName synthesises the record name for a KEY RR lookup (spec §4.7
// "For keys the proxy synthesises..."): "<name>" when no service type
// is given, else "<name>.<serviceType>".
func KeyName(name, serviceType string) string {
	if serviceType == "" {
		return name
	}
	return name + "." + serviceType
}

// TranslateError maps the abstract errclass taxonomy to the NCP
// platform's otbr-side error codes (spec §4.7 "Error translation").
// PlatformError is a small closed enum so callers cannot leak a raw Go
// error across the NCP boundary.
type PlatformError int

const (
	PlatformOk PlatformError = iota
	PlatformDuplicated
	PlatformInvalidArgs
	PlatformAbort
	PlatformInvalidState
	PlatformNotImplemented
	PlatformNotFound
	PlatformParse
	PlatformFailed
)

func TranslateError(err error) PlatformError {
	if err == nil {
		return PlatformOk
	}
	switch errclass.KindOf(err) {
	case errclass.None:
		return PlatformOk
	case errclass.Duplicated:
		return PlatformDuplicated
	case errclass.InvalidArgs:
		return PlatformInvalidArgs
	case errclass.Aborted:
		return PlatformAbort
	case errclass.InvalidState:
		return PlatformInvalidState
	case errclass.NotImplemented:
		return PlatformNotImplemented
	case errclass.NotFound:
		return PlatformNotFound
	case errclass.Parse:
		return PlatformParse
	default:
		log.WithField("kind", errclass.KindOf(err)).Debug("translated to generic Failed")
		return PlatformFailed
	}
}
