// Package borderagent publishes the MeshCoP commissioning endpoint
// (spec §4.5): an mDNS _meshcop._udp service whose TXT record encodes
// live Thread network state, republished whenever that state changes.
package borderagent

import (
	"encoding/binary"
	"fmt"
	"math/rand"
	"sync"

	"github.com/openthread/otbr-agent-go/internal/logging"
	"github.com/openthread/otbr-agent-go/internal/mdns"
	"github.com/openthread/otbr-agent-go/internal/ncp"
)

var log = logging.For("border-agent")

const serviceType = "_meshcop._udp"

// placeholderPort is published when the native border-agent API
// reports the service as Stopped, so the record still advertises
// status via the sb TXT entry (spec §4.5).
const placeholderPort = 49152

// ConnectionMode is the sb bitmap's bits 0-2 (spec §4.5).
type ConnectionMode int

const (
	ConnDisabled ConnectionMode = iota
	ConnPSKc
	ConnPSKd
	ConnVendor
	ConnX509
)

// Availability is the sb bitmap's bits 5-6 (spec §4.5).
type Availability int

const (
	AvailabilityInfrequent Availability = iota
	AvailabilityHigh
)

// AgentStatus is the native border-agent API status the Border Agent
// consults for the service port (spec §4.5).
type AgentStatus struct {
	Running bool // false means "Stopped": publish the placeholder port
	Port    uint16
	Mode    ConnectionMode
}

// Config is the static, rarely-changing identity of this device: it
// never flows through NetworkState so it is threaded in separately.
type Config struct {
	Vendor        string
	Product       string
	Availability  Availability
	DomainEnabled bool // BR domain-prefix feature compiled in
	RoutingEnabled bool // off-mesh routing feature compiled in
}

// Agent keeps the MeshCoP service instance in sync with the NCP's
// NetworkState (spec §4.5).
type Agent struct {
	cfg       Config
	publisher mdns.Publisher
	controller *ncp.Controller
	getStatus func() AgentStatus

	mu           sync.Mutex
	instanceName string
	published    bool
	vendorTXT    map[string][]byte
}

// New wires an Agent to a Controller and Publisher, and registers it
// for every state-changed flag that triggers a republish (spec §4.5:
// role, ext-PAN-ID, network-name, BR state, network-data change).
func New(cfg Config, controller *ncp.Controller, publisher mdns.Publisher, getStatus func() AgentStatus) *Agent {
	a := &Agent{cfg: cfg, controller: controller, publisher: publisher, getStatus: getStatus, vendorTXT: map[string][]byte{}}
	controller.OnStateChanged(func(flags ncp.ChangeFlags) {
		if flags.Has(ncp.ChangedRole) || flags.Has(ncp.ChangedExtPanID) ||
			flags.Has(ncp.ChangedNetworkName) || flags.Has(ncp.ChangedBackboneState) ||
			flags.Has(ncp.ChangedNetworkData) {
			a.Republish()
		}
	})
	return a
}

// baseInstanceName computes "<vendor>_<product> #<xx><yy>" from the
// last two octets of the extended MAC, uppercase hex (spec §4.5).
func baseInstanceName(vendor, product string, extMAC [8]byte) string {
	return fmt.Sprintf("%s_%s #%02X%02X", vendor, product, extMAC[6], extMAC[7])
}

// SetVendorMeshCoPTxtEntries installs extra TXT keys pushed by the IPC
// surface (spec §6.3) and triggers a republish.
func (a *Agent) SetVendorMeshCoPTxtEntries(entries map[string][]byte) {
	a.mu.Lock()
	a.vendorTXT = entries
	a.mu.Unlock()
	a.Republish()
}

// Republish replaces (never appends) the MeshCoP service record,
// recomputing the TXT table and instance name from current state
// (spec §4.5).
func (a *Agent) Republish() {
	state := a.controller.State()
	status := a.getStatus()

	a.mu.Lock()
	if a.instanceName == "" {
		a.instanceName = baseInstanceName(a.cfg.Vendor, a.cfg.Product, state.ExtMAC)
	}
	name := a.instanceName
	a.mu.Unlock()

	port := uint16(placeholderPort)
	if status.Running {
		port = status.Port
	}

	txt := a.buildTXT(state, status)
	a.publisher.PublishService("", name, serviceType, nil, port, txt, func(res mdns.Result) {
		a.handlePublishResult(res, name)
	})
}

func (a *Agent) handlePublishResult(res mdns.Result, attemptedName string) {
	switch res {
	case mdns.Ok:
		a.mu.Lock()
		a.published = true
		a.mu.Unlock()
		log.WithField("instance", attemptedName).Info("meshcop service published")
	case mdns.Duplicated:
		// §4.5: unpublish the previous attempt and retry with a
		// random suffix. No global counter is kept.
		a.publisher.UnpublishService(attemptedName, serviceType, func(mdns.Result) {})
		n := rand.Intn(1 << 16)
		newName := fmt.Sprintf("%s (%d)", attemptedName, n)
		a.mu.Lock()
		a.instanceName = newName
		a.mu.Unlock()
		log.WithFields(map[string]interface{}{"old": attemptedName, "new": newName}).
			Info("meshcop instance name collided, retrying")
		a.Republish()
	default:
		log.WithField("result", res).Warn("meshcop publish did not complete Ok")
	}
}

// buildTXT computes the full TXT table of spec §4.5.
func (a *Agent) buildTXT(state ncp.NetworkState, status AgentStatus) mdns.TXTEntries {
	txt := mdns.TXTEntries{
		{Key: "rv", Value: []byte("1")},
		{Key: "vn", Value: []byte(a.cfg.Vendor)},
		{Key: "mn", Value: []byte(a.cfg.Product)},
		{Key: "nn", Value: []byte(state.NetworkName)},
		{Key: "xp", Value: append([]byte(nil), state.ExtPanID[:]...)},
		{Key: "tv", Value: []byte(state.ThreadVersion)},
		{Key: "xa", Value: append([]byte(nil), state.ExtMAC[:]...)},
		{Key: "sb", Value: encodeStateBitmap(state, status, a.cfg.Availability)},
	}

	if state.Role.Active() {
		var tsBuf [8]byte
		binary.BigEndian.PutUint64(tsBuf[:], state.ActiveDatasetTimestamp)
		txt = append(txt, mdns.TXTEntry{Key: "at", Value: tsBuf[:]})

		var ptBuf [4]byte
		binary.BigEndian.PutUint32(ptBuf[:], state.PartitionID)
		txt = append(txt, mdns.TXTEntry{Key: "pt", Value: ptBuf[:]})
	}

	if state.BRState != ncp.BRDisabled {
		txt = append(txt, mdns.TXTEntry{Key: "sq", Value: []byte{state.BRSequenceNumber}})
		var portBuf [2]byte
		binary.BigEndian.PutUint16(portBuf[:], state.BRUDPPort)
		txt = append(txt, mdns.TXTEntry{Key: "bb", Value: portBuf[:]})
	}

	if a.cfg.DomainEnabled && len(state.DomainPrefix) > 0 {
		txt = append(txt, mdns.TXTEntry{Key: "dn", Value: state.DomainPrefix})
	}

	if a.cfg.RoutingEnabled {
		for _, r := range state.OffMeshRoutes {
			v := append([]byte{r.Length}, r.Prefix...)
			txt = append(txt, mdns.TXTEntry{Key: "omr", Value: v})
			break // spec describes a single omr entry per republish cycle
		}
	}

	a.mu.Lock()
	for k, v := range a.vendorTXT {
		txt = append(txt, mdns.TXTEntry{Key: k, Value: v})
	}
	a.mu.Unlock()

	return txt
}

// encodeStateBitmap computes the sb TXT entry: a little-endian
// bitfield emitted as a big-endian u32 (spec §4.5).
func encodeStateBitmap(state ncp.NetworkState, status AgentStatus, avail Availability) []byte {
	var bits uint32

	bits |= uint32(status.Mode) & 0x7 // bits 0-2

	var ifaceStatus uint32
	switch {
	case state.Role.Active():
		ifaceStatus = 2 // active
	case state.Role != ncp.RoleDisabled:
		ifaceStatus = 1 // initialised
	default:
		ifaceStatus = 0 // uninitialised
	}
	bits |= ifaceStatus << 3 // bits 3-4

	bits |= uint32(avail) << 5 // bits 5-6

	if state.BRState != ncp.BRDisabled {
		bits |= 1 << 7 // BR active
	}
	if state.BRState == ncp.BRPrimary {
		bits |= 1 << 8 // BR primary
	}

	var out [4]byte
	binary.BigEndian.PutUint32(out[:], bits)
	return out[:]
}

// DecodeStateBitmap is the inverse used by invariant tests (spec I5).
func DecodeStateBitmap(b []byte) (mode ConnectionMode, ifaceStatus int, avail Availability, brActive, brPrimary bool) {
	bits := binary.BigEndian.Uint32(b)
	mode = ConnectionMode(bits & 0x7)
	ifaceStatus = int((bits >> 3) & 0x3)
	avail = Availability((bits >> 5) & 0x3)
	brActive = bits&(1<<7) != 0
	brPrimary = bits&(1<<8) != 0
	return
}
