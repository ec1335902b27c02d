// Package ncp wraps the Network Co-Processor: the transport that
// frames a spinel-like protocol over a serial link, socket, or
// sub-process, and the controller that drives the embedded Thread
// stack instance through that transport (spec §4.2, §4.3).
package ncp

// Role is the node's role in the Thread mesh (spec §3 NetworkState).
type Role int

const (
	RoleDisabled Role = iota
	RoleDetached
	RoleChild
	RoleRouter
	RoleLeader
)

func (r Role) String() string {
	switch r {
	case RoleDisabled:
		return "disabled"
	case RoleDetached:
		return "detached"
	case RoleChild:
		return "child"
	case RoleRouter:
		return "router"
	case RoleLeader:
		return "leader"
	default:
		return "unknown"
	}
}

func (r Role) Active() bool {
	return r == RoleChild || r == RoleRouter || r == RoleLeader
}

// BRState is the Backbone Router state (spec §3).
type BRState int

const (
	BRDisabled BRState = iota
	BRSecondary
	BRPrimary
)

// OmrPrefix is an off-mesh-routable prefix entry (spec §6.1, §4.5 omr key).
type OmrPrefix struct {
	Prefix []byte // network-order prefix bytes
	Length uint8  // prefix length in bits
}

// OperationalDataset is an opaque active/pending dataset TLV blob; the
// core never interprets its contents beyond passing it through to/from
// the NCP (spec §1 Non-goals: no crypto beyond opaque blobs).
type OperationalDataset struct {
	TLVs []byte
}

// NetworkState is the singleton owned exclusively by Controller and
// mutated only from the state-changed dispatch path (spec §3).
type NetworkState struct {
	Role Role

	ExtPanID    [8]byte
	NetworkName string // <=16 UTF-8 bytes
	PSKc        [16]byte
	PartitionID uint32
	ExtMAC      [8]byte

	LinkLocalAddr string
	MeshLocalAddr string
	MeshLocalPfx  [8]byte

	ActiveDataset  OperationalDataset
	PendingDataset OperationalDataset

	BRState      BRState
	DomainPrefix []byte // non-empty only when BRState == BRPrimary and DUA routing on

	ThreadVersion string

	ActiveDatasetTimestamp uint64
	ActiveDatasetPresent   bool

	BRSequenceNumber uint8
	BRUDPPort        uint16

	DUARoutingEnabled bool
	OffMeshRoutes     []OmrPrefix
}

// Clone returns a deep-enough copy for snapshotting into a republish
// decision (slices are re-sliced, not aliased, since NetworkState is
// mutated in place by the dispatch loop).
func (s *NetworkState) Clone() NetworkState {
	cp := *s
	cp.ActiveDataset.TLVs = append([]byte(nil), s.ActiveDataset.TLVs...)
	cp.PendingDataset.TLVs = append([]byte(nil), s.PendingDataset.TLVs...)
	cp.DomainPrefix = append([]byte(nil), s.DomainPrefix...)
	cp.OffMeshRoutes = append([]OmrPrefix(nil), s.OffMeshRoutes...)
	return cp
}

// ChangeFlags is the bitfield passed to StateChanged listeners (spec §4.3).
type ChangeFlags uint32

const (
	ChangedRole ChangeFlags = 1 << iota
	ChangedExtPanID
	ChangedNetworkName
	ChangedBackboneState
	ChangedNetworkData
	ChangedPartitionID
	ChangedDomainPrefix
	ChangedOffMeshRoutes
)

func (f ChangeFlags) Has(bit ChangeFlags) bool { return f&bit != 0 }

// LifecycleState is the NCP's own state machine (spec §4.3), distinct
// from the Thread role carried in NetworkState.
type LifecycleState int

const (
	Uninitialized LifecycleState = iota
	Offline
	Associating
	CredentialsNeeded
	Associated
	Isolated
	NetWakeAsleep
	NetWakeWaking
	Fault
	Upgrading
)

func (s LifecycleState) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Offline:
		return "offline"
	case Associating:
		return "associating"
	case CredentialsNeeded:
		return "credentials-needed"
	case Associated:
		return "associated"
	case Isolated:
		return "isolated"
	case NetWakeAsleep:
		return "netwake-asleep"
	case NetWakeWaking:
		return "netwake-waking"
	case Fault:
		return "fault"
	case Upgrading:
		return "upgrading"
	default:
		return "unknown"
	}
}
