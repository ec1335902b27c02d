package ncp

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openthread/otbr-agent-go/internal/errclass"
	"github.com/openthread/otbr-agent-go/internal/loop"
	"github.com/openthread/otbr-agent-go/internal/logging"
)

var clog = logging.For("ncp-controller")

// DefaultRequestTimeout is the default timeout for get/set/insert/remove
// property requests (spec §4.3, "default 60s").
const DefaultRequestTimeout = 60 * time.Second

// Value is the wire value carried by a property request or reply. The
// controller does not interpret it beyond the property's registered
// codec; callers decode to/from concrete types.
type Value []byte

// Listener is invoked synchronously on the loop thread for every
// StateChanged notification that matches flags the listener cares
// about (spec §4.3; ordering and non-reentrancy per spec §5/I3).
type Listener func(flags ChangeFlags)

// pendingRequest tracks one outstanding async property request. cb
// fires once: from handleReply (itself running inside a
// dispatchLoop-posted timer task) or from the request's own timeout
// task, both on the loop thread; from reset, when the NCP is reset with
// the request still pending; or directly on the issuing goroutine when
// the transport's Send fails.
type pendingRequest struct {
	cb    func(Value, error)
	timer *loop.Timer
}

type result struct {
	value Value
	err   error
}

// Controller wraps the NCP stack instance: it owns NetworkState, the
// StateChanged fan-out, and the posted-task timer queue (spec §4.3).
type Controller struct {
	loop      *loop.Loop
	transport Transport

	mu    sync.Mutex
	state NetworkState

	listeners      []Listener
	dispatching    map[ChangeFlags]bool // I3: reentrancy guard per flag
	resetHandlers  []func()
	requestTimeout time.Duration

	pending   map[uuid.UUID]*pendingRequest
	resetting bool

	lifecycle LifecycleState
}

// New wires a Controller to loop and transport. Init must be called
// before any property request is issued.
func New(l *loop.Loop, t Transport) *Controller {
	return &Controller{
		loop:           l,
		transport:      t,
		dispatching:    map[ChangeFlags]bool{},
		requestTimeout: DefaultRequestTimeout,
		pending:        map[uuid.UUID]*pendingRequest{},
		lifecycle:      Uninitialized,
	}
}

// Init moves the lifecycle to Offline and starts dispatchLoop, which
// forwards the transport's frames and reset requests onto the loop
// (spec §4.3). It does not open the transport (Open does, before New)
// and sends nothing to the NCP.
func (c *Controller) Init() error {
	c.mu.Lock()
	c.lifecycle = Offline
	c.mu.Unlock()

	go c.dispatchLoop()
	clog.Info("NCP controller initialised")
	return nil
}

// dispatchLoop drains incoming frames and routes replies to pending
// requests or notifications to the StateChanged fan-out. It runs on
// its own goroutine only to bridge the transport's channel into the
// loop; all state mutation it triggers happens via PostTimerTask so
// it still executes on the loop thread, preserving the single-writer
// invariant of spec §5.
func (c *Controller) dispatchLoop() {
	frames := c.transport.Frames()
	resets := c.transport.ResetRequested()
	for {
		select {
		case fr, ok := <-frames:
			if !ok {
				return
			}
			frame := fr
			c.loop.PostTimerTask(time.Now(), func() { c.handleFrame(frame) })
		case <-resets:
			c.loop.PostTimerTask(time.Now(), c.reset)
		}
	}
}

const (
	headerReply        byte = 0x01
	headerNotification byte = 0x02
)

func (c *Controller) handleFrame(fr Frame) {
	switch fr.Header {
	case headerReply:
		c.handleReply(fr)
	case headerNotification:
		c.handleNotification(fr)
	}
}

func (c *Controller) handleReply(fr Frame) {
	id, err := uuid.FromBytes(fr.Payload[:16])
	if err != nil {
		return
	}
	c.mu.Lock()
	p, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if !ok {
		return
	}
	if p.timer != nil {
		c.loop.Cancel(p.timer)
	}
	p.cb(Value(fr.Payload[16:]), nil)
}

func (c *Controller) handleNotification(fr Frame) {
	flags := ChangeFlags(fr.ID)
	c.applyNotification(flags, fr.Payload)
	c.fanOut(flags)
}

// applyNotification decodes the inline payload a StateChanged
// notification frame carries for each bit set in flags, and mutates
// NetworkState before fanOut runs, so listeners always observe the new
// values (spec §4.3). Fields are packed in the same order their flag
// bits are declared in state.go; variable-length fields carry a 1-byte
// length prefix. SimulateStateChange bypasses this entirely and is
// used by tests and anything synthesising a notification directly.
func (c *Controller) applyNotification(flags ChangeFlags, payload []byte) {
	off := 0
	take := func(n int) []byte {
		if n < 0 || off+n > len(payload) {
			off = len(payload)
			return nil
		}
		b := payload[off : off+n]
		off += n
		return b
	}
	takeLenPrefixed := func() []byte {
		lb := take(1)
		if lb == nil {
			return nil
		}
		return take(int(lb[0]))
	}

	c.mutate(func(s *NetworkState) {
		if flags.Has(ChangedRole) {
			if b := take(1); b != nil {
				s.Role = Role(b[0])
			}
		}
		if flags.Has(ChangedExtPanID) {
			if b := take(8); b != nil {
				copy(s.ExtPanID[:], b)
			}
		}
		if flags.Has(ChangedNetworkName) {
			if b := takeLenPrefixed(); b != nil {
				s.NetworkName = string(b)
			}
		}
		if flags.Has(ChangedBackboneState) {
			if b := take(1); b != nil {
				s.BRState = BRState(b[0])
			}
		}
		if flags.Has(ChangedNetworkData) {
			// presence-only signal (spec §4.3 "network data changed");
			// carries no inline fields of its own.
		}
		if flags.Has(ChangedPartitionID) {
			if b := take(4); b != nil {
				s.PartitionID = uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
			}
		}
		if flags.Has(ChangedDomainPrefix) {
			if b := takeLenPrefixed(); b != nil {
				s.DomainPrefix = append([]byte(nil), b...)
			}
		}
		if flags.Has(ChangedOffMeshRoutes) {
			if cntB := take(1); cntB != nil {
				count := int(cntB[0])
				routes := make([]OmrPrefix, 0, count)
				for i := 0; i < count; i++ {
					bitLenB := take(1)
					byteLenB := take(1)
					if bitLenB == nil || byteLenB == nil {
						break
					}
					prefix := take(int(byteLenB[0]))
					routes = append(routes, OmrPrefix{Prefix: append([]byte(nil), prefix...), Length: bitLenB[0]})
				}
				s.OffMeshRoutes = routes
			}
		}
	})
}

// fanOut invokes registered listeners in registration order, each once
// with the whole flags value, and drops a reentrant dispatch of a flags
// value that is already being dispatched (spec invariant I3). It does
// not coalesce separate state changes; each call dispatches at once.
func (c *Controller) fanOut(flags ChangeFlags) {
	if c.dispatching[flags] {
		clog.WithField("flags", flags).Warn("dropped reentrant StateChanged dispatch for identical flag set")
		return
	}
	c.dispatching[flags] = true
	defer delete(c.dispatching, flags)

	c.mu.Lock()
	listeners := append([]Listener(nil), c.listeners...)
	c.mu.Unlock()
	for _, l := range listeners {
		l(flags)
	}
}

// OnStateChanged registers a listener. Listeners fire in registration
// order (spec §5).
func (c *Controller) OnStateChanged(l Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, l)
}

// RegisterResetHandler registers fn to run each time a reset
// completes, so upper layers can re-arm their own handlers (spec §4.3).
func (c *Controller) RegisterResetHandler(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetHandlers = append(c.resetHandlers, fn)
}

// RequestReset marks the stack for re-initialisation and posts reset as
// a timer task, so it runs on the loop thread in the next loop
// iteration.
func (c *Controller) RequestReset() {
	c.mu.Lock()
	c.resetting = true
	c.mu.Unlock()
	c.loop.RequestReset()
	c.loop.PostTimerTask(time.Now(), c.reset)
}

func (c *Controller) IsResetRequested() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resetting
}

// reset fails all pending requests with Canceled, then re-initialises
// the stack and invokes registered reset handlers (spec §4.3: "during
// reset, all pending requests fail with Canceled").
func (c *Controller) reset() {
	c.mu.Lock()
	pending := c.pending
	c.pending = map[uuid.UUID]*pendingRequest{}
	c.resetting = false
	c.lifecycle = Offline
	handlers := append([]func(){}, c.resetHandlers...)
	c.mu.Unlock()

	for _, p := range pending {
		p.cb(nil, errclass.New("ncp.reset", errclass.Canceled, nil))
	}

	clog.Info("NCP reset completing, re-arming handlers")
	for _, h := range handlers {
		h()
	}
}

// Reset is the synchronous equivalent of RequestReset: it runs reset on
// the calling goroutine. Tests use it.
func (c *Controller) Reset() { c.reset() }

// issueAsync sends a request frame and arranges for cb to run on the
// loop thread when the reply (or the request's own timeout) arrives
// (spec §4.3/§5: "request issued now, completion scheduled later on
// the loop"). It never blocks, so it is safe to call from the loop
// thread itself -- e.g. from within a StateChanged listener.
func (c *Controller) issueAsync(op string, header byte, propID uint32, payload []byte, cb func(Value, error)) {
	id := uuid.New()
	idBytes, _ := id.MarshalBinary()
	body := append(idBytes, payload...)

	req := &pendingRequest{cb: cb}

	c.mu.Lock()
	c.pending[id] = req
	c.mu.Unlock()

	req.timer = c.loop.PostTimerTask(time.Now().Add(c.requestTimeout), func() {
		c.mu.Lock()
		_, stillPending := c.pending[id]
		delete(c.pending, id)
		c.mu.Unlock()
		if stillPending {
			cb(nil, errclass.New(op, errclass.Timeout, nil))
		}
	})

	if err := c.transport.Send(Frame{Header: header, ID: propID, Payload: body}); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		cb(nil, err)
		return
	}
}

// issue is the blocking convenience built on issueAsync: it parks the
// calling goroutine on a channel until cb fires. It must only be
// called off the loop thread (e.g. by IPC, which runs on its own
// caller's goroutine) -- calling it from the loop thread deadlocks,
// since the reply can only be delivered by a future task scheduled on
// that same thread.
func (c *Controller) issue(op string, header byte, propID uint32, payload []byte) (Value, error) {
	reply := make(chan result, 1)
	c.issueAsync(op, header, propID, payload, func(v Value, err error) {
		reply <- result{value: v, err: err}
	})
	r := <-reply
	return r.value, r.err
}

const (
	cmdGet byte = iota + 0x10
	cmdSet
	cmdInsert
	cmdRemove
)

// GetProperty issues a typed get request and blocks the calling
// goroutine until the reply completion runs on the loop thread (spec
// §4.3). Callers must be off the loop thread -- this is for IPC and
// other external-facing callers, never for code invoked from a
// StateChanged listener or a posted timer task.
func (c *Controller) GetProperty(propID uint32) (Value, error) {
	return c.issue("get_property", cmdGet, propID, nil)
}

// SetProperty blocks like GetProperty; see its doc for the off-loop
// constraint.
func (c *Controller) SetProperty(propID uint32, v Value) error {
	_, err := c.issue("set_property", cmdSet, propID, v)
	return err
}

// InsertProperty blocks like GetProperty; see its doc for the
// off-loop constraint.
func (c *Controller) InsertProperty(propID uint32, v Value) error {
	_, err := c.issue("insert_property", cmdInsert, propID, v)
	return err
}

// RemoveProperty blocks like GetProperty; see its doc for the
// off-loop constraint.
func (c *Controller) RemoveProperty(propID uint32, v Value) error {
	_, err := c.issue("remove_property", cmdRemove, propID, v)
	return err
}

// State returns a snapshot of NetworkState, safe to read without
// racing the dispatch loop's in-place mutation.
func (c *Controller) State() NetworkState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Clone()
}

// mutate applies fn to NetworkState under the controller's lock; used
// by the platform shim and by tests that need to simulate a decoded
// notification without round-tripping real frame bytes.
func (c *Controller) mutate(fn func(*NetworkState)) {
	c.mu.Lock()
	fn(&c.state)
	c.mu.Unlock()
}

// SimulateStateChange applies a state mutation and fans out flags
// without decoding a frame; tests use it to synthesise a notification.
// Real notification frames go through handleNotification instead.
func (c *Controller) SimulateStateChange(flags ChangeFlags, fn func(*NetworkState)) {
	c.mutate(fn)
	c.fanOut(flags)
}

// Lifecycle returns the controller's own NCP lifecycle state (spec
// §4.3's Uninitialized/Offline/Associating/... machine), distinct from
// the Thread role carried in NetworkState.
func (c *Controller) Lifecycle() LifecycleState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lifecycle
}

func (c *Controller) setLifecycle(s LifecycleState) {
	c.mu.Lock()
	c.lifecycle = s
	c.mu.Unlock()
}
