// Package loop implements the core's single-threaded cooperative event
// loop and timer wheel (spec §4.1). Every component that wants fd
// readiness or deferred calls registers against this package; nothing
// outside of Run ever blocks on I/O.
package loop

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/openthread/otbr-agent-go/internal/logging"
)

var log = logging.For("loop")

// platformCap bounds the wait so the loop periodically re-evaluates
// readiness even with no registered timers (spec §4.1 step 2).
const platformCap = 10 * time.Second

// thrashLimit is the number of consecutive zero-timeout iterations
// that are tolerated before the loop gives up and crashes (spec §4.1).
const thrashLimit = 1000

// clampThreshold is the number of consecutive zero-timeout iterations
// after which the minimum wait is clamped up, to keep a buggy component
// from spinning the CPU at 100% without tripping the hard thrash limit.
const clampThreshold = 200

const clampedMinWait = 10 * time.Millisecond

// Reason is returned by Run to explain why it stopped.
type Reason int

const (
	ReasonTerminated Reason = iota
	ReasonThrash
)

func (r Reason) String() string {
	if r == ReasonThrash {
		return "main-loop thrashing"
	}
	return "terminated"
}

// FDWaiter is implemented by any component that wants to be polled for
// readiness. Interest() returns the fd (or -1 if none right now) and
// the poll event mask; OnReadiness is invoked when that mask matches.
type FDWaiter interface {
	// Interest returns the fd to poll and the requested event mask, or
	// fd < 0 if this component currently has nothing to wait on.
	Interest() (fd int, events uint32)
	// OnReadiness is called with the events that were actually ready.
	OnReadiness(events uint32)
}

// timerTask is an internal timer-wheel entry (spec §3 TimerTask).
type timerTask struct {
	fire   time.Time
	seq    uint64 // insertion order, for equal-fire-time FIFO (spec §5)
	action func()
	index  int // heap index, maintained by container/heap
	cancel bool
}

type timerHeap []*timerTask

func (h timerHeap) Len() int { return len(h) }
func (h timerHeap) Less(i, j int) bool {
	if h[i].fire.Equal(h[j].fire) {
		return h[i].seq < h[j].seq
	}
	return h[i].fire.Before(h[j].fire)
}
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *timerHeap) Push(x any) {
	t := x.(*timerTask)
	t.index = len(*h)
	*h = append(*h, t)
}
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

// Timer is the cancellation handle returned by PostTimerTask.
type Timer struct {
	task *timerTask
}

// Loop is the event loop and timer wheel described in spec §4.1.
// Safe to use only from the goroutine that calls Run; registration
// methods (Register/PostTimerTask/Cancel) may be called
// from that same goroutine, including from within a timer action or
// readiness callback.
type Loop struct {
	mu sync.Mutex // guards timers; waiters/order are loop-thread-only

	waiters []FDWaiter
	order   []string // fixed dispatch order labels, for documentation/tests

	timers    timerHeap
	timerSeq  uint64
	pollFD    int
	resetCh   chan struct{}
	terminate bool

	zeroTimeoutStreak int
}

// New creates a Loop backed by an epoll instance.
func New() (*Loop, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &Loop{pollFD: fd, resetCh: make(chan struct{}, 1)}, nil
}

// Register adds a component to the fixed dispatch order. Per spec
// §4.1 the order is: NCP transport, backbone, mDNS, SRP/discovery
// proxies, IPC -- callers are expected to Register in that order;
// the loop does not reorder on their behalf.
func (l *Loop) Register(name string, w FDWaiter) {
	l.waiters = append(l.waiters, w)
	l.order = append(l.order, name)
}

// PostTimerTask schedules action to run on the loop thread at or after
// deadline (spec: NCP controller's post_timer_task).
func (l *Loop) PostTimerTask(deadline time.Time, action func()) *Timer {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.timerSeq++
	t := &timerTask{fire: deadline, seq: l.timerSeq, action: action}
	heap.Push(&l.timers, t)
	return &Timer{task: t}
}

// Cancel removes a timer task. If it has already fired this is a
// no-op; if it has not, its action never runs (spec invariant I4).
func (l *Loop) Cancel(t *Timer) {
	if t == nil || t.task == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	t.task.cancel = true
	if t.task.index >= 0 && t.task.index < len(l.timers) {
		heap.Remove(&l.timers, t.task.index)
	}
}

// RequestReset signals that a reset was requested. Run drains the
// signal at the end of the current iteration, logs it, and goes on with
// the next iteration; Run does not return for it and cancels no work.
func (l *Loop) RequestReset() {
	select {
	case l.resetCh <- struct{}{}:
	default:
	}
}

// Terminate sets the flag Run polls between iterations, modelling a
// SIGTERM-equivalent signal.
func (l *Loop) Terminate() {
	l.mu.Lock()
	l.terminate = true
	l.mu.Unlock()
}

func (l *Loop) terminated() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.terminate
}

// dueTimers pops and returns every uncancelled timer whose fire time is
// at or before now, in fire-time order with insertion order breaking
// ties (spec step 4). nextWait computes the step 2 wait bound.
func (l *Loop) dueTimers(now time.Time) []*timerTask {
	l.mu.Lock()
	defer l.mu.Unlock()
	var due []*timerTask
	for len(l.timers) > 0 && !l.timers[0].fire.After(now) {
		t := heap.Pop(&l.timers).(*timerTask)
		if !t.cancel {
			due = append(due, t)
		}
	}
	return due
}

func (l *Loop) nextWait(now time.Time) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	wait := platformCap
	if len(l.timers) > 0 {
		if d := l.timers[0].fire.Sub(now); d < wait {
			wait = d
		}
	}
	if wait < 0 {
		wait = 0
	}
	return wait
}

// Run executes the loop until Terminate is called, ctx is cancelled
// (treated the same as Terminate), or the thrash guard trips. A
// pending reset request is drained and logged at the end of an
// iteration and the loop continues.
func (l *Loop) Run(ctx context.Context) Reason {
	for {
		if l.terminated() {
			return ReasonTerminated
		}
		select {
		case <-ctx.Done():
			return ReasonTerminated
		default:
		}

		now := time.Now()
		wait := l.nextWait(now)

		if wait == 0 {
			l.zeroTimeoutStreak++
			if l.zeroTimeoutStreak >= thrashLimit {
				log.Error("main-loop thrashing: exceeded consecutive zero-timeout iteration limit")
				return ReasonThrash
			}
			if l.zeroTimeoutStreak >= clampThreshold {
				wait = clampedMinWait
			}
		} else {
			l.zeroTimeoutStreak = 0
		}

		l.blockOnReadiness(wait)

		for _, t := range l.dueTimers(time.Now()) {
			t.action()
		}

		select {
		case <-l.resetCh:
			log.Info("event loop re-entering after reset request")
		default:
		}
	}
}

// blockOnReadiness is the loop's single suspension point (spec §5).
func (l *Loop) blockOnReadiness(wait time.Duration) {
	events := make([]unix.EpollEvent, len(l.waiters)+1)
	var fdOwner = map[int]FDWaiter{}
	for _, w := range l.waiters {
		fd, mask := w.Interest()
		if fd < 0 {
			continue
		}
		fdOwner[fd] = w
		_ = unix.EpollCtl(l.pollFD, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{Fd: int32(fd), Events: mask})
	}

	timeoutMS := int(wait / time.Millisecond)
	n, err := unix.EpollWait(l.pollFD, events, timeoutMS)

	for fd := range fdOwner {
		_ = unix.EpollCtl(l.pollFD, unix.EPOLL_CTL_DEL, fd, nil)
	}

	if err != nil || n <= 0 {
		return
	}

	// Dispatch in the fixed registration order (spec §4.1 step 5),
	// not in whatever order epoll happened to return events.
	ready := map[int]uint32{}
	for i := 0; i < n; i++ {
		ready[int(events[i].Fd)] = uint32(events[i].Events)
	}
	for _, w := range l.waiters {
		fd, _ := w.Interest()
		if fd < 0 {
			continue
		}
		if ev, ok := ready[fd]; ok {
			w.OnReadiness(ev)
		}
	}
}

// Close releases the epoll instance.
func (l *Loop) Close() error {
	return unix.Close(l.pollFD)
}
