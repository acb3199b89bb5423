package core

import (
	"sync"
	"sync/atomic"

	"github.com/Skryldev/image-loader/config"
)

// Scheduler owns all fetch and decode admission state.  Every counter and
// queue below the "run-loop state" marker is touched only by the single
// run-loop goroutine, so the bookkeeping itself needs no locking; submissions
// and completions from other goroutines are marshalled onto the loop.
//
// Fetch-task starts and decode-job starts are only ever decided inside one
// reconciliation pass, and no two passes run concurrently.
type Scheduler struct {
	maxLoading     int
	maxDecoding    int
	maxDecodeBytes int64

	logger  Logger
	metrics MetricsCollector

	// Serialized executor.  The mutex only linearizes the handoff of
	// queued closures; it is never held while one runs.
	mu    sync.Mutex
	queue []func()
	wake  chan struct{}
	done  chan struct{}
	stop  sync.Once

	// Run-loop state.
	tasks            []*FetchTask
	activeFetches    int
	scheduledDecodes int
	activeDecodes    int
	reservedBytes    int64
	pendingDecodes   []*decodeJob
	nextTaskID       uint64
}

// NewScheduler starts the run loop.  Call Stop when done.
func NewScheduler(cfg config.Config, logger Logger, metrics MetricsCollector) *Scheduler {
	if logger == nil {
		logger = NopLogger{}
	}
	s := &Scheduler{
		maxLoading:     cfg.MaxConcurrentLoadingTasks,
		maxDecoding:    cfg.MaxConcurrentDecodingTasks,
		maxDecodeBytes: cfg.MaxConcurrentDecodingBytes,
		logger:         logger,
		metrics:        metrics,
		wake:           make(chan struct{}, 1),
		done:           make(chan struct{}),
	}
	go s.loop()
	return s
}

// Stop shuts down the run loop.  Closures still queued are dropped.
func (s *Scheduler) Stop() {
	s.stop.Do(func() { close(s.done) })
}

// do marshals fn onto the run loop.  Never blocks, so it is safe to call from
// within a closure already running on the loop.
func (s *Scheduler) do(fn func()) {
	s.mu.Lock()
	s.queue = append(s.queue, fn)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) loop() {
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}
		for {
			s.mu.Lock()
			if len(s.queue) == 0 {
				s.mu.Unlock()
				break
			}
			fn := s.queue[0]
			s.queue[0] = nil
			s.queue = s.queue[1:]
			s.mu.Unlock()

			select {
			case <-s.done:
				return
			default:
			}
			fn()
		}
	}
}

// ── Fetch tasks ───────────────────────────────────────────────────────────────

// FetchTask is a handle on one queued or in-flight fetch.  Its state moves
// Pending → InProgress → Finished, monotonically.
type FetchTask struct {
	id    uint64
	sched *Scheduler
	state atomic.Int32

	// start is invoked on the run loop when the task is admitted; it kicks
	// off the fetch and returns the transport-level cancel.  The task must
	// call the provided done func exactly once when the fetch completes.
	start func(done func()) CancelFunc

	// Loop-owned fields.
	cancel  CancelFunc
	counted bool // holds a fetch slot
	grace   bool // newly started; exempt from the next orphan sweep
}

// State returns the task's current state.  Safe from any goroutine.
func (t *FetchTask) State() TaskState { return TaskState(t.state.Load()) }

// Cancel marks the task for removal and invokes the transport-level cancel.
// The next reconciliation sweep reclaims its slot.  Safe to call repeatedly.
func (t *FetchTask) Cancel() {
	s := t.sched
	s.do(func() {
		if t.State() == TaskStateFinished {
			return
		}
		c := t.cancel
		t.cancel = nil
		t.state.Store(int32(TaskStateFinished))
		if c != nil {
			c()
		}
		s.reschedule()
	})
}

// SubmitFetch enqueues a fetch task.  start runs on the scheduling loop once
// the task is admitted under the loading limit.
func (s *Scheduler) SubmitFetch(start func(done func()) CancelFunc) *FetchTask {
	t := &FetchTask{sched: s, start: start}
	s.do(func() {
		t.id = s.nextTaskID
		s.nextTaskID++
		s.tasks = append(s.tasks, t)
		s.reschedule()
	})
	return t
}

func (t *FetchTask) doneFunc() func() {
	s := t.sched
	return func() {
		s.do(func() {
			if t.State() == TaskStateFinished {
				return
			}
			t.state.Store(int32(TaskStateFinished))
			t.cancel = nil
			s.reschedule()
		})
	}
}

// ── Decode jobs ───────────────────────────────────────────────────────────────

type decodeJob struct {
	cost      int64
	run       func(release func())
	queued    bool
	cancelled bool
}

// SubmitDecode admits a decode job against the concurrent-count and
// decoded-byte budgets.  A job submitted while no decode is active is always
// admitted, even when its cost alone exceeds the byte budget, so oversized
// jobs cannot starve.  run executes on its own goroutine and must call
// release exactly once (typically deferred) when the decode finishes,
// regardless of success, failure or cancellation.
//
// The returned cancel func withdraws the job if it is still queued; a running
// job observes cancellation through its request token and still releases its
// reservation on exit.
func (s *Scheduler) SubmitDecode(cost int64, run func(release func())) CancelFunc {
	j := &decodeJob{cost: cost, run: run}
	s.do(func() {
		s.scheduledDecodes++
		if s.admitDecode(j) {
			s.startDecode(j)
		} else {
			j.queued = true
			s.pendingDecodes = append(s.pendingDecodes, j)
		}
		s.reschedule()
	})
	return func() {
		s.do(func() {
			if j.cancelled || !j.queued {
				return
			}
			j.cancelled = true
			j.queued = false
			for i, q := range s.pendingDecodes {
				if q == j {
					s.pendingDecodes = append(s.pendingDecodes[:i], s.pendingDecodes[i+1:]...)
					break
				}
			}
			s.scheduledDecodes--
			s.reschedule()
		})
	}
}

func (s *Scheduler) admitDecode(j *decodeJob) bool {
	if s.activeDecodes == 0 {
		return true
	}
	return s.activeDecodes < s.maxDecoding && s.reservedBytes+j.cost <= s.maxDecodeBytes
}

func (s *Scheduler) startDecode(j *decodeJob) {
	j.queued = false
	s.activeDecodes++
	s.reservedBytes += j.cost
	if s.metrics != nil {
		s.metrics.RecordDecodeBytes(j.cost)
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			s.do(func() {
				s.activeDecodes--
				s.reservedBytes -= j.cost
				s.scheduledDecodes--
				s.reschedule()
			})
		})
	}
	// Decode is CPU/memory heavy; it must not run on the scheduling loop.
	go j.run(release)
}

// ── Reconciliation ────────────────────────────────────────────────────────────

// reschedule is the single serialized reconciliation pass.  It runs after
// every state change and is idempotent: with no state change it is a no-op.
func (s *Scheduler) reschedule() {
	// 1. Sweep finished and orphaned tasks, reclaiming their slots.
	kept := s.tasks[:0]
	for _, t := range s.tasks {
		switch {
		case t.State() == TaskStateFinished:
			s.releaseTaskSlot(t)
		case t.State() == TaskStateInProgress && t.cancel == nil:
			if t.grace {
				// Started during the previous pass; its cancel
				// handle or completion may still be in flight.
				t.grace = false
				kept = append(kept, t)
				continue
			}
			s.logger.Warn("fetch.orphaned_task_removed", "task_id", t.id)
			if s.metrics != nil {
				s.metrics.RecordError("fetch", "orphaned")
			}
			t.state.Store(int32(TaskStateFinished))
			s.releaseTaskSlot(t)
		default:
			kept = append(kept, t)
		}
	}
	for i := len(kept); i < len(s.tasks); i++ {
		s.tasks[i] = nil
	}
	s.tasks = kept

	// 2. Drain queued decode jobs while the admission test passes.  Freed
	// fetch slots and freed decode budget are re-evaluated in one pass.
	for len(s.pendingDecodes) > 0 && s.admitDecode(s.pendingDecodes[0]) {
		j := s.pendingDecodes[0]
		s.pendingDecodes[0] = nil
		s.pendingDecodes = s.pendingDecodes[1:]
		s.startDecode(j)
	}

	// 3. Start queued fetches.  Scheduled decodes count against the
	// loading limit: a fetch completion turning into a decode keeps its
	// admission slot until the decode drains.
	for _, t := range s.tasks {
		if s.activeFetches >= s.maxLoading || s.scheduledDecodes >= s.maxLoading {
			break
		}
		if t.State() != TaskStatePending {
			continue
		}
		t.state.Store(int32(TaskStateInProgress))
		t.counted = true
		t.grace = true
		s.activeFetches++
		t.cancel = t.start(t.doneFunc())
	}
}

func (s *Scheduler) releaseTaskSlot(t *FetchTask) {
	if t.counted {
		t.counted = false
		s.activeFetches--
	}
}

// ── Introspection ─────────────────────────────────────────────────────────────

// Snapshot is a read-only view of the scheduler's counters, taken on the run
// loop so it is internally consistent.
type Snapshot struct {
	QueuedFetches    int
	ActiveFetches    int
	ScheduledDecodes int
	ActiveDecodes    int
	QueuedDecodes    int
	ReservedBytes    int64
}

// Snapshot returns current counter values.  Blocks until the loop takes the
// snapshot; returns the zero value if the scheduler is stopped.
func (s *Scheduler) Snapshot() Snapshot {
	ch := make(chan Snapshot, 1)
	s.do(func() {
		pending := 0
		for _, t := range s.tasks {
			if t.State() == TaskStatePending {
				pending++
			}
		}
		ch <- Snapshot{
			QueuedFetches:    pending,
			ActiveFetches:    s.activeFetches,
			ScheduledDecodes: s.scheduledDecodes,
			ActiveDecodes:    s.activeDecodes,
			QueuedDecodes:    len(s.pendingDecodes),
			ReservedBytes:    s.reservedBytes,
		}
	})
	select {
	case snap := <-ch:
		return snap
	case <-s.done:
		return Snapshot{}
	}
}
