package core

import (
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/Skryldev/image-loader/config"
)

func newTestScheduler(t *testing.T, loading, decoding int, decodeBytes int64) *Scheduler {
	t.Helper()
	cfg := config.Default()
	cfg.MaxConcurrentLoadingTasks = loading
	cfg.MaxConcurrentDecodingTasks = decoding
	cfg.MaxConcurrentDecodingBytes = decodeBytes
	s := NewScheduler(cfg, nil, nil)
	t.Cleanup(s.Stop)
	return s
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// blockingFetch submits a fetch whose completion is under test control.
func blockingFetch(s *Scheduler) (task *FetchTask, finish func()) {
	var (
		mu   sync.Mutex
		done func()
	)
	release := make(chan struct{})
	task = s.SubmitFetch(func(d func()) CancelFunc {
		mu.Lock()
		done = d
		mu.Unlock()
		go func() {
			<-release
			mu.Lock()
			d := done
			mu.Unlock()
			d()
		}()
		return func() {}
	})
	var once sync.Once
	return task, func() { once.Do(func() { close(release) }) }
}

func TestFetchConcurrencyLimit(t *testing.T) {
	const limit = 2
	s := newTestScheduler(t, limit, 2, 1<<20)

	var finishers []func()
	for i := 0; i < 6; i++ {
		_, finish := blockingFetch(s)
		finishers = append(finishers, finish)
	}

	waitFor(t, "first two tasks to start", func() bool {
		snap := s.Snapshot()
		return snap.ActiveFetches == limit && snap.QueuedFetches == 4
	})

	// Never more than the limit in progress, and freed slots are reused.
	for i := 0; i < 6; i++ {
		if snap := s.Snapshot(); snap.ActiveFetches > limit {
			t.Fatalf("observed %d active fetches, limit %d", snap.ActiveFetches, limit)
		}
		finishers[i]()
		remaining := 6 - i - 1
		waitFor(t, "slot reuse", func() bool {
			snap := s.Snapshot()
			want := limit
			if remaining < limit {
				want = remaining
			}
			return snap.ActiveFetches == want
		})
	}

	want := Snapshot{}
	if diff := cmp.Diff(want, s.Snapshot()); diff != "" {
		t.Errorf("scheduler not drained (-want +got):\n%s", diff)
	}
}

// blockingDecode submits a decode job that runs until released.
func blockingDecode(s *Scheduler, cost int64) (cancel CancelFunc, finish func()) {
	release := make(chan struct{})
	cancel = s.SubmitDecode(cost, func(rel func()) {
		defer rel()
		<-release
	})
	var once sync.Once
	return cancel, func() { once.Do(func() { close(release) }) }
}

func TestDecodeByteBudget(t *testing.T) {
	s := newTestScheduler(t, 4, 2, 40000)

	_, finish1 := blockingDecode(s, 40000)
	waitFor(t, "first decode to start", func() bool {
		snap := s.Snapshot()
		return snap.ActiveDecodes == 1 && snap.ReservedBytes == 40000
	})

	// An identical second job exceeds the budget and must queue.
	_, finish2 := blockingDecode(s, 40000)
	waitFor(t, "second decode to queue", func() bool {
		return s.Snapshot().QueuedDecodes == 1
	})
	if snap := s.Snapshot(); snap.ActiveDecodes != 1 {
		t.Fatalf("second decode started while budget was full: %+v", snap)
	}

	finish1()
	waitFor(t, "second decode to start", func() bool {
		snap := s.Snapshot()
		return snap.ActiveDecodes == 1 && snap.QueuedDecodes == 0
	})

	finish2()
	waitFor(t, "budget fully released", func() bool {
		snap := s.Snapshot()
		return snap.ActiveDecodes == 0 && snap.ReservedBytes == 0 && snap.ScheduledDecodes == 0
	})
}

func TestOversizedLoneDecodeAdmitted(t *testing.T) {
	s := newTestScheduler(t, 4, 2, 1000)

	// Cost alone exceeds the whole budget; with no decode active it must
	// still run.
	_, finish := blockingDecode(s, 50000)
	waitFor(t, "oversized decode to start", func() bool {
		snap := s.Snapshot()
		return snap.ActiveDecodes == 1 && snap.ReservedBytes == 50000
	})
	finish()
	waitFor(t, "release", func() bool { return s.Snapshot().ReservedBytes == 0 })
}

func TestDecodeCountLimit(t *testing.T) {
	s := newTestScheduler(t, 4, 2, 1<<30)

	var finishers []func()
	for i := 0; i < 3; i++ {
		_, finish := blockingDecode(s, 100)
		finishers = append(finishers, finish)
	}
	waitFor(t, "two decodes active, one queued", func() bool {
		snap := s.Snapshot()
		return snap.ActiveDecodes == 2 && snap.QueuedDecodes == 1
	})

	finishers[0]()
	waitFor(t, "queued decode promoted", func() bool {
		snap := s.Snapshot()
		return snap.ActiveDecodes == 2 && snap.QueuedDecodes == 0
	})
	finishers[1]()
	finishers[2]()
	waitFor(t, "drained", func() bool { return s.Snapshot().ScheduledDecodes == 0 })
}

func TestCancelQueuedDecodeReleasesSlot(t *testing.T) {
	s := newTestScheduler(t, 4, 1, 1<<30)

	_, finish := blockingDecode(s, 100)
	waitFor(t, "first decode active", func() bool { return s.Snapshot().ActiveDecodes == 1 })

	cancel, _ := blockingDecode(s, 100)
	waitFor(t, "second decode queued", func() bool { return s.Snapshot().QueuedDecodes == 1 })

	cancel()
	waitFor(t, "queued decode withdrawn", func() bool {
		snap := s.Snapshot()
		return snap.QueuedDecodes == 0 && snap.ScheduledDecodes == 1
	})
	finish()
	waitFor(t, "drained", func() bool { return s.Snapshot().ScheduledDecodes == 0 })
}

func TestDecodeReleaseIdempotent(t *testing.T) {
	s := newTestScheduler(t, 4, 2, 1<<30)

	ran := make(chan struct{})
	s.SubmitDecode(100, func(release func()) {
		release()
		release() // second call must be a no-op
		close(ran)
	})
	<-ran
	waitFor(t, "counters settled", func() bool {
		snap := s.Snapshot()
		return snap.ScheduledDecodes == 0 && snap.ActiveDecodes == 0 && snap.ReservedBytes == 0
	})
}

func TestScheduledDecodesBlockFetchStarts(t *testing.T) {
	// With the loading limit shared between fetch starts and in-flight
	// decodes, a saturated decode stage must hold back new fetches.
	s := newTestScheduler(t, 1, 4, 1<<30)

	_, finishDecode := blockingDecode(s, 100)
	waitFor(t, "decode active", func() bool { return s.Snapshot().ScheduledDecodes == 1 })

	_, finishFetch := blockingFetch(s)
	// The fetch must stay queued while a decode occupies the admission slot.
	time.Sleep(20 * time.Millisecond)
	if snap := s.Snapshot(); snap.ActiveFetches != 0 || snap.QueuedFetches != 1 {
		t.Fatalf("fetch admitted despite saturated decode stage: %+v", snap)
	}

	finishDecode()
	waitFor(t, "fetch admitted after decode drained", func() bool {
		return s.Snapshot().ActiveFetches == 1
	})
	finishFetch()
	waitFor(t, "drained", func() bool { return s.Snapshot().ActiveFetches == 0 })
}

func TestCancelledFetchReclaimsSlot(t *testing.T) {
	s := newTestScheduler(t, 1, 2, 1<<30)

	task1, _ := blockingFetch(s)
	waitFor(t, "first fetch active", func() bool { return s.Snapshot().ActiveFetches == 1 })

	_, finish2 := blockingFetch(s)
	waitFor(t, "second fetch queued", func() bool { return s.Snapshot().QueuedFetches == 1 })

	task1.Cancel()
	waitFor(t, "queued fetch promoted", func() bool {
		snap := s.Snapshot()
		return snap.ActiveFetches == 1 && snap.QueuedFetches == 0
	})
	if task1.State() != TaskStateFinished {
		t.Error("cancelled task should be finished")
	}
	task1.Cancel() // repeat cancel is a safe no-op

	finish2()
	waitFor(t, "drained", func() bool { return s.Snapshot().ActiveFetches == 0 })
}

func TestOrphanedFetchReclaimed(t *testing.T) {
	warns := &warnCounter{}
	cfg := config.Default()
	cfg.MaxConcurrentLoadingTasks = 1
	s := NewScheduler(cfg, warns, nil)
	t.Cleanup(s.Stop)

	// A task that returns no cancel handle and never completes is stuck
	// InProgress; the sweep must treat it as finished so the pipeline does
	// not deadlock.
	s.SubmitFetch(func(done func()) CancelFunc { return nil })
	waitFor(t, "orphan to start", func() bool { return s.Snapshot().ActiveFetches == 1 })

	// Later submissions drive reconciliation passes past the orphan's
	// grace period.
	_, finish := blockingFetch(s)
	_, finish2 := blockingFetch(s)

	waitFor(t, "orphan swept and successor started", func() bool {
		snap := s.Snapshot()
		return snap.ActiveFetches == 1 && warns.count() > 0
	})
	finish()
	finish2()
	waitFor(t, "drained", func() bool { return s.Snapshot().ActiveFetches == 0 })
}
