package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lanesync/lanesync/internal/gateway"
)

func newIdleHeartbeat(gw gateway.Gateway, status *Status, processor *Processor) *Heartbeat {
	// Long intervals so only explicit triggers drive the test.
	return NewHeartbeat(gw, processor, nil, status, nil, HeartbeatConfig{
		ProbeInterval:    time.Hour,
		SyncInterval:     time.Hour,
		OfflineThreshold: 3,
		Logger:           quietLogger(),
	})
}

func TestProbeDebouncesOffline(t *testing.T) {
	reachable := atomic.Bool{}
	gw := &fakeGateway{probe: func() bool { return reachable.Load() }}
	status := NewStatus()
	h := newIdleHeartbeat(gw, status, nil)

	ctx := context.Background()

	// Start online.
	reachable.Store(true)
	h.probe(ctx)
	if !status.Snapshot().Online {
		t.Fatal("should be online after successful probe")
	}

	// Two failures: still online (threshold is 3).
	reachable.Store(false)
	h.probe(ctx)
	h.probe(ctx)
	if snap := status.Snapshot(); !snap.Online {
		t.Errorf("flipped offline after %d failures, threshold is 3", snap.ConsecutiveFailures)
	}

	// Third failure crosses the threshold.
	h.probe(ctx)
	if status.Snapshot().Online {
		t.Error("should be offline after 3 consecutive failures")
	}

	// One success recovers immediately and resets the counter.
	reachable.Store(true)
	h.probe(ctx)
	snap := status.Snapshot()
	if !snap.Online || snap.ConsecutiveFailures != 0 {
		t.Errorf("recovery snapshot = %+v, want online with zero failures", snap)
	}
}

func TestSyncCycleSkippedWhileInFlight(t *testing.T) {
	release := make(chan struct{})
	var polls atomic.Int32
	gw := &fakeGateway{pollChangeCount: func() (int, error) {
		polls.Add(1)
		<-release
		return 0, nil
	}}

	status := NewStatus()
	registry := NewRegistry()
	p := NewProcessor(registry, gw, nil, ProcessorConfig{Logger: quietLogger()})
	h := newIdleHeartbeat(gw, status, p)

	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.runCycle(ctx)
	}()

	// Wait until the first cycle is blocked inside the poll.
	deadline := time.Now().Add(2 * time.Second)
	for polls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if polls.Load() == 0 {
		t.Fatal("first cycle never started")
	}

	// A tick landing now must be skipped, not queued.
	h.runCycle(ctx)
	if got := polls.Load(); got != 1 {
		t.Errorf("second cycle ran concurrently: polls = %d, want 1", got)
	}

	close(release)
	wg.Wait()
}

func TestDownloadUpdatesEnqueuesChanges(t *testing.T) {
	changes := []gateway.Change{
		{EntityType: "item", EntityID: "1", Timestamp: time.Now()},
		{EntityType: "item", EntityID: "2", Timestamp: time.Now()},
	}
	gw := &fakeGateway{
		pollChangeCount: func() (int, error) { return len(changes), nil },
		fetchChanges:    func() ([]gateway.Change, error) { return changes, nil },
	}

	registry := NewRegistry()
	var mu sync.Mutex
	var applied []string
	registry.Register("item", func(_ context.Context, c gateway.Change) error {
		mu.Lock()
		applied = append(applied, c.EntityID)
		mu.Unlock()
		return nil
	})

	p := NewProcessor(registry, gw, nil, ProcessorConfig{Logger: quietLogger()})
	stop := startProcessor(t, p)
	defer stop()

	h := newIdleHeartbeat(gw, NewStatus(), p)
	if err := h.downloadUpdates(context.Background()); err != nil {
		t.Fatalf("downloadUpdates() failed: %v", err)
	}

	waitForAcks(t, gw, 2)
	mu.Lock()
	defer mu.Unlock()
	if len(applied) != 2 || applied[0] != "1" || applied[1] != "2" {
		t.Errorf("applied = %v, want [1 2] in order", applied)
	}
}

func TestDownloadUpdatesSkipsFetchWhenCountZero(t *testing.T) {
	var fetched atomic.Bool
	gw := &fakeGateway{
		pollChangeCount: func() (int, error) { return 0, nil },
		fetchChanges: func() ([]gateway.Change, error) {
			fetched.Store(true)
			return nil, nil
		},
	}

	h := newIdleHeartbeat(gw, NewStatus(), NewProcessor(NewRegistry(), gw, nil, ProcessorConfig{Logger: quietLogger()}))
	if err := h.downloadUpdates(context.Background()); err != nil {
		t.Fatalf("downloadUpdates() failed: %v", err)
	}
	if fetched.Load() {
		t.Error("FetchChanges should not be called when the count is zero")
	}
}

func TestHeartbeatLifecycle(t *testing.T) {
	gw := &fakeGateway{}
	h := newIdleHeartbeat(gw, NewStatus(), NewProcessor(NewRegistry(), gw, nil, ProcessorConfig{Logger: quietLogger()}))

	if h.Running() {
		t.Fatal("scheduler should start stopped")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = h.Run(ctx)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for !h.Running() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if !h.Running() {
		t.Fatal("scheduler never reached running state")
	}

	cancel()
	<-done
	if h.Running() {
		t.Error("scheduler should be stopped after Run returns")
	}
}
