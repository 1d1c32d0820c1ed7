package engine

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lanesync/lanesync/internal/gateway"
	"github.com/lanesync/lanesync/internal/metrics"
	"github.com/looplab/fsm"
)

// Heartbeat scheduler lifecycle states and events.
const (
	stateStopped = "stopped"
	stateRunning = "running"

	eventStart = "start"
	eventStop  = "stop"
)

// HeartbeatConfig configures the scheduler's two loops.
type HeartbeatConfig struct {
	// ProbeInterval is how often the lightweight connectivity probe
	// runs. Default 15s.
	ProbeInterval time.Duration

	// SyncInterval is how often a sync cycle runs. Default 60s.
	SyncInterval time.Duration

	// OfflineThreshold is the number of consecutive probe failures
	// before the online flag flips off. Default 3.
	OfflineThreshold int

	// Logger for scheduler activity.
	Logger *log.Logger
}

func (c *HeartbeatConfig) withDefaults() {
	if c.ProbeInterval <= 0 {
		c.ProbeInterval = 15 * time.Second
	}
	if c.SyncInterval <= 0 {
		c.SyncInterval = 60 * time.Second
	}
	if c.OfflineThreshold <= 0 {
		c.OfflineThreshold = 3
	}
	if c.Logger == nil {
		c.Logger = log.New(os.Stderr, "[heartbeat] ", log.LstdFlags)
	}
}

// Heartbeat runs the periodic connectivity probe and the periodic sync
// cycle. Offline detection is debounced: a single failed probe never
// flips the online flag; a configurable run of consecutive failures
// does. At most one sync cycle runs at a time; a tick that lands while
// a cycle is in flight is skipped, not queued.
type Heartbeat struct {
	gw        gateway.Gateway
	processor *Processor
	outbound  *Outbound
	status    *Status
	metrics   *metrics.Metrics
	logger    *log.Logger

	mu     sync.Mutex
	config HeartbeatConfig

	lifecycle *fsm.FSM
	failures  atomic.Int32
	syncing   atomic.Bool

	probeNow chan struct{}
	syncNow  chan struct{}
}

// NewHeartbeat creates the scheduler in the stopped state.
func NewHeartbeat(gw gateway.Gateway, processor *Processor, outbound *Outbound, status *Status, m *metrics.Metrics, config HeartbeatConfig) *Heartbeat {
	config.withDefaults()

	h := &Heartbeat{
		gw:        gw,
		processor: processor,
		outbound:  outbound,
		status:    status,
		metrics:   m,
		logger:    config.Logger,
		config:    config,
		probeNow:  make(chan struct{}, 1),
		syncNow:   make(chan struct{}, 1),
	}
	h.lifecycle = fsm.NewFSM(
		stateStopped,
		fsm.Events{
			{Name: eventStart, Src: []string{stateStopped}, Dst: stateRunning},
			{Name: eventStop, Src: []string{stateRunning}, Dst: stateStopped},
		},
		fsm.Callbacks{},
	)
	return h
}

// Running reports whether the scheduler loops are active.
func (h *Heartbeat) Running() bool {
	return h.lifecycle.Current() == stateRunning
}

// SetIntervals applies new intervals from a config reload. Loops pick
// the change up on their next tick reset.
func (h *Heartbeat) SetIntervals(probe, sync time.Duration) {
	h.mu.Lock()
	if probe > 0 {
		h.config.ProbeInterval = probe
	}
	if sync > 0 {
		h.config.SyncInterval = sync
	}
	h.mu.Unlock()
}

func (h *Heartbeat) intervals() (time.Duration, time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.config.ProbeInterval, h.config.SyncInterval
}

// Run drives both loops until ctx is cancelled.
func (h *Heartbeat) Run(ctx context.Context) error {
	if err := h.lifecycle.Event(ctx, eventStart); err != nil {
		return fmt.Errorf("heartbeat already running: %w", err)
	}
	defer func() {
		_ = h.lifecycle.Event(context.Background(), eventStop)
	}()

	probeInterval, syncInterval := h.intervals()
	probeTicker := time.NewTicker(probeInterval)
	defer probeTicker.Stop()
	syncTicker := time.NewTicker(syncInterval)
	defer syncTicker.Stop()

	h.logger.Printf("Scheduler running (probe %s, sync %s)", probeInterval, syncInterval)

	for {
		select {
		case <-ctx.Done():
			h.logger.Printf("Scheduler stopped")
			return ctx.Err()

		case <-probeTicker.C:
			h.probe(ctx)
			if p, _ := h.intervals(); p != probeInterval {
				probeInterval = p
				probeTicker.Reset(probeInterval)
			}

		case <-h.probeNow:
			h.probe(ctx)

		case <-syncTicker.C:
			h.runCycle(ctx)
			if _, s := h.intervals(); s != syncInterval {
				syncInterval = s
				syncTicker.Reset(syncInterval)
			}

		case <-h.syncNow:
			h.runCycle(ctx)
		}
	}
}

// PingNow forces an immediate probe and reports reachability.
func (h *Heartbeat) PingNow(ctx context.Context) bool {
	return h.probe(ctx)
}

// TriggerProbe schedules a probe on the scheduler goroutine without
// waiting for the timer. No-op if one is already scheduled.
func (h *Heartbeat) TriggerProbe() {
	select {
	case h.probeNow <- struct{}{}:
	default:
	}
}

// TriggerSync schedules a sync cycle without waiting for the timer.
func (h *Heartbeat) TriggerSync() {
	select {
	case h.syncNow <- struct{}{}:
	default:
	}
}

// probe runs one connectivity check and updates the debounced online
// flag.
func (h *Heartbeat) probe(ctx context.Context) bool {
	reachable := h.gw.Probe(ctx)
	now := time.Now()

	h.mu.Lock()
	threshold := h.config.OfflineThreshold
	h.mu.Unlock()

	if reachable {
		h.failures.Store(0)
		h.status.recordHeartbeat(true, now)
		h.status.setOnline(true)
		if h.metrics != nil {
			h.metrics.Online.Set(1)
		}
		return true
	}

	failures := h.failures.Add(1)
	h.status.recordHeartbeat(false, now)
	if h.metrics != nil {
		h.metrics.HeartbeatFailures.Inc()
	}
	if int(failures) >= threshold {
		h.status.setOnline(false)
		if h.metrics != nil {
			h.metrics.Online.Set(0)
		}
		if int(failures) == threshold {
			h.logger.Printf("Offline after %d consecutive probe failures", failures)
		}
	}
	return false
}

// runCycle executes one sync cycle unless one is already in flight.
func (h *Heartbeat) runCycle(ctx context.Context) {
	if !h.syncing.CompareAndSwap(false, true) {
		h.logger.Printf("Sync cycle already in progress, skipping tick")
		if h.metrics != nil {
			h.metrics.SyncCyclesSkipped.Inc()
		}
		return
	}
	defer h.syncing.Store(false)

	h.status.setSyncing(true)
	defer h.status.setSyncing(false)

	if h.metrics != nil {
		h.metrics.SyncCycles.Inc()
	}

	// Drain locally queued records first so a long change feed never
	// starves the upload path.
	if h.outbound != nil {
		if err := h.outbound.RunOnce(ctx); err != nil {
			h.logger.Printf("Outbound pass failed: %v", err)
		}
	}

	if err := h.downloadUpdates(ctx); err != nil {
		h.logger.Printf("Download updates failed: %v", err)
		h.status.setLastError(err)
	} else {
		h.status.setLastError(nil)
	}

	h.refreshPendingCount(ctx)
}

// downloadUpdates polls the change-count signal and, when nonzero,
// fetches the waiting notifications and feeds them to the processor.
func (h *Heartbeat) downloadUpdates(ctx context.Context) error {
	count, err := h.gw.PollChangeCount(ctx)
	if err != nil {
		return fmt.Errorf("failed to poll change count: %w", err)
	}
	if count == 0 {
		return nil
	}

	changes, err := h.gw.FetchChanges(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch %d changes: %w", count, err)
	}

	h.logger.Printf("Fetched %d change notifications", len(changes))
	for _, change := range changes {
		if !h.processor.Enqueue(ctx, change) {
			return ctx.Err()
		}
	}
	return nil
}

// refreshPendingCount updates the status with the number of records
// still awaiting transmission.
func (h *Heartbeat) refreshPendingCount(ctx context.Context) {
	if h.outbound == nil {
		return
	}
	count, err := h.outbound.PendingCount(ctx)
	if err != nil {
		h.logger.Printf("Failed to count pending outbound records: %v", err)
		return
	}
	h.status.setPendingOutbound(count)
	if h.metrics != nil {
		h.metrics.PendingOutbound.Set(float64(count))
	}
}
