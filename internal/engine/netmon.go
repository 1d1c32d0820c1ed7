package engine

import (
	"context"
	"log"
	"os"
	"sync/atomic"
	"time"

	"github.com/lanesync/lanesync/internal/gateway"
)

// NetMonitor observes connectivity by polling the gateway probe on a
// short interval and fires a callback on the offline-to-online
// transition so recovery work starts immediately instead of waiting
// for the next scheduled heartbeat or retry tick.
type NetMonitor struct {
	gw       gateway.Gateway
	interval time.Duration
	onOnline func()
	logger   *log.Logger

	online atomic.Bool
}

// NetMonitorConfig configures the monitor.
type NetMonitorConfig struct {
	// Interval between connectivity checks. Default 5s.
	Interval time.Duration

	// OnOnline runs (on the monitor goroutine) each time connectivity
	// is regained after an observed outage.
	OnOnline func()

	// Logger for monitor activity.
	Logger *log.Logger
}

// NewNetMonitor creates the monitor.
func NewNetMonitor(gw gateway.Gateway, config NetMonitorConfig) *NetMonitor {
	if config.Interval <= 0 {
		config.Interval = 5 * time.Second
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[netmon] ", log.LstdFlags)
	}
	return &NetMonitor{
		gw:       gw,
		interval: config.Interval,
		onOnline: config.OnOnline,
		logger:   config.Logger,
	}
}

// Online reports the last observed connectivity state.
func (n *NetMonitor) Online() bool { return n.online.Load() }

// Run polls until ctx is cancelled. The first check seeds the state
// without firing the recovery callback.
func (n *NetMonitor) Run(ctx context.Context) error {
	n.online.Store(n.gw.Probe(ctx))

	ticker := time.NewTicker(n.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			n.check(ctx)
		}
	}
}

// check performs one poll and handles the transition edges.
func (n *NetMonitor) check(ctx context.Context) {
	reachable := n.gw.Probe(ctx)
	was := n.online.Swap(reachable)

	switch {
	case reachable && !was:
		n.logger.Printf("Connectivity regained")
		if n.onOnline != nil {
			n.onOnline()
		}
	case !reachable && was:
		n.logger.Printf("Connectivity lost")
	}
}
