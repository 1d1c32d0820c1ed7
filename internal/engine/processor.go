package engine

import (
	"context"
	"errors"
	"log"
	"os"
	"sync"

	"github.com/lanesync/lanesync/internal/gateway"
	"github.com/lanesync/lanesync/internal/metrics"
)

// Processor is the single sequential consumer of change notifications.
// Notifications are applied strictly in arrival order by one goroutine,
// so two updates to the same entity can never reorder. Every
// notification is acknowledged to the gateway with its outcome, success
// or failure; redelivery is the server's decision.
type Processor struct {
	registry *Registry
	gw       gateway.Gateway
	metrics  *metrics.Metrics
	logger   *log.Logger

	queue      chan gateway.Change
	alertDepth int

	mu   sync.Mutex
	done chan struct{}
}

// ProcessorConfig configures the change processor.
type ProcessorConfig struct {
	// QueueSize is the notification buffer capacity. Default 1024.
	QueueSize int

	// AlertDepth is the queue depth past which enqueues log a warning
	// (backpressure signal). Default half the queue size.
	AlertDepth int

	// Logger for processor activity.
	Logger *log.Logger
}

// NewProcessor creates a processor. Run must be called to start
// consumption.
func NewProcessor(registry *Registry, gw gateway.Gateway, m *metrics.Metrics, config ProcessorConfig) *Processor {
	if config.QueueSize <= 0 {
		config.QueueSize = 1024
	}
	if config.AlertDepth <= 0 {
		config.AlertDepth = config.QueueSize / 2
	}
	logger := config.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[processor] ", log.LstdFlags)
	}

	return &Processor{
		registry:   registry,
		gw:         gw,
		metrics:    m,
		logger:     logger,
		queue:      make(chan gateway.Change, config.QueueSize),
		alertDepth: config.AlertDepth,
		done:       make(chan struct{}),
	}
}

// Enqueue adds a notification to the queue, blocking if the queue is
// full (the buffer is the backpressure boundary). Returns false if the
// context is cancelled before the notification is accepted.
func (p *Processor) Enqueue(ctx context.Context, change gateway.Change) bool {
	if depth := len(p.queue); depth >= p.alertDepth {
		p.logger.Printf("WARNING: change queue depth %d past alert threshold %d", depth, p.alertDepth)
	}
	select {
	case p.queue <- change:
		if p.metrics != nil {
			p.metrics.QueueDepth.Set(float64(len(p.queue)))
		}
		return true
	case <-ctx.Done():
		return false
	}
}

// Depth returns the current queue depth.
func (p *Processor) Depth() int { return len(p.queue) }

// Run consumes the queue until ctx is cancelled. It is the only
// consumer; call it from exactly one goroutine.
func (p *Processor) Run(ctx context.Context) error {
	p.mu.Lock()
	done := p.done
	p.mu.Unlock()
	defer func() {
		// Close this run's channel and install a fresh one so the
		// loop can be restarted.
		close(done)
		p.mu.Lock()
		p.done = make(chan struct{})
		p.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case change := <-p.queue:
			p.dispatch(ctx, change)
			if p.metrics != nil {
				p.metrics.QueueDepth.Set(float64(len(p.queue)))
			}
		}
	}
}

// Done returns a channel closed when the current consumer loop exits.
// Grab it before or during a run; a fresh channel is installed once
// the loop stops.
func (p *Processor) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

// dispatch applies one notification and acknowledges the outcome.
func (p *Processor) dispatch(ctx context.Context, change gateway.Change) {
	outcome := gateway.Outcome{Success: true}
	label := "success"

	handler, ok := p.registry.Lookup(change.EntityType)
	if !ok {
		err := &UnhandledTypeError{EntityType: change.EntityType}
		p.logger.Printf("Unhandled notification: %v", err)
		outcome = gateway.Outcome{Success: false, Message: err.Error()}
		label = "unhandled"
	} else if err := handler(ctx, change); err != nil {
		if errors.Is(err, context.Canceled) {
			// Engine shutting down mid-dispatch; the result is
			// discarded and the server will redeliver.
			return
		}
		p.logger.Printf("Failed to apply change %s/%s: %v", change.EntityType, change.EntityID, err)
		outcome = gateway.Outcome{Success: false, Message: err.Error()}
		label = "failure"
	}

	if p.metrics != nil {
		p.metrics.ChangesProcessed.WithLabelValues(change.EntityType, label).Inc()
	}

	if err := p.gw.Acknowledge(ctx, change, outcome); err != nil {
		// The server's delivery state is now stale; it will redeliver
		// and the temporal load is idempotent.
		p.logger.Printf("Failed to acknowledge change %s/%s: %v", change.EntityType, change.EntityID, err)
	}
}
