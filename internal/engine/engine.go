package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/lanesync/lanesync/internal/docstore"
	"github.com/lanesync/lanesync/internal/entity"
	"github.com/lanesync/lanesync/internal/gateway"
	"github.com/lanesync/lanesync/internal/metrics"
	"golang.org/x/sync/errgroup"
)

// Config configures the engine.
type Config struct {
	// PageSize for bootstrap bulk loads. Default 150.
	PageSize int

	// Heartbeat scheduler settings.
	Heartbeat HeartbeatConfig

	// Outbound retry settings.
	Outbound OutboundConfig

	// Processor queue settings.
	Processor ProcessorConfig

	// NetMonitor settings. OnOnline is wired by the engine.
	NetMonitor NetMonitorConfig

	// Metrics sink; nil disables instrumentation.
	Metrics *metrics.Metrics

	// Logger is the base logger; component loggers derive their
	// prefixes from it. Defaults to stderr.
	Logger *log.Logger
}

// Engine owns the full synchronization machinery for one terminal: the
// entity repositories over the local document store, the bootstrap
// loader, the change processor, the heartbeat scheduler, the outbound
// retry manager, and the network monitor.
type Engine struct {
	store     *docstore.Store
	gw        gateway.Gateway
	gate      *ActivityGate
	status    *Status
	metrics   *metrics.Metrics
	registry  *Registry
	processor *Processor
	heartbeat *Heartbeat
	outbound  *Outbound
	netmon    *NetMonitor
	bootstrap *Bootstrap
	logger    *log.Logger

	repos   []*Repository
	repoByType map[string]*Repository

	mu      sync.Mutex
	cancel  context.CancelFunc
	group   *errgroup.Group
	running bool
}

// componentLogger derives a prefixed logger writing to the same sink.
func componentLogger(base *log.Logger, prefix string) *log.Logger {
	return log.New(base.Writer(), prefix+" ", base.Flags())
}

// New wires an engine over the given store and gateway.
//
// Repositories are created for every replicated entity type, the
// dispatch registry is populated (catalog items use a composite
// handler that chains the image fetch) and validated, and the pending
// resolver is attached to the activity gate.
func New(store *docstore.Store, gw gateway.Gateway, config Config) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if gw == nil {
		return nil, fmt.Errorf("gateway cannot be nil")
	}
	if config.PageSize <= 0 {
		config.PageSize = 150
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "", log.LstdFlags)
	}

	e := &Engine{
		store:      store,
		gw:         gw,
		gate:       NewActivityGate(),
		status:     NewStatus(),
		metrics:    config.Metrics,
		registry:   NewRegistry(),
		logger:     componentLogger(config.Logger, "[engine]"),
		repoByType: make(map[string]*Repository),
	}

	// Replicated reference data, in bootstrap order. Categories come
	// first so the sell screen can lay out before items stream in.
	repoConfigs := []RepositoryConfig{
		{EntityType: entity.TypeCategory, Collection: entity.CollectionCategories, Label: "Categories"},
		{EntityType: entity.TypeTaxRate, Collection: entity.CollectionTaxRates, Label: "Tax rates"},
		{EntityType: entity.TypeDiscount, Collection: entity.CollectionDiscounts, Label: "Discounts"},
		{EntityType: entity.TypeItem, Collection: entity.CollectionItems, Label: "Catalog items"},
	}
	for _, rc := range repoConfigs {
		repo, err := NewRepository(rc, store, gw, e.gate,
			componentLogger(config.Logger, "[repo:"+rc.EntityType+"]"))
		if err != nil {
			return nil, err
		}
		e.repos = append(e.repos, repo)
		e.repoByType[rc.EntityType] = repo
	}

	// Item images are a sub-attribute fetched after the item itself;
	// they have their own collection but no bootstrap pass and no
	// standalone notification type.
	imageRepo, err := NewRepository(
		RepositoryConfig{EntityType: "item_image", Collection: "item_images", Label: "Item images"},
		store, gw, e.gate, componentLogger(config.Logger, "[repo:item_image]"))
	if err != nil {
		return nil, err
	}
	e.repoByType[imageRepo.EntityType()] = imageRepo

	// Explicit dispatch table. Items chain the image fetch.
	e.registry.Register(entity.TypeCategory, RepositoryHandler(e.repoByType[entity.TypeCategory]))
	e.registry.Register(entity.TypeTaxRate, RepositoryHandler(e.repoByType[entity.TypeTaxRate]))
	e.registry.Register(entity.TypeDiscount, RepositoryHandler(e.repoByType[entity.TypeDiscount]))
	e.registry.Register(entity.TypeItem, Composite(
		RepositoryHandler(e.repoByType[entity.TypeItem]),
		RepositoryHandler(imageRepo),
	))

	required := []string{entity.TypeCategory, entity.TypeTaxRate, entity.TypeDiscount, entity.TypeItem}
	if err := e.registry.Validate(required); err != nil {
		return nil, err
	}

	e.processor = NewProcessor(e.registry, gw, config.Metrics, applyLogger(config.Processor, config.Logger, "[processor]"))
	e.outbound = NewOutbound(store, gw, e.status, config.Metrics, applyOutboundLogger(config.Outbound, config.Logger))
	e.heartbeat = NewHeartbeat(gw, e.processor, e.outbound, e.status, config.Metrics,
		applyHeartbeatLogger(config.Heartbeat, config.Logger))
	e.bootstrap = NewBootstrap(e.repos, config.PageSize, e.status, config.Metrics,
		componentLogger(config.Logger, "[bootstrap]"))

	nm := config.NetMonitor
	nm.Logger = componentLogger(config.Logger, "[netmon]")
	nm.OnOnline = func() {
		// Recovery must not wait for the next scheduled tick.
		e.heartbeat.TriggerProbe()
		e.outbound.TriggerNow()
	}
	e.netmon = NewNetMonitor(gw, nm)

	// Fold pending shadows in the moment a sale ends.
	e.gate.onRelease(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		e.resolveAllPending(ctx)
	})

	return e, nil
}

func applyLogger(c ProcessorConfig, base *log.Logger, prefix string) ProcessorConfig {
	if c.Logger == nil {
		c.Logger = componentLogger(base, prefix)
	}
	return c
}

func applyOutboundLogger(c OutboundConfig, base *log.Logger) OutboundConfig {
	if c.Logger == nil {
		c.Logger = componentLogger(base, "[outbound]")
	}
	return c
}

func applyHeartbeatLogger(c HeartbeatConfig, base *log.Logger) HeartbeatConfig {
	if c.Logger == nil {
		c.Logger = componentLogger(base, "[heartbeat]")
	}
	return c
}

// resolveAllPending clears pending shadows across every repository.
// Each repository resolves independently; a failure in one is logged
// and does not stop the others.
func (e *Engine) resolveAllPending(ctx context.Context) {
	for _, repo := range e.repoByType {
		if err := repo.ClearPending(ctx); err != nil {
			e.logger.Printf("Failed to clear pending for %s: %v", repo.EntityType(), err)
		}
	}
}

// Start launches the background loops: heartbeat scheduler, outbound
// retry, change processor, and network monitor. Returns an error if
// already running.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return fmt.Errorf("engine already running")
	}

	ctx, cancel := context.WithCancel(context.Background())
	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error { return e.processor.Run(ctx) })
	group.Go(func() error { return e.heartbeat.Run(ctx) })
	group.Go(func() error { return e.outbound.Run(ctx) })
	group.Go(func() error { return e.netmon.Run(ctx) })

	e.cancel = cancel
	e.group = group
	e.running = true
	e.logger.Printf("Engine started")
	return nil
}

// Stop cancels every loop and waits for them to exit. In-flight
// network calls are cancelled and their results discarded; document
// writes are transactional, so a cancelled temporal load never leaves
// a half-written document.
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		return nil
	}

	e.cancel()
	err := e.group.Wait()
	e.running = false
	e.logger.Printf("Engine stopped")

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Bootstrap runs a full replication pass and, on an engine that is not
// yet running, leaves it to the caller to Start the loops afterwards.
func (e *Engine) Bootstrap(ctx context.Context, progress ProgressFunc) error {
	return e.bootstrap.Run(ctx, progress)
}

// SyncNow schedules an immediate sync cycle.
func (e *Engine) SyncNow() {
	e.heartbeat.TriggerSync()
}

// PingNow probes the gateway immediately and reports reachability.
func (e *Engine) PingNow(ctx context.Context) bool {
	return e.heartbeat.PingNow(ctx)
}

// PendingCount returns the number of outbound records awaiting
// transmission.
func (e *Engine) PendingCount(ctx context.Context) (int, error) {
	return e.outbound.PendingCount(ctx)
}

// Status returns the observable sync status.
func (e *Engine) Status() *Status { return e.status }

// Gate returns the transaction activity gate for the checkout workflow.
func (e *Engine) Gate() *ActivityGate { return e.gate }

// Outbound returns the outbound retry manager (the checkout workflow
// records completed sales through it).
func (e *Engine) Outbound() *Outbound { return e.outbound }

// Repository returns the repository for an entity type, or nil.
func (e *Engine) Repository(entityType string) *Repository {
	return e.repoByType[entityType]
}

// SetIntervals applies reloaded scheduler intervals.
func (e *Engine) SetIntervals(probe, sync time.Duration) {
	e.heartbeat.SetIntervals(probe, sync)
}

// Wipe drops all replicated and derived collections so the next
// bootstrap starts clean. Device identity state and unsent outbound
// records survive. The engine must be stopped first.
func (e *Engine) Wipe(ctx context.Context) error {
	e.mu.Lock()
	running := e.running
	e.mu.Unlock()
	if running {
		return fmt.Errorf("cannot wipe while engine is running")
	}
	return e.store.Wipe(ctx, entity.CollectionDevice, entity.CollectionOutbound)
}
