package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lanesync/lanesync/internal/gateway"
)

// startProcessor runs the consumer loop and returns a stop function
// that waits for it to exit.
func startProcessor(t *testing.T, p *Processor) func() {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = p.Run(ctx) }()
	return func() {
		cancel()
		select {
		case <-p.Done():
		case <-time.After(2 * time.Second):
			t.Fatal("processor did not stop")
		}
	}
}

func waitForAcks(t *testing.T, gw *fakeGateway, n int) []ackCall {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if acks := gw.ackCalls(); len(acks) >= n {
			return acks
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d acknowledgments (got %d)", n, len(gw.ackCalls()))
	return nil
}

func TestProcessorAppliesInArrivalOrder(t *testing.T) {
	gw := &fakeGateway{}
	registry := NewRegistry()

	var mu sync.Mutex
	var applied []string
	registry.Register("item", func(_ context.Context, change gateway.Change) error {
		mu.Lock()
		applied = append(applied, change.EntityID)
		mu.Unlock()
		return nil
	})

	p := NewProcessor(registry, gw, nil, ProcessorConfig{Logger: quietLogger()})
	stop := startProcessor(t, p)
	defer stop()

	ctx := context.Background()
	for _, id := range []string{"1", "2", "3", "2", "1"} {
		if !p.Enqueue(ctx, gateway.Change{EntityType: "item", EntityID: id, Timestamp: time.Now()}) {
			t.Fatal("Enqueue() returned false")
		}
	}

	waitForAcks(t, gw, 5)

	mu.Lock()
	defer mu.Unlock()
	want := []string{"1", "2", "3", "2", "1"}
	for i, id := range want {
		if applied[i] != id {
			t.Fatalf("applied order = %v, want %v", applied, want)
		}
	}
}

func TestProcessorAcknowledgesFailures(t *testing.T) {
	gw := &fakeGateway{}
	registry := NewRegistry()
	registry.Register("item", func(context.Context, gateway.Change) error {
		return errors.New("store unavailable")
	})

	p := NewProcessor(registry, gw, nil, ProcessorConfig{Logger: quietLogger()})
	stop := startProcessor(t, p)
	defer stop()

	p.Enqueue(context.Background(), gateway.Change{EntityType: "item", EntityID: "7"})

	acks := waitForAcks(t, gw, 1)
	if acks[0].outcome.Success {
		t.Error("failure should be acknowledged with success=false")
	}
	if acks[0].outcome.Message == "" {
		t.Error("failure acknowledgment should carry the reason")
	}
}

func TestProcessorReportsUnhandledTypes(t *testing.T) {
	gw := &fakeGateway{}
	p := NewProcessor(NewRegistry(), gw, nil, ProcessorConfig{Logger: quietLogger()})
	stop := startProcessor(t, p)
	defer stop()

	p.Enqueue(context.Background(), gateway.Change{EntityType: "loyalty_card", EntityID: "x"})

	acks := waitForAcks(t, gw, 1)
	if acks[0].outcome.Success {
		t.Error("unhandled type must not be reported as success")
	}
	var ute *UnhandledTypeError
	if !errors.As(error(&UnhandledTypeError{EntityType: "loyalty_card"}), &ute) {
		t.Fatal("sanity: UnhandledTypeError should satisfy errors.As")
	}
}

func TestCompositeStopsOnFailure(t *testing.T) {
	var calls []string
	h := Composite(
		func(context.Context, gateway.Change) error {
			calls = append(calls, "primary")
			return errors.New("primary failed")
		},
		func(context.Context, gateway.Change) error {
			calls = append(calls, "secondary")
			return nil
		},
	)

	if err := h(context.Background(), gateway.Change{}); err == nil {
		t.Fatal("composite should surface the primary failure")
	}
	if len(calls) != 1 || calls[0] != "primary" {
		t.Errorf("calls = %v, want secondary skipped after primary failure", calls)
	}
}

func TestRegistryValidate(t *testing.T) {
	registry := NewRegistry()
	registry.Register("item", func(context.Context, gateway.Change) error { return nil })

	if err := registry.Validate([]string{"item"}); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}
	if err := registry.Validate([]string{"item", "category"}); err == nil {
		t.Error("Validate() should report the missing category handler")
	}
}

func TestRegistryDuplicatePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("duplicate registration should panic")
		}
	}()

	registry := NewRegistry()
	h := func(context.Context, gateway.Change) error { return nil }
	registry.Register("item", h)
	registry.Register("item", h)
}
