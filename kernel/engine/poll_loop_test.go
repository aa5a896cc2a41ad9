package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/openziti/hostctl/kernel/model"
	"github.com/panjf2000/ants/v2"
	"github.com/openziti/hostctl/kernel/store"
)

type slowProber struct {
	delay  time.Duration
	active atomic.Int32
	peak   atomic.Int32
	calls  atomic.Int32
}

func (p *slowProber) Probe(ctx context.Context, resourceId string) (model.State, error) {
	p.calls.Add(1)
	n := p.active.Add(1)
	defer p.active.Add(-1)
	for {
		peak := p.peak.Load()
		if n <= peak || p.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	select {
	case <-time.After(p.delay):
	case <-ctx.Done():
	}
	if resourceId == "vllm" {
		return model.StateRunning, nil
	}
	return model.StateOnline, nil
}

func waitForState(t *testing.T, ctrl *Controller, resourceId string, state model.State) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if view, err := ctrl.GetState(resourceId); err == nil && view.State == state {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for [%s] to become [%s]", resourceId, state)
}

func TestPollLoop_NormalizesEveryResource(t *testing.T) {
	cfg := testConfig()
	cfg.Controller.PollInterval = model.Duration(20 * time.Millisecond)

	prober := &slowProber{delay: 50 * time.Millisecond}
	ctrl, err := NewController(cfg, store.NewMemoryStore(), &fakeDispatcher{}, prober, Options{Tick: 5 * time.Millisecond, Workers: 4})
	if err != nil {
		t.Fatalf("failed to create controller: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ctrl.Run(ctx) }()

	waitForState(t, ctrl, "gpu-host", model.StateOnline)
	waitForState(t, ctrl, "vllm", model.StateRunning)

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("poll loop did not stop")
	}

	// one query per resource at a time, even though the query outlasts the tick
	if peak := prober.peak.Load(); peak > 2 {
		t.Errorf("expected at most 2 concurrent queries, saw %d", peak)
	}
	if prober.calls.Load() == 0 {
		t.Errorf("expected status queries")
	}
}

func TestPollLoop_DueRespectsSchedule(t *testing.T) {
	h := newHarness(t)
	loop := h.ctrl.loop

	if !loop.due("gpu-host", epoch) {
		t.Errorf("expected unscheduled resource to be due")
	}
	loop.Schedule("gpu-host", epoch.Add(10*time.Second))
	if loop.due("gpu-host", epoch.Add(5*time.Second)) {
		t.Errorf("expected resource not to be due before its next poll")
	}
	if !loop.due("gpu-host", epoch.Add(10*time.Second)) {
		t.Errorf("expected resource to be due at its next poll")
	}

	// a passed deadline makes a pending resource due regardless of schedule
	h.settle(t, "gpu-host", model.StateOffline)
	if _, err := h.ctrl.RequestOperation(context.Background(), "gpu-host", model.OpPowerOn); err != nil {
		t.Fatalf("request failed: %v", err)
	}
	loop.Schedule("gpu-host", epoch.Add(time.Hour))
	if !loop.due("gpu-host", epoch.Add(30*time.Second)) {
		t.Errorf("expected resource with expired deadline to be due")
	}
}

func TestPollLoop_SkipsResourceAlreadyInFlight(t *testing.T) {
	h := newHarness(t)
	loop := h.ctrl.loop

	release := make(chan struct{})
	var mu sync.Mutex
	calls := make(map[string]int)
	h.prober.hook = func(resourceId string) {
		mu.Lock()
		calls[resourceId]++
		mu.Unlock()
		<-release
	}

	pool, err := ants.NewPool(4, ants.WithNonblocking(true))
	if err != nil {
		t.Fatalf("failed to create pool: %v", err)
	}
	defer pool.Release()

	loop.TickOnce(context.Background(), pool)
	loop.TickOnce(context.Background(), pool)

	deadline := time.Now().Add(5 * time.Second)
	for {
		mu.Lock()
		started := calls["gpu-host"] == 1 && calls["vllm"] == 1
		mu.Unlock()
		if started {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected one query per resource to start")
		}
		time.Sleep(5 * time.Millisecond)
	}

	for _, id := range []string{"gpu-host", "vllm"} {
		flag, _ := loop.inFlight.Get(id)
		if !flag.IsSet(pollingBit) {
			t.Errorf("expected [%s] to be marked in flight", id)
		}
	}

	close(release)
	loop.wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	for id, n := range calls {
		if n != 1 {
			t.Errorf("expected 1 query for [%s] across two ticks, got %d", id, n)
		}
		flag, _ := loop.inFlight.Get(id)
		if flag.IsSet(pollingBit) {
			t.Errorf("expected [%s] to be released after its poll", id)
		}
	}
}
