package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/openziti/hostctl/kernel/model"
	"github.com/openziti/hostctl/kernel/remote"
	"github.com/openziti/hostctl/kernel/store"
)

var epoch = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: epoch}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// At sets the clock to epoch + offset.
func (c *fakeClock) At(offset time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = epoch.Add(offset)
}

type probeResult struct {
	state model.State
	err   error
}

type fakeProber struct {
	mu      sync.Mutex
	results map[string]probeResult
	hook    func(resourceId string)
}

func newFakeProber() *fakeProber {
	return &fakeProber{results: make(map[string]probeResult)}
}

func (p *fakeProber) Report(resourceId string, state model.State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.results[resourceId] = probeResult{state: state}
}

func (p *fakeProber) Unreachable(resourceId string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.results[resourceId] = probeResult{err: remote.ErrUnreachable}
}

func (p *fakeProber) Probe(_ context.Context, resourceId string) (model.State, error) {
	p.mu.Lock()
	result, found := p.results[resourceId]
	hook := p.hook
	p.mu.Unlock()

	if hook != nil {
		hook(resourceId)
	}
	if !found {
		return "", remote.ErrUnreachable
	}
	return result.state, result.err
}

type fakeDispatcher struct {
	calls atomic.Int32
	fail  atomic.Bool
}

func (d *fakeDispatcher) Issue(_ context.Context, resourceId string, kind model.OperationKind) (*remote.DispatchResult, error) {
	d.calls.Add(1)
	if d.fail.Load() {
		return nil, &remote.DispatchError{ResourceId: resourceId, Operation: kind}
	}
	return &remote.DispatchResult{Url: "http://primary/" + string(kind), Role: model.RolePrimary, Attempts: 1}, nil
}

func testConfig() *model.Config {
	ep := func(path string) []*model.Endpoint {
		return []*model.Endpoint{{Url: "http://gpu-host:8002" + path}, {Url: "http://relay:8002" + path}}
	}
	return &model.Config{
		Resources: []*model.ResourceConfig{
			{
				Id:               "gpu-host",
				Kind:             model.KindPower,
				UnreachableGrace: model.Duration(10 * time.Second),
				Operations: map[model.OperationKind]*model.OperationConfig{
					model.OpPowerOn: {
						Deadline:     model.Duration(30 * time.Second),
						PollInterval: model.Duration(5 * time.Second),
						Endpoints:    ep("/api/power/wakeup"),
					},
					model.OpPowerOff: {
						Deadline:     model.Duration(60 * time.Second),
						PollInterval: model.Duration(5 * time.Second),
						Endpoints:    ep("/api/power/shutdown"),
					},
				},
			},
			{
				Id:       "vllm",
				Kind:     model.KindService,
				Requires: "gpu-host",
				Operations: map[model.OperationKind]*model.OperationConfig{
					model.OpServiceStart: {Endpoints: ep("/api/services/vllm/start")},
					model.OpServiceStop:  {Endpoints: ep("/api/services/vllm/stop")},
				},
			},
		},
	}
}

type harness struct {
	ctrl       *Controller
	clock      *fakeClock
	prober     *fakeProber
	dispatcher *fakeDispatcher
	store      *store.MemoryStore
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		clock:      newFakeClock(),
		prober:     newFakeProber(),
		dispatcher: &fakeDispatcher{},
		store:      store.NewMemoryStore(),
	}
	ctrl, err := NewController(testConfig(), h.store, h.dispatcher, h.prober, Options{Clock: h.clock})
	if err != nil {
		t.Fatalf("failed to create controller: %v", err)
	}
	h.ctrl = ctrl
	return h
}

// poll runs one reconciliation of resourceId at epoch + offset.
func (h *harness) poll(t *testing.T, resourceId string, offset time.Duration) {
	t.Helper()
	h.clock.At(offset)
	if err := h.ctrl.reconciler.ReconcileOnce(context.Background(), resourceId); err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
}

// settle brings resourceId to state through an idle poll at epoch.
func (h *harness) settle(t *testing.T, resourceId string, state model.State) {
	t.Helper()
	h.prober.Report(resourceId, state)
	h.poll(t, resourceId, 0)
	h.expect(t, resourceId, state)
}

func (h *harness) expect(t *testing.T, resourceId string, state model.State) StateView {
	t.Helper()
	view, err := h.ctrl.GetState(resourceId)
	if err != nil {
		t.Fatalf("get state failed: %v", err)
	}
	if view.State != state {
		t.Fatalf("expected [%s] to be [%s], got [%s]", resourceId, state, view.State)
	}
	return view
}
