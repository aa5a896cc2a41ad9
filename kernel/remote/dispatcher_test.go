package remote

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/openziti/hostctl/kernel/metrics"
	"github.com/openziti/hostctl/kernel/model"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingHandler struct {
	status int
	delay  time.Duration
	calls  atomic.Int32
}

func (h *countingHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.calls.Add(1)
	if h.delay > 0 {
		select {
		case <-time.After(h.delay):
		case <-r.Context().Done():
			return
		}
	}
	w.WriteHeader(h.status)
}

func newServer(t *testing.T, h *countingHandler) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

func dispatcherFor(endpoints ...*model.Endpoint) *Dispatcher {
	cfg := &model.Config{Resources: []*model.ResourceConfig{{
		Id:   "gpu-host",
		Kind: model.KindPower,
		Operations: map[model.OperationKind]*model.OperationConfig{
			model.OpPowerOn: {Endpoints: endpoints},
		},
	}}}
	d := NewDispatcher(cfg, metrics.New())
	d.RetryInterval = time.Millisecond
	return d
}

func TestDispatcher_PrimarySuccessShortCircuits(t *testing.T) {
	primary := &countingHandler{status: http.StatusOK}
	fallback := &countingHandler{status: http.StatusOK}
	d := dispatcherFor(
		&model.Endpoint{Url: newServer(t, primary).URL + "/wakeup"},
		&model.Endpoint{Url: newServer(t, fallback).URL + "/api/power/wakeup"},
	)

	result, err := d.Issue(context.Background(), "gpu-host", model.OpPowerOn)
	require.NoError(t, err)
	assert.Equal(t, model.RolePrimary, result.Role)
	assert.Empty(t, result.Failures)
	assert.Equal(t, int32(1), primary.calls.Load())
	assert.Equal(t, int32(0), fallback.calls.Load())
}

func TestDispatcher_FallbackAfterPrimaryFailure(t *testing.T) {
	primary := &countingHandler{status: http.StatusBadGateway}
	fallback := &countingHandler{status: http.StatusAccepted}
	fallbackSrv := newServer(t, fallback)
	d := dispatcherFor(
		&model.Endpoint{Url: newServer(t, primary).URL},
		&model.Endpoint{Url: fallbackSrv.URL},
	)

	result, err := d.Issue(context.Background(), "gpu-host", model.OpPowerOn)
	require.NoError(t, err)
	assert.Equal(t, fallbackSrv.URL, result.Url)
	assert.Equal(t, model.RoleFallback, result.Role)
	require.Len(t, result.Failures, 1)
	assert.Equal(t, model.RolePrimary, result.Failures[0].Role)
}

func TestDispatcher_AllEndpointsFailed(t *testing.T) {
	primary := &countingHandler{status: http.StatusInternalServerError}
	closed := httptest.NewServer(http.NotFoundHandler())
	closed.Close()

	d := dispatcherFor(
		&model.Endpoint{Url: newServer(t, primary).URL, Retries: 2},
		&model.Endpoint{Url: closed.URL},
	)

	result, err := d.Issue(context.Background(), "gpu-host", model.OpPowerOn)
	assert.Nil(t, result)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAllEndpointsFailed))

	var dispatchErr *DispatchError
	require.True(t, errors.As(err, &dispatchErr))
	require.Len(t, dispatchErr.Failures, 2)
	assert.Equal(t, 3, dispatchErr.Failures[0].Attempts)
	assert.Equal(t, int32(3), primary.calls.Load())
}

func TestDispatcher_EndpointTimeoutIsAbandoned(t *testing.T) {
	slow := &countingHandler{status: http.StatusOK, delay: 2 * time.Second}
	fast := &countingHandler{status: http.StatusOK}
	d := dispatcherFor(
		&model.Endpoint{Url: newServer(t, slow).URL, Timeout: model.Duration(50 * time.Millisecond)},
		&model.Endpoint{Url: newServer(t, fast).URL, Timeout: model.Duration(time.Second)},
	)

	start := time.Now()
	result, err := d.Issue(context.Background(), "gpu-host", model.OpPowerOn)
	require.NoError(t, err)
	assert.Equal(t, model.RoleFallback, result.Role)
	assert.Less(t, time.Since(start), time.Second)
}

func TestDispatcher_NoEndpoints(t *testing.T) {
	d := dispatcherFor()
	_, err := d.Issue(context.Background(), "gpu-host", model.OpPowerOff)
	assert.True(t, errors.Is(err, ErrNoEndpoints))
	assert.False(t, errors.Is(err, ErrAllEndpointsFailed))
}

func TestDispatcher_UnknownScheme(t *testing.T) {
	d := dispatcherFor(&model.Endpoint{Url: "carrier-pigeon://loft/1"})
	_, err := d.Issue(context.Background(), "gpu-host", model.OpPowerOn)
	assert.True(t, errors.Is(err, ErrAllEndpointsFailed))
}

type fakeTransport struct {
	err   error
	calls atomic.Int32
}

func (f *fakeTransport) Send(ctx context.Context, ep *model.Endpoint) error {
	f.calls.Add(1)
	return f.err
}

func TestDispatcher_CustomLookup(t *testing.T) {
	failing := &fakeTransport{err: errors.New("no route")}
	ok := &fakeTransport{}
	d := dispatcherFor(
		&model.Endpoint{Url: "fake-fail://relay/wakeup"},
		&model.Endpoint{Url: "fake-ok://host/wakeup"},
	)
	d.Lookup = func(scheme string) (Transport, error) {
		if scheme == "fake-fail" {
			return failing, nil
		}
		return ok, nil
	}

	result, err := d.Issue(context.Background(), "gpu-host", model.OpPowerOn)
	require.NoError(t, err)
	assert.Equal(t, "fake-ok://host/wakeup", result.Url)
	assert.Equal(t, int32(1), failing.calls.Load())
	assert.Equal(t, int32(1), ok.calls.Load())
}

func TestRegistry(t *testing.T) {
	for _, scheme := range []string{"http", "https", "ssh", "wol"} {
		_, err := GetTransport(scheme)
		assert.NoError(t, err, scheme)
	}
	_, err := GetTransport("ftp")
	assert.Error(t, err)

	assert.Panics(t, func() {
		RegisterTransport("http", func() Transport { return &fakeTransport{} })
	})
}

func TestWorstCaseDispatch(t *testing.T) {
	chain := []*model.Endpoint{
		{Url: "http://gpu-host:8002/api/power/shutdown", Timeout: model.Duration(10 * time.Second), Retries: 2},
		{Url: "ssh://admin@gpu-host:22", Command: "sudo shutdown -h now"},
	}
	// 3 tries of 10s, 2 waits of at most 1.5s, then one default 5s try
	assert.Equal(t, 38*time.Second, WorstCaseDispatch(chain))
	assert.Equal(t, time.Duration(0), WorstCaseDispatch(nil))
}
