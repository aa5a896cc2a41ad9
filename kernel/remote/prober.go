package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/oliveagle/jsonpath"
	"github.com/openziti/hostctl/kernel/model"
	"github.com/pkg/errors"
)

var defaultAliases = map[model.ResourceKind]map[string]model.State{
	model.KindPower: {
		"up":            model.StateOnline,
		"on":            model.StateOnline,
		"down":          model.StateOffline,
		"off":           model.StateOffline,
		"shutting-down": model.StateShuttingDown,
		"shutdown":      model.StateShuttingDown,
	},
	model.KindService: {
		"active":   model.StateRunning,
		"up":       model.StateRunning,
		"inactive": model.StateStopped,
		"down":     model.StateStopped,
		"exited":   model.StateStopped,
	},
}

type probeTarget struct {
	kind     model.ResourceKind
	url      string
	path     string
	timeout  model.Duration
	stateMap map[string]model.State
}

// StatusProber queries each resource's status endpoint and maps the answer to a State.
type StatusProber struct {
	targets map[string]*probeTarget
	client  *http.Client
}

func NewStatusProber(cfg *model.Config) *StatusProber {
	p := &StatusProber{
		targets: make(map[string]*probeTarget),
		client:  &http.Client{},
	}
	for _, r := range cfg.Resources {
		path := r.Status.StatePath
		if path == "" {
			path = model.DefaultStatePath
		}
		stateMap := make(map[string]model.State, len(r.Status.StateMap))
		for raw, state := range r.Status.StateMap {
			stateMap[normalize(raw)] = state
		}
		p.targets[r.Id] = &probeTarget{
			kind:     r.Kind,
			url:      r.Status.Url,
			path:     path,
			timeout:  r.Status.Timeout,
			stateMap: stateMap,
		}
	}
	return p
}

// Probe returns the observed state. Transport failures and non-2xx answers match ErrUnreachable;
// answers that cannot be mapped match ErrUnrecognizedState.
func (p *StatusProber) Probe(ctx context.Context, resourceId string) (model.State, error) {
	target, ok := p.targets[resourceId]
	if !ok {
		return model.StateUnknown, fmt.Errorf("no status endpoint for resource [%s]", resourceId)
	}

	ctx, cancel := context.WithTimeout(ctx, target.timeout.Or(model.DefaultStatusTimeout))
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.url, nil)
	if err != nil {
		return model.StateUnknown, errors.Wrapf(err, "invalid status url '%s'", target.url)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return model.StateUnknown, errors.Wrapf(ErrUnreachable, "%v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return model.StateUnknown, errors.Wrapf(ErrUnreachable, "GET %s: status %d", target.url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return model.StateUnknown, errors.Wrapf(ErrUnreachable, "read %s: %v", target.url, err)
	}
	return target.parse(body)
}

func (t *probeTarget) parse(body []byte) (model.State, error) {
	var doc interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		return model.StateUnknown, errors.Wrapf(ErrUnrecognizedState, "invalid json: %v", err)
	}
	value, err := jsonpath.JsonPathLookup(doc, t.path)
	if err != nil {
		return model.StateUnknown, errors.Wrapf(ErrUnrecognizedState, "lookup '%s': %v", t.path, err)
	}
	raw, ok := value.(string)
	if !ok {
		return model.StateUnknown, errors.Wrapf(ErrUnrecognizedState, "'%s' is %T, not a string", t.path, value)
	}
	return t.mapState(raw)
}

func (t *probeTarget) mapState(raw string) (model.State, error) {
	key := normalize(raw)
	if state, ok := t.stateMap[key]; ok {
		return state, nil
	}
	if state := model.State(key); state != model.StateUnknown && state.ValidFor(t.kind) {
		return state, nil
	}
	if state, ok := defaultAliases[t.kind][key]; ok {
		return state, nil
	}
	return model.StateUnknown, errors.Wrapf(ErrUnrecognizedState, "'%s' for %s resource", raw, t.kind)
}

func normalize(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}
