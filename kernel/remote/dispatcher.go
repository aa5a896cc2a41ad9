package remote

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/michaelquigley/pfxlog"
	"github.com/openziti/hostctl/kernel/metrics"
	"github.com/openziti/hostctl/kernel/model"
	"github.com/pkg/errors"
)

const DefaultRetryInterval = 250 * time.Millisecond

// DispatchResult describes the endpoint that accepted a command.
type DispatchResult struct {
	Url      string
	Role     model.Role
	Attempts int

	// Failures holds the endpoints tried before the accepting one.
	Failures []EndpointError
}

// Dispatcher issues commands through each operation's endpoint chain: primary first, then the
// fallbacks in declared order. The first endpoint that accepts ends the chain.
type Dispatcher struct {
	endpoints map[string]map[model.OperationKind][]*model.Endpoint
	metrics   *metrics.Metrics

	// Lookup resolves a transport for a URL scheme; defaults to the registry.
	Lookup func(scheme string) (Transport, error)

	// RetryInterval is the first backoff interval between retries of the same endpoint.
	RetryInterval time.Duration
}

func NewDispatcher(cfg *model.Config, m *metrics.Metrics) *Dispatcher {
	d := &Dispatcher{
		endpoints:     make(map[string]map[model.OperationKind][]*model.Endpoint),
		metrics:       m,
		Lookup:        GetTransport,
		RetryInterval: DefaultRetryInterval,
	}
	for _, r := range cfg.Resources {
		ops := make(map[model.OperationKind][]*model.Endpoint)
		for kind, op := range r.Operations {
			if op != nil {
				ops[kind] = op.Endpoints
			}
		}
		d.endpoints[r.Id] = ops
	}
	return d
}

// Issue sends the command for kind to resourceId. When every endpoint fails the error is a
// *DispatchError matching ErrAllEndpointsFailed.
func (d *Dispatcher) Issue(ctx context.Context, resourceId string, kind model.OperationKind) (*DispatchResult, error) {
	log := pfxlog.Logger().WithField("resource", resourceId).WithField("operation", kind)

	chain := d.endpoints[resourceId][kind]
	if len(chain) == 0 {
		return nil, errors.Wrapf(ErrNoEndpoints, "%s on [%s]", kind, resourceId)
	}

	var failures []EndpointError
	for i, ep := range chain {
		role := RoleOf(ep, i)
		attempts, err := d.attempt(ctx, ep)
		d.metrics.DispatchAttempt(resourceId, kind, role, err)
		if err == nil {
			if len(failures) > 0 {
				log.Infof("accepted by %s endpoint %s after %d failed endpoint(s)", role, ep.Url, len(failures))
			} else {
				log.Debugf("accepted by %s endpoint %s", role, ep.Url)
			}
			return &DispatchResult{Url: ep.Url, Role: role, Attempts: attempts, Failures: failures}, nil
		}
		log.WithError(err).Warnf("%s endpoint %s failed", role, ep.Url)
		failures = append(failures, EndpointError{Url: ep.Url, Role: role, Attempts: attempts, Err: err})

		if ctx.Err() != nil {
			break
		}
	}
	return nil, &DispatchError{ResourceId: resourceId, Operation: kind, Failures: failures}
}

// attempt tries one endpoint, retrying with exponential backoff. Each try gets the endpoint's own
// timeout and is abandoned when it expires.
func (d *Dispatcher) attempt(ctx context.Context, ep *model.Endpoint) (int, error) {
	scheme, err := SchemeOf(ep.Url)
	if err != nil {
		return 0, err
	}
	transport, err := d.Lookup(scheme)
	if err != nil {
		return 0, err
	}

	timeout := ep.Timeout.Or(model.DefaultEndpointTimeout)
	retries := ep.Retries
	if retries < 0 {
		retries = 0
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = d.RetryInterval
	policy.MaxInterval = 4 * d.RetryInterval
	policy.MaxElapsedTime = 0

	attempts := 0
	err = backoff.Retry(func() error {
		attempts++
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		err := transport.Send(attemptCtx, ep)
		if err != nil && ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(retries)), ctx))

	return attempts, err
}

// RoleOf returns the configured role, or primary for the first endpoint and fallback for the rest.
func RoleOf(ep *model.Endpoint, index int) model.Role {
	if ep.Role != "" {
		return ep.Role
	}
	if index == 0 {
		return model.RolePrimary
	}
	return model.RoleFallback
}

// WorstCaseDispatch bounds how long Issue can take for a chain in which every endpoint fails
// after exhausting its retries at the default retry interval.
func WorstCaseDispatch(chain []*model.Endpoint) time.Duration {
	maxWait := 4 * DefaultRetryInterval * 3 / 2
	var total time.Duration
	for _, ep := range chain {
		if ep == nil {
			continue
		}
		retries := ep.Retries
		if retries < 0 {
			retries = 0
		}
		total += time.Duration(retries+1)*ep.Timeout.Or(model.DefaultEndpointTimeout) + time.Duration(retries)*maxWait
	}
	return total
}
