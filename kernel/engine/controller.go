package engine

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/michaelquigley/pfxlog"
	"github.com/openziti/hostctl/kernel/metrics"
	"github.com/openziti/hostctl/kernel/model"
	"github.com/openziti/hostctl/kernel/remote"
	"github.com/openziti/hostctl/kernel/store"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Dispatcher issues a command through a resource's endpoint chain.
type Dispatcher interface {
	Issue(ctx context.Context, resourceId string, kind model.OperationKind) (*remote.DispatchResult, error)
}

type Options struct {
	Clock   Clock
	Metrics *metrics.Metrics
	Workers int
	Tick    time.Duration
}

// Accepted acknowledges an admitted operation. The resource is already in its transitional state.
type Accepted struct {
	OperationId   string              `json:"operationId"`
	ResourceId    string              `json:"resourceId"`
	Operation     model.OperationKind `json:"operation"`
	State         model.State         `json:"state"`
	StartedAt     time.Time           `json:"startedAt"`
	Deadline      time.Time           `json:"deadline"`
	Endpoint      string              `json:"endpoint,omitempty"`
	Role          model.Role          `json:"role,omitempty"`
	DispatchError string              `json:"dispatchError,omitempty"`
}

// StateView is the caller-facing picture of a resource.
type StateView struct {
	ResourceId              string                  `json:"resourceId"`
	Kind                    model.ResourceKind      `json:"kind"`
	State                   model.State             `json:"state"`
	Pending                 *model.PendingOperation `json:"pending,omitempty"`
	RemainingTimeoutSeconds int                     `json:"remainingTimeoutSeconds"`
	UpdatedAt               time.Time               `json:"updatedAt"`
	LastObserved            model.State             `json:"lastObserved,omitempty"`
	LastObservedAt          time.Time               `json:"lastObservedAt,omitempty"`
	LastPollError           string                  `json:"lastPollError,omitempty"`
}

// Controller admits operation intents and owns the poll loop that resolves them.
type Controller struct {
	cfg        *model.Config
	store      store.ResourceStore
	dispatcher Dispatcher
	reconciler *Reconciler
	loop       *PollLoop
	clock      Clock
	metrics    *metrics.Metrics
}

// NewController registers every configured resource in s, starting at unknown.
func NewController(cfg *model.Config, s store.ResourceStore, d Dispatcher, p Prober, opts Options) (*Controller, error) {
	if opts.Clock == nil {
		opts.Clock = RealClock()
	}
	tick := opts.Tick
	if tick <= 0 {
		tick = cfg.Controller.Tick.Or(model.DefaultTick)
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = cfg.Controller.Workers
	}

	reconciler := NewReconciler(s, p, NewSupervisor(opts.Metrics), opts.Clock, opts.Metrics)
	c := &Controller{
		cfg:        cfg,
		store:      s,
		dispatcher: d,
		reconciler: reconciler,
		loop:       NewPollLoop(reconciler, opts.Clock, tick, workers),
		clock:      opts.Clock,
		metrics:    opts.Metrics,
	}

	for _, r := range cfg.Resources {
		if err := s.Register(r.Id, r.Kind); err != nil && !errors.Is(err, store.ErrDuplicateResource) {
			return nil, errors.Wrapf(err, "unable to register resource [%s]", r.Id)
		}
		reconciler.SetGrace(r.Id, r.UnreachableGrace.Or(cfg.Controller.UnreachableGrace.Or(model.DefaultUnreachableGrace)))
		c.loop.Watch(r.Id, r.PollInterval.Or(cfg.Controller.PollInterval.Or(model.DefaultPollInterval)))
	}
	return c, nil
}

// RequestOperation admits kind on resourceId and dispatches it. The transitional state is
// committed before any endpoint is contacted. When every endpoint fails the operation stays
// pending: the returned Accepted is non-nil and err matches ErrAllEndpointsFailed.
func (c *Controller) RequestOperation(ctx context.Context, resourceId string, kind model.OperationKind) (*Accepted, error) {
	log := pfxlog.Logger().WithField("resource", resourceId).WithField("operation", kind)

	rc, found := c.cfg.Resource(resourceId)
	if !found {
		return nil, errors.Wrapf(ErrUnknownResource, "[%s]", resourceId)
	}
	if !kind.Valid() {
		return nil, errors.Wrapf(ErrInvalidTransition, "unknown operation '%s'", kind)
	}
	edge := kind.Edge()
	if edge.Resource != rc.Kind {
		c.metrics.Request(resourceId, kind, "invalid")
		return nil, errors.Wrapf(ErrInvalidTransition, "%s does not apply to %s resource [%s]", kind, rc.Kind, resourceId)
	}
	op := rc.Operation(kind)
	if op == nil || len(op.Endpoints) == 0 {
		c.metrics.Request(resourceId, kind, "unsupported")
		return nil, errors.Wrapf(ErrUnsupportedOperation, "%s on [%s]", kind, resourceId)
	}

	now := c.clock.Now()
	pending := &model.PendingOperation{
		Id:           uuid.NewString(),
		Kind:         kind,
		From:         edge.From,
		StartedAt:    now,
		Deadline:     now.Add(op.Deadline.Or(defaultDeadline(edge.Direction))),
		PollInterval: op.PollInterval.Or(model.DefaultPendingPoll),
	}

	_, err := c.store.Mutate(resourceId, func(rec *store.Record) error {
		if rec.Pending != nil {
			return errors.Wrapf(ErrOperationInProgress, "%s pending on [%s] until %s", rec.Pending.Kind, resourceId, rec.Pending.Deadline.Format(time.RFC3339))
		}
		if rec.State != edge.From {
			return errors.Wrapf(ErrInvalidTransition, "%s requires [%s], resource [%s] is [%s]", kind, edge.From, resourceId, rec.State)
		}
		if err := c.checkDependency(rc, kind); err != nil {
			return err
		}
		rec.Pending = pending
		rec.UnreachableSince = time.Time{}
		rec.MoveTo(edge.Transitional, model.CauseRequested, now)
		return nil
	})
	if err != nil {
		c.metrics.Request(resourceId, kind, requestResult(err))
		log.WithError(err).Debug("rejected")
		return nil, err
	}

	c.metrics.Request(resourceId, kind, "accepted")
	c.metrics.Pending(resourceId)
	c.loop.Schedule(resourceId, now.Add(pending.PollInterval))
	log.WithField("operationId", pending.Id).Infof("accepted, deadline %v", pending.Deadline.Sub(now))

	accepted := &Accepted{
		OperationId: pending.Id,
		ResourceId:  resourceId,
		Operation:   kind,
		State:       edge.Transitional,
		StartedAt:   pending.StartedAt,
		Deadline:    pending.Deadline,
	}

	// the operation is owned by the controller from here on; a departing caller must not abort it
	result, err := c.dispatcher.Issue(context.WithoutCancel(ctx), resourceId, kind)
	if err != nil {
		log.WithError(err).Warn("dispatch failed, awaiting confirmation or deadline")
		accepted.DispatchError = err.Error()
		return accepted, err
	}
	accepted.Endpoint = result.Url
	accepted.Role = result.Role
	return accepted, nil
}

func (c *Controller) checkDependency(rc *model.ResourceConfig, kind model.OperationKind) error {
	if rc.Requires == "" || kind.Direction() != model.DirectionStart {
		return nil
	}
	dep, err := c.store.Get(rc.Requires)
	if err != nil {
		return errors.Wrapf(ErrDependencyNotReady, "[%s] requires unknown resource [%s]", rc.Id, rc.Requires)
	}
	if dep.State != model.StateOnline {
		return errors.Wrapf(ErrDependencyNotReady, "[%s] requires [%s] online, it is [%s]", rc.Id, rc.Requires, dep.State)
	}
	return nil
}

// GetState returns the latest snapshot of resourceId. It never waits on remote I/O.
func (c *Controller) GetState(resourceId string) (StateView, error) {
	snapshot, err := c.store.Get(resourceId)
	if err != nil {
		if errors.Is(err, store.ErrResourceNotFound) {
			return StateView{}, errors.Wrapf(ErrUnknownResource, "[%s]", resourceId)
		}
		return StateView{}, err
	}
	return c.view(snapshot), nil
}

func (c *Controller) Resources() []StateView {
	var views []StateView
	for _, snapshot := range c.store.List() {
		views = append(views, c.view(snapshot))
	}
	return views
}

func (c *Controller) Subscribe(buffer int) (<-chan model.Transition, func()) {
	return c.store.Subscribe(buffer)
}

// Run drives polling and transition bookkeeping until ctx is done.
func (c *Controller) Run(ctx context.Context) error {
	transitions, cancel := c.store.Subscribe(64)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.loop.Run(ctx)
	})
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case t := <-transitions:
				c.metrics.Transition(t)
				pfxlog.Logger().WithField("resource", t.ResourceId).Debugf("[%s] -> [%s] (%s)", t.From, t.To, t.Cause)
			}
		}
	})
	return g.Wait()
}

func (c *Controller) view(s model.Snapshot) StateView {
	v := StateView{
		ResourceId:     s.ResourceId,
		Kind:           s.Kind,
		State:          s.State,
		Pending:        s.Pending,
		UpdatedAt:      s.UpdatedAt,
		LastObserved:   s.LastObserved,
		LastObservedAt: s.LastObservedAt,
		LastPollError:  s.LastPollError,
	}
	if s.Pending != nil {
		v.RemainingTimeoutSeconds = int(math.Ceil(s.Pending.Remaining(c.clock.Now()).Seconds()))
	}
	return v
}

func defaultDeadline(d model.Direction) time.Duration {
	if d == model.DirectionStart {
		return model.DefaultStartDeadline
	}
	return model.DefaultStopDeadline
}

func requestResult(err error) string {
	switch {
	case errors.Is(err, ErrOperationInProgress):
		return "in_progress"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid"
	case errors.Is(err, ErrDependencyNotReady):
		return "dependency_not_ready"
	}
	return "error"
}
