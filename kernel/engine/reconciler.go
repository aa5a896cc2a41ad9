package engine

import (
	"context"
	"time"

	"github.com/michaelquigley/pfxlog"
	"github.com/openziti/hostctl/kernel/metrics"
	"github.com/openziti/hostctl/kernel/model"
	"github.com/openziti/hostctl/kernel/remote"
	"github.com/openziti/hostctl/kernel/store"
	"github.com/pkg/errors"
)

// Prober reports the observed remote state of a resource.
type Prober interface {
	Probe(ctx context.Context, resourceId string) (model.State, error)
}

// Reconciler maps observed remote status into the authoritative state held by the store.
//
// Unreachability is evidence only toward offline/stopped: it is ignored while a start-type
// operation is pending, and counts as confirmation of a stop-type operation (or of an idle
// resource being down) once it has lasted for the resource's grace period.
type Reconciler struct {
	Store      store.StateStore
	prober     Prober
	supervisor *Supervisor
	clock      Clock
	metrics    *metrics.Metrics
	grace      map[string]time.Duration
}

func NewReconciler(s store.StateStore, p Prober, sup *Supervisor, clock Clock, m *metrics.Metrics) *Reconciler {
	return &Reconciler{
		Store:      s,
		prober:     p,
		supervisor: sup,
		clock:      clock,
		metrics:    m,
		grace:      make(map[string]time.Duration),
	}
}

// SetGrace sets how long resourceId must stay unreachable before that counts as offline/stopped.
func (r *Reconciler) SetGrace(resourceId string, grace time.Duration) {
	r.grace[resourceId] = grace
}

func (r *Reconciler) graceFor(resourceId string) time.Duration {
	if grace, ok := r.grace[resourceId]; ok {
		return grace
	}
	return model.DefaultUnreachableGrace
}

// ReconcileOnce polls resourceId once and applies the result, then lets the supervisor expire an
// overdue operation. Confirmation is applied first, so it wins over a deadline on the same pass.
func (r *Reconciler) ReconcileOnce(ctx context.Context, resourceId string) error {
	before, err := r.Store.Get(resourceId)
	if err != nil {
		return err
	}
	probedOp := ""
	if before.Pending != nil {
		probedOp = before.Pending.Id
	}

	observed, probeErr := r.prober.Probe(ctx, resourceId)
	now := r.clock.Now()
	r.metrics.Poll(resourceId, pollResult(probeErr))

	log := pfxlog.Logger().WithField("resource", resourceId)
	if probeErr != nil && !errors.Is(probeErr, remote.ErrUnreachable) {
		log.WithError(probeErr).Debug("status query returned no usable state")
	}

	_, err = r.Store.Mutate(resourceId, func(rec *store.Record) error {
		r.observe(rec, observed, probeErr, now)

		switch {
		case rec.Pending != nil && rec.Pending.Id == probedOp:
			r.reconcilePending(rec, observed, probeErr, now)
		case rec.Pending == nil && probedOp == "":
			r.reconcileIdle(rec, observed, probeErr, now)
		default:
			// an operation was admitted while the query was in flight; the answer predates it
		}

		r.supervisor.Expire(rec, now)
		return nil
	})
	return err
}

func (r *Reconciler) observe(rec *store.Record, observed model.State, probeErr error, now time.Time) {
	if probeErr != nil {
		rec.LastPollError = probeErr.Error()
		return
	}
	rec.LastPollError = ""
	rec.LastObserved = observed
	rec.LastObservedAt = now
}

func (r *Reconciler) reconcilePending(rec *store.Record, observed model.State, probeErr error, now time.Time) {
	p := rec.Pending
	edge := p.Kind.Edge()
	log := pfxlog.Logger().WithField("resource", rec.ResourceId).WithField("operation", p.Id)

	switch {
	case probeErr == nil:
		p.UnreachableSince = time.Time{}
		if observed == edge.Target {
			log.Infof("%s confirmed, resource is [%s]", p.Kind, observed)
			resolve(rec, edge.Target, model.CauseConfirmed, now, r.metrics)
		}

	case errors.Is(probeErr, remote.ErrUnreachable):
		if edge.Direction == model.DirectionStart {
			// expected while the host boots
			return
		}
		if p.UnreachableSince.IsZero() {
			p.UnreachableSince = now
		}
		if unreachableFor := now.Sub(p.UnreachableSince); unreachableFor >= r.graceFor(rec.ResourceId) {
			log.Infof("%s confirmed, resource unreachable for %v", p.Kind, unreachableFor)
			resolve(rec, edge.Target, model.CauseConfirmed, now, r.metrics)
		}
	}
}

func (r *Reconciler) reconcileIdle(rec *store.Record, observed model.State, probeErr error, now time.Time) {
	switch {
	case probeErr == nil:
		rec.UnreachableSince = time.Time{}
		if observed.Terminal(rec.Kind) && observed != rec.State {
			pfxlog.Logger().WithField("resource", rec.ResourceId).Infof("observed [%s], was [%s]", observed, rec.State)
			rec.MoveTo(observed, model.CauseObserved, now)
		}

	case errors.Is(probeErr, remote.ErrUnreachable):
		if rec.UnreachableSince.IsZero() {
			rec.UnreachableSince = now
		}
		down := rec.Kind.Down()
		if rec.State != down && now.Sub(rec.UnreachableSince) >= r.graceFor(rec.ResourceId) {
			pfxlog.Logger().WithField("resource", rec.ResourceId).Infof("unreachable since %v, now [%s]", rec.UnreachableSince.Format(time.RFC3339), down)
			rec.MoveTo(down, model.CauseObserved, now)
		}
	}
}

func pollResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, remote.ErrUnreachable):
		return "unreachable"
	case errors.Is(err, remote.ErrUnrecognizedState):
		return "unrecognized"
	}
	return "error"
}
