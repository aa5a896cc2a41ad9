package engine

import (
	"time"

	"github.com/michaelquigley/pfxlog"
	"github.com/openziti/hostctl/kernel/metrics"
	"github.com/openziti/hostctl/kernel/model"
	"github.com/openziti/hostctl/kernel/store"
)

// Supervisor forces resolution of pending operations whose deadline passed without confirmation.
// Start-type operations revert to where they began; stop-type operations are assumed to have
// succeeded, since a later poll still corrects the record if they did not.
type Supervisor struct {
	metrics *metrics.Metrics
}

func NewSupervisor(m *metrics.Metrics) *Supervisor {
	return &Supervisor{metrics: m}
}

// Expire resolves rec's pending operation if its deadline has passed at now. It must run inside
// the resource's critical section, after any confirmation has been applied; it fires at most once
// because resolution clears the pending record.
func (s *Supervisor) Expire(rec *store.Record, now time.Time) bool {
	p := rec.Pending
	if p == nil || now.Before(p.Deadline) {
		return false
	}

	fallback := p.Kind.Fallback()
	pfxlog.Logger().WithField("resource", rec.ResourceId).
		WithField("operation", p.Id).
		Warnf("%s not confirmed within %v, settling on [%s]", p.Kind, p.Deadline.Sub(p.StartedAt), fallback)

	resolve(rec, fallback, model.CauseTimeout, now, s.metrics)
	return true
}

// resolve commits the final state of rec's pending operation and destroys it.
func resolve(rec *store.Record, to model.State, cause model.Cause, now time.Time, m *metrics.Metrics) {
	p := rec.Pending
	rec.MoveTo(to, cause, now)
	rec.Pending = nil
	rec.UnreachableSince = time.Time{}
	m.Resolved(rec.ResourceId, p.Kind, cause)
}
