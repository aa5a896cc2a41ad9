package engine

import (
	"context"
	"sync"
	"time"

	"github.com/michaelquigley/pfxlog"
	"github.com/openziti/foundation/v2/concurrenz"
	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/panjf2000/ants/v2"
	"github.com/pkg/errors"
)

const pollingBit = 0

// PollLoop drives the reconciler on a fixed tick. Each resource is polled at most once at a time;
// while an operation is pending it is polled at the operation's interval, otherwise at its idle
// interval. The tick also guarantees the deadline check even when the status query stalls.
type PollLoop struct {
	reconciler *Reconciler
	clock      Clock
	tick       time.Duration
	workers    int

	idle     map[string]time.Duration
	next     cmap.ConcurrentMap[string, time.Time]
	inFlight cmap.ConcurrentMap[string, *concurrenz.AtomicBitSet]
	wg       sync.WaitGroup
}

func NewPollLoop(r *Reconciler, clock Clock, tick time.Duration, workers int) *PollLoop {
	if workers < 1 {
		workers = 8
	}
	return &PollLoop{
		reconciler: r,
		clock:      clock,
		tick:       tick,
		workers:    workers,
		idle:       make(map[string]time.Duration),
		next:       cmap.New[time.Time](),
		inFlight:   cmap.New[*concurrenz.AtomicBitSet](),
	}
}

// Watch adds resourceId to the loop with the given idle poll interval. It is due immediately.
func (l *PollLoop) Watch(resourceId string, idle time.Duration) {
	l.idle[resourceId] = idle
	l.inFlight.SetIfAbsent(resourceId, new(concurrenz.AtomicBitSet))
}

// Schedule makes resourceId due at the given time, e.g. right after an operation is admitted.
func (l *PollLoop) Schedule(resourceId string, at time.Time) {
	l.next.Set(resourceId, at)
}

// Run ticks until ctx is done, then waits for in-flight polls to finish.
func (l *PollLoop) Run(ctx context.Context) error {
	pool, err := ants.NewPool(l.workers, ants.WithNonblocking(true))
	if err != nil {
		return errors.Wrap(err, "unable to create poll worker pool")
	}
	defer pool.Release()

	ticker := time.NewTicker(l.tick)
	defer ticker.Stop()

	l.TickOnce(ctx, pool)
	for {
		select {
		case <-ctx.Done():
			l.wg.Wait()
			return nil
		case <-ticker.C:
			l.TickOnce(ctx, pool)
		}
	}
}

// TickOnce submits every due resource that is not already being polled.
func (l *PollLoop) TickOnce(ctx context.Context, pool *ants.Pool) {
	now := l.clock.Now()
	for resourceId := range l.idle {
		if !l.due(resourceId, now) {
			continue
		}
		flag, found := l.inFlight.Get(resourceId)
		if !found || !flag.CompareAndSet(pollingBit, false, true) {
			continue
		}

		resourceId := resourceId
		l.wg.Add(1)
		err := pool.Submit(func() {
			defer l.wg.Done()
			defer flag.Set(pollingBit, false)
			l.pollOne(ctx, resourceId)
		})
		if err != nil {
			l.wg.Done()
			flag.Set(pollingBit, false)
			pfxlog.Logger().WithField("resource", resourceId).WithError(err).Debug("poll deferred to next tick")
		}
	}
}

func (l *PollLoop) due(resourceId string, now time.Time) bool {
	next, found := l.next.Get(resourceId)
	if !found || !now.Before(next) {
		return true
	}
	if snapshot, err := l.reconciler.Store.Get(resourceId); err == nil && snapshot.Pending != nil {
		return !now.Before(snapshot.Pending.Deadline)
	}
	return false
}

func (l *PollLoop) pollOne(ctx context.Context, resourceId string) {
	if err := l.reconciler.ReconcileOnce(ctx, resourceId); err != nil {
		pfxlog.Logger().WithField("resource", resourceId).WithError(err).Error("reconcile failed")
	}

	interval := l.idle[resourceId]
	if snapshot, err := l.reconciler.Store.Get(resourceId); err == nil && snapshot.Pending != nil {
		interval = snapshot.Pending.PollInterval
	}
	l.next.Set(resourceId, l.clock.Now().Add(interval))
}
