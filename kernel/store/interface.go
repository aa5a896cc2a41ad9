package store

import (
	"time"

	"github.com/openziti/hostctl/kernel/model"
	"github.com/pkg/errors"
)

var (
	ErrResourceNotFound  = errors.New("resource not found")
	ErrDuplicateResource = errors.New("resource already registered")
)

// StateStore is the sole owner of resource lifecycle state. Readers get snapshots; writers go
// through Mutate, which runs inside the resource's exclusive critical section.
type StateStore interface {
	Get(resourceId string) (model.Snapshot, error)
	List() []model.Snapshot
	Mutate(resourceId string, fn MutateFunc) (model.Snapshot, error)
	Subscribe(buffer int) (<-chan model.Transition, func())
}

// MutateFunc edits a record under the resource lock. Returning an error discards every change.
// It must not block on remote I/O.
type MutateFunc func(r *Record) error

// Record is the working copy handed to a MutateFunc.
type Record struct {
	model.Snapshot
	transitions []model.Transition
}

// MoveTo changes the state and queues a change notification. Moving to the current state only
// refreshes UpdatedAt.
func (r *Record) MoveTo(to model.State, cause model.Cause, at time.Time) {
	r.UpdatedAt = at
	if r.State == to {
		return
	}
	t := model.Transition{
		ResourceId: r.ResourceId,
		Kind:       r.Kind,
		From:       r.State,
		To:         to,
		Cause:      cause,
		At:         at,
	}
	if r.Pending != nil {
		t.Operation = r.Pending.Kind
		t.OperationId = r.Pending.Id
	}
	r.State = to
	r.transitions = append(r.transitions, t)
}

// Transitions returns the notifications queued so far in this mutation.
func (r *Record) Transitions() []model.Transition {
	return r.transitions
}

// ResourceStore extends StateStore with resource registration.
type ResourceStore interface {
	StateStore
	Register(resourceId string, kind model.ResourceKind) error
}
