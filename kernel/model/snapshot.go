package model

import "time"

// PendingOperation is an in-flight transition awaiting confirmation or deadline expiry.
type PendingOperation struct {
	Id           string        `json:"id"`
	Kind         OperationKind `json:"kind"`
	From         State         `json:"from"`
	StartedAt    time.Time     `json:"startedAt"`
	Deadline     time.Time     `json:"deadline"`
	PollInterval time.Duration `json:"pollInterval"`

	// UnreachableSince marks the first failed poll of the current unreachable streak.
	UnreachableSince time.Time `json:"unreachableSince,omitempty"`
}

// Remaining returns the time left before the deadline, never negative.
func (p *PendingOperation) Remaining(now time.Time) time.Duration {
	if p == nil {
		return 0
	}
	if d := p.Deadline.Sub(now); d > 0 {
		return d
	}
	return 0
}

// Snapshot is a read-only copy of a resource record.
type Snapshot struct {
	ResourceId     string            `json:"resourceId"`
	Kind           ResourceKind      `json:"kind"`
	State          State             `json:"state"`
	Pending        *PendingOperation `json:"pending,omitempty"`
	UpdatedAt      time.Time         `json:"updatedAt"`
	LastObserved   State             `json:"lastObserved,omitempty"`
	LastObservedAt time.Time         `json:"lastObservedAt,omitempty"`
	LastPollError  string            `json:"lastPollError,omitempty"`

	// UnreachableSince tracks the idle unreachable streak when no operation is pending.
	UnreachableSince time.Time `json:"unreachableSince,omitempty"`
}

// Clone returns a deep copy so callers never share the pending record with the store.
func (s Snapshot) Clone() Snapshot {
	if s.Pending != nil {
		p := *s.Pending
		s.Pending = &p
	}
	return s
}

// Cause explains why a transition happened.
type Cause string

const (
	CauseRequested Cause = "requested"
	CauseConfirmed Cause = "confirmed"
	CauseTimeout   Cause = "timeout"
	CauseObserved  Cause = "observed"
)

// Transition is a change notification published by the state store.
type Transition struct {
	ResourceId  string        `json:"resourceId"`
	Kind        ResourceKind  `json:"kind"`
	From        State         `json:"from"`
	To          State         `json:"to"`
	Cause       Cause         `json:"cause"`
	Operation   OperationKind `json:"operation,omitempty"`
	OperationId string        `json:"operationId,omitempty"`
	At          time.Time     `json:"at"`
}
