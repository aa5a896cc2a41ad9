package model

import "fmt"

// ResourceKind distinguishes a physical host (power) from a service hosted on one.
type ResourceKind string

const (
	KindPower   ResourceKind = "power"
	KindService ResourceKind = "service"
)

func (k ResourceKind) Valid() bool {
	return k == KindPower || k == KindService
}

// State is the lifecycle state of a controlled resource.
type State string

const (
	StateUnknown State = "unknown"

	StateOffline      State = "offline"
	StateStarting     State = "starting"
	StateOnline       State = "online"
	StateShuttingDown State = "shutting_down"

	StateStopped  State = "stopped"
	StateRunning  State = "running"
	StateStopping State = "stopping"
)

var statesByKind = map[ResourceKind][]State{
	KindPower:   {StateOffline, StateStarting, StateOnline, StateShuttingDown},
	KindService: {StateStopped, StateStarting, StateRunning, StateStopping},
}

// ValidFor reports whether s belongs to the state graph of kind k. Unknown is valid for every kind.
func (s State) ValidFor(k ResourceKind) bool {
	if s == StateUnknown {
		return true
	}
	for _, candidate := range statesByKind[k] {
		if candidate == s {
			return true
		}
	}
	return false
}

// Terminal reports whether s is a resting state of kind k (no operation drives it).
func (s State) Terminal(k ResourceKind) bool {
	switch k {
	case KindPower:
		return s == StateOffline || s == StateOnline
	case KindService:
		return s == StateStopped || s == StateRunning
	}
	return false
}

// Transitional reports whether s is an in-flight state of kind k.
func (s State) Transitional(k ResourceKind) bool {
	return s.ValidFor(k) && s != StateUnknown && !s.Terminal(k)
}

// Down returns the "offline/stopped" resting state of kind k.
func (k ResourceKind) Down() State {
	if k == KindService {
		return StateStopped
	}
	return StateOffline
}

// Direction classifies an operation by the direction it drives a resource.
type Direction string

const (
	DirectionStart Direction = "start"
	DirectionStop  Direction = "stop"
)

// OperationKind names a remote intent.
type OperationKind string

const (
	OpPowerOn      OperationKind = "power_on"
	OpPowerOff     OperationKind = "power_off"
	OpServiceStart OperationKind = "service_start"
	OpServiceStop  OperationKind = "service_stop"
)

// Edge is one arc of the lifecycle graph driven by an operation.
type Edge struct {
	Resource     ResourceKind
	From         State
	Transitional State
	Target       State
	Direction    Direction
}

var edges = map[OperationKind]Edge{
	OpPowerOn:      {Resource: KindPower, From: StateOffline, Transitional: StateStarting, Target: StateOnline, Direction: DirectionStart},
	OpPowerOff:     {Resource: KindPower, From: StateOnline, Transitional: StateShuttingDown, Target: StateOffline, Direction: DirectionStop},
	OpServiceStart: {Resource: KindService, From: StateStopped, Transitional: StateStarting, Target: StateRunning, Direction: DirectionStart},
	OpServiceStop:  {Resource: KindService, From: StateRunning, Transitional: StateStopping, Target: StateStopped, Direction: DirectionStop},
}

// OperationKinds lists every known operation in a stable order.
func OperationKinds() []OperationKind {
	return []OperationKind{OpPowerOn, OpPowerOff, OpServiceStart, OpServiceStop}
}

// ParseOperationKind accepts the canonical names plus a few aliases used by the CLI and HTTP API.
func ParseOperationKind(raw string) (OperationKind, error) {
	switch raw {
	case string(OpPowerOn), "wakeup", "wake", "on":
		return OpPowerOn, nil
	case string(OpPowerOff), "shutdown", "off":
		return OpPowerOff, nil
	case string(OpServiceStart), "start":
		return OpServiceStart, nil
	case string(OpServiceStop), "stop":
		return OpServiceStop, nil
	}
	return "", fmt.Errorf("unknown operation kind '%s'", raw)
}

func (k OperationKind) Valid() bool {
	_, ok := edges[k]
	return ok
}

// Edge returns the lifecycle arc for k. It panics on an unknown kind; validate first.
func (k OperationKind) Edge() Edge {
	e, ok := edges[k]
	if !ok {
		panic("unknown operation kind " + string(k))
	}
	return e
}

func (k OperationKind) Direction() Direction {
	return k.Edge().Direction
}

// Fallback is the state committed when the operation's deadline expires unconfirmed.
// Start-type operations revert to where they began, stop-type operations assume success.
func (k OperationKind) Fallback() State {
	e := k.Edge()
	if e.Direction == DirectionStart {
		return e.From
	}
	return e.Target
}
