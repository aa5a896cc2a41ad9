package remote

import (
	"fmt"
	"strings"

	"github.com/openziti/hostctl/kernel/model"
	"github.com/pkg/errors"
)

var (
	// ErrAllEndpointsFailed is returned when no endpoint accepted a command. It is not fatal: the
	// command may still have taken effect.
	ErrAllEndpointsFailed = errors.New("all endpoints failed")

	ErrNoEndpoints       = errors.New("no endpoints configured")
	ErrUnreachable       = errors.New("status endpoint unreachable")
	ErrUnrecognizedState = errors.New("unrecognized remote state")
)

// EndpointError records why one endpoint of a chain failed.
type EndpointError struct {
	Url      string
	Role     model.Role
	Attempts int
	Err      error
}

func (e EndpointError) Error() string {
	return fmt.Sprintf("%s endpoint %s (%d attempt(s)): %v", e.Role, e.Url, e.Attempts, e.Err)
}

// DispatchError lists every failed endpoint. It matches ErrAllEndpointsFailed.
type DispatchError struct {
	ResourceId string
	Operation  model.OperationKind
	Failures   []EndpointError
}

func (e *DispatchError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, f.Error())
	}
	return fmt.Sprintf("%s on [%s]: %v: %s", e.Operation, e.ResourceId, ErrAllEndpointsFailed, strings.Join(parts, "; "))
}

func (e *DispatchError) Is(target error) bool {
	return target == ErrAllEndpointsFailed
}
