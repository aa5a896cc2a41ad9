package engine

import (
	"github.com/openziti/hostctl/kernel/remote"
	"github.com/pkg/errors"
)

var (
	// ErrOperationInProgress rejects an intent while another operation is pending on the resource.
	// Nothing is dispatched and the pending deadline is left untouched.
	ErrOperationInProgress = errors.New("operation in progress")

	ErrInvalidTransition    = errors.New("invalid transition")
	ErrUnknownResource      = errors.New("unknown resource")
	ErrUnsupportedOperation = errors.New("operation not configured for resource")
	ErrDependencyNotReady   = errors.New("dependency not ready")

	// ErrAllEndpointsFailed accompanies a non-nil Accepted: the operation proceeds optimistically.
	ErrAllEndpointsFailed = remote.ErrAllEndpointsFailed
)
