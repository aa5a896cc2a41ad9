package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/heptiolabs/healthcheck"
	"github.com/michaelquigley/pfxlog"
	"github.com/openziti/hostctl/kernel/engine"
	"github.com/openziti/hostctl/kernel/metrics"
	"github.com/openziti/hostctl/kernel/model"
	"github.com/pkg/errors"
)

// Controller is the part of engine.Controller exposed over HTTP.
type Controller interface {
	RequestOperation(ctx context.Context, resourceId string, kind model.OperationKind) (*engine.Accepted, error)
	GetState(resourceId string) (engine.StateView, error)
	Resources() []engine.StateView
	Subscribe(buffer int) (<-chan model.Transition, func())
}

// ErrorResponse is the body of every non-2xx api response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

const (
	CodeUnknownResource      = "unknown_resource"
	CodeInvalidOperation     = "invalid_operation"
	CodeUnsupportedOperation = "unsupported_operation"
	CodeOperationInProgress  = "operation_in_progress"
	CodeInvalidTransition    = "invalid_transition"
	CodeDependencyNotReady   = "dependency_not_ready"
	CodeInternal             = "internal"
)

const (
	eventBuffer          = 64
	transitionEvent      = "transition"
	defaultMaxGoroutines = 10000
	readHeaderTimeout    = 10 * time.Second
	shutdownTimeout      = 5 * time.Second
)

type Server struct {
	ctrl   Controller
	health healthcheck.Handler
	mux    *http.ServeMux
}

func NewServer(ctrl Controller, m *metrics.Metrics) *Server {
	s := &Server{
		ctrl:   ctrl,
		health: healthcheck.NewHandler(),
		mux:    http.NewServeMux(),
	}
	s.health.AddLivenessCheck("goroutines", healthcheck.GoroutineCountCheck(defaultMaxGoroutines))
	s.health.AddReadinessCheck("baseline", s.baselineCheck)

	s.mux.HandleFunc("GET /api/resources", s.handleResources)
	s.mux.HandleFunc("GET /api/resources/{id}", s.handleResource)
	s.mux.HandleFunc("POST /api/resources/{id}/operations/{kind}", s.handleOperation)
	s.mux.HandleFunc("GET /api/events", s.handleEvents)
	s.mux.Handle("/live", s.health)
	s.mux.Handle("/ready", s.health)
	if m != nil {
		s.mux.Handle("/metrics", m.Handler())
	}
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

// Run serves the api on listen until ctx is done.
func (s *Server) Run(ctx context.Context, listen string) error {
	return Serve(ctx, "api", listen, s.mux)
}

// Serve runs handler on listen until ctx is done, then shuts down gracefully. Request contexts
// derive from ctx so long-lived streams end with it.
func Serve(ctx context.Context, name, listen string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              listen,
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	errs := make(chan error, 1)
	go func() {
		pfxlog.Logger().Infof("%s listening on %s", name, listen)
		errs <- srv.ListenAndServe()
	}()

	select {
	case err := <-errs:
		return errors.Wrapf(err, "%s server on %s", name, listen)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return errors.Wrapf(err, "%s shutdown", name)
		}
		return nil
	}
}

// baselineCheck is ready once every resource has left unknown.
func (s *Server) baselineCheck() error {
	for _, v := range s.ctrl.Resources() {
		if v.State == model.StateUnknown {
			return fmt.Errorf("resource [%s] has no baseline yet", v.ResourceId)
		}
	}
	return nil
}

func (s *Server) handleResources(w http.ResponseWriter, r *http.Request) {
	views := s.ctrl.Resources()
	if views == nil {
		views = []engine.StateView{}
	}
	WriteJSON(w, http.StatusOK, views)
}

func (s *Server) handleResource(w http.ResponseWriter, r *http.Request) {
	view, err := s.ctrl.GetState(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, view)
}

func (s *Server) handleOperation(w http.ResponseWriter, r *http.Request) {
	kind, err := model.ParseOperationKind(r.PathValue("kind"))
	if err != nil {
		WriteJSON(w, http.StatusBadRequest, ErrorResponse{Error: CodeInvalidOperation, Message: err.Error()})
		return
	}

	accepted, err := s.ctrl.RequestOperation(r.Context(), r.PathValue("id"), kind)
	if accepted != nil {
		// a failed dispatch is reported inside the acceptance
		WriteJSON(w, http.StatusAccepted, accepted)
		return
	}
	writeError(w, err)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteJSON(w, http.StatusInternalServerError, ErrorResponse{Error: CodeInternal, Message: "streaming unsupported"})
		return
	}
	filter := r.URL.Query().Get("resource")

	transitions, cancel := s.ctrl.Subscribe(eventBuffer)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case t, ok := <-transitions:
			if !ok {
				return
			}
			if filter != "" && t.ResourceId != filter {
				continue
			}
			payload, err := json.Marshal(t)
			if err != nil {
				pfxlog.Logger().WithError(err).Error("unable to encode transition")
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", transitionEvent, payload)
			flusher.Flush()
		}
	}
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		pfxlog.Logger().WithError(err).Debug("unable to write response")
	}
}

func writeError(w http.ResponseWriter, err error) {
	status, code := classify(err)
	WriteJSON(w, status, ErrorResponse{Error: code, Message: err.Error()})
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, engine.ErrUnknownResource):
		return http.StatusNotFound, CodeUnknownResource
	case errors.Is(err, engine.ErrOperationInProgress):
		return http.StatusConflict, CodeOperationInProgress
	case errors.Is(err, engine.ErrInvalidTransition):
		return http.StatusConflict, CodeInvalidTransition
	case errors.Is(err, engine.ErrDependencyNotReady):
		return http.StatusConflict, CodeDependencyNotReady
	case errors.Is(err, engine.ErrUnsupportedOperation):
		return http.StatusBadRequest, CodeUnsupportedOperation
	}
	return http.StatusInternalServerError, CodeInternal
}
