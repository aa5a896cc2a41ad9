package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/heptiolabs/healthcheck"
	"github.com/michaelquigley/pfxlog"
	"github.com/openziti/foundation/v2/concurrenz"
	"github.com/openziti/hostctl/kernel/api"
	"github.com/openziti/hostctl/kernel/model"
	"github.com/openziti/hostctl/kernel/remote"
)

const (
	commandTimeout = 30 * time.Second
	outputLimit    = 4096

	shuttingDownBit = 0
)

// StatusResponse is what the controller's status prober reads. Both keys carry the same value so
// older dashboards reading "status" keep working.
type StatusResponse struct {
	State  model.State `json:"state"`
	Status model.State `json:"status"`
	Output string      `json:"output,omitempty"`
}

type CommandResponse struct {
	Accepted bool   `json:"accepted"`
	Message  string `json:"message,omitempty"`
	Output   string `json:"output,omitempty"`
}

type wakeRequest struct {
	Mac       string `json:"mac"`
	Broadcast string `json:"broadcast"`
}

// Agent runs on a controlled host (or a relay on its LAN) and serves the status and command
// endpoints the controller dispatches to.
type Agent struct {
	cfg      *model.AgentConfig
	runner   Runner
	services map[string]*model.AgentServiceConfig
	mux      *http.ServeMux

	flags concurrenz.AtomicBitSet

	// ShutdownDelay lets the response reach the caller before the host goes down.
	ShutdownDelay time.Duration

	// Wake sends a magic packet; replaced in tests.
	Wake func(ctx context.Context, mac, broadcast string) error

	// System reports host telemetry; replaced in tests.
	System func(ctx context.Context) (*SystemInfo, error)
}

func New(cfg *model.AgentConfig, runner Runner) *Agent {
	if runner == nil {
		runner = LocalRunner{}
	}
	a := &Agent{
		cfg:           cfg,
		runner:        runner,
		services:      make(map[string]*model.AgentServiceConfig),
		mux:           http.NewServeMux(),
		ShutdownDelay: time.Second,
		Wake:          remote.SendMagicPacket,
		System:        ReadSystemInfo,
	}
	for _, svc := range cfg.Services {
		a.services[svc.Name] = svc
	}

	health := healthcheck.NewHandler()
	a.mux.Handle("/live", health)
	a.mux.Handle("/ready", health)

	a.mux.HandleFunc("GET /api/power/status", a.handlePowerStatus)
	a.mux.HandleFunc("POST /api/power/shutdown", a.handleShutdown)
	a.mux.HandleFunc("POST /api/power/wakeup", a.handleWakeup)
	a.mux.HandleFunc("POST /wakeup", a.handleWakeup)
	a.mux.HandleFunc("GET /api/services/{name}/status", a.handleServiceStatus)
	a.mux.HandleFunc("POST /api/services/{name}/start", a.handleServiceCommand)
	a.mux.HandleFunc("POST /api/services/{name}/stop", a.handleServiceCommand)
	a.mux.HandleFunc("GET /api/system", a.handleSystem)
	return a
}

func (a *Agent) Handler() http.Handler {
	return a.mux
}

func (a *Agent) Run(ctx context.Context) error {
	return api.Serve(ctx, "agent", a.cfg.Listen, a.mux)
}

func (a *Agent) handlePowerStatus(w http.ResponseWriter, _ *http.Request) {
	state := model.StateOnline
	if a.flags.IsSet(shuttingDownBit) {
		state = model.StateShuttingDown
	}
	api.WriteJSON(w, http.StatusOK, StatusResponse{State: state, Status: state})
}

func (a *Agent) handleShutdown(w http.ResponseWriter, _ *http.Request) {
	if len(a.cfg.ShutdownCommand) == 0 {
		api.WriteJSON(w, http.StatusNotImplemented, CommandResponse{Message: "no shutdown command configured"})
		return
	}
	if !a.flags.CompareAndSet(shuttingDownBit, false, true) {
		api.WriteJSON(w, http.StatusAccepted, CommandResponse{Accepted: true, Message: "shutdown already in progress"})
		return
	}

	log := pfxlog.Logger()
	log.Warnf("shutdown requested, running %v in %v", a.cfg.ShutdownCommand, a.ShutdownDelay)
	go func() {
		time.Sleep(a.ShutdownDelay)
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		out, code, err := a.runner.Run(ctx, a.cfg.ShutdownCommand)
		if err != nil || code != 0 {
			log.WithError(err).Errorf("shutdown command failed with exit code %d: %s", code, truncate(out))
			a.flags.Set(shuttingDownBit, false)
		}
	}()
	api.WriteJSON(w, http.StatusAccepted, CommandResponse{Accepted: true, Message: "shutdown initiated"})
}

func (a *Agent) handleWakeup(w http.ResponseWriter, r *http.Request) {
	req := wakeRequest{}
	if a.cfg.Wake != nil {
		req.Mac = a.cfg.Wake.Mac
		req.Broadcast = a.cfg.Wake.Broadcast
	}
	if r.ContentLength != 0 {
		var body wakeRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
			if body.Mac != "" {
				req.Mac = body.Mac
			}
			if body.Broadcast != "" {
				req.Broadcast = body.Broadcast
			}
		}
	}
	if req.Mac == "" {
		api.WriteJSON(w, http.StatusNotImplemented, CommandResponse{Message: "no wake target configured"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if err := a.Wake(ctx, req.Mac, req.Broadcast); err != nil {
		pfxlog.Logger().WithError(err).Errorf("wake of %s failed", req.Mac)
		api.WriteJSON(w, http.StatusBadGateway, CommandResponse{Message: err.Error()})
		return
	}
	pfxlog.Logger().Infof("magic packet sent to %s", req.Mac)
	api.WriteJSON(w, http.StatusAccepted, CommandResponse{Accepted: true, Message: "magic packet sent"})
}

func (a *Agent) handleServiceStatus(w http.ResponseWriter, r *http.Request) {
	svc, found := a.services[r.PathValue("name")]
	if !found {
		api.WriteJSON(w, http.StatusNotFound, CommandResponse{Message: "unknown service"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), commandTimeout)
	defer cancel()
	out, code, err := a.runner.Run(ctx, svc.Status)
	if err != nil {
		api.WriteJSON(w, http.StatusInternalServerError, CommandResponse{Message: err.Error()})
		return
	}
	state := model.StateStopped
	if code == 0 {
		state = model.StateRunning
	}
	api.WriteJSON(w, http.StatusOK, StatusResponse{State: state, Status: state, Output: truncate(out)})
}

func (a *Agent) handleServiceCommand(w http.ResponseWriter, r *http.Request) {
	svc, found := a.services[r.PathValue("name")]
	if !found {
		api.WriteJSON(w, http.StatusNotFound, CommandResponse{Message: "unknown service"})
		return
	}
	argv := svc.Start
	if strings.HasSuffix(r.URL.Path, "/stop") {
		argv = svc.Stop
	}
	if len(argv) == 0 {
		api.WriteJSON(w, http.StatusNotImplemented, CommandResponse{Message: "command not configured"})
		return
	}

	log := pfxlog.Logger().WithField("service", svc.Name)
	ctx, cancel := context.WithTimeout(r.Context(), commandTimeout)
	defer cancel()
	out, code, err := a.runner.Run(ctx, argv)
	if err != nil || code != 0 {
		log.WithError(err).Errorf("%v failed with exit code %d", argv, code)
		api.WriteJSON(w, http.StatusBadGateway, CommandResponse{Message: "command failed", Output: truncate(out)})
		return
	}
	log.Infof("%v accepted", argv)
	api.WriteJSON(w, http.StatusAccepted, CommandResponse{Accepted: true, Output: truncate(out)})
}

func (a *Agent) handleSystem(w http.ResponseWriter, r *http.Request) {
	info, err := a.System(r.Context())
	if err != nil {
		api.WriteJSON(w, http.StatusInternalServerError, CommandResponse{Message: err.Error()})
		return
	}
	api.WriteJSON(w, http.StatusOK, info)
}

func truncate(out string) string {
	out = strings.TrimSpace(out)
	if len(out) > outputLimit {
		return out[:outputLimit]
	}
	return out
}
