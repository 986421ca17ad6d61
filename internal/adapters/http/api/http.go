// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/robopong/slingbot/internal/domain/model"
	"github.com/robopong/slingbot/internal/orchestrator"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	// Interpret parses a raw utterance into a command event.
	Interpret(raw string) (model.CommandEvent, bool)

	// Dispatch runs one command through the lifecycle state machine.
	Dispatch(ctx context.Context, verb model.Verb) orchestrator.Result

	// Reload runs a manual reload sequence.
	Reload(ctx context.Context) orchestrator.Result

	// ReloadCalibration re-reads the calibration file.
	ReloadCalibration() error

	// Status reports the current service state.
	Status() Status
}

// Status mirrors the read shape returned by GET /status.
type Status struct {
	State         string  `json:"state"`
	PendingReload bool    `json:"pending_reload"`
	SessionActive bool    `json:"session_active"`
	Detections    int     `json:"detections"`
	SnapshotAgeMs float64 `json:"snapshot_age_ms,omitempty"`
	Targets       []int   `json:"targets"`
}

// Server wires HTTP routes for the operator API.
type Server struct {
	healthHandler  *HealthHandler
	commandHandler *CommandHandler
	statusHandler  *StatusHandler
	reloadHandler  *ReloadHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies) *Server {
	return &Server{
		healthHandler:  NewHealthHandler(),
		commandHandler: NewCommandHandler(deps),
		statusHandler:  NewStatusHandler(deps),
		reloadHandler:  NewReloadHandler(deps),
	}
}

// Register attaches all HTTP routes to mux. Mutating routes go through the
// auth middleware; /healthz stays open for scrapers and probes.
func (s *Server) Register(mux *http.ServeMux, auth Middleware) {
	mux.HandleFunc("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("/status", MetricsMiddleware(auth(s.statusHandler.HandleGetStatus), "status"))
	mux.HandleFunc("/command", MetricsMiddleware(auth(s.commandHandler.HandlePostCommand), "command"))
	mux.HandleFunc("/reload", MetricsMiddleware(auth(s.reloadHandler.HandlePostReload), "reload"))
	mux.HandleFunc("/calibration/reload", MetricsMiddleware(auth(s.reloadHandler.HandlePostCalibrationReload), "calibration_reload"))
}

// commandRequest accepts either a raw utterance or a bare verb.
type commandRequest struct {
	Utterance string `json:"utterance,omitempty"`
	Verb      string `json:"verb,omitempty"`
}

func (c commandRequest) validate() error {
	if strings.TrimSpace(c.Utterance) == "" && strings.TrimSpace(c.Verb) == "" {
		return errors.New("missing utterance or verb")
	}
	return nil
}

// commandResponse reports the outcome of one dispatched command.
type commandResponse struct {
	Outcome string `json:"outcome"`
	State   string `json:"state"`
	Target  int    `json:"target,omitempty"`
	Step    string `json:"step,omitempty"`
	Error   string `json:"error,omitempty"`
	Warning string `json:"warning,omitempty"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// resultResponse flattens an orchestrator result into the wire shape.
func resultResponse(res orchestrator.Result) commandResponse {
	resp := commandResponse{
		Outcome: string(res.Outcome),
		State:   string(res.State),
		Target:  int(res.Target),
		Step:    res.Step,
	}
	if res.Err != nil {
		resp.Error = res.Err.Error()
	}
	if res.Warn != nil {
		resp.Warning = res.Warn.Error()
	}
	return resp
}

// resultStatus maps a command outcome to an HTTP status code.
func resultStatus(res orchestrator.Result) int {
	switch res.Outcome {
	case orchestrator.OutcomeBusy, orchestrator.OutcomeStateConflict:
		return http.StatusConflict
	case orchestrator.OutcomeNoTarget:
		return http.StatusNotFound
	case orchestrator.OutcomeInitFailed, orchestrator.OutcomeShotAborted:
		return http.StatusInternalServerError
	default:
		return http.StatusOK
	}
}
