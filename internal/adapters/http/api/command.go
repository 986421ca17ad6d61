package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/robopong/slingbot/internal/domain/command"
	"github.com/robopong/slingbot/internal/domain/model"
)

// CommandHandler handles POST /command requests.
type CommandHandler struct {
	deps Dependencies
}

// NewCommandHandler creates a new command handler.
func NewCommandHandler(deps Dependencies) *CommandHandler {
	return &CommandHandler{deps: deps}
}

// HandlePostCommand dispatches one operator command. The body carries either
// a raw utterance, which goes through the wake-word interpreter, or a bare
// verb for scripted operators.
func (h *CommandHandler) HandlePostCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", nil)
		return
	}

	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", ErrBadRequest)
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}

	ev, ok := h.resolveEvent(req)
	if !ok {
		writeError(w, http.StatusUnprocessableEntity, "ignored", ErrNotACommand)
		return
	}

	res := h.deps.Dispatch(r.Context(), ev.Verb)
	writeJSON(w, resultStatus(res), resultResponse(res))
}

// resolveEvent turns the request body into a command event, preferring the
// utterance form when both are present.
func (h *CommandHandler) resolveEvent(req commandRequest) (model.CommandEvent, bool) {
	if u := strings.TrimSpace(req.Utterance); u != "" {
		return h.deps.Interpret(u)
	}
	// A bare verb skips the wake word; route it through the interpreter
	// anyway so the verb set stays closed in one place.
	return h.deps.Interpret(command.DefaultWakeWord + " " + req.Verb)
}
