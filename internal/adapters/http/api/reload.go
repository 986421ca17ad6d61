package api

import (
	"errors"
	"net/http"

	"github.com/robopong/slingbot/internal/orchestrator"
)

// ReloadHandler handles the manual reload endpoints.
type ReloadHandler struct {
	deps Dependencies
}

// NewReloadHandler creates a new reload handler.
func NewReloadHandler(deps Dependencies) *ReloadHandler {
	return &ReloadHandler{deps: deps}
}

// HandlePostReload runs the ball reload sequence. Operators call this after
// a shot whose automatic reload failed.
func (h *ReloadHandler) HandlePostReload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", nil)
		return
	}

	res := h.deps.Reload(r.Context())
	writeJSON(w, resultStatus(res), resultResponse(res))
}

// HandlePostCalibrationReload re-reads the calibration file so cup tuning
// can change without a restart.
func (h *ReloadHandler) HandlePostCalibrationReload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", nil)
		return
	}

	if err := h.deps.ReloadCalibration(); err != nil {
		if errors.Is(err, orchestrator.ErrStateConflict) {
			writeError(w, http.StatusConflict, "state_conflict", err)
			return
		}
		writeError(w, http.StatusUnprocessableEntity, "calibration_invalid", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
}
