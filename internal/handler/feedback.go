package handler

import (
	"net/http"

	appI18n "github.com/pavelanni/ecgtrainer/internal/i18n"
)

// handleFeedback returns the newest generated summary for the caller.
func (h *Handler) handleFeedback(w http.ResponseWriter, r *http.Request) {
	f, err := h.store.LatestFeedback(identity(r).UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if f == nil {
		writeJSON(w, http.StatusNotFound, messageResponse{
			Code:    "NoFeedback",
			Message: appI18n.T(r.Context(), "NoFeedback"),
		})
		return
	}
	writeJSON(w, http.StatusOK, f)
}
