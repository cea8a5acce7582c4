package handler

import (
	"net/http"

	appI18n "github.com/pavelanni/ecgtrainer/internal/i18n"
	"github.com/pavelanni/ecgtrainer/internal/imagebank"
	"github.com/pavelanni/ecgtrainer/internal/label"
	"github.com/pavelanni/ecgtrainer/internal/model"
)

type randomImageResponse struct {
	PhotoName   string         `json:"photoName"`
	Path        string         `json:"path"`
	Category    model.Category `json:"category"`
	Subcategory string         `json:"subcategory,omitempty"`
	Rate        float64        `json:"rate"`
}

// handleRandomImage serves the next question image. During an exam the
// examId cookie keeps already answered photos out of the draw.
func (h *Handler) handleRandomImage(w http.ResponseWriter, r *http.Request) {
	ic, err := h.store.RandomImage(identity(r).UserID, examIDFrom(r, r.URL.Query().Get("examId")))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, randomImageResponse{
		PhotoName:   ic.PhotoName,
		Path:        h.path("/images/" + imagebank.GradedPath(ic.Category, ic.Subcategory, ic.PhotoName)),
		Category:    ic.Category,
		Subcategory: ic.Subcategory,
		Rate:        ic.Rate,
	})
}

type trainingAnswerRequest struct {
	PhotoName         string `json:"photoName" validate:"required"`
	Label             string `json:"classificationDes" validate:"required"`
	AnswerTime        int64  `json:"answerSubmitTime" validate:"min=0"`
	AnswerChange      string `json:"answerChange" validate:"max=500"`
	AlertActivated    int    `json:"alertActivated" validate:"min=0"`
	HelpActivated     bool   `json:"helpActivated"`
	HelpTimeActivated int64  `json:"helpTimeActivated" validate:"min=0"`
}

type trainingAnswerResponse struct {
	Message        string         `json:"message"`
	ID             int64          `json:"id"`
	Correct        bool           `json:"correct"`
	SrcCategory    model.Category `json:"classificationSetSrc"`
	SrcSubcategory string         `json:"classificationSubSetSrc,omitempty"`
}

func (h *Handler) handleTrainingAnswer(w http.ResponseWriter, r *http.Request) {
	var req trainingAnswerRequest
	if !h.decode(w, r, &req) {
		return
	}
	ic, err := h.store.GetClassification(req.PhotoName)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	cat, sub, err := label.Normalize(req.Label)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	id, err := h.store.RecordTrainingAnswer(model.Answer{
		UserID:            identity(r).UserID,
		PhotoName:         ic.PhotoName,
		SrcCategory:       ic.Category,
		SrcSubcategory:    ic.Subcategory,
		DesCategory:       cat,
		DesSubcategory:    sub,
		AnswerTime:        req.AnswerTime,
		AnswerChange:      req.AnswerChange,
		AlertActivated:    req.AlertActivated,
		HelpActivated:     req.HelpActivated,
		HelpTimeActivated: req.HelpTimeActivated,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	correct := label.Matches(cat, ic.Category)
	result := "incorrect"
	if correct {
		result = "correct"
	}
	trainingAnswers.WithLabelValues(result).Inc()

	writeJSON(w, http.StatusOK, trainingAnswerResponse{
		Message:        appI18n.T(r.Context(), "TrainingRecorded"),
		ID:             id,
		Correct:        correct,
		SrcCategory:    ic.Category,
		SrcSubcategory: ic.Subcategory,
	})
}

func (h *Handler) handleTrainingHistory(w http.ResponseWriter, r *http.Request) {
	answers, err := h.store.ListTrainingAnswers(identity(r).UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if answers == nil {
		answers = []model.Answer{}
	}
	writeJSON(w, http.StatusOK, answers)
}
