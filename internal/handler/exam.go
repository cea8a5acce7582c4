package handler

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/ecgtrainer/internal/exam"
	appI18n "github.com/pavelanni/ecgtrainer/internal/i18n"
	"github.com/pavelanni/ecgtrainer/internal/model"
	"github.com/pavelanni/ecgtrainer/internal/scoring"
)

type startExamRequest struct {
	QuestionCount int    `json:"questionCount" validate:"required,min=1,max=200"`
	Type          string `json:"type" validate:"omitempty,oneof=binary hath full"`
}

type startExamResponse struct {
	Message       string `json:"message"`
	Redirect      string `json:"redirect"`
	ExamID        string `json:"examId"`
	QuestionCount int    `json:"questionCount"`
	AnswerNumber  int    `json:"answerNumber"`
}

// handleStartExam creates an exam. The exam id is the only state the client
// carries; progress lives in the exam row.
func (h *Handler) handleStartExam(w http.ResponseWriter, r *http.Request) {
	var req startExamRequest
	if !h.decode(w, r, &req) {
		return
	}
	ex, err := h.engine.Start(identity(r).UserID, req.QuestionCount, model.ExamType(req.Type))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	examsStarted.WithLabelValues(string(ex.Type)).Inc()

	h.setCookie(w, examIDCookieName, ex.ID)
	writeJSON(w, http.StatusOK, startExamResponse{
		Message:       appI18n.T(r.Context(), "ExamStarted"),
		Redirect:      h.path("/test"),
		ExamID:        ex.ID,
		QuestionCount: ex.QuestionCount,
		AnswerNumber:  ex.NextIndex(),
	})
}

type examAnswerRequest struct {
	ExamID            string `json:"examId"`
	PhotoName         string `json:"photoName" validate:"required"`
	Label             string `json:"classificationDes" validate:"required"`
	AnswerTime        int64  `json:"answerTime" validate:"min=0"`
	AnswerNumber      int    `json:"answerNumber" validate:"min=0"`
	HelpActivated     bool   `json:"helpActivated"`
	HelpTimeActivated int64  `json:"helpTimeActivated" validate:"min=0"`
}

type examAnswerResponse struct {
	Message      string  `json:"message"`
	Redirect     string  `json:"redirect,omitempty"`
	ExamID       string  `json:"examId"`
	Completed    bool    `json:"completed"`
	AnswerNumber int     `json:"answerNumber,omitempty"`
	Remaining    int     `json:"remaining"`
	Score        float64 `json:"score,omitempty"`
}

// examIDFrom returns the exam a request refers to: the body value wins over the cookie.
func examIDFrom(r *http.Request, explicit string) string {
	if explicit != "" {
		return explicit
	}
	if c, err := r.Cookie(examIDCookieName); err == nil {
		return c.Value
	}
	return ""
}

func (h *Handler) handleExamAnswer(w http.ResponseWriter, r *http.Request) {
	var req examAnswerRequest
	if !h.decode(w, r, &req) {
		return
	}
	examID := examIDFrom(r, req.ExamID)
	if examID == "" {
		h.writeError(w, r, model.ErrExamNotFound)
		return
	}

	out, err := h.engine.Submit(exam.Submission{
		UserID:            identity(r).UserID,
		ExamID:            examID,
		PhotoName:         req.PhotoName,
		Label:             req.Label,
		AnswerTime:        req.AnswerTime,
		AnswerNumber:      req.AnswerNumber,
		HelpActivated:     req.HelpActivated,
		HelpTimeActivated: req.HelpTimeActivated,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := examAnswerResponse{
		ExamID:    out.Exam.ID,
		Completed: out.Completed,
		Remaining: out.Exam.QuestionCount - out.Exam.Answered,
	}
	if out.Completed {
		examsCompleted.Inc()
		examScores.Observe(out.Exam.Score)
		h.clearCookie(w, examIDCookieName)

		resp.Score = scoring.Round2(out.Exam.Score)
		resp.Message = appI18n.Td(r.Context(), "ExamFinished", map[string]any{"Score": fmt.Sprintf("%.2f", resp.Score)})
		resp.Redirect = h.path("/post-test-results?examId=" + out.Exam.ID)
	} else {
		resp.AnswerNumber = out.NextIndex
		resp.Message = appI18n.Tp(r.Context(), "AnswerRecorded", resp.Remaining)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleExamState(w http.ResponseWriter, r *http.Request) {
	ex, err := h.engine.Get(identity(r).UserID, chi.URLParam(r, "examID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		model.Exam
		AnswerNumber int `json:"answerNumber"`
	}{ex, ex.NextIndex()})
}

func (h *Handler) handleTestSessions(w http.ResponseWriter, r *http.Request) {
	exams, err := h.engine.List(identity(r).UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if exams == nil {
		exams = []model.Exam{}
	}
	for i := range exams {
		exams[i].Score = scoring.Round2(exams[i].Score)
	}
	writeJSON(w, http.StatusOK, exams)
}

func (h *Handler) handleTestDetails(w http.ResponseWriter, r *http.Request) {
	examID := r.URL.Query().Get("examId")
	if examID == "" {
		writeJSON(w, http.StatusBadRequest, messageResponse{
			Code:    "InvalidRequest",
			Message: appI18n.T(r.Context(), "InvalidRequest"),
			Fields:  map[string]string{"examId": "required"},
		})
		return
	}
	res, err := h.engine.Result(identity(r).UserID, examID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handlePostTestResults returns the summary of the given exam, or of the
// latest completed one. Per-question rows are left to getTestDetails.
func (h *Handler) handlePostTestResults(w http.ResponseWriter, r *http.Request) {
	var (
		res model.ExamResult
		err error
	)
	if examID := r.URL.Query().Get("examId"); examID != "" {
		res, err = h.engine.Result(identity(r).UserID, examID)
	} else {
		res, err = h.engine.LatestResult(identity(r).UserID)
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	res.Answers = nil
	writeJSON(w, http.StatusOK, res)
}
