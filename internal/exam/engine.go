// Package exam drives timed classification exams: it starts exam instances,
// records one answer per question slot and derives results.
package exam

import (
	"fmt"

	"github.com/lithammer/shortuuid/v4"

	"github.com/pavelanni/ecgtrainer/internal/label"
	"github.com/pavelanni/ecgtrainer/internal/model"
	"github.com/pavelanni/ecgtrainer/internal/scoring"
)

// MaxQuestions bounds the question count of a single exam.
const MaxQuestions = 200

// Store is the persistence the engine needs.
type Store interface {
	CreateExam(e model.Exam) error
	GetExam(id, userID string) (model.Exam, error)
	ListExams(userID string) ([]model.Exam, error)
	LatestCompletedExam(userID string) (model.Exam, error)
	GetClassification(photoName string) (model.ImageClassification, error)
	RecordExamAnswer(a model.ExamAnswer) (model.Exam, error)
	ListExamAnswers(examID, userID string) ([]model.ScoredAnswer, error)
}

// Engine runs exam sessions on top of a Store.
type Engine struct {
	store Store
	newID func() string
}

// New creates an Engine.
func New(s Store) *Engine {
	return &Engine{store: s, newID: shortuuid.New}
}

// Submission is one answer sent by a trainee.
type Submission struct {
	UserID            string
	ExamID            string
	PhotoName         string
	Label             string
	AnswerTime        int64
	AnswerNumber      int // optional; 0 lets the exam pick its next slot
	HelpActivated     bool
	HelpTimeActivated int64
}

// Outcome reports the exam state after a submission.
type Outcome struct {
	Exam      model.Exam
	Completed bool
	NextIndex int
}

// Start creates an in-progress exam of n questions for a user. An empty
// type defaults to the full format.
func (e *Engine) Start(userID string, n int, typ model.ExamType) (model.Exam, error) {
	if typ == "" {
		typ = model.ExamTypeFull
	}
	if !typ.Valid() {
		return model.Exam{}, fmt.Errorf("exam type %q: %w", typ, model.ErrInvalidExam)
	}
	if n <= 0 || n > MaxQuestions {
		return model.Exam{}, fmt.Errorf("question count %d: %w", n, model.ErrInvalidExam)
	}
	ex := model.Exam{
		ID:            e.newID(),
		UserID:        userID,
		QuestionCount: n,
		Type:          typ,
		Status:        model.ExamInProgress,
	}
	if err := e.store.CreateExam(ex); err != nil {
		return model.Exam{}, fmt.Errorf("create exam: %w", err)
	}
	return e.store.GetExam(ex.ID, userID)
}

// Get returns the current state of a user's exam.
func (e *Engine) Get(userID, examID string) (model.Exam, error) {
	return e.store.GetExam(examID, userID)
}

// Submit records the answer for the exam's next question. The exam state is
// checked before the photo and label so a finished or foreign exam always
// reports as such. The ground truth comes from the catalog and the submitted
// label is normalized before it is stored. The last answer completes and
// scores the exam.
func (e *Engine) Submit(sub Submission) (Outcome, error) {
	cur, err := e.store.GetExam(sub.ExamID, sub.UserID)
	if err != nil {
		return Outcome{}, err
	}
	if cur.Status == model.ExamCompleted || cur.Answered >= cur.QuestionCount {
		return Outcome{}, fmt.Errorf("exam %s: %w", cur.ID, model.ErrExamCompleted)
	}

	truth, err := e.store.GetClassification(sub.PhotoName)
	if err != nil {
		return Outcome{}, err
	}
	cat, subcat, err := label.Normalize(sub.Label)
	if err != nil {
		return Outcome{}, err
	}

	ex, err := e.store.RecordExamAnswer(model.ExamAnswer{
		ExamID:            sub.ExamID,
		UserID:            sub.UserID,
		AnswerNumber:      sub.AnswerNumber,
		PhotoName:         truth.PhotoName,
		SrcCategory:       truth.Category,
		SrcSubcategory:    truth.Subcategory,
		DesCategory:       cat,
		DesSubcategory:    subcat,
		AnswerTime:        sub.AnswerTime,
		HelpActivated:     sub.HelpActivated,
		HelpTimeActivated: sub.HelpTimeActivated,
	})
	if err != nil {
		return Outcome{}, err
	}

	out := Outcome{Exam: ex, Completed: ex.Status == model.ExamCompleted}
	if !out.Completed {
		out.NextIndex = ex.NextIndex()
	}
	return out, nil
}

// Result derives the per-question scores and summary of an exam.
func (e *Engine) Result(userID, examID string) (model.ExamResult, error) {
	ex, err := e.store.GetExam(examID, userID)
	if err != nil {
		return model.ExamResult{}, err
	}
	return e.result(ex)
}

// LatestResult returns the result of the user's most recently completed exam.
func (e *Engine) LatestResult(userID string) (model.ExamResult, error) {
	ex, err := e.store.LatestCompletedExam(userID)
	if err != nil {
		return model.ExamResult{}, err
	}
	return e.result(ex)
}

// List returns the user's exams, newest first.
func (e *Engine) List(userID string) ([]model.Exam, error) {
	return e.store.ListExams(userID)
}

func (e *Engine) result(ex model.Exam) (model.ExamResult, error) {
	answers, err := e.store.ListExamAnswers(ex.ID, ex.UserID)
	if err != nil {
		return model.ExamResult{}, fmt.Errorf("list answers of exam %s: %w", ex.ID, err)
	}
	scored, totals := scoring.Compute(answers)
	for i := range scored {
		scored[i].Score = scoring.Round2(scored[i].Score)
	}
	return model.ExamResult{
		Exam:           ex,
		TotalQuestions: len(scored),
		CorrectAnswers: totals.Correct,
		TotalTime:      totals.TotalTime,
		Grade:          scoring.Round2(totals.Score),
		Answers:        scored,
	}, nil
}
