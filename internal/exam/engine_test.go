package exam

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavelanni/ecgtrainer/internal/model"
	"github.com/pavelanni/ecgtrainer/internal/store"
)

func newTestEngine(t *testing.T) (*Engine, *store.Store) {
	t.Helper()
	s, err := store.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	require.NoError(t, s.CreateAccount(model.Account{
		User:       model.User{ID: "u1"},
		Credential: model.Credential{Email: "u1@example.com", PasswordHash: "x", Role: model.UserRoleUser},
	}))
	require.NoError(t, s.CreateAccount(model.Account{
		User:       model.User{ID: "u2"},
		Credential: model.Credential{Email: "u2@example.com", PasswordHash: "x", Role: model.UserRoleUser},
	}))
	for _, ic := range []model.ImageClassification{
		{PhotoName: "low.jpg", Category: model.CategoryLowRisk, Rate: 5},
		{PhotoName: "septal.jpg", Category: model.CategorySTEMI, Subcategory: "Septal", Rate: 10},
		{PhotoName: "wellens.jpg", Category: model.CategoryHighRisk, Subcategory: "Wellens", Rate: 5},
	} {
		_, err := s.InsertClassification(ic)
		require.NoError(t, err)
	}

	e := New(s)
	n := 0
	e.newID = func() string {
		n++
		return fmt.Sprintf("exam-%d", n)
	}
	return e, s
}

func TestTwoQuestionExamScoresHundred(t *testing.T) {
	e, s := newTestEngine(t)

	ex, err := e.Start("u1", 2, model.ExamTypeFull)
	require.NoError(t, err)
	assert.Equal(t, "exam-1", ex.ID)
	assert.Equal(t, model.ExamInProgress, ex.Status)
	assert.Equal(t, 1, ex.NextIndex())

	out, err := e.Submit(Submission{UserID: "u1", ExamID: ex.ID, PhotoName: "low.jpg", Label: "LOW RISK", AnswerTime: 10})
	require.NoError(t, err)
	assert.False(t, out.Completed)
	assert.Equal(t, 2, out.NextIndex)

	out, err = e.Submit(Submission{UserID: "u1", ExamID: ex.ID, PhotoName: "septal.jpg", Label: "Septal", AnswerTime: 15, AnswerNumber: 2})
	require.NoError(t, err)
	assert.True(t, out.Completed)
	assert.Equal(t, model.ExamCompleted, out.Exam.Status)
	assert.InDelta(t, 100.0, out.Exam.Score, 0.001)

	res, err := e.Result("u1", ex.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, res.TotalQuestions)
	assert.Equal(t, 2, res.CorrectAnswers)
	assert.Equal(t, int64(25), res.TotalTime)
	assert.Equal(t, 100.0, res.Grade)
	require.Len(t, res.Answers, 2)
	assert.Equal(t, model.CategorySTEMI, res.Answers[1].DesCategory)
	assert.Equal(t, "Septal", res.Answers[1].DesSubcategory)
	assert.InDelta(t, 66.67, res.Answers[1].Score, 0.001)

	// Stored score equals the sum of per-answer contributions.
	var sum float64
	for _, a := range res.Answers {
		sum += a.Score
	}
	assert.InDelta(t, out.Exam.Score, sum, 0.01)

	acc, err := s.GetAccount("u1")
	require.NoError(t, err)
	assert.Equal(t, 1, acc.User.TotalExams)
	assert.Equal(t, 2, acc.User.TotalAnswers)

	latest, err := e.LatestResult("u1")
	require.NoError(t, err)
	assert.Equal(t, ex.ID, latest.Exam.ID)
}

func TestPartialCredit(t *testing.T) {
	e, _ := newTestEngine(t)
	ex, err := e.Start("u1", 3, model.ExamTypeHath)
	require.NoError(t, err)

	subs := []Submission{
		{PhotoName: "low.jpg", Label: "LOW RISK"},
		{PhotoName: "septal.jpg", Label: "Wellens"},
		{PhotoName: "wellens.jpg", Label: "Wellens"},
	}
	var out Outcome
	for _, sub := range subs {
		sub.UserID, sub.ExamID = "u1", ex.ID
		out, err = e.Submit(sub)
		require.NoError(t, err)
	}
	require.True(t, out.Completed)
	// (5 + 5) * 100 / 20
	assert.InDelta(t, 50.0, out.Exam.Score, 0.001)
}

func TestRepeatedPhotoIsRejected(t *testing.T) {
	e, _ := newTestEngine(t)
	ex, err := e.Start("u1", 2, model.ExamTypeFull)
	require.NoError(t, err)

	septal := Submission{UserID: "u1", ExamID: ex.ID, PhotoName: "septal.jpg", Label: "Septal"}
	_, err = e.Submit(septal)
	require.NoError(t, err)
	_, err = e.Submit(septal)
	require.ErrorIs(t, err, model.ErrPhotoAlreadyAnswered)

	out, err := e.Submit(Submission{UserID: "u1", ExamID: ex.ID, PhotoName: "low.jpg", Label: "LOW RISK"})
	require.NoError(t, err)
	require.True(t, out.Completed)
	// 15 of 15 over the distinct photos
	assert.InDelta(t, 100.0, out.Exam.Score, 0.001)

	res, err := e.Result("u1", ex.ID)
	require.NoError(t, err)
	assert.Len(t, res.Answers, 2)
}

func TestSubmitErrors(t *testing.T) {
	e, _ := newTestEngine(t)
	ex, err := e.Start("u1", 1, model.ExamTypeBinary)
	require.NoError(t, err)

	tests := []struct {
		name string
		sub  Submission
		want error
	}{
		{"unknown photo", Submission{UserID: "u1", ExamID: ex.ID, PhotoName: "nope.jpg", Label: "LOW RISK"}, model.ErrClassificationNotFound},
		{"unknown label", Submission{UserID: "u1", ExamID: ex.ID, PhotoName: "low.jpg", Label: "bogus"}, model.ErrUnknownClassification},
		{"other user", Submission{UserID: "u2", ExamID: ex.ID, PhotoName: "low.jpg", Label: "LOW RISK"}, model.ErrExamNotFound},
		{"unknown exam", Submission{UserID: "u1", ExamID: "missing", PhotoName: "low.jpg", Label: "LOW RISK"}, model.ErrExamNotFound},
		{"skipped slot", Submission{UserID: "u1", ExamID: ex.ID, PhotoName: "low.jpg", Label: "LOW RISK", AnswerNumber: 2}, model.ErrQuestionIndexMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Submit(tt.sub)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	cur, err := e.Get("u1", ex.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, cur.Answered)

	_, err = e.Submit(Submission{UserID: "u1", ExamID: ex.ID, PhotoName: "low.jpg", Label: "LOW RISK"})
	require.NoError(t, err)
	_, err = e.Submit(Submission{UserID: "u1", ExamID: ex.ID, PhotoName: "septal.jpg", Label: "Septal"})
	assert.ErrorIs(t, err, model.ErrExamCompleted)

	// Exam state wins over a bad photo or label.
	order := []struct {
		name string
		sub  Submission
		want error
	}{
		{"completed exam, bad label", Submission{UserID: "u1", ExamID: ex.ID, PhotoName: "low.jpg", Label: "bogus"}, model.ErrExamCompleted},
		{"completed exam, unknown photo", Submission{UserID: "u1", ExamID: ex.ID, PhotoName: "nope.jpg", Label: "LOW RISK"}, model.ErrExamCompleted},
		{"unknown exam, unknown photo", Submission{UserID: "u1", ExamID: "missing", PhotoName: "nope.jpg", Label: "bogus"}, model.ErrExamNotFound},
	}
	for _, tt := range order {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Submit(tt.sub)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestStartValidation(t *testing.T) {
	e, _ := newTestEngine(t)

	_, err := e.Start("u1", 0, model.ExamTypeFull)
	assert.ErrorIs(t, err, model.ErrInvalidExam)
	_, err = e.Start("u1", MaxQuestions+1, model.ExamTypeFull)
	assert.ErrorIs(t, err, model.ErrInvalidExam)
	_, err = e.Start("u1", 3, "quiz")
	assert.ErrorIs(t, err, model.ErrInvalidExam)

	ex, err := e.Start("u1", 3, "")
	require.NoError(t, err)
	assert.Equal(t, model.ExamTypeFull, ex.Type)

	list, err := e.List("u1")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = e.LatestResult("u1")
	assert.ErrorIs(t, err, model.ErrExamNotFound)
}
