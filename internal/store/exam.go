package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pavelanni/ecgtrainer/internal/model"
	"github.com/pavelanni/ecgtrainer/internal/scoring"
)

const examColumns = `id, user_id, date, question_count, type, status, answered, total_exam_time, score, completed_at`

func scanExam(row scanner) (model.Exam, error) {
	var e model.Exam
	var completedAt sql.NullTime
	err := row.Scan(&e.ID, &e.UserID, &e.Date, &e.QuestionCount, &e.Type, &e.Status, &e.Answered,
		&e.TotalExamTime, &e.Score, &completedAt)
	if completedAt.Valid {
		e.CompletedAt = &completedAt.Time
	}
	return e, err
}

type queryer interface {
	QueryRow(query string, args ...any) *sql.Row
	Query(query string, args ...any) (*sql.Rows, error)
}

// CreateExam inserts a new in-progress exam with score 0.
func (s *Store) CreateExam(e model.Exam) error {
	if e.Date.IsZero() {
		e.Date = time.Now()
	}
	_, err := s.db.Exec(
		`INSERT INTO exams (id, user_id, date, question_count, type, status) VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.UserID, e.Date, e.QuestionCount, e.Type, model.ExamInProgress,
	)
	return err
}

// GetExam returns an exam owned by userID. Exams of other users are reported
// as not found.
func (s *Store) GetExam(id, userID string) (model.Exam, error) {
	return getExam(s.db, id, userID)
}

func getExam(q queryer, id, userID string) (model.Exam, error) {
	e, err := scanExam(q.QueryRow(`SELECT `+examColumns+` FROM exams WHERE id = ? AND user_id = ?`, id, userID))
	if err == sql.ErrNoRows {
		return e, fmt.Errorf("exam %q: %w", id, model.ErrExamNotFound)
	}
	return e, err
}

// ListExams returns the exams of a user, newest first.
func (s *Store) ListExams(userID string) ([]model.Exam, error) {
	rows, err := s.db.Query(`SELECT `+examColumns+` FROM exams WHERE user_id = ? ORDER BY date DESC, id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var exams []model.Exam
	for rows.Next() {
		e, err := scanExam(rows)
		if err != nil {
			return nil, err
		}
		exams = append(exams, e)
	}
	return exams, rows.Err()
}

// LatestCompletedExam returns the most recently finished exam of a user.
func (s *Store) LatestCompletedExam(userID string) (model.Exam, error) {
	e, err := scanExam(s.db.QueryRow(
		`SELECT `+examColumns+` FROM exams WHERE user_id = ? AND status = ?
		 ORDER BY completed_at DESC LIMIT 1`, userID, model.ExamCompleted,
	))
	if err == sql.ErrNoRows {
		return e, fmt.Errorf("no completed exam: %w", model.ErrExamNotFound)
	}
	return e, err
}

// RecordExamAnswer stores the answer for the exam's next question slot and
// advances the exam. When the slot is the last one, the exam is scored and
// the user's counters are updated in the same transaction, so either all of
// it is applied or the exam stays in progress.
//
// A non-zero a.AnswerNumber must equal the slot the exam expects.
func (s *Store) RecordExamAnswer(a model.ExamAnswer) (model.Exam, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return model.Exam{}, err
	}
	defer tx.Rollback()

	exam, err := getExam(tx, a.ExamID, a.UserID)
	if err != nil {
		return model.Exam{}, err
	}
	if exam.Status == model.ExamCompleted || exam.Answered >= exam.QuestionCount {
		return exam, fmt.Errorf("exam %q: %w", exam.ID, model.ErrExamCompleted)
	}
	idx := exam.NextIndex()
	if a.AnswerNumber != 0 && a.AnswerNumber != idx {
		return exam, fmt.Errorf("exam %q expects answer %d, got %d: %w", exam.ID, idx, a.AnswerNumber, model.ErrQuestionIndexMismatch)
	}
	a.AnswerNumber = idx

	var seen int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM exam_answers WHERE exam_id = ? AND photo_name = ?`,
		exam.ID, a.PhotoName).Scan(&seen); err != nil {
		return exam, err
	}
	if seen > 0 {
		return exam, fmt.Errorf("exam %q photo %q: %w", exam.ID, a.PhotoName, model.ErrPhotoAlreadyAnswered)
	}

	_, err = tx.Exec(
		`INSERT INTO exam_answers (exam_id, user_id, answer_number, photo_name, src_category, src_subcategory,
		 des_category, des_subcategory, answer_time, help_activated, help_time_activated)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ExamID, a.UserID, a.AnswerNumber, a.PhotoName, a.SrcCategory, a.SrcSubcategory,
		a.DesCategory, a.DesSubcategory, a.AnswerTime, a.HelpActivated, a.HelpTimeActivated,
	)
	if isUniqueViolation(err) {
		if strings.Contains(err.Error(), "photo_name") {
			return exam, fmt.Errorf("exam %q photo %q: %w", exam.ID, a.PhotoName, model.ErrPhotoAlreadyAnswered)
		}
		return exam, fmt.Errorf("exam %q answer %d: %w", exam.ID, idx, model.ErrQuestionIndexMismatch)
	}
	if err != nil {
		return exam, fmt.Errorf("insert exam answer: %w", err)
	}

	res, err := tx.Exec(`UPDATE exams SET answered = ? WHERE id = ? AND answered = ?`, idx, exam.ID, exam.Answered)
	if err != nil {
		return exam, err
	}
	if err := expectOneRow(res, model.ErrQuestionIndexMismatch); err != nil {
		return exam, err
	}
	exam.Answered = idx

	if idx == exam.QuestionCount {
		if err := finalizeExam(tx, &exam); err != nil {
			return exam, fmt.Errorf("finalize exam %q: %w", exam.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return exam, err
	}
	if exam.Status == model.ExamCompleted {
		slog.Info("exam completed", "exam", exam.ID, "user", exam.UserID, "score", scoring.Round2(exam.Score))
	}
	return exam, nil
}

func finalizeExam(tx *sql.Tx, exam *model.Exam) error {
	answers, err := listScoredAnswers(tx, exam.ID, exam.UserID)
	if err != nil {
		return err
	}
	_, totals := scoring.Compute(answers)
	now := time.Now()

	_, err = tx.Exec(
		`UPDATE exams SET total_exam_time = ?, total_rate = ?, score = ?, status = ?, completed_at = ?
		 WHERE id = ?`,
		totals.TotalTime, totals.TotalRate, totals.Score, model.ExamCompleted, now, exam.ID,
	)
	if err != nil {
		return err
	}

	res, err := tx.Exec(
		`UPDATE users SET total_answers = total_answers + ?,
		 avg_exam_time = (avg_exam_time * total_exams + ?) / (total_exams + 1),
		 total_exams = total_exams + 1
		 WHERE id = ?`,
		len(answers), totals.TotalTime, exam.UserID,
	)
	if err != nil {
		return err
	}
	if err := expectOneRow(res, model.ErrUserNotFound); err != nil {
		return err
	}

	exam.TotalExamTime = totals.TotalTime
	exam.Score = totals.Score
	exam.Status = model.ExamCompleted
	exam.CompletedAt = &now
	return nil
}

// ListExamAnswers returns the answers of an exam with their catalog rate,
// ordered by answer number. Correct and Score are left for the caller to derive.
func (s *Store) ListExamAnswers(examID, userID string) ([]model.ScoredAnswer, error) {
	return listScoredAnswers(s.db, examID, userID)
}

func listScoredAnswers(q queryer, examID, userID string) ([]model.ScoredAnswer, error) {
	rows, err := q.Query(
		`SELECT ea.exam_id, ea.user_id, ea.answer_number, ea.photo_name, ea.src_category, ea.src_subcategory,
		 ea.des_category, ea.des_subcategory, ea.answer_time, ea.help_activated, ea.help_time_activated,
		 COALESCE(ic.rate, 0)
		 FROM exam_answers ea LEFT JOIN image_classification ic ON ic.photo_name = ea.photo_name
		 WHERE ea.exam_id = ? AND ea.user_id = ?
		 ORDER BY ea.answer_number`,
		examID, userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.ScoredAnswer
	for rows.Next() {
		var sa model.ScoredAnswer
		a := &sa.ExamAnswer
		if err := rows.Scan(&a.ExamID, &a.UserID, &a.AnswerNumber, &a.PhotoName, &a.SrcCategory, &a.SrcSubcategory,
			&a.DesCategory, &a.DesSubcategory, &a.AnswerTime, &a.HelpActivated, &a.HelpTimeActivated,
			&sa.Rate); err != nil {
			return nil, err
		}
		out = append(out, sa)
	}
	return out, rows.Err()
}

// ListUserExamAnswers returns every exam answer of a user across completed
// exams, joined with catalog rates.
func (s *Store) ListUserExamAnswers(userID string) ([]model.ScoredAnswer, error) {
	rows, err := s.db.Query(
		`SELECT ea.exam_id, ea.user_id, ea.answer_number, ea.photo_name, ea.src_category, ea.src_subcategory,
		 ea.des_category, ea.des_subcategory, ea.answer_time, ea.help_activated, ea.help_time_activated,
		 COALESCE(ic.rate, 0)
		 FROM exam_answers ea
		 JOIN exams e ON e.id = ea.exam_id
		 LEFT JOIN image_classification ic ON ic.photo_name = ea.photo_name
		 WHERE ea.user_id = ? AND e.status = ?
		 ORDER BY e.date, ea.answer_number`,
		userID, model.ExamCompleted,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.ScoredAnswer
	for rows.Next() {
		var sa model.ScoredAnswer
		a := &sa.ExamAnswer
		if err := rows.Scan(&a.ExamID, &a.UserID, &a.AnswerNumber, &a.PhotoName, &a.SrcCategory, &a.SrcSubcategory,
			&a.DesCategory, &a.DesSubcategory, &a.AnswerTime, &a.HelpActivated, &a.HelpTimeActivated,
			&sa.Rate); err != nil {
			return nil, err
		}
		out = append(out, sa)
	}
	return out, rows.Err()
}
