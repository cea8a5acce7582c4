package store

import (
	"time"

	"github.com/pavelanni/ecgtrainer/internal/label"
	"github.com/pavelanni/ecgtrainer/internal/model"
)

// RecordTrainingAnswer appends a practice answer and updates the user's
// rolling counters. Resubmitting the same answer counts it twice.
func (s *Store) RecordTrainingAnswer(a model.Answer) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if a.Date.IsZero() {
		a.Date = time.Now()
	}
	res, err := tx.Exec(
		`INSERT INTO answers (user_id, date, photo_name, src_category, src_subcategory, des_category,
		 des_subcategory, answer_time, answer_change, alert_activated, help_activated, help_time_activated)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.UserID, a.Date, a.PhotoName, a.SrcCategory, a.SrcSubcategory, a.DesCategory, a.DesSubcategory,
		a.AnswerTime, a.AnswerChange, a.AlertActivated, a.HelpActivated, a.HelpTimeActivated,
	)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	correct := 0
	if label.Matches(a.DesCategory, a.SrcCategory) {
		correct = 1
	}
	res, err = tx.Exec(
		`UPDATE users SET total_answers = total_answers + 1,
		 total_train_time = total_train_time + ?, correct_answers = correct_answers + ?
		 WHERE id = ?`,
		a.AnswerTime, correct, a.UserID,
	)
	if err != nil {
		return 0, err
	}
	if err := expectOneRow(res, model.ErrUserNotFound); err != nil {
		return 0, err
	}
	return id, tx.Commit()
}

// ListTrainingAnswers returns a user's practice answers, newest first.
func (s *Store) ListTrainingAnswers(userID string) ([]model.Answer, error) {
	rows, err := s.db.Query(
		`SELECT id, user_id, date, photo_name, src_category, src_subcategory, des_category, des_subcategory,
		 answer_time, answer_change, alert_activated, help_activated, help_time_activated
		 FROM answers WHERE user_id = ? ORDER BY id DESC`, userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Answer
	for rows.Next() {
		var a model.Answer
		if err := rows.Scan(&a.ID, &a.UserID, &a.Date, &a.PhotoName, &a.SrcCategory, &a.SrcSubcategory,
			&a.DesCategory, &a.DesSubcategory, &a.AnswerTime, &a.AnswerChange, &a.AlertActivated,
			&a.HelpActivated, &a.HelpTimeActivated); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
