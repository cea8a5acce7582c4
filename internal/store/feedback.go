package store

import (
	"database/sql"
	"time"

	"github.com/pavelanni/ecgtrainer/internal/model"
)

// SaveFeedback stores a generated summary for a user.
func (s *Store) SaveFeedback(f model.Feedback) (int64, error) {
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now()
	}
	res, err := s.db.Exec(
		`INSERT INTO feedback (user_id, body, source, created_at) VALUES (?, ?, ?, ?)`,
		f.UserID, f.Body, f.Source, f.CreatedAt,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// LatestFeedback returns the newest summary of a user, or nil if none.
func (s *Store) LatestFeedback(userID string) (*model.Feedback, error) {
	var f model.Feedback
	err := s.db.QueryRow(
		`SELECT id, user_id, body, source, created_at FROM feedback
		 WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT 1`, userID,
	).Scan(&f.ID, &f.UserID, &f.Body, &f.Source, &f.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}
