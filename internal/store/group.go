package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pavelanni/ecgtrainer/internal/model"
)

// CreateGroup inserts a cohort and returns its id.
func (s *Store) CreateGroup(name string) (int64, error) {
	res, err := s.db.Exec(`INSERT INTO study_groups (name, created_at) VALUES (?, ?)`, name, time.Now())
	if isUniqueViolation(err) {
		return 0, fmt.Errorf("group %q: %w", name, model.ErrGroupExists)
	}
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// GetGroup returns a cohort with its member count.
func (s *Store) GetGroup(id int64) (model.Group, error) {
	var g model.Group
	err := s.db.QueryRow(
		`SELECT g.id, g.name, g.created_at, COUNT(ug.user_id)
		 FROM study_groups g LEFT JOIN user_groups ug ON ug.group_id = g.id
		 WHERE g.id = ? GROUP BY g.id`, id,
	).Scan(&g.ID, &g.Name, &g.CreatedAt, &g.Members)
	if err == sql.ErrNoRows {
		return g, fmt.Errorf("group %d: %w", id, model.ErrGroupNotFound)
	}
	return g, err
}

// ListGroups returns all cohorts ordered by name.
func (s *Store) ListGroups() ([]model.Group, error) {
	rows, err := s.db.Query(
		`SELECT g.id, g.name, g.created_at, COUNT(ug.user_id)
		 FROM study_groups g LEFT JOIN user_groups ug ON ug.group_id = g.id
		 GROUP BY g.id ORDER BY g.name`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var groups []model.Group
	for rows.Next() {
		var g model.Group
		if err := rows.Scan(&g.ID, &g.Name, &g.CreatedAt, &g.Members); err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// AddMember adds the user registered with email to a cohort. Adding an
// existing member is a no-op.
func (s *Store) AddMember(groupID int64, email string) error {
	if _, err := s.GetGroup(groupID); err != nil {
		return err
	}
	acc, err := s.GetAccountByEmail(email)
	if err != nil {
		return err
	}
	if acc == nil {
		return fmt.Errorf("email %q: %w", email, model.ErrUserNotFound)
	}
	_, err = s.db.Exec(
		`INSERT INTO user_groups (group_id, user_id) VALUES (?, ?) ON CONFLICT DO NOTHING`,
		groupID, acc.User.ID,
	)
	return err
}

// GroupStats aggregates training and exam records of a cohort's members.
// The training and exam aggregates are read concurrently.
func (s *Store) GroupStats(ctx context.Context, groupID int64) (model.GroupStats, error) {
	var st model.GroupStats
	g, err := s.GetGroup(groupID)
	if err != nil {
		return st, err
	}
	st.Group = g

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return s.db.QueryRowContext(ctx,
			`SELECT COALESCE(SUM(u.total_answers), 0), COALESCE(SUM(u.correct_answers), 0)
			 FROM users u JOIN user_groups ug ON ug.user_id = u.id WHERE ug.group_id = ?`, groupID,
		).Scan(&st.TotalAnswers, &st.CorrectAnswers)
	})
	eg.Go(func() error {
		return s.db.QueryRowContext(ctx,
			`SELECT COUNT(e.id), COALESCE(AVG(e.score), 0), COALESCE(AVG(e.total_exam_time), 0)
			 FROM exams e JOIN user_groups ug ON ug.user_id = e.user_id
			 WHERE ug.group_id = ? AND e.status = ?`, groupID, model.ExamCompleted,
		).Scan(&st.TotalExams, &st.AvgExamScore, &st.AvgExamTime)
	})
	if err := eg.Wait(); err != nil {
		return st, fmt.Errorf("group %d stats: %w", groupID, err)
	}

	if st.TotalAnswers > 0 {
		st.TrainingAccuracy = float64(st.CorrectAnswers) * 100 / float64(st.TotalAnswers)
	}
	return st, nil
}
