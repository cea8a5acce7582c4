package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/pavelanni/ecgtrainer/internal/model"
)

const userColumns = `u.id, u.age, u.gender, u.avg_degree, u.academic_institution, u.total_entries,
	u.total_answers, u.correct_answers, u.total_train_time, u.total_exams, u.avg_exam_time, u.created_at`

const credentialColumns = `a.user_id, a.email, a.password_hash, a.role, a.terms_agreement, a.notifications`

type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(row scanner) (*model.Account, error) {
	var acc model.Account
	u := &acc.User
	c := &acc.Credential
	err := row.Scan(&u.ID, &u.Age, &u.Gender, &u.AvgDegree, &u.AcademicInstitution, &u.TotalEntries,
		&u.TotalAnswers, &u.CorrectAnswers, &u.TotalTrainTime, &u.TotalExams, &u.AvgExamTime, &u.CreatedAt,
		&c.UserID, &c.Email, &c.PasswordHash, &c.Role, &c.TermsAgreement, &c.Notifications)
	if err != nil {
		return nil, err
	}
	return &acc, nil
}

// CreateAccount inserts a user and its credential in one transaction.
// It returns model.ErrUserExists when the email is already registered.
func (s *Store) CreateAccount(acc model.Account) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRow(`SELECT COUNT(*) FROM authentication WHERE email = ?`, acc.Credential.Email).Scan(&exists)
	if err != nil {
		return err
	}
	if exists > 0 {
		return model.ErrUserExists
	}

	u := acc.User
	_, err = tx.Exec(
		`INSERT INTO users (id, age, gender, avg_degree, academic_institution, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		u.ID, u.Age, u.Gender, u.AvgDegree, u.AcademicInstitution, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}

	c := acc.Credential
	_, err = tx.Exec(
		`INSERT INTO authentication (user_id, email, password_hash, role, terms_agreement, notifications)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		u.ID, c.Email, c.PasswordHash, c.Role, c.TermsAgreement, c.Notifications,
	)
	if isUniqueViolation(err) {
		return model.ErrUserExists
	}
	if err != nil {
		return fmt.Errorf("insert credential: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	slog.Info("created user", "id", u.ID, "role", c.Role)
	return nil
}

// GetAccountByEmail returns the account registered with email, or nil if none.
func (s *Store) GetAccountByEmail(email string) (*model.Account, error) {
	acc, err := scanAccount(s.db.QueryRow(
		`SELECT `+userColumns+`, `+credentialColumns+`
		 FROM authentication a JOIN users u ON u.id = a.user_id WHERE a.email = ?`, email,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return acc, err
}

// GetAccount returns the account of a user id, or nil if none.
func (s *Store) GetAccount(userID string) (*model.Account, error) {
	acc, err := scanAccount(s.db.QueryRow(
		`SELECT `+userColumns+`, `+credentialColumns+`
		 FROM authentication a JOIN users u ON u.id = a.user_id WHERE u.id = ?`, userID,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return acc, err
}

// ListAccounts returns all accounts ordered by email.
func (s *Store) ListAccounts() ([]model.Account, error) {
	rows, err := s.db.Query(
		`SELECT ` + userColumns + `, ` + credentialColumns + `
		 FROM authentication a JOIN users u ON u.id = a.user_id ORDER BY a.email`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var accounts []model.Account
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *acc)
	}
	return accounts, rows.Err()
}

// IncrementEntries counts a successful login.
func (s *Store) IncrementEntries(userID string) error {
	res, err := s.db.Exec(`UPDATE users SET total_entries = total_entries + 1 WHERE id = ?`, userID)
	if err != nil {
		return err
	}
	return expectOneRow(res, model.ErrUserNotFound)
}

// CountByRole returns the number of credentials with the given role.
func (s *Store) CountByRole(role model.UserRole) (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM authentication WHERE role = ?`, role).Scan(&count)
	return count, err
}

// ListNotifiedUserIDs returns the users that opted into feedback notifications.
func (s *Store) ListNotifiedUserIDs() ([]string, error) {
	rows, err := s.db.Query(`SELECT user_id FROM authentication WHERE notifications = 1 ORDER BY user_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func expectOneRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}
