package store

import (
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if strings.HasPrefix(dbPath, ":memory:") {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if err := s.SetMetadata(schemaVersionKey, schemaVersion); err != nil {
		return nil, fmt.Errorf("record schema version: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		age INTEGER NOT NULL DEFAULT 0,
		gender TEXT NOT NULL DEFAULT '',
		avg_degree REAL NOT NULL DEFAULT 0,
		academic_institution TEXT NOT NULL DEFAULT '',
		total_entries INTEGER NOT NULL DEFAULT 0,
		total_answers INTEGER NOT NULL DEFAULT 0,
		correct_answers INTEGER NOT NULL DEFAULT 0,
		total_train_time INTEGER NOT NULL DEFAULT 0,
		total_exams INTEGER NOT NULL DEFAULT 0,
		avg_exam_time REAL NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS authentication (
		user_id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'user',
		terms_agreement INTEGER NOT NULL DEFAULT 0,
		notifications INTEGER NOT NULL DEFAULT 0,
		FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS revoked_tokens (
		id TEXT PRIMARY KEY,
		expires_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS image_classification (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		photo_name TEXT NOT NULL UNIQUE,
		category TEXT NOT NULL,
		subcategory TEXT NOT NULL DEFAULT '',
		rate REAL NOT NULL DEFAULT 1
	);

	CREATE TABLE IF NOT EXISTS answers (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		date DATETIME NOT NULL,
		photo_name TEXT NOT NULL,
		src_category TEXT NOT NULL,
		src_subcategory TEXT NOT NULL DEFAULT '',
		des_category TEXT NOT NULL,
		des_subcategory TEXT NOT NULL DEFAULT '',
		answer_time INTEGER NOT NULL DEFAULT 0,
		answer_change TEXT NOT NULL DEFAULT '',
		alert_activated INTEGER NOT NULL DEFAULT 0,
		help_activated INTEGER NOT NULL DEFAULT 0,
		help_time_activated INTEGER NOT NULL DEFAULT 0,
		FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS exams (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		date DATETIME NOT NULL,
		question_count INTEGER NOT NULL CHECK (question_count > 0),
		type TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'in_progress',
		answered INTEGER NOT NULL DEFAULT 0,
		total_exam_time INTEGER NOT NULL DEFAULT 0,
		total_rate REAL NOT NULL DEFAULT 0,
		score REAL NOT NULL DEFAULT 0,
		completed_at DATETIME,
		FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS exam_answers (
		exam_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		answer_number INTEGER NOT NULL CHECK (answer_number > 0),
		photo_name TEXT NOT NULL,
		src_category TEXT NOT NULL,
		src_subcategory TEXT NOT NULL DEFAULT '',
		des_category TEXT NOT NULL,
		des_subcategory TEXT NOT NULL DEFAULT '',
		answer_time INTEGER NOT NULL DEFAULT 0,
		help_activated INTEGER NOT NULL DEFAULT 0,
		help_time_activated INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (exam_id, user_id, answer_number),
		FOREIGN KEY (exam_id) REFERENCES exams(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS study_groups (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS user_groups (
		group_id INTEGER NOT NULL,
		user_id TEXT NOT NULL,
		PRIMARY KEY (group_id, user_id),
		FOREIGN KEY (group_id) REFERENCES study_groups(id) ON DELETE CASCADE,
		FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS feedback (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		body TEXT NOT NULL,
		source TEXT NOT NULL DEFAULT 'template',
		created_at DATETIME NOT NULL,
		FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS metadata (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS imported_files (
		path TEXT PRIMARY KEY,
		hash TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_answers_user ON answers(user_id);
	CREATE INDEX IF NOT EXISTS idx_exams_user ON exams(user_id);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_exam_answers_photo ON exam_answers(exam_id, photo_name);
	`
	_, err := s.db.Exec(schema)
	return err
}

// isUniqueViolation reports whether err is a sqlite UNIQUE or PRIMARY KEY constraint failure.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed")
}
