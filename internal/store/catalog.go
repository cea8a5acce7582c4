package store

import (
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/pavelanni/ecgtrainer/internal/model"
)

// InsertClassification stores a curated image. A photo can be classified once;
// a second insert returns model.ErrAlreadyClassified.
func (s *Store) InsertClassification(ic model.ImageClassification) (int64, error) {
	return insertClassification(s.db, ic)
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func insertClassification(db execer, ic model.ImageClassification) (int64, error) {
	res, err := db.Exec(
		`INSERT INTO image_classification (photo_name, category, subcategory, rate) VALUES (?, ?, ?, ?)`,
		ic.PhotoName, ic.Category, ic.Subcategory, ic.Rate,
	)
	if isUniqueViolation(err) {
		return 0, fmt.Errorf("photo %q: %w", ic.PhotoName, model.ErrAlreadyClassified)
	}
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// commitTx is replaced in tests to simulate a failing commit.
var commitTx = func(tx *sql.Tx) error { return tx.Commit() }

// ClassifyWith inserts a classification and runs apply before committing, so a
// failing side effect (moving the file) leaves no catalog row behind. If the
// commit itself fails after apply succeeded, revert undoes the side effect.
func (s *Store) ClassifyWith(ic model.ImageClassification, apply, revert func() error) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	id, err := insertClassification(tx, ic)
	if err != nil {
		return 0, err
	}
	if err := apply(); err != nil {
		return 0, err
	}
	if err := commitTx(tx); err != nil {
		if rerr := revert(); rerr != nil {
			slog.Error("revert classification side effect", "photo", ic.PhotoName, "error", rerr)
		}
		return 0, fmt.Errorf("commit classification of %q: %w", ic.PhotoName, err)
	}
	return id, nil
}

// GetClassification returns the catalog entry of a photo.
func (s *Store) GetClassification(photoName string) (model.ImageClassification, error) {
	var ic model.ImageClassification
	err := s.db.QueryRow(
		`SELECT id, photo_name, category, subcategory, rate FROM image_classification WHERE photo_name = ?`, photoName,
	).Scan(&ic.ID, &ic.PhotoName, &ic.Category, &ic.Subcategory, &ic.Rate)
	if err == sql.ErrNoRows {
		return ic, fmt.Errorf("photo %q: %w", photoName, model.ErrClassificationNotFound)
	}
	return ic, err
}

// IsClassified reports whether a photo already has a catalog entry.
func (s *Store) IsClassified(photoName string) (bool, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM image_classification WHERE photo_name = ?`, photoName).Scan(&count)
	return count > 0, err
}

// ListClassifications returns the whole catalog ordered by category.
func (s *Store) ListClassifications() ([]model.ImageClassification, error) {
	rows, err := s.db.Query(
		`SELECT id, photo_name, category, subcategory, rate FROM image_classification
		 ORDER BY category, subcategory, photo_name`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.ImageClassification
	for rows.Next() {
		var ic model.ImageClassification
		if err := rows.Scan(&ic.ID, &ic.PhotoName, &ic.Category, &ic.Subcategory, &ic.Rate); err != nil {
			return nil, err
		}
		out = append(out, ic)
	}
	return out, rows.Err()
}

// CatalogCount returns the number of classified images.
func (s *Store) CatalogCount() (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM image_classification`).Scan(&count)
	return count, err
}

// RandomImage picks a catalog image for a user. When examID is set, photos
// already answered in that exam are never returned. Photos the user has not
// practiced are preferred; if every candidate was practiced any candidate is used.
func (s *Store) RandomImage(userID, examID string) (model.ImageClassification, error) {
	var ic model.ImageClassification
	err := s.db.QueryRow(
		`SELECT id, photo_name, category, subcategory, rate FROM image_classification ic
		 WHERE photo_name NOT IN (SELECT photo_name FROM exam_answers WHERE exam_id = ?)
		 ORDER BY (photo_name IN (SELECT photo_name FROM answers WHERE user_id = ?)), RANDOM()
		 LIMIT 1`,
		examID, userID,
	).Scan(&ic.ID, &ic.PhotoName, &ic.Category, &ic.Subcategory, &ic.Rate)
	if err == sql.ErrNoRows {
		return ic, model.ErrImageNotFound
	}
	return ic, err
}
