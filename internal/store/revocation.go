package store

import (
	"time"
)

// RevokeToken records a token id as unusable until it would have expired anyway.
func (s *Store) RevokeToken(id string, expiresAt time.Time) error {
	_, err := s.db.Exec(
		`INSERT INTO revoked_tokens (id, expires_at) VALUES (?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		id, expiresAt,
	)
	return err
}

// IsTokenRevoked reports whether a token id was revoked.
func (s *Store) IsTokenRevoked(id string) (bool, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM revoked_tokens WHERE id = ?`, id).Scan(&count)
	return count > 0, err
}

// CleanupRevokedTokens removes revocations whose tokens have expired.
func (s *Store) CleanupRevokedTokens() (int64, error) {
	res, err := s.db.Exec(`DELETE FROM revoked_tokens WHERE expires_at < ?`, time.Now())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
