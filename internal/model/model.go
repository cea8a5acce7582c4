package model

import (
	"context"
	"time"
)

// UserRole represents a user's access level.
type UserRole string

const (
	// UserRoleUser is a trainee.
	UserRoleUser UserRole = "user"
	// UserRoleAdmin curates images and reads cohort analytics.
	UserRoleAdmin UserRole = "admin"
)

// User holds a trainee profile and its cumulative counters.
type User struct {
	ID                  string    `json:"id"`
	Age                 int       `json:"age"`
	Gender              string    `json:"gender"`
	AvgDegree           float64   `json:"avgDegree"`
	AcademicInstitution string    `json:"academicInstitution"`
	TotalEntries        int       `json:"totalEntries"`
	TotalAnswers        int       `json:"totalAnswers"`
	CorrectAnswers      int       `json:"avgAnswers"`
	TotalTrainTime      int64     `json:"totalTrainTime"`
	TotalExams          int       `json:"totalExams"`
	AvgExamTime         float64   `json:"avgExamTime"`
	CreatedAt           time.Time `json:"createdAt"`
}

// Credential is the authentication record of a user, one-to-one with User.
type Credential struct {
	UserID         string
	Email          string
	PasswordHash   string
	Role           UserRole
	TermsAgreement bool
	Notifications  bool
}

// Account is a user together with its credential.
type Account struct {
	User       User
	Credential Credential
}

// Identity is what a verified token says about the caller.
type Identity struct {
	UserID string
	Role   UserRole
}

type identityCtxKey struct{}

// ContextWithIdentity stores the caller identity in the request context.
func ContextWithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityCtxKey{}, id)
}

// IdentityFromContext retrieves the caller identity from context.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityCtxKey{}).(Identity)
	return id, ok
}

type csrfCtxKey struct{}

// ContextWithCSRFToken stores the CSRF token in context.
func ContextWithCSRFToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, csrfCtxKey{}, token)
}

// CSRFTokenFromContext retrieves the CSRF token from context.
func CSRFTokenFromContext(ctx context.Context) string {
	t, _ := ctx.Value(csrfCtxKey{}).(string)
	return t
}

// Group is an instructor cohort.
type Group struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
	Members   int       `json:"members"`
}

// GroupStats aggregates the training and exam records of a cohort.
type GroupStats struct {
	Group            Group   `json:"group"`
	TotalAnswers     int     `json:"totalAnswers"`
	CorrectAnswers   int     `json:"correctAnswers"`
	TrainingAccuracy float64 `json:"trainingAccuracy"`
	TotalExams       int     `json:"totalExams"`
	AvgExamScore     float64 `json:"avgExamScore"`
	AvgExamTime      float64 `json:"avgExamTime"`
}

// Feedback is a generated performance summary for a user.
type Feedback struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"userId"`
	Body      string    `json:"body"`
	Source    string    `json:"source"`
	CreatedAt time.Time `json:"createdAt"`
}

// AppConfig holds runtime parameters set via CLI flags.
type AppConfig struct {
	BasePath      string // URL prefix for sub-path deployments (e.g. "/he")
	SecureCookies bool   // Set Secure flag on cookies (disable for local dev)
	CSRF          bool   // Require the double-submit CSRF token on unsafe methods
	TermsPath     string // Optional terms-of-use file; built-in text when empty
}
