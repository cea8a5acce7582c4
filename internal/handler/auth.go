package handler

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/pavelanni/ecgtrainer/internal/auth"
	appI18n "github.com/pavelanni/ecgtrainer/internal/i18n"
	"github.com/pavelanni/ecgtrainer/internal/model"
)

const (
	tokenCookieName  = "token"
	userIDCookieName = "userId"
	examIDCookieName = "examId"
	csrfCookieName   = "csrf_token"
	csrfHeaderName   = "X-CSRF-Token"
)

// bcryptCost matches the cost used for stored hashes; tests lower it.
var bcryptCost = bcrypt.DefaultCost

func generateCSRFToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

func (h *Handler) setCSRFCookie(w http.ResponseWriter, r *http.Request) (*http.Request, bool) {
	token, err := generateCSRFToken()
	if err != nil {
		slog.Error("failed to generate CSRF token", "error", err)
		writeMessage(w, r, http.StatusInternalServerError, "ServerError", "")
		return r, false
	}
	http.SetCookie(w, &http.Cookie{
		Name:     csrfCookieName,
		Value:    token,
		Path:     h.cookiePath(),
		HttpOnly: false,
		Secure:   h.config.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	return r.WithContext(model.ContextWithCSRFToken(r.Context(), token)), true
}

// csrfMiddleware implements the double-submit pattern: safe requests receive a
// readable cookie, unsafe requests must echo it in the X-CSRF-Token header.
func (h *Handler) csrfMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet || r.Method == http.MethodHead {
			if r, ok := h.setCSRFCookie(w, r); ok {
				next.ServeHTTP(w, r)
			}
			return
		}

		cookie, err := r.Cookie(csrfCookieName)
		if err != nil || cookie.Value == "" {
			slog.Warn("CSRF cookie missing")
			writeMessage(w, r, http.StatusForbidden, "Forbidden", "")
			return
		}

		sent := r.Header.Get(csrfHeaderName)
		if sent == "" || len(sent) != len(cookie.Value) || subtle.ConstantTimeCompare([]byte(sent), []byte(cookie.Value)) != 1 {
			slog.Warn("CSRF token mismatch")
			writeMessage(w, r, http.StatusForbidden, "Forbidden", "")
			return
		}

		if r, ok := h.setCSRFCookie(w, r); ok {
			next.ServeHTTP(w, r)
		}
	})
}

// tokenFromRequest reads the identity token from the cookie, falling back to
// an Authorization bearer header.
func tokenFromRequest(r *http.Request) string {
	if c, err := r.Cookie(tokenCookieName); err == nil && c.Value != "" {
		return c.Value
	}
	if v := r.Header.Get("Authorization"); strings.HasPrefix(v, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(v, "Bearer "))
	}
	return ""
}

// verify checks a request's token, including revocation.
func (h *Handler) verify(r *http.Request) (*auth.Claims, error) {
	claims, err := h.issuer.Verify(tokenFromRequest(r))
	if err != nil {
		return nil, err
	}
	revoked, err := h.store.IsTokenRevoked(claims.ID)
	if err != nil {
		return nil, err
	}
	if revoked {
		return nil, model.ErrInvalidToken
	}
	return claims, nil
}

// requireAuth verifies the identity token, reissues it when it is about to
// expire and stores the caller identity in the request context.
func (h *Handler) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := h.verify(r)
		if err != nil {
			authFailures.WithLabelValues(reasonCode(err)).Inc()
			h.writeError(w, r, err)
			return
		}

		if h.issuer.NeedsRefresh(claims) {
			token, fresh, err := h.issuer.Refresh(claims)
			if err != nil {
				slog.Error("failed to refresh token", "user", claims.Subject, "error", err)
			} else {
				h.setTokenCookie(w, token)
				w.Header().Set("X-Refreshed-Token", token)
				claims = fresh
			}
		}

		ctx := model.ContextWithIdentity(r.Context(), claims.Identity())
		ctx = contextWithClaims(ctx, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func reasonCode(err error) string {
	for _, e := range []error{model.ErrNoToken, model.ErrTokenExpired} {
		if errors.Is(err, e) {
			return e.Error()
		}
	}
	return model.ErrInvalidToken.Error()
}

// requireRole returns middleware that checks the caller has one of the allowed roles.
func requireRole(allowed ...model.UserRole) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := model.IdentityFromContext(r.Context())
			if !ok {
				writeJSON(w, http.StatusUnauthorized, messageResponse{Code: "NoToken", Message: "NoToken"})
				return
			}
			if hasRole(id, allowed...) {
				next.ServeHTTP(w, r)
				return
			}
			writeMessage(w, r, http.StatusForbidden, "Forbidden", "")
		})
	}
}

func hasRole(id model.Identity, allowed ...model.UserRole) bool {
	for _, role := range allowed {
		if id.Role == role {
			return true
		}
	}
	return false
}

func (h *Handler) setTokenCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     tokenCookieName,
		Value:    token,
		Path:     h.cookiePath(),
		MaxAge:   int(h.issuer.TTL().Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   h.config.SecureCookies,
	})
}

func (h *Handler) setCookie(w http.ResponseWriter, name, value string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     h.cookiePath(),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   h.config.SecureCookies,
	})
}

func (h *Handler) clearCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     h.cookiePath(),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.SecureCookies,
	})
}

type registerRequest struct {
	Email               string  `json:"email" validate:"required,email,max=254"`
	Password            string  `json:"password" validate:"required,min=6,max=72"`
	Age                 int     `json:"age" validate:"required,min=16,max=120"`
	Gender              string  `json:"gender" validate:"required,oneof=male female other"`
	AcademicInstitution string  `json:"academicInstitution" validate:"required,max=200"`
	AvgDegree           float64 `json:"avgDegree" validate:"min=0,max=100"`
	TermsAgreement      bool    `json:"termsAgreement" validate:"required"`
	Notifications       bool    `json:"notifications"`
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !h.decode(w, r, &req) {
		registrations.WithLabelValues("invalid").Inc()
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcryptCost)
	if err != nil {
		slog.Error("failed to hash password", "error", err)
		h.writeError(w, r, err)
		return
	}

	err = h.store.CreateAccount(model.Account{
		User: model.User{
			ID:                  uuid.NewString(),
			Age:                 req.Age,
			Gender:              req.Gender,
			AvgDegree:           req.AvgDegree,
			AcademicInstitution: req.AcademicInstitution,
		},
		Credential: model.Credential{
			Email:          strings.ToLower(strings.TrimSpace(req.Email)),
			PasswordHash:   string(hash),
			Role:           model.UserRoleUser,
			TermsAgreement: req.TermsAgreement,
			Notifications:  req.Notifications,
		},
	})
	if err != nil {
		registrations.WithLabelValues("failure").Inc()
		h.writeError(w, r, err)
		return
	}

	registrations.WithLabelValues("success").Inc()
	writeMessage(w, r, http.StatusOK, "Registered", h.path("/login"))
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type loginResponse struct {
	Message  string         `json:"message"`
	Redirect string         `json:"redirect"`
	Role     model.UserRole `json:"role"`
	UserID   string         `json:"userId"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req loginRequest
	if !h.decode(w, r, &req) {
		return
	}

	acc, err := h.store.GetAccountByEmail(strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if acc == nil {
		loginAttempts.WithLabelValues("unknown_user").Inc()
		h.writeError(w, r, model.ErrUserNotFound)
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(acc.Credential.PasswordHash), []byte(req.Password)); err != nil {
		loginAttempts.WithLabelValues("bad_password").Inc()
		h.writeError(w, r, model.ErrInvalidCredentials)
		return
	}

	id := model.Identity{UserID: acc.User.ID, Role: acc.Credential.Role}
	token, _, err := h.issuer.Issue(id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if err := h.store.IncrementEntries(id.UserID); err != nil {
		slog.Error("failed to count login", "user", id.UserID, "error", err)
	}

	h.setTokenCookie(w, token)
	h.setCookie(w, userIDCookieName, id.UserID)
	loginAttempts.WithLabelValues("success").Inc()
	loginDuration.Observe(time.Since(start).Seconds())

	writeJSON(w, http.StatusOK, loginResponse{
		Message:  appI18n.T(r.Context(), "LoginSuccess"),
		Redirect: h.path("/choose-model"),
		Role:     id.Role,
		UserID:   id.UserID,
	})
}

// handleLogout revokes the presented token, if any, and clears session cookies.
func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if claims, err := h.issuer.Verify(tokenFromRequest(r)); err == nil && claims.ExpiresAt != nil {
		if err := h.store.RevokeToken(claims.ID, claims.ExpiresAt.Time); err != nil {
			slog.Error("failed to revoke token", "error", err)
		}
	}
	for _, name := range []string{tokenCookieName, userIDCookieName, examIDCookieName} {
		h.clearCookie(w, name)
	}
	writeMessage(w, r, http.StatusOK, "LoggedOut", h.path("/login"))
}

// handleRefreshToken reissues a valid token regardless of its remaining validity.
func (h *Handler) handleRefreshToken(w http.ResponseWriter, r *http.Request) {
	claims, err := h.verify(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	token, _, err := h.issuer.Refresh(claims)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.setTokenCookie(w, token)
	writeMessage(w, r, http.StatusOK, "TokenRefreshed", "")
}

type meResponse struct {
	User          model.User     `json:"user"`
	Email         string         `json:"email"`
	Role          model.UserRole `json:"role"`
	Notifications bool           `json:"notifications"`
	CSRFToken     string         `json:"csrfToken,omitempty"`
	SessionExpiry *time.Time     `json:"sessionExpiresAt,omitempty"`
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	acc, err := h.store.GetAccount(identity(r).UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if acc == nil {
		h.writeError(w, r, model.ErrUserNotFound)
		return
	}
	resp := meResponse{
		User:          acc.User,
		Email:         acc.Credential.Email,
		Role:          acc.Credential.Role,
		Notifications: acc.Credential.Notifications,
		CSRFToken:     model.CSRFTokenFromContext(r.Context()),
	}
	if c := claimsFromContext(r.Context()); c != nil && c.ExpiresAt != nil {
		resp.SessionExpiry = &c.ExpiresAt.Time
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleTerms(w http.ResponseWriter, r *http.Request) {
	text := appI18n.T(r.Context(), "Terms")
	if h.config.TermsPath != "" {
		data, err := os.ReadFile(h.config.TermsPath)
		if err != nil {
			slog.Error("failed to read terms file", "path", h.config.TermsPath, "error", err)
		} else {
			text = string(data)
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"terms": text})
}

type chooseModelRequest struct {
	Action string `json:"action" validate:"required"`
}

var menuActions = map[string]struct {
	path  string
	admin bool
}{
	"classifiedImages": {"/classified-images", true},
	"classifyImages":   {"/random-image-classification", true},
	"groups":           {"/groups", true},
	"Single Training":  {"/pre-training", false},
	"Test":             {"/pre-test", false},
	"feedback":         {"/feedback", false},
}

// handleChooseModel maps a menu action to the page the client should open.
func (h *Handler) handleChooseModel(w http.ResponseWriter, r *http.Request) {
	var req chooseModelRequest
	if !h.decode(w, r, &req) {
		return
	}
	action, ok := menuActions[req.Action]
	if !ok {
		writeJSON(w, http.StatusNotFound, messageResponse{Code: "ActionNotFound", Message: appI18n.T(r.Context(), "ActionNotFound")})
		return
	}
	if action.admin && !hasRole(identity(r), model.UserRoleAdmin) {
		h.writeError(w, r, model.ErrForbidden)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: req.Action, Redirect: h.path(action.path)})
}
