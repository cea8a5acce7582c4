package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pavelanni/ecgtrainer/internal/auth"
	"github.com/pavelanni/ecgtrainer/internal/exam"
	appI18n "github.com/pavelanni/ecgtrainer/internal/i18n"
	"github.com/pavelanni/ecgtrainer/internal/imagebank"
	"github.com/pavelanni/ecgtrainer/internal/model"
	"github.com/pavelanni/ecgtrainer/internal/store"
)

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store    *store.Store
	engine   *exam.Engine
	issuer   *auth.Issuer
	bank     *imagebank.Bank
	config   model.AppConfig
	validate *validator.Validate
}

// New creates a new Handler.
func New(s *store.Store, issuer *auth.Issuer, bank *imagebank.Bank, cfg model.AppConfig) *Handler {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Handler{
		store:    s,
		engine:   exam.New(s),
		issuer:   issuer,
		bank:     bank,
		config:   cfg,
		validate: v,
	}
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Use(instrument)
	if h.config.CSRF {
		r.Use(h.csrfMiddleware)
	}

	r.Get("/healthz", h.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/terms", h.handleTerms)
	r.Post("/register", h.handleRegister)
	r.Post("/login", h.handleLogin)
	r.Post("/logout", h.handleLogout)
	r.Post("/refresh-token", h.handleRefreshToken)

	r.Group(func(r chi.Router) {
		r.Use(h.requireAuth)

		r.Handle("/images/graded/*", h.imageServer())
		r.Get("/me", h.handleMe)
		r.Post("/choose-model", h.handleChooseModel)
		r.Get("/feedback", h.handleFeedback)

		r.Get("/random-image", h.handleRandomImage)
		r.Post("/training", h.handleTrainingAnswer)
		r.Get("/training/answers", h.handleTrainingHistory)

		r.Post("/pre-test", h.handleStartExam)
		r.Post("/test", h.handleExamAnswer)
		r.Get("/exam/{examID}", h.handleExamState)
		r.Get("/getTestSessions", h.handleTestSessions)
		r.Get("/getTestDetails", h.handleTestDetails)
		r.Get("/post-test-results", h.handlePostTestResults)

		r.Group(func(r chi.Router) {
			r.Use(requireRole(model.UserRoleAdmin))

			r.Handle("/images/bankPhotos/*", h.imageServer())
			r.Get("/random-image-classification", h.handleRandomUnclassified)
			r.Post("/classify-image", h.handleClassifyImage)
			r.Get("/classified-images", h.handleClassifiedImages)

			r.Get("/groups", h.handleListGroups)
			r.Post("/groups", h.handleCreateGroup)
			r.Post("/groups/{groupID}/members", h.handleAddMember)
			r.Get("/groups/{groupID}/stats", h.handleGroupStats)
		})
	})
}

// path prepends the base path to an absolute path.
func (h *Handler) path(p string) string {
	return h.config.BasePath + p
}

func (h *Handler) cookiePath() string {
	if h.config.BasePath != "" {
		return h.config.BasePath + "/"
	}
	return "/"
}

// imageServer serves files of the image bank under /images/. Routes decide
// which subtrees are reachable by whom.
func (h *Handler) imageServer() http.Handler {
	return http.StripPrefix(h.path("/images"), http.FileServer(h.bank.HTTPFS()))
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	schema, err := h.store.SchemaVersion()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"app":    appI18n.T(r.Context(), "AppTitle"),
		"schema": schema,
	})
}

type messageResponse struct {
	Code     string            `json:"code,omitempty"`
	Message  string            `json:"message"`
	Redirect string            `json:"redirect,omitempty"`
	Fields   map[string]string `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

func writeMessage(w http.ResponseWriter, r *http.Request, status int, msgID, redirect string) {
	writeJSON(w, status, messageResponse{Message: appI18n.T(r.Context(), msgID), Redirect: redirect})
}

var errorStatus = []struct {
	err    error
	status int
}{
	{model.ErrNoToken, http.StatusUnauthorized},
	{model.ErrInvalidToken, http.StatusUnauthorized},
	{model.ErrTokenExpired, http.StatusUnauthorized},
	{model.ErrForbidden, http.StatusForbidden},
	{model.ErrUserNotFound, http.StatusNotFound},
	{model.ErrUserExists, http.StatusConflict},
	{model.ErrInvalidCredentials, http.StatusUnauthorized},
	{model.ErrClassificationNotFound, http.StatusNotFound},
	{model.ErrUnknownClassification, http.StatusBadRequest},
	{model.ErrAlreadyClassified, http.StatusConflict},
	{model.ErrImageNotFound, http.StatusNotFound},
	{model.ErrExamNotFound, http.StatusNotFound},
	{model.ErrQuestionIndexMismatch, http.StatusConflict},
	{model.ErrExamCompleted, http.StatusConflict},
	{model.ErrPhotoAlreadyAnswered, http.StatusConflict},
	{model.ErrInvalidExam, http.StatusBadRequest},
	{model.ErrGroupNotFound, http.StatusNotFound},
	{model.ErrGroupExists, http.StatusConflict},
}

// writeError translates an error into a status code and a localized message.
// Errors outside the taxonomy are logged and reported as ServerError.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	for _, e := range errorStatus {
		if errors.Is(err, e.err) {
			code := e.err.Error()
			resp := messageResponse{Code: code, Message: appI18n.T(r.Context(), code)}
			if e.status == http.StatusUnauthorized && code != model.ErrInvalidCredentials.Error() {
				resp.Message = code
				resp.Redirect = h.path("/login")
			}
			writeJSON(w, e.status, resp)
			return
		}
	}
	slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	writeJSON(w, http.StatusInternalServerError, messageResponse{
		Code:    "ServerError",
		Message: appI18n.T(r.Context(), "ServerError"),
	})
}

// decode reads a JSON body into dst and validates it. On failure it writes
// a 400 response and returns false.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, messageResponse{
			Code:    "InvalidRequest",
			Message: appI18n.T(r.Context(), "InvalidRequest"),
		})
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		resp := messageResponse{Code: "InvalidRequest", Message: appI18n.T(r.Context(), "InvalidRequest")}
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			resp.Fields = make(map[string]string, len(verrs))
			for _, fe := range verrs {
				resp.Fields[fe.Field()] = fe.Tag()
			}
		}
		writeJSON(w, http.StatusBadRequest, resp)
		return false
	}
	return true
}

type claimsCtxKey struct{}

func contextWithClaims(ctx context.Context, c *auth.Claims) context.Context {
	return context.WithValue(ctx, claimsCtxKey{}, c)
}

func claimsFromContext(ctx context.Context) *auth.Claims {
	c, _ := ctx.Value(claimsCtxKey{}).(*auth.Claims)
	return c
}

// identity returns the verified caller. Routes behind requireAuth always have one.
func identity(r *http.Request) model.Identity {
	id, _ := model.IdentityFromContext(r.Context())
	return id
}
