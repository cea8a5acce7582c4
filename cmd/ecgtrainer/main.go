package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"

	"github.com/pavelanni/ecgtrainer/internal/auth"
	"github.com/pavelanni/ecgtrainer/internal/feedback"
	"github.com/pavelanni/ecgtrainer/internal/handler"
	appI18n "github.com/pavelanni/ecgtrainer/internal/i18n"
	"github.com/pavelanni/ecgtrainer/internal/imagebank"
	"github.com/pavelanni/ecgtrainer/internal/label"
	"github.com/pavelanni/ecgtrainer/internal/llm"
	"github.com/pavelanni/ecgtrainer/internal/llm/prompts"
	"github.com/pavelanni/ecgtrainer/internal/model"
	"github.com/pavelanni/ecgtrainer/internal/store"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "ecgtrainer",
		Short: "ECG classification trainer and exam server",
	}

	serve := serveCmd()
	root.AddCommand(serve, exportCmd(), feedbackCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `ecgtrainer --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func addLogFlags(cmd *cobra.Command) {
	cmd.Flags().String("log-level", "info", "Log level (debug, info, warn, error)")
	cmd.Flags().String("log-format", "text", "Log format (text, json)")
}

func addLLMFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("llm-url", "http://localhost:11434/v1", "OpenAI-compatible API base URL")
	f.String("llm-key", "ollama", "API key for LLM")
	f.String("llm-model", "", "LLM model name (empty disables LLM feedback)")
	f.String("feedback-tone", string(prompts.ToneStandard), "Feedback tone (gentle, standard, direct)")
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("db", "ecgtrainer.db", "SQLite database path")
	f.StringSliceP("catalog", "c", nil, "Paths to image catalog JSON files (repeatable)")
	f.String("image-root", "images", "Directory holding bankPhotos/ and graded/")
	f.String("jwt-secret", "", "HMAC secret for identity tokens (or set ECGTRAINER_JWT_SECRET)")
	f.Duration("token-ttl", time.Hour, "Identity token lifetime")
	f.Duration("refresh-window", 5*time.Minute, "Reissue tokens with less than this validity left")
	f.Bool("secure-cookies", true, "Set Secure flag on cookies")
	f.Bool("csrf", false, "Require the X-CSRF-Token header on unsafe requests")
	f.String("base-path", "", "URL prefix for sub-path deployments (e.g. /he)")
	f.StringP("lang", "l", "en", "Default response language (en, he)")
	f.String("terms", "", "Path to a terms-of-use text file")
	f.String("admin-email", "admin@ecgtrainer.local", "Initial admin email")
	f.String("admin-password", "", "Initial admin password (or set ECGTRAINER_ADMIN_PASSWORD)")
	f.String("feedback-schedule", "0 6 * * *", "Cron spec for feedback generation (empty disables)")
	addLLMFlags(cmd)
	addLogFlags(cmd)
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export exam results as JSON",
		RunE:  runExport,
	}
	f := cmd.Flags()
	f.String("db", "ecgtrainer.db", "SQLite database path")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	addLogFlags(cmd)
	return cmd
}

func feedbackCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "feedback",
		Short: "Generate feedback for all users with notifications enabled",
		RunE:  runFeedback,
	}
	cmd.Flags().String("db", "ecgtrainer.db", "SQLite database path")
	addLLMFlags(cmd)
	addLogFlags(cmd)
	return cmd
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("ECGTRAINER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("ecgtrainer")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/ecgtrainer")
	v.AddConfigPath("/etc/ecgtrainer")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

// newGenerator builds the feedback generator. An empty model keeps the
// template text; otherwise the endpoint must answer before anything starts.
func newGenerator(ctx context.Context, v *viper.Viper, db *store.Store) (*feedback.Generator, error) {
	tone := prompts.Tone(strings.ToLower(strings.TrimSpace(v.GetString("feedback-tone"))))
	if !prompts.IsValidTone(string(tone)) {
		slog.Warn("invalid feedback-tone, using standard", "tone", tone)
		tone = prompts.ToneStandard
	}

	modelName := v.GetString("llm-model")
	if modelName == "" {
		slog.Info("LLM feedback disabled, using templates")
		return feedback.NewGenerator(db, nil, tone)
	}

	client := llm.New(v.GetString("llm-url"), v.GetString("llm-key"), modelName)
	if err := client.Ping(ctx); err != nil {
		return nil, fmt.Errorf("LLM health check: %w", err)
	}
	slog.Info("LLM endpoint OK", "url", v.GetString("llm-url"), "model", modelName)
	return feedback.NewGenerator(db, client, tone)
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	issuer, err := auth.NewIssuer(v.GetString("jwt-secret"), v.GetDuration("token-ttl"), v.GetDuration("refresh-window"))
	if err != nil {
		return fmt.Errorf("token issuer: %w", err)
	}

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if err := seedAdmin(db, v.GetString("admin-email"), v.GetString("admin-password")); err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}

	if err := loadCatalog(afero.NewOsFs(), db, v.GetStringSlice("catalog")); err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	bank, err := imagebank.NewOS(v.GetString("image-root"))
	if err != nil {
		return fmt.Errorf("open image bank: %w", err)
	}

	gen, err := newGenerator(ctx, v, db)
	if err != nil {
		return err
	}
	sched := feedback.NewScheduler()
	if spec := v.GetString("feedback-schedule"); spec != "" {
		if err := sched.Add(spec, feedback.JobFunc{JobName: "feedback", Fn: func(ctx context.Context) error {
			n, err := gen.RunAll(ctx)
			slog.Info("feedback generated", "users", n)
			return err
		}}); err != nil {
			return fmt.Errorf("schedule feedback %q: %w", spec, err)
		}
	}
	if err := sched.Add("@hourly", feedback.JobFunc{JobName: "revoked-token-cleanup", Fn: func(context.Context) error {
		n, err := db.CleanupRevokedTokens()
		if n > 0 {
			slog.Info("removed expired revocations", "count", n)
		}
		return err
	}}); err != nil {
		return fmt.Errorf("schedule cleanup: %w", err)
	}
	sched.Start()
	defer sched.Stop()

	// Normalize base path.
	basePath := strings.TrimRight(v.GetString("base-path"), "/")
	if basePath != "" && !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}

	cfg := model.AppConfig{
		BasePath:      basePath,
		SecureCookies: v.GetBool("secure-cookies"),
		CSRF:          v.GetBool("csrf"),
		TermsPath:     v.GetString("terms"),
	}
	h := handler.New(db, issuer, bank, cfg)

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(appI18n.Middleware())

	if basePath != "" {
		r.Route(basePath, h.Routes)
	} else {
		h.Routes(r)
	}

	addr := v.GetString("addr")
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown", "error", err)
		}
	}()

	slog.Info("starting server",
		"addr", addr,
		"lang", lang,
		"base_path", basePath,
		"image_root", v.GetString("image-root"),
		"llm_model", v.GetString("llm-model"),
		"feedback_schedule", v.GetString("feedback-schedule"),
		"csrf", cfg.CSRF,
	)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func runExport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	results, err := db.ExportAllExams()
	if err != nil {
		return fmt.Errorf("export exams: %w", err)
	}

	export := model.ExamExport{
		ExportedAt: time.Now().UTC(),
		NumExams:   len(results),
		Results:    results,
	}

	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	outPath := v.GetString("output")
	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = os.Stdout
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	_, _ = fmt.Fprintln(w)
	return nil
}

func runFeedback(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	gen, err := newGenerator(ctx, v, db)
	if err != nil {
		return err
	}
	n, err := gen.RunAll(ctx)
	if err != nil {
		return fmt.Errorf("generate feedback: %w", err)
	}
	slog.Info("feedback generated", "users", n)
	return nil
}

// loadCatalog imports catalog files. A file is imported once; a file whose
// content changed after import is skipped so existing exam scores stay stable.
func loadCatalog(fs afero.Fs, db *store.Store, paths []string) error {
	for _, path := range paths {
		data, err := afero.ReadFile(fs, path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}

		hash := sha256sum(data)
		storedHash, err := db.ImportedFileHash(path)
		if err != nil {
			return fmt.Errorf("check import status for %s: %w", path, err)
		}
		if storedHash == hash {
			slog.Info("catalog file unchanged, skipping", "path", path)
			continue
		}
		if storedHash != "" {
			slog.Warn("catalog file changed since last import, skipping to keep exam scores stable", "path", path)
			continue
		}

		var entries []model.CatalogImport
		if err := json.Unmarshal(data, &entries); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}

		imported := 0
		for _, e := range entries {
			cat, sub, err := label.Resolve(e.Category, e.Subcategory)
			if err != nil {
				slog.Warn("skipping catalog entry", "path", path, "photo", e.PhotoName, "error", err)
				continue
			}
			rate := e.Rate
			if rate <= 0 {
				rate = 1
			}
			_, err = db.InsertClassification(model.ImageClassification{
				PhotoName: e.PhotoName, Category: cat, Subcategory: sub, Rate: rate,
			})
			if errors.Is(err, model.ErrAlreadyClassified) {
				slog.Debug("catalog entry already present", "photo", e.PhotoName)
				continue
			}
			if err != nil {
				return fmt.Errorf("insert %s from %s: %w", e.PhotoName, path, err)
			}
			imported++
		}

		if err := db.SetImportedFileHash(path, hash); err != nil {
			return fmt.Errorf("record import for %s: %w", path, err)
		}
		slog.Info("imported catalog", "path", path, "entries", len(entries), "imported", imported)
	}
	return nil
}

func sha256sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

func seedAdmin(db *store.Store, email, password string) error {
	count, err := db.CountByRole(model.UserRoleAdmin)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	if password == "" {
		return fmt.Errorf("admin password is required: set --admin-password flag or ECGTRAINER_ADMIN_PASSWORD env var")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}

	err = db.CreateAccount(model.Account{
		User: model.User{ID: uuid.NewString(), AcademicInstitution: "-"},
		Credential: model.Credential{
			Email:          strings.ToLower(strings.TrimSpace(email)),
			PasswordHash:   string(hash),
			Role:           model.UserRoleAdmin,
			TermsAgreement: true,
		},
	})
	if err != nil {
		return fmt.Errorf("create admin user: %w", err)
	}

	slog.Info("seeded default admin user", "email", email)
	return nil
}
