package feedback

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pavelanni/ecgtrainer/internal/llm/prompts"
	"github.com/pavelanni/ecgtrainer/internal/model"
)

// Sources recorded with a stored message.
const (
	SourceTemplate = "template"
	SourceLLM      = "llm"
)

// Store is the persistence the generator needs.
type Store interface {
	ListUserExamAnswers(userID string) ([]model.ScoredAnswer, error)
	ListNotifiedUserIDs() ([]string, error)
	SaveFeedback(f model.Feedback) (int64, error)
}

// Rewriter turns a rendered summary into a personal message.
type Rewriter interface {
	RewriteFeedback(ctx context.Context, tone prompts.Tone, summary string) (string, error)
}

// Generator builds, optionally rewrites and stores feedback messages.
type Generator struct {
	store    Store
	rewriter Rewriter
	tone     prompts.Tone
}

// NewGenerator creates a Generator. rewriter may be nil, in which case the
// template summary is stored as is.
func NewGenerator(s Store, rewriter Rewriter, tone prompts.Tone) (*Generator, error) {
	if !prompts.IsValidTone(string(tone)) {
		return nil, fmt.Errorf("invalid feedback tone %q", tone)
	}
	if err := prompts.Load(nil); err != nil {
		return nil, err
	}
	return &Generator{store: s, rewriter: rewriter, tone: tone}, nil
}

// Generate writes and stores a message for one user. It returns nil when the
// user has no completed exams yet.
func (g *Generator) Generate(ctx context.Context, userID string) (*model.Feedback, error) {
	answers, err := g.store.ListUserExamAnswers(userID)
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}
	if len(answers) == 0 {
		return nil, nil
	}

	summary, err := prompts.BuildSummary(g.tone, Analyze(answers))
	if err != nil {
		return nil, err
	}
	f := model.Feedback{UserID: userID, Body: summary, Source: SourceTemplate}

	if g.rewriter != nil {
		text, err := g.rewriter.RewriteFeedback(ctx, g.tone, summary)
		if err != nil {
			slog.Warn("LLM rewrite failed, keeping template feedback", "user", userID, "error", err)
		} else {
			f.Body = text
			f.Source = SourceLLM
		}
	}

	id, err := g.store.SaveFeedback(f)
	if err != nil {
		return nil, fmt.Errorf("save feedback: %w", err)
	}
	f.ID = id
	return &f, nil
}

// RunAll generates feedback for every user that enabled notifications.
// Failures for one user are logged and do not stop the pass.
func (g *Generator) RunAll(ctx context.Context) (int, error) {
	ids, err := g.store.ListNotifiedUserIDs()
	if err != nil {
		return 0, fmt.Errorf("list users: %w", err)
	}
	generated := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return generated, err
		}
		f, err := g.Generate(ctx, id)
		if err != nil {
			slog.Error("feedback generation failed", "user", id, "error", err)
			continue
		}
		if f != nil {
			generated++
		}
	}
	slog.Info("feedback pass finished", "users", len(ids), "generated", generated)
	return generated, nil
}
