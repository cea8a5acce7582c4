// Package prompts renders feedback messages and the LLM instructions that
// rewrite them, in one of several tones.
package prompts

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"strings"
	"sync"
	"text/template"
	"unicode/utf8"

	"github.com/pavelanni/ecgtrainer/internal/model"
)

//go:embed templates/*.txt
var embedded embed.FS

var summaryTagRegex = regexp.MustCompile(`(?i)</?\s*trainee-summary\b[^>]*>`)

// Tone selects the register of generated feedback.
type Tone string

const (
	// ToneGentle encourages beginners.
	ToneGentle Tone = "gentle"
	// ToneStandard is the default study-note register.
	ToneStandard Tone = "standard"
	// ToneDirect is terse and leads with mistakes.
	ToneDirect Tone = "direct"
)

var validTones = map[Tone]bool{
	ToneGentle:   true,
	ToneStandard: true,
	ToneDirect:   true,
}

var (
	loadOnce         sync.Once
	loadErr          error
	summaryTemplates map[Tone]*template.Template
	rewriteTemplates map[Tone]*template.Template
)

// IsValidTone checks if a tone name is valid.
func IsValidTone(t string) bool {
	return validTones[Tone(t)]
}

// RewriteData holds template data for rewrite prompts.
type RewriteData struct {
	Summary string
}

// Load parses the templates. A nil fsys uses the built-in templates.
// It uses sync.Once to ensure templates are loaded only once.
func Load(fsys fs.FS) error {
	loadOnce.Do(func() {
		if fsys == nil {
			fsys = embedded
		}
		summaryTemplates = make(map[Tone]*template.Template)
		rewriteTemplates = make(map[Tone]*template.Template)

		for _, t := range []Tone{ToneGentle, ToneStandard, ToneDirect} {
			summary, err := parse(fsys, "templates/summary_"+string(t)+".txt")
			if err != nil {
				loadErr = err
				return
			}
			summaryTemplates[t] = summary

			rewrite, err := parse(fsys, "templates/rewrite_"+string(t)+".txt")
			if err != nil {
				loadErr = err
				return
			}
			rewriteTemplates[t] = rewrite
		}
	})
	return loadErr
}

func parse(fsys fs.FS, name string) (*template.Template, error) {
	content, err := fs.ReadFile(fsys, name)
	if err != nil {
		return nil, fmt.Errorf("read prompt file %s: %w", name, err)
	}
	tmpl, err := template.New(name).Parse(string(content))
	if err != nil {
		return nil, fmt.Errorf("parse prompt template %s: %w", name, err)
	}
	return tmpl, nil
}

func lookup(set map[Tone]*template.Template, tone Tone) (*template.Template, error) {
	if set == nil {
		return nil, errors.New("templates not initialized: call Load first")
	}
	tmpl, ok := set[tone]
	if !ok {
		if loadErr != nil {
			return nil, fmt.Errorf("templates load failed: %w", loadErr)
		}
		return nil, errors.New("invalid tone: " + string(tone))
	}
	return tmpl, nil
}

// BuildSummary renders a report as a plain-text feedback message.
func BuildSummary(tone Tone, report model.FeedbackReport) (string, error) {
	tmpl, err := lookup(summaryTemplates, tone)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, report); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}

// BuildRewritePrompt wraps a rendered summary in the instructions for the LLM.
func BuildRewritePrompt(tone Tone, summary string) (string, error) {
	tmpl, err := lookup(rewriteTemplates, tone)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, RewriteData{Summary: sanitize(summary)}); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func sanitize(summary string) string {
	summary = summaryTagRegex.ReplaceAllString(summary, "")
	summary = strings.TrimSpace(summary)

	if summary == "" {
		return "[No results yet]"
	}

	if utf8.RuneCountInString(summary) > 4000 {
		runes := []rune(summary)
		summary = string(runes[:4000]) + "\n\n[Summary truncated]"
	}

	return summary
}
