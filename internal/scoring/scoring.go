// Package scoring derives exam grades from answered questions and the
// catalog weight of each answered image.
package scoring

import (
	"math"

	"github.com/pavelanni/ecgtrainer/internal/label"
	"github.com/pavelanni/ecgtrainer/internal/model"
)

// Totals is the exam-level outcome of Compute.
type Totals struct {
	TotalTime int64
	TotalRate float64
	Correct   int
	Score     float64
}

// Compute fills Correct and Score on every answer and returns the totals.
// Each correct answer contributes rate*100/totalRate; the denominator is the
// sum of rates over all answers and is treated as 1 when it is zero.
func Compute(answers []model.ScoredAnswer) ([]model.ScoredAnswer, Totals) {
	var t Totals
	for _, a := range answers {
		t.TotalTime += a.AnswerTime
		t.TotalRate += a.Rate
	}
	denom := t.TotalRate
	if denom == 0 {
		denom = 1
	}

	out := make([]model.ScoredAnswer, len(answers))
	for i, a := range answers {
		a.Correct = label.Matches(a.DesCategory, a.SrcCategory)
		a.Score = 0
		if a.Correct {
			a.Score = a.Rate * 100 / denom
			t.Correct++
		}
		t.Score += a.Score
		out[i] = a
	}
	return out, t
}

// Round2 rounds to two decimals for display.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
