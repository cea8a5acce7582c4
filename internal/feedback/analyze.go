// Package feedback writes personal performance summaries from exam answers
// and generates them on a schedule.
package feedback

import (
	"sort"

	"github.com/pavelanni/ecgtrainer/internal/label"
	"github.com/pavelanni/ecgtrainer/internal/model"
)

// Analyze groups answers by ground-truth label. A label is a strength when
// the trainee got at least one image of above-average rate right and never
// missed it; every label with a miss is a weakness.
func Analyze(answers []model.ScoredAnswer) model.FeedbackReport {
	var r model.FeedbackReport
	if len(answers) == 0 {
		return r
	}

	exams := make(map[string]bool)
	stats := make(map[string]*model.LabelStat)
	var order []string
	var rateSum float64
	for _, a := range answers {
		rateSum += a.Rate
	}
	avgRate := rateSum / float64(len(answers))
	highRate := make(map[string]bool)

	for _, a := range answers {
		exams[a.ExamID] = true
		key := a.SrcSubcategory
		if key == "" {
			key = string(a.SrcCategory)
		}
		st, ok := stats[key]
		if !ok {
			st = &model.LabelStat{Category: a.SrcCategory, Label: key}
			stats[key] = st
			order = append(order, key)
		}
		st.Answered++
		r.Answers++
		if label.Matches(a.DesCategory, a.SrcCategory) {
			st.Correct++
			st.Weight += a.Rate
			r.Correct++
			if a.Rate >= avgRate {
				highRate[key] = true
			}
		} else {
			st.Missed++
		}
	}
	r.Exams = len(exams)
	r.Accuracy = float64(r.Correct) * 100 / float64(r.Answers)

	for _, key := range order {
		st := *stats[key]
		if st.Missed > 0 {
			r.Weaknesses = append(r.Weaknesses, st)
		} else if highRate[key] {
			r.Strengths = append(r.Strengths, st)
		}
	}
	sort.SliceStable(r.Strengths, func(i, j int) bool { return r.Strengths[i].Weight > r.Strengths[j].Weight })
	sort.SliceStable(r.Weaknesses, func(i, j int) bool { return r.Weaknesses[i].Missed > r.Weaknesses[j].Missed })
	return r
}
