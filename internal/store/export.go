package store

import (
	"fmt"

	"github.com/pavelanni/ecgtrainer/internal/model"
	"github.com/pavelanni/ecgtrainer/internal/scoring"
)

// ExportAllExams builds export-ready records of every exam with its scored answers.
func (s *Store) ExportAllExams() ([]model.TraineeExamData, error) {
	rows, err := s.db.Query(
		`SELECT e.id, e.user_id, e.date, e.question_count, e.type, e.status, e.answered, e.total_exam_time,
		 e.score, e.completed_at, a.email, u.academic_institution
		 FROM exams e
		 JOIN users u ON u.id = e.user_id
		 JOIN authentication a ON a.user_id = e.user_id
		 ORDER BY a.email, e.date`,
	)
	if err != nil {
		return nil, fmt.Errorf("list exams: %w", err)
	}
	type examRow struct {
		exam        model.Exam
		email, inst string
	}
	var exams []examRow
	for rows.Next() {
		var r examRow
		e, err := scanExam(multiScanner{rows, []any{&r.email, &r.inst}})
		if err != nil {
			rows.Close()
			return nil, err
		}
		r.exam = e
		exams = append(exams, r)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}

	// Track exam count per trainee for exam_number.
	examCount := make(map[string]int)

	var results []model.TraineeExamData
	for _, r := range exams {
		examCount[r.exam.UserID]++

		answers, err := s.ListExamAnswers(r.exam.ID, r.exam.UserID)
		if err != nil {
			return nil, fmt.Errorf("exam %s answers: %w", r.exam.ID, err)
		}
		scored, _ := scoring.Compute(answers)

		var questions []model.QuestionExport
		for _, a := range scored {
			questions = append(questions, model.QuestionExport{
				Number:         a.AnswerNumber,
				PhotoName:      a.PhotoName,
				SrcCategory:    a.SrcCategory,
				SrcSubcategory: a.SrcSubcategory,
				DesCategory:    a.DesCategory,
				DesSubcategory: a.DesSubcategory,
				Rate:           a.Rate,
				Correct:        a.Correct,
				Score:          scoring.Round2(a.Score),
				AnswerTime:     a.AnswerTime,
			})
		}

		results = append(results, model.TraineeExamData{
			Email:         r.email,
			Institution:   r.inst,
			ExamNumber:    examCount[r.exam.UserID],
			ExamID:        r.exam.ID,
			Type:          r.exam.Type,
			Status:        r.exam.Status,
			StartedAt:     r.exam.Date,
			CompletedAt:   r.exam.CompletedAt,
			QuestionCount: r.exam.QuestionCount,
			TotalExamTime: r.exam.TotalExamTime,
			Score:         scoring.Round2(r.exam.Score),
			Questions:     questions,
		})
	}

	return results, nil
}

// multiScanner appends extra destinations to a Scan call.
type multiScanner struct {
	row   scanner
	extra []any
}

func (m multiScanner) Scan(dest ...any) error {
	return m.row.Scan(append(dest, m.extra...)...)
}
