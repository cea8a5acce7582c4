package model

import "time"

// ExamExport is the top-level JSON structure for exam result export.
type ExamExport struct {
	ExportedAt time.Time         `json:"exported_at"`
	NumExams   int               `json:"num_exams"`
	Results    []TraineeExamData `json:"results"`
}

// TraineeExamData holds one exam instance for export.
type TraineeExamData struct {
	Email         string           `json:"email"`
	Institution   string           `json:"institution"`
	ExamNumber    int              `json:"exam_number"`
	ExamID        string           `json:"exam_id"`
	Type          ExamType         `json:"type"`
	Status        ExamStatus       `json:"status"`
	StartedAt     time.Time        `json:"started_at"`
	CompletedAt   *time.Time       `json:"completed_at,omitempty"`
	QuestionCount int              `json:"question_count"`
	TotalExamTime int64            `json:"total_exam_time"`
	Score         float64          `json:"score"`
	Questions     []QuestionExport `json:"questions"`
}

// QuestionExport holds per-question data for export.
type QuestionExport struct {
	Number         int      `json:"number"`
	PhotoName      string   `json:"photo_name"`
	SrcCategory    Category `json:"src_category"`
	SrcSubcategory string   `json:"src_subcategory,omitempty"`
	DesCategory    Category `json:"des_category"`
	DesSubcategory string   `json:"des_subcategory,omitempty"`
	Rate           float64  `json:"rate"`
	Correct        bool     `json:"correct"`
	Score          float64  `json:"score"`
	AnswerTime     int64    `json:"answer_time"`
}
