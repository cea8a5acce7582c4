package model

import "time"

// Category is a diagnostic category of an ECG image.
type Category string

const (
	CategorySTEMI    Category = "STEMI"
	CategoryHighRisk Category = "HIGH RISK"
	CategoryLowRisk  Category = "LOW RISK"
)

// ImageClassification maps a curated photo to its ground truth and scoring weight.
type ImageClassification struct {
	ID          int64    `json:"id"`
	PhotoName   string   `json:"photoName"`
	Category    Category `json:"category"`
	Subcategory string   `json:"subcategory,omitempty"`
	Rate        float64  `json:"rate"`
}

// CatalogImport is used for loading catalog entries from JSON.
type CatalogImport struct {
	PhotoName   string  `json:"photoName"`
	Category    string  `json:"category"`
	Subcategory string  `json:"subcategory"`
	Rate        float64 `json:"rate"`
}

// Answer is one practice attempt in training mode.
type Answer struct {
	ID                int64     `json:"id"`
	UserID            string    `json:"userId"`
	Date              time.Time `json:"date"`
	PhotoName         string    `json:"photoName"`
	SrcCategory       Category  `json:"classificationSetSrc"`
	SrcSubcategory    string    `json:"classificationSubSetSrc,omitempty"`
	DesCategory       Category  `json:"classificationSetDes"`
	DesSubcategory    string    `json:"classificationSubSetDes,omitempty"`
	AnswerTime        int64     `json:"answerSubmitTime"`
	AnswerChange      string    `json:"answerChange,omitempty"`
	AlertActivated    int       `json:"alertActivated"`
	HelpActivated     bool      `json:"helpActivated"`
	HelpTimeActivated int64     `json:"helpTimeActivated"`
}

// ExamType is the format tag of an exam.
type ExamType string

const (
	ExamTypeBinary ExamType = "binary"
	ExamTypeHath   ExamType = "hath"
	ExamTypeFull   ExamType = "full"
)

// Valid reports whether t is one of the known exam types.
func (t ExamType) Valid() bool {
	switch t {
	case ExamTypeBinary, ExamTypeHath, ExamTypeFull:
		return true
	}
	return false
}

// ExamStatus represents the state of an exam instance.
type ExamStatus string

const (
	ExamInProgress ExamStatus = "in_progress"
	ExamCompleted  ExamStatus = "completed"
)

// Exam is one timed sequence of classification questions.
type Exam struct {
	ID            string     `json:"examId"`
	UserID        string     `json:"userId"`
	Date          time.Time  `json:"date"`
	QuestionCount int        `json:"questionCount"`
	Type          ExamType   `json:"type"`
	Status        ExamStatus `json:"status"`
	Answered      int        `json:"answered"`
	TotalExamTime int64      `json:"totalExamTime"`
	Score         float64    `json:"score"`
	CompletedAt   *time.Time `json:"completedAt,omitempty"`
}

// NextIndex is the 1-based answer number the exam expects next.
func (e Exam) NextIndex() int {
	return e.Answered + 1
}

// ExamAnswer is the answer to one question slot of an exam.
type ExamAnswer struct {
	ExamID            string   `json:"examId"`
	UserID            string   `json:"userId"`
	AnswerNumber      int      `json:"answerNumber"`
	PhotoName         string   `json:"photoName"`
	SrcCategory       Category `json:"classificationSetSrc"`
	SrcSubcategory    string   `json:"classificationSubSetSrc,omitempty"`
	DesCategory       Category `json:"classificationSetDes"`
	DesSubcategory    string   `json:"classificationSubSetDes,omitempty"`
	AnswerTime        int64    `json:"answerTime"`
	HelpActivated     bool     `json:"helpActivated"`
	HelpTimeActivated int64    `json:"helpTimeActivated"`
}

// ScoredAnswer is an exam answer joined with its catalog weight.
type ScoredAnswer struct {
	ExamAnswer
	Rate    float64 `json:"rate"`
	Correct bool    `json:"correct"`
	Score   float64 `json:"score"`
}

// ExamResult is the derived summary of an exam.
type ExamResult struct {
	Exam           Exam           `json:"exam"`
	TotalQuestions int            `json:"totalQuestions"`
	CorrectAnswers int            `json:"correctAnswers"`
	TotalTime      int64          `json:"totalTime"`
	Grade          float64        `json:"grade"`
	Answers        []ScoredAnswer `json:"answers,omitempty"`
}

// LabelStat counts exam answers for one diagnostic label.
type LabelStat struct {
	Category Category `json:"category"`
	Label    string   `json:"label"`
	Answered int      `json:"answered"`
	Correct  int      `json:"correct"`
	Missed   int      `json:"missed"`
	// Weight is the summed catalog rate of the correctly answered images.
	Weight float64 `json:"weight"`
}

// FeedbackReport is the analysis a feedback message is written from.
type FeedbackReport struct {
	Exams      int         `json:"exams"`
	Answers    int         `json:"answers"`
	Correct    int         `json:"correct"`
	Accuracy   float64     `json:"accuracy"`
	Strengths  []LabelStat `json:"strengths"`
	Weaknesses []LabelStat `json:"weaknesses"`
}
