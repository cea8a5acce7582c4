package model

import "errors"

// Authentication failures. The error text is the reason code sent to the client.
var (
	ErrNoToken      = errors.New("NoToken")
	ErrInvalidToken = errors.New("InvalidToken")
	ErrTokenExpired = errors.New("TokenExpired")
	ErrForbidden    = errors.New("Forbidden")
)

// Account failures.
var (
	ErrUserNotFound       = errors.New("UserNotFound")
	ErrUserExists         = errors.New("UserExists")
	ErrInvalidCredentials = errors.New("InvalidCredentials")
)

// Catalog failures.
var (
	ErrClassificationNotFound = errors.New("ClassificationNotFound")
	ErrUnknownClassification  = errors.New("UnknownClassification")
	ErrAlreadyClassified      = errors.New("AlreadyClassified")
	ErrImageNotFound          = errors.New("ImageNotFound")
)

// Exam engine failures.
var (
	ErrExamNotFound          = errors.New("ExamNotFound")
	ErrQuestionIndexMismatch = errors.New("QuestionIndexMismatch")
	ErrExamCompleted         = errors.New("ExamCompleted")
	ErrPhotoAlreadyAnswered  = errors.New("PhotoAlreadyAnswered")
	ErrInvalidExam           = errors.New("InvalidExam")
)

// Cohort failures.
var (
	ErrGroupNotFound = errors.New("GroupNotFound")
	ErrGroupExists   = errors.New("GroupExists")
)
