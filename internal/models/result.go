package models

import "time"

// ResultStatus captures workflow states of an exam result.
type ResultStatus string

const (
	ResultStatusSubmitted ResultStatus = "submitted"
	ResultStatusGraded    ResultStatus = "graded"
	ResultStatusRejected  ResultStatus = "rejected"
)

// Valid reports whether s is a known status.
func (s ResultStatus) Valid() bool {
	switch s {
	case ResultStatusSubmitted, ResultStatusGraded, ResultStatusRejected:
		return true
	}
	return false
}

// ResultKey identifies the single result allowed per student, subject, term and year.
type ResultKey struct {
	StudentID string `json:"student_id"`
	SubjectID string `json:"subject_id"`
	Term      int    `json:"term"`
	Year      int    `json:"year"`
}

// ResultRecord is the canonical exam result shape used throughout the workflow.
type ResultRecord struct {
	ID              string       `json:"id"`
	StudentID       string       `json:"student_id"`
	SubjectID       string       `json:"subject_id"`
	Term            int          `json:"term"`
	Year            int          `json:"year"`
	TestScore       float64      `json:"test_score"`
	ExamScore       float64      `json:"exam_score"`
	AdminScore      *float64     `json:"admin_score"`
	TotalScore      float64      `json:"total_score"`
	Status          ResultStatus `json:"status"`
	IsPublished     bool         `json:"is_published"`
	RejectionReason *string      `json:"rejection_reason,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// Key returns the uniqueness tuple of the record.
func (r *ResultRecord) Key() ResultKey {
	return ResultKey{StudentID: r.StudentID, SubjectID: r.SubjectID, Term: r.Term, Year: r.Year}
}

// ResultFilter scopes result listings for review surfaces.
type ResultFilter struct {
	Status    ResultStatus
	Term      int
	Year      int
	SubjectID string
	StudentID string
	Published *bool
}

// ResultPatch describes a partial update. Nil fields are left untouched; the
// Clear flags null out optional columns.
type ResultPatch struct {
	TestScore            *float64
	ExamScore            *float64
	AdminScore           *float64
	ClearAdminScore      bool
	TotalScore           *float64
	Status               *ResultStatus
	IsPublished          *bool
	RejectionReason      *string
	ClearRejectionReason bool
	// OnlyUnpublished makes the update a no-op when the row is published.
	OnlyUnpublished bool
}
