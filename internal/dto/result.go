package dto

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/noah-isme/sma-results-api/internal/models"
	appErrors "github.com/noah-isme/sma-results-api/pkg/errors"
)

// FlexString accepts either a JSON string or a JSON number, so clients can
// send `"term": 2` as well as `"term": "2nd Term"`.
type FlexString string

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexString) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*f = ""
		return nil
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(trimmed, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", string(trimmed))
	}
	*f = FlexString(n.String())
	return nil
}

// ResultTarget addresses a result by its natural key in raw, unnormalized form.
type ResultTarget struct {
	StudentID string     `json:"student_id" validate:"required"`
	SubjectID string     `json:"subject_id" validate:"required"`
	Term      FlexString `json:"term" validate:"required"`
	Year      FlexString `json:"year"`
}

// SubmitResultRequest is the teacher submission payload.
type SubmitResultRequest struct {
	ResultTarget
	TestScore *float64 `json:"test_score"`
	ExamScore *float64 `json:"exam_score"`
}

// GradeResultRequest is the admin grading payload. Test and exam scores are
// optional overrides of the persisted values.
type GradeResultRequest struct {
	ResultTarget
	AdminScore *float64 `json:"admin_score"`
	TestScore  *float64 `json:"test_score,omitempty"`
	ExamScore  *float64 `json:"exam_score,omitempty"`
}

// RejectResultRequest returns a result to the teacher.
type RejectResultRequest struct {
	ResultTarget
	Reason string `json:"reason"`
}

// PublishResultRequest targets a graded result for publication.
type PublishResultRequest struct {
	ResultTarget
}

// BulkSubmitRequest carries many submissions.
type BulkSubmitRequest struct {
	Items []SubmitResultRequest `json:"items" validate:"required,min=1"`
}

// BulkGradeRequest carries many grading decisions.
type BulkGradeRequest struct {
	Items []GradeResultRequest `json:"items" validate:"required,min=1"`
}

// BulkPublishRequest carries many publications.
type BulkPublishRequest struct {
	Items []PublishResultRequest `json:"items" validate:"required,min=1"`
}

// BulkItemResult is the outcome of one item of a bulk call.
type BulkItemResult struct {
	Index   int                  `json:"index"`
	Success bool                 `json:"success"`
	Record  *models.ResultRecord `json:"record,omitempty"`
	Error   *appErrors.Error     `json:"error,omitempty"`
}

// BulkResult summarises a bulk call. Failed items never abort the batch.
type BulkResult struct {
	Successful int              `json:"successful"`
	Failed     int              `json:"failed"`
	Results    []BulkItemResult `json:"results"`
}

// Add records the outcome of the item at index.
func (b *BulkResult) Add(index int, record *models.ResultRecord, err error) {
	if err != nil {
		b.Failed++
		b.Results = append(b.Results, BulkItemResult{Index: index, Error: appErrors.FromError(err)})
		return
	}
	b.Successful++
	b.Results = append(b.Results, BulkItemResult{Index: index, Success: true, Record: record})
}

// ResultQuery mirrors the list endpoint query parameters.
type ResultQuery struct {
	Status    string `form:"status"`
	Term      string `form:"term"`
	Year      string `form:"year"`
	SubjectID string `form:"subjectId"`
	StudentID string `form:"studentId"`
	Published string `form:"published"`
}

// GradeProjection is the response of the grade projection endpoint.
type GradeProjection struct {
	Total      float64 `json:"total"`
	Max        float64 `json:"max"`
	Grade      string  `json:"grade"`
	GPA        float64 `json:"gpa"`
	Percentage float64 `json:"percentage"`
}
