package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-results-api/internal/grading"
	"github.com/noah-isme/sma-results-api/internal/models"
	appErrors "github.com/noah-isme/sma-results-api/pkg/errors"
	"github.com/noah-isme/sma-results-api/pkg/export"
)

// ExportFormat enumerates rendered result sheet formats.
type ExportFormat string

const (
	ExportFormatCSV ExportFormat = "csv"
	ExportFormatPDF ExportFormat = "pdf"
)

type resultExporter interface {
	ExportRecords(ctx context.Context, actor models.Actor, filter models.ResultFilter) ([]models.ResultRecord, error)
}

// sheetRenderer turns a dataset into a downloadable document.
type sheetRenderer interface {
	Render(data export.Dataset) ([]byte, error)
	ContentType() string
}

// ExportResult is a rendered result sheet ready to stream.
type ExportResult struct {
	Filename    string
	ContentType string
	Payload     []byte
	Rows        int
}

var resultSheetHeaders = []string{
	"Student ID", "Subject ID", "Term", "Year", "Test", "Exam", "Admin", "Total", "Grade", "GPA", "Status", "Published",
}

var resultSheetNumeric = map[string]bool{
	"Term": true, "Year": true, "Test": true, "Exam": true, "Admin": true, "Total": true, "GPA": true,
}

// ExportService renders result listings into CSV or PDF sheets.
type ExportService struct {
	results resultExporter
	csv     sheetRenderer
	pdf     sheetRenderer
	logger  *zap.Logger
	now     func() time.Time
}

// NewExportService constructs an ExportService.
func NewExportService(results resultExporter, logger *zap.Logger, csv, pdf sheetRenderer) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &ExportService{results: results, csv: csv, pdf: pdf, logger: logger, now: time.Now}
}

// Generate renders every result matching filter in the requested format.
func (s *ExportService) Generate(ctx context.Context, actor models.Actor, filter models.ResultFilter, format ExportFormat) (*ExportResult, error) {
	format = ExportFormat(strings.ToLower(strings.TrimSpace(string(format))))
	if format == "" {
		format = ExportFormatCSV
	}
	if format != ExportFormatCSV && format != ExportFormatPDF {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported export format %s", format))
	}

	records, err := s.results.ExportRecords(ctx, actor, filter)
	if err != nil {
		return nil, err
	}
	dataset := buildResultDataset(records, filter, s.now())

	var (
		payload     []byte
		contentType string
	)
	switch format {
	case ExportFormatPDF:
		payload, err = s.pdf.Render(dataset)
		contentType = s.pdf.ContentType()
	default:
		payload, err = s.csv.Render(dataset)
		contentType = s.csv.ContentType()
	}
	if err != nil {
		s.logger.Error("failed to render result export", zap.String("format", string(format)), zap.Error(err))
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render export")
	}

	return &ExportResult{
		Filename:    s.buildFilename(filter, format),
		ContentType: contentType,
		Payload:     payload,
		Rows:        len(records),
	}, nil
}

func buildResultDataset(records []models.ResultRecord, filter models.ResultFilter, now time.Time) export.Dataset {
	rows := make([]map[string]string, 0, len(records))
	graded := 0
	for _, rec := range records {
		admin := ""
		if rec.AdminScore != nil {
			admin = formatScore(*rec.AdminScore)
		}
		grade, gpa := "", ""
		if rec.Status == models.ResultStatusGraded {
			computed := grading.ComputeGrade(rec.TotalScore, grading.FinalMax)
			grade = computed.Grade
			gpa = strconv.FormatFloat(computed.GPA, 'f', 1, 64)
			graded++
		}
		rows = append(rows, map[string]string{
			"Student ID": rec.StudentID,
			"Subject ID": rec.SubjectID,
			"Term":       strconv.Itoa(rec.Term),
			"Year":       strconv.Itoa(rec.Year),
			"Test":       formatScore(rec.TestScore),
			"Exam":       formatScore(rec.ExamScore),
			"Admin":      admin,
			"Total":      formatScore(rec.TotalScore),
			"Grade":      grade,
			"GPA":        gpa,
			"Status":     string(rec.Status),
			"Published":  strconv.FormatBool(rec.IsPublished),
		})
	}
	return export.Dataset{
		Title:   resultSheetTitle(filter),
		Headers: resultSheetHeaders,
		Rows:    rows,
		Numeric: resultSheetNumeric,
		Footer: []string{
			fmt.Sprintf("%d results, %d graded", len(records), graded),
			"Generated " + now.UTC().Format(time.RFC3339),
		},
	}
}

func resultSheetTitle(filter models.ResultFilter) string {
	parts := []string{"Exam Results"}
	if filter.Term != 0 {
		parts = append(parts, fmt.Sprintf("Term %d", filter.Term))
	}
	if filter.Year != 0 {
		parts = append(parts, strconv.Itoa(filter.Year))
	}
	if filter.SubjectID != "" {
		parts = append(parts, filter.SubjectID)
	}
	return strings.Join(parts, " ")
}

func (s *ExportService) buildFilename(filter models.ResultFilter, format ExportFormat) string {
	timestamp := s.now().UTC().Format("20060102_150405")
	scope := "all"
	if filter.Term != 0 || filter.Year != 0 {
		scope = fmt.Sprintf("t%d_%d", filter.Term, filter.Year)
	}
	if filter.SubjectID != "" {
		scope += "_" + sanitizeFilename(filter.SubjectID)
	}
	return fmt.Sprintf("results_%s_%s.%s", scope, timestamp, format)
}

func sanitizeFilename(raw string) string {
	if raw == "" {
		return "na"
	}
	replacer := strings.NewReplacer(" ", "_", "/", "-", "\\", "-", ":", "-", "..", ".", "__", "_")
	result := replacer.Replace(raw)
	if len(result) > 100 {
		return result[:100]
	}
	return result
}

func formatScore(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
