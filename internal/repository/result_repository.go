package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/sma-results-api/internal/grading"
	"github.com/noah-isme/sma-results-api/internal/models"
)

// ErrDuplicateRecord signals an insert that collided with the
// (student_id, subject_id, term, year) unique constraint.
var ErrDuplicateRecord = errors.New("result record already exists for tuple")

const pqUniqueViolation = "23505"

const resultColumns = `id, student_id, subject_id, term, year, test_score, exam_score, admin_score, total_score,
        status, is_published, rejection_reason, created_at, updated_at`

// QueryObserver receives timings for executed statements.
type QueryObserver interface {
	ObserveDBQuery(label string, duration time.Duration)
}

// resultRow mirrors the exam_results table, nullable columns included.
type resultRow struct {
	ID              string          `db:"id"`
	StudentID       string          `db:"student_id"`
	SubjectID       string          `db:"subject_id"`
	Term            int             `db:"term"`
	Year            int             `db:"year"`
	TestScore       sql.NullFloat64 `db:"test_score"`
	ExamScore       sql.NullFloat64 `db:"exam_score"`
	AdminScore      sql.NullFloat64 `db:"admin_score"`
	TotalScore      sql.NullFloat64 `db:"total_score"`
	Status          string          `db:"status"`
	IsPublished     bool            `db:"is_published"`
	RejectionReason sql.NullString  `db:"rejection_reason"`
	CreatedAt       time.Time       `db:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at"`
}

// ResultRepository persists exam results.
type ResultRepository struct {
	db       *sqlx.DB
	observer QueryObserver
}

// NewResultRepository creates a result repository.
func NewResultRepository(db *sqlx.DB) *ResultRepository {
	return &ResultRepository{db: db}
}

// WithObserver attaches a query timing observer.
func (r *ResultRepository) WithObserver(observer QueryObserver) *ResultRepository {
	r.observer = observer
	return r
}

// FindOne returns the record for key, or nil when none exists.
func (r *ResultRepository) FindOne(ctx context.Context, key models.ResultKey) (*models.ResultRecord, error) {
	defer r.observe("results.find_one", time.Now())
	query := `SELECT ` + resultColumns + ` FROM exam_results
        WHERE student_id = $1 AND subject_id = $2 AND term = $3 AND year = $4`
	var row resultRow
	if err := r.db.GetContext(ctx, &row, query, key.StudentID, key.SubjectID, key.Term, key.Year); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find result: %w", err)
	}
	return normalizeResultRow(row), nil
}

// FindByID returns the record with id, or nil when none exists.
func (r *ResultRepository) FindByID(ctx context.Context, id string) (*models.ResultRecord, error) {
	defer r.observe("results.find_by_id", time.Now())
	query := `SELECT ` + resultColumns + ` FROM exam_results WHERE id = $1`
	var row resultRow
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find result by id: %w", err)
	}
	return normalizeResultRow(row), nil
}

// Insert stores a new record. A tuple collision returns ErrDuplicateRecord.
func (r *ResultRepository) Insert(ctx context.Context, record *models.ResultRecord) (*models.ResultRecord, error) {
	defer r.observe("results.insert", time.Now())
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now
	if record.Status == "" {
		record.Status = models.ResultStatusSubmitted
	}
	const query = `INSERT INTO exam_results (id, student_id, subject_id, term, year, test_score, exam_score, admin_score, total_score,
        status, is_published, rejection_reason, created_at, updated_at)
        VALUES (:id, :student_id, :subject_id, :term, :year, :test_score, :exam_score, :admin_score, :total_score,
        :status, :is_published, :rejection_reason, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, toResultRow(record)); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
			return nil, ErrDuplicateRecord
		}
		return nil, fmt.Errorf("insert result: %w", err)
	}
	stored := *record
	return &stored, nil
}

// Update applies patch to the record with id and stamps updated_at.
// It returns nil when the record does not exist, or is published and the
// patch sets OnlyUnpublished.
func (r *ResultRepository) Update(ctx context.Context, id string, patch models.ResultPatch) (*models.ResultRecord, error) {
	defer r.observe("results.update", time.Now())
	sets := make([]string, 0, 8)
	args := make([]interface{}, 0, 10)
	set := func(column string, value interface{}) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if patch.TestScore != nil {
		set("test_score", *patch.TestScore)
	}
	if patch.ExamScore != nil {
		set("exam_score", *patch.ExamScore)
	}
	if patch.ClearAdminScore {
		sets = append(sets, "admin_score = NULL")
	} else if patch.AdminScore != nil {
		set("admin_score", *patch.AdminScore)
	}
	if patch.TotalScore != nil {
		set("total_score", *patch.TotalScore)
	}
	if patch.Status != nil {
		set("status", string(*patch.Status))
	}
	if patch.IsPublished != nil {
		set("is_published", *patch.IsPublished)
	}
	if patch.ClearRejectionReason {
		sets = append(sets, "rejection_reason = NULL")
	} else if patch.RejectionReason != nil {
		set("rejection_reason", *patch.RejectionReason)
	}
	set("updated_at", time.Now().UTC())
	args = append(args, id)
	where := fmt.Sprintf("id = $%d", len(args))
	if patch.OnlyUnpublished {
		where += " AND NOT is_published"
	}
	query := fmt.Sprintf("UPDATE exam_results SET %s WHERE %s RETURNING %s", strings.Join(sets, ", "), where, resultColumns)

	var row resultRow
	if err := r.db.GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("update result: %w", err)
	}
	return normalizeResultRow(row), nil
}

// Query lists records matching filter, most recently updated first.
func (r *ResultRepository) Query(ctx context.Context, filter models.ResultFilter) ([]models.ResultRecord, error) {
	defer r.observe("results.query", time.Now())
	query := `SELECT ` + resultColumns + ` FROM exam_results WHERE 1=1`
	var args []interface{}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if filter.Term != 0 {
		args = append(args, filter.Term)
		query += fmt.Sprintf(" AND term = $%d", len(args))
	}
	if filter.Year != 0 {
		args = append(args, filter.Year)
		query += fmt.Sprintf(" AND year = $%d", len(args))
	}
	if filter.SubjectID != "" {
		args = append(args, filter.SubjectID)
		query += fmt.Sprintf(" AND subject_id = $%d", len(args))
	}
	if filter.StudentID != "" {
		args = append(args, filter.StudentID)
		query += fmt.Sprintf(" AND student_id = $%d", len(args))
	}
	if filter.Published != nil {
		args = append(args, *filter.Published)
		query += fmt.Sprintf(" AND is_published = $%d", len(args))
	}
	query += " ORDER BY updated_at DESC"

	var rows []resultRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	records := make([]models.ResultRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, *normalizeResultRow(row))
	}
	return records, nil
}

// Delete hard deletes a record. It reports whether a row was removed.
func (r *ResultRepository) Delete(ctx context.Context, id string) (bool, error) {
	defer r.observe("results.delete", time.Now())
	res, err := r.db.ExecContext(ctx, "DELETE FROM exam_results WHERE id = $1", id)
	if err != nil {
		return false, fmt.Errorf("delete result: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete result rows affected: %w", err)
	}
	return affected > 0, nil
}

func (r *ResultRepository) observe(label string, start time.Time) {
	if r.observer != nil {
		r.observer.ObserveDBQuery(label, time.Since(start))
	}
}

// normalizeResultRow is the single place where stored rows are mapped onto
// the canonical record. Legacy rows without total_score get it derived.
func normalizeResultRow(row resultRow) *models.ResultRecord {
	record := &models.ResultRecord{
		ID:          row.ID,
		StudentID:   row.StudentID,
		SubjectID:   row.SubjectID,
		Term:        row.Term,
		Year:        row.Year,
		Status:      models.ResultStatus(strings.ToLower(strings.TrimSpace(row.Status))),
		IsPublished: row.IsPublished,
		CreatedAt:   row.CreatedAt,
		UpdatedAt:   row.UpdatedAt,
	}
	if !record.Status.Valid() {
		record.Status = models.ResultStatusSubmitted
	}
	if row.TestScore.Valid {
		record.TestScore = row.TestScore.Float64
	}
	if row.ExamScore.Valid {
		record.ExamScore = row.ExamScore.Float64
	}
	if row.AdminScore.Valid {
		admin := row.AdminScore.Float64
		record.AdminScore = &admin
	}
	if row.TotalScore.Valid {
		record.TotalScore = row.TotalScore.Float64
	} else {
		record.TotalScore = grading.ComputeFinalTotal(&record.TestScore, &record.ExamScore, record.AdminScore)
	}
	if row.RejectionReason.Valid {
		reason := row.RejectionReason.String
		record.RejectionReason = &reason
	}
	return record
}

func toResultRow(record *models.ResultRecord) resultRow {
	row := resultRow{
		ID:          record.ID,
		StudentID:   record.StudentID,
		SubjectID:   record.SubjectID,
		Term:        record.Term,
		Year:        record.Year,
		TestScore:   sql.NullFloat64{Float64: record.TestScore, Valid: true},
		ExamScore:   sql.NullFloat64{Float64: record.ExamScore, Valid: true},
		TotalScore:  sql.NullFloat64{Float64: record.TotalScore, Valid: true},
		Status:      string(record.Status),
		IsPublished: record.IsPublished,
		CreatedAt:   record.CreatedAt,
		UpdatedAt:   record.UpdatedAt,
	}
	if record.AdminScore != nil {
		row.AdminScore = sql.NullFloat64{Float64: *record.AdminScore, Valid: true}
	}
	if record.RejectionReason != nil {
		row.RejectionReason = sql.NullString{String: *record.RejectionReason, Valid: true}
	}
	return row
}
