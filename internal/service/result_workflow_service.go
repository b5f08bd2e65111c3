package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-results-api/internal/dto"
	"github.com/noah-isme/sma-results-api/internal/grading"
	"github.com/noah-isme/sma-results-api/internal/models"
	"github.com/noah-isme/sma-results-api/internal/repository"
	appErrors "github.com/noah-isme/sma-results-api/pkg/errors"
)

type resultStore interface {
	FindOne(ctx context.Context, key models.ResultKey) (*models.ResultRecord, error)
	FindByID(ctx context.Context, id string) (*models.ResultRecord, error)
	Insert(ctx context.Context, record *models.ResultRecord) (*models.ResultRecord, error)
	Update(ctx context.Context, id string, patch models.ResultPatch) (*models.ResultRecord, error)
	Query(ctx context.Context, filter models.ResultFilter) ([]models.ResultRecord, error)
	Delete(ctx context.Context, id string) (bool, error)
}

type auditTrail interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
	ListByResource(ctx context.Context, resource, resourceID string) ([]models.AuditLog, error)
}

type resultCache interface {
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	ResultsVersion(ctx context.Context) int64
	InvalidateResults(ctx context.Context)
}

type workflowMetrics interface {
	ObserveTransition(operation, outcome string)
	ObserveBulk(operation string, successful, failed int)
}

// ResultWorkflowConfig tunes grading validation.
type ResultWorkflowConfig struct {
	AdminScoreMax float64
	CacheTTL      time.Duration
}

// ResultWorkflowOption configures the service.
type ResultWorkflowOption func(*ResultWorkflowService)

// WithResultPolicy overrides the role policy.
func WithResultPolicy(policy ResultPolicy) ResultWorkflowOption {
	return func(s *ResultWorkflowService) {
		if policy != nil {
			s.policy = policy
		}
	}
}

// WithResultAudit records every transition in the audit trail.
func WithResultAudit(audit auditTrail) ResultWorkflowOption {
	return func(s *ResultWorkflowService) {
		s.audit = audit
	}
}

// WithResultCache caches result listings.
func WithResultCache(cache resultCache) ResultWorkflowOption {
	return func(s *ResultWorkflowService) {
		s.cache = cache
	}
}

// WithResultMetrics counts transitions.
func WithResultMetrics(metrics workflowMetrics) ResultWorkflowOption {
	return func(s *ResultWorkflowService) {
		s.metrics = metrics
	}
}

// WithClock overrides the clock used for the academic year fallback.
func WithClock(now func() time.Time) ResultWorkflowOption {
	return func(s *ResultWorkflowService) {
		if now != nil {
			s.now = now
		}
	}
}

// ResultWorkflowService drives exam results through
// submitted -> graded -> published, with rejection back to the teacher.
//
// A published result is locked: it must be unpublished before it can be
// resubmitted, regraded or rejected.
type ResultWorkflowService struct {
	store     resultStore
	policy    ResultPolicy
	audit     auditTrail
	cache     resultCache
	metrics   workflowMetrics
	validator *validator.Validate
	logger    *zap.Logger
	cfg       ResultWorkflowConfig
	now       func() time.Time
}

// NewResultWorkflowService constructs the workflow service.
func NewResultWorkflowService(store resultStore, validate *validator.Validate, logger *zap.Logger, cfg ResultWorkflowConfig, opts ...ResultWorkflowOption) *ResultWorkflowService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.AdminScoreMax <= 0 {
		cfg.AdminScoreMax = grading.DefaultAdminScoreMax
	}
	svc := &ResultWorkflowService{
		store:     store,
		policy:    DefaultResultPolicy(),
		validator: validate,
		logger:    logger,
		cfg:       cfg,
		now:       time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc
}

// Submit creates the result for the tuple or resets an existing one to submitted.
func (s *ResultWorkflowService) Submit(ctx context.Context, actor models.Actor, req dto.SubmitResultRequest) (*models.ResultRecord, error) {
	record, err := s.submit(ctx, actor, req)
	s.track(OperationSubmit, err)
	return record, err
}

func (s *ResultWorkflowService) submit(ctx context.Context, actor models.Actor, req dto.SubmitResultRequest) (*models.ResultRecord, error) {
	if err := s.authorize(actor, OperationSubmit); err != nil {
		return nil, err
	}
	key, err := s.resolveKey(req.ResultTarget)
	if err != nil {
		return nil, err
	}
	test := grading.RoundScore(grading.CoerceNonNegative(req.TestScore))
	exam := grading.RoundScore(grading.CoerceNonNegative(req.ExamScore))
	subtotal := grading.ComputeSubtotal(&test, &exam)

	existing, err := s.store.FindOne(ctx, key)
	if err != nil {
		return nil, s.storageError(err, "failed to load result")
	}
	if existing == nil {
		inserted, err := s.store.Insert(ctx, &models.ResultRecord{
			StudentID:  key.StudentID,
			SubjectID:  key.SubjectID,
			Term:       key.Term,
			Year:       key.Year,
			TestScore:  test,
			ExamScore:  exam,
			TotalScore: subtotal,
			Status:     models.ResultStatusSubmitted,
		})
		if err == nil {
			s.afterTransition(ctx, actor, models.AuditActionResultSubmit, nil, inserted)
			return inserted, nil
		}
		if !errors.Is(err, repository.ErrDuplicateRecord) {
			return nil, s.storageError(err, "failed to insert result")
		}
		// A concurrent submission won the insert; fall back to updating its row.
		existing, err = s.store.FindOne(ctx, key)
		if err != nil {
			return nil, s.storageError(err, "failed to load result")
		}
		if existing == nil {
			return nil, appErrors.Clone(appErrors.ErrStorage, "result vanished after duplicate insert")
		}
	}
	if existing.IsPublished {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "published result must be unpublished before resubmission")
	}

	status := models.ResultStatusSubmitted
	published := false
	updated, err := s.updateUnpublished(ctx, existing.ID, models.ResultPatch{
		TestScore:            &test,
		ExamScore:            &exam,
		TotalScore:           &subtotal,
		Status:               &status,
		IsPublished:          &published,
		ClearAdminScore:      true,
		ClearRejectionReason: true,
	}, "failed to update result", "published result must be unpublished before resubmission")
	if err != nil {
		return nil, err
	}
	s.afterTransition(ctx, actor, models.AuditActionResultSubmit, existing, updated)
	return updated, nil
}

// Grade applies the admin score, recomputes the final total and marks the result graded.
func (s *ResultWorkflowService) Grade(ctx context.Context, actor models.Actor, req dto.GradeResultRequest) (*models.ResultRecord, error) {
	record, err := s.grade(ctx, actor, req)
	s.track(OperationGrade, err)
	return record, err
}

func (s *ResultWorkflowService) grade(ctx context.Context, actor models.Actor, req dto.GradeResultRequest) (*models.ResultRecord, error) {
	if err := s.authorize(actor, OperationGrade); err != nil {
		return nil, err
	}
	key, err := s.resolveKey(req.ResultTarget)
	if err != nil {
		return nil, err
	}
	admin, err := s.validateAdminScore(req.AdminScore)
	if err != nil {
		return nil, err
	}

	existing, err := s.findExisting(ctx, key)
	if err != nil {
		return nil, err
	}
	if existing.IsPublished {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "published result must be unpublished before regrading")
	}

	admin = grading.RoundScore(admin)
	test := existing.TestScore
	if req.TestScore != nil {
		test = grading.RoundScore(grading.CoerceNonNegative(req.TestScore))
	}
	exam := existing.ExamScore
	if req.ExamScore != nil {
		exam = grading.RoundScore(grading.CoerceNonNegative(req.ExamScore))
	}
	total := grading.ComputeFinalTotal(&test, &exam, &admin)
	status := models.ResultStatusGraded

	updated, err := s.updateUnpublished(ctx, existing.ID, models.ResultPatch{
		TestScore:            &test,
		ExamScore:            &exam,
		AdminScore:           &admin,
		TotalScore:           &total,
		Status:               &status,
		ClearRejectionReason: true,
	}, "failed to grade result", "published result must be unpublished before regrading")
	if err != nil {
		return nil, err
	}
	s.afterTransition(ctx, actor, models.AuditActionResultGrade, existing, updated)
	return updated, nil
}

// Reject returns a submitted or graded result to the teacher with a reason.
func (s *ResultWorkflowService) Reject(ctx context.Context, actor models.Actor, req dto.RejectResultRequest) (*models.ResultRecord, error) {
	record, err := s.reject(ctx, actor, req)
	s.track(OperationReject, err)
	return record, err
}

func (s *ResultWorkflowService) reject(ctx context.Context, actor models.Actor, req dto.RejectResultRequest) (*models.ResultRecord, error) {
	if err := s.authorize(actor, OperationReject); err != nil {
		return nil, err
	}
	key, err := s.resolveKey(req.ResultTarget)
	if err != nil {
		return nil, err
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "rejection reason is required")
	}

	existing, err := s.findExisting(ctx, key)
	if err != nil {
		return nil, err
	}
	if existing.IsPublished {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "published result must be unpublished before rejection")
	}

	status := models.ResultStatusRejected
	updated, err := s.updateUnpublished(ctx, existing.ID, models.ResultPatch{Status: &status, RejectionReason: &reason},
		"failed to reject result", "published result must be unpublished before rejection")
	if err != nil {
		return nil, err
	}
	s.afterTransition(ctx, actor, models.AuditActionResultReject, existing, updated)
	return updated, nil
}

// Publish makes a graded result visible to students. Publishing twice is a no-op.
func (s *ResultWorkflowService) Publish(ctx context.Context, actor models.Actor, req dto.PublishResultRequest) (*models.ResultRecord, error) {
	record, err := s.setPublished(ctx, actor, OperationPublish, req.ResultTarget, true)
	s.track(OperationPublish, err)
	return record, err
}

// Unpublish withdraws a published result so it can be corrected.
func (s *ResultWorkflowService) Unpublish(ctx context.Context, actor models.Actor, req dto.PublishResultRequest) (*models.ResultRecord, error) {
	record, err := s.setPublished(ctx, actor, OperationUnpublish, req.ResultTarget, false)
	s.track(OperationUnpublish, err)
	return record, err
}

func (s *ResultWorkflowService) setPublished(ctx context.Context, actor models.Actor, op Operation, target dto.ResultTarget, publish bool) (*models.ResultRecord, error) {
	if err := s.authorize(actor, op); err != nil {
		return nil, err
	}
	key, err := s.resolveKey(target)
	if err != nil {
		return nil, err
	}
	existing, err := s.findExisting(ctx, key)
	if err != nil {
		return nil, err
	}
	if publish && existing.Status != models.ResultStatusGraded {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("cannot publish result in %s status", existing.Status))
	}
	if existing.IsPublished == publish {
		return existing, nil
	}

	updated, err := s.store.Update(ctx, existing.ID, models.ResultPatch{IsPublished: &publish})
	if err != nil {
		return nil, s.storageError(err, "failed to update publication")
	}
	if updated == nil {
		return nil, appErrors.ErrRecordNotFound
	}
	action := models.AuditActionResultPublish
	if !publish {
		action = models.AuditActionResultUnpublish
	}
	s.afterTransition(ctx, actor, action, existing, updated)
	return updated, nil
}

// List returns results matching filter. Students only ever see their own
// published results.
func (s *ResultWorkflowService) List(ctx context.Context, actor models.Actor, filter models.ResultFilter) ([]models.ResultRecord, bool, error) {
	if err := s.authorize(actor, OperationList); err != nil {
		return nil, false, err
	}
	if actor.Role == models.RoleStudent {
		published := true
		filter.Published = &published
		filter.StudentID = actor.UserID
	}

	var key string
	if s.cache != nil {
		key = ResultListKey(s.cache.ResultsVersion(ctx), filter)
		var cached []models.ResultRecord
		if hit, err := s.cache.Get(ctx, key, &cached); err == nil && hit {
			return cached, true, nil
		}
	}

	records, err := s.store.Query(ctx, filter)
	if err != nil {
		return nil, false, s.storageError(err, "failed to list results")
	}
	if s.cache != nil {
		_ = s.cache.Set(ctx, key, records, s.cfg.CacheTTL)
	}
	return records, false, nil
}

// ExportRecords returns uncached results matching filter for report rendering.
func (s *ResultWorkflowService) ExportRecords(ctx context.Context, actor models.Actor, filter models.ResultFilter) ([]models.ResultRecord, error) {
	if err := s.authorize(actor, OperationExport); err != nil {
		return nil, err
	}
	records, err := s.store.Query(ctx, filter)
	if err != nil {
		return nil, s.storageError(err, "failed to export results")
	}
	return records, nil
}

// Get fetches a single result by id.
func (s *ResultWorkflowService) Get(ctx context.Context, actor models.Actor, id string) (*models.ResultRecord, error) {
	if err := s.authorize(actor, OperationView); err != nil {
		return nil, err
	}
	record, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, s.storageError(err, "failed to load result")
	}
	if record == nil || !visibleTo(actor, record) {
		return nil, appErrors.ErrRecordNotFound
	}
	return record, nil
}

// History returns the audit trail of a result.
func (s *ResultWorkflowService) History(ctx context.Context, actor models.Actor, id string) ([]models.AuditLog, error) {
	if _, err := s.Get(ctx, actor, id); err != nil {
		return nil, err
	}
	if s.audit == nil {
		return []models.AuditLog{}, nil
	}
	logs, err := s.audit.ListByResource(ctx, models.AuditResourceResult, id)
	if err != nil {
		return nil, s.storageError(err, "failed to load result history")
	}
	return logs, nil
}

// Delete hard deletes a result. This sits outside the normal workflow.
func (s *ResultWorkflowService) Delete(ctx context.Context, actor models.Actor, id string) error {
	err := s.delete(ctx, actor, id)
	s.track(OperationDelete, err)
	return err
}

func (s *ResultWorkflowService) delete(ctx context.Context, actor models.Actor, id string) error {
	if err := s.authorize(actor, OperationDelete); err != nil {
		return err
	}
	existing, err := s.store.FindByID(ctx, id)
	if err != nil {
		return s.storageError(err, "failed to load result")
	}
	if existing == nil {
		return appErrors.ErrRecordNotFound
	}
	deleted, err := s.store.Delete(ctx, id)
	if err != nil {
		return s.storageError(err, "failed to delete result")
	}
	if !deleted {
		return appErrors.ErrRecordNotFound
	}
	s.afterTransition(ctx, actor, models.AuditActionResultDelete, existing, nil)
	return nil
}

// BulkSubmit submits every item in order, collecting per-item outcomes.
func (s *ResultWorkflowService) BulkSubmit(ctx context.Context, actor models.Actor, req dto.BulkSubmitRequest) (*dto.BulkResult, error) {
	if err := s.prepareBulk(actor, OperationSubmit, req); err != nil {
		return nil, err
	}
	result := &dto.BulkResult{Results: make([]dto.BulkItemResult, 0, len(req.Items))}
	for i, item := range req.Items {
		if err := ctx.Err(); err != nil {
			result.Add(i, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "bulk call cancelled"))
			continue
		}
		record, err := s.Submit(ctx, actor, item)
		result.Add(i, record, err)
	}
	s.finishBulk(OperationSubmit, result)
	return result, nil
}

// BulkGrade grades every item in order, collecting per-item outcomes.
func (s *ResultWorkflowService) BulkGrade(ctx context.Context, actor models.Actor, req dto.BulkGradeRequest) (*dto.BulkResult, error) {
	if err := s.prepareBulk(actor, OperationGrade, req); err != nil {
		return nil, err
	}
	result := &dto.BulkResult{Results: make([]dto.BulkItemResult, 0, len(req.Items))}
	for i, item := range req.Items {
		if err := ctx.Err(); err != nil {
			result.Add(i, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "bulk call cancelled"))
			continue
		}
		record, err := s.Grade(ctx, actor, item)
		result.Add(i, record, err)
	}
	s.finishBulk(OperationGrade, result)
	return result, nil
}

// BulkPublish publishes every item in order, collecting per-item outcomes.
func (s *ResultWorkflowService) BulkPublish(ctx context.Context, actor models.Actor, req dto.BulkPublishRequest) (*dto.BulkResult, error) {
	if err := s.prepareBulk(actor, OperationPublish, req); err != nil {
		return nil, err
	}
	result := &dto.BulkResult{Results: make([]dto.BulkItemResult, 0, len(req.Items))}
	for i, item := range req.Items {
		if err := ctx.Err(); err != nil {
			result.Add(i, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "bulk call cancelled"))
			continue
		}
		record, err := s.Publish(ctx, actor, item)
		result.Add(i, record, err)
	}
	s.finishBulk(OperationPublish, result)
	return result, nil
}

func (s *ResultWorkflowService) prepareBulk(actor models.Actor, op Operation, req interface{}) error {
	if err := s.authorize(actor, op); err != nil {
		return err
	}
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "bulk payload requires at least one item")
	}
	return nil
}

func (s *ResultWorkflowService) finishBulk(op Operation, result *dto.BulkResult) {
	if s.metrics != nil {
		s.metrics.ObserveBulk(string(op), result.Successful, result.Failed)
	}
	s.logger.Info("bulk result call finished",
		zap.String("operation", string(op)),
		zap.Int("successful", result.Successful),
		zap.Int("failed", result.Failed),
	)
}

func (s *ResultWorkflowService) authorize(actor models.Actor, op Operation) error {
	if actor.Role == "" {
		return appErrors.ErrUnauthorized
	}
	if !s.policy.CanPerform(actor.Role, op) {
		return appErrors.Clone(appErrors.ErrForbidden, fmt.Sprintf("role %s may not %s results", actor.Role, op))
	}
	return nil
}

func (s *ResultWorkflowService) resolveKey(target dto.ResultTarget) (models.ResultKey, error) {
	target.StudentID = strings.TrimSpace(target.StudentID)
	target.SubjectID = strings.TrimSpace(target.SubjectID)
	if err := s.validator.Struct(target); err != nil {
		return models.ResultKey{}, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "student, subject and term are required")
	}
	term, ok := grading.NormalizeTerm(string(target.Term))
	if !ok {
		return models.ResultKey{}, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("term %q must resolve to 1, 2 or 3", string(target.Term)))
	}
	return models.ResultKey{
		StudentID: target.StudentID,
		SubjectID: target.SubjectID,
		Term:      term,
		Year:      grading.NormalizeYearAt(string(target.Year), s.now()),
	}, nil
}

func (s *ResultWorkflowService) validateAdminScore(score *float64) (float64, error) {
	if score == nil {
		return 0, appErrors.Clone(appErrors.ErrValidation, "admin score is required")
	}
	value := *score
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, appErrors.Clone(appErrors.ErrValidation, "admin score must be a finite number")
	}
	if value < 0 {
		return 0, appErrors.Clone(appErrors.ErrValidation, "admin score must be at least 0")
	}
	if value > s.cfg.AdminScoreMax {
		return 0, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("admin score must be at most %g", s.cfg.AdminScoreMax))
	}
	return value, nil
}

func (s *ResultWorkflowService) findExisting(ctx context.Context, key models.ResultKey) (*models.ResultRecord, error) {
	existing, err := s.store.FindOne(ctx, key)
	if err != nil {
		return nil, s.storageError(err, "failed to load result")
	}
	if existing == nil {
		return nil, appErrors.Clone(appErrors.ErrRecordNotFound,
			fmt.Sprintf("no result for student %s, subject %s, term %d, year %d", key.StudentID, key.SubjectID, key.Term, key.Year))
	}
	return existing, nil
}

// updateUnpublished applies patch only while the row is unpublished, so a
// publish that lands after the caller's read still locks the record.
func (s *ResultWorkflowService) updateUnpublished(ctx context.Context, id string, patch models.ResultPatch, failure, locked string) (*models.ResultRecord, error) {
	patch.OnlyUnpublished = true
	updated, err := s.store.Update(ctx, id, patch)
	if err != nil {
		return nil, s.storageError(err, failure)
	}
	if updated != nil {
		return updated, nil
	}
	current, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, s.storageError(err, "failed to load result")
	}
	if current != nil && current.IsPublished {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, locked)
	}
	return nil, appErrors.ErrRecordNotFound
}

func (s *ResultWorkflowService) storageError(err error, message string) error {
	s.logger.Error(message, zap.Error(err))
	return appErrors.Storage(err, message)
}

func (s *ResultWorkflowService) track(op Operation, err error) {
	if s.metrics == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = appErrors.FromError(err).Code
	}
	s.metrics.ObserveTransition(string(op), outcome)
}

func (s *ResultWorkflowService) afterTransition(ctx context.Context, actor models.Actor, action string, before, after *models.ResultRecord) {
	resourceID := ""
	if after != nil {
		resourceID = after.ID
	} else if before != nil {
		resourceID = before.ID
	}
	fields := []zap.Field{zap.String("action", action), zap.String("result_id", resourceID), zap.String("role", string(actor.Role))}
	if after != nil {
		fields = append(fields, zap.String("status", string(after.Status)), zap.Bool("published", after.IsPublished), zap.Float64("total", after.TotalScore))
	}
	s.logger.Info("result transition", fields...)

	if s.cache != nil {
		s.cache.InvalidateResults(ctx)
	}
	if s.audit == nil {
		return
	}
	src := models.AuditSourceFrom(ctx)
	entry := &models.AuditLog{
		Action:     action,
		IPAddress:  src.IPAddress,
		UserAgent:  src.UserAgent,
		Resource:   models.AuditResourceResult,
		ResourceID: &resourceID,
		OldValues:  marshalSnapshot(before),
		NewValues:  marshalSnapshot(after),
	}
	if actor.UserID != "" {
		userID := actor.UserID
		entry.UserID = &userID
	}
	if err := s.audit.CreateAuditLog(ctx, entry); err != nil {
		s.logger.Warn("failed to write result audit log", zap.String("result_id", resourceID), zap.Error(err))
	}
}

func marshalSnapshot(record *models.ResultRecord) []byte {
	if record == nil {
		return nil
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return nil
	}
	return payload
}

func visibleTo(actor models.Actor, record *models.ResultRecord) bool {
	if actor.Role != models.RoleStudent {
		return true
	}
	return record.IsPublished && record.StudentID == actor.UserID
}
