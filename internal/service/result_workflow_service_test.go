package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-results-api/internal/dto"
	"github.com/noah-isme/sma-results-api/internal/models"
	"github.com/noah-isme/sma-results-api/internal/repository"
	appErrors "github.com/noah-isme/sma-results-api/pkg/errors"
)

type resultStoreStub struct {
	mu      sync.Mutex
	records map[string]*models.ResultRecord
	seq     int

	// hideNextFind makes the next FindOne report a miss, emulating a
	// concurrent writer that inserted between lookup and insert.
	hideNextFind bool
	findErr      error
	updateErr    error
	// beforeUpdate runs against the stored row ahead of the next Update,
	// emulating a writer that commits between read and update.
	beforeUpdate func(rec *models.ResultRecord)
	// afterQuery runs once when the next Query has read its rows.
	afterQuery func()
	inserts    int
	updates    int
}

func newResultStoreStub() *resultStoreStub {
	return &resultStoreStub{records: make(map[string]*models.ResultRecord)}
}

func (s *resultStoreStub) FindOne(ctx context.Context, key models.ResultKey) (*models.ResultRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return nil, s.findErr
	}
	if s.hideNextFind {
		s.hideNextFind = false
		return nil, nil
	}
	for _, rec := range s.records {
		if rec.Key() == key {
			copy := *rec
			return &copy, nil
		}
	}
	return nil, nil
}

func (s *resultStoreStub) FindByID(ctx context.Context, id string) (*models.ResultRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.records[id]; ok {
		copy := *rec
		return &copy, nil
	}
	return nil, nil
}

func (s *resultStoreStub) Insert(ctx context.Context, record *models.ResultRecord) (*models.ResultRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.records {
		if rec.Key() == record.Key() {
			return nil, repository.ErrDuplicateRecord
		}
	}
	s.seq++
	s.inserts++
	copy := *record
	copy.ID = fmt.Sprintf("r%d", s.seq)
	copy.CreatedAt = time.Now()
	copy.UpdatedAt = copy.CreatedAt
	s.records[copy.ID] = &copy
	out := copy
	return &out, nil
}

func (s *resultStoreStub) Update(ctx context.Context, id string, patch models.ResultPatch) (*models.ResultRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return nil, s.updateErr
	}
	rec, ok := s.records[id]
	if !ok {
		return nil, nil
	}
	if s.beforeUpdate != nil {
		s.beforeUpdate(rec)
		s.beforeUpdate = nil
	}
	if patch.OnlyUnpublished && rec.IsPublished {
		return nil, nil
	}
	s.updates++
	if patch.TestScore != nil {
		rec.TestScore = *patch.TestScore
	}
	if patch.ExamScore != nil {
		rec.ExamScore = *patch.ExamScore
	}
	if patch.ClearAdminScore {
		rec.AdminScore = nil
	} else if patch.AdminScore != nil {
		v := *patch.AdminScore
		rec.AdminScore = &v
	}
	if patch.TotalScore != nil {
		rec.TotalScore = *patch.TotalScore
	}
	if patch.Status != nil {
		rec.Status = *patch.Status
	}
	if patch.IsPublished != nil {
		rec.IsPublished = *patch.IsPublished
	}
	if patch.ClearRejectionReason {
		rec.RejectionReason = nil
	} else if patch.RejectionReason != nil {
		v := *patch.RejectionReason
		rec.RejectionReason = &v
	}
	rec.UpdatedAt = time.Now()
	copy := *rec
	return &copy, nil
}

func (s *resultStoreStub) Query(ctx context.Context, filter models.ResultFilter) ([]models.ResultRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.ResultRecord, 0, len(s.records))
	for _, rec := range s.records {
		if filter.Status != "" && rec.Status != filter.Status {
			continue
		}
		if filter.StudentID != "" && rec.StudentID != filter.StudentID {
			continue
		}
		if filter.SubjectID != "" && rec.SubjectID != filter.SubjectID {
			continue
		}
		if filter.Term != 0 && rec.Term != filter.Term {
			continue
		}
		if filter.Year != 0 && rec.Year != filter.Year {
			continue
		}
		if filter.Published != nil && rec.IsPublished != *filter.Published {
			continue
		}
		out = append(out, *rec)
	}
	if s.afterQuery != nil {
		s.afterQuery()
		s.afterQuery = nil
	}
	return out, nil
}

func (s *resultStoreStub) Delete(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[id]; !ok {
		return false, nil
	}
	delete(s.records, id)
	return true, nil
}

type resultAuditStub struct {
	logs []*models.AuditLog
}

func (a *resultAuditStub) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	a.logs = append(a.logs, log)
	return nil
}

func (a *resultAuditStub) ListByResource(ctx context.Context, resource, resourceID string) ([]models.AuditLog, error) {
	out := []models.AuditLog{}
	for _, log := range a.logs {
		if log.Resource == resource && log.ResourceID != nil && *log.ResourceID == resourceID {
			out = append(out, *log)
		}
	}
	return out, nil
}

type resultCacheStub struct {
	entries     map[string][]models.ResultRecord
	version     int64
	invalidated int
}

func (c *resultCacheStub) ResultsVersion(ctx context.Context) int64 {
	return c.version
}

func (c *resultCacheStub) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	cached, ok := c.entries[key]
	if !ok {
		return false, nil
	}
	*(dest.(*[]models.ResultRecord)) = cached
	return true, nil
}

func (c *resultCacheStub) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	c.entries[key] = value.([]models.ResultRecord)
	return nil
}

func (c *resultCacheStub) InvalidateResults(ctx context.Context) {
	c.invalidated++
	c.version++
	c.entries = make(map[string][]models.ResultRecord)
}

type transitionMetricsStub struct {
	transitions map[string]int
	bulk        []string
}

func (m *transitionMetricsStub) ObserveTransition(operation, outcome string) {
	m.transitions[operation+":"+outcome]++
}

func (m *transitionMetricsStub) ObserveBulk(operation string, successful, failed int) {
	m.bulk = append(m.bulk, fmt.Sprintf("%s:%d/%d", operation, successful, failed))
}

var (
	teacherActor = models.Actor{UserID: "t1", Role: models.RoleTeacher}
	adminActor   = models.Actor{UserID: "a1", Role: models.RoleAdmin}
	studentActor = models.Actor{UserID: "s1", Role: models.RoleStudent}
)

func fptr(v float64) *float64 { return &v }

func target(student, subject, term, year string) dto.ResultTarget {
	return dto.ResultTarget{StudentID: student, SubjectID: subject, Term: dto.FlexString(term), Year: dto.FlexString(year)}
}

func newWorkflow(store *resultStoreStub, opts ...ResultWorkflowOption) *ResultWorkflowService {
	fixed := time.Date(2025, time.March, 3, 0, 0, 0, 0, time.UTC)
	opts = append([]ResultWorkflowOption{WithClock(func() time.Time { return fixed })}, opts...)
	return NewResultWorkflowService(store, nil, nil, ResultWorkflowConfig{}, opts...)
}

func submitScores(t *testing.T, svc *ResultWorkflowService, tgt dto.ResultTarget, test, exam float64) *models.ResultRecord {
	t.Helper()
	rec, err := svc.Submit(context.Background(), teacherActor, dto.SubmitResultRequest{ResultTarget: tgt, TestScore: fptr(test), ExamScore: fptr(exam)})
	require.NoError(t, err)
	return rec
}

func TestResultWorkflowSubmitCreatesRecord(t *testing.T) {
	store := newResultStoreStub()
	audit := &resultAuditStub{}
	svc := newWorkflow(store, WithResultAudit(audit))

	rec := submitScores(t, svc, target("s1", "math", "2nd Term", "2024/2025"), 28, 47)

	assert.Equal(t, models.ResultStatusSubmitted, rec.Status)
	assert.Equal(t, 2, rec.Term)
	assert.Equal(t, 2024, rec.Year)
	assert.Equal(t, 75.0, rec.TotalScore)
	assert.Nil(t, rec.AdminScore)
	assert.False(t, rec.IsPublished)
	require.Len(t, audit.logs, 1)
	assert.Equal(t, models.AuditActionResultSubmit, audit.logs[0].Action)
	assert.Nil(t, audit.logs[0].OldValues)
	assert.NotEmpty(t, audit.logs[0].NewValues)
}

func TestResultWorkflowSubmitCoercesScores(t *testing.T) {
	svc := newWorkflow(newResultStoreStub())

	rec, err := svc.Submit(context.Background(), teacherActor, dto.SubmitResultRequest{
		ResultTarget: target("s1", "math", "1", "2024"),
		TestScore:    fptr(-4),
		ExamScore:    fptr(math.NaN()),
	})
	require.NoError(t, err)
	assert.Equal(t, 0.0, rec.TestScore)
	assert.Equal(t, 0.0, rec.ExamScore)
	assert.Equal(t, 0.0, rec.TotalScore)
}

func TestResultWorkflowSubmitDefaultsYear(t *testing.T) {
	svc := newWorkflow(newResultStoreStub())

	rec := submitScores(t, svc, target("s1", "math", "first", ""), 10, 10)
	assert.Equal(t, 1, rec.Term)
	assert.Equal(t, 2025, rec.Year)
}

func TestResultWorkflowResubmitIsIdempotentPerTuple(t *testing.T) {
	store := newResultStoreStub()
	svc := newWorkflow(store)

	first := submitScores(t, svc, target("s1", "math", "2", "2024"), 10, 20)
	_, err := svc.Grade(context.Background(), adminActor, dto.GradeResultRequest{ResultTarget: target("s1", "math", "2", "2024"), AdminScore: fptr(15)})
	require.NoError(t, err)
	_, err = svc.Reject(context.Background(), adminActor, dto.RejectResultRequest{ResultTarget: target("s1", "math", "Term 2", "2024"), Reason: "recheck"})
	require.NoError(t, err)

	second := submitScores(t, svc, target("s1", "math", "second", "2024"), 25, 45)

	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, store.records, 1)
	assert.Equal(t, models.ResultStatusSubmitted, second.Status)
	assert.Equal(t, 70.0, second.TotalScore)
	assert.Nil(t, second.AdminScore)
	assert.Nil(t, second.RejectionReason)
}

func TestResultWorkflowSubmitRecoversFromDuplicateInsert(t *testing.T) {
	store := newResultStoreStub()
	svc := newWorkflow(store)
	existing := submitScores(t, svc, target("s1", "math", "3", "2024"), 5, 5)

	store.hideNextFind = true
	rec := submitScores(t, svc, target("s1", "math", "3", "2024"), 20, 30)

	assert.Equal(t, existing.ID, rec.ID)
	assert.Equal(t, 50.0, rec.TotalScore)
	assert.Equal(t, 1, store.inserts)
	assert.Len(t, store.records, 1)
}

func TestResultWorkflowConcurrentSubmitsKeepOneRecord(t *testing.T) {
	store := newResultStoreStub()
	svc := newWorkflow(store)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.Submit(context.Background(), teacherActor, dto.SubmitResultRequest{
				ResultTarget: target("s1", "math", "1", "2024"),
				TestScore:    fptr(float64(i)),
				ExamScore:    fptr(10),
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Len(t, store.records, 1)
}

func TestResultWorkflowSubmitRejectsInvalidTerm(t *testing.T) {
	store := newResultStoreStub()
	svc := newWorkflow(store)

	for _, term := range []string{"fourth", "9", "summer"} {
		_, err := svc.Submit(context.Background(), teacherActor, dto.SubmitResultRequest{ResultTarget: target("s1", "math", term, "2024")})
		require.Error(t, err, term)
		assert.True(t, appErrors.Is(err, appErrors.ErrValidation), term)
	}
	assert.Empty(t, store.records)
}

func TestResultWorkflowSubmitRequiresIdentifiers(t *testing.T) {
	svc := newWorkflow(newResultStoreStub())

	_, err := svc.Submit(context.Background(), teacherActor, dto.SubmitResultRequest{ResultTarget: target(" ", "math", "1", "2024")})
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
}

func TestResultWorkflowGradeComputesTotal(t *testing.T) {
	store := newResultStoreStub()
	svc := newWorkflow(store)
	submitScores(t, svc, target("s1", "math", "2", "2024"), 28, 47)

	rec, err := svc.Grade(context.Background(), adminActor, dto.GradeResultRequest{ResultTarget: target("s1", "math", "2", "2024"), AdminScore: fptr(18)})
	require.NoError(t, err)
	assert.Equal(t, models.ResultStatusGraded, rec.Status)
	assert.Equal(t, 93.0, rec.TotalScore)
	require.NotNil(t, rec.AdminScore)
	assert.Equal(t, 18.0, *rec.AdminScore)
}

func TestResultWorkflowGradeOverridesScores(t *testing.T) {
	svc := newWorkflow(newResultStoreStub())
	submitScores(t, svc, target("s1", "math", "2", "2024"), 28, 47)

	rec, err := svc.Grade(context.Background(), adminActor, dto.GradeResultRequest{
		ResultTarget: target("s1", "math", "2", "2024"),
		AdminScore:   fptr(10),
		TestScore:    fptr(20),
	})
	require.NoError(t, err)
	assert.Equal(t, 20.0, rec.TestScore)
	assert.Equal(t, 47.0, rec.ExamScore)
	assert.Equal(t, 77.0, rec.TotalScore)
}

func TestResultWorkflowGradeValidatesAdminScoreBeforeStorage(t *testing.T) {
	store := newResultStoreStub()
	store.findErr = errors.New("must not be reached")
	svc := newWorkflow(store)

	cases := map[string]*float64{
		"missing":  nil,
		"negative": fptr(-1),
		"too high": fptr(20.5),
		"nan":      fptr(math.NaN()),
		"inf":      fptr(math.Inf(1)),
	}
	for name, score := range cases {
		_, err := svc.Grade(context.Background(), adminActor, dto.GradeResultRequest{ResultTarget: target("s1", "math", "1", "2024"), AdminScore: score})
		assert.True(t, appErrors.Is(err, appErrors.ErrValidation), name)
	}
}

func TestResultWorkflowGradeHonoursConfiguredMax(t *testing.T) {
	store := newResultStoreStub()
	svc := NewResultWorkflowService(store, nil, nil, ResultWorkflowConfig{AdminScoreMax: 30})
	submitScores(t, svc, target("s1", "math", "1", "2024"), 10, 10)

	rec, err := svc.Grade(context.Background(), adminActor, dto.GradeResultRequest{ResultTarget: target("s1", "math", "1", "2024"), AdminScore: fptr(25)})
	require.NoError(t, err)
	assert.Equal(t, 45.0, rec.TotalScore)
}

func TestResultWorkflowGradeMissingRecord(t *testing.T) {
	svc := newWorkflow(newResultStoreStub())

	_, err := svc.Grade(context.Background(), adminActor, dto.GradeResultRequest{ResultTarget: target("s1", "math", "1", "2024"), AdminScore: fptr(10)})
	assert.True(t, appErrors.Is(err, appErrors.ErrRecordNotFound))
}

func TestResultWorkflowStorageFailure(t *testing.T) {
	store := newResultStoreStub()
	svc := newWorkflow(store)
	submitScores(t, svc, target("s1", "math", "1", "2024"), 10, 10)

	store.updateErr = errors.New("connection refused")
	_, err := svc.Grade(context.Background(), adminActor, dto.GradeResultRequest{ResultTarget: target("s1", "math", "1", "2024"), AdminScore: fptr(10)})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrStorage))
	assert.Contains(t, err.Error(), "connection refused")
}

func TestResultWorkflowRejectKeepsScores(t *testing.T) {
	svc := newWorkflow(newResultStoreStub())
	submitScores(t, svc, target("s1", "math", "1", "2024"), 10, 30)

	rec, err := svc.Reject(context.Background(), adminActor, dto.RejectResultRequest{ResultTarget: target("s1", "math", "1", "2024"), Reason: " missing exam sheet "})
	require.NoError(t, err)
	assert.Equal(t, models.ResultStatusRejected, rec.Status)
	require.NotNil(t, rec.RejectionReason)
	assert.Equal(t, "missing exam sheet", *rec.RejectionReason)
	assert.Equal(t, 40.0, rec.TotalScore)

	_, err = svc.Reject(context.Background(), adminActor, dto.RejectResultRequest{ResultTarget: target("s1", "math", "1", "2024"), Reason: "  "})
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
}

func TestResultWorkflowGradeClearsRejection(t *testing.T) {
	svc := newWorkflow(newResultStoreStub())
	submitScores(t, svc, target("s1", "math", "1", "2024"), 10, 30)
	_, err := svc.Reject(context.Background(), adminActor, dto.RejectResultRequest{ResultTarget: target("s1", "math", "1", "2024"), Reason: "retry"})
	require.NoError(t, err)

	rec, err := svc.Grade(context.Background(), adminActor, dto.GradeResultRequest{ResultTarget: target("s1", "math", "1", "2024"), AdminScore: fptr(5)})
	require.NoError(t, err)
	assert.Equal(t, models.ResultStatusGraded, rec.Status)
	assert.Nil(t, rec.RejectionReason)
}

func TestResultWorkflowPublishRequiresGraded(t *testing.T) {
	svc := newWorkflow(newResultStoreStub())
	tgt := target("s1", "math", "1", "2024")
	submitScores(t, svc, tgt, 10, 30)

	_, err := svc.Publish(context.Background(), adminActor, dto.PublishResultRequest{ResultTarget: tgt})
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidTransition))

	_, err = svc.Grade(context.Background(), adminActor, dto.GradeResultRequest{ResultTarget: tgt, AdminScore: fptr(10)})
	require.NoError(t, err)

	rec, err := svc.Publish(context.Background(), adminActor, dto.PublishResultRequest{ResultTarget: tgt})
	require.NoError(t, err)
	assert.True(t, rec.IsPublished)
	assert.Equal(t, models.ResultStatusGraded, rec.Status)

	again, err := svc.Publish(context.Background(), adminActor, dto.PublishResultRequest{ResultTarget: tgt})
	require.NoError(t, err)
	assert.True(t, again.IsPublished)
}

func TestResultWorkflowPublishedResultIsLocked(t *testing.T) {
	svc := newWorkflow(newResultStoreStub())
	tgt := target("s1", "math", "1", "2024")
	submitScores(t, svc, tgt, 10, 30)
	_, err := svc.Grade(context.Background(), adminActor, dto.GradeResultRequest{ResultTarget: tgt, AdminScore: fptr(10)})
	require.NoError(t, err)
	_, err = svc.Publish(context.Background(), adminActor, dto.PublishResultRequest{ResultTarget: tgt})
	require.NoError(t, err)

	_, err = svc.Submit(context.Background(), teacherActor, dto.SubmitResultRequest{ResultTarget: tgt, TestScore: fptr(1)})
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidTransition))
	_, err = svc.Grade(context.Background(), adminActor, dto.GradeResultRequest{ResultTarget: tgt, AdminScore: fptr(1)})
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidTransition))
	_, err = svc.Reject(context.Background(), adminActor, dto.RejectResultRequest{ResultTarget: tgt, Reason: "late"})
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidTransition))

	rec, err := svc.Unpublish(context.Background(), adminActor, dto.PublishResultRequest{ResultTarget: tgt})
	require.NoError(t, err)
	assert.False(t, rec.IsPublished)

	rec, err = svc.Submit(context.Background(), teacherActor, dto.SubmitResultRequest{ResultTarget: tgt, TestScore: fptr(1)})
	require.NoError(t, err)
	assert.Equal(t, models.ResultStatusSubmitted, rec.Status)
}

func TestResultWorkflowPublishAfterReadKeepsLock(t *testing.T) {
	store := newResultStoreStub()
	svc := newWorkflow(store)
	tgt := target("s1", "math", "1", "2024")
	submitScores(t, svc, tgt, 10, 30)
	_, err := svc.Grade(context.Background(), adminActor, dto.GradeResultRequest{ResultTarget: tgt, AdminScore: fptr(10)})
	require.NoError(t, err)

	publish := func(rec *models.ResultRecord) { rec.IsPublished = true }

	store.beforeUpdate = publish
	_, err = svc.Submit(context.Background(), teacherActor, dto.SubmitResultRequest{ResultTarget: tgt, TestScore: fptr(1)})
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidTransition))

	stored, err := store.FindOne(context.Background(), models.ResultKey{StudentID: "s1", SubjectID: "math", Term: 1, Year: 2024})
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.True(t, stored.IsPublished)
	assert.Equal(t, models.ResultStatusGraded, stored.Status)
	assert.Equal(t, 50.0, stored.TotalScore)

	store.records[stored.ID].IsPublished = false
	store.beforeUpdate = publish
	_, err = svc.Grade(context.Background(), adminActor, dto.GradeResultRequest{ResultTarget: tgt, AdminScore: fptr(2)})
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidTransition))

	store.records[stored.ID].IsPublished = false
	store.beforeUpdate = publish
	_, err = svc.Reject(context.Background(), adminActor, dto.RejectResultRequest{ResultTarget: tgt, Reason: "late"})
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidTransition))
	assert.Equal(t, models.ResultStatusGraded, store.records[stored.ID].Status)
}

func TestResultWorkflowRoundsComponentScores(t *testing.T) {
	svc := newWorkflow(newResultStoreStub())
	tgt := target("s1", "math", "1", "2024")

	rec, err := svc.Submit(context.Background(), teacherActor, dto.SubmitResultRequest{
		ResultTarget: tgt,
		TestScore:    fptr(20.004),
		ExamScore:    fptr(30.006),
	})
	require.NoError(t, err)
	assert.Equal(t, 20.0, rec.TestScore)
	assert.Equal(t, 30.01, rec.ExamScore)
	assert.InDelta(t, rec.TestScore+rec.ExamScore, rec.TotalScore, 1e-9)

	rec, err = svc.Grade(context.Background(), adminActor, dto.GradeResultRequest{ResultTarget: tgt, AdminScore: fptr(9.996)})
	require.NoError(t, err)
	require.NotNil(t, rec.AdminScore)
	assert.Equal(t, 10.0, *rec.AdminScore)
	assert.InDelta(t, rec.TestScore+rec.ExamScore+*rec.AdminScore, rec.TotalScore, 1e-9)
}

func TestResultWorkflowAuthorization(t *testing.T) {
	svc := newWorkflow(newResultStoreStub())
	tgt := target("s1", "math", "1", "2024")

	_, err := svc.Grade(context.Background(), teacherActor, dto.GradeResultRequest{ResultTarget: tgt, AdminScore: fptr(1)})
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))
	_, err = svc.Submit(context.Background(), studentActor, dto.SubmitResultRequest{ResultTarget: tgt})
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))
	_, err = svc.Submit(context.Background(), models.Actor{}, dto.SubmitResultRequest{ResultTarget: tgt})
	assert.True(t, appErrors.Is(err, appErrors.ErrUnauthorized))

	custom := newWorkflow(newResultStoreStub(), WithResultPolicy(ResultPolicyFunc(func(role models.UserRole, op Operation) bool {
		return true
	})))
	_, err = custom.Submit(context.Background(), studentActor, dto.SubmitResultRequest{ResultTarget: tgt})
	assert.NoError(t, err)
}

func TestResultWorkflowListScopesStudents(t *testing.T) {
	svc := newWorkflow(newResultStoreStub())
	for _, student := range []string{"s1", "s2"} {
		tgt := target(student, "math", "1", "2024")
		submitScores(t, svc, tgt, 10, 10)
		_, err := svc.Grade(context.Background(), adminActor, dto.GradeResultRequest{ResultTarget: tgt, AdminScore: fptr(10)})
		require.NoError(t, err)
		_, err = svc.Publish(context.Background(), adminActor, dto.PublishResultRequest{ResultTarget: tgt})
		require.NoError(t, err)
	}
	submitScores(t, svc, target("s1", "bio", "1", "2024"), 10, 10)

	records, _, err := svc.List(context.Background(), studentActor, models.ResultFilter{StudentID: "s2"})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "s1", records[0].StudentID)
	assert.Equal(t, "math", records[0].SubjectID)

	all, _, err := svc.List(context.Background(), adminActor, models.ResultFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestResultWorkflowListUsesCache(t *testing.T) {
	cache := &resultCacheStub{entries: make(map[string][]models.ResultRecord)}
	svc := newWorkflow(newResultStoreStub(), WithResultCache(cache))
	submitScores(t, svc, target("s1", "math", "1", "2024"), 10, 10)

	_, hit, err := svc.List(context.Background(), adminActor, models.ResultFilter{})
	require.NoError(t, err)
	assert.False(t, hit)

	records, hit, err := svc.List(context.Background(), adminActor, models.ResultFilter{})
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Len(t, records, 1)

	submitScores(t, svc, target("s2", "math", "1", "2024"), 10, 10)
	records, hit, err = svc.List(context.Background(), adminActor, models.ResultFilter{})
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Len(t, records, 2)
	assert.Equal(t, 2, cache.invalidated)
}

func TestResultWorkflowListDoesNotServeListingReadBeforeTransition(t *testing.T) {
	store := newResultStoreStub()
	cache := &resultCacheStub{entries: make(map[string][]models.ResultRecord)}
	svc := newWorkflow(store, WithResultCache(cache))
	submitScores(t, svc, target("s1", "math", "1", "2024"), 10, 10)

	// The transition lands after the listing was read but before it is cached.
	store.afterQuery = func() { cache.InvalidateResults(context.Background()) }
	records, hit, err := svc.List(context.Background(), adminActor, models.ResultFilter{})
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Len(t, records, 1)

	_, hit, err = svc.List(context.Background(), adminActor, models.ResultFilter{})
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestResultWorkflowGetHidesUnpublishedFromStudents(t *testing.T) {
	svc := newWorkflow(newResultStoreStub())
	rec := submitScores(t, svc, target("s1", "math", "1", "2024"), 10, 10)

	_, err := svc.Get(context.Background(), studentActor, rec.ID)
	assert.True(t, appErrors.Is(err, appErrors.ErrRecordNotFound))

	got, err := svc.Get(context.Background(), teacherActor, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
}

func TestResultWorkflowHistoryAndDelete(t *testing.T) {
	store := newResultStoreStub()
	audit := &resultAuditStub{}
	svc := newWorkflow(store, WithResultAudit(audit))
	tgt := target("s1", "math", "1", "2024")
	rec := submitScores(t, svc, tgt, 10, 10)
	_, err := svc.Grade(context.Background(), adminActor, dto.GradeResultRequest{ResultTarget: tgt, AdminScore: fptr(10)})
	require.NoError(t, err)

	history, err := svc.History(context.Background(), adminActor, rec.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, models.AuditActionResultGrade, history[1].Action)
	require.NotNil(t, history[1].UserID)
	assert.Equal(t, "a1", *history[1].UserID)

	assert.True(t, appErrors.Is(svc.Delete(context.Background(), teacherActor, rec.ID), appErrors.ErrForbidden))
	require.NoError(t, svc.Delete(context.Background(), adminActor, rec.ID))
	assert.Empty(t, store.records)
	assert.True(t, appErrors.Is(svc.Delete(context.Background(), adminActor, rec.ID), appErrors.ErrRecordNotFound))
	assert.Equal(t, models.AuditActionResultDelete, audit.logs[len(audit.logs)-1].Action)
}

func TestResultWorkflowBulkCollectsPerItemOutcomes(t *testing.T) {
	store := newResultStoreStub()
	metrics := &transitionMetricsStub{transitions: make(map[string]int)}
	svc := newWorkflow(store, WithResultMetrics(metrics))

	res, err := svc.BulkSubmit(context.Background(), teacherActor, dto.BulkSubmitRequest{Items: []dto.SubmitResultRequest{
		{ResultTarget: target("s1", "math", "1", "2024"), TestScore: fptr(10), ExamScore: fptr(20)},
		{ResultTarget: target("s2", "math", "7", "2024"), TestScore: fptr(10)},
		{ResultTarget: target("s3", "math", "third", "2024"), ExamScore: fptr(40)},
	}})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Successful)
	assert.Equal(t, 1, res.Failed)
	require.Len(t, res.Results, 3)
	assert.True(t, res.Results[0].Success)
	assert.False(t, res.Results[1].Success)
	assert.Equal(t, appErrors.ErrValidation.Code, res.Results[1].Error.Code)
	assert.Equal(t, 2, res.Results[2].Index)
	assert.Len(t, store.records, 2)

	graded, err := svc.BulkGrade(context.Background(), adminActor, dto.BulkGradeRequest{Items: []dto.GradeResultRequest{
		{ResultTarget: target("s1", "math", "1", "2024"), AdminScore: fptr(10)},
		{ResultTarget: target("s9", "math", "1", "2024"), AdminScore: fptr(10)},
	}})
	require.NoError(t, err)
	assert.Equal(t, 1, graded.Successful)
	assert.Equal(t, appErrors.ErrRecordNotFound.Code, graded.Results[1].Error.Code)

	published, err := svc.BulkPublish(context.Background(), adminActor, dto.BulkPublishRequest{Items: []dto.PublishResultRequest{
		{ResultTarget: target("s1", "math", "1", "2024")},
		{ResultTarget: target("s3", "math", "3", "2024")},
	}})
	require.NoError(t, err)
	assert.Equal(t, 1, published.Successful)
	assert.Equal(t, appErrors.ErrInvalidTransition.Code, published.Results[1].Error.Code)

	assert.Equal(t, 2, metrics.transitions["submit:success"])
	assert.Equal(t, 1, metrics.transitions["submit:VALIDATION_ERROR"])
	assert.Equal(t, []string{"submit:2/1", "grade:1/1", "publish:1/1"}, metrics.bulk)
}

func TestResultWorkflowBulkRejectsEmptyAndForbidden(t *testing.T) {
	svc := newWorkflow(newResultStoreStub())

	_, err := svc.BulkSubmit(context.Background(), teacherActor, dto.BulkSubmitRequest{})
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))

	_, err = svc.BulkPublish(context.Background(), teacherActor, dto.BulkPublishRequest{Items: []dto.PublishResultRequest{{}}})
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))
}
