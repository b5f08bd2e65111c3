package handler

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-results-api/internal/dto"
	"github.com/noah-isme/sma-results-api/internal/middleware"
	"github.com/noah-isme/sma-results-api/internal/models"
	"github.com/noah-isme/sma-results-api/internal/service"
	appErrors "github.com/noah-isme/sma-results-api/pkg/errors"
	"github.com/noah-isme/sma-results-api/pkg/response"
)

type resultWorkflow interface {
	Submit(ctx context.Context, actor models.Actor, req dto.SubmitResultRequest) (*models.ResultRecord, error)
	Grade(ctx context.Context, actor models.Actor, req dto.GradeResultRequest) (*models.ResultRecord, error)
	Reject(ctx context.Context, actor models.Actor, req dto.RejectResultRequest) (*models.ResultRecord, error)
	Publish(ctx context.Context, actor models.Actor, req dto.PublishResultRequest) (*models.ResultRecord, error)
	Unpublish(ctx context.Context, actor models.Actor, req dto.PublishResultRequest) (*models.ResultRecord, error)
	List(ctx context.Context, actor models.Actor, filter models.ResultFilter) ([]models.ResultRecord, bool, error)
	Get(ctx context.Context, actor models.Actor, id string) (*models.ResultRecord, error)
	History(ctx context.Context, actor models.Actor, id string) ([]models.AuditLog, error)
	Delete(ctx context.Context, actor models.Actor, id string) error
	BulkSubmit(ctx context.Context, actor models.Actor, req dto.BulkSubmitRequest) (*dto.BulkResult, error)
	BulkGrade(ctx context.Context, actor models.Actor, req dto.BulkGradeRequest) (*dto.BulkResult, error)
	BulkPublish(ctx context.Context, actor models.Actor, req dto.BulkPublishRequest) (*dto.BulkResult, error)
}

type resultExportService interface {
	Generate(ctx context.Context, actor models.Actor, filter models.ResultFilter, format service.ExportFormat) (*service.ExportResult, error)
}

// ResultHandler exposes the exam result workflow over REST.
type ResultHandler struct {
	workflow resultWorkflow
	exporter resultExportService
}

// NewResultHandler constructs the handler. exporter may be nil.
func NewResultHandler(workflow resultWorkflow, exporter resultExportService) *ResultHandler {
	return &ResultHandler{workflow: workflow, exporter: exporter}
}

// Register mounts result routes on the group.
func (h *ResultHandler) Register(group *gin.RouterGroup) {
	results := group.Group("/results")
	results.GET("", h.List)
	results.GET("/export", h.Export)
	results.GET("/:id", h.Get)
	results.GET("/:id/history", h.History)
	results.DELETE("/:id", h.Delete)
	results.POST("/submit", h.Submit)
	results.POST("/grade", h.Grade)
	results.POST("/reject", h.Reject)
	results.POST("/publish", h.Publish)
	results.POST("/unpublish", h.Unpublish)
	results.POST("/bulk/submit", h.BulkSubmit)
	results.POST("/bulk/grade", h.BulkGrade)
	results.POST("/bulk/publish", h.BulkPublish)
}

// Submit godoc
// @Summary Submit exam scores
// @Tags Results
// @Accept json
// @Produce json
// @Param payload body dto.SubmitResultRequest true "Submission"
// @Success 200 {object} response.Envelope
// @Router /results/submit [post]
func (h *ResultHandler) Submit(c *gin.Context) {
	var req dto.SubmitResultRequest
	actor, ok := h.bind(c, &req)
	if !ok {
		return
	}
	record, err := h.workflow.Submit(c.Request.Context(), actor, req)
	h.respondRecord(c, record, err)
}

// Grade godoc
// @Summary Grade a submitted result
// @Tags Results
// @Accept json
// @Produce json
// @Param payload body dto.GradeResultRequest true "Grading decision"
// @Success 200 {object} response.Envelope
// @Router /results/grade [post]
func (h *ResultHandler) Grade(c *gin.Context) {
	var req dto.GradeResultRequest
	actor, ok := h.bind(c, &req)
	if !ok {
		return
	}
	record, err := h.workflow.Grade(c.Request.Context(), actor, req)
	h.respondRecord(c, record, err)
}

// Reject godoc
// @Summary Reject a result back to the teacher
// @Tags Results
// @Accept json
// @Produce json
// @Param payload body dto.RejectResultRequest true "Rejection"
// @Success 200 {object} response.Envelope
// @Router /results/reject [post]
func (h *ResultHandler) Reject(c *gin.Context) {
	var req dto.RejectResultRequest
	actor, ok := h.bind(c, &req)
	if !ok {
		return
	}
	record, err := h.workflow.Reject(c.Request.Context(), actor, req)
	h.respondRecord(c, record, err)
}

// Publish godoc
// @Summary Publish a graded result
// @Tags Results
// @Accept json
// @Produce json
// @Param payload body dto.PublishResultRequest true "Result key"
// @Success 200 {object} response.Envelope
// @Router /results/publish [post]
func (h *ResultHandler) Publish(c *gin.Context) {
	var req dto.PublishResultRequest
	actor, ok := h.bind(c, &req)
	if !ok {
		return
	}
	record, err := h.workflow.Publish(c.Request.Context(), actor, req)
	h.respondRecord(c, record, err)
}

// Unpublish godoc
// @Summary Withdraw a published result
// @Tags Results
// @Accept json
// @Produce json
// @Param payload body dto.PublishResultRequest true "Result key"
// @Success 200 {object} response.Envelope
// @Router /results/unpublish [post]
func (h *ResultHandler) Unpublish(c *gin.Context) {
	var req dto.PublishResultRequest
	actor, ok := h.bind(c, &req)
	if !ok {
		return
	}
	record, err := h.workflow.Unpublish(c.Request.Context(), actor, req)
	h.respondRecord(c, record, err)
}

// List godoc
// @Summary List exam results
// @Tags Results
// @Produce json
// @Param status query string false "submitted, graded or rejected"
// @Param term query string false "Term (1-3 or ordinal)"
// @Param year query string false "Academic year"
// @Param subjectId query string false "Subject ID"
// @Param studentId query string false "Student ID"
// @Param published query bool false "Publication flag"
// @Success 200 {object} response.Envelope
// @Router /results [get]
func (h *ResultHandler) List(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var query dto.ResultQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid query parameters"))
		return
	}
	filter, err := resultFilterFromQuery(query)
	if err != nil {
		response.Error(c, err)
		return
	}
	records, cacheHit, err := h.workflow.List(c.Request.Context(), actor, filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, cacheHit)
	meta := middleware.ExtractMeta(c)
	meta["total"] = len(records)
	response.JSON(c, http.StatusOK, records, nil, meta)
}

// Export godoc
// @Summary Export exam results
// @Tags Results
// @Produce text/csv
// @Produce application/pdf
// @Param format query string false "csv or pdf"
// @Success 200 {file} file
// @Router /results/export [get]
func (h *ResultHandler) Export(c *gin.Context) {
	if h.exporter == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "export service not configured"))
		return
	}
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var query dto.ResultQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid query parameters"))
		return
	}
	filter, err := resultFilterFromQuery(query)
	if err != nil {
		response.Error(c, err)
		return
	}
	result, err := h.exporter.Generate(c.Request.Context(), actor, filter, service.ExportFormat(c.DefaultQuery("format", "csv")))
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	c.Data(http.StatusOK, result.ContentType, result.Payload)
}

// Get godoc
// @Summary Get an exam result
// @Tags Results
// @Produce json
// @Param id path string true "Result ID"
// @Success 200 {object} response.Envelope
// @Router /results/{id} [get]
func (h *ResultHandler) Get(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	record, err := h.workflow.Get(c.Request.Context(), actor, c.Param("id"))
	h.respondRecord(c, record, err)
}

// History godoc
// @Summary Audit trail of an exam result
// @Tags Results
// @Produce json
// @Param id path string true "Result ID"
// @Success 200 {object} response.Envelope
// @Router /results/{id}/history [get]
func (h *ResultHandler) History(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	logs, err := h.workflow.History(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, logs, nil)
}

// Delete godoc
// @Summary Delete an exam result
// @Tags Results
// @Param id path string true "Result ID"
// @Success 204
// @Router /results/{id} [delete]
func (h *ResultHandler) Delete(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	if err := h.workflow.Delete(c.Request.Context(), actor, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// BulkSubmit godoc
// @Summary Submit many results
// @Tags Results
// @Accept json
// @Produce json
// @Param payload body dto.BulkSubmitRequest true "Submissions"
// @Success 200 {object} response.Envelope
// @Router /results/bulk/submit [post]
func (h *ResultHandler) BulkSubmit(c *gin.Context) {
	var req dto.BulkSubmitRequest
	actor, ok := h.bind(c, &req)
	if !ok {
		return
	}
	result, err := h.workflow.BulkSubmit(c.Request.Context(), actor, req)
	h.respondBulk(c, result, err)
}

// BulkGrade godoc
// @Summary Grade many results
// @Tags Results
// @Accept json
// @Produce json
// @Param payload body dto.BulkGradeRequest true "Grading decisions"
// @Success 200 {object} response.Envelope
// @Router /results/bulk/grade [post]
func (h *ResultHandler) BulkGrade(c *gin.Context) {
	var req dto.BulkGradeRequest
	actor, ok := h.bind(c, &req)
	if !ok {
		return
	}
	result, err := h.workflow.BulkGrade(c.Request.Context(), actor, req)
	h.respondBulk(c, result, err)
}

// BulkPublish godoc
// @Summary Publish many results
// @Tags Results
// @Accept json
// @Produce json
// @Param payload body dto.BulkPublishRequest true "Result keys"
// @Success 200 {object} response.Envelope
// @Router /results/bulk/publish [post]
func (h *ResultHandler) BulkPublish(c *gin.Context) {
	var req dto.BulkPublishRequest
	actor, ok := h.bind(c, &req)
	if !ok {
		return
	}
	result, err := h.workflow.BulkPublish(c.Request.Context(), actor, req)
	h.respondBulk(c, result, err)
}

func (h *ResultHandler) bind(c *gin.Context, req interface{}) (models.Actor, bool) {
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return models.Actor{}, false
	}
	if err := c.ShouldBindJSON(req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid result payload"))
		return models.Actor{}, false
	}
	return actor, true
}

func (h *ResultHandler) respondRecord(c *gin.Context, record *models.ResultRecord, err error) {
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, record, nil)
}

func (h *ResultHandler) respondBulk(c *gin.Context, result *dto.BulkResult, err error) {
	if err != nil {
		response.Error(c, err)
		return
	}
	status := http.StatusOK
	if result.Failed > 0 && result.Successful > 0 {
		status = http.StatusMultiStatus
	}
	response.JSON(c, status, result, nil, map[string]interface{}{
		"successful": result.Successful,
		"failed":     result.Failed,
	})
}
