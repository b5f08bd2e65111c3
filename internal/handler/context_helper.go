package handler

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-results-api/internal/dto"
	"github.com/noah-isme/sma-results-api/internal/grading"
	"github.com/noah-isme/sma-results-api/internal/middleware"
	"github.com/noah-isme/sma-results-api/internal/models"
	appErrors "github.com/noah-isme/sma-results-api/pkg/errors"
)

func claimsFromContext(c *gin.Context) *models.JWTClaims {
	value, exists := c.Get(middleware.ContextUserKey)
	if !exists {
		return nil
	}
	claims, ok := value.(*models.JWTClaims)
	if !ok {
		return nil
	}
	return claims
}

func actorFromContext(c *gin.Context) (models.Actor, bool) {
	claims := claimsFromContext(c)
	if claims == nil {
		return models.Actor{}, false
	}
	return claims.Actor(), true
}

// resultFilterFromQuery turns list query parameters into a store filter using
// the same term and year normalization as workflow calls.
func resultFilterFromQuery(query dto.ResultQuery) (models.ResultFilter, error) {
	filter := models.ResultFilter{
		SubjectID: strings.TrimSpace(query.SubjectID),
		StudentID: strings.TrimSpace(query.StudentID),
	}
	if raw := strings.TrimSpace(query.Status); raw != "" {
		status := models.ResultStatus(strings.ToLower(raw))
		if !status.Valid() {
			return filter, appErrors.Clone(appErrors.ErrValidation, "status must be submitted, graded or rejected")
		}
		filter.Status = status
	}
	if raw := strings.TrimSpace(query.Term); raw != "" {
		term, ok := grading.NormalizeTerm(raw)
		if !ok {
			return filter, appErrors.Clone(appErrors.ErrValidation, "term must resolve to 1, 2 or 3")
		}
		filter.Term = term
	}
	if raw := strings.TrimSpace(query.Year); raw != "" {
		filter.Year = grading.NormalizeYear(raw)
	}
	if raw := strings.TrimSpace(query.Published); raw != "" {
		published, err := strconv.ParseBool(raw)
		if err != nil {
			return filter, appErrors.Clone(appErrors.ErrValidation, "published must be a boolean")
		}
		filter.Published = &published
	}
	return filter, nil
}
