package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-results-api/internal/dto"
	"github.com/noah-isme/sma-results-api/internal/grading"
	appErrors "github.com/noah-isme/sma-results-api/pkg/errors"
	"github.com/noah-isme/sma-results-api/pkg/response"
)

// GradingHandler projects totals onto letter grades.
type GradingHandler struct{}

// NewGradingHandler constructs the handler.
func NewGradingHandler() *GradingHandler {
	return &GradingHandler{}
}

// Compute godoc
// @Summary Project a total onto a letter grade
// @Tags Grading
// @Produce json
// @Param total query number true "Achieved total"
// @Param max query number false "Maximum achievable total (default 100)"
// @Success 200 {object} response.Envelope
// @Router /grading/compute [get]
func (h *GradingHandler) Compute(c *gin.Context) {
	total, err := strconv.ParseFloat(strings.TrimSpace(c.Query("total")), 64)
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "total must be a number"))
		return
	}
	maxScore := grading.FinalMax
	if raw := strings.TrimSpace(c.Query("max")); raw != "" {
		maxScore, err = strconv.ParseFloat(raw, 64)
		if err != nil {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "max must be a number"))
			return
		}
	}
	result := grading.ComputeGrade(total, maxScore)
	response.JSON(c, http.StatusOK, dto.GradeProjection{
		Total:      total,
		Max:        maxScore,
		Grade:      result.Grade,
		GPA:        result.GPA,
		Percentage: result.Percentage,
	}, nil)
}
