package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-results-api/internal/dto"
)

func TestGradingHandlerCompute(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewGradingHandler()

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/grading/compute?total=68&max=80", nil)

	handler.Compute(c)

	require.Equal(t, http.StatusOK, rec.Code)
	var envelope struct {
		Data dto.GradeProjection `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Equal(t, "A", envelope.Data.Grade)
	assert.Equal(t, 3.7, envelope.Data.GPA)
	assert.Equal(t, 85.0, envelope.Data.Percentage)
}

func TestGradingHandlerDefaultsMaxAndGuards(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewGradingHandler()

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/grading/compute?total=93", nil)
	handler.Compute(c)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"grade":"A+"`)

	rec = httptest.NewRecorder()
	c, _ = gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/grading/compute?total=abc", nil)
	handler.Compute(c)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	c, _ = gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/grading/compute?total=10&max=0", nil)
	handler.Compute(c)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"grade":"F"`)
}
