package repository

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-results-api/internal/models"
)

func TestAuditRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newResultRepoMock(t)
	defer cleanup()
	repo := NewAuditRepository(db)

	mock.ExpectExec("INSERT INTO audit_logs").WillReturnResult(sqlmock.NewResult(1, 1))

	resourceID := "r1"
	entry := &models.AuditLog{Action: models.AuditActionResultGrade, Resource: models.AuditResourceResult, ResourceID: &resourceID}
	require.NoError(t, repo.CreateAuditLog(context.Background(), entry))
	assert.NotEmpty(t, entry.ID)
	assert.False(t, entry.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditRepositoryListByResource(t *testing.T) {
	db, mock, cleanup := newResultRepoMock(t)
	defer cleanup()
	repo := NewAuditRepository(db)

	rows := sqlmock.NewRows([]string{"id", "user_id", "action", "resource", "resource_id", "old_values", "new_values", "ip_address", "user_agent", "created_at"}).
		AddRow("a1", "u1", models.AuditActionResultPublish, models.AuditResourceResult, "r1", nil, []byte(`{"is_published":true}`), "10.0.0.1", "curl", time.Now())
	mock.ExpectQuery(`FROM audit_logs WHERE resource = \$1 AND resource_id = \$2 ORDER BY created_at DESC`).
		WithArgs(models.AuditResourceResult, "r1").
		WillReturnRows(rows)

	logs, err := repo.ListByResource(context.Background(), models.AuditResourceResult, "r1")
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, models.AuditActionResultPublish, logs[0].Action)
	require.NotNil(t, logs[0].UserID)
	assert.Equal(t, "u1", *logs[0].UserID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
