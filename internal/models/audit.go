package models

import (
	"context"
	"time"
)

// AuditAction constants represent result workflow actions to be logged.
const (
	AuditActionResultSubmit    = "RESULT_SUBMIT"
	AuditActionResultGrade     = "RESULT_GRADE"
	AuditActionResultReject    = "RESULT_REJECT"
	AuditActionResultPublish   = "RESULT_PUBLISH"
	AuditActionResultUnpublish = "RESULT_UNPUBLISH"
	AuditActionResultDelete    = "RESULT_DELETE"
)

// AuditResourceResult is the resource name used for result audit rows.
const AuditResourceResult = "exam_result"

// AuditLog represents an audit trail record.
type AuditLog struct {
	ID         string    `db:"id" json:"id"`
	UserID     *string   `db:"user_id" json:"user_id,omitempty"`
	Action     string    `db:"action" json:"action"`
	Resource   string    `db:"resource" json:"resource"`
	ResourceID *string   `db:"resource_id" json:"resource_id,omitempty"`
	OldValues  []byte    `db:"old_values" json:"old_values,omitempty"`
	NewValues  []byte    `db:"new_values" json:"new_values,omitempty"`
	IPAddress  string    `db:"ip_address" json:"ip_address"`
	UserAgent  string    `db:"user_agent" json:"user_agent"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// AuditSource describes where an audited request originated.
type AuditSource struct {
	IPAddress string
	UserAgent string
}

type auditSourceKey struct{}

// WithAuditSource attaches src to ctx.
func WithAuditSource(ctx context.Context, src AuditSource) context.Context {
	return context.WithValue(ctx, auditSourceKey{}, src)
}

// AuditSourceFrom returns the source attached to ctx, if any.
func AuditSourceFrom(ctx context.Context) AuditSource {
	src, _ := ctx.Value(auditSourceKey{}).(AuditSource)
	return src
}
