package service

import "github.com/noah-isme/sma-results-api/internal/models"

// Operation names a result workflow call for authorization and metrics.
type Operation string

const (
	OperationSubmit    Operation = "submit"
	OperationGrade     Operation = "grade"
	OperationReject    Operation = "reject"
	OperationPublish   Operation = "publish"
	OperationUnpublish Operation = "unpublish"
	OperationList      Operation = "list"
	OperationView      Operation = "view"
	OperationDelete    Operation = "delete"
	OperationExport    Operation = "export"
)

// ResultPolicy decides whether a caller role may perform an operation.
type ResultPolicy interface {
	CanPerform(role models.UserRole, op Operation) bool
}

// ResultPolicyFunc adapts a plain function to ResultPolicy.
type ResultPolicyFunc func(role models.UserRole, op Operation) bool

// CanPerform implements ResultPolicy.
func (f ResultPolicyFunc) CanPerform(role models.UserRole, op Operation) bool {
	return f(role, op)
}

// RolePolicy grants a fixed operation set per role.
type RolePolicy map[models.UserRole][]Operation

// CanPerform implements ResultPolicy.
func (p RolePolicy) CanPerform(role models.UserRole, op Operation) bool {
	for _, allowed := range p[role] {
		if allowed == op {
			return true
		}
	}
	return false
}

// DefaultResultPolicy lets teachers submit, admins run the full workflow and
// students read their own published results.
func DefaultResultPolicy() RolePolicy {
	admin := []Operation{
		OperationSubmit, OperationGrade, OperationReject, OperationPublish, OperationUnpublish,
		OperationList, OperationView, OperationDelete, OperationExport,
	}
	return RolePolicy{
		models.RoleSuperAdmin: admin,
		models.RoleAdmin:      admin,
		models.RoleTeacher:    {OperationSubmit, OperationList, OperationView, OperationExport},
		models.RoleStudent:    {OperationList, OperationView},
	}
}
