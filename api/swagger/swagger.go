package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "SMA Results API",
        "description": "Exam result submission, grading and publication workflow",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http"
    ],
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "security": [{"BearerAuth": []}],
    "tags": [
        {"name": "Results", "description": "Exam result workflow"},
        {"name": "Grading", "description": "Letter grade projection"}
    ],
    "paths": {
        "/grading/compute": {
            "get": {
                "tags": ["Grading"],
                "summary": "Project a total onto a letter grade",
                "parameters": [
                    {"name": "total", "in": "query", "type": "number", "required": true},
                    {"name": "max", "in": "query", "type": "number"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Invalid number", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/results": {
            "get": {
                "tags": ["Results"],
                "summary": "List exam results",
                "parameters": [
                    {"name": "status", "in": "query", "type": "string", "enum": ["submitted", "graded", "rejected"]},
                    {"name": "term", "in": "query", "type": "string"},
                    {"name": "year", "in": "query", "type": "string"},
                    {"name": "subjectId", "in": "query", "type": "string"},
                    {"name": "studentId", "in": "query", "type": "string"},
                    {"name": "published", "in": "query", "type": "boolean"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/results/export": {
            "get": {
                "tags": ["Results"],
                "summary": "Export exam results",
                "produces": ["text/csv", "application/pdf"],
                "parameters": [
                    {"name": "format", "in": "query", "type": "string", "enum": ["csv", "pdf"]},
                    {"name": "term", "in": "query", "type": "string"},
                    {"name": "year", "in": "query", "type": "string"},
                    {"name": "subjectId", "in": "query", "type": "string"}
                ],
                "responses": {
                    "200": {"description": "Rendered sheet"}
                }
            }
        },
        "/results/{id}": {
            "get": {
                "tags": ["Results"],
                "summary": "Get an exam result",
                "parameters": [{"name": "id", "in": "path", "type": "string", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "delete": {
                "tags": ["Results"],
                "summary": "Delete an exam result",
                "parameters": [{"name": "id", "in": "path", "type": "string", "required": true}],
                "responses": {
                    "204": {"description": "Deleted"},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/results/{id}/history": {
            "get": {
                "tags": ["Results"],
                "summary": "Audit trail of an exam result",
                "parameters": [{"name": "id", "in": "path", "type": "string", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/results/submit": {
            "post": {
                "tags": ["Results"],
                "summary": "Submit exam scores",
                "parameters": [{"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/SubmitResultRequest"}}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Validation error", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Result is published", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/results/grade": {
            "post": {
                "tags": ["Results"],
                "summary": "Grade a result",
                "parameters": [{"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/GradeResultRequest"}}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Validation error", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Result is published", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/results/reject": {
            "post": {
                "tags": ["Results"],
                "summary": "Reject a result",
                "parameters": [{"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/RejectResultRequest"}}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/results/publish": {
            "post": {
                "tags": ["Results"],
                "summary": "Publish a graded result",
                "parameters": [{"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ResultTarget"}}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Result is not graded", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/results/unpublish": {
            "post": {
                "tags": ["Results"],
                "summary": "Withdraw a published result",
                "parameters": [{"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ResultTarget"}}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/results/bulk/submit": {
            "post": {
                "tags": ["Results"],
                "summary": "Submit many results",
                "parameters": [{"name": "payload", "in": "body", "required": true, "schema": {"type": "object", "properties": {"items": {"type": "array", "items": {"$ref": "#/definitions/SubmitResultRequest"}}}}}],
                "responses": {
                    "200": {"description": "All items succeeded or failed", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "207": {"description": "Mixed outcome", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/results/bulk/grade": {
            "post": {
                "tags": ["Results"],
                "summary": "Grade many results",
                "parameters": [{"name": "payload", "in": "body", "required": true, "schema": {"type": "object", "properties": {"items": {"type": "array", "items": {"$ref": "#/definitions/GradeResultRequest"}}}}}],
                "responses": {
                    "200": {"description": "All items succeeded or failed", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "207": {"description": "Mixed outcome", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/results/bulk/publish": {
            "post": {
                "tags": ["Results"],
                "summary": "Publish many results",
                "parameters": [{"name": "payload", "in": "body", "required": true, "schema": {"type": "object", "properties": {"items": {"type": "array", "items": {"$ref": "#/definitions/ResultTarget"}}}}}],
                "responses": {
                    "200": {"description": "All items succeeded or failed", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "207": {"description": "Mixed outcome", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        }
    },
    "definitions": {
        "ResultTarget": {
            "type": "object",
            "required": ["student_id", "subject_id", "term"],
            "properties": {
                "student_id": {"type": "string"},
                "subject_id": {"type": "string"},
                "term": {"type": "string", "example": "2nd Term"},
                "year": {"type": "string", "example": "2024/2025"}
            }
        },
        "SubmitResultRequest": {
            "allOf": [
                {"$ref": "#/definitions/ResultTarget"},
                {"type": "object", "properties": {
                    "test_score": {"type": "number", "maximum": 30},
                    "exam_score": {"type": "number", "maximum": 50}
                }}
            ]
        },
        "GradeResultRequest": {
            "allOf": [
                {"$ref": "#/definitions/ResultTarget"},
                {"type": "object", "required": ["admin_score"], "properties": {
                    "admin_score": {"type": "number", "minimum": 0, "maximum": 20},
                    "test_score": {"type": "number"},
                    "exam_score": {"type": "number"}
                }}
            ]
        },
        "RejectResultRequest": {
            "allOf": [
                {"$ref": "#/definitions/ResultTarget"},
                {"type": "object", "required": ["reason"], "properties": {"reason": {"type": "string"}}}
            ]
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
                "meta": {"type": "object"}
            }
        }
    }
}`

type swaggerDoc struct{}

// ReadDoc returns the Swagger document.
func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}
