package authz

import (
	"github.com/scriptgrade/evaluation-service/internal/models"
)

// Resource names the kinds of objects access is checked against.
type Resource string

const (
	ResourceExam      Resource = "exam"
	ResourceAnswerKey Resource = "answer_key"
	ResourceSheet     Resource = "sheet"
	ResourceJob       Resource = "job"
	ResourceResult    Resource = "result"
	ResourceFlag      Resource = "flag"
)

// Operation names what the actor wants to do.
type Operation string

const (
	OpCreate  Operation = "create"
	OpRead    Operation = "read"
	OpUpdate  Operation = "update"
	OpDelete  Operation = "delete"
	OpList    Operation = "list"
	OpStart   Operation = "start"
	OpResolve Operation = "resolve"
	OpExport  Operation = "export"
)

// Request is one access check: who wants to do what to which object.
// OwnerStudentID carries the student a result or sheet belongs to, empty
// when ownership does not apply.
type Request struct {
	Actor          *models.Actor
	Resource       Resource
	Operation      Operation
	OwnerStudentID string
}

// CanAccess is the single authorization predicate. It is pure: no I/O, no
// side effects, so callers can check before touching storage.
//
// Staff (instructor, admin) and the internal service identity get full
// access. Students may only read their own results and flags.
func CanAccess(req Request) bool {
	actor := req.Actor
	if actor == nil {
		return false
	}

	if actor.IsService() || actor.IsStaff() {
		return true
	}

	if actor.Role != models.RoleStudent {
		return false
	}

	// Students get read-only access to what belongs to them.
	if req.Operation != OpRead {
		return false
	}

	switch req.Resource {
	case ResourceResult, ResourceFlag, ResourceSheet:
		return ownsRecord(actor, req.OwnerStudentID)
	case ResourceExam:
		// Exam metadata is visible to any authenticated student.
		return true
	default:
		return false
	}
}

func ownsRecord(actor *models.Actor, ownerStudentID string) bool {
	if ownerStudentID == "" {
		return false
	}
	if actor.StudentID != nil && *actor.StudentID == ownerStudentID {
		return true
	}
	return actor.ID == ownerStudentID
}
