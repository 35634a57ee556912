// File: internal/registry/session.go
package registry

import (
	"time"

	"github.com/xkilldash9x/pollflow-cli/api/schemas"
)

// Session is one tracked browser tab/window. All fields are owned by the
// Registry and mutated only under its lock; callers outside the package
// treat a *Session as read-mostly and go through Registry methods for
// mutation.
type Session struct {
	ID     string
	Role   schemas.SessionRole
	Status schemas.SessionStatus

	CreatedAt    time.Time
	LastActiveAt time.Time

	IsPollPage bool
	IsBlocking bool
	SyncGroup  string

	// Parent is a weak reference: closing the parent nulls it on every
	// child, it never implies ownership.
	Parent   *Session
	Children []string

	Metadata Metadata

	// Driver is the per-tab automation handle.
	Driver schemas.Driver

	// Confidence of the role classification that produced Role.
	Confidence float64

	// seq is the registration order, used for deterministic tie-breaks.
	seq uint64
}

// Metadata accumulates navigation history, recorded errors, and an
// interaction count for a session.
type Metadata struct {
	History      []string
	Errors       []string
	Interactions int
}

// live reports whether the session still counts against limits.
func (s *Session) live() bool {
	return s.Status != schemas.StatusClosed
}

// bucket maps a status into the accounting invariant's three buckets:
// active + completed + closed == total.
func bucket(status schemas.SessionStatus) schemas.SessionStatus {
	switch status {
	case schemas.StatusClosed:
		return schemas.StatusClosed
	case schemas.StatusCompleted:
		return schemas.StatusCompleted
	default:
		return schemas.StatusActive
	}
}

// SessionGroup is a named set of session ids requiring synchronized
// readiness before a joint action. Membership is append-only until the group
// is consumed; a group with zero members is inert.
type SessionGroup struct {
	Name     string
	Members  []string
	consumed bool
}

func (g *SessionGroup) add(id string) {
	if g.consumed {
		return
	}
	for _, m := range g.Members {
		if m == id {
			return
		}
	}
	g.Members = append(g.Members, id)
}
