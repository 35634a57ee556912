// api/schemas/session.go
package schemas

// SessionRole classifies what a browser tab/window is for within a poll flow.
type SessionRole string

const (
	RoleMain         SessionRole = "main"
	RolePoll         SessionRole = "poll"
	RoleRedirect     SessionRole = "redirect"
	RoleVerification SessionRole = "verification"
	RoleCompletion   SessionRole = "completion"
	RoleError        SessionRole = "error"
	RoleAuxiliary    SessionRole = "auxiliary"
)

// SessionStatus tracks the lifecycle of a tracked session.
type SessionStatus string

const (
	StatusActive     SessionStatus = "active"
	StatusWaiting    SessionStatus = "waiting"
	StatusProcessing SessionStatus = "processing"
	StatusCompleted  SessionStatus = "completed"
	StatusError      SessionStatus = "error"
	StatusClosed     SessionStatus = "closed"
)

// FlowPhase is the coarse shape of the whole flow, derived from session counts.
type FlowPhase string

const (
	PhaseInitial       FlowPhase = "INITIAL"
	PhaseMultiSession  FlowPhase = "MULTI_SESSION"
	PhaseConsolidation FlowPhase = "CONSOLIDATION"
)

// FlowState is a derived aggregate recomputed after every registry mutation.
type FlowState struct {
	Total     int       `json:"total"`
	Active    int       `json:"active"`
	Completed int       `json:"completed"`
	Phase     FlowPhase `json:"phase"`
}

// Sync group names implied by session roles.
const (
	GroupPollFlow         = "poll_flow"
	GroupVerificationFlow = "verification_flow"
)
