// api/schemas/events.go
package schemas

import "time"

// EventType identifies a lifecycle event published by the core.
type EventType string

const (
	EventInitialized     EventType = "initialized"
	EventStateChanged    EventType = "state_changed"
	EventSelectorSuccess EventType = "selector_success"
	EventPageAnalysis    EventType = "page_analysis"
	EventCompleted       EventType = "completed"
	EventError           EventType = "error"
)

// Event is a lifecycle notification. Publishing is fire-and-forget; a slow
// subscriber must never block the run.
type Event struct {
	Type      EventType      `json:"type"`
	RunID     string         `json:"run_id,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// RunSummary is the payload of the completed event and the value returned to
// the caller of a finished run.
type RunSummary struct {
	RunID              string        `json:"run_id"`
	Duration           time.Duration `json:"duration"`
	PagesProcessed     int           `json:"pages_processed"`
	QuestionsProcessed int           `json:"questions_processed"`
	ResponsesGenerated int           `json:"responses_generated"`
	ErrorsEncountered  int           `json:"errors_encountered"`
	SuccessRate        float64       `json:"success_rate"`
	QuestionsPerMinute float64       `json:"questions_per_minute"`
	AvgQuestionTime    time.Duration `json:"avg_question_time"`
	AvgResponseTime    time.Duration `json:"avg_response_time"`
}
