// api/schemas/question.go
package schemas

// QuestionType is the detected shape of an answerable question.
type QuestionType string

const (
	QuestionSingleChoice   QuestionType = "single_choice"
	QuestionMultipleChoice QuestionType = "multiple_choice"
	QuestionText           QuestionType = "text"
	QuestionDropdown       QuestionType = "dropdown"
	QuestionRating         QuestionType = "rating"
	QuestionUnknown        QuestionType = "unknown"
)

// InputDescriptor describes one form input associated with a question.
type InputDescriptor struct {
	Selector string `json:"selector"`
	Kind     string `json:"kind"` // radio, checkbox, text, email, select, textarea, number...
	Name     string `json:"name"`
	ID       string `json:"id,omitempty"`
	Value    string `json:"value,omitempty"`
	// Options holds the visible option labels for select elements.
	Options []string `json:"options,omitempty"`
}

// Question is a detected answerable unit on a page.
type Question struct {
	ID         string            `json:"id"`
	Text       string            `json:"text"`
	Inputs     []InputDescriptor `json:"inputs"`
	Type       QuestionType      `json:"type"`
	Confidence float64           `json:"confidence"`
}

// OptionCount reports how many selectable options the question exposes.
// For grouped radio/checkbox questions this is the input count; for dropdowns
// the caller supplies the option count out of band.
func (q *Question) OptionCount() int {
	return len(q.Inputs)
}

// Response is a typed answer consumable by the submission step. Exactly one
// of OptionIndexes/Value is meaningful depending on Type; Skip marks a
// question the generator declined to answer.
type Response struct {
	QuestionID    string       `json:"question_id"`
	Type          QuestionType `json:"type"`
	OptionIndexes []int        `json:"option_indexes,omitempty"`
	Value         string       `json:"value,omitempty"`
	Skip          bool         `json:"skip,omitempty"`
	Confidence    float64      `json:"confidence"`
	Reasoning     string       `json:"reasoning,omitempty"`
}
