package responder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/pollflow-cli/api/schemas"
)

func ratingQuestion() schemas.Question {
	return schemas.Question{
		ID:   "q-1",
		Type: schemas.QuestionRating,
		Inputs: []schemas.InputDescriptor{
			{Kind: "radio", Value: "1"}, {Kind: "radio", Value: "2"},
			{Kind: "radio", Value: "3"}, {Kind: "radio", Value: "4"},
			{Kind: "radio", Value: "5"},
		},
	}
}

func TestParseAnswerExtractsJSONEnvelope(t *testing.T) {
	raw := "Sure, here is my answer:\n{\"answer\": \"4\", \"confidence\": 0.9, \"reasoning\": \"pretty good overall\"}"

	resp, err := parseAnswer(ratingQuestion(), raw)
	require.NoError(t, err)
	assert.Equal(t, []int{3}, resp.OptionIndexes)
	assert.Equal(t, "4", resp.Value)
	assert.InDelta(t, 0.9, resp.Confidence, 1e-9)
	assert.Equal(t, "pretty good overall", resp.Reasoning)
}

func TestParseAnswerTreatsPlainTextAsRawAnswer(t *testing.T) {
	q := schemas.Question{ID: "q-2", Type: schemas.QuestionText}

	resp, err := parseAnswer(q, "It was fine overall.")
	require.NoError(t, err)
	assert.Equal(t, "It was fine overall.", resp.Value)
	assert.InDelta(t, 0.7, resp.Confidence, 1e-9)
}

func TestParseAnswerRejectsUnmatchableOption(t *testing.T) {
	_, err := parseAnswer(ratingQuestion(), `{"answer": "eleven", "confidence": 0.5}`)
	require.Error(t, err)
}

func TestMatchOptionIsCaseInsensitiveAndBidirectional(t *testing.T) {
	q := schemas.Question{
		Type: schemas.QuestionSingleChoice,
		Inputs: []schemas.InputDescriptor{
			{Kind: "radio", Value: "Strongly Agree"},
			{Kind: "radio", Value: "Disagree"},
		},
	}

	assert.Equal(t, 0, matchOption(q, "strongly agree"))
	// The answer may quote more than the label.
	assert.Equal(t, 0, matchOption(q, "I would say Strongly Agree here"))
	// Or less, as long as the label contains it.
	assert.Equal(t, 1, matchOption(q, "disagree"))
	assert.Equal(t, -1, matchOption(q, ""))
	assert.Equal(t, -1, matchOption(q, "no such option"))
}
