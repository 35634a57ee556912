package detector_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/pollflow-cli/api/schemas"
	"github.com/xkilldash9x/pollflow-cli/internal/detector"
)

func newDetector(t *testing.T, extra ...string) *detector.Detector {
	t.Helper()
	return detector.New(zaptest.NewLogger(t), extra)
}

func TestDetectStructuralContainer(t *testing.T) {
	page := `<html><body>
		<div class="question">
			<span class="question-text">Would you recommend us to a friend?</span>
			<input type="radio" name="rec" value="yes">
			<input type="radio" name="rec" value="no">
		</div>
	</body></html>`

	questions, err := newDetector(t).Detect(page)
	require.NoError(t, err)
	require.Len(t, questions, 1)

	q := questions[0]
	assert.Equal(t, "Would you recommend us to a friend?", q.Text)
	assert.NotEmpty(t, q.ID)
	assert.Equal(t, schemas.QuestionUnknown, q.Type)
	// Question mark, multiple inputs, "question" class, and good text length
	// together cap confidence at 1.0.
	assert.InDelta(t, 1.0, q.Confidence, 1e-9)

	require.Len(t, q.Inputs, 2)
	assert.Equal(t, "radio", q.Inputs[0].Kind)
	assert.Equal(t, `input[name="rec"][value="yes"]`, q.Inputs[0].Selector)
	assert.Equal(t, `input[name="rec"][value="no"]`, q.Inputs[1].Selector)
}

func TestDetectFieldsetStripsBoilerplate(t *testing.T) {
	page := `<html><body>
		<fieldset>
			<legend>How satisfied are you? (required)</legend>
			<input type="radio" name="q1" value="good">
			<input type="radio" name="q1" value="bad">
		</fieldset>
	</body></html>`

	questions, err := newDetector(t).Detect(page)
	require.NoError(t, err)
	require.Len(t, questions, 1)

	assert.Equal(t, "How satisfied are you?", questions[0].Text)
	// 0.5 base + 0.2 question mark + 0.1 multiple inputs + 0.1 text length.
	assert.InDelta(t, 0.9, questions[0].Confidence, 1e-9)
}

func TestDetectOrdersByDescendingConfidence(t *testing.T) {
	// The weak container precedes the strong one in document order; sorting
	// must put the strong one first.
	page := `<html><body>
		<div class="question">
			<label for="age">Age</label>
			<input type="text" id="age" name="age">
		</div>
		<div class="question">
			<span class="question-text">Would you recommend us to a friend?</span>
			<input type="radio" name="rec" value="yes">
			<input type="radio" name="rec" value="no">
		</div>
	</body></html>`

	questions, err := newDetector(t).Detect(page)
	require.NoError(t, err)
	require.Len(t, questions, 2)

	assert.Equal(t, "Would you recommend us to a friend?", questions[0].Text)
	assert.Greater(t, questions[0].Confidence, questions[1].Confidence)
	assert.Equal(t, "#age", questions[1].Inputs[0].Selector)
}

func TestDetectGroupedByNameFallback(t *testing.T) {
	// No classed containers and no fieldsets, so the structural pass yields
	// nothing and grouping by input name takes over.
	page := `<html><body><form>
		<p>Pick your favorite fruit</p>
		<input type="radio" name="fruit" value="apple"> Apple
		<input type="radio" name="fruit" value="banana"> Banana
		<input type="checkbox" name="toppings" value="nuts"> Nuts
		<input type="checkbox" name="toppings" value="cream"> Cream
	</form></body></html>`

	questions, err := newDetector(t).Detect(page)
	require.NoError(t, err)
	require.Len(t, questions, 2)

	for _, q := range questions {
		assert.InDelta(t, 0.75, q.Confidence, 1e-9)
		assert.Len(t, q.Inputs, 2)
	}
	assert.Equal(t, "fruit", questions[0].Inputs[0].Name)
	assert.Equal(t, "toppings", questions[1].Inputs[0].Name)
}

func TestDetectInputSalvage(t *testing.T) {
	// A bare text input and a nameless radio defeat both the structural and
	// grouped passes but must still be salvaged.
	page := `<html><body>
		<input type="text" name="feedback" placeholder="Tell us more">
		<input type="radio" value="1">
	</body></html>`

	questions, err := newDetector(t).Detect(page)
	require.NoError(t, err)
	require.Len(t, questions, 2)

	assert.Equal(t, "Tell us more", questions[0].Text)
	for _, q := range questions {
		assert.InDelta(t, 0.7, q.Confidence, 1e-9)
		assert.Len(t, q.Inputs, 1)
	}
}

func TestDetectIgnoresSystemInputs(t *testing.T) {
	page := `<html><body><form>
		<input type="hidden" name="csrf_token" value="abc">
		<input type="password" name="password">
		<input type="text" name="_method">
		<input type="text" name="comment" style="display: none">
		<input type="submit" value="Go">
	</form></body></html>`

	questions, err := newDetector(t).Detect(page)
	require.NoError(t, err)
	assert.Empty(t, questions)
}

func TestDetectHonorsExtraContainerXPaths(t *testing.T) {
	page := `<html><body>
		<section data-poll-question="true">
			<span>Anything else to add</span>
			<textarea name="extra"></textarea>
		</section>
	</body></html>`

	// Without the extra XPath the textarea is only salvaged.
	questions, err := newDetector(t).Detect(page)
	require.NoError(t, err)
	require.Len(t, questions, 1)
	assert.InDelta(t, 0.7, questions[0].Confidence, 1e-9)

	questions, err = newDetector(t, "//*[@data-poll-question]").Detect(page)
	require.NoError(t, err)
	require.Len(t, questions, 1)
	assert.InDelta(t, 0.6, questions[0].Confidence, 1e-9)
	assert.Equal(t, "Anything else to add", questions[0].Text)
}

func TestInferType(t *testing.T) {
	radio := func(value string) schemas.InputDescriptor {
		return schemas.InputDescriptor{Kind: "radio", Value: value}
	}
	checkbox := func(value string) schemas.InputDescriptor {
		return schemas.InputDescriptor{Kind: "checkbox", Value: value}
	}

	tests := []struct {
		name   string
		inputs []schemas.InputDescriptor
		want   schemas.QuestionType
	}{
		{
			name:   "numeric radio scale is a rating",
			inputs: []schemas.InputDescriptor{radio("1"), radio("2"), radio("3"), radio("4"), radio("5")},
			want:   schemas.QuestionRating,
		},
		{
			name:   "two numeric radios are too few for a rating",
			inputs: []schemas.InputDescriptor{radio("1"), radio("2")},
			want:   schemas.QuestionSingleChoice,
		},
		{
			name: "twelve numeric radios are too many for a rating",
			inputs: []schemas.InputDescriptor{
				radio("1"), radio("2"), radio("3"), radio("4"), radio("5"), radio("6"),
				radio("7"), radio("8"), radio("9"), radio("10"), radio("11"), radio("12"),
			},
			want: schemas.QuestionSingleChoice,
		},
		{
			name:   "non-numeric radios are a single choice",
			inputs: []schemas.InputDescriptor{radio("yes"), radio("no"), radio("maybe")},
			want:   schemas.QuestionSingleChoice,
		},
		{
			name:   "checkboxes are a multiple choice",
			inputs: []schemas.InputDescriptor{checkbox("a"), checkbox("b")},
			want:   schemas.QuestionMultipleChoice,
		},
		{
			name:   "select is a dropdown",
			inputs: []schemas.InputDescriptor{{Kind: "select", Options: []string{"--", "One"}}},
			want:   schemas.QuestionDropdown,
		},
		{
			name:   "textarea is free text",
			inputs: []schemas.InputDescriptor{{Kind: "textarea"}},
			want:   schemas.QuestionText,
		},
		{
			name:   "email input is free text",
			inputs: []schemas.InputDescriptor{{Kind: "email"}},
			want:   schemas.QuestionText,
		},
		{
			name:   "no inputs is unknown",
			inputs: nil,
			want:   schemas.QuestionUnknown,
		},
		{
			name:   "mixed kinds are unknown",
			inputs: []schemas.InputDescriptor{radio("1"), {Kind: "text"}},
			want:   schemas.QuestionUnknown,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			q := schemas.Question{Inputs: tc.inputs}
			assert.Equal(t, tc.want, detector.InferType(q))
		})
	}
}
