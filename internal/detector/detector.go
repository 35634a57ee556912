// File: internal/detector/detector.go
// Description: Locates answerable questions on a page snapshot. Three
// strategies cascade: structural containers, radio/checkbox groups by name,
// and a final input-salvage pass that never returns empty when the page has
// any usable input. Detection is pure: it parses the HTML snapshot the driver
// hands over and does not touch the browser.
package detector

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/antchfx/htmlquery"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/pollflow-cli/api/schemas"
)

// Default XPath selectors for question containers, tried in order during the
// structural pass.
var defaultContainerXPaths = []string{
	"//*[contains(@class, 'question')]",
	"//fieldset",
	"//*[@role='group' or @role='radiogroup']",
	"//form//*[contains(@class, 'form-group') or contains(@class, 'field')]",
	"//*[contains(@class, 'survey-item') or contains(@class, 'poll-item')]",
}

// systemInputPattern matches inputs that are never answerable questions.
var systemInputPattern = regexp.MustCompile(`(?i)(csrf|token|_method|password|captcha|honeypot|nonce)`)

// boilerplatePhrases are stripped from container-derived question text.
var boilerplatePhrases = []string{
	"* required", "(required)", "required", "select all that apply",
	"please select", "choose one",
}

const (
	maxQuestionTextLen = 250

	baseConfidence      = 0.5
	groupedConfidence   = 0.75
	salvageGroupConf    = 0.8
	salvageSingularConf = 0.7
)

// Detector runs the detection cascade.
type Detector struct {
	logger          *zap.Logger
	containerXPaths []string
}

// New creates a detector. Extra container XPaths (from config) are appended
// after the defaults.
func New(logger *zap.Logger, extraContainerXPaths []string) *Detector {
	xpaths := make([]string, 0, len(defaultContainerXPaths)+len(extraContainerXPaths))
	xpaths = append(xpaths, defaultContainerXPaths...)
	xpaths = append(xpaths, extraContainerXPaths...)
	return &Detector{
		logger:          logger.Named("detector"),
		containerXPaths: xpaths,
	}
}

// Detect parses the snapshot and runs the cascade. The first strategy that
// yields at least one question wins; results are sorted by descending
// confidence. An empty result is not an error.
func (d *Detector) Detect(pageHTML string) ([]schemas.Question, error) {
	doc, err := htmlquery.Parse(strings.NewReader(pageHTML))
	if err != nil {
		return nil, fmt.Errorf("failed to parse page snapshot: %w", err)
	}

	questions := d.detectStructural(doc)
	strategy := "structural"
	if len(questions) == 0 {
		questions = d.detectGroupedByName(doc)
		strategy = "grouped_by_name"
	}
	if len(questions) == 0 {
		questions = d.detectInputSalvage(doc)
		strategy = "input_salvage"
	}

	sort.SliceStable(questions, func(a, b int) bool {
		return questions[a].Confidence > questions[b].Confidence
	})

	d.logger.Debug("Question detection finished",
		zap.String("strategy", strategy),
		zap.Int("questions", len(questions)))
	return questions, nil
}

// -- Strategy 1: structural containers --

func (d *Detector) detectStructural(doc *html.Node) []schemas.Question {
	var questions []schemas.Question
	seen := make(map[*html.Node]bool)

	for _, xpath := range d.containerXPaths {
		containers, err := htmlquery.QueryAll(doc, xpath)
		if err != nil {
			continue
		}
		for _, container := range containers {
			if seen[container] {
				continue
			}
			inputs := answerableInputs(container)
			if len(inputs) == 0 {
				continue
			}
			seen[container] = true

			text := questionText(container, inputs)
			q := schemas.Question{
				ID:         uuid.New().String(),
				Text:       text,
				Inputs:     describeInputs(inputs),
				Type:       schemas.QuestionUnknown,
				Confidence: structuralConfidence(container, text, len(inputs)),
			}
			questions = append(questions, q)
		}
	}
	return questions
}

// structuralConfidence starts at 0.5 and adds bonuses for question-like
// signals, capped at 1.0.
func structuralConfidence(container *html.Node, text string, inputCount int) float64 {
	conf := baseConfidence
	if strings.Contains(text, "?") {
		conf += 0.2
	}
	if inputCount > 1 {
		conf += 0.1
	}
	if strings.Contains(strings.ToLower(attr(container, "class")), "question") {
		conf += 0.2
	}
	if n := len(text); n >= 20 && n <= 200 {
		conf += 0.1
	}
	if conf > 1.0 {
		conf = 1.0
	}
	return conf
}

// -- Strategy 2: radio/checkbox groups by name --

func (d *Detector) detectGroupedByName(doc *html.Node) []schemas.Question {
	groups, order := groupCheckableByName(doc)

	var questions []schemas.Question
	for _, name := range order {
		members := groups[name]
		ancestor := commonAncestor(members)
		text := questionText(ancestor, members)
		questions = append(questions, schemas.Question{
			ID:         uuid.New().String(),
			Text:       text,
			Inputs:     describeInputs(members),
			Type:       schemas.QuestionUnknown,
			Confidence: groupedConfidence,
		})
	}
	return questions
}

// -- Strategy 3: input salvage --

// detectInputSalvage guarantees a non-empty result on any page with a usable
// input, at the cost of lower-quality question text.
func (d *Detector) detectInputSalvage(doc *html.Node) []schemas.Question {
	groups, order := groupCheckableByName(doc)
	grouped := make(map[*html.Node]bool)

	var questions []schemas.Question
	for _, name := range order {
		members := groups[name]
		for _, m := range members {
			grouped[m] = true
		}
		ancestor := commonAncestor(members)
		questions = append(questions, schemas.Question{
			ID:         uuid.New().String(),
			Text:       questionText(ancestor, members),
			Inputs:     describeInputs(members),
			Type:       schemas.QuestionUnknown,
			Confidence: salvageGroupConf,
		})
	}

	for _, input := range answerableInputs(doc) {
		if grouped[input] {
			continue
		}
		kind := inputKind(input)
		if kind == "radio" || kind == "checkbox" {
			// Nameless checkables stand alone.
			grouped[input] = true
		}
		questions = append(questions, schemas.Question{
			ID:         uuid.New().String(),
			Text:       questionText(input.Parent, []*html.Node{input}),
			Inputs:     describeInputs([]*html.Node{input}),
			Type:       schemas.QuestionUnknown,
			Confidence: salvageSingularConf,
		})
	}
	return questions
}

// InferType classifies a question from its input kinds when no external
// classifier collaborator is configured.
func InferType(q schemas.Question) schemas.QuestionType {
	if len(q.Inputs) == 0 {
		return schemas.QuestionUnknown
	}

	allRadio, allCheckbox := true, true
	numericValues := true
	for _, in := range q.Inputs {
		if in.Kind != "radio" {
			allRadio = false
		}
		if in.Kind != "checkbox" {
			allCheckbox = false
		}
		if _, err := strconv.Atoi(strings.TrimSpace(in.Value)); err != nil {
			numericValues = false
		}
	}

	switch {
	case allRadio && numericValues && len(q.Inputs) >= 3 && len(q.Inputs) <= 11:
		return schemas.QuestionRating
	case allRadio:
		return schemas.QuestionSingleChoice
	case allCheckbox:
		return schemas.QuestionMultipleChoice
	}

	first := q.Inputs[0]
	switch first.Kind {
	case "select":
		return schemas.QuestionDropdown
	case "text", "email", "textarea", "search", "tel", "url", "number":
		return schemas.QuestionText
	}
	return schemas.QuestionUnknown
}
