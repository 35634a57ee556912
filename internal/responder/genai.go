// File: internal/responder/genai.go
// Description: AI answering collaborator backed by the Google GenAI API.
// Implements schemas.AIResponder; failures fall back to the default policy at
// the orchestrator level, never abort a question.
package responder

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/xkilldash9x/pollflow-cli/api/schemas"
)

var jsonBlockPattern = regexp.MustCompile(`(?s)\{.*\}`)

const answerSystemPrompt = `You are answering poll/survey questions as a typical human would.
Rules: give realistic human-like answers, show some uncertainty, avoid extreme
ratings unless warranted, keep answers concise.
Return exactly this JSON: {"answer": "...", "confidence": 0.8, "reasoning": "..."}`

// GenAIResponder classifies and answers questions via Gemini.
type GenAIResponder struct {
	client *genai.Client
	model  string
	logger *zap.Logger
}

// NewGenAIResponder creates the collaborator. The API key is required.
func NewGenAIResponder(ctx context.Context, apiKey, model string, logger *zap.Logger) (*GenAIResponder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("genai API key is required")
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &GenAIResponder{
		client: client,
		model:  model,
		logger: logger.Named("genai"),
	}, nil
}

// ClassifyQuestion asks the model for the question type; unparseable output
// leaves the question unchanged.
func (r *GenAIResponder) ClassifyQuestion(ctx context.Context, q schemas.Question) (schemas.Question, error) {
	prompt := fmt.Sprintf(
		"Classify this form question into exactly one of: single_choice, multiple_choice, text, dropdown, rating, unknown.\nQuestion: %s\nInput kinds: %s\nAnswer with the label only.",
		q.Text, inputKinds(q))

	text, err := r.generate(ctx, prompt)
	if err != nil {
		return q, fmt.Errorf("classification request failed: %w", err)
	}

	label := schemas.QuestionType(strings.TrimSpace(strings.ToLower(text)))
	switch label {
	case schemas.QuestionSingleChoice, schemas.QuestionMultipleChoice,
		schemas.QuestionText, schemas.QuestionDropdown,
		schemas.QuestionRating, schemas.QuestionUnknown:
		q.Type = label
	default:
		r.logger.Debug("Unrecognized classification label", zap.String("label", string(label)))
	}
	return q, nil
}

// GenerateResponse asks the model to answer the question and maps the JSON
// reply onto a typed Response.
func (r *GenAIResponder) GenerateResponse(ctx context.Context, q schemas.Question) (schemas.Response, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s\n\nQuestion: %s\nType: %s\n", answerSystemPrompt, q.Text, q.Type)
	if opts := optionLabels(q); len(opts) > 0 {
		sb.WriteString("Options:\n")
		for i, opt := range opts {
			fmt.Fprintf(&sb, "%d. %s\n", i+1, opt)
		}
	}

	text, err := r.generate(ctx, sb.String())
	if err != nil {
		return schemas.Response{}, fmt.Errorf("answer request failed: %w", err)
	}
	return parseAnswer(q, text)
}

func (r *GenAIResponder) generate(ctx context.Context, prompt string) (string, error) {
	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}
	result, err := r.client.Models.GenerateContent(ctx, r.model, contents, nil)
	if err != nil {
		return "", err
	}
	return result.Text(), nil
}

// parseAnswer extracts the JSON envelope from model output and maps it to a
// Response; non-JSON output is treated as a raw text answer.
func parseAnswer(q schemas.Question, raw string) (schemas.Response, error) {
	resp := schemas.Response{
		QuestionID: q.ID,
		Type:       q.Type,
		Confidence: 0.7,
	}

	var envelope struct {
		Answer     string  `json:"answer"`
		Confidence float64 `json:"confidence"`
		Reasoning  string  `json:"reasoning"`
	}
	answer := strings.TrimSpace(raw)
	if block := jsonBlockPattern.FindString(raw); block != "" {
		if err := jsoniter.Unmarshal([]byte(block), &envelope); err == nil && envelope.Answer != "" {
			answer = envelope.Answer
			if envelope.Confidence > 0 {
				resp.Confidence = envelope.Confidence
			}
			resp.Reasoning = envelope.Reasoning
		}
	}

	switch q.Type {
	case schemas.QuestionSingleChoice, schemas.QuestionMultipleChoice,
		schemas.QuestionDropdown, schemas.QuestionRating:
		if idx := matchOption(q, answer); idx >= 0 {
			resp.OptionIndexes = []int{idx}
			resp.Value = answer
			return resp, nil
		}
		return schemas.Response{}, fmt.Errorf("answer %q matches no option", answer)
	default:
		resp.Value = answer
		return resp, nil
	}
}

// matchOption finds the option whose label or value contains the answer
// (case-insensitive), or that the answer contains.
func matchOption(q schemas.Question, answer string) int {
	lower := strings.ToLower(strings.TrimSpace(answer))
	if lower == "" {
		return -1
	}
	for i, opt := range optionLabels(q) {
		optLower := strings.ToLower(opt)
		if optLower == "" {
			continue
		}
		if strings.Contains(lower, optLower) || strings.Contains(optLower, lower) {
			return i
		}
	}
	return -1
}

func optionLabels(q schemas.Question) []string {
	if q.Type == schemas.QuestionDropdown && len(q.Inputs) > 0 {
		return q.Inputs[0].Options
	}
	labels := make([]string, len(q.Inputs))
	for i, in := range q.Inputs {
		labels[i] = in.Value
		if labels[i] == "" {
			labels[i] = in.Name
		}
	}
	return labels
}

func inputKinds(q schemas.Question) string {
	kinds := make([]string, len(q.Inputs))
	for i, in := range q.Inputs {
		kinds[i] = in.Kind
	}
	return strings.Join(kinds, ", ")
}
