// File: internal/responder/sidecar.go
// Description: HTTP client for an external answering sidecar speaking the
// POST /answer-questions contract: {questions, context} in,
// {answers: [{question_id, value, confidence, reasoning}]} out.
package responder

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/pollflow-cli/api/schemas"
)

// SidecarResponder delegates answering to a remote service.
type SidecarResponder struct {
	endpoint string
	client   *http.Client
	logger   *zap.Logger
}

// NewSidecarResponder creates the collaborator against a base URL.
func NewSidecarResponder(endpoint string, timeout time.Duration, logger *zap.Logger) (*SidecarResponder, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("sidecar endpoint is required")
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &SidecarResponder{
		endpoint: strings.TrimRight(endpoint, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.Named("sidecar"),
	}, nil
}

// ClassifyQuestion is a pass-through; the sidecar contract has no
// classification endpoint, so the heuristic type stands.
func (s *SidecarResponder) ClassifyQuestion(_ context.Context, q schemas.Question) (schemas.Question, error) {
	return q, nil
}

type sidecarQuestion struct {
	ID      string   `json:"id"`
	Text    string   `json:"text"`
	Type    string   `json:"type"`
	Options []string `json:"options,omitempty"`
}

type sidecarAnswer struct {
	QuestionID string  `json:"question_id"`
	Value      any     `json:"value"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

type sidecarResult struct {
	Answers []sidecarAnswer `json:"answers"`
	Error   string          `json:"error,omitempty"`
}

// GenerateResponse posts the question and maps the first answer back.
func (s *SidecarResponder) GenerateResponse(ctx context.Context, q schemas.Question) (schemas.Response, error) {
	payload := map[string]any{
		"questions": []sidecarQuestion{{
			ID:      q.ID,
			Text:    q.Text,
			Type:    string(q.Type),
			Options: optionLabels(q),
		}},
	}
	body, err := jsoniter.Marshal(payload)
	if err != nil {
		return schemas.Response{}, fmt.Errorf("failed to encode sidecar request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.endpoint+"/answer-questions", bytes.NewReader(body))
	if err != nil {
		return schemas.Response{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return schemas.Response{}, fmt.Errorf("sidecar request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return schemas.Response{}, fmt.Errorf("failed to read sidecar response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return schemas.Response{}, fmt.Errorf("sidecar returned status %d", resp.StatusCode)
	}

	var result sidecarResult
	if err := jsoniter.Unmarshal(data, &result); err != nil {
		return schemas.Response{}, fmt.Errorf("failed to decode sidecar response: %w", err)
	}
	if result.Error != "" {
		return schemas.Response{}, fmt.Errorf("sidecar error: %s", result.Error)
	}
	if len(result.Answers) == 0 {
		return schemas.Response{}, fmt.Errorf("sidecar returned no answers")
	}

	return mapSidecarAnswer(q, result.Answers[0]), nil
}

// mapSidecarAnswer converts the wire answer into a typed Response.
func mapSidecarAnswer(q schemas.Question, ans sidecarAnswer) schemas.Response {
	resp := schemas.Response{
		QuestionID: q.ID,
		Type:       q.Type,
		Confidence: ans.Confidence,
		Reasoning:  ans.Reasoning,
	}
	if resp.Confidence == 0 {
		resp.Confidence = 0.5
	}

	switch value := ans.Value.(type) {
	case string:
		resp.Value = value
		if idx := matchOption(q, value); idx >= 0 {
			resp.OptionIndexes = []int{idx}
		}
	case float64:
		resp.Value = strconv.Itoa(int(value))
		if idx := matchOption(q, resp.Value); idx >= 0 {
			resp.OptionIndexes = []int{idx}
		}
	case []any:
		for _, v := range value {
			if s, ok := v.(string); ok {
				if idx := matchOption(q, s); idx >= 0 {
					resp.OptionIndexes = append(resp.OptionIndexes, idx)
				}
			}
		}
	}
	return resp
}
