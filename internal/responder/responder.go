// File: internal/responder/responder.go
// Description: Default/fallback response policy. Produces plausible answers
// without any AI collaborator: weighted choice selection, socially-desirable
// rating bias, and canned text banks. An external AIResponder can replace it
// without changing the orchestrator's contract.
package responder

import (
	"math/rand"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/xkilldash9x/pollflow-cli/api/schemas"
)

// edgeWeight down-weights the first and last option of a choice question to
// avoid edge bias.
const edgeWeight = 0.2

// textBank maps question-text substrings to canned answers.
var textBank = []struct {
	keywords []string
	values   []string
}{
	{[]string{"email", "e-mail"}, []string{"alex.morgan84@gmail.com"}},
	{[]string{"name"}, []string{"Alex Morgan"}},
	{[]string{"age", "old"}, []string{"34"}},
	{[]string{"comment", "feedback", "opinion", "suggest", "why"}, []string{
		"Overall it was a good experience.",
		"Nothing particular comes to mind.",
		"It worked well for what I needed.",
	}},
}

const defaultTextAnswer = "Satisfied"

// Generator implements the default response policy.
type Generator struct {
	mu     sync.Mutex
	rng    *rand.Rand
	logger *zap.Logger
}

// NewGenerator creates a generator seeded for reproducibility in tests; pass
// a time-derived seed in production.
func NewGenerator(logger *zap.Logger, seed int64) *Generator {
	return &Generator{
		rng:    rand.New(rand.NewSource(seed)),
		logger: logger.Named("responder"),
	}
}

// Generate produces a typed response for the question. Unknown types yield a
// skip marker, never an error.
func (g *Generator) Generate(q schemas.Question) schemas.Response {
	g.mu.Lock()
	defer g.mu.Unlock()

	resp := schemas.Response{
		QuestionID: q.ID,
		Type:       q.Type,
		Confidence: 0.7,
	}

	switch q.Type {
	case schemas.QuestionSingleChoice:
		resp.OptionIndexes = []int{g.weightedIndex(len(q.Inputs))}
	case schemas.QuestionMultipleChoice:
		resp.OptionIndexes = g.pickMultiple(len(q.Inputs))
	case schemas.QuestionRating:
		resp.Value, resp.OptionIndexes = g.pickRating(q)
	case schemas.QuestionDropdown:
		resp.OptionIndexes = []int{g.dropdownIndex(q)}
	case schemas.QuestionText:
		resp.Value = g.textAnswer(q.Text)
	default:
		resp.Skip = true
		resp.Confidence = 0
	}
	return resp
}

// weightedIndex picks an option index with the first and last down-weighted.
func (g *Generator) weightedIndex(n int) int {
	if n <= 1 {
		return 0
	}
	weights := make([]float64, n)
	total := 0.0
	for i := range weights {
		w := 1.0
		if i == 0 || i == n-1 {
			w = edgeWeight
		}
		weights[i] = w
		total += w
	}
	target := g.rng.Float64() * total
	for i, w := range weights {
		target -= w
		if target < 0 {
			return i
		}
	}
	return n - 1
}

// pickMultiple selects 1-2 distinct option indexes.
func (g *Generator) pickMultiple(n int) []int {
	if n == 0 {
		return nil
	}
	count := 1
	if n > 1 && g.rng.Intn(2) == 1 {
		count = 2
	}
	perm := g.rng.Perm(n)
	picked := append([]int(nil), perm[:count]...)
	return picked
}

// pickRating models socially-desirable responding on a 1-5 scale: ~70% "4",
// the remainder split between "3" and "5".
func (g *Generator) pickRating(q schemas.Question) (string, []int) {
	roll := g.rng.Float64()
	rating := "4"
	switch {
	case roll < 0.70:
		rating = "4"
	case roll < 0.85:
		rating = "3"
	default:
		rating = "5"
	}

	// Map the rating onto the question's inputs: match by value first, else
	// scale the rating across the available positions.
	for i, in := range q.Inputs {
		if strings.TrimSpace(in.Value) == rating {
			return rating, []int{i}
		}
	}
	if n := len(q.Inputs); n > 0 {
		v, _ := strconv.Atoi(rating)
		idx := (v - 1) * (n - 1) / 4
		return rating, []int{idx}
	}
	return rating, nil
}

// dropdownIndex picks uniformly excluding index 0 (assumed placeholder).
func (g *Generator) dropdownIndex(q schemas.Question) int {
	n := 0
	if len(q.Inputs) > 0 {
		n = len(q.Inputs[0].Options)
	}
	if n <= 1 {
		return 0
	}
	return 1 + g.rng.Intn(n-1)
}

// textAnswer keyword-matches the question text against the canned banks.
func (g *Generator) textAnswer(questionText string) string {
	lower := strings.ToLower(questionText)
	for _, bank := range textBank {
		for _, kw := range bank.keywords {
			if strings.Contains(lower, kw) {
				return bank.values[g.rng.Intn(len(bank.values))]
			}
		}
	}
	return defaultTextAnswer
}
