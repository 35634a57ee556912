// File: internal/responder/humanize.go
package responder

import "github.com/xkilldash9x/pollflow-cli/api/schemas"

// Speech-pattern banks for making text answers read like a person wrote them.
var (
	uncertaintyPatterns = []string{
		"I'm not entirely sure, but I think",
		"If I had to guess, I'd say",
		"From what I remember",
		"I believe",
		"As far as I know",
	}
	hedgingWords = []string{
		"probably", "I suppose", "perhaps", "it seems to me", "I'd say",
	}
)

const (
	uncertaintyChance = 0.3
	hedgingChance     = 0.2
	minConfidence     = 0.2
)

// Humanize post-processes a response: free-text answers occasionally gain an
// uncertainty prefix or a hedging suffix, and confidence is damped a little
// because people are rarely certain.
func (g *Generator) Humanize(resp schemas.Response, q schemas.Question) schemas.Response {
	g.mu.Lock()
	defer g.mu.Unlock()

	if q.Type == schemas.QuestionText && resp.Value != "" {
		if g.rng.Float64() < uncertaintyChance {
			prefix := uncertaintyPatterns[g.rng.Intn(len(uncertaintyPatterns))]
			resp.Value = prefix + " " + lowerFirst(resp.Value)
		}
		if g.rng.Float64() < hedgingChance {
			hedge := hedgingWords[g.rng.Intn(len(hedgingWords))]
			resp.Value = resp.Value + ", " + hedge
		}
	}

	resp.Confidence -= 0.1 + g.rng.Float64()*0.2
	if resp.Confidence < minConfidence {
		resp.Confidence = minConfidence
	}
	return resp
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	if r[0] >= 'A' && r[0] <= 'Z' {
		r[0] = r[0] - 'A' + 'a'
	}
	return string(r)
}
