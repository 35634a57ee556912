// File: internal/registry/classifier.go
// Description: Assigns a role to a freshly spawned session. URL/title
// patterns win; content heuristics break the auxiliary default; driver
// failures during inspection downgrade to auxiliary/low-confidence and never
// abort a flow. Classification is deterministic for a fixed DOM snapshot.
package registry

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/antchfx/htmlquery"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/pollflow-cli/api/schemas"
)

// rolePattern pairs a role with the URL/title regex that selects it.
// Evaluation order is the tie order: poll beats redirect beats verification
// beats completion beats error.
type rolePattern struct {
	role    schemas.SessionRole
	pattern *regexp.Regexp
}

var rolePatterns = []rolePattern{
	{schemas.RolePoll, regexp.MustCompile(`(?i)(poll|survey|questionnaire|feedback-form)`)},
	{schemas.RoleRedirect, regexp.MustCompile(`(?i)(redirect|forward|r\.php|track|outbound|exit)`)},
	{schemas.RoleVerification, regexp.MustCompile(`(?i)(verif|confirm|captcha|challenge|check)`)},
	{schemas.RoleCompletion, regexp.MustCompile(`(?i)(complete|thank|finished|success|done)`)},
	{schemas.RoleError, regexp.MustCompile(`(?i)(error|denied|blocked|unavailable|404|500)`)},
}

var completionKeywords = regexp.MustCompile(`(?i)(thank you|thanks|complete|completed|success|submitted|finished)`)

// Content-heuristic weights; score >= pollScoreThreshold means poll page.
const (
	weightForm          = 3
	weightCheckable     = 5
	weightSubmit        = 2
	weightProgress      = 3
	weightManyInputs    = 2
	pollScoreThreshold  = 5
	manyInputsThreshold = 5

	inspectTimeout = 5 * time.Second
)

// Classification is the outcome of classifying one session.
type Classification struct {
	Role       schemas.SessionRole
	IsPollPage bool
	IsBlocking bool
	Confidence float64
	URL        string
}

// Classifier inspects new sessions. It holds no state beyond a logger; all
// decisions are pure functions of the page.
type Classifier struct {
	logger *zap.Logger
}

func NewClassifier(logger *zap.Logger) *Classifier {
	return &Classifier{logger: logger.Named("classifier")}
}

// Classify determines a role for the session behind drv. It always returns a
// usable classification; errors reading the page downgrade to auxiliary with
// low confidence.
func (c *Classifier) Classify(ctx context.Context, drv schemas.Driver, originHint string) Classification {
	cls := Classification{
		Role:       schemas.RoleAuxiliary,
		Confidence: 0.3,
	}
	if drv == nil {
		return cls
	}

	inspectCtx, cancel := context.WithTimeout(ctx, inspectTimeout)
	defer cancel()

	url, err := drv.CurrentURL(inspectCtx)
	if err != nil {
		c.logger.Debug("URL inspection failed during classification", zap.Error(err))
		url = originHint
	}
	cls.URL = url
	title, err := drv.Title(inspectCtx)
	if err != nil {
		title = ""
	}

	// (1) URL/title pattern match, in tie order.
	haystack := url + " " + title
	for _, rp := range rolePatterns {
		if rp.pattern.MatchString(haystack) {
			cls.Role = rp.role
			cls.Confidence = 0.9
			cls.IsPollPage = rp.role == schemas.RolePoll
			cls.IsBlocking = rp.role == schemas.RolePoll || rp.role == schemas.RoleError
			return cls
		}
	}

	// (2) Content heuristics for the still-auxiliary case.
	source, err := drv.PageSource(inspectCtx)
	if err != nil {
		c.logger.Debug("Content inspection failed during classification", zap.Error(err))
		return cls
	}
	return c.classifyContent(cls, source)
}

// classifyContent scores the page markup. The error-indicator check overrides
// a poll classification; completion markup wins only when neither fires.
func (c *Classifier) classifyContent(cls Classification, source string) Classification {
	doc, err := htmlquery.Parse(strings.NewReader(source))
	if err != nil {
		c.logger.Debug("Snapshot parse failed during classification", zap.Error(err))
		return cls
	}

	score := 0
	if exists(doc, "//form") {
		score += weightForm
	}
	if exists(doc, "//input[@type='radio' or @type='checkbox']") {
		score += weightCheckable
	}
	if exists(doc, "//button[@type='submit'] | //input[@type='submit']") {
		score += weightSubmit
	}
	if exists(doc, "//progress | //*[contains(@class, 'progress')]") {
		score += weightProgress
	}
	if countNodes(doc, "//input[not(@type='hidden')] | //select | //textarea") > manyInputsThreshold {
		score += weightManyInputs
	}

	if score >= pollScoreThreshold {
		cls.Role = schemas.RolePoll
		cls.IsPollPage = true
		cls.IsBlocking = true
		cls.Confidence = 0.7
	}

	// Error markup overrides the poll classification.
	if exists(doc, "//*[contains(@class, 'error') or contains(@class, 'alert-danger')]") {
		cls.Role = schemas.RoleError
		cls.IsPollPage = false
		cls.IsBlocking = true
		cls.Confidence = 0.8
		return cls
	}

	if cls.Role == schemas.RoleAuxiliary {
		if node, _ := htmlquery.Query(doc,
			"//*[contains(@class, 'success') or contains(@class, 'complete') or contains(@class, 'thank')]"); node != nil {
			if completionKeywords.MatchString(htmlquery.InnerText(node)) {
				cls.Role = schemas.RoleCompletion
				cls.IsBlocking = false
				cls.Confidence = 0.8
			}
		}
	}
	return cls
}

func exists(doc *html.Node, xpath string) bool {
	node, err := htmlquery.Query(doc, xpath)
	return err == nil && node != nil
}

func countNodes(doc *html.Node, xpath string) int {
	nodes, err := htmlquery.QueryAll(doc, xpath)
	if err != nil {
		return 0
	}
	return len(nodes)
}
