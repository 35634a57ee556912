// File: internal/orchestrator/analysis.go
package orchestrator

import (
	"context"
	"regexp"
	"strings"

	"github.com/antchfx/htmlquery"
	"go.uber.org/zap"

	"github.com/xkilldash9x/pollflow-cli/api/schemas"
)

// PollType is the coarse shape of the poll derived from page structure.
type PollType string

const (
	PollSimple        PollType = "simple"
	PollStandard      PollType = "standard"
	PollComprehensive PollType = "comprehensive"
	PollMultiPage     PollType = "multi_page"
)

// Complexity buckets the weighted structural score.
type Complexity string

const (
	ComplexityLow    Complexity = "low"
	ComplexityMedium Complexity = "medium"
	ComplexityHigh   Complexity = "high"
)

// PageAnalysis is the outcome of the ANALYZING_POLL state.
type PageAnalysis struct {
	Forms      int
	Inputs     int
	Buttons    int
	MultiPage  bool
	Progress   bool
	Type       PollType
	Complexity Complexity
}

var pageOfPattern = regexp.MustCompile(`(?i)page\s+\d+\s+(of|/)\s+\d+`)

// analyzePage collects structural signals from the current page and
// classifies the poll. A failed snapshot degrades to an empty analysis
// ("analysis incomplete"), never aborts the run.
func (o *Orchestrator) analyzePage(ctx context.Context, drv schemas.Driver) PageAnalysis {
	analysis := PageAnalysis{Type: PollStandard, Complexity: ComplexityLow}

	source, err := drv.PageSource(ctx)
	if err != nil {
		o.logger.Warn("Page snapshot failed during analysis", zap.Error(err))
		return analysis
	}
	doc, err := htmlquery.Parse(strings.NewReader(source))
	if err != nil {
		o.logger.Warn("Page parse failed during analysis", zap.Error(err))
		return analysis
	}

	count := func(xpath string) int {
		nodes, err := htmlquery.QueryAll(doc, xpath)
		if err != nil {
			return 0
		}
		return len(nodes)
	}

	analysis.Forms = count("//form")
	analysis.Inputs = count("//input[not(@type='hidden')] | //select | //textarea")
	analysis.Buttons = count("//button | //input[@type='submit' or @type='button']")
	analysis.Progress = count("//progress | //*[contains(@class, 'progress')]") > 0

	analysis.MultiPage = count("//*[contains(@class, 'pagination')]") > 0 ||
		count("//*[@id='next' or contains(@class, 'next')]") > 0 ||
		pageOfPattern.MatchString(htmlquery.InnerText(doc))

	switch {
	case analysis.MultiPage:
		analysis.Type = PollMultiPage
	case analysis.Inputs > 10:
		analysis.Type = PollComprehensive
	case analysis.Inputs <= 3:
		analysis.Type = PollSimple
	default:
		analysis.Type = PollStandard
	}

	score := analysis.Inputs + analysis.Forms*2
	if analysis.MultiPage {
		score += 3
	}
	if analysis.Progress {
		score += 2
	}
	switch {
	case score < 5:
		analysis.Complexity = ComplexityLow
	case score < 12:
		analysis.Complexity = ComplexityMedium
	default:
		analysis.Complexity = ComplexityHigh
	}

	return analysis
}
