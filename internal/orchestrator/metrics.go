// File: internal/orchestrator/metrics.go
package orchestrator

import "time"

// metrics tracks rolling performance figures for one run. The averages use
// the new=(old+sample)/2 smoothing: a biased estimator, kept deliberately for
// simplicity over statistical rigor.
type metrics struct {
	avgQuestionTime time.Duration
	avgResponseTime time.Duration
}

func (m *metrics) observeQuestion(sample time.Duration) {
	if m.avgQuestionTime == 0 {
		m.avgQuestionTime = sample
		return
	}
	m.avgQuestionTime = (m.avgQuestionTime + sample) / 2
}

func (m *metrics) observeResponse(sample time.Duration) {
	if m.avgResponseTime == 0 {
		m.avgResponseTime = sample
		return
	}
	m.avgResponseTime = (m.avgResponseTime + sample) / 2
}

// successRate is responsesGenerated/questionsProcessed, defined as 1.0 when
// nothing has been processed yet.
func successRate(responses, questions int) float64 {
	if questions == 0 {
		return 1.0
	}
	return float64(responses) / float64(questions)
}

// questionsPerMinute normalizes throughput over the elapsed run time.
func questionsPerMinute(questions int, elapsed time.Duration) float64 {
	minutes := elapsed.Minutes()
	if minutes <= 0 {
		return 0
	}
	return float64(questions) / minutes
}
