// File: internal/orchestrator/cascade.go
// Description: Selector-strategy cascade shared by "next page" and "final
// submit". Tiers of candidate selectors are tried in learned order; the
// first visible match wins and the success is recorded back into the
// learning store under the tier's default index.
package orchestrator

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/pollflow-cli/api/schemas"
	"github.com/xkilldash9x/pollflow-cli/internal/learning"
)

// Action types recorded in the learning store.
const (
	ActionNextPage    = "next_page"
	ActionFinalSubmit = "final_submit"
)

// Default strategy tiers, ordered id > text > type > class > positional.
// Selectors beginning with '/' are XPath, everything else CSS.
var nextPageTiers = []learning.StrategyTier{
	{Name: "id", Selectors: []string{"#next", "#next-button", "#btn-next", "#continue"}},
	{Name: "text", Selectors: []string{
		"//button[contains(., 'Next')]",
		"//a[contains(., 'Next')]",
		"//button[contains(., 'Continue')]",
		"//input[@value='Next']",
	}},
	{Name: "type", Selectors: []string{"button[type=\"submit\"]", "input[type=\"submit\"]"}},
	{Name: "class", Selectors: []string{".next", ".btn-next", ".continue", ".forward"}},
	{Name: "positional", Selectors: []string{"form button:last-of-type", "form button"}},
}

var finalSubmitTiers = []learning.StrategyTier{
	{Name: "id", Selectors: []string{"#submit", "#submit-button", "#finish", "#complete"}},
	{Name: "text", Selectors: []string{
		"//button[contains(., 'Submit')]",
		"//button[contains(., 'Finish')]",
		"//input[@value='Submit']",
	}},
	{Name: "type", Selectors: []string{"button[type=\"submit\"]", "input[type=\"submit\"]"}},
	{Name: "class", Selectors: []string{".submit", ".btn-submit", ".finish"}},
	{Name: "positional", Selectors: []string{"form button:last-of-type"}},
}

// RetryPolicy bounds cascade re-attempts.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

// executeCascade attempts the action by walking tiers in optimized order.
// Returns whether a control was found and clicked; exhausting all tiers is
// not an error (the caller treats it as "no such control").
func (o *Orchestrator) executeCascade(ctx context.Context, drv schemas.Driver, actionType string, defaults []learning.StrategyTier, policy RetryPolicy) (bool, error) {
	defaultIndex := make(map[string]int, len(defaults))
	for i, tier := range defaults {
		defaultIndex[tier.Name] = i
	}

	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return false, err
		}

		order := o.learning.OptimizedOrder(actionType, defaults)
		for _, tier := range order {
			tierIdx := defaultIndex[tier.Name]
			for _, selector := range tier.Selectors {
				ref, err := drv.Query(ctx, selector)
				if err != nil || ref == nil || !ref.Visible {
					continue
				}
				if err := o.clickRef(ctx, drv, ref); err != nil {
					o.logger.Debug("Cascade click failed, trying next selector",
						zap.String("action", actionType),
						zap.String("selector", selector),
						zap.Error(err))
					continue
				}

				o.learning.RecordSuccess(actionType, selector, tierIdx)
				o.bus.Publish(schemas.EventSelectorSuccess, o.run.ID, map[string]any{
					"action_type": actionType,
					"selector":    selector,
					"tier":        tierIdx,
				})
				return true, nil
			}
		}

		if attempt+1 < attempts && policy.Backoff > 0 {
			select {
			case <-ctx.Done():
				return false, ctx.Err()
			case <-time.After(policy.Backoff * time.Duration(attempt+1)):
			}
		}
	}
	return false, nil
}

// clickRef routes the click through the behavioral collaborator when one is
// configured.
func (o *Orchestrator) clickRef(ctx context.Context, drv schemas.Driver, ref *schemas.ElementRef) error {
	if o.behavioral != nil {
		return o.behavioral.ClickElement(ctx, drv, ref)
	}
	return drv.Click(ctx, ref)
}
