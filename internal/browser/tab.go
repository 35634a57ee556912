// internal/browser/tab.go
package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/pollflow-cli/api/schemas"
)

// Tab is the chromedp-backed driver for one browser target. Selectors that
// start with '/' are routed through the XPath engine, everything else through
// querySelector.
type Tab struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger

	limiter      *rate.Limiter
	postLoadWait time.Duration

	onClose   func()
	closeOnce sync.Once
}

var _ schemas.Driver = (*Tab)(nil)

func newTab(ctx context.Context, cancel context.CancelFunc, logger *zap.Logger, limiter *rate.Limiter, postLoadWait time.Duration) *Tab {
	id := uuid.New().String()
	return &Tab{
		id:           id,
		ctx:          ctx,
		cancel:       cancel,
		logger:       logger.With(zap.String("tab_id", id)),
		limiter:      limiter,
		postLoadWait: postLoadWait,
	}
}

func isXPath(selector string) bool {
	return strings.HasPrefix(selector, "/") || strings.HasPrefix(selector, "(")
}

func queryOption(selector string) chromedp.QueryOption {
	if isXPath(selector) {
		return chromedp.BySearch
	}
	return chromedp.ByQuery
}

// runActions executes chromedp actions under both the tab lifetime context
// and the caller's context.
func (t *Tab) runActions(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := combineContext(t.ctx, ctx)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

// throttle applies the shared action rate limit.
func (t *Tab) throttle(ctx context.Context) error {
	if t.limiter == nil {
		return nil
	}
	return t.limiter.Wait(ctx)
}

func (t *Tab) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	if err := t.throttle(ctx); err != nil {
		return err
	}
	navCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		navCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	t.logger.Debug("Navigating", zap.String("url", url))
	if err := t.runActions(navCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("navigation to '%s' failed: %w", url, err)
	}
	return t.settle(navCtx)
}

// settle gives late-loading scripts a quiet period after the load signal.
func (t *Tab) settle(ctx context.Context) error {
	if t.postLoadWait <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(t.postLoadWait):
		return nil
	}
}

func (t *Tab) CurrentURL(ctx context.Context) (string, error) {
	var url string
	if err := t.runActions(ctx, chromedp.Location(&url)); err != nil {
		return "", err
	}
	return url, nil
}

func (t *Tab) Title(ctx context.Context) (string, error) {
	var title string
	if err := t.runActions(ctx, chromedp.Title(&title)); err != nil {
		return "", err
	}
	return title, nil
}

func (t *Tab) PageSource(ctx context.Context) (string, error) {
	var source string
	if err := t.runActions(ctx, chromedp.OuterHTML("html", &source, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("failed to snapshot page: %w", err)
	}
	return source, nil
}

func (t *Tab) Evaluate(ctx context.Context, script string, out any) error {
	if err := t.throttle(ctx); err != nil {
		return err
	}
	return t.runActions(ctx, chromedp.Evaluate(script, out,
		func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
			return p.WithReturnByValue(true).WithAwaitPromise(true).WithSilent(true)
		}))
}

// elementProbe is the JS-side element inspection result.
type elementProbe struct {
	Visible bool   `json:"visible"`
	Text    string `json:"text"`
}

// probeScript locates elements and reports visibility and text in a single
// evaluation. `all` switches between first-match and every-match.
const probeScript = `
(function(sel, isXPath, all) {
    const inspect = (el) => {
        const rect = el.getBoundingClientRect();
        const style = window.getComputedStyle(el);
        const visible = rect.width > 0 && rect.height > 0 &&
            style.display !== 'none' && style.visibility !== 'hidden';
        const text = (el.innerText || el.value || '').trim().slice(0, 200);
        return { visible: visible, text: text };
    };
    let els = [];
    if (isXPath) {
        const it = document.evaluate(sel, document, null,
            XPathResult.ORDERED_NODE_SNAPSHOT_TYPE, null);
        for (let i = 0; i < it.snapshotLength; i++) { els.push(it.snapshotItem(i)); }
    } else {
        els = Array.from(document.querySelectorAll(sel));
    }
    if (els.length === 0) { return all ? [] : null; }
    return all ? els.map(inspect) : inspect(els[0]);
})(%s, %t, %t)`

func (t *Tab) Query(ctx context.Context, selector string) (*schemas.ElementRef, error) {
	script := fmt.Sprintf(probeScript, jsonEncode(selector), isXPath(selector), false)

	var res json.RawMessage
	if err := t.Evaluate(ctx, script, &res); err != nil {
		return nil, fmt.Errorf("query '%s' failed: %w", selector, err)
	}
	if len(res) == 0 || string(res) == "null" {
		return nil, nil
	}
	var probe elementProbe
	if err := json.Unmarshal(res, &probe); err != nil {
		return nil, fmt.Errorf("query '%s' returned malformed probe: %w", selector, err)
	}
	return &schemas.ElementRef{
		Selector: selector,
		Visible:  probe.Visible,
		Text:     probe.Text,
	}, nil
}

// QueryAll returns a ref per match. The refs share the original selector;
// callers use them for counting and inspection, acting on the first match.
func (t *Tab) QueryAll(ctx context.Context, selector string) ([]*schemas.ElementRef, error) {
	script := fmt.Sprintf(probeScript, jsonEncode(selector), isXPath(selector), true)

	var res json.RawMessage
	if err := t.Evaluate(ctx, script, &res); err != nil {
		return nil, fmt.Errorf("query-all '%s' failed: %w", selector, err)
	}
	var probes []elementProbe
	if err := json.Unmarshal(res, &probes); err != nil {
		return nil, fmt.Errorf("query-all '%s' returned malformed probes: %w", selector, err)
	}
	refs := make([]*schemas.ElementRef, 0, len(probes))
	for _, probe := range probes {
		refs = append(refs, &schemas.ElementRef{
			Selector: selector,
			Visible:  probe.Visible,
			Text:     probe.Text,
		})
	}
	return refs, nil
}

func (t *Tab) Click(ctx context.Context, ref *schemas.ElementRef) error {
	if ref == nil {
		return fmt.Errorf("click on nil element ref")
	}
	if err := t.throttle(ctx); err != nil {
		return err
	}
	if err := t.runActions(ctx,
		chromedp.Click(ref.Selector, queryOption(ref.Selector), chromedp.NodeVisible),
	); err != nil {
		return fmt.Errorf("click on '%s' failed: %w", ref.Selector, err)
	}
	return nil
}

func (t *Tab) Fill(ctx context.Context, ref *schemas.ElementRef, text string) error {
	if ref == nil {
		return fmt.Errorf("fill on nil element ref")
	}
	if err := t.throttle(ctx); err != nil {
		return err
	}
	opt := queryOption(ref.Selector)
	// Focus, clear, then type so input/change handlers fire as they would
	// for a real user.
	if err := t.runActions(ctx,
		chromedp.Focus(ref.Selector, opt),
		chromedp.SetValue(ref.Selector, "", opt),
		chromedp.SendKeys(ref.Selector, text, opt),
	); err != nil {
		return fmt.Errorf("fill on '%s' failed: %w", ref.Selector, err)
	}
	return nil
}

const selectOptionScript = `
(function(sel, isXPath, idx) {
    let el = null;
    if (isXPath) {
        el = document.evaluate(sel, document, null,
            XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue;
    } else {
        el = document.querySelector(sel);
    }
    if (!el || el.tagName !== 'SELECT') { return false; }
    if (idx < 0 || idx >= el.options.length) { return false; }
    el.selectedIndex = idx;
    el.dispatchEvent(new Event('input', { bubbles: true }));
    el.dispatchEvent(new Event('change', { bubbles: true }));
    return true;
})(%s, %t, %d)`

func (t *Tab) SelectOption(ctx context.Context, ref *schemas.ElementRef, index int) error {
	if ref == nil {
		return fmt.Errorf("select on nil element ref")
	}
	if err := t.throttle(ctx); err != nil {
		return err
	}
	script := fmt.Sprintf(selectOptionScript, jsonEncode(ref.Selector), isXPath(ref.Selector), index)
	var ok bool
	if err := t.Evaluate(ctx, script, &ok); err != nil {
		return fmt.Errorf("select on '%s' failed: %w", ref.Selector, err)
	}
	if !ok {
		return fmt.Errorf("select on '%s': no option at index %d", ref.Selector, index)
	}
	return nil
}

func (t *Tab) WaitForLoad(ctx context.Context, kind schemas.LoadKind, timeout time.Duration) error {
	waitCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	switch kind {
	case schemas.LoadContentLoaded:
		if err := t.runActions(waitCtx, chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
			return fmt.Errorf("content-loaded wait failed: %w", err)
		}
		return nil
	case schemas.LoadNetworkIdle:
		// Approximated as readyState complete plus the configured quiet
		// period; the CDP network domain is not instrumented per tab.
		for {
			var state string
			if err := t.runActions(waitCtx, chromedp.Evaluate("document.readyState", &state)); err != nil {
				return fmt.Errorf("network-idle wait failed: %w", err)
			}
			if state == "complete" {
				return t.settle(waitCtx)
			}
			select {
			case <-waitCtx.Done():
				return waitCtx.Err()
			case <-time.After(100 * time.Millisecond):
			}
		}
	default:
		return fmt.Errorf("unknown load kind %q", kind)
	}
}

func (t *Tab) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := t.runActions(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, fmt.Errorf("screenshot failed: %w", err)
	}
	return buf, nil
}

func (t *Tab) Focus(ctx context.Context) error {
	return t.runActions(ctx, chromedp.ActionFunc(func(c context.Context) error {
		return page.BringToFront().Do(c)
	}))
}

func (t *Tab) Close(ctx context.Context) error {
	t.closeOnce.Do(func() {
		t.logger.Debug("Closing tab")
		if t.cancel != nil {
			t.cancel()
		}
		if t.onClose != nil {
			t.onClose()
		}
	})
	return nil
}

// jsonEncode safely embeds a Go string into generated JS.
func jsonEncode(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return `""`
	}
	return string(b)
}

// combineContext cancels the derived context when either input context is
// done, so operations respect both the tab lifetime and the caller deadline.
func combineContext(parentCtx, secondaryCtx context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancel(parentCtx)
	go func() {
		select {
		case <-secondaryCtx.Done():
			cancel()
		case <-combined.Done():
		}
	}()
	return combined, cancel
}
