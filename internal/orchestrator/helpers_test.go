package orchestrator_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/pollflow-cli/api/schemas"
	"github.com/xkilldash9x/pollflow-cli/internal/config"
	"github.com/xkilldash9x/pollflow-cli/internal/detector"
	"github.com/xkilldash9x/pollflow-cli/internal/learning"
	"github.com/xkilldash9x/pollflow-cli/internal/observability"
	"github.com/xkilldash9x/pollflow-cli/internal/orchestrator"
	"github.com/xkilldash9x/pollflow-cli/internal/registry"
	"github.com/xkilldash9x/pollflow-cli/internal/responder"
)

// fakePage is one scripted page: its HTML snapshot, the set of selectors that
// resolve to a visible element, and the selector whose click advances to the
// next page.
type fakePage struct {
	source    string
	selectors map[string]bool
	advance   string
}

// scriptedDriver walks a fixed sequence of pages and records every
// interaction for assertions.
type scriptedDriver struct {
	mu    sync.Mutex
	pages []fakePage
	idx   int

	clicks    []string
	fills     map[string]string
	selects   map[string]int
	navigated []string

	navErr  error
	onClick func(selector string)
}

var _ schemas.Driver = (*scriptedDriver)(nil)

func newScriptedDriver(pages ...fakePage) *scriptedDriver {
	return &scriptedDriver{
		pages:   pages,
		fills:   make(map[string]string),
		selects: make(map[string]int),
	}
}

func (d *scriptedDriver) page() fakePage {
	return d.pages[d.idx]
}

func (d *scriptedDriver) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.navErr != nil {
		return d.navErr
	}
	d.navigated = append(d.navigated, url)
	return nil
}

func (d *scriptedDriver) CurrentURL(ctx context.Context) (string, error) {
	return "https://polls.test/flow", nil
}

func (d *scriptedDriver) Title(ctx context.Context) (string, error) { return "Poll", nil }

func (d *scriptedDriver) PageSource(ctx context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.page().source, nil
}

func (d *scriptedDriver) Evaluate(ctx context.Context, script string, out any) error { return nil }

func (d *scriptedDriver) Query(ctx context.Context, selector string) (*schemas.ElementRef, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.page().selectors[selector] {
		return nil, nil
	}
	return &schemas.ElementRef{Selector: selector, Visible: true}, nil
}

func (d *scriptedDriver) QueryAll(ctx context.Context, selector string) ([]*schemas.ElementRef, error) {
	ref, _ := d.Query(ctx, selector)
	if ref == nil {
		return nil, nil
	}
	return []*schemas.ElementRef{ref}, nil
}

func (d *scriptedDriver) Click(ctx context.Context, ref *schemas.ElementRef) error {
	d.mu.Lock()
	d.clicks = append(d.clicks, ref.Selector)
	if ref.Selector == d.page().advance && d.idx+1 < len(d.pages) {
		d.idx++
	}
	hook := d.onClick
	d.mu.Unlock()

	if hook != nil {
		hook(ref.Selector)
	}
	return nil
}

func (d *scriptedDriver) Fill(ctx context.Context, ref *schemas.ElementRef, text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fills[ref.Selector] = text
	return nil
}

func (d *scriptedDriver) SelectOption(ctx context.Context, ref *schemas.ElementRef, index int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.selects[ref.Selector] = index
	return nil
}

func (d *scriptedDriver) WaitForLoad(ctx context.Context, kind schemas.LoadKind, timeout time.Duration) error {
	return nil
}

func (d *scriptedDriver) Screenshot(ctx context.Context) ([]byte, error) { return nil, nil }
func (d *scriptedDriver) Focus(ctx context.Context) error               { return nil }
func (d *scriptedDriver) Close(ctx context.Context) error               { return nil }

func (d *scriptedDriver) clickedSelectors() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.clicks...)
}

func (d *scriptedDriver) filled(selector string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fills[selector]
}

func testConfig() *config.Config {
	return &config.Config{
		Browser: config.BrowserConfig{
			NavigationTimeout: 5 * time.Second,
		},
		Registry: config.RegistryConfig{
			MaxSessions:   4,
			IdleThreshold: time.Minute,
			EventBuffer:   8,
		},
		Orchestrator: config.OrchestratorConfig{
			MaxPages:         5,
			NavRetryAttempts: 1,
		},
		Learning: config.LearningConfig{Threshold: 5},
	}
}

// harness bundles an orchestrator with the real collaborator stack wired to a
// scripted driver.
type harness struct {
	orch  *orchestrator.Orchestrator
	store *learning.Store
	bus   *observability.Bus
	reg   *registry.Registry
}

func newHarness(t *testing.T, cfg *config.Config, drv schemas.Driver) *harness {
	t.Helper()
	logger := zaptest.NewLogger(t)

	bus := observability.NewBus(logger)
	t.Cleanup(bus.Close)

	reg := registry.New(cfg.Registry, logger, drv)
	store := learning.NewStore(nil, cfg.Learning.Threshold, logger)
	det := detector.New(logger, cfg.Orchestrator.QuestionSelectors)
	gen := responder.NewGenerator(logger, 1)

	orch, err := orchestrator.New(cfg, logger, bus, reg, det, gen, store, orchestrator.Collaborators{})
	if err != nil {
		t.Fatalf("failed to build orchestrator: %v", err)
	}
	return &harness{orch: orch, store: store, bus: bus, reg: reg}
}
