// internal/browser/manager.go
package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/pollflow-cli/api/schemas"
	"github.com/xkilldash9x/pollflow-cli/internal/config"
)

const shutdownGracePeriod = 15 * time.Second

// Manager owns the Chrome process and hands out Tab drivers. New targets the
// page spawns (popups, window.open, target=_blank) are attached automatically
// and announced on the NewTargets channel; the consumer decides whether to
// track them.
type Manager struct {
	cfg    *config.Config
	logger *zap.Logger

	allocCtx      context.Context
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc

	// Shared across all tabs so the whole browser stays under one action
	// budget, not one budget per tab.
	limiter *rate.Limiter

	events chan schemas.NewTargetEvent

	mu   sync.Mutex
	tabs map[target.ID]*Tab
	wg   sync.WaitGroup

	startOnce sync.Once
	startErr  error
}

var _ schemas.TargetNotifier = (*Manager)(nil)

// NewManager creates a browser manager. The browser process launches lazily
// on Start.
func NewManager(cfg *config.Config, logger *zap.Logger) *Manager {
	var limiter *rate.Limiter
	if cfg.Browser.ActionsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.Browser.ActionsPerSecond), 1)
	}
	return &Manager{
		cfg:     cfg,
		logger:  logger.Named("browser"),
		limiter: limiter,
		events:  make(chan schemas.NewTargetEvent, 16),
		tabs:    make(map[target.ID]*Tab),
	}
}

// NewTargets implements schemas.TargetNotifier.
func (m *Manager) NewTargets() <-chan schemas.NewTargetEvent {
	return m.events
}

// Start launches Chrome, opens the main tab, and begins watching for new
// targets. It returns the main tab's driver.
func (m *Manager) Start(ctx context.Context) (schemas.Driver, error) {
	var mainTab *Tab
	m.startOnce.Do(func() {
		mainTab, m.startErr = m.launch(ctx)
	})
	if m.startErr != nil {
		return nil, m.startErr
	}
	if mainTab == nil {
		return nil, fmt.Errorf("browser manager already started")
	}
	return mainTab, nil
}

func (m *Manager) launch(ctx context.Context) (*Tab, error) {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", m.cfg.Browser.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if m.cfg.Browser.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(m.cfg.Browser.UserAgent))
	}
	if m.cfg.Browser.IgnoreTLSErrors {
		opts = append(opts, chromedp.Flag("ignore-certificate-errors", true))
	}

	m.allocCtx, m.allocCancel = chromedp.NewExecAllocator(ctx, opts...)
	m.browserCtx, m.browserCancel = chromedp.NewContext(m.allocCtx,
		chromedp.WithLogf(func(format string, args ...any) {
			m.logger.Debug(fmt.Sprintf(format, args...))
		}))

	// The first Run launches the process and connects the main target.
	if err := chromedp.Run(m.browserCtx); err != nil {
		m.teardownContexts()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	mainTab := m.wrapTab(m.browserCtx, m.browserCancel)
	if mainInfo := chromedp.FromContext(m.browserCtx).Target; mainInfo != nil {
		m.mu.Lock()
		m.tabs[mainInfo.TargetID] = mainTab
		m.mu.Unlock()
	}

	if err := chromedp.Run(m.browserCtx, chromedp.ActionFunc(func(c context.Context) error {
		return target.SetDiscoverTargets(true).Do(c)
	})); err != nil {
		m.teardownContexts()
		return nil, fmt.Errorf("failed to enable target discovery: %w", err)
	}
	chromedp.ListenBrowser(m.browserCtx, m.onBrowserEvent)

	m.logger.Info("Browser launched",
		zap.Bool("headless", m.cfg.Browser.Headless))
	return mainTab, nil
}

// onBrowserEvent runs on chromedp's event goroutine and must not block: it
// attaches a driver to the new target and enqueues the announcement, dropping
// it when the consumer is behind.
func (m *Manager) onBrowserEvent(ev any) {
	created, ok := ev.(*target.EventTargetCreated)
	if !ok || created.TargetInfo == nil || created.TargetInfo.Type != "page" {
		return
	}
	info := created.TargetInfo

	m.mu.Lock()
	if _, known := m.tabs[info.TargetID]; known {
		m.mu.Unlock()
		return
	}
	tabCtx, tabCancel := chromedp.NewContext(m.browserCtx, chromedp.WithTargetID(info.TargetID))
	tab := m.wrapTab(tabCtx, tabCancel)
	m.tabs[info.TargetID] = tab
	m.mu.Unlock()

	evt := schemas.NewTargetEvent{
		TargetID:  string(info.TargetID),
		URL:       info.URL,
		OpenerID:  string(info.OpenerID),
		Driver:    tab,
		Timestamp: time.Now(),
	}
	select {
	case m.events <- evt:
	default:
		m.logger.Warn("New-target channel full, dropping target announcement",
			zap.String("url", info.URL))
	}
}

func (m *Manager) wrapTab(tabCtx context.Context, cancel context.CancelFunc) *Tab {
	tab := newTab(tabCtx, cancel, m.logger, m.limiter, m.cfg.Browser.PostLoadWait)
	m.wg.Add(1)
	tab.onClose = func() {
		m.mu.Lock()
		for id, t := range m.tabs {
			if t == tab {
				delete(m.tabs, id)
				break
			}
		}
		m.mu.Unlock()
		m.wg.Done()
	}
	return tab
}

func (m *Manager) teardownContexts() {
	if m.browserCancel != nil {
		m.browserCancel()
	}
	if m.allocCancel != nil {
		m.allocCancel()
	}
}

// Shutdown closes every tab and then the browser process, bounded by ctx and
// a grace period.
func (m *Manager) Shutdown(ctx context.Context) error {
	if m.browserCtx == nil {
		return nil
	}
	m.logger.Info("Shutting down browser")

	m.mu.Lock()
	open := make([]*Tab, 0, len(m.tabs))
	for _, t := range m.tabs {
		open = append(open, t)
	}
	m.mu.Unlock()

	for _, t := range open {
		go func(t *Tab) {
			if err := t.Close(ctx); err != nil {
				m.logger.Debug("Tab close failed during shutdown", zap.Error(err))
			}
		}(t)
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		m.logger.Warn("Timed out waiting for tabs to close, forcing shutdown")
	case <-time.After(shutdownGracePeriod):
		m.logger.Warn("Shutdown grace period elapsed, forcing shutdown")
	}

	m.teardownContexts()
	return nil
}
