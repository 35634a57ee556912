// api/schemas/interfaces.go
// Collaborator contracts consumed by the core. The orchestrator and registry
// are injected with these interfaces, never with concrete driver types, which
// keeps them decoupled and testable (the chromedp adapter lives in
// internal/browser).
package schemas

import (
	"context"
	"time"
)

// LoadKind selects what WaitForLoad should wait for.
type LoadKind string

const (
	LoadNetworkIdle   LoadKind = "network_idle"
	LoadContentLoaded LoadKind = "content_loaded"
)

// ElementRef is an opaque handle to a located element. The driver that
// produced it is the only component that can act on it.
type ElementRef struct {
	Selector string
	NodeID   int64
	Visible  bool
	Text     string
}

// Driver is the per-tab browser automation contract. Every method honors the
// passed context; blocking operations carry explicit timeouts.
type Driver interface {
	Navigate(ctx context.Context, url string, timeout time.Duration) error
	CurrentURL(ctx context.Context) (string, error)
	Title(ctx context.Context) (string, error)
	// PageSource returns an HTML snapshot of the current DOM.
	PageSource(ctx context.Context) (string, error)
	Evaluate(ctx context.Context, script string, out any) error
	// Query returns nil (not an error) when no element matches.
	Query(ctx context.Context, selector string) (*ElementRef, error)
	QueryAll(ctx context.Context, selector string) ([]*ElementRef, error)
	Click(ctx context.Context, ref *ElementRef) error
	Fill(ctx context.Context, ref *ElementRef, text string) error
	SelectOption(ctx context.Context, ref *ElementRef, index int) error
	WaitForLoad(ctx context.Context, kind LoadKind, timeout time.Duration) error
	Screenshot(ctx context.Context) ([]byte, error)
	Focus(ctx context.Context) error
	Close(ctx context.Context) error
}

// NewTargetEvent is delivered asynchronously when the browser spawns a new
// tab/window/popup. Consumers must never mutate registry state from the
// delivery goroutine; events are drained by the registry's owner loop.
type NewTargetEvent struct {
	TargetID  string
	URL       string
	OpenerID  string
	Driver    Driver
	Timestamp time.Time
}

// TargetNotifier exposes the browser-level subscription for new sessions.
type TargetNotifier interface {
	// NewTargets returns a bounded channel of popup/window/redirect events.
	NewTargets() <-chan NewTargetEvent
}

// AIResponder is the optional AI-backed question answering collaborator.
type AIResponder interface {
	ClassifyQuestion(ctx context.Context, q Question) (Question, error)
	GenerateResponse(ctx context.Context, q Question) (Response, error)
}

// BehavioralController is the optional anti-detection mimicry collaborator.
type BehavioralController interface {
	InteractWithQuestion(ctx context.Context, d Driver, q Question, r Response) error
	ClickElement(ctx context.Context, d Driver, ref *ElementRef) error
	NavigateStealthily(ctx context.Context, d Driver, url string) error
}

// ChallengeSolver is the optional challenge (captcha etc.) collaborator.
type ChallengeSolver interface {
	Solve(ctx context.Context, d Driver, ref *ElementRef) (bool, error)
}
