package registry

import (
	"context"
	"sync"
	"time"

	"github.com/xkilldash9x/pollflow-cli/api/schemas"
)

// fakeDriver is an in-memory schemas.Driver serving canned page state.
type fakeDriver struct {
	mu     sync.Mutex
	url    string
	title  string
	source string

	closed   bool
	focusErr error
	pageErr  error
}

var _ schemas.Driver = (*fakeDriver)(nil)

func newFakeDriver(url, title, source string) *fakeDriver {
	return &fakeDriver{url: url, title: title, source: source}
}

func (d *fakeDriver) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.url = url
	return nil
}

func (d *fakeDriver) CurrentURL(ctx context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.url, d.pageErr
}

func (d *fakeDriver) Title(ctx context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.title, d.pageErr
}

func (d *fakeDriver) PageSource(ctx context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.source, d.pageErr
}

func (d *fakeDriver) Evaluate(ctx context.Context, script string, out any) error { return nil }

func (d *fakeDriver) Query(ctx context.Context, selector string) (*schemas.ElementRef, error) {
	return nil, nil
}

func (d *fakeDriver) QueryAll(ctx context.Context, selector string) ([]*schemas.ElementRef, error) {
	return nil, nil
}

func (d *fakeDriver) Click(ctx context.Context, ref *schemas.ElementRef) error { return nil }

func (d *fakeDriver) Fill(ctx context.Context, ref *schemas.ElementRef, text string) error {
	return nil
}

func (d *fakeDriver) SelectOption(ctx context.Context, ref *schemas.ElementRef, index int) error {
	return nil
}

func (d *fakeDriver) WaitForLoad(ctx context.Context, kind schemas.LoadKind, timeout time.Duration) error {
	return nil
}

func (d *fakeDriver) Screenshot(ctx context.Context) ([]byte, error) { return nil, nil }

func (d *fakeDriver) Focus(ctx context.Context) error { return d.focusErr }

func (d *fakeDriver) Close(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func (d *fakeDriver) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}
