// Package browser provides the shared headless-browser page pool leased to
// scrape workers. Pool size is the hard ceiling on concurrent renders
// regardless of worker concurrency.
package browser

import "context"

// Page is one leased browser page. Implementations must be returned to the
// pool via Release on every exit path.
type Page interface {
	// Navigate loads the URL and waits for the load event.
	Navigate(ctx context.Context, url string) error
	// WaitReady gives dynamic content a short window to settle.
	WaitReady(ctx context.Context) error
	// SetContent replaces the document with pre-rendered markup, used when
	// HTML came from the rendering API and the page only does parsing.
	SetContent(ctx context.Context, html string) error
	// HTML returns the current serialized document.
	HTML(ctx context.Context) (string, error)
}

// Pool leases pages to workers. MarkSuccess feeds the session-health signal
// used by proxy/session rotation heuristics.
type Pool interface {
	Acquire(ctx context.Context) (Page, error)
	Release(p Page)
	MarkSuccess()
}
