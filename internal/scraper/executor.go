// Package scraper performs exactly one fetch-and-extract attempt per call.
// Two execution paths sit behind one outcome contract: the external
// rendering API (preferred for hostile marketplaces) and direct headless
// navigation.
package scraper

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/SnapPrice/PriceBox/internal/browser"
	"github.com/SnapPrice/PriceBox/internal/extract"
	"github.com/SnapPrice/PriceBox/internal/models"
)

// Block indicators scanned case-insensitively in rendered page content.
var defaultBlockMarkers = []string{
	"captcha",
	"blocked",
	"unusual traffic",
	"access denied",
	"too many requests",
}

type RenderClient interface {
	Render(ctx context.Context, url, country string) (string, error)
}

// Outcome is the typed result of one attempt. Exactly one of Snapshot/Err
// is set.
type Outcome struct {
	OK       bool
	Snapshot *models.ProductSnapshot
	Err      *ScrapeError
	Elapsed  time.Duration
}

type Executor struct {
	pool     browser.Pool
	registry *extract.Registry

	render          RenderClient
	renderPreferred map[string]bool
	countries       map[string]string

	blockMarkers []string
}

func NewExecutor(pool browser.Pool, registry *extract.Registry) *Executor {
	return &Executor{
		pool:            pool,
		registry:        registry,
		renderPreferred: map[string]bool{},
		countries:       map[string]string{},
		blockMarkers:    defaultBlockMarkers,
	}
}

// WithRenderAPI enables the rendering-API path for the given marketplaces.
func (e *Executor) WithRenderAPI(client RenderClient, marketplaces []string) *Executor {
	e.render = client
	for _, m := range marketplaces {
		e.renderPreferred[m] = true
	}
	return e
}

func (e *Executor) WithCountries(countries map[string]string) *Executor {
	for m, c := range countries {
		e.countries[m] = c
	}
	return e
}

func (e *Executor) WithExtraBlockMarkers(markers []string) *Executor {
	for _, m := range markers {
		if m = strings.ToLower(strings.TrimSpace(m)); m != "" {
			e.blockMarkers = append(e.blockMarkers, m)
		}
	}
	return e
}

// Execute runs one attempt for one product URL. It never retries and never
// panics past its boundary; every path returns a typed outcome.
func (e *Executor) Execute(ctx context.Context, url, marketplace string) Outcome {
	start := time.Now()

	strat := e.registry.ForURL(url)
	if strat == nil {
		strat = e.registry.ForMarketplace(marketplace)
	}
	if strat == nil {
		return e.fail(start, NewError(KindNoStrategy, "url matches no known marketplace: "+url))
	}

	if e.render != nil && e.renderPreferred[marketplace] {
		snap, serr := e.executeRendered(ctx, strat, url, marketplace)
		if serr == nil {
			e.pool.MarkSuccess()
			return Outcome{OK: true, Snapshot: snap, Elapsed: time.Since(start)}
		}
		// The rendering API is faster and less detectable but not always
		// available; fall through to direct navigation.
		slog.Warn("render api path failed, falling back",
			"marketplace", marketplace, "url", url, "error", serr.Error())
	}

	snap, serr := e.executeDirect(ctx, strat, url)
	if serr != nil {
		return e.fail(start, serr)
	}
	e.pool.MarkSuccess()
	return Outcome{OK: true, Snapshot: snap, Elapsed: time.Since(start)}
}

func (e *Executor) executeRendered(ctx context.Context, strat extract.Strategy, url, marketplace string) (*models.ProductSnapshot, *ScrapeError) {
	html, err := e.render.Render(ctx, url, e.countries[marketplace])
	if err != nil {
		return nil, wrapError(KindUpstreamAPIFailed, err, "render api")
	}

	page, err := e.pool.Acquire(ctx)
	if err != nil {
		return nil, wrapError(KindInternal, err, "acquire page")
	}
	defer e.pool.Release(page)

	// The page is used purely for structured parsing here; no navigation.
	if err := page.SetContent(ctx, html); err != nil {
		return nil, wrapError(KindInternal, err, "load rendered markup")
	}
	snap, err := strat.Extract(ctx, page, url)
	if err != nil {
		return nil, wrapError(KindExtractionFailed, err, "extract (rendered)")
	}
	return snap, nil
}

func (e *Executor) executeDirect(ctx context.Context, strat extract.Strategy, url string) (*models.ProductSnapshot, *ScrapeError) {
	page, err := e.pool.Acquire(ctx)
	if err != nil {
		return nil, wrapError(KindInternal, err, "acquire page")
	}
	defer e.pool.Release(page)

	if err := page.Navigate(ctx, url); err != nil {
		return nil, wrapError(KindNavigationTimeout, err, "navigate")
	}
	if err := page.WaitReady(ctx); err != nil {
		return nil, wrapError(KindNavigationTimeout, err, "wait for content")
	}

	html, err := page.HTML(ctx)
	if err != nil {
		return nil, wrapError(KindInternal, err, "read page content")
	}
	if marker, blocked := e.detectBlock(html); blocked {
		return nil, NewError(KindBlockDetected, "block indicator "+marker+" found in page")
	}

	snap, err := strat.Extract(ctx, page, url)
	if err != nil {
		return nil, wrapError(KindExtractionFailed, err, "extract")
	}
	return snap, nil
}

func (e *Executor) detectBlock(html string) (string, bool) {
	lower := strings.ToLower(html)
	for _, marker := range e.blockMarkers {
		if strings.Contains(lower, marker) {
			return marker, true
		}
	}
	return "", false
}

func (e *Executor) fail(start time.Time, serr *ScrapeError) Outcome {
	return Outcome{Err: serr, Elapsed: time.Since(start)}
}
