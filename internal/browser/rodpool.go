package browser

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/pkg/errors"
)

const defaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/118.0.0.0 Safari/537.36"

type RodPoolConfig struct {
	BinPath     string
	Headless    bool
	ProxyURL    string
	PoolSize    int           // default: 4
	NavTimeout  time.Duration // default: 30s
	ContentWait time.Duration // default: 2s
	UserAgent   string
}

// RodPool keeps a fixed set of stealth pages on one shared browser process.
// Pages are created lazily up to PoolSize and recycled between leases.
type RodPool struct {
	cfg      RodPoolConfig
	browser  *rod.Browser
	launched *launcher.Launcher

	mu      sync.Mutex
	created int
	closed  bool
	idle    chan *rodPage

	successes atomic.Int64
}

func NewRodPool(cfg RodPoolConfig) *RodPool {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 4
	}
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = 30 * time.Second
	}
	if cfg.ContentWait <= 0 {
		cfg.ContentWait = 2 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	return &RodPool{
		cfg:  cfg,
		idle: make(chan *rodPage, cfg.PoolSize),
	}
}

// Start launches (or downloads) the browser binary and connects to it.
func (p *RodPool) Start() error {
	bin := p.cfg.BinPath
	if bin == "" {
		slog.Info("no browser binary specified, downloading default")
		path, err := launcher.NewBrowser().Get()
		if err != nil {
			return errors.Wrap(err, "download browser")
		}
		bin = path
	}

	l := launcher.New().
		Headless(p.cfg.Headless).
		Bin(bin).
		NoSandbox(true).
		Set("remote-allow-origins", "*")
	if p.cfg.ProxyURL != "" {
		l = l.Proxy(p.cfg.ProxyURL)
	}

	url, err := l.Launch()
	if err != nil {
		return errors.Wrap(err, "launch browser")
	}

	b := rod.New().ControlURL(url)
	if err := b.Connect(); err != nil {
		return errors.Wrap(err, "connect browser")
	}

	p.launched = l
	p.browser = b
	slog.Info("browser started", "bin", bin, "pool_size", p.cfg.PoolSize)
	return nil
}

func (p *RodPool) Acquire(ctx context.Context) (Page, error) {
	select {
	case pg, ok := <-p.idle:
		if !ok {
			return nil, errors.New("browser pool closed")
		}
		return pg, nil
	default:
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, errors.New("browser pool closed")
	}
	if p.created < p.cfg.PoolSize {
		p.created++
		p.mu.Unlock()
		pg, err := p.newPage()
		if err != nil {
			p.mu.Lock()
			p.created--
			p.mu.Unlock()
			return nil, err
		}
		return pg, nil
	}
	p.mu.Unlock()

	// Pool exhausted: block until a worker returns a page.
	select {
	case pg, ok := <-p.idle:
		if !ok {
			return nil, errors.New("browser pool closed")
		}
		return pg, nil
	case <-ctx.Done():
		return nil, errors.Wrap(ctx.Err(), "acquire page")
	}
}

func (p *RodPool) Release(pg Page) {
	rp, ok := pg.(*rodPage)
	if !ok || rp == nil {
		return
	}
	// The closed check and the send share the lock so a racing Close cannot
	// shut the channel between them.
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		rp.discard()
		return
	}
	select {
	case p.idle <- rp:
	default:
		// Pool is already full (double release); drop the page.
		rp.discard()
	}
}

func (p *RodPool) MarkSuccess() {
	p.successes.Add(1)
}

// Successes reports the session-health counter consumed by rotation
// heuristics outside this package.
func (p *RodPool) Successes() int64 {
	return p.successes.Load()
}

func (p *RodPool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	close(p.idle)
	for pg := range p.idle {
		pg.discard()
	}
	if p.browser != nil {
		_ = p.browser.Close()
	}
	if p.launched != nil {
		p.launched.Cleanup()
	}
}

func (p *RodPool) newPage() (*rodPage, error) {
	page, err := stealth.Page(p.browser)
	if err != nil {
		return nil, errors.Wrap(err, "create stealth page")
	}
	if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: p.cfg.UserAgent}); err != nil {
		return nil, errors.Wrap(err, "set user agent")
	}
	return &rodPage{page: page, navTimeout: p.cfg.NavTimeout, contentWait: p.cfg.ContentWait}, nil
}

type rodPage struct {
	page        *rod.Page
	navTimeout  time.Duration
	contentWait time.Duration
}

func (rp *rodPage) discard() {
	if rp.page != nil {
		_ = rp.page.Close()
	}
}

func (rp *rodPage) Navigate(ctx context.Context, url string) error {
	pg := rp.page.Context(ctx).Timeout(rp.navTimeout)
	if err := pg.Navigate(url); err != nil {
		return errors.Wrap(err, "navigate")
	}
	if err := pg.WaitLoad(); err != nil {
		return errors.Wrap(err, "wait load")
	}
	return nil
}

func (rp *rodPage) WaitReady(ctx context.Context) error {
	select {
	case <-time.After(rp.contentWait):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (rp *rodPage) SetContent(ctx context.Context, html string) error {
	if err := rp.page.Context(ctx).SetDocumentContent(html); err != nil {
		return errors.Wrap(err, "set document content")
	}
	return nil
}

func (rp *rodPage) HTML(ctx context.Context) (string, error) {
	html, err := rp.page.Context(ctx).HTML()
	if err != nil {
		return "", errors.Wrap(err, "page html")
	}
	return html, nil
}
