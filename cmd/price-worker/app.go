package main

import (
	"context"
	"fmt"
	"time"

	"github.com/SnapPrice/PriceBox/config"
	"github.com/SnapPrice/PriceBox/internal/broker/kafka"
	"github.com/SnapPrice/PriceBox/internal/browser"
	"github.com/SnapPrice/PriceBox/internal/cache/rediscache"
	"github.com/SnapPrice/PriceBox/internal/extract"
	"github.com/SnapPrice/PriceBox/internal/models"
	"github.com/SnapPrice/PriceBox/internal/pipeline"
	"github.com/SnapPrice/PriceBox/internal/queue"
	"github.com/SnapPrice/PriceBox/internal/renderapi"
	"github.com/SnapPrice/PriceBox/internal/scheduler"
	"github.com/SnapPrice/PriceBox/internal/scraper"
	"github.com/SnapPrice/PriceBox/internal/storage/pgitems"
)

// itemsStorage is everything the worker needs from Postgres: the
// scheduler's due-candidate view and the pipeline's apply surface.
type itemsStorage interface {
	scheduler.Repository
	pipeline.Repository
}

// browserPool is the shared page pool the executor scrapes with and the
// queue owns the lifecycle of.
type browserPool interface {
	browser.Pool
	queue.Resources
}

type workerFactories struct {
	newStorage      func(cfg *config.Config) (st itemsStorage, closeFn func(), err error)
	newProducer     func(cfg *config.Config) pipeline.Producer
	newRateLimiter  func(cfg *config.Config) queue.RateLimiter
	newCache        func(cfg *config.Config) pipeline.BytesCache
	newBrowserPool  func(cfg *config.Config) browserPool
	newRenderClient func(cfg *config.Config) scraper.RenderClient
}

func defaultWorkerFactories() workerFactories {
	return workerFactories{
		newStorage: func(cfg *config.Config) (itemsStorage, func(), error) {
			sslMode := cfg.Database.SSLMode
			if sslMode == "" {
				sslMode = "disable"
			}
			connString := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
				cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
			st, err := pgitems.New(connString)
			if err != nil {
				return nil, nil, err
			}
			return st, st.Close, nil
		},
		newProducer: func(cfg *config.Config) pipeline.Producer {
			brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
			return kafka.NewProducer(brokers)
		},
		newRateLimiter: func(cfg *config.Config) queue.RateLimiter {
			redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
			return rediscache.NewRateLimiter(redisAddr)
		},
		newCache: func(cfg *config.Config) pipeline.BytesCache {
			redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
			return rediscache.New(redisAddr)
		},
		newBrowserPool: func(cfg *config.Config) browserPool {
			headless := true
			if cfg.PriceBox.BrowserHeadless != nil {
				headless = *cfg.PriceBox.BrowserHeadless
			}
			return browser.NewRodPool(browser.RodPoolConfig{
				BinPath:     cfg.PriceBox.BrowserBinPath,
				Headless:    headless,
				ProxyURL:    cfg.PriceBox.BrowserProxyURL,
				PoolSize:    cfg.PriceBox.BrowserPoolSize,
				NavTimeout:  time.Duration(cfg.PriceBox.NavigationTimeoutSecs) * time.Second,
				ContentWait: time.Duration(cfg.PriceBox.ContentWaitMillis) * time.Millisecond,
			})
		},
		newRenderClient: func(cfg *config.Config) scraper.RenderClient {
			if cfg.PriceBox.RenderAPIBaseURL == "" {
				return nil
			}
			return renderapi.New(cfg.PriceBox.RenderAPIBaseURL, cfg.PriceBox.RenderAPIKey)
		},
	}
}

// defaultRegistry wires one structured-data strategy per supported
// marketplace. All of them read JSON-LD first and OpenGraph meta second, so
// a new marketplace is hosts plus an id pattern, not a new parser.
func defaultRegistry() (*extract.Registry, error) {
	amazon, err := extract.NewStructuredDataStrategy(models.MarketplaceAmazon,
		[]string{"amazon.com", "amazon.co.uk", "amazon.de", "amazon.fr", "amazon.ca"},
		`/dp/([A-Z0-9]{10})`)
	if err != nil {
		return nil, err
	}
	ebay, err := extract.NewStructuredDataStrategy(models.MarketplaceEbay,
		[]string{"ebay.com", "ebay.co.uk", "ebay.de"},
		`/itm/(?:[^/]+/)?([0-9]{9,14})`)
	if err != nil {
		return nil, err
	}
	walmart, err := extract.NewStructuredDataStrategy(models.MarketplaceWalmart,
		[]string{"walmart.com"},
		`/ip/(?:[^/]+/)?([0-9]{6,12})`)
	if err != nil {
		return nil, err
	}
	etsy, err := extract.NewStructuredDataStrategy(models.MarketplaceEtsy,
		[]string{"etsy.com"},
		`/listing/([0-9]{6,14})`)
	if err != nil {
		return nil, err
	}
	return extract.NewRegistry(amazon, ebay, walmart, etsy), nil
}

func RunPriceWorker(ctx context.Context, cfg *config.Config, f workerFactories) error {
	topic := cfg.Kafka.ScrapeCompletedTopicName
	if topic == "" {
		topic = "scrape.completed"
	}

	tick := time.Duration(cfg.PriceBox.SchedulerTickSeconds) * time.Second
	if tick <= 0 {
		tick = 5 * time.Minute
	}
	batchSize := cfg.PriceBox.SchedulerBatchSize
	if batchSize <= 0 {
		batchSize = 500
	}
	concurrency := cfg.PriceBox.QueueConcurrency
	if concurrency <= 0 {
		concurrency = 8
	}
	maxAttempts := cfg.PriceBox.QueueMaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	backoffBase := time.Duration(cfg.PriceBox.QueueBackoffBaseMs) * time.Millisecond
	if backoffBase <= 0 {
		backoffBase = 2 * time.Second
	}
	rlPerMin := cfg.PriceBox.RateLimitPerMinute
	if rlPerMin <= 0 {
		rlPerMin = 60
	}
	currentTTL := time.Duration(cfg.PriceBox.CurrentItemTTLSeconds) * time.Second
	if currentTTL <= 0 {
		currentTTL = 10 * time.Minute
	}

	st, closeFn, err := f.newStorage(cfg)
	if err != nil {
		return err
	}
	if closeFn != nil {
		defer closeFn()
	}

	registry, err := defaultRegistry()
	if err != nil {
		return err
	}

	pool := f.newBrowserPool(cfg)
	exec := scraper.NewExecutor(pool, registry).
		WithExtraBlockMarkers(cfg.PriceBox.ExtraBlockMarkers)
	if rc := f.newRenderClient(cfg); rc != nil {
		exec.WithRenderAPI(rc, cfg.PriceBox.RenderPreferredMarketplaces).
			WithCountries(cfg.PriceBox.RenderCountries)
	}

	pipe := pipeline.New(st, f.newProducer(cfg), topic).
		WithCache(f.newCache(cfg), currentTTL)

	q := queue.New(exec, pipe, f.newRateLimiter(cfg), pool).
		WithRetryPolicy(maxAttempts, backoffBase).
		WithRateCeilings(rlPerMin, cfg.PriceBox.MarketplaceRatePerMinute)

	sched := scheduler.New(st, q).WithSettings(tick, batchSize)

	if err := q.Start(ctx, concurrency); err != nil {
		return err
	}
	defer q.Stop()

	if err := sched.Start(ctx); err != nil {
		return err
	}
	defer sched.Stop()

	httpErr := make(chan error, 1)
	go func() {
		httpErr <- runWorkerHTTPServer(ctx, workerHTTPOpts{
			httpAddr:    cfg.PriceBox.HTTPAddr,
			swaggerPath: cfg.PriceBox.SwaggerPath,
			scheduler:   sched,
			queue:       q,
			cfg:         cfg,
		})
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-httpErr:
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
}
