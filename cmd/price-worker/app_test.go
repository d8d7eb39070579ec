package main

import (
	"context"
	"testing"
	"time"

	"github.com/SnapPrice/PriceBox/config"
	"github.com/SnapPrice/PriceBox/internal/browser"
	"github.com/SnapPrice/PriceBox/internal/models"
	"github.com/SnapPrice/PriceBox/internal/pipeline"
	"github.com/SnapPrice/PriceBox/internal/queue"
	"github.com/SnapPrice/PriceBox/internal/scraper"
	"github.com/stretchr/testify/require"
)

type fakeStorage struct{}

func (s *fakeStorage) ListDueCandidates(ctx context.Context, now time.Time, errorLimit int32, limit int) ([]*models.DueCandidate, error) {
	return []*models.DueCandidate{}, nil
}

func (s *fakeStorage) GetItemByID(ctx context.Context, id uint64) (*models.TrackedItem, error) {
	return nil, nil
}

func (s *fakeStorage) UpdateRefetchInterval(ctx context.Context, itemID uint64, hours int) error {
	return nil
}

func (s *fakeStorage) SchedulerAggregates(ctx context.Context, now time.Time, errorLimit int32, highPriority int) (models.SchedulerAggregates, error) {
	return models.SchedulerAggregates{}, nil
}

func (s *fakeStorage) ApplyScrapeSuccess(ctx context.Context, itemID uint64, snap *models.ProductSnapshot, checkedAt time.Time) error {
	return nil
}

func (s *fakeStorage) ApplyScrapeFailure(ctx context.Context, itemID uint64, cause string, checkedAt time.Time) error {
	return nil
}

func (s *fakeStorage) AppendPricePoint(ctx context.Context, p *models.PriceHistoryPoint) error {
	return nil
}

func (s *fakeStorage) ListActiveAlertRules(ctx context.Context, itemID uint64) ([]*models.AlertRule, error) {
	return nil, nil
}

func (s *fakeStorage) MarkAlertTriggered(ctx context.Context, ruleID uint64, price float64, at time.Time, deactivate bool) error {
	return nil
}

func (s *fakeStorage) InsertAlertHistory(ctx context.Context, h *models.AlertHistory) error {
	return nil
}

type noopProducer struct{}

func (p noopProducer) Publish(ctx context.Context, topic string, key, value []byte) error { return nil }

type fakePool struct{}

func (p *fakePool) Start() error { return nil }
func (p *fakePool) Close()       {}
func (p *fakePool) Acquire(ctx context.Context) (browser.Page, error) {
	return nil, context.Canceled
}
func (p *fakePool) Release(browser.Page) {}
func (p *fakePool) MarkSuccess()         {}

func TestDefaultWorkerFactories_RenderClient(t *testing.T) {
	f := defaultWorkerFactories()

	require.Nil(t, f.newRenderClient(&config.Config{}))

	cfg := &config.Config{
		PriceBox: config.PriceBoxConfig{
			RenderAPIBaseURL: "http://localhost:9000",
			RenderAPIKey:     "k",
		},
	}
	require.NotNil(t, f.newRenderClient(cfg))
}

func TestDefaultWorkerFactories_ProducerAndLimiter_NonNil(t *testing.T) {
	f := defaultWorkerFactories()
	cfg := &config.Config{
		Kafka: config.KafkaConfig{Host: "localhost", Port: 9092},
		Redis: config.RedisConfig{Host: "localhost", Port: 6379},
	}
	require.NotNil(t, f.newProducer(cfg))
	require.NotNil(t, f.newRateLimiter(cfg))
	require.NotNil(t, f.newCache(cfg))
}

func TestDefaultRegistry_ResolvesIDs(t *testing.T) {
	reg, err := defaultRegistry()
	require.NoError(t, err)

	cases := []struct {
		url         string
		marketplace string
		id          string
	}{
		{"https://www.amazon.com/gp/product-title/dp/B0ABCD1234?ref=sr_1_1", models.MarketplaceAmazon, "B0ABCD1234"},
		{"https://www.ebay.com/itm/326123456789", models.MarketplaceEbay, "326123456789"},
		{"https://www.walmart.com/ip/some-gadget/5053452213", models.MarketplaceWalmart, "5053452213"},
		{"https://www.etsy.com/listing/1234567890/handmade-mug", models.MarketplaceEtsy, "1234567890"},
	}
	for _, tc := range cases {
		strat := reg.ForURL(tc.url)
		require.NotNil(t, strat, tc.url)
		require.Equal(t, tc.marketplace, strat.Marketplace())

		id, ok := strat.ResolveID(tc.url)
		require.True(t, ok, tc.url)
		require.Equal(t, tc.id, id)
	}

	require.Nil(t, reg.ForURL("https://example.org/product/1"))
}

func TestRunPriceWorker_ContextCanceled(t *testing.T) {
	calledClose := false

	f := workerFactories{
		newStorage: func(cfg *config.Config) (itemsStorage, func(), error) {
			return &fakeStorage{}, func() { calledClose = true }, nil
		},
		newProducer: func(cfg *config.Config) pipeline.Producer {
			return noopProducer{}
		},
		newRateLimiter: func(cfg *config.Config) queue.RateLimiter {
			return nil
		},
		newCache: func(cfg *config.Config) pipeline.BytesCache {
			return nil
		},
		newBrowserPool: func(cfg *config.Config) browserPool {
			return &fakePool{}
		},
		newRenderClient: func(cfg *config.Config) scraper.RenderClient {
			return nil
		},
	}

	cfg := &config.Config{
		Kafka: config.KafkaConfig{ScrapeCompletedTopicName: "t"},
		PriceBox: config.PriceBoxConfig{
			HTTPAddr:             "127.0.0.1:0",
			SchedulerTickSeconds: 1,
			QueueConcurrency:     1,
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := RunPriceWorker(ctx, cfg, f)
	require.ErrorIs(t, err, context.Canceled)
	require.True(t, calledClose)
}
