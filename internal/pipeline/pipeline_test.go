package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/SnapPrice/PriceBox/internal/broker/messages"
	"github.com/SnapPrice/PriceBox/internal/models"
	"github.com/stretchr/testify/require"
)

type triggeredCall struct {
	ruleID     uint64
	price      float64
	deactivate bool
}

type fakePipelineRepo struct {
	item    *models.TrackedItem
	getErr  error
	rules   []*models.AlertRule
	markErr map[uint64]error

	applied    []*models.ProductSnapshot
	failures   []string
	points     []*models.PriceHistoryPoint
	triggered  []triggeredCall
	history    []*models.AlertHistory
	getCalls   int
}

func (r *fakePipelineRepo) GetItemByID(ctx context.Context, id uint64) (*models.TrackedItem, error) {
	r.getCalls++
	if r.getErr != nil {
		return nil, r.getErr
	}
	return r.item, nil
}

func (r *fakePipelineRepo) ApplyScrapeSuccess(ctx context.Context, itemID uint64, snap *models.ProductSnapshot, checkedAt time.Time) error {
	r.applied = append(r.applied, snap)
	return nil
}

func (r *fakePipelineRepo) ApplyScrapeFailure(ctx context.Context, itemID uint64, cause string, checkedAt time.Time) error {
	r.failures = append(r.failures, cause)
	return nil
}

func (r *fakePipelineRepo) AppendPricePoint(ctx context.Context, p *models.PriceHistoryPoint) error {
	r.points = append(r.points, p)
	return nil
}

func (r *fakePipelineRepo) ListActiveAlertRules(ctx context.Context, itemID uint64) ([]*models.AlertRule, error) {
	return r.rules, nil
}

func (r *fakePipelineRepo) MarkAlertTriggered(ctx context.Context, ruleID uint64, price float64, at time.Time, deactivate bool) error {
	if err := r.markErr[ruleID]; err != nil {
		return err
	}
	r.triggered = append(r.triggered, triggeredCall{ruleID: ruleID, price: price, deactivate: deactivate})
	return nil
}

func (r *fakePipelineRepo) InsertAlertHistory(ctx context.Context, h *models.AlertHistory) error {
	r.history = append(r.history, h)
	return nil
}

type captureProducer struct {
	topic string
	key   []byte
	value []byte
	err   error
	calls int
}

func (p *captureProducer) Publish(ctx context.Context, topic string, key, value []byte) error {
	p.calls++
	p.topic = topic
	p.key = key
	p.value = value
	return p.err
}

type captureCache struct {
	key   string
	value []byte
	ttl   time.Duration
}

func (c *captureCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.key = key
	c.value = value
	c.ttl = ttl
	return nil
}

func item(id uint64, price *float64, availability string, lowest *float64) *models.TrackedItem {
	return &models.TrackedItem{
		ID:           id,
		Marketplace:  models.MarketplaceAmazon,
		ExternalID:   "B0ABCD1234",
		URL:          "https://www.amazon.com/dp/B0ABCD1234",
		CurrentPrice: price,
		Availability: availability,
		LowestPrice:  lowest,
	}
}

func TestRecordSuccess_AppliesAndAppendsAndPublishes(t *testing.T) {
	repo := &fakePipelineRepo{item: item(42, fptr(100), models.AvailabilityInStock, fptr(90))}
	prod := &captureProducer{}
	p := New(repo, prod, "scrape.completed")

	checkedAt := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	snap := &models.ProductSnapshot{Title: "Widget", Price: 95, Currency: "USD", Availability: models.AvailabilityInStock}

	require.NoError(t, p.RecordSuccess(context.Background(), 42, snap, checkedAt))

	require.Len(t, repo.applied, 1)
	require.Len(t, repo.points, 1)
	require.Equal(t, 95.0, repo.points[0].Price)
	require.Equal(t, checkedAt, repo.points[0].ObservedAt)

	require.Equal(t, 1, prod.calls)
	require.Equal(t, "scrape.completed", prod.topic)
	require.Equal(t, []byte("42"), prod.key)

	var msg messages.ScrapeCompleted
	require.NoError(t, json.Unmarshal(prod.value, &msg))
	require.Equal(t, uint64(42), msg.ItemID)
	require.Equal(t, 95.0, msg.Price)
	require.Equal(t, "Widget", msg.Title)
}

func TestRecordSuccess_PublishFailureIsSwallowed(t *testing.T) {
	repo := &fakePipelineRepo{item: item(42, nil, models.AvailabilityUnknown, nil)}
	prod := &captureProducer{err: errors.New("kafka down")}
	p := New(repo, prod, "scrape.completed")

	err := p.RecordSuccess(context.Background(), 42, &models.ProductSnapshot{Price: 10}, time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, repo.applied, 1)
	require.Len(t, repo.points, 1)
}

func TestRecordSuccess_ItemGone(t *testing.T) {
	repo := &fakePipelineRepo{}
	p := New(repo, &captureProducer{}, "t")

	err := p.RecordSuccess(context.Background(), 7, &models.ProductSnapshot{Price: 1}, time.Now().UTC())
	require.Error(t, err)
	require.Empty(t, repo.applied)
}

func TestRecordSuccess_NotifyOnceDeactivatesRule(t *testing.T) {
	repo := &fakePipelineRepo{
		item: item(42, fptr(100), models.AvailabilityInStock, fptr(80)),
		rules: []*models.AlertRule{
			{ID: 1, ItemID: 42, Kind: models.AlertKindPriceBelow, TargetPrice: fptr(90), NotifyOnce: true},
		},
	}
	p := New(repo, &captureProducer{}, "t")

	snap := &models.ProductSnapshot{Price: 85, Availability: models.AvailabilityInStock}
	require.NoError(t, p.RecordSuccess(context.Background(), 42, snap, time.Now().UTC()))

	require.Len(t, repo.triggered, 1)
	require.Equal(t, uint64(1), repo.triggered[0].ruleID)
	require.Equal(t, 85.0, repo.triggered[0].price)
	require.True(t, repo.triggered[0].deactivate)

	require.Len(t, repo.history, 1)
	require.Equal(t, 85.0, repo.history[0].NewPrice)
	require.Equal(t, 100.0, *repo.history[0].OldPrice)
}

func TestRecordSuccess_RepeatingRuleStaysActive(t *testing.T) {
	repo := &fakePipelineRepo{
		item: item(42, fptr(100), models.AvailabilityInStock, nil),
		rules: []*models.AlertRule{
			{ID: 2, ItemID: 42, Kind: models.AlertKindAnyChange, NotifyOnce: false},
		},
	}
	p := New(repo, &captureProducer{}, "t")

	snap := &models.ProductSnapshot{Price: 99, Availability: models.AvailabilityInStock}
	require.NoError(t, p.RecordSuccess(context.Background(), 42, snap, time.Now().UTC()))

	require.Len(t, repo.triggered, 1)
	require.False(t, repo.triggered[0].deactivate)
}

func TestRecordSuccess_RuleFailureDoesNotBlockSiblings(t *testing.T) {
	repo := &fakePipelineRepo{
		item: item(42, fptr(100), models.AvailabilityInStock, nil),
		rules: []*models.AlertRule{
			{ID: 1, ItemID: 42, Kind: models.AlertKindPriceBelow, TargetPrice: fptr(90)},
			{ID: 2, ItemID: 42, Kind: models.AlertKindAnyChange},
		},
		markErr: map[uint64]error{1: errors.New("pg deadlock")},
	}
	p := New(repo, &captureProducer{}, "t")

	snap := &models.ProductSnapshot{Price: 85, Availability: models.AvailabilityInStock}
	require.NoError(t, p.RecordSuccess(context.Background(), 42, snap, time.Now().UTC()))

	require.Len(t, repo.triggered, 1)
	require.Equal(t, uint64(2), repo.triggered[0].ruleID)
	// history only for the rule that committed its trigger
	require.Len(t, repo.history, 1)
	require.Equal(t, uint64(2), repo.history[0].RuleID)
}

func TestRecordSuccess_AllTimeLowUsesPreUpdateLowest(t *testing.T) {
	repo := &fakePipelineRepo{
		item: item(42, fptr(55), models.AvailabilityInStock, fptr(50.00)),
		rules: []*models.AlertRule{
			{ID: 3, ItemID: 42, Kind: models.AlertKindAllTimeLow},
		},
	}
	p := New(repo, &captureProducer{}, "t")

	snap := &models.ProductSnapshot{Price: 49.99, Availability: models.AvailabilityInStock}
	require.NoError(t, p.RecordSuccess(context.Background(), 42, snap, time.Now().UTC()))

	require.Len(t, repo.triggered, 1)
	require.Equal(t, uint64(3), repo.triggered[0].ruleID)
}

func TestRecordSuccess_BackInStock(t *testing.T) {
	repo := &fakePipelineRepo{
		item: item(42, fptr(55), models.AvailabilityOutOfStock, nil),
		rules: []*models.AlertRule{
			{ID: 4, ItemID: 42, Kind: models.AlertKindBackInStock},
		},
	}
	p := New(repo, &captureProducer{}, "t")

	snap := &models.ProductSnapshot{Price: 55, Availability: models.AvailabilityInStock}
	require.NoError(t, p.RecordSuccess(context.Background(), 42, snap, time.Now().UTC()))
	require.Len(t, repo.triggered, 1)
}

func TestRecordSuccess_CachesCurrentState(t *testing.T) {
	repo := &fakePipelineRepo{item: item(42, fptr(100), models.AvailabilityInStock, nil)}
	cache := &captureCache{}
	p := New(repo, &captureProducer{}, "t").WithCache(cache, 10*time.Minute)

	snap := &models.ProductSnapshot{Price: 95, Availability: models.AvailabilityInStock}
	require.NoError(t, p.RecordSuccess(context.Background(), 42, snap, time.Now().UTC()))

	require.Equal(t, "item:42:current", cache.key)
	require.Equal(t, 10*time.Minute, cache.ttl)
	require.NotEmpty(t, cache.value)
	// cache write re-reads the item so it carries post-apply state
	require.Equal(t, 2, repo.getCalls)
}

func TestRecordFailure_Delegates(t *testing.T) {
	repo := &fakePipelineRepo{}
	p := New(repo, &captureProducer{}, "t")

	require.NoError(t, p.RecordFailure(context.Background(), 42, "BLOCK_DETECTED: captcha", time.Now().UTC()))
	require.Equal(t, []string{"BLOCK_DETECTED: captcha"}, repo.failures)
}
