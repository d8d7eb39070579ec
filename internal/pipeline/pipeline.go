// Package pipeline turns one scrape outcome into durable state: item
// updates, an append-only price-history point, alert rule evaluation, and a
// best-effort completion notification.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/SnapPrice/PriceBox/internal/broker/messages"
	"github.com/SnapPrice/PriceBox/internal/metrics"
	"github.com/SnapPrice/PriceBox/internal/models"
	"github.com/pkg/errors"
)

type Repository interface {
	GetItemByID(ctx context.Context, id uint64) (*models.TrackedItem, error)
	ApplyScrapeSuccess(ctx context.Context, itemID uint64, snap *models.ProductSnapshot, checkedAt time.Time) error
	ApplyScrapeFailure(ctx context.Context, itemID uint64, cause string, checkedAt time.Time) error
	AppendPricePoint(ctx context.Context, p *models.PriceHistoryPoint) error
	ListActiveAlertRules(ctx context.Context, itemID uint64) ([]*models.AlertRule, error)
	MarkAlertTriggered(ctx context.Context, ruleID uint64, price float64, at time.Time, deactivate bool) error
	InsertAlertHistory(ctx context.Context, h *models.AlertHistory) error
}

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

type BytesCache interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

type Pipeline struct {
	repo     Repository
	producer Producer
	topic    string

	cache      BytesCache
	currentTTL time.Duration
}

func New(repo Repository, producer Producer, topic string) *Pipeline {
	return &Pipeline{repo: repo, producer: producer, topic: topic}
}

// WithCache enables the best-effort current-state cache the read tier
// consumes.
func (p *Pipeline) WithCache(c BytesCache, ttl time.Duration) *Pipeline {
	p.cache = c
	p.currentTTL = ttl
	return p
}

// RecordSuccess applies one successful snapshot. Item update and history
// append are required; alert evaluation is isolated per rule; the publish
// and cache writes are best-effort and never roll back committed state.
func (p *Pipeline) RecordSuccess(ctx context.Context, itemID uint64, snap *models.ProductSnapshot, checkedAt time.Time) error {
	pre, err := p.repo.GetItemByID(ctx, itemID)
	if err != nil {
		return err
	}
	if pre == nil {
		return errors.Errorf("tracked item %d disappeared before pipeline apply", itemID)
	}

	if err := p.repo.ApplyScrapeSuccess(ctx, itemID, snap, checkedAt); err != nil {
		return err
	}

	if err := p.repo.AppendPricePoint(ctx, &models.PriceHistoryPoint{
		ItemID:       itemID,
		Price:        snap.Price,
		Currency:     snap.Currency,
		Availability: snap.Availability,
		SellerName:   snap.SellerName,
		ObservedAt:   checkedAt,
	}); err != nil {
		return err
	}

	p.evaluateAlerts(ctx, pre, snap, checkedAt)
	p.publish(ctx, itemID, snap, checkedAt)
	p.cacheCurrent(ctx, itemID)
	return nil
}

// RecordFailure records a failed attempt. The attempt still stamps
// lastScrapedAt, preventing immediate re-queue churn.
func (p *Pipeline) RecordFailure(ctx context.Context, itemID uint64, cause string, checkedAt time.Time) error {
	return p.repo.ApplyScrapeFailure(ctx, itemID, cause, checkedAt)
}

// evaluateAlerts runs every active rule against the new price. Rules are
// independent: a failure on one must not block its siblings.
func (p *Pipeline) evaluateAlerts(ctx context.Context, pre *models.TrackedItem, snap *models.ProductSnapshot, checkedAt time.Time) {
	rules, err := p.repo.ListActiveAlertRules(ctx, pre.ID)
	if err != nil {
		slog.Error("list alert rules", "item_id", pre.ID, "error", err.Error())
		return
	}
	if len(rules) == 0 {
		return
	}

	ev := evaluation{
		price:            snap.Price,
		prevPrice:        pre.CurrentPrice,
		prevAvailability: pre.Availability,
		availability:     snap.Availability,
		preLowest:        pre.LowestPrice,
	}

	for _, rule := range rules {
		if !shouldFire(rule, ev) {
			continue
		}

		if err := p.repo.MarkAlertTriggered(ctx, rule.ID, snap.Price, checkedAt, rule.NotifyOnce); err != nil {
			slog.Error("mark alert triggered", "rule_id", rule.ID, "error", err.Error())
			continue
		}
		if err := p.repo.InsertAlertHistory(ctx, &models.AlertHistory{
			RuleID:      rule.ID,
			ItemID:      pre.ID,
			OldPrice:    pre.CurrentPrice,
			NewPrice:    snap.Price,
			TriggeredAt: checkedAt,
		}); err != nil {
			slog.Error("insert alert history", "rule_id", rule.ID, "error", err.Error())
		}

		metrics.AlertsTriggeredTotal.WithLabelValues(rule.Kind).Inc()
		slog.Info("alert fired",
			"rule_id", rule.ID, "item_id", pre.ID, "kind", rule.Kind, "price", snap.Price)
	}
}

// publish is fire-and-forget by contract: a publish failure is logged and
// swallowed, never rolled back into price/alert state.
func (p *Pipeline) publish(ctx context.Context, itemID uint64, snap *models.ProductSnapshot, checkedAt time.Time) {
	if p.producer == nil {
		return
	}

	msg := messages.ScrapeCompleted{
		ItemID:    itemID,
		Price:     snap.Price,
		Currency:  snap.Currency,
		Title:     snap.Title,
		CheckedAt: checkedAt,
	}
	b, err := json.Marshal(msg)
	if err != nil {
		slog.Error("marshal scrape completed", "item_id", itemID, "error", err.Error())
		return
	}
	key := []byte(fmt.Sprintf("%d", itemID))
	if err := p.producer.Publish(ctx, p.topic, key, b); err != nil {
		slog.Warn("publish scrape completed", "item_id", itemID, "error", err.Error())
	}
}

func (p *Pipeline) cacheCurrent(ctx context.Context, itemID uint64) {
	if p.cache == nil || p.currentTTL <= 0 {
		return
	}
	it, err := p.repo.GetItemByID(ctx, itemID)
	if err != nil || it == nil {
		return
	}
	b, err := json.Marshal(it)
	if err != nil {
		return
	}
	if err := p.cache.Set(ctx, currentKey(itemID), b, p.currentTTL); err != nil {
		slog.Warn("cache current item", "item_id", itemID, "error", err.Error())
	}
}

func currentKey(id uint64) string {
	return fmt.Sprintf("item:%d:current", id)
}
