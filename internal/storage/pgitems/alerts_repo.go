package pgitems

import (
	"context"
	"time"

	"github.com/SnapPrice/PriceBox/internal/models"
	"github.com/pkg/errors"
)

type AlertRuleCreateInput struct {
	ItemID        uint64
	UserID        uint64
	Kind          string
	TargetPrice   *float64
	TargetPercent *float64
	NotifyOnce    bool
}

func (s *Storage) CreateAlertRule(ctx context.Context, in AlertRuleCreateInput) (uint64, error) {
	now := time.Now().UTC()
	var id uint64
	err := s.db.QueryRow(ctx, `
INSERT INTO alert_rules (item_id, user_id, kind, target_price, target_percent, notify_once, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$7)
RETURNING id
`, in.ItemID, in.UserID, in.Kind, in.TargetPrice, in.TargetPercent, in.NotifyOnce, now).Scan(&id)
	return id, errors.Wrap(err, "insert alert rule")
}

func (s *Storage) ListActiveAlertRules(ctx context.Context, itemID uint64) ([]*models.AlertRule, error) {
	rows, err := s.db.Query(ctx, `
SELECT
  id, item_id, user_id, kind, target_price, target_percent,
  is_active, notify_once, is_triggered, trigger_count,
  last_triggered_at, last_triggered_price, created_at, updated_at
FROM alert_rules
WHERE item_id = $1 AND is_active
ORDER BY id
`, itemID)
	if err != nil {
		return nil, errors.Wrap(err, "select active alert rules")
	}
	defer rows.Close()

	var out []*models.AlertRule
	for rows.Next() {
		var r models.AlertRule
		if err := rows.Scan(
			&r.ID, &r.ItemID, &r.UserID, &r.Kind, &r.TargetPrice, &r.TargetPercent,
			&r.IsActive, &r.NotifyOnce, &r.IsTriggered, &r.TriggerCount,
			&r.LastTriggeredAt, &r.LastTriggeredPrice, &r.CreatedAt, &r.UpdatedAt,
		); err != nil {
			return nil, errors.Wrap(err, "scan alert rule")
		}
		out = append(out, &r)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

// MarkAlertTriggered records one firing. A notify-once rule deactivates in
// the same statement.
func (s *Storage) MarkAlertTriggered(ctx context.Context, ruleID uint64, price float64, at time.Time, deactivate bool) error {
	_, err := s.db.Exec(ctx, `
UPDATE alert_rules
SET
  is_triggered = TRUE,
  trigger_count = trigger_count + 1,
  last_triggered_at = $2,
  last_triggered_price = $3,
  is_active = CASE WHEN $4 THEN FALSE ELSE is_active END,
  updated_at = now()
WHERE id = $1
`, ruleID, at.UTC(), price, deactivate)
	return errors.Wrap(err, "mark alert triggered")
}

func (s *Storage) InsertAlertHistory(ctx context.Context, h *models.AlertHistory) error {
	_, err := s.db.Exec(ctx, `
INSERT INTO alert_history (rule_id, item_id, old_price, new_price, triggered_at)
VALUES ($1,$2,$3,$4,$5)
`, h.RuleID, h.ItemID, h.OldPrice, h.NewPrice, h.TriggeredAt.UTC())
	return errors.Wrap(err, "insert alert history")
}

func (s *Storage) AddWatcher(ctx context.Context, itemID, userID uint64) error {
	_, err := s.db.Exec(ctx, `
INSERT INTO item_watchers (item_id, user_id) VALUES ($1,$2) ON CONFLICT DO NOTHING
`, itemID, userID)
	return errors.Wrap(err, "insert watcher")
}
