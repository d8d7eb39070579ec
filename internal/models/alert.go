package models

import "time"

// Alert rule kinds.
const (
	AlertKindPriceBelow   = "price_below"
	AlertKindPriceAbove   = "price_above"
	AlertKindPriceDropPct = "price_drop_pct"
	AlertKindPriceRisePct = "price_rise_pct"
	AlertKindAnyChange    = "any_change"
	AlertKindBackInStock  = "back_in_stock"
	AlertKindAllTimeLow   = "all_time_low"
)

// AlertRule belongs to exactly one item and one user. Trigger state is
// mutated only by the pipeline; everything else is owned by the web tier.
type AlertRule struct {
	ID     uint64
	ItemID uint64
	UserID uint64

	Kind          string
	TargetPrice   *float64
	TargetPercent *float64

	IsActive   bool
	NotifyOnce bool

	IsTriggered        bool
	TriggerCount       int
	LastTriggeredAt    *time.Time
	LastTriggeredPrice *float64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// AlertHistory is an immutable record of one rule firing.
type AlertHistory struct {
	ID          uint64
	RuleID      uint64
	ItemID      uint64
	OldPrice    *float64
	NewPrice    float64
	TriggeredAt time.Time
}
