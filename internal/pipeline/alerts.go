package pipeline

import "github.com/SnapPrice/PriceBox/internal/models"

// evaluation carries the pre-update observations an alert predicate needs.
// preLowest is the extremum before this pipeline pass: all_time_low must
// fire on the price that is about to become the new lowest.
type evaluation struct {
	price            float64
	prevPrice        *float64
	prevAvailability string
	availability     string
	preLowest        *float64
}

// shouldFire implements the armed->fired transition for one rule kind.
func shouldFire(rule *models.AlertRule, ev evaluation) bool {
	switch rule.Kind {
	case models.AlertKindPriceBelow:
		return rule.TargetPrice != nil && ev.price <= *rule.TargetPrice

	case models.AlertKindPriceAbove:
		return rule.TargetPrice != nil && ev.price >= *rule.TargetPrice

	case models.AlertKindPriceDropPct:
		if rule.TargetPercent == nil || ev.prevPrice == nil || *ev.prevPrice <= 0 {
			return false
		}
		return (*ev.prevPrice-ev.price)/(*ev.prevPrice)*100 >= *rule.TargetPercent

	case models.AlertKindPriceRisePct:
		if rule.TargetPercent == nil || ev.prevPrice == nil || *ev.prevPrice <= 0 {
			return false
		}
		return (ev.price-*ev.prevPrice)/(*ev.prevPrice)*100 >= *rule.TargetPercent

	case models.AlertKindAnyChange:
		return ev.prevPrice != nil && ev.price != *ev.prevPrice

	case models.AlertKindBackInStock:
		return ev.prevAvailability == models.AvailabilityOutOfStock &&
			ev.availability == models.AvailabilityInStock

	case models.AlertKindAllTimeLow:
		return ev.preLowest == nil || ev.price < *ev.preLowest

	default:
		return false
	}
}
