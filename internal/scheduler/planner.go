package scheduler

// PlannerConfig holds the scoring and frequency-adaptation knobs. Zero
// values fall back to defaults in NewPlanner.
type PlannerConfig struct {
	MaxScore int // default: 10

	AlertRulesPerPoint       int     // default: 2 (+1 per 2 active rules, rounded up)
	WatcherBoostThreshold    int     // default: 5
	VolatilityBoostThreshold float64 // default: 0.10

	HighVolatility   float64 // default: 0.20 -> HighVolatilityHours
	MediumVolatility float64 // default: 0.10 -> MediumVolatilityHours
	LowVolatility    float64 // default: 0.05 -> LowVolatilityHours

	HighVolatilityHours   int // default: 4
	MediumVolatilityHours int // default: 8
	LowVolatilityHours    int // default: 12
	CalmHours             int // default: 24

	AlertFloorHours    int // default: 6
	CrowdFloorHours    int // default: 8
	CrowdFloorWatchers int // default: 10

	HysteresisHours int // default: 2
}

func DefaultPlannerConfig() PlannerConfig {
	return PlannerConfig{
		MaxScore:                 10,
		AlertRulesPerPoint:       2,
		WatcherBoostThreshold:    5,
		VolatilityBoostThreshold: 0.10,
		HighVolatility:           0.20,
		MediumVolatility:         0.10,
		LowVolatility:            0.05,
		HighVolatilityHours:      4,
		MediumVolatilityHours:    8,
		LowVolatilityHours:       12,
		CalmHours:                24,
		AlertFloorHours:          6,
		CrowdFloorHours:          8,
		CrowdFloorWatchers:       10,
		HysteresisHours:          2,
	}
}

type Planner struct {
	cfg PlannerConfig
}

func NewPlanner(cfg PlannerConfig) *Planner {
	def := DefaultPlannerConfig()
	if cfg.MaxScore <= 0 {
		cfg.MaxScore = def.MaxScore
	}
	if cfg.AlertRulesPerPoint <= 0 {
		cfg.AlertRulesPerPoint = def.AlertRulesPerPoint
	}
	if cfg.WatcherBoostThreshold <= 0 {
		cfg.WatcherBoostThreshold = def.WatcherBoostThreshold
	}
	if cfg.VolatilityBoostThreshold <= 0 {
		cfg.VolatilityBoostThreshold = def.VolatilityBoostThreshold
	}
	if cfg.HighVolatility <= 0 {
		cfg.HighVolatility = def.HighVolatility
	}
	if cfg.MediumVolatility <= 0 {
		cfg.MediumVolatility = def.MediumVolatility
	}
	if cfg.LowVolatility <= 0 {
		cfg.LowVolatility = def.LowVolatility
	}
	if cfg.HighVolatilityHours <= 0 {
		cfg.HighVolatilityHours = def.HighVolatilityHours
	}
	if cfg.MediumVolatilityHours <= 0 {
		cfg.MediumVolatilityHours = def.MediumVolatilityHours
	}
	if cfg.LowVolatilityHours <= 0 {
		cfg.LowVolatilityHours = def.LowVolatilityHours
	}
	if cfg.CalmHours <= 0 {
		cfg.CalmHours = def.CalmHours
	}
	if cfg.AlertFloorHours <= 0 {
		cfg.AlertFloorHours = def.AlertFloorHours
	}
	if cfg.CrowdFloorHours <= 0 {
		cfg.CrowdFloorHours = def.CrowdFloorHours
	}
	if cfg.CrowdFloorWatchers <= 0 {
		cfg.CrowdFloorWatchers = def.CrowdFloorWatchers
	}
	if cfg.HysteresisHours <= 0 {
		cfg.HysteresisHours = def.HysteresisHours
	}
	return &Planner{cfg: cfg}
}

func (p *Planner) MaxScore() int { return p.cfg.MaxScore }

// PriorityScore rates one due item 0..MaxScore. Alerts and crowd interest
// make staleness costly to users; volatility makes it costly to accuracy;
// repeated failure makes further attempts low-value.
func (p *Planner) PriorityScore(base, activeAlerts, watchers int, volatility float64, consecutiveErrors int32) int {
	s := base

	// +1 per AlertRulesPerPoint active rules, rounded up.
	s += (activeAlerts + p.cfg.AlertRulesPerPoint - 1) / p.cfg.AlertRulesPerPoint
	if s > p.cfg.MaxScore {
		s = p.cfg.MaxScore
	}

	if watchers > p.cfg.WatcherBoostThreshold {
		s++
	}
	if volatility > p.cfg.VolatilityBoostThreshold {
		s++
	}
	if s > p.cfg.MaxScore {
		s = p.cfg.MaxScore
	}

	if consecutiveErrors > 0 {
		s -= int(consecutiveErrors)
		if s < 1 {
			s = 1
		}
	}
	if s < 0 {
		s = 0
	}
	return s
}

// TargetIntervalHours picks the refetch interval from volatility bands,
// then floors it for demand signals.
func (p *Planner) TargetIntervalHours(volatility float64, hasActiveAlert bool, watchers int) int {
	var hours int
	switch {
	case volatility > p.cfg.HighVolatility:
		hours = p.cfg.HighVolatilityHours
	case volatility > p.cfg.MediumVolatility:
		hours = p.cfg.MediumVolatilityHours
	case volatility > p.cfg.LowVolatility:
		hours = p.cfg.LowVolatilityHours
	default:
		hours = p.cfg.CalmHours
	}

	if hasActiveAlert && hours > p.cfg.AlertFloorHours {
		hours = p.cfg.AlertFloorHours
	}
	if watchers > p.cfg.CrowdFloorWatchers && hours > p.cfg.CrowdFloorHours {
		hours = p.cfg.CrowdFloorHours
	}
	return hours
}

// ShouldPersistInterval applies the hysteresis band: marginal volatility
// jitter must not thrash the stored interval.
func (p *Planner) ShouldPersistInterval(current, target int) bool {
	diff := target - current
	if diff < 0 {
		diff = -diff
	}
	return diff >= p.cfg.HysteresisHours
}
