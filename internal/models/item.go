package models

import "time"

// Marketplace codes (can be extended).
const (
	MarketplaceAmazon  = "AMAZON"
	MarketplaceEbay    = "EBAY"
	MarketplaceWalmart = "WALMART"
	MarketplaceEtsy    = "ETSY"
)

// Availability states reported by extraction.
const (
	AvailabilityUnknown    = "UNKNOWN"
	AvailabilityInStock    = "IN_STOCK"
	AvailabilityOutOfStock = "OUT_OF_STOCK"
)

// TrackedItem is a marketplace product under continuous price observation.
// Scrape-control fields are written by the scheduler, price-derived fields
// by the pipeline.
type TrackedItem struct {
	ID          uint64
	Marketplace string
	ExternalID  string
	Region      *string
	URL         string

	Title    string
	Brand    *string
	Category *string
	ImageURL *string

	CurrentPrice   *float64
	Currency       string
	Availability   string
	LowestPrice    *float64
	LowestPriceAt  *time.Time
	HighestPrice   *float64
	HighestPriceAt *time.Time

	RefetchIntervalHours  int
	PriorityScore         int
	ConsecutiveErrorCount int32
	LastError             *string
	LastScrapedAt         *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// DueCandidate is one scheduler selection row: the item plus the demand and
// volatility signals fetched in the same query.
type DueCandidate struct {
	Item             *TrackedItem
	ActiveAlertCount int
	WatcherCount     int
	Volatility7d     float64 // coefficient of variation over 7 days, 0.1 == 10%
}

// SchedulerAggregates are fleet-wide counts reported alongside the
// scheduler's process counters.
type SchedulerAggregates struct {
	TotalItems          int64   `json:"totalItems"`
	DueItems            int64   `json:"dueItems"`
	HighPriorityItems   int64   `json:"highPriorityItems"`
	MeanRefetchInterval float64 `json:"meanRefetchIntervalHours"`
}

// ProductSnapshot is the normalized result of one successful extraction.
type ProductSnapshot struct {
	Title        string
	Price        float64
	Currency     string
	Availability string
	ImageURL     *string
	Brand        *string
	Category     *string
	SellerName   *string
	SellerRating *float64
}

// PriceHistoryPoint is an append-only observation fact.
type PriceHistoryPoint struct {
	ID           uint64
	ItemID       uint64
	Price        float64
	Currency     string
	Availability string
	SellerName   *string
	ObservedAt   time.Time
}
