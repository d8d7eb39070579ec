package pgitems

import (
	"context"
	"time"

	"github.com/SnapPrice/PriceBox/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

const itemColumns = `
  id, marketplace, external_id, region, url,
  title, brand, category, image_url,
  current_price, currency, availability,
  lowest_price, lowest_price_at, highest_price, highest_price_at,
  refetch_interval_hours, priority_score, consecutive_error_count,
  last_error, last_scraped_at,
  created_at, updated_at`

func scanItem(row pgx.Row) (*models.TrackedItem, error) {
	var it models.TrackedItem
	if err := row.Scan(
		&it.ID, &it.Marketplace, &it.ExternalID, &it.Region, &it.URL,
		&it.Title, &it.Brand, &it.Category, &it.ImageURL,
		&it.CurrentPrice, &it.Currency, &it.Availability,
		&it.LowestPrice, &it.LowestPriceAt, &it.HighestPrice, &it.HighestPriceAt,
		&it.RefetchIntervalHours, &it.PriorityScore, &it.ConsecutiveErrorCount,
		&it.LastError, &it.LastScrapedAt,
		&it.CreatedAt, &it.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &it, nil
}

type ItemCreateInput struct {
	Marketplace string
	ExternalID  string
	Region      *string
	URL         string
}

func (s *Storage) CreateOrGetItems(ctx context.Context, items []ItemCreateInput) ([]*models.TrackedItem, error) {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ids := make([]uint64, 0, len(items))
	for _, it := range items {
		var id uint64
		err := tx.QueryRow(ctx, `
INSERT INTO tracked_items (
  marketplace, external_id, region, url, created_at, updated_at
)
VALUES ($1,$2,$3,$4,$5,$5)
ON CONFLICT (marketplace, external_id)
DO UPDATE SET updated_at = tracked_items.updated_at
RETURNING id
`, it.Marketplace, it.ExternalID, it.Region, it.URL, now).Scan(&id)
		if err != nil {
			return nil, errors.Wrap(err, "insert tracked item")
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}

	return s.GetItemsByIDs(ctx, ids)
}

func (s *Storage) GetItemsByIDs(ctx context.Context, ids []uint64) ([]*models.TrackedItem, error) {
	if len(ids) == 0 {
		return []*models.TrackedItem{}, nil
	}

	rows, err := s.db.Query(ctx, `SELECT `+itemColumns+` FROM tracked_items WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, errors.Wrap(err, "select tracked items")
	}
	defer rows.Close()

	out := make([]*models.TrackedItem, 0, len(ids))
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan tracked item")
		}
		out = append(out, it)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

func (s *Storage) GetItemByID(ctx context.Context, id uint64) (*models.TrackedItem, error) {
	it, err := scanItem(s.db.QueryRow(ctx, `SELECT `+itemColumns+` FROM tracked_items WHERE id = $1`, id))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "select tracked item")
	}
	return it, nil
}

// ListDueCandidates selects items ready for a refetch, together with the
// demand and volatility signals the scheduler scores on. Items past the
// error circuit breaker are excluded here so they never occupy batch slots.
// Ordering: never-scraped first, then configured priority, then staleness.
func (s *Storage) ListDueCandidates(ctx context.Context, now time.Time, errorLimit int32, limit int) ([]*models.DueCandidate, error) {
	rows, err := s.db.Query(ctx, `
SELECT `+itemColumns+`,
  COALESCE(a.cnt, 0) AS active_alerts,
  COALESCE(w.cnt, 0) AS watchers,
  COALESCE(v.cv, 0) AS volatility
FROM tracked_items i
LEFT JOIN (
  SELECT item_id, COUNT(*) AS cnt FROM alert_rules WHERE is_active GROUP BY item_id
) a ON a.item_id = i.id
LEFT JOIN (
  SELECT item_id, COUNT(DISTINCT user_id) AS cnt FROM item_watchers GROUP BY item_id
) w ON w.item_id = i.id
LEFT JOIN (
  SELECT item_id, COALESCE(stddev_samp(price) / NULLIF(avg(price), 0), 0) AS cv
  FROM price_history
  WHERE observed_at >= $1 - interval '7 days'
  GROUP BY item_id
) v ON v.item_id = i.id
WHERE i.consecutive_error_count < $2
  AND (
    i.last_scraped_at IS NULL
    OR i.last_scraped_at <= $1 - make_interval(hours => i.refetch_interval_hours)
  )
ORDER BY (i.last_scraped_at IS NULL) DESC, i.priority_score DESC, i.last_scraped_at ASC NULLS FIRST
LIMIT $3
`, now.UTC(), errorLimit, limit)
	if err != nil {
		return nil, errors.Wrap(err, "select due candidates")
	}
	defer rows.Close()

	var out []*models.DueCandidate
	for rows.Next() {
		var it models.TrackedItem
		var c models.DueCandidate
		if err := rows.Scan(
			&it.ID, &it.Marketplace, &it.ExternalID, &it.Region, &it.URL,
			&it.Title, &it.Brand, &it.Category, &it.ImageURL,
			&it.CurrentPrice, &it.Currency, &it.Availability,
			&it.LowestPrice, &it.LowestPriceAt, &it.HighestPrice, &it.HighestPriceAt,
			&it.RefetchIntervalHours, &it.PriorityScore, &it.ConsecutiveErrorCount,
			&it.LastError, &it.LastScrapedAt,
			&it.CreatedAt, &it.UpdatedAt,
			&c.ActiveAlertCount, &c.WatcherCount, &c.Volatility7d,
		); err != nil {
			return nil, errors.Wrap(err, "scan due candidate")
		}
		c.Item = &it
		out = append(out, &c)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

func (s *Storage) UpdateRefetchInterval(ctx context.Context, itemID uint64, hours int) error {
	_, err := s.db.Exec(ctx, `
UPDATE tracked_items SET refetch_interval_hours = $2, updated_at = now() WHERE id = $1
`, itemID, hours)
	return errors.Wrap(err, "update refetch interval")
}

// ApplyScrapeSuccess writes the snapshot onto the item. The extremum
// timestamps move only when the extremum itself changes, so replaying an
// unchanged price is a no-op for lowest/highest.
func (s *Storage) ApplyScrapeSuccess(ctx context.Context, itemID uint64, snap *models.ProductSnapshot, checkedAt time.Time) error {
	_, err := s.db.Exec(ctx, `
UPDATE tracked_items
SET
  title = $2,
  brand = COALESCE($3, brand),
  category = COALESCE($4, category),
  image_url = COALESCE($5, image_url),
  current_price = $6,
  currency = $7,
  availability = $8,
  lowest_price_at = CASE WHEN lowest_price IS NULL OR $6 < lowest_price THEN $9 ELSE lowest_price_at END,
  lowest_price = CASE WHEN lowest_price IS NULL OR $6 < lowest_price THEN $6 ELSE lowest_price END,
  highest_price_at = CASE WHEN highest_price IS NULL OR $6 > highest_price THEN $9 ELSE highest_price_at END,
  highest_price = CASE WHEN highest_price IS NULL OR $6 > highest_price THEN $6 ELSE highest_price END,
  consecutive_error_count = 0,
  last_error = NULL,
  last_scraped_at = $9,
  updated_at = now()
WHERE id = $1
`, itemID, snap.Title, snap.Brand, snap.Category, snap.ImageURL,
		snap.Price, snap.Currency, snap.Availability, checkedAt.UTC())
	return errors.Wrap(err, "apply scrape success")
}

// ApplyScrapeFailure records a failed attempt. The attempt still stamps
// last_scraped_at so the item does not immediately re-enter the due set.
func (s *Storage) ApplyScrapeFailure(ctx context.Context, itemID uint64, cause string, checkedAt time.Time) error {
	_, err := s.db.Exec(ctx, `
UPDATE tracked_items
SET
  consecutive_error_count = consecutive_error_count + 1,
  last_error = $2,
  last_scraped_at = $3,
  updated_at = now()
WHERE id = $1
`, itemID, cause, checkedAt.UTC())
	return errors.Wrap(err, "apply scrape failure")
}

func (s *Storage) SchedulerAggregates(ctx context.Context, now time.Time, errorLimit int32, highPriority int) (models.SchedulerAggregates, error) {
	var st models.SchedulerAggregates
	err := s.db.QueryRow(ctx, `
SELECT
  COUNT(*),
  COUNT(*) FILTER (
    WHERE consecutive_error_count < $2
      AND (last_scraped_at IS NULL
           OR last_scraped_at <= $1 - make_interval(hours => refetch_interval_hours))
  ),
  COUNT(*) FILTER (WHERE priority_score >= $3),
  COALESCE(AVG(refetch_interval_hours), 0)
FROM tracked_items
`, now.UTC(), errorLimit, highPriority).Scan(
		&st.TotalItems, &st.DueItems, &st.HighPriorityItems, &st.MeanRefetchInterval,
	)
	return st, errors.Wrap(err, "scheduler aggregates")
}
