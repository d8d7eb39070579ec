package pgitems

import (
	"context"

	"github.com/SnapPrice/PriceBox/internal/models"
	"github.com/pkg/errors"
)

// AppendPricePoint writes one immutable observation. One row per successful
// scrape; duplicates are allowed (replays are wasted work, not corruption).
func (s *Storage) AppendPricePoint(ctx context.Context, p *models.PriceHistoryPoint) error {
	_, err := s.db.Exec(ctx, `
INSERT INTO price_history (item_id, price, currency, availability, seller_name, observed_at)
VALUES ($1,$2,$3,$4,$5,$6)
`, p.ItemID, p.Price, p.Currency, p.Availability, p.SellerName, p.ObservedAt.UTC())
	return errors.Wrap(err, "insert price point")
}

func (s *Storage) ListPriceHistory(ctx context.Context, itemID uint64, limit, offset int) ([]*models.PriceHistoryPoint, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.Query(ctx, `
SELECT id, item_id, price, currency, availability, seller_name, observed_at
FROM price_history
WHERE item_id = $1
ORDER BY observed_at DESC
LIMIT $2 OFFSET $3
`, itemID, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "select price history")
	}
	defer rows.Close()

	var out []*models.PriceHistoryPoint
	for rows.Next() {
		var p models.PriceHistoryPoint
		if err := rows.Scan(
			&p.ID, &p.ItemID, &p.Price, &p.Currency, &p.Availability, &p.SellerName, &p.ObservedAt,
		); err != nil {
			return nil, errors.Wrap(err, "scan price point")
		}
		out = append(out, &p)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}
