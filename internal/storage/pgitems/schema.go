package pgitems

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS tracked_items (
  id BIGSERIAL PRIMARY KEY,
  marketplace TEXT NOT NULL,
  external_id TEXT NOT NULL,
  region TEXT NULL,
  url TEXT NOT NULL,
  title TEXT NOT NULL DEFAULT '',
  brand TEXT NULL,
  category TEXT NULL,
  image_url TEXT NULL,
  current_price DOUBLE PRECISION NULL,
  currency TEXT NOT NULL DEFAULT '',
  availability TEXT NOT NULL DEFAULT 'UNKNOWN',
  lowest_price DOUBLE PRECISION NULL,
  lowest_price_at TIMESTAMPTZ NULL,
  highest_price DOUBLE PRECISION NULL,
  highest_price_at TIMESTAMPTZ NULL,
  refetch_interval_hours INT NOT NULL DEFAULT 24,
  priority_score INT NOT NULL DEFAULT 5,
  consecutive_error_count INT NOT NULL DEFAULT 0,
  last_error TEXT NULL,
  last_scraped_at TIMESTAMPTZ NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL,
  UNIQUE (marketplace, external_id)
)`,
		`CREATE INDEX IF NOT EXISTS idx_tracked_items_last_scraped_at ON tracked_items(last_scraped_at)`,
		`
CREATE TABLE IF NOT EXISTS price_history (
  id BIGSERIAL PRIMARY KEY,
  item_id BIGINT NOT NULL REFERENCES tracked_items(id) ON DELETE CASCADE,
  price DOUBLE PRECISION NOT NULL,
  currency TEXT NOT NULL,
  availability TEXT NOT NULL,
  seller_name TEXT NULL,
  observed_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_price_history_item_id_observed_at ON price_history(item_id, observed_at DESC)`,
		`
CREATE TABLE IF NOT EXISTS alert_rules (
  id BIGSERIAL PRIMARY KEY,
  item_id BIGINT NOT NULL REFERENCES tracked_items(id) ON DELETE CASCADE,
  user_id BIGINT NOT NULL,
  kind TEXT NOT NULL,
  target_price DOUBLE PRECISION NULL,
  target_percent DOUBLE PRECISION NULL,
  is_active BOOLEAN NOT NULL DEFAULT TRUE,
  notify_once BOOLEAN NOT NULL DEFAULT FALSE,
  is_triggered BOOLEAN NOT NULL DEFAULT FALSE,
  trigger_count INT NOT NULL DEFAULT 0,
  last_triggered_at TIMESTAMPTZ NULL,
  last_triggered_price DOUBLE PRECISION NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_alert_rules_item_id ON alert_rules(item_id) WHERE is_active`,
		`
CREATE TABLE IF NOT EXISTS alert_history (
  id BIGSERIAL PRIMARY KEY,
  rule_id BIGINT NOT NULL REFERENCES alert_rules(id) ON DELETE CASCADE,
  item_id BIGINT NOT NULL,
  old_price DOUBLE PRECISION NULL,
  new_price DOUBLE PRECISION NOT NULL,
  triggered_at TIMESTAMPTZ NOT NULL
)`,
		// Written by the web tier; read here for the crowd-interest signal.
		`
CREATE TABLE IF NOT EXISTS item_watchers (
  item_id BIGINT NOT NULL REFERENCES tracked_items(id) ON DELETE CASCADE,
  user_id BIGINT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  PRIMARY KEY (item_id, user_id)
)`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
