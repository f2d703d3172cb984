package alert

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tradewatch/alertd/internal/model"
)

// Update is one alert mutation destined for the durable store.
type Update struct {
	AlertID      int64
	Status       model.Status
	LastLTP      float64
	EntryCrossed bool
}

// Store is the durable-store access layer for alerts.
type Store interface {
	// LoadActive returns every non-terminal alert with its owner
	// hydrated. Alerts whose owner no longer exists are dropped.
	LoadActive(ctx context.Context) ([]*model.Alert, error)

	// BulkUpdate applies status/last_ltp/entry_crossed mutations as a
	// single batched round-trip.
	BulkUpdate(ctx context.Context, updates []Update) error

	// DistinctInstruments returns the instrument keys that have at least
	// one non-terminal alert.
	DistinctInstruments(ctx context.Context) ([]string, error)

	// CountActive returns the number of non-terminal alerts on one
	// instrument.
	CountActive(ctx context.Context, instrumentKey string) (int64, error)

	// DisableTelegram clears a user's chat handle after a permanent
	// delivery failure.
	DisableTelegram(ctx context.Context, userID int64) error

	// AccessToken returns the current upstream bearer token, managed by
	// the external admin surface.
	AccessToken(ctx context.Context) (string, error)
}

// ErrNoAccessToken is returned when no upstream token has been provisioned.
var ErrNoAccessToken = errors.New("alert: no upstream access token provisioned")

type pgStore struct {
	pool *pgxpool.Pool
}

// NewStore creates a Store backed by Postgres.
func NewStore(pool *pgxpool.Pool) Store {
	return &pgStore{pool: pool}
}

const loadActiveQuery = `
SELECT a.id, a.user_id, a.instrument_key, a.trading_symbol, a.position,
       a.entry_price, a.stop_loss, a.target_price, a.level, a.trade_type,
       a.status, a.entry_crossed, a.last_ltp, a.cmp, a.created_at,
       u.email, u.device_token, u.telegram_chat_id, u.telegram_enabled
FROM alerts a
JOIN users u ON u.id = a.user_id
WHERE a.status NOT IN ('slHit', 'targetHit')
`

func (s *pgStore) LoadActive(ctx context.Context) ([]*model.Alert, error) {
	rows, err := s.pool.Query(ctx, loadActiveQuery)
	if err != nil {
		return nil, fmt.Errorf("query active alerts: %w", err)
	}
	defer rows.Close()

	var alerts []*model.Alert
	for rows.Next() {
		a := &model.Alert{User: &model.User{}}
		err := rows.Scan(
			&a.ID, &a.UserID, &a.InstrumentKey, &a.TradingSymbol, &a.Position,
			&a.EntryPrice, &a.StopLoss, &a.TargetPrice, &a.Level, &a.TradeType,
			&a.Status, &a.EntryCrossed, &a.LastLTP, &a.CMP, &a.CreatedAt,
			&a.User.Email, &a.User.DeviceToken, &a.User.TelegramChatID, &a.User.TelegramEnabled,
		)
		if err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		a.User.ID = a.UserID
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

const bulkUpdateQuery = `
UPDATE alerts
SET status = $1, last_ltp = $2, entry_crossed = $3, updated_at = now()
WHERE id = $4
`

func (s *pgStore) BulkUpdate(ctx context.Context, updates []Update) error {
	if len(updates) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, u := range updates {
		batch.Queue(bulkUpdateQuery, u.Status, u.LastLTP, u.EntryCrossed, u.AlertID)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()

	for range updates {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("bulk update: %w", err)
		}
	}
	return nil
}

func (s *pgStore) DistinctInstruments(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT instrument_key FROM alerts WHERE status NOT IN ('slHit', 'targetHit')`)
	if err != nil {
		return nil, fmt.Errorf("query distinct instruments: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan instrument key: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func (s *pgStore) CountActive(ctx context.Context, instrumentKey string) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM alerts WHERE instrument_key = $1 AND status NOT IN ('slHit', 'targetHit')`,
		instrumentKey,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count active alerts: %w", err)
	}
	return count, nil
}

func (s *pgStore) DisableTelegram(ctx context.Context, userID int64) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE users SET telegram_chat_id = '', telegram_enabled = false WHERE id = $1`,
		userID,
	)
	if err != nil {
		return fmt.Errorf("disable telegram for user %d: %w", userID, err)
	}
	return nil
}

func (s *pgStore) AccessToken(ctx context.Context) (string, error) {
	var token string
	err := s.pool.QueryRow(ctx,
		`SELECT access_token FROM upstream_tokens ORDER BY updated_at DESC LIMIT 1`,
	).Scan(&token)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNoAccessToken
	}
	if err != nil {
		return "", fmt.Errorf("load access token: %w", err)
	}
	return token, nil
}
