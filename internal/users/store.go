package users

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrUnauthorized is returned when a session token is missing, unknown,
// or expired.
var ErrUnauthorized = errors.New("users: unauthorized")

// Store resolves session tokens and loads user instrument sets from the
// durable store. It implements the live server's Authenticator and
// UserData interfaces.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a user store backed by Postgres.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Authenticate resolves a websocket upgrade request to a user ID. Tokens
// are issued by the external auth surface; here they are only looked up.
func (s *Store) Authenticate(r *http.Request) (int64, error) {
	token := requestToken(r)
	if token == "" {
		return 0, ErrUnauthorized
	}

	var userID int64
	err := s.pool.QueryRow(r.Context(),
		`SELECT user_id FROM sessions WHERE token = $1 AND expires_at > now()`,
		token,
	).Scan(&userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrUnauthorized
	}
	if err != nil {
		return 0, fmt.Errorf("resolve session token: %w", err)
	}
	return userID, nil
}

// AlertInstruments returns the instruments carrying the user's
// non-terminal alerts.
func (s *Store) AlertInstruments(ctx context.Context, userID int64) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT instrument_key FROM alerts
		 WHERE user_id = $1 AND status NOT IN ('slHit', 'targetHit')`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("load alert instruments for user %d: %w", userID, err)
	}
	defer rows.Close()
	return collect(rows)
}

// WatchlistInstruments returns the instruments on the user's watchlist.
func (s *Store) WatchlistInstruments(ctx context.Context, userID int64) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT instrument_key FROM watchlist_items WHERE user_id = $1`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("load watchlist for user %d: %w", userID, err)
	}
	defer rows.Close()
	return collect(rows)
}

func collect(rows pgx.Rows) ([]string, error) {
	var out []string
	for rows.Next() {
		var sym string
		if err := rows.Scan(&sym); err != nil {
			return nil, fmt.Errorf("scan instrument key: %w", err)
		}
		out = append(out, sym)
	}
	return out, rows.Err()
}

// requestToken pulls the session token from the Authorization header or,
// for browser websocket clients that cannot set headers, the token query
// parameter.
func requestToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if tok, ok := strings.CutPrefix(h, "Bearer "); ok {
			return tok
		}
	}
	return r.URL.Query().Get("token")
}
