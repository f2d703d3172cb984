package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tradewatch/alertd/internal/config"
	"github.com/tradewatch/alertd/internal/model"
)

// Hash and set keys shared with the external HTTP surface.
const (
	lastTickKey   = "stock:lastTick"
	lastCloseKey  = "stock:lastClose"
	globalKey     = "global:stocks"
	persistentKey = "persistent:stocks"
)

func stockUsersKey(sym string) string {
	return "stock:" + sym + ":users"
}

func userStocksKey(userID int64) string {
	return fmt.Sprintf("user:%d:stocks", userID)
}

// Store is the shared cache client. Safe for concurrent use.
type Store struct {
	rdb    *redis.Client
	logger *slog.Logger
}

// New connects to Redis and verifies the connection.
func New(cfg config.RedisConfig, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &Store{rdb: rdb, logger: logger}, nil
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.rdb.Close()
}

// Ping verifies the connection is healthy.
func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// SetLastTicks writes a batch of ticks into the last-tick hash as one
// pipelined multi-field write, refreshes the hash TTL, and records non-zero
// close prices in the last-close hash.
func (s *Store) SetLastTicks(ctx context.Context, ticks map[string]model.Tick, ttl time.Duration) error {
	if len(ticks) == 0 {
		return nil
	}

	tickFields := make([]any, 0, len(ticks)*2)
	closeFields := make([]any, 0)
	for sym, t := range ticks {
		data, err := json.Marshal(t)
		if err != nil {
			s.logger.Warn("skipping unmarshalable tick", "symbol", sym, "error", err)
			continue
		}
		tickFields = append(tickFields, sym, string(data))
		if t.Close != 0 {
			closeFields = append(closeFields, sym, t.Close)
		}
	}
	if len(tickFields) == 0 {
		return nil
	}

	_, err := s.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, lastTickKey, tickFields...)
		pipe.Expire(ctx, lastTickKey, ttl)
		if len(closeFields) > 0 {
			pipe.HSet(ctx, lastCloseKey, closeFields...)
		}
		return nil
	})
	return err
}

// LastTicks fetches the last tick for each symbol in one batched read.
// Symbols with no cached tick are absent from the result.
func (s *Store) LastTicks(ctx context.Context, syms []string) (map[string]model.Tick, error) {
	if len(syms) == 0 {
		return map[string]model.Tick{}, nil
	}

	vals, err := s.rdb.HMGet(ctx, lastTickKey, syms...).Result()
	if err != nil {
		return nil, err
	}

	out := make(map[string]model.Tick, len(syms))
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var t model.Tick
		if err := json.Unmarshal([]byte(raw), &t); err != nil {
			s.logger.Warn("dropping corrupt cached tick", "symbol", syms[i], "error", err)
			continue
		}
		out[syms[i]] = t
	}
	return out, nil
}

// HasPrice reports, per symbol, whether a tick or close is already cached.
// Uses one pipelined round-trip.
func (s *Store) HasPrice(ctx context.Context, syms []string) (map[string]bool, error) {
	if len(syms) == 0 {
		return map[string]bool{}, nil
	}

	tickCmds := make([]*redis.BoolCmd, len(syms))
	closeCmds := make([]*redis.BoolCmd, len(syms))
	_, err := s.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, sym := range syms {
			tickCmds[i] = pipe.HExists(ctx, lastTickKey, sym)
			closeCmds[i] = pipe.HExists(ctx, lastCloseKey, sym)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make(map[string]bool, len(syms))
	for i, sym := range syms {
		out[sym] = tickCmds[i].Val() || closeCmds[i].Val()
	}
	return out, nil
}

// AddViewer registers a user as an interactive viewer of a symbol and
// returns the resulting viewer count.
func (s *Store) AddViewer(ctx context.Context, sym string, userID int64) (int64, error) {
	var card *redis.IntCmd
	_, err := s.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, stockUsersKey(sym), userID)
		pipe.SAdd(ctx, userStocksKey(userID), sym)
		pipe.SAdd(ctx, globalKey, sym)
		card = pipe.SCard(ctx, stockUsersKey(sym))
		return nil
	})
	if err != nil {
		return 0, err
	}
	return card.Val(), nil
}

// RemoveViewer removes a user from a symbol's viewer set and returns the
// remaining viewer count. When the set empties the symbol also leaves the
// global set.
func (s *Store) RemoveViewer(ctx context.Context, sym string, userID int64) (int64, error) {
	var card *redis.IntCmd
	_, err := s.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SRem(ctx, stockUsersKey(sym), userID)
		pipe.SRem(ctx, userStocksKey(userID), sym)
		card = pipe.SCard(ctx, stockUsersKey(sym))
		return nil
	})
	if err != nil {
		return 0, err
	}

	remaining := card.Val()
	if remaining == 0 {
		if err := s.rdb.SRem(ctx, globalKey, sym).Err(); err != nil {
			s.logger.Warn("failed to remove empty symbol from global set", "symbol", sym, "error", err)
		}
	}
	return remaining, nil
}

// ViewerCount returns the number of interactive viewers for a symbol.
func (s *Store) ViewerCount(ctx context.Context, sym string) (int64, error) {
	return s.rdb.SCard(ctx, stockUsersKey(sym)).Result()
}

// UserStocks returns the symbols a user is currently viewing.
func (s *Store) UserStocks(ctx context.Context, userID int64) ([]string, error) {
	return s.rdb.SMembers(ctx, userStocksKey(userID)).Result()
}

// GlobalStocks returns every symbol with at least one registered viewer.
func (s *Store) GlobalStocks(ctx context.Context) ([]string, error) {
	return s.rdb.SMembers(ctx, globalKey).Result()
}

// AddPersistent adds symbols to the persistent-alert stock set.
func (s *Store) AddPersistent(ctx context.Context, syms ...string) error {
	if len(syms) == 0 {
		return nil
	}
	members := make([]any, len(syms))
	for i, sym := range syms {
		members[i] = sym
	}
	return s.rdb.SAdd(ctx, persistentKey, members...).Err()
}

// RemovePersistent removes symbols from the persistent-alert stock set.
func (s *Store) RemovePersistent(ctx context.Context, syms ...string) error {
	if len(syms) == 0 {
		return nil
	}
	members := make([]any, len(syms))
	for i, sym := range syms {
		members[i] = sym
	}
	return s.rdb.SRem(ctx, persistentKey, members...).Err()
}

// PersistentStocks returns the persistent-alert stock set.
func (s *Store) PersistentStocks(ctx context.Context) ([]string, error) {
	return s.rdb.SMembers(ctx, persistentKey).Result()
}

// IsPersistent reports whether a symbol has at least one active alert.
func (s *Store) IsPersistent(ctx context.Context, sym string) (bool, error) {
	return s.rdb.SIsMember(ctx, persistentKey, sym).Result()
}

// Interest is the subscription-relevant state of one symbol.
type Interest struct {
	Viewers    int64
	Persistent bool
}

// InterestFlags returns viewer counts and persistent membership for a batch
// of symbols in a single pipelined round-trip.
func (s *Store) InterestFlags(ctx context.Context, syms []string) (map[string]Interest, error) {
	if len(syms) == 0 {
		return map[string]Interest{}, nil
	}

	cardCmds := make([]*redis.IntCmd, len(syms))
	memberCmds := make([]*redis.BoolCmd, len(syms))
	_, err := s.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, sym := range syms {
			cardCmds[i] = pipe.SCard(ctx, stockUsersKey(sym))
			memberCmds[i] = pipe.SIsMember(ctx, persistentKey, sym)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make(map[string]Interest, len(syms))
	for i, sym := range syms {
		out[sym] = Interest{
			Viewers:    cardCmds[i].Val(),
			Persistent: memberCmds[i].Val(),
		}
	}
	return out, nil
}
