package subs

import (
	"context"
	"log/slog"

	"github.com/tradewatch/alertd/internal/cache"
)

// CacheStore is the slice of the shared cache the registry relies on.
type CacheStore interface {
	GlobalStocks(ctx context.Context) ([]string, error)
	PersistentStocks(ctx context.Context) ([]string, error)
	AddPersistent(ctx context.Context, syms ...string) error
	RemovePersistent(ctx context.Context, syms ...string) error
	InterestFlags(ctx context.Context, syms []string) (map[string]cache.Interest, error)
	ViewerCount(ctx context.Context, sym string) (int64, error)
	IsPersistent(ctx context.Context, sym string) (bool, error)
}

// Registry answers "does anything still need this instrument subscribed".
type Registry struct {
	store  CacheStore
	logger *slog.Logger
}

// NewRegistry creates a subscription registry over the shared cache.
func NewRegistry(store CacheStore, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{store: store, logger: logger}
}

// ShouldSubscribe reports whether an instrument has any remaining interest:
// at least one viewer or an active alert.
func (r *Registry) ShouldSubscribe(ctx context.Context, sym string) (bool, error) {
	viewers, err := r.store.ViewerCount(ctx, sym)
	if err != nil {
		return false, err
	}
	if viewers > 0 {
		return true, nil
	}
	return r.store.IsPersistent(ctx, sym)
}

// FilterSubscribable returns the subset of syms with remaining interest,
// resolved in a single pipelined round-trip.
func (r *Registry) FilterSubscribable(ctx context.Context, syms []string) ([]string, error) {
	if len(syms) == 0 {
		return nil, nil
	}

	flags, err := r.store.InterestFlags(ctx, syms)
	if err != nil {
		return nil, err
	}

	out := make([]string, 0, len(syms))
	for _, sym := range syms {
		f := flags[sym]
		if f.Viewers > 0 || f.Persistent {
			out = append(out, sym)
		}
	}
	return out, nil
}

// ActiveInstruments returns every instrument the upstream connection must
// carry: the union of viewer-backed and alert-backed stocks, filtered down
// to those with remaining interest. Used to rebuild the subscription set
// after a reconnect.
func (r *Registry) ActiveInstruments(ctx context.Context) ([]string, error) {
	global, err := r.store.GlobalStocks(ctx)
	if err != nil {
		return nil, err
	}
	persistent, err := r.store.PersistentStocks(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(global)+len(persistent))
	union := make([]string, 0, len(global)+len(persistent))
	for _, sym := range global {
		if !seen[sym] {
			seen[sym] = true
			union = append(union, sym)
		}
	}
	for _, sym := range persistent {
		if !seen[sym] {
			seen[sym] = true
			union = append(union, sym)
		}
	}

	return r.FilterSubscribable(ctx, union)
}
