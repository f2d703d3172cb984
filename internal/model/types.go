package model

import (
	"errors"
	"time"
)

// Position is the direction of a trading plan.
type Position string

const (
	Long  Position = "long"
	Short Position = "short"
)

// Valid reports whether p is a known position.
func (p Position) Valid() bool {
	return p == Long || p == Short
}

// Status is the lifecycle state of an alert.
type Status string

const (
	StatusPending   Status = "pending"
	StatusNearEntry Status = "nearEntry"
	StatusEnter     Status = "enter"
	StatusRunning   Status = "running"
	StatusSLHit     Status = "slHit"
	StatusTargetHit Status = "targetHit"
)

// Terminal reports whether s is a final state. Terminal alerts are never
// re-evaluated.
func (s Status) Terminal() bool {
	return s == StatusSLHit || s == StatusTargetHit
}

// nearEntryBandPct is the maximum distance from entry (in percent of entry)
// at which a pending alert is reported as nearEntry.
const nearEntryBandPct = 1.0

// User holds the delivery handles for a notification recipient. Users are
// owned by the external auth subsystem; the engine only reads them.
type User struct {
	ID              int64
	Email           string
	DeviceToken     string // push handle, empty = no push
	TelegramChatID  string
	TelegramEnabled bool
}

// Alert is a user-owned trading plan evaluated against the live price stream.
type Alert struct {
	ID            int64
	UserID        int64
	InstrumentKey string
	TradingSymbol string // display symbol (e.g. "RELIANCE")
	Position      Position
	EntryPrice    float64
	StopLoss      float64
	TargetPrice   float64
	Level         int
	TradeType     string
	Status        Status
	EntryCrossed  bool
	LastLTP       *float64 // last price the alert was evaluated at, nil before first tick
	CMP           *float64 // legacy price-at-creation; read as a LastLTP fallback, never written
	CreatedAt     time.Time

	// Owner, hydrated on load. Alerts without a valid owner are dropped.
	User *User
}

// ErrInvalidLevels is returned by Validate when the price levels do not form
// a coherent plan for the alert's position.
var ErrInvalidLevels = errors.New("stop loss, entry and target are inconsistent for position")

// Validate checks the price-level invariant: for a long plan
// SL < entry <= target, for a short plan target <= entry < SL.
func (a *Alert) Validate() error {
	if !a.Position.Valid() {
		return errors.New("unknown position: " + string(a.Position))
	}
	switch a.Position {
	case Long:
		if !(a.StopLoss < a.EntryPrice && a.EntryPrice <= a.TargetPrice) {
			return ErrInvalidLevels
		}
	case Short:
		if !(a.TargetPrice <= a.EntryPrice && a.EntryPrice < a.StopLoss) {
			return ErrInvalidLevels
		}
	}
	return nil
}

// PrevLTP returns the reference price for transition evaluation: the last
// evaluated price, falling back to the price at creation, falling back to the
// entry price.
func (a *Alert) PrevLTP() float64 {
	if a.LastLTP != nil {
		return *a.LastLTP
	}
	if a.CMP != nil {
		return *a.CMP
	}
	return a.EntryPrice
}

// SLHitAt reports whether ltp is at or beyond the stop loss.
func (a *Alert) SLHitAt(ltp float64) bool {
	if a.Position == Short {
		return ltp >= a.StopLoss
	}
	return ltp <= a.StopLoss
}

// TargetHitAt reports whether ltp is at or beyond the target.
func (a *Alert) TargetHitAt(ltp float64) bool {
	if a.Position == Short {
		return ltp <= a.TargetPrice
	}
	return ltp >= a.TargetPrice
}

// EnterAt reports whether ltp is strictly inside the activation zone between
// stop loss and entry.
func (a *Alert) EnterAt(ltp float64) bool {
	if a.Position == Short {
		return ltp > a.EntryPrice && ltp < a.StopLoss
	}
	return ltp < a.EntryPrice && ltp > a.StopLoss
}

// CrossedEntryAt reports whether the price moved across the entry level
// between prev and ltp, in the profitable direction.
func (a *Alert) CrossedEntryAt(prev, ltp float64) bool {
	if a.Position == Short {
		return prev > a.EntryPrice && ltp <= a.EntryPrice
	}
	return prev < a.EntryPrice && ltp >= a.EntryPrice
}

// NearEntryAt reports whether ltp is on the wrong side of entry but within
// the near-entry band.
func (a *Alert) NearEntryAt(ltp float64) bool {
	if a.EntryPrice == 0 {
		return false
	}
	if a.Position == Short {
		return ltp < a.EntryPrice && (a.EntryPrice-ltp)/a.EntryPrice*100 <= nearEntryBandPct
	}
	return ltp > a.EntryPrice && (ltp-a.EntryPrice)/a.EntryPrice*100 <= nearEntryBandPct
}

// StillRunningAt reports whether ltp remains between entry and target without
// touching either exit level.
func (a *Alert) StillRunningAt(ltp float64) bool {
	if a.Position == Short {
		return ltp > a.TargetPrice && ltp < a.StopLoss
	}
	return ltp >= a.EntryPrice && ltp < a.TargetPrice && ltp > a.StopLoss
}

// Tick is a decoded price update for one instrument.
type Tick struct {
	InstrumentKey string  `json:"symbol"`
	LTP           float64 `json:"ltp"`
	Close         float64 `json:"cp,omitempty"` // previous close, 0 if not in the frame
	TS            int64   `json:"ts,omitempty"` // exchange timestamp, ms since epoch
}
