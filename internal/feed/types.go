package feed

import (
	"context"
	"errors"
)

// Status is the connection lifecycle state.
type Status int

const (
	// StatusDisconnected means no connection attempt is in progress.
	StatusDisconnected Status = iota

	// StatusConnecting means authorization or dialing is in progress.
	StatusConnecting

	// StatusOpen means the socket is connected and streaming.
	StatusOpen

	// StatusClosing means a graceful shutdown is in progress.
	StatusClosing

	// StatusExhausted means the reconnect budget was spent without success.
	StatusExhausted
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusOpen:
		return "open"
	case StatusClosing:
		return "closing"
	case StatusExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// Client errors.
var (
	// ErrNotConnected is returned when a send is attempted while the
	// socket is down. Callers resubscribe on reconnect, so this is
	// usually safe to ignore.
	ErrNotConnected = errors.New("feed: not connected")

	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("feed: already started")

	// ErrExhausted is returned when every reconnect attempt failed.
	ErrExhausted = errors.New("feed: reconnect attempts exhausted")
)

// TokenSource supplies the upstream bearer token.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// SubscriptionSource supplies the full set of instrument keys that must be
// subscribed after a (re)connect.
type SubscriptionSource interface {
	ActiveInstruments(ctx context.Context) ([]string, error)
}
