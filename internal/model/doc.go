// Package model defines shared data types used across the alert engine.
//
// Conventions:
//   - Prices: float64 in the instrument's quote currency
//   - Timestamps: time.Time in UTC; wire timestamps are ms since Unix epoch
//   - IDs: int64 for alerts and users, exchange-qualified string keys for
//     instruments (e.g. "NSE_EQ|INE062A01020")
package model
