// Package subs reference-counts upstream subscription interest per
// instrument. Interest comes from two sources: interactive viewers (session
// rooms) and instruments carrying active alerts (the persistent set). A
// background reconciler keeps the persistent set aligned with the durable
// store and drives upstream subscribe/unsubscribe calls.
package subs
