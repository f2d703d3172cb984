// Package users resolves client sessions to user accounts and loads the
// per-user instrument sets the live fan-out needs.
package users
