// Package database manages the PostgreSQL connection pool for the durable
// alert store.
package database
