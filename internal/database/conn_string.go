package database

import (
	"fmt"
	"net/url"

	"github.com/tradewatch/alertd/internal/config"
)

// BuildConnString renders a postgres:// URL for pgxpool from the database
// config section. The password is query-escaped since it may carry URL
// metacharacters; sslmode falls back to "prefer" when unset.
func BuildConnString(cfg config.DBConfig) string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "prefer"
	}

	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.User,
		url.QueryEscape(cfg.Password),
		cfg.Host,
		cfg.Port,
		cfg.Name,
		sslMode,
	)
}
