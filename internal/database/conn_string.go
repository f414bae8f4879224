package database

import (
	"fmt"
	"net/url"

	"github.com/rickgao/camera-gateway/internal/config"
)

// BuildConnString builds a PostgreSQL connection URL from cfg. The password
// is query-escaped; an empty SSL mode becomes "prefer".
func BuildConnString(cfg config.DBConfig) string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = config.DefaultDBSSLMode
	}

	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.User, url.QueryEscape(cfg.Password), cfg.Host, cfg.Port, cfg.Name, sslMode)
}
