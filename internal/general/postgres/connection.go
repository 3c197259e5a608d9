package postgres

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"taxi-tracking/internal/general/config"
	"taxi-tracking/internal/general/logger"

	"github.com/jackc/pgx/v5/pgxpool"
)

// NewPool connects to the database section of cfg and pings it.
func NewPool(ctx context.Context, db config.Database, log *logger.Logger) (*pgxpool.Pool, error) {
	start := time.Now()

	u := &url.URL{
		Scheme:   "postgres",
		Host:     net.JoinHostPort(db.Host, strconv.Itoa(db.Port)),
		Path:     "/" + db.Name,
		User:     url.UserPassword(db.User, db.Password),
		RawQuery: url.Values{"sslmode": {"disable"}}.Encode(),
	}

	log.Info(ctx, "db_config_check", "connecting to PostgreSQL", map[string]any{
		"host":     db.Host,
		"port":     db.Port,
		"user":     db.User,
		"database": db.Name,
	})

	pcfg, err := pgxpool.ParseConfig(u.String())
	if err != nil {
		return nil, fmt.Errorf("postgres parse dsn: %w", err)
	}
	pcfg.ConnConfig.ConnectTimeout = 5 * time.Second
	if pcfg.ConnConfig.RuntimeParams == nil {
		pcfg.ConnConfig.RuntimeParams = make(map[string]string, 1)
	}
	pcfg.ConnConfig.RuntimeParams["timezone"] = "UTC"
	pcfg.HealthCheckPeriod = 30 * time.Second
	pcfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.NewWithConfig: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}

	log.Info(ctx, "db_connected", "connected to PostgreSQL", map[string]any{
		"duration_ms": time.Since(start).Milliseconds(),
	})
	return pool, nil
}
