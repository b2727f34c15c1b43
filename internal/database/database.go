// Package database opens the SQL connection backing the local user store.
// The client (SQLite or PostgreSQL) is chosen by configuration.
package database

import (
	"context"
	"crypto/tls"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/driver/sqliteshim"
	"github.com/uptrace/bun/extra/bundebug"
	"go.uber.org/zap"

	"github.com/eugenenazirov/stoic-cms/internal/config"
)

// Open connects to the configured database and verifies the connection.
func Open(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (*bun.DB, error) {
	var (
		db  *bun.DB
		err error
	)
	if cfg.IsSQLite() {
		db, err = openSQLite(cfg)
	} else {
		db, err = openPostgres(cfg)
	}
	if err != nil {
		return nil, err
	}

	if cfg.Debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}

	pingCtx := ctx
	if cfg.Pool.AcquireTimeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, cfg.Pool.AcquireTimeout)
		defer cancel()
	}
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping %s database: %w", cfg.Client, err)
	}

	logger.Info("database connection established",
		zap.String("client", cfg.Client),
		zap.String("target", target(cfg)),
	)
	return db, nil
}

func openSQLite(cfg config.DatabaseConfig) (*bun.DB, error) {
	if dir := filepath.Dir(cfg.Filename); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite directory %s: %w", dir, err)
		}
	}

	sqldb, err := sql.Open(sqliteshim.ShimName, sqliteDSN(cfg.Filename))
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// single writer; also keeps an in-memory database alive
	sqldb.SetMaxOpenConns(1)

	return bun.NewDB(sqldb, sqlitedialect.New()), nil
}

func sqliteDSN(filename string) string {
	if filename == ":memory:" {
		return "file::memory:"
	}
	return "file:" + filename + "?cache=shared"
}

// openPostgres builds the pool without dialing. pgdriver panics on an empty
// user or database name, so both are checked first.
func openPostgres(cfg config.DatabaseConfig) (*bun.DB, error) {
	if strings.TrimSpace(cfg.User) == "" {
		return nil, fmt.Errorf("postgres user is required")
	}
	if strings.TrimSpace(cfg.Name) == "" {
		return nil, fmt.Errorf("postgres database name is required")
	}

	opts := []pgdriver.Option{
		pgdriver.WithAddr(cfg.Address()),
		pgdriver.WithUser(cfg.User),
		pgdriver.WithPassword(cfg.Password),
		pgdriver.WithDatabase(cfg.Name),
		pgdriver.WithApplicationName("stoic-cms"),
	}
	if cfg.SSL {
		opts = append(opts, pgdriver.WithTLSConfig(&tls.Config{
			InsecureSkipVerify: !cfg.SSLRejectUnauthorized, // #nosec G402 - controlled by DATABASE_SSL_REJECT_UNAUTHORIZED
		}))
	} else {
		opts = append(opts, pgdriver.WithInsecure(true))
	}
	if cfg.Pool.AcquireTimeout > 0 {
		opts = append(opts, pgdriver.WithDialTimeout(cfg.Pool.AcquireTimeout))
	}
	if cfg.Schema != "" {
		opts = append(opts, pgdriver.WithConnParams(map[string]interface{}{
			"search_path": cfg.Schema,
		}))
	}

	sqldb := sql.OpenDB(pgdriver.NewConnector(opts...))
	sqldb.SetMaxOpenConns(cfg.Pool.Max)
	sqldb.SetMaxIdleConns(cfg.Pool.Min)
	sqldb.SetConnMaxIdleTime(cfg.Pool.IdleTimeout)

	return bun.NewDB(sqldb, pgdialect.New()), nil
}

func target(cfg config.DatabaseConfig) string {
	if cfg.IsSQLite() {
		return cfg.Filename
	}
	return cfg.Address() + "/" + cfg.Name
}
