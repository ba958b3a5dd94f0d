// Package admin implements the Admin Channel (spec.md §4.3): a small,
// serialized SQL client used only to bootstrap the ProvisionedSet and to run
// CREATE DATABASE under the Provisioner's single-flight coordination.
package admin

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"pgfrontdoor/pkg/logger"
	"pgfrontdoor/pkg/postgres"
)

// maxConns caps the Admin Channel's concurrency, per spec.md §4.3
// ("max_connections ≤ 5"). The Provisioner already serializes creation of
// any one database name via single-flight; this cap only bounds how many
// distinct names can be created concurrently.
const maxConns = 5

// connectTimeout bounds how long dialing the backend's postgres database
// may take (spec.md §5 "Admin channel connect: ≤15s").
const connectTimeout = 15 * time.Second

// Channel is the Admin Channel.
type Channel struct {
	pool *pgxpool.Pool
}

// Dial connects the Admin Channel to the backend's postgres database at
// host:port, authenticating as user/password.
func Dial(ctx context.Context, host string, port int, user, password string) (*Channel, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=postgres sslmode=disable", host, port, user, password)

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("admin: parse dsn: %w", err)
	}
	poolCfg.MaxConns = maxConns
	poolCfg.ConnConfig.ConnectTimeout = connectTimeout

	dialCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(dialCtx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("admin: connect: %w", err)
	}
	if err := pool.Ping(dialCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("admin: ping: %w", err)
	}
	return &Channel{pool: pool}, nil
}

// Close releases the Admin Channel's connection pool.
func (c *Channel) Close() {
	c.pool.Close()
}

// ExistingDatabases queries the backend catalog for every database name
// except the system templates and "postgres" itself, used to seed the
// ProvisionedSet at startup in persistent mode (spec.md §3 ProvisionedSet).
func (c *Channel) ExistingDatabases(ctx context.Context) ([]string, error) {
	rows, err := c.pool.Query(ctx, `SELECT datname FROM pg_database WHERE datistemplate = false AND datname <> 'postgres'`)
	if err != nil {
		return nil, fmt.Errorf("admin: list databases: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("admin: scan database name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// CreateDatabase runs CREATE DATABASE for name. An "already exists" error
// (SQLSTATE 42P04/23505, or a message containing "already exists") is
// treated as success, per spec.md §4.3's error mapping.
func (c *Channel) CreateDatabase(ctx context.Context, name string) error {
	stmt := "CREATE DATABASE " + postgres.QuoteIdentifier(name)
	_, err := c.pool.Exec(ctx, stmt)
	if err == nil {
		return nil
	}
	if isAlreadyExists(err) {
		logger.Debug("admin: database %q already exists, treating as success", name)
		return nil
	}
	return fmt.Errorf("admin: create database %q: %w", name, err)
}

func isAlreadyExists(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == "42P04" || pgErr.Code == "23505" {
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "already exists")
}
