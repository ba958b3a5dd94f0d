package frontdoor

import (
	"context"
	"database/sql"
	"fmt"
	"os/exec"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// requireEmbeddedPostgres skips the test unless initdb/postgres are on
// $PATH, mirroring the teacher's integration tests that skip without a real
// backend available.
func requireEmbeddedPostgres(t *testing.T) {
	t.Helper()
	for _, bin := range []string{"initdb", "postgres"} {
		if _, err := exec.LookPath(bin); err != nil {
			t.Skipf("%s not found on PATH; skipping embedded-backend test", bin)
		}
	}
}

func TestFrontDoorAutoProvisionsAndProxies(t *testing.T) {
	requireEmbeddedPostgres(t)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	fd, err := New(ctx, Options{
		ListenHost:            "127.0.0.1",
		ListenPort:            0,
		BackendStartupTimeout: 30 * time.Second,
		AutoProvision:         true,
		MaxStartupMessageSize: 1 << 20,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer fd.Stop()

	host, port := splitHostPort(t, fd.router.Addr().String())
	user, password := fd.supervisor.AdminCredentials()
	connStr := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=testdb1 sslmode=disable", host, port, user, password)

	db, err := sql.Open("pgx", connStr)
	if err != nil {
		t.Fatalf("sql.Open() error = %v", err)
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, "CREATE TABLE users(id serial primary key, name text)"); err != nil {
		t.Fatalf("CREATE TABLE: %v", err)
	}
	if _, err := db.ExecContext(ctx, "INSERT INTO users(name) VALUES ($1)", "Alice"); err != nil {
		t.Fatalf("INSERT: %v", err)
	}

	var name string
	if err := db.QueryRowContext(ctx, "SELECT name FROM users").Scan(&name); err != nil {
		t.Fatalf("SELECT: %v", err)
	}
	if name != "Alice" {
		t.Errorf("name = %q, want Alice", name)
	}

	stats := fd.Stats()
	found := false
	for _, d := range stats.Databases {
		if d == "testdb1" {
			found = true
		}
	}
	if !found {
		t.Errorf("Stats().Databases = %v, want it to contain testdb1", stats.Databases)
	}
}

func TestFrontDoorStopIsIdempotent(t *testing.T) {
	requireEmbeddedPostgres(t)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	fd, err := New(ctx, Options{
		ListenHost:            "127.0.0.1",
		ListenPort:            0,
		BackendStartupTimeout: 30 * time.Second,
		AutoProvision:         true,
		MaxStartupMessageSize: 1 << 20,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if err := fd.Stop(); err != nil {
		t.Fatalf("first Stop() error = %v", err)
	}
	if err := fd.Stop(); err != nil {
		t.Fatalf("second Stop() error = %v, want nil (idempotent)", err)
	}
}

func splitHostPort(t *testing.T, addr string) (host, port string) {
	t.Helper()
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			return addr[:i], addr[i+1:]
		}
	}
	t.Fatalf("address %q has no port", addr)
	return "", ""
}
