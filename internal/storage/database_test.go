package storage

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/nickigann03/ai-secretary/internal/config"
)

func TestOpenMemoryAndMigrate(t *testing.T) {
	cfg := &config.Config{Databases: map[string]config.DatabaseConfig{"sqlite3": {DSN: ":memory:"}}}
	db, err := Open("sqlite", cfg)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	if err := Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	// idempotent
	if err := Migrate(db); err != nil {
		t.Fatalf("second migrate: %v", err)
	}

	id, err := InsertID(context.Background(), db,
		`INSERT INTO users (username, password_hash, created_at) VALUES (?, ?, ?)`,
		"alice", "hash", time.Now().UTC())
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if id <= 0 {
		t.Fatalf("expected positive id, got %d", id)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	cfg := &config.Config{Databases: map[string]config.DatabaseConfig{"oracle": {}}}
	if _, err := Open("oracle", cfg); err == nil {
		t.Fatalf("expected unsupported driver error")
	}
	if _, err := Open("mysql", cfg); err == nil {
		t.Fatalf("expected missing config error")
	}
}

func TestMySQLDSNReportsMatchedRows(t *testing.T) {
	cases := map[string]config.DatabaseConfig{
		"composed": {Username: "app", Password: "pw", Host: "db", Port: 3306, DBName: "minutes"},
		"explicit": {DSN: "app:pw@tcp(db:3306)/minutes?parseTime=true"},
		"params":   {Username: "app", Password: "pw", Host: "db", Port: 3306, DBName: "minutes", Params: "parseTime=true&loc=UTC"},
	}
	for name, dbCfg := range cases {
		t.Run(name, func(t *testing.T) {
			dsn, err := mysqlDSN(dbCfg)
			if err != nil {
				t.Fatalf("mysqlDSN: %v", err)
			}
			if !strings.Contains(dsn, "clientFoundRows=true") {
				t.Fatalf("expected clientFoundRows in %q", dsn)
			}
			if !strings.Contains(dsn, "parseTime=true") || !strings.Contains(dsn, "@tcp(db:3306)/minutes") {
				t.Fatalf("unexpected dsn %q", dsn)
			}
		})
	}

	if _, err := mysqlDSN(config.DatabaseConfig{DSN: "not a dsn"}); err == nil {
		t.Fatalf("expected parse error")
	}
}
