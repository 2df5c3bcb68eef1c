package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"

	"github.com/nickigann03/ai-secretary/internal/config"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

// Open connects to the database configured for dbType (sqlite3, mysql or postgres).
func Open(dbType string, cfg *config.Config) (*sqlx.DB, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config required")
	}
	dbCfg, ok := cfg.Databases[normalizeDriver(dbType)]
	if !ok {
		return nil, fmt.Errorf("database config for %s not found", dbType)
	}

	switch normalizeDriver(dbType) {
	case "sqlite3":
		if dbCfg.DSN == "" {
			return nil, fmt.Errorf("sqlite dsn must be provided")
		}
		return OpenDSN("sqlite3", dbCfg.DSN)
	case "mysql":
		dsn, err := mysqlDSN(dbCfg)
		if err != nil {
			return nil, err
		}
		return OpenDSN("mysql", dsn)
	case "postgres":
		dsn := dbCfg.DSN
		if dsn == "" {
			dsn = fmt.Sprintf("postgres://%s:%s@%s:%d/%s",
				dbCfg.Username,
				dbCfg.Password,
				dbCfg.Host,
				dbCfg.Port,
				dbCfg.DBName,
			)
			if dbCfg.Params != "" {
				dsn += "?" + dbCfg.Params
			}
		}
		return OpenDSN("pgx", dsn)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", dbType)
	}
}

// mysqlDSN always reports matched rows so an update that rewrites identical values
// is not mistaken for a lost stage-token race.
func mysqlDSN(dbCfg config.DatabaseConfig) (string, error) {
	dsn := dbCfg.DSN
	if dsn == "" {
		params := dbCfg.Params
		if params == "" {
			params = "parseTime=true"
		}
		dsn = fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?%s",
			dbCfg.Username,
			dbCfg.Password,
			dbCfg.Host,
			dbCfg.Port,
			dbCfg.DBName,
			params,
		)
	}
	parsed, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("parse mysql dsn: %w", err)
	}
	parsed.ClientFoundRows = true
	return parsed.FormatDSN(), nil
}

// OpenDSN opens and pings a database using a registered driver name.
func OpenDSN(driver, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", driver, err)
	}
	if driver == "sqlite3" {
		// each new connection to :memory: would see an empty database
		if strings.Contains(dsn, ":memory:") {
			db.SetMaxOpenConns(1)
		}
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable sqlite foreign keys: %w", err)
		}
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

func normalizeDriver(dbType string) string {
	switch strings.ToLower(dbType) {
	case "sqlite", "sqlite3":
		return "sqlite3"
	case "postgres", "postgresql", "pgx":
		return "postgres"
	default:
		return strings.ToLower(dbType)
	}
}

// InsertID runs an INSERT written with ? placeholders and returns the new row id.
// Postgres has no LastInsertId, so the statement gets a RETURNING clause there.
func InsertID(ctx context.Context, db sqlx.ExtContext, query string, args ...any) (int64, error) {
	if db.DriverName() == "pgx" || db.DriverName() == "postgres" {
		var id int64
		if err := db.QueryRowxContext(ctx, db.Rebind(query+" RETURNING id"), args...).Scan(&id); err != nil {
			return 0, err
		}
		return id, nil
	}
	res, err := db.ExecContext(ctx, db.Rebind(query), args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// Migrate ensures the required tables are present.
func Migrate(db *sqlx.DB) error {
	var stmts []string
	switch db.DriverName() {
	case "sqlite3":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS users (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				username TEXT NOT NULL UNIQUE,
				password_hash TEXT NOT NULL,
				created_at DATETIME NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS user_tokens (
				token TEXT PRIMARY KEY,
				user_id INTEGER NOT NULL,
				created_at DATETIME NOT NULL,
				expires_at DATETIME NOT NULL,
				FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE
			)`,
			`CREATE INDEX IF NOT EXISTS idx_user_tokens_user ON user_tokens(user_id)`,
			`CREATE TABLE IF NOT EXISTS members (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				name TEXT NOT NULL,
				role TEXT NOT NULL,
				email TEXT NOT NULL DEFAULT '',
				created_at DATETIME NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS folders (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				user_id INTEGER NOT NULL,
				name TEXT NOT NULL,
				created_at DATETIME NOT NULL,
				FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE
			)`,
			`CREATE INDEX IF NOT EXISTS idx_folders_user ON folders(user_id)`,
			`CREATE TABLE IF NOT EXISTS meetings (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				user_id INTEGER NOT NULL,
				title TEXT NOT NULL,
				venue TEXT NOT NULL DEFAULT '',
				meeting_date TEXT NOT NULL DEFAULT '',
				agenda TEXT NOT NULL DEFAULT '',
				folder_id INTEGER,
				audio_url TEXT NOT NULL DEFAULT '',
				audio_key TEXT NOT NULL DEFAULT '',
				status TEXT NOT NULL,
				raw_transcript TEXT NOT NULL DEFAULT '[]',
				final_minutes TEXT,
				attendance TEXT,
				stage_token INTEGER NOT NULL DEFAULT 0,
				failure_kind TEXT NOT NULL DEFAULT '',
				failure_message TEXT NOT NULL DEFAULT '',
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL,
				FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE,
				FOREIGN KEY(folder_id) REFERENCES folders(id) ON DELETE SET NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_meetings_user ON meetings(user_id)`,
			`CREATE INDEX IF NOT EXISTS idx_meetings_status ON meetings(status, updated_at)`,
		}
	case "mysql":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS users (
				id BIGINT NOT NULL AUTO_INCREMENT,
				username VARCHAR(255) NOT NULL UNIQUE,
				password_hash VARCHAR(255) NOT NULL,
				created_at DATETIME NOT NULL,
				PRIMARY KEY (id)
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
			`CREATE TABLE IF NOT EXISTS user_tokens (
				token VARCHAR(255) NOT NULL PRIMARY KEY,
				user_id BIGINT NOT NULL,
				created_at DATETIME NOT NULL,
				expires_at DATETIME NOT NULL,
				INDEX idx_user_tokens_user (user_id),
				CONSTRAINT fk_user_tokens_user FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
			`CREATE TABLE IF NOT EXISTS members (
				id BIGINT NOT NULL AUTO_INCREMENT,
				name VARCHAR(255) NOT NULL,
				role VARCHAR(255) NOT NULL,
				email VARCHAR(255) NOT NULL DEFAULT '',
				created_at DATETIME NOT NULL,
				PRIMARY KEY (id)
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
			`CREATE TABLE IF NOT EXISTS folders (
				id BIGINT NOT NULL AUTO_INCREMENT,
				user_id BIGINT NOT NULL,
				name VARCHAR(255) NOT NULL,
				created_at DATETIME NOT NULL,
				PRIMARY KEY (id),
				INDEX idx_folders_user (user_id),
				CONSTRAINT fk_folders_user FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
			`CREATE TABLE IF NOT EXISTS meetings (
				id BIGINT NOT NULL AUTO_INCREMENT,
				user_id BIGINT NOT NULL,
				title VARCHAR(255) NOT NULL,
				venue VARCHAR(255) NOT NULL DEFAULT '',
				meeting_date VARCHAR(32) NOT NULL DEFAULT '',
				agenda MEDIUMTEXT NOT NULL,
				folder_id BIGINT NULL,
				audio_url TEXT NOT NULL,
				audio_key VARCHAR(255) NOT NULL DEFAULT '',
				status VARCHAR(32) NOT NULL,
				raw_transcript MEDIUMTEXT NOT NULL,
				final_minutes MEDIUMTEXT NULL,
				attendance TEXT NULL,
				stage_token BIGINT NOT NULL DEFAULT 0,
				failure_kind VARCHAR(32) NOT NULL DEFAULT '',
				failure_message TEXT NOT NULL,
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL,
				PRIMARY KEY (id),
				INDEX idx_meetings_user (user_id),
				INDEX idx_meetings_status (status, updated_at),
				CONSTRAINT fk_meetings_user FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE,
				CONSTRAINT fk_meetings_folder FOREIGN KEY (folder_id) REFERENCES folders(id) ON DELETE SET NULL
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		}
	case "pgx", "postgres":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS users (
				id BIGSERIAL PRIMARY KEY,
				username TEXT NOT NULL UNIQUE,
				password_hash TEXT NOT NULL,
				created_at TIMESTAMPTZ NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS user_tokens (
				token TEXT PRIMARY KEY,
				user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
				created_at TIMESTAMPTZ NOT NULL,
				expires_at TIMESTAMPTZ NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_user_tokens_user ON user_tokens(user_id)`,
			`CREATE TABLE IF NOT EXISTS members (
				id BIGSERIAL PRIMARY KEY,
				name TEXT NOT NULL,
				role TEXT NOT NULL,
				email TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMPTZ NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS folders (
				id BIGSERIAL PRIMARY KEY,
				user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
				name TEXT NOT NULL,
				created_at TIMESTAMPTZ NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_folders_user ON folders(user_id)`,
			`CREATE TABLE IF NOT EXISTS meetings (
				id BIGSERIAL PRIMARY KEY,
				user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
				title TEXT NOT NULL,
				venue TEXT NOT NULL DEFAULT '',
				meeting_date TEXT NOT NULL DEFAULT '',
				agenda TEXT NOT NULL DEFAULT '',
				folder_id BIGINT REFERENCES folders(id) ON DELETE SET NULL,
				audio_url TEXT NOT NULL DEFAULT '',
				audio_key TEXT NOT NULL DEFAULT '',
				status TEXT NOT NULL,
				raw_transcript TEXT NOT NULL DEFAULT '[]',
				final_minutes TEXT,
				attendance TEXT,
				stage_token BIGINT NOT NULL DEFAULT 0,
				failure_kind TEXT NOT NULL DEFAULT '',
				failure_message TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMPTZ NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_meetings_user ON meetings(user_id)`,
			`CREATE INDEX IF NOT EXISTS idx_meetings_status ON meetings(status, updated_at)`,
		}
	default:
		return fmt.Errorf("unsupported driver for migration: %s", db.DriverName())
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate (%s): %w", db.DriverName(), err)
		}
	}
	return nil
}
