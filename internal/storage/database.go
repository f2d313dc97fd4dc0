package storage

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/malakmagdy1/RealStateFlutter/internal/config"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Open connects to the database configured for dbType and verifies it with a ping.
func Open(dbType string, cfg *config.Config) (*sql.DB, error) {
	dialect, ok := ParseDialect(dbType)
	if !ok {
		return nil, fmt.Errorf("unsupported driver: %s", dbType)
	}
	dbCfg, ok := cfg.Databases[string(dialect)]
	if !ok {
		dbCfg, ok = cfg.Databases[dbType]
	}
	if !ok {
		return nil, fmt.Errorf("database config for %s not found", dbType)
	}

	var (
		db  *sql.DB
		err error
	)

	switch dialect {
	case SQLite:
		if dbCfg.DSN == "" {
			return nil, fmt.Errorf("sqlite dsn must be provided")
		}
		db, err = sql.Open("sqlite3", sqliteDSN(dbCfg.DSN))
		if err != nil {
			return nil, fmt.Errorf("open sqlite database: %w", err)
		}
		// one connection: keeps ":memory:" databases coherent and serializes writers
		db.SetMaxOpenConns(1)
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable sqlite foreign keys: %w", err)
		}
	case MySQL:
		dsn := dbCfg.DSN
		if dsn == "" {
			params := dbCfg.Params
			if params == "" {
				params = "parseTime=true&charset=utf8mb4&loc=UTC"
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
		db, err = sql.Open("mysql", dsn)
		if err != nil {
			return nil, fmt.Errorf("open mysql database: %w", err)
		}
	case Postgres:
		dsn := dbCfg.DSN
		if dsn == "" {
			port := dbCfg.Port
			if port == 0 {
				port = 5432
			}
			params := dbCfg.Params
			if params == "" {
				params = "sslmode=disable"
			}
			dsn = fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s %s",
				dbCfg.Host, port, dbCfg.Username, dbCfg.Password, dbCfg.DBName, params)
		}
		db, err = sql.Open("postgres", dsn)
		if err != nil {
			return nil, fmt.Errorf("open postgres database: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// Migrate ensures the required tables are present.
func Migrate(db *sql.DB, driver string) error {
	dialect, ok := ParseDialect(driver)
	if !ok {
		return fmt.Errorf("unsupported driver for migration: %s", driver)
	}
	var stmts []string
	switch dialect {
	case SQLite:
		stmts = sqliteSchema
	case MySQL:
		stmts = mysqlSchema
	case Postgres:
		stmts = postgresSchema
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate (%s): %w", driver, err)
		}
	}
	return nil
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		email TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL DEFAULT '',
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
	`CREATE TABLE IF NOT EXISTS ai_conversations (
		id TEXT PRIMARY KEY,
		user_id INTEGER NOT NULL,
		title TEXT,
		language TEXT NOT NULL DEFAULT 'ar',
		messages_count INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_ai_conversations_user ON ai_conversations(user_id, updated_at DESC)`,
	`CREATE TABLE IF NOT EXISTS ai_messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		conversation_id TEXT NOT NULL,
		role TEXT NOT NULL CHECK (role IN ('user', 'assistant')),
		content TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		FOREIGN KEY(conversation_id) REFERENCES ai_conversations(id) ON DELETE CASCADE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_ai_messages_conversation ON ai_messages(conversation_id, created_at, id)`,
	`CREATE TABLE IF NOT EXISTS companies (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS compounds (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		company_id INTEGER,
		project TEXT NOT NULL,
		location TEXT NOT NULL DEFAULT '',
		total_units INTEGER NOT NULL DEFAULT 0,
		available_units INTEGER NOT NULL DEFAULT 0,
		FOREIGN KEY(company_id) REFERENCES companies(id) ON DELETE SET NULL
	)`,
	`CREATE TABLE IF NOT EXISTS units (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		compound_id INTEGER,
		unit_number TEXT NOT NULL DEFAULT '',
		unit_type TEXT NOT NULL DEFAULT '',
		area REAL NOT NULL DEFAULT 0,
		price REAL NOT NULL DEFAULT 0,
		bedrooms INTEGER NOT NULL DEFAULT 0,
		bathrooms INTEGER NOT NULL DEFAULT 0,
		floor TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT '',
		view TEXT NOT NULL DEFAULT '',
		finishing TEXT NOT NULL DEFAULT '',
		delivery_date TEXT NOT NULL DEFAULT '',
		available INTEGER NOT NULL DEFAULT 1,
		FOREIGN KEY(compound_id) REFERENCES compounds(id) ON DELETE SET NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_units_compound ON units(compound_id)`,
}

var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
		email VARCHAR(255) NOT NULL UNIQUE,
		name VARCHAR(255) NOT NULL DEFAULT '',
		password_hash VARCHAR(255) NOT NULL,
		created_at DATETIME(6) NOT NULL,
		PRIMARY KEY (id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS user_tokens (
		token VARCHAR(255) NOT NULL PRIMARY KEY,
		user_id BIGINT UNSIGNED NOT NULL,
		created_at DATETIME(6) NOT NULL,
		expires_at DATETIME(6) NOT NULL,
		INDEX idx_user_tokens_user (user_id),
		CONSTRAINT fk_user_tokens_user FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS ai_conversations (
		id CHAR(36) NOT NULL,
		user_id BIGINT UNSIGNED NOT NULL,
		title VARCHAR(255) NULL,
		language VARCHAR(5) NOT NULL DEFAULT 'ar',
		messages_count INT NOT NULL DEFAULT 0,
		created_at DATETIME(6) NOT NULL,
		updated_at DATETIME(6) NOT NULL,
		PRIMARY KEY (id),
		INDEX idx_ai_conversations_user (user_id, updated_at),
		CONSTRAINT fk_ai_conversations_user FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS ai_messages (
		id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
		conversation_id CHAR(36) NOT NULL,
		role ENUM('user', 'assistant') NOT NULL,
		content TEXT NOT NULL,
		created_at DATETIME(6) NOT NULL,
		PRIMARY KEY (id),
		INDEX idx_ai_messages_conversation (conversation_id, created_at, id),
		CONSTRAINT fk_ai_messages_conversation FOREIGN KEY (conversation_id) REFERENCES ai_conversations(id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS companies (
		id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
		name VARCHAR(255) NOT NULL,
		PRIMARY KEY (id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS compounds (
		id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
		company_id BIGINT UNSIGNED NULL,
		project VARCHAR(255) NOT NULL,
		location VARCHAR(255) NOT NULL DEFAULT '',
		total_units INT NOT NULL DEFAULT 0,
		available_units INT NOT NULL DEFAULT 0,
		PRIMARY KEY (id),
		CONSTRAINT fk_compounds_company FOREIGN KEY (company_id) REFERENCES companies(id) ON DELETE SET NULL
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS units (
		id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
		compound_id BIGINT UNSIGNED NULL,
		unit_number VARCHAR(100) NOT NULL DEFAULT '',
		unit_type VARCHAR(100) NOT NULL DEFAULT '',
		area DECIMAL(12,2) NOT NULL DEFAULT 0,
		price DECIMAL(16,2) NOT NULL DEFAULT 0,
		bedrooms INT NOT NULL DEFAULT 0,
		bathrooms INT NOT NULL DEFAULT 0,
		floor VARCHAR(50) NOT NULL DEFAULT '',
		status VARCHAR(50) NOT NULL DEFAULT '',
		view VARCHAR(100) NOT NULL DEFAULT '',
		finishing VARCHAR(100) NOT NULL DEFAULT '',
		delivery_date VARCHAR(50) NOT NULL DEFAULT '',
		available TINYINT(1) NOT NULL DEFAULT 1,
		PRIMARY KEY (id),
		INDEX idx_units_compound (compound_id),
		CONSTRAINT fk_units_compound FOREIGN KEY (compound_id) REFERENCES compounds(id) ON DELETE SET NULL
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id BIGSERIAL PRIMARY KEY,
		email VARCHAR(255) NOT NULL UNIQUE,
		name VARCHAR(255) NOT NULL DEFAULT '',
		password_hash VARCHAR(255) NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS user_tokens (
		token VARCHAR(255) PRIMARY KEY,
		user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		created_at TIMESTAMPTZ NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_user_tokens_user ON user_tokens(user_id)`,
	`CREATE TABLE IF NOT EXISTS ai_conversations (
		id UUID PRIMARY KEY,
		user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		title VARCHAR(255),
		language VARCHAR(5) NOT NULL DEFAULT 'ar',
		messages_count INT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_ai_conversations_user ON ai_conversations(user_id, updated_at DESC)`,
	`CREATE TABLE IF NOT EXISTS ai_messages (
		id BIGSERIAL PRIMARY KEY,
		conversation_id UUID NOT NULL REFERENCES ai_conversations(id) ON DELETE CASCADE,
		role VARCHAR(16) NOT NULL CHECK (role IN ('user', 'assistant')),
		content TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_ai_messages_conversation ON ai_messages(conversation_id, created_at, id)`,
	`CREATE TABLE IF NOT EXISTS companies (
		id BIGSERIAL PRIMARY KEY,
		name VARCHAR(255) NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS compounds (
		id BIGSERIAL PRIMARY KEY,
		company_id BIGINT REFERENCES companies(id) ON DELETE SET NULL,
		project VARCHAR(255) NOT NULL,
		location VARCHAR(255) NOT NULL DEFAULT '',
		total_units INT NOT NULL DEFAULT 0,
		available_units INT NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS units (
		id BIGSERIAL PRIMARY KEY,
		compound_id BIGINT REFERENCES compounds(id) ON DELETE SET NULL,
		unit_number VARCHAR(100) NOT NULL DEFAULT '',
		unit_type VARCHAR(100) NOT NULL DEFAULT '',
		area NUMERIC(12,2) NOT NULL DEFAULT 0,
		price NUMERIC(16,2) NOT NULL DEFAULT 0,
		bedrooms INT NOT NULL DEFAULT 0,
		bathrooms INT NOT NULL DEFAULT 0,
		floor VARCHAR(50) NOT NULL DEFAULT '',
		status VARCHAR(50) NOT NULL DEFAULT '',
		view VARCHAR(100) NOT NULL DEFAULT '',
		finishing VARCHAR(100) NOT NULL DEFAULT '',
		delivery_date VARCHAR(50) NOT NULL DEFAULT '',
		available BOOLEAN NOT NULL DEFAULT TRUE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_units_compound ON units(compound_id)`,
}

// sqliteDSN makes every transaction take the write lock on BEGIN so two
// concurrent writers fail fast instead of deadlocking on lock upgrade.
func sqliteDSN(dsn string) string {
	if strings.Contains(dsn, "_txlock=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_txlock=immediate"
}
