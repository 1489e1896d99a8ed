package db

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

const (
	DriverPostgres = "pgx"
	DriverSQLite   = "sqlite3"
)

type Database struct {
	Conn   *sql.DB
	Driver string
}

func NewDatabase(driver, dsn string) (*Database, error) {
	if driver != DriverPostgres && driver != DriverSQLite {
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}
	conn, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}

	if driver == DriverSQLite {
		// SQLite allows a single writer; one connection also keeps ":memory:" databases shared.
		conn.SetMaxOpenConns(1)
	} else {
		conn.SetMaxOpenConns(25)
		conn.SetMaxIdleConns(25)
		conn.SetConnMaxLifetime(5 * time.Minute)
	}
	return &Database{Conn: conn, Driver: driver}, nil
}

func (d *Database) Close() error {
	return d.Conn.Close()
}

// Rebind rewrites "?" placeholders into the driver's native form.
func (d *Database) Rebind(query string) string {
	if d.Driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (d *Database) AutoMigrate() error {
	queries := postgresSchema
	if d.Driver == DriverSQLite {
		queries = sqliteSchema
	}

	for _, query := range queries {
		_, err := d.Conn.Exec(query)
		if err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS message (
            id BIGSERIAL PRIMARY KEY,
            content TEXT NOT NULL,
            username TEXT NOT NULL,
            date_sent TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
        )`,

	`CREATE INDEX IF NOT EXISTS message_username_id_idx ON message (username, id)`,

	`CREATE TABLE IF NOT EXISTS ip_registry (
            id BIGSERIAL PRIMARY KEY,
            address TEXT UNIQUE NOT NULL,
            date_created TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
        )`,

	`CREATE TABLE IF NOT EXISTS account (
            username VARCHAR(64) PRIMARY KEY,
            password_hash TEXT NOT NULL,
            salt TEXT NOT NULL,
            date_created TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
            ip_reference BIGINT REFERENCES ip_registry(id) ON DELETE SET NULL
        )`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS message (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            content TEXT NOT NULL,
            username TEXT NOT NULL,
            date_sent TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
        )`,

	`CREATE INDEX IF NOT EXISTS message_username_id_idx ON message (username, id)`,

	`CREATE TABLE IF NOT EXISTS ip_registry (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            address TEXT UNIQUE NOT NULL,
            date_created TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
        )`,

	`CREATE TABLE IF NOT EXISTS account (
            username TEXT PRIMARY KEY,
            password_hash TEXT NOT NULL,
            salt TEXT NOT NULL,
            date_created TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
            ip_reference INTEGER REFERENCES ip_registry(id) ON DELETE SET NULL
        )`,
}
