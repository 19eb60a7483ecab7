package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"maps-harvester/models"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite" // pure go sqlite driver
)

// Dialect holds what differs between the supported SQL engines
type Dialect struct {
	Name   string
	Driver string
	schema string
	insert string
	// encodeTime converts a capture time into the column's driver value
	encodeTime func(time.Time) any
}

// Postgres stores establishments in a PostgreSQL table
var Postgres = Dialect{
	Name:   "postgres",
	Driver: "postgres",
	schema: `
		CREATE TABLE IF NOT EXISTS establishments (
			name TEXT NOT NULL,
			address TEXT NOT NULL,
			phone TEXT NOT NULL DEFAULT '',
			city TEXT NOT NULL DEFAULT '',
			scraped_at TIMESTAMPTZ,
			PRIMARY KEY (name, address)
		)`,
	insert: `
		INSERT INTO establishments (name, address, phone, city, scraped_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (name, address) DO NOTHING`,
	encodeTime: func(t time.Time) any { return t.UTC() },
}

// SQLite stores establishments in a local database file
var SQLite = Dialect{
	Name:   "sqlite",
	Driver: "sqlite",
	schema: `
		CREATE TABLE IF NOT EXISTS establishments (
			name TEXT NOT NULL,
			address TEXT NOT NULL,
			phone TEXT NOT NULL DEFAULT '',
			city TEXT NOT NULL DEFAULT '',
			scraped_at TEXT,
			PRIMARY KEY (name, address)
		)`,
	insert: `
		INSERT INTO establishments (name, address, phone, city, scraped_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (name, address) DO NOTHING`,
	encodeTime: func(t time.Time) any { return t.UTC().Format(time.RFC3339Nano) },
}

// DB wraps the database connection
type DB struct {
	conn    *sql.DB
	dialect Dialect
}

// Open connects to the database and makes sure the establishments table exists.
// An empty postgres DSN is built from the DB_* environment variables.
func Open(ctx context.Context, dialect Dialect, dsn string) (*DB, error) {
	switch dialect.Name {
	case Postgres.Name:
		if dsn == "" {
			dsn = postgresDSNFromEnv()
		}
	case SQLite.Name:
		if dsn == "" {
			dsn = "establishments.db"
		}
		if dir := filepath.Dir(dsn); dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}

	conn, err := sql.Open(dialect.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dialect.Name == SQLite.Name {
		// one writer; also keeps ":memory:" on a single database
		conn.SetMaxOpenConns(1)
	}

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db := &DB{conn: conn, dialect: dialect}
	if err := db.initSchema(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return db, nil
}

func postgresDSNFromEnv() string {
	host := getEnvOrDefault("DB_HOST", "localhost")
	port := getEnvOrDefault("DB_PORT", "5432")
	user := getEnvOrDefault("DB_USER", "harvester")
	password := getEnvOrDefault("DB_PASSWORD", "")
	dbname := getEnvOrDefault("DB_NAME", "harvester")
	sslmode := getEnvOrDefault("DB_SSLMODE", "disable")

	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		host, port, user, password, dbname, sslmode)
}

func getEnvOrDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) initSchema(ctx context.Context) error {
	if _, err := db.conn.ExecContext(ctx, db.dialect.schema); err != nil {
		return fmt.Errorf("failed to create establishments table: %w", err)
	}
	return nil
}

// LoadAll returns every stored establishment
func (db *DB) LoadAll(ctx context.Context) ([]models.Establishment, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT name, address, phone, city, scraped_at FROM establishments`)
	if err != nil {
		return nil, fmt.Errorf("failed to query establishments: %w", err)
	}
	defer rows.Close()

	var out []models.Establishment
	for rows.Next() {
		var (
			e          models.Establishment
			capturedAt any
		)
		if err := rows.Scan(&e.Name, &e.Address, &e.Phone, &e.Locality, &capturedAt); err != nil {
			return nil, fmt.Errorf("failed to scan establishment: %w", err)
		}
		e.CapturedAt = decodeTime(capturedAt)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read establishments: %w", err)
	}
	return out, nil
}

// Append inserts one establishment. A row with the same identity is left untouched.
func (db *DB) Append(ctx context.Context, e models.Establishment) error {
	var capturedAt any
	if !e.CapturedAt.IsZero() {
		capturedAt = db.dialect.encodeTime(e.CapturedAt)
	}
	_, err := db.conn.ExecContext(ctx, db.dialect.insert, e.Name, e.Address, e.Phone, e.Locality, capturedAt)
	if err != nil {
		return fmt.Errorf("failed to insert establishment: %w", err)
	}
	return nil
}

func decodeTime(v any) time.Time {
	var s string
	switch t := v.(type) {
	case time.Time:
		return t
	case string:
		s = t
	case []byte:
		s = string(t)
	default:
		return time.Time{}
	}
	parsed, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return parsed
}
