package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type Config struct {
	Host     string
	Port     string
	Name     string
	User     string
	Password string
}

// Database wraps the SQL pool so callers can share one handle.
type Database struct {
	SQL *sql.DB
	cfg Config
}

// ConnectFromEnv opens the Postgres pool using DB_* environment variables.
func ConnectFromEnv(ctx context.Context) (*Database, error) {
	database := &Database{cfg: loadConfigFromEnv()}

	pool, err := sql.Open("pgx", database.DSN())
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	pool.SetMaxOpenConns(10)
	pool.SetConnMaxIdleTime(5 * time.Minute)
	database.SQL = pool

	if err := database.PingContext(ctx); err != nil {
		return database, fmt.Errorf("database ping failed: %w", err)
	}
	return database, nil
}

func (d *Database) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s dbname=%s user=%s password=%s sslmode=disable",
		d.cfg.Host,
		d.cfg.Port,
		d.cfg.Name,
		d.cfg.User,
		d.cfg.Password,
	)
}

func (d *Database) PingContext(ctx context.Context) error {
	if d == nil || d.SQL == nil {
		return fmt.Errorf("database is not initialized")
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return d.SQL.PingContext(ctx)
}

func (d *Database) Close() error {
	if d == nil || d.SQL == nil {
		return nil
	}
	return d.SQL.Close()
}

func loadConfigFromEnv() Config {
	return Config{
		Host:     getenv("DB_HOST", "localhost"),
		Port:     getenv("DB_PORT", "5432"),
		Name:     getenv("DB_NAME", "courseadmin"),
		User:     getenv("DB_USER", "postgres"),
		Password: getenv("DB_PASS", "postgres"),
	}
}

func getenv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
