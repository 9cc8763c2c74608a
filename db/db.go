package db

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"time"

	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"
)

//go:embed migrations/*.sql
var migrations embed.FS

var ErrNoDatabaseURL = errors.New("DATABASE_URL environment variable is not set")

type HeartbeatDB struct {
	DB  *sql.DB
	Log *zerolog.Logger
}

// NewHeartbeatDB opens the database named by DATABASE_URL and checks the connection.
func NewHeartbeatDB(log *zerolog.Logger) (*HeartbeatDB, error) {
	connStr := os.Getenv("DATABASE_URL")
	if connStr == "" {
		log.Error().Msg("DATABASE_URL environment variable is not set")
		return nil, ErrNoDatabaseURL
	}

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		log.Error().Err(err).Msg("Failed to open database connection")
		return nil, err
	}

	// Check we are actually connected
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		log.Error().Err(err).Msg("Database connection failed during ping")
		db.Close()
		return nil, err
	}

	return &HeartbeatDB{DB: db, Log: log}, nil
}

func (h *HeartbeatDB) Close() error {
	if err := h.DB.Close(); err != nil {
		return err
	}
	h.Log.Info().Msg("database connection closed")
	return nil
}

// Migrate applies the embedded goose migrations.
func (h *HeartbeatDB) Migrate() error {
	goose.SetBaseFS(migrations)
	defer goose.SetBaseFS(nil)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	if err := goose.Up(h.DB, "migrations"); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	h.Log.Info().Msg("Tables initialized successfully")
	return nil
}

// CommitTransaction commits tx and rolls it back if the commit fails.
func (h *HeartbeatDB) CommitTransaction(tx *sql.Tx) error {
	if err := tx.Commit(); err != nil {
		_ = tx.Rollback()
		return err
	}
	return nil
}

func (h *HeartbeatDB) execQuery(ctx context.Context, tx *sql.Tx, query string, args ...interface{}) error {
	if h.DB == nil {
		return fmt.Errorf("database connection is not established")
	}

	_, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to execute query: %w", err)
	}
	return nil
}
