package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"sambatan-service/internal/models"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// GetOffering retrieves the catalog read model for an offering
func (s *Store) GetOffering(ctx context.Context, id string) (*models.Offering, error) {
	var offering models.Offering
	err := s.db.GetContext(ctx, &offering, "SELECT * FROM offerings WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("offering not found: %s", id)
	}
	if err != nil {
		return nil, err
	}
	return &offering, nil
}

// GetOfferings retrieves all offerings
func (s *Store) GetOfferings(ctx context.Context) ([]models.Offering, error) {
	var offerings []models.Offering
	err := s.db.SelectContext(ctx, &offerings, "SELECT * FROM offerings ORDER BY id")
	return offerings, err
}

// IsEventProcessed checks if an inbound event has been processed
func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)", eventID)
	return exists, err
}

// MarkEventProcessed marks an inbound event as processed
func (s *Store) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType)
	return err
}
