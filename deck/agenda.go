// Package deck serves the presentation content around the login: the agenda,
// a generated title and background gradients.
package deck

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

// AgendaItem is one row of the agenda slide.
type AgendaItem struct {
	ID        int64  `json:"id"`
	Number    string `json:"number"`
	Title     string `json:"title"`
	Duration  string `json:"duration"`
	SortOrder int    `json:"sort_order"`
}

// AgendaStore reads the agenda from SQLite.
type AgendaStore struct {
	db *sql.DB
}

// OpenAgendaStore opens the database at dsn and applies pending migrations.
func OpenAgendaStore(dsn string) (*AgendaStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open agenda db: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &AgendaStore{db: db}
	if err := s.ApplyMigrations(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate agenda db: %w", err)
	}
	return s, nil
}

// ApplyMigrations runs the embedded migrations up to the latest version.
func (s *AgendaStore) ApplyMigrations() error {
	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return err
	}
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return err
	}
	instance, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return err
	}
	if err := instance.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// Close releases the database.
func (s *AgendaStore) Close() error { return s.db.Close() }

// Ping checks the database is reachable.
func (s *AgendaStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Items returns the agenda ordered by sort_order.
func (s *AgendaStore) Items(ctx context.Context) ([]AgendaItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, number, title, duration, sort_order
		FROM presentation_agenda
		ORDER BY sort_order`)
	if err != nil {
		return nil, fmt.Errorf("query agenda: %w", err)
	}
	defer rows.Close()

	items := []AgendaItem{}
	for rows.Next() {
		var it AgendaItem
		if err := rows.Scan(&it.ID, &it.Number, &it.Title, &it.Duration, &it.SortOrder); err != nil {
			return nil, fmt.Errorf("scan agenda: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}
