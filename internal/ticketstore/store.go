package ticketstore

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// Store is a read-only view over the ticketing database, used as the
// room-join authorization hook. The records application owns the schema and
// the writes; this process only asks "does the ticket exist" and "is this
// user a participant".
type Store struct {
	db *sql.DB
}

// Open connects to the ticketing database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open ticket store: %w", err)
	}
	db.SetMaxOpenConns(4)

	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// TicketExists reports whether the ticket is present in the store.
func (s *Store) TicketExists(ctx context.Context, ticketID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM tickets WHERE id = ?`, ticketID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("ticket lookup: %w", err)
	}
	return true, nil
}

// IsParticipant reports whether the user is the ticket's requester or listed
// as a participant (assigned agent, collaborator).
func (s *Store) IsParticipant(ctx context.Context, ticketID, userID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `
		SELECT 1 FROM tickets WHERE id = ? AND created_by = ?
		UNION
		SELECT 1 FROM ticket_participants WHERE ticket_id = ? AND user_id = ?`,
		ticketID, userID, ticketID, userID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("participant lookup: %w", err)
	}
	return true, nil
}

// Authorize implements the router's join policy hook: the ticket must exist
// and the user must be one of its participants.
func (s *Store) Authorize(ctx context.Context, ticketID, userID string) error {
	exists, err := s.TicketExists(ctx, ticketID)
	if err != nil {
		return err
	}
	if !exists {
		return ErrTicketNotFound
	}

	ok, err := s.IsParticipant(ctx, ticketID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotParticipant
	}
	return nil
}

// EnsureSchema creates the minimal tables this store reads. Deployments
// point at the records application's live database; this exists for local
// development and tests.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS tickets (
			id         TEXT PRIMARY KEY,
			created_by TEXT NOT NULL,
			status     TEXT NOT NULL DEFAULT 'open'
		);
		CREATE TABLE IF NOT EXISTS ticket_participants (
			ticket_id TEXT NOT NULL,
			user_id   TEXT NOT NULL,
			PRIMARY KEY (ticket_id, user_id)
		);`)
	if err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
