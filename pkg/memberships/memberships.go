// Package memberships persists the records that link a newly registered
// person to the entity an invitation pointed at.
package memberships

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrAlreadyExists is returned when the invitation already produced a
// membership for the same owner
var ErrAlreadyExists = errors.New("membership already exists")

// Membership associates a person with an owning entity
type Membership struct {
	ID           uuid.UUID `json:"id"`
	InvitationID string    `json:"invitation_id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	OwnerID      string    `json:"owner_id"`
	AccountID    string    `json:"account_id"`
	CreatedAt    time.Time `json:"created_at"`
}

// Store creates memberships
type Store interface {
	Create(ctx context.Context, m *Membership) (*Membership, error)
}

// PostgresStore implements Store using PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgresStore
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Create inserts m. At most one membership exists per (invitation, owner);
// a second attempt returns ErrAlreadyExists and writes nothing.
func (s *PostgresStore) Create(ctx context.Context, m *Membership) (*Membership, error) {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}

	query := `
		INSERT INTO memberships (id, invitation_id, email, name, owner_id, account_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (invitation_id, owner_id) DO NOTHING
		RETURNING created_at
	`
	err := s.db.QueryRowContext(ctx, query,
		m.ID, m.InvitationID, m.Email, m.Name, m.OwnerID, m.AccountID,
	).Scan(&m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAlreadyExists
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create membership: %w", err)
	}

	return m, nil
}
