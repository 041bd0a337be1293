// Package invitations reads pending invitations addressed to an email
// address. Invitations are written by another workflow; this package never
// mutates them.
package invitations

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// TargetTypePerson marks a target that points at another person. Such
// targets never produce a membership on their own.
const TargetTypePerson = "Person"

// Target is one entity an invitation grants access to
type Target struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// Invitation is a pending offer of association for an email address
type Invitation struct {
	ID           string    `json:"id"`
	TenantID     string    `json:"tenant_id"`
	AcceptableBy string    `json:"acceptable_by"`
	IsDeleted    bool      `json:"is_deleted"`
	InvitedTo    []Target  `json:"invited_to"`
	CreatedAt    time.Time `json:"created_at"`
}

// HasNonPersonTarget reports whether at least one target is not a Person.
// An invitation without targets has none.
func (i *Invitation) HasNonPersonTarget() bool {
	for _, t := range i.InvitedTo {
		if t.Type != TargetTypePerson {
			return true
		}
	}
	return false
}

// Query is a conjunction of equality predicates. Nil/empty fields are ignored.
type Query struct {
	IsDeleted    *bool
	AcceptableBy string
	TenantID     string
}

// Pending returns the query for live invitations addressed to email in tenantID
func Pending(email, tenantID string) Query {
	deleted := false
	return Query{IsDeleted: &deleted, AcceptableBy: email, TenantID: tenantID}
}

// Store reads invitations
type Store interface {
	Find(ctx context.Context, q Query) ([]*Invitation, error)
}

// PostgresStore implements Store using PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgresStore
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Find returns invitations matching q ordered by creation time
func (s *PostgresStore) Find(ctx context.Context, q Query) ([]*Invitation, error) {
	var conds []string
	var args []interface{}

	if q.IsDeleted != nil {
		args = append(args, *q.IsDeleted)
		conds = append(conds, fmt.Sprintf("is_deleted = $%d", len(args)))
	}
	if q.AcceptableBy != "" {
		args = append(args, q.AcceptableBy)
		conds = append(conds, fmt.Sprintf("acceptable_by = $%d", len(args)))
	}
	if q.TenantID != "" {
		args = append(args, q.TenantID)
		conds = append(conds, fmt.Sprintf("tenant_id = $%d", len(args)))
	}

	query := `SELECT id, tenant_id, acceptable_by, is_deleted, invited_to, created_at FROM invitations`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at ASC, id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to find invitations: %w", err)
	}
	defer rows.Close()

	var result []*Invitation
	for rows.Next() {
		inv := &Invitation{}
		var targetsJSON []byte
		if err := rows.Scan(&inv.ID, &inv.TenantID, &inv.AcceptableBy, &inv.IsDeleted, &targetsJSON, &inv.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan invitation: %w", err)
		}
		if len(targetsJSON) > 0 {
			if err := json.Unmarshal(targetsJSON, &inv.InvitedTo); err != nil {
				return nil, fmt.Errorf("failed to decode targets of invitation %s: %w", inv.ID, err)
			}
		}
		result = append(result, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate invitations: %w", err)
	}

	return result, nil
}
