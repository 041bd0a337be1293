package people

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Store persists Person records
type Store interface {
	Find(ctx context.Context, filter Filter) ([]*Person, error)
	FindByID(ctx context.Context, id string) (*Person, error)
	FindRegisteredSince(ctx context.Context, since time.Time, after *Cursor, limit int) ([]*Person, error)
	Create(ctx context.Context, person *Person) (*Person, error)
	CreateAll(ctx context.Context, persons []*Person) ([]*Person, error)
}

// PostgresStore implements Store using PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgresStore
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const personColumns = `id, tenant_id, owner_id, account_id, billing_id, email, name, phone, status, is_active, source, created_at, updated_at`

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPerson(row rowScanner) (*Person, error) {
	p := &Person{}
	var accountID, billingID, phone sql.NullString
	if err := row.Scan(
		&p.ID, &p.TenantID, &p.OwnerID, &accountID, &billingID,
		&p.Email, &p.Name, &phone, &p.Status, &p.IsActive, &p.Source,
		&p.CreatedAt, &p.UpdatedAt,
	); err != nil {
		return nil, err
	}
	p.AccountID = accountID.String
	p.BillingID = billingID.String
	p.Phone = phone.String
	return p, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// buildWhere renders the predicates of w as a conjunction
func buildWhere(w Where) (string, []interface{}) {
	var conds []string
	var args []interface{}
	add := func(column string, value interface{}) {
		args = append(args, value)
		conds = append(conds, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if w.TenantID != "" {
		add("tenant_id", w.TenantID)
	}
	if w.OwnerID != "" {
		add("owner_id", w.OwnerID)
	}
	if w.AccountID != "" {
		add("account_id", w.AccountID)
	}
	if w.Email != "" {
		add("email", w.Email)
	}
	if w.Status != "" {
		add("status", w.Status)
	}
	if w.IsActive != nil {
		add("is_active", *w.IsActive)
	}
	if w.Since != nil {
		args = append(args, *w.Since)
		conds = append(conds, fmt.Sprintf("created_at >= $%d", len(args)))
	}

	if len(conds) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(conds, " AND "), args
}

// Find returns one page of persons matching filter
func (s *PostgresStore) Find(ctx context.Context, filter Filter) ([]*Person, error) {
	filter = filter.Normalize()
	where, args := buildWhere(filter.Where)

	args = append(args, filter.Limit, filter.Skip)
	query := fmt.Sprintf(`SELECT %s FROM persons %s ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`,
		personColumns, where, len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list persons: %w", err)
	}
	defer rows.Close()

	persons := make([]*Person, 0)
	for rows.Next() {
		p, err := scanPerson(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan person: %w", err)
		}
		persons = append(persons, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate persons: %w", err)
	}

	return persons, nil
}

// FindByID returns the person with the given id or ErrNotFound
func (s *PostgresStore) FindByID(ctx context.Context, id string) (*Person, error) {
	query := `SELECT ` + personColumns + ` FROM persons WHERE id = $1`
	p, err := scanPerson(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get person: %w", err)
	}
	return p, nil
}

// FindRegisteredSince returns up to limit registered persons created at or
// after since, oldest first. Pass the last returned person's cursor as after
// to fetch the next page. It is not tenant scoped and is meant for
// background sweeps only.
func (s *PostgresStore) FindRegisteredSince(ctx context.Context, since time.Time, after *Cursor, limit int) ([]*Person, error) {
	if limit <= 0 {
		limit = MaxLimit
	}
	args := []interface{}{SourceRegistration, since}
	query := `SELECT ` + personColumns + ` FROM persons WHERE source = $1 AND created_at >= $2`
	if after != nil {
		args = append(args, after.CreatedAt, after.ID)
		query += ` AND (created_at, id) > ($3, $4)`
	}
	args = append(args, limit)
	query += fmt.Sprintf(` ORDER BY created_at ASC, id ASC LIMIT $%d`, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent persons: %w", err)
	}
	defer rows.Close()

	var persons []*Person
	for rows.Next() {
		p, err := scanPerson(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan person: %w", err)
		}
		persons = append(persons, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate persons: %w", err)
	}
	return persons, nil
}

const insertPerson = `
	INSERT INTO persons (id, tenant_id, owner_id, account_id, billing_id, email, name, phone, status, is_active, source)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	RETURNING created_at, updated_at
`

// queryRower is satisfied by *sql.DB and *sql.Tx
type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func insert(ctx context.Context, q queryRower, p *Person) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Status == "" {
		p.Status = StatusActive
	}
	if p.Source == "" {
		p.Source = SourceImport
	}
	return q.QueryRowContext(ctx, insertPerson,
		p.ID, p.TenantID, p.OwnerID, nullString(p.AccountID), nullString(p.BillingID),
		p.Email, p.Name, nullString(p.Phone), p.Status, p.IsActive, p.Source,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
}

// Create inserts a single person
func (s *PostgresStore) Create(ctx context.Context, person *Person) (*Person, error) {
	if err := insert(ctx, s.db, person); err != nil {
		return nil, fmt.Errorf("failed to create person: %w", err)
	}
	return person, nil
}

// CreateAll inserts every person in one transaction. Either all rows are
// written or none are.
func (s *PostgresStore) CreateAll(ctx context.Context, persons []*Person) ([]*Person, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for i, p := range persons {
		if err := insert(ctx, tx, p); err != nil {
			return nil, fmt.Errorf("failed to create person %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return persons, nil
}
