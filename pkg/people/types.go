package people

import (
	"strings"
	"time"
)

// Status represents the lifecycle state of a person
type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusSigned    Status = "SIGNED"
	StatusCompleted Status = "COMPLETED"
)

// Valid reports whether s is one of the known statuses
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusSigned, StatusCompleted:
		return true
	}
	return false
}

// Source records how a person record came to exist
type Source string

const (
	// SourceRegistration persons were provisioned in the identity provider;
	// their ID is the identity id
	SourceRegistration Source = "registration"
	// SourceImport persons were bulk created and have no identity
	SourceImport Source = "import"
)

// Person is an account holder within a tenant.
// ID is the identifier assigned by the identity provider when the person
// registered; bulk-imported records get a locally generated one.
type Person struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	OwnerID   string    `json:"owner_id" validate:"notblank"`
	AccountID string    `json:"account_id,omitempty"`
	BillingID string    `json:"billing_id,omitempty"`
	Email     string    `json:"email" validate:"omitempty,email"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone,omitempty"`
	Status    Status    `json:"status" validate:"omitempty,oneof=ACTIVE SIGNED COMPLETED"`
	IsActive  bool      `json:"is_active"`
	Source    Source    `json:"source,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Registered reports whether p has an identity in the provider
func (p *Person) Registered() bool {
	return p.Source == SourceRegistration
}

// Cursor positions a sweep after the last person it returned
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

// After returns the cursor that resumes a sweep after p
func (p *Person) After() *Cursor {
	return &Cursor{CreatedAt: p.CreatedAt, ID: p.ID}
}

// Registration is the payload submitted when a person signs up
type Registration struct {
	Email          string `json:"email" validate:"required,email"`
	FirstName      string `json:"first_name" validate:"required"`
	LastName       string `json:"last_name" validate:"required"`
	Phone          string `json:"phone,omitempty"`
	Password       string `json:"password" validate:"required"`
	AccountAdminID string `json:"account_admin_id,omitempty"`
}

// DisplayName joins first and last name with a single space
func (r Registration) DisplayName() string {
	return strings.TrimSpace(r.FirstName + " " + r.LastName)
}

const (
	DefaultLimit = 10
	MaxLimit     = 100
)

// Where holds the equality predicates accepted by Find.
// Zero values mean "no constraint".
type Where struct {
	TenantID  string     `json:"tenant_id,omitempty"`
	OwnerID   string     `json:"owner_id,omitempty"`
	AccountID string     `json:"account_id,omitempty"`
	Email     string     `json:"email,omitempty" validate:"omitempty,email"`
	Status    Status     `json:"status,omitempty" validate:"omitempty,oneof=ACTIVE SIGNED COMPLETED"`
	IsActive  *bool      `json:"is_active,omitempty"`
	Since     *time.Time `json:"created_after,omitempty"`
}

// Filter selects a page of persons
type Filter struct {
	Where Where `json:"where"`
	Skip  int   `json:"skip,omitempty" validate:"gte=0"`
	Limit int   `json:"limit,omitempty" validate:"gte=0,lte=100"`
}

// Normalize applies paging defaults and bounds
func (f Filter) Normalize() Filter {
	if f.Limit <= 0 {
		f.Limit = DefaultLimit
	}
	if f.Limit > MaxLimit {
		f.Limit = MaxLimit
	}
	if f.Skip < 0 {
		f.Skip = 0
	}
	return f
}

// ScopedTo returns a copy of the filter restricted to tenantID, replacing
// whatever tenant the caller asked for.
func (f Filter) ScopedTo(tenantID string) Filter {
	f.Where.TenantID = tenantID
	return f
}
