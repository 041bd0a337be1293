// Package directory is the person service facade used by the HTTP layer.
// It scopes reads to the caller's tenant, validates writes, and translates
// identity provider and store failures into *people.Error values.
package directory

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/people/pkg/identity"
	"github.com/platinummonkey/people/pkg/observability"
	"github.com/platinummonkey/people/pkg/people"
	"github.com/platinummonkey/people/pkg/registration"
	"github.com/platinummonkey/people/pkg/validation"
)

const cacheName = "person"

// Messages returned to callers
const (
	MsgPersonNotFound = "Person not found"
	MsgEmailNotFound  = "No Person exists with specified email address"
	MsgPhoneRequired  = "Phone number is required to create an account"
)

// Reconciler runs the registration workflow
type Reconciler interface {
	Reconcile(ctx context.Context, reg people.Registration, tenantID string) (*registration.Outcome, error)
}

// UserFinder looks identities up in the provider
type UserFinder interface {
	Authenticate(ctx context.Context) (*identity.Session, error)
	FindUsers(ctx context.Context, s *identity.Session, realm string, q identity.UserQuery) ([]identity.User, error)
}

// PersonCache is a read-through cache for person lookups by id.
// GetPerson returns nil, nil on a miss.
type PersonCache interface {
	GetPerson(ctx context.Context, id string) (*people.Person, error)
	SetPerson(ctx context.Context, p *people.Person) error
}

// Config holds service settings
type Config struct {
	// Realm identities are searched in
	Realm string
	// DefaultTenant is used for registrations that arrive without one
	DefaultTenant string
}

// Dependencies are the service's collaborators. Cache, Logger and Metrics
// are optional.
type Dependencies struct {
	People     people.Store
	Reconciler Reconciler
	Identity   UserFinder
	Cache      PersonCache
	Validator  *validation.Validator
	Logger     logrus.FieldLogger
	Metrics    *observability.Metrics
}

// Service implements the person operations
type Service struct {
	cfg  Config
	deps Dependencies
}

// NewService creates a new service
func NewService(cfg Config, deps Dependencies) (*Service, error) {
	if deps.People == nil || deps.Reconciler == nil || deps.Identity == nil {
		return nil, fmt.Errorf("directory requires a person store, reconciler and identity provider")
	}
	if cfg.Realm == "" {
		return nil, fmt.Errorf("directory realm is required")
	}
	if deps.Validator == nil {
		deps.Validator = validation.NewValidator()
	}
	if deps.Logger == nil {
		deps.Logger = logrus.StandardLogger()
	}
	return &Service{cfg: cfg, deps: deps}, nil
}

// List returns a page of persons within tenantID. Whatever tenant the
// filter names is replaced.
func (s *Service) List(ctx context.Context, filter people.Filter, tenantID string) ([]*people.Person, error) {
	if tenantID == "" {
		return nil, people.NewValidationError("tenant is required")
	}
	filter = filter.ScopedTo(tenantID).Normalize()

	persons, err := s.deps.People.Find(ctx, filter)
	if err != nil {
		return nil, people.NewPersistenceError("failed to list persons", err)
	}
	if persons == nil {
		persons = []*people.Person{}
	}
	return persons, nil
}

// GetByID returns one person
func (s *Service) GetByID(ctx context.Context, id string) (*people.Person, error) {
	if id == "" {
		return nil, people.NewValidationError("id is required")
	}
	log := observability.LoggerFromContext(ctx, s.deps.Logger).WithField("person_id", id)

	if s.deps.Cache != nil {
		p, err := s.deps.Cache.GetPerson(ctx, id)
		switch {
		case err != nil:
			log.WithError(err).Warn("person cache read failed")
		case p != nil:
			s.deps.Metrics.CacheHit(cacheName)
			return p, nil
		default:
			s.deps.Metrics.CacheMiss(cacheName)
		}
	}

	p, err := s.deps.People.FindByID(ctx, id)
	if errors.Is(err, people.ErrNotFound) {
		return nil, people.NewNotFoundError(MsgPersonNotFound)
	}
	if err != nil {
		return nil, people.NewPersistenceError("failed to get person", err)
	}

	if s.deps.Cache != nil {
		if err := s.deps.Cache.SetPerson(ctx, p); err != nil {
			log.WithError(err).Warn("person cache write failed")
		}
	}
	return p, nil
}

// GetByEmail returns the first identity the provider lists for email
func (s *Service) GetByEmail(ctx context.Context, email string) (*identity.User, error) {
	if email == "" {
		return nil, people.NewValidationError("email is required")
	}

	session, err := s.deps.Identity.Authenticate(ctx)
	if err != nil {
		return nil, providerError(err)
	}
	users, err := s.deps.Identity.FindUsers(ctx, session, s.cfg.Realm, identity.UserQuery{Email: email, Exact: true})
	if err != nil {
		return nil, providerError(err)
	}
	if len(users) == 0 {
		return nil, people.NewNotFoundError(MsgEmailNotFound)
	}
	return &users[0], nil
}

// Create registers a new person in tenantID, or the default tenant when
// tenantID is empty
func (s *Service) Create(ctx context.Context, reg people.Registration, tenantID string) (*registration.Outcome, error) {
	if err := s.deps.Validator.Struct(reg); err != nil {
		return nil, people.NewValidationError(err.Error())
	}
	if reg.Phone == "" {
		return nil, &people.Error{Kind: people.KindUnprocessable, Status: http.StatusUnprocessableEntity, Message: MsgPhoneRequired}
	}
	if tenantID == "" {
		tenantID = s.cfg.DefaultTenant
	}
	if tenantID == "" {
		return nil, people.NewValidationError("tenant is required")
	}

	out, err := s.deps.Reconciler.Reconcile(ctx, reg, tenantID)
	if err != nil {
		var perr *people.IdentityProvisioningError
		if errors.As(err, &perr) {
			return nil, people.FromProvisioningError(perr)
		}
		return nil, err
	}
	return out, nil
}

// BulkCreate stores persons in one transaction. Every person needs an
// owner; a single invalid element rejects the whole batch. Bulk-created
// persons have no identity, so they are always stored as imports.
func (s *Service) BulkCreate(ctx context.Context, persons []*people.Person) ([]*people.Person, error) {
	for i, p := range persons {
		if p == nil {
			return nil, people.NewValidationError(fmt.Sprintf("persons[%d]: person is required", i))
		}
		if err := s.deps.Validator.Struct(p); err != nil {
			return nil, people.NewValidationError(fmt.Sprintf("persons[%d]: %s", i, err.Error()))
		}
		p.Source = people.SourceImport
	}
	if len(persons) == 0 {
		return []*people.Person{}, nil
	}

	created, err := s.deps.People.CreateAll(ctx, persons)
	if err != nil {
		return nil, people.NewPersistenceError("failed to create persons", err)
	}
	return created, nil
}

// providerError translates an identity provider failure on a read path
func providerError(err error) *people.Error {
	var perr *identity.ProviderError
	if errors.As(err, &perr) {
		return people.FromProvisioningError(&people.IdentityProvisioningError{Status: perr.Status, Message: perr.Message, Err: err})
	}
	return &people.Error{Kind: people.KindUpstream, Status: http.StatusBadGateway, Message: err.Error(), Err: err}
}
