package registration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/people/pkg/identity"
	"github.com/platinummonkey/people/pkg/invitations"
	"github.com/platinummonkey/people/pkg/memberships"
	"github.com/platinummonkey/people/pkg/observability"
	"github.com/platinummonkey/people/pkg/people"
)

const (
	DefaultAccountClientID = "account"
	DefaultMaxConcurrency  = 8
	DefaultRepairBatchSize = 200
)

// IdentityProvider is the part of the identity admin API used to
// provision new people
type IdentityProvider interface {
	Authenticate(ctx context.Context) (*identity.Session, error)
	ResolveClient(ctx context.Context, s *identity.Session, realm, clientID string) (string, error)
	CreateUser(ctx context.Context, s *identity.Session, realm string, user identity.User) (*identity.User, error)
}

// Config controls where identities are provisioned
type Config struct {
	// Realm users are created in
	Realm string
	// AccountClientID is the realm client looked up before creating users
	AccountClientID string
	// MaxConcurrency bounds concurrent membership writes
	MaxConcurrency int
	// RepairBatchSize is how many persons a repair sweep loads at a time
	RepairBatchSize int
}

// Dependencies are the collaborators a Reconciler needs. Logger, Metrics,
// OTelMetrics and Now are optional.
type Dependencies struct {
	Identity    IdentityProvider
	People      people.Store
	Invitations invitations.Store
	Memberships memberships.Store

	Logger      logrus.FieldLogger
	Metrics     *observability.Metrics
	OTelMetrics *observability.OTelMetrics
	Now         func() time.Time
}

// Failure is a membership that could not be created
type Failure struct {
	InvitationID string
	Err          error
}

// Outcome is the result of one registration
type Outcome struct {
	Identity        *identity.User
	AccountClientID string
	Person          *people.Person
	Memberships     []*memberships.Membership
	Failures        []Failure
	// Skipped holds invitation ids that already had a membership for this owner
	Skipped []string
}

// Reconciler provisions an identity for a registration and turns the
// registrant's pending invitations into memberships
type Reconciler struct {
	cfg    Config
	deps   Dependencies
	tracer trace.Tracer
}

// NewReconciler creates a new reconciler
func NewReconciler(cfg Config, deps Dependencies) (*Reconciler, error) {
	if cfg.Realm == "" {
		return nil, fmt.Errorf("registration realm is required")
	}
	if deps.Identity == nil || deps.People == nil || deps.Invitations == nil || deps.Memberships == nil {
		return nil, fmt.Errorf("registration requires identity, people, invitation and membership stores")
	}
	if cfg.AccountClientID == "" {
		cfg.AccountClientID = DefaultAccountClientID
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = DefaultMaxConcurrency
	}
	if cfg.RepairBatchSize <= 0 {
		cfg.RepairBatchSize = DefaultRepairBatchSize
	}
	if deps.Logger == nil {
		deps.Logger = logrus.StandardLogger()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	return &Reconciler{
		cfg:    cfg,
		deps:   deps,
		tracer: observability.Tracer("github.com/platinummonkey/people/pkg/registration"),
	}, nil
}

// Reconcile registers reg within tenantID.
//
// The identity is created first and is never rolled back. Membership
// writes are best-effort: a failed write is recorded in Outcome.Failures
// and does not fail the call. Once started, the work is not cancelled
// by ctx.
func (r *Reconciler) Reconcile(ctx context.Context, reg people.Registration, tenantID string) (*Outcome, error) {
	ctx = context.WithoutCancel(ctx)
	start := time.Now()

	ctx, span := r.tracer.Start(ctx, "registration.Reconcile", trace.WithAttributes(
		attribute.String("tenant_id", tenantID),
	))
	defer span.End()

	log := observability.LoggerFromContext(ctx, r.deps.Logger).WithField("tenant_id", tenantID)

	out, err := r.reconcile(ctx, log, reg, tenantID)

	result := "success"
	switch {
	case err != nil:
		result = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	case len(out.Failures) > 0:
		result = "partial"
	}

	d := time.Since(start)
	r.deps.Metrics.ObserveReconcile(result, d)
	if out != nil {
		r.deps.Metrics.ObserveMemberships(observability.MembershipCreated, len(out.Memberships))
		r.deps.Metrics.ObserveMemberships(observability.MembershipFailed, len(out.Failures))
		r.deps.Metrics.ObserveMemberships(observability.MembershipSkipped, len(out.Skipped))
		r.deps.OTelMetrics.RecordReconcile(ctx, result, d, len(out.Memberships), len(out.Failures), len(out.Skipped))
	} else {
		r.deps.OTelMetrics.RecordReconcile(ctx, result, d, 0, 0, 0)
	}

	return out, err
}

func (r *Reconciler) reconcile(ctx context.Context, log logrus.FieldLogger, reg people.Registration, tenantID string) (*Outcome, error) {
	user, accountClientID, err := r.provision(ctx, log, reg, tenantID)
	if err != nil {
		return nil, err
	}
	log = log.WithField("identity_id", user.ID)

	owner := reg.AccountAdminID
	if owner == "" {
		owner = user.ID
	}
	person, err := r.deps.People.Create(ctx, &people.Person{
		ID:       user.ID,
		TenantID: tenantID,
		OwnerID:  owner,
		Email:    reg.Email,
		Name:     reg.DisplayName(),
		Phone:    reg.Phone,
		Status:   people.StatusActive,
		IsActive: true,
		Source:   people.SourceRegistration,
	})
	if err != nil {
		log.WithError(err).Error("identity provisioned but person could not be stored")
		return nil, people.NewPersistenceError("failed to store person", err)
	}

	pending, err := r.eligibleInvitations(ctx, reg.Email, tenantID)
	if err != nil {
		log.WithError(err).Error("invitation lookup failed, memberships left for repair")
		return nil, people.NewPersistenceError("failed to look up invitations", err)
	}

	out := &Outcome{
		Identity:        user,
		AccountClientID: accountClientID,
		Person:          person,
	}
	r.materialize(ctx, log, out, pending, reg.Email, reg.DisplayName(), user.ID)

	log.WithFields(logrus.Fields{
		"memberships": len(out.Memberships),
		"failures":    len(out.Failures),
		"skipped":     len(out.Skipped),
	}).Info("registration reconciled")
	return out, nil
}

// provision authenticates and creates the identity
func (r *Reconciler) provision(ctx context.Context, log logrus.FieldLogger, reg people.Registration, tenantID string) (*identity.User, string, error) {
	ctx, span := r.tracer.Start(ctx, "registration.provision")
	defer span.End()

	session, err := r.deps.Identity.Authenticate(ctx)
	if err != nil {
		return nil, "", provisioningError(err)
	}

	accountClientID, err := r.deps.Identity.ResolveClient(ctx, session, r.cfg.Realm, r.cfg.AccountClientID)
	if err != nil {
		log.WithError(err).WithField("client_id", r.cfg.AccountClientID).Warn("account client lookup failed")
	} else {
		log.WithField("account_client", accountClientID).Debug("account client resolved")
	}

	attrs := map[string][]string{
		identity.AttributePhone:          {reg.Phone},
		identity.AttributeTermsOfService: {r.deps.Now().UTC().Format(time.RFC3339)},
		identity.AttributeTenantID:       {tenantID},
	}
	if reg.AccountAdminID != "" {
		attrs[identity.AttributeAccountAdminID] = []string{reg.AccountAdminID}
	}

	user, err := r.deps.Identity.CreateUser(ctx, session, r.cfg.Realm, identity.User{
		Username:   reg.Email,
		Email:      reg.Email,
		FirstName:  reg.FirstName,
		LastName:   reg.LastName,
		Enabled:    true,
		Attributes: attrs,
		Credentials: []identity.Credential{{
			Type:  identity.CredentialTypePassword,
			Value: reg.Password,
		}},
	})
	if err != nil {
		span.RecordError(err)
		return nil, "", provisioningError(err)
	}
	return user, accountClientID, nil
}

// eligibleInvitations returns the live invitations addressed to email in
// tenantID that target something other than a person
func (r *Reconciler) eligibleInvitations(ctx context.Context, email, tenantID string) ([]*invitations.Invitation, error) {
	found, err := r.deps.Invitations.Find(ctx, invitations.Pending(email, tenantID))
	if err != nil {
		return nil, err
	}
	eligible := found[:0:0]
	for _, inv := range found {
		if inv.HasNonPersonTarget() {
			eligible = append(eligible, inv)
		}
	}
	return eligible, nil
}

type writeResult struct {
	membership *memberships.Membership
	skipped    bool
	err        error
}

// materialize creates one membership per invitation concurrently. Every
// write is independent; results are appended to out in invitation order.
func (r *Reconciler) materialize(ctx context.Context, log logrus.FieldLogger, out *Outcome, invs []*invitations.Invitation, email, name, ownerID string) {
	if len(invs) == 0 {
		return
	}
	ctx, span := r.tracer.Start(ctx, "registration.materialize", trace.WithAttributes(
		attribute.Int("invitations", len(invs)),
	))
	defer span.End()

	results := make([]writeResult, len(invs))
	var g errgroup.Group
	g.SetLimit(r.cfg.MaxConcurrency)

	for i, inv := range invs {
		g.Go(func() error {
			defer observability.RecoverPanicWithCallback(log, "membership write", nil)
			m, err := r.deps.Memberships.Create(ctx, &memberships.Membership{
				InvitationID: inv.ID,
				Email:        email,
				Name:         name,
				OwnerID:      ownerID,
				AccountID:    inv.InvitedTo[0].ID,
			})
			switch {
			case errors.Is(err, memberships.ErrAlreadyExists):
				results[i] = writeResult{skipped: true}
			case err != nil:
				log.WithError(err).WithField("invitation_id", inv.ID).Warn("membership creation failed")
				results[i] = writeResult{err: err}
			default:
				results[i] = writeResult{membership: m}
			}
			return nil
		})
	}
	_ = g.Wait()

	for i, res := range results {
		switch {
		case res.skipped:
			out.Skipped = append(out.Skipped, invs[i].ID)
		case res.err != nil:
			out.Failures = append(out.Failures, Failure{InvitationID: invs[i].ID, Err: res.err})
		case res.membership != nil:
			out.Memberships = append(out.Memberships, res.membership)
		default:
			out.Failures = append(out.Failures, Failure{InvitationID: invs[i].ID, Err: fmt.Errorf("membership write aborted")})
		}
	}
}

// provisioningError keeps the provider's status and message unchanged
func provisioningError(err error) *people.IdentityProvisioningError {
	var perr *identity.ProviderError
	if errors.As(err, &perr) {
		return &people.IdentityProvisioningError{Status: perr.Status, Message: perr.Message, Err: err}
	}
	return &people.IdentityProvisioningError{Message: err.Error(), Err: err}
}
