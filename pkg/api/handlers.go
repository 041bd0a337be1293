package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/people/pkg/contextkeys"
	"github.com/platinummonkey/people/pkg/httputil"
	"github.com/platinummonkey/people/pkg/identity"
	"github.com/platinummonkey/people/pkg/memberships"
	"github.com/platinummonkey/people/pkg/observability"
	"github.com/platinummonkey/people/pkg/people"
	"github.com/platinummonkey/people/pkg/registration"
	"github.com/platinummonkey/people/pkg/validation"
)

// PersonService is the person facade the handlers delegate to
type PersonService interface {
	List(ctx context.Context, filter people.Filter, tenantID string) ([]*people.Person, error)
	GetByID(ctx context.Context, id string) (*people.Person, error)
	GetByEmail(ctx context.Context, email string) (*identity.User, error)
	Create(ctx context.Context, reg people.Registration, tenantID string) (*registration.Outcome, error)
	BulkCreate(ctx context.Context, persons []*people.Person) ([]*people.Person, error)
}

// PersonHandlers handles person HTTP requests
type PersonHandlers struct {
	service   PersonService
	validator *validation.Validator
	logger    logrus.FieldLogger
}

// NewPersonHandlers creates a new person handlers instance
func NewPersonHandlers(service PersonService, logger logrus.FieldLogger) *PersonHandlers {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &PersonHandlers{
		service:   service,
		validator: validation.NewValidator(),
		logger:    logger,
	}
}

// CreatePersonResponse is the answer to a registration: the provisioned
// identity plus what happened to the registrant's invitations
type CreatePersonResponse struct {
	*identity.User
	Memberships        []*memberships.Membership `json:"memberships"`
	FailedInvitations  []string                  `json:"failed_invitations,omitempty"`
	SkippedInvitations []string                  `json:"skipped_invitations,omitempty"`
}

func newCreatePersonResponse(out *registration.Outcome) CreatePersonResponse {
	resp := CreatePersonResponse{
		User:               out.Identity,
		Memberships:        out.Memberships,
		SkippedInvitations: out.Skipped,
	}
	if resp.Memberships == nil {
		resp.Memberships = []*memberships.Membership{}
	}
	for _, f := range out.Failures {
		resp.FailedInvitations = append(resp.FailedInvitations, f.InvitationID)
	}
	return resp
}

// listPersons handles GET /persons
func (h *PersonHandlers) listPersons(w http.ResponseWriter, r *http.Request) {
	filter, err := h.parseFilter(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	persons, err := h.service.List(r.Context(), filter, contextkeys.GetTenant(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteSuccess(w, persons)
}

// parseFilter reads the JSON filter query parameter, then lets the limit
// and skip parameters override its paging
func (h *PersonHandlers) parseFilter(r *http.Request) (people.Filter, error) {
	var filter people.Filter
	if raw := r.URL.Query().Get("filter"); raw != "" {
		dec := json.NewDecoder(strings.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&filter); err != nil {
			return filter, people.NewValidationError("invalid filter: " + err.Error())
		}
	}

	limit, err := httputil.ParseQueryInt(r, "limit", filter.Limit)
	if err != nil {
		return filter, people.NewValidationError(err.Error())
	}
	skip, err := httputil.ParseQueryInt(r, "skip", filter.Skip)
	if err != nil {
		return filter, people.NewValidationError(err.Error())
	}
	filter.Limit, filter.Skip = limit, skip

	if err := h.validator.Struct(filter); err != nil {
		return filter, people.NewValidationError(err.Error())
	}
	return filter, nil
}

// createPerson handles POST /persons
func (h *PersonHandlers) createPerson(w http.ResponseWriter, r *http.Request) {
	var reg people.Registration
	if !httputil.ParseJSONOrError(w, r, &reg) {
		return
	}

	out, err := h.service.Create(r.Context(), reg, contextkeys.GetTenant(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteCreated(w, newCreatePersonResponse(out))
}

// bulkCreatePersons handles POST /persons/bulk
func (h *PersonHandlers) bulkCreatePersons(w http.ResponseWriter, r *http.Request) {
	var persons []*people.Person
	if !httputil.ParseJSONOrError(w, r, &persons) {
		return
	}

	created, err := h.service.BulkCreate(r.Context(), persons)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteCreated(w, created)
}

// getPerson handles GET /persons/{id}
func (h *PersonHandlers) getPerson(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	person, err := h.service.GetByID(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteSuccess(w, person)
}

// getPersonByEmail handles GET /persons-by-email/{email}
func (h *PersonHandlers) getPersonByEmail(w http.ResponseWriter, r *http.Request) {
	email, ok := httputil.ParsePathStringOrError(w, r, "email")
	if !ok {
		return
	}

	user, err := h.service.GetByEmail(r.Context(), email)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteSuccess(w, user)
}

// fail writes err and logs it when the caller only sees a server error
func (h *PersonHandlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	var perr *people.Error
	if !errors.As(err, &perr) || perr.Status >= http.StatusInternalServerError {
		observability.LoggerFromContext(r.Context(), h.logger).WithError(err).Error("person request failed")
	}
	httputil.WriteKindError(w, err)
}
