package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/people/pkg/auth"
	"github.com/platinummonkey/people/pkg/contextkeys"
	"github.com/platinummonkey/people/pkg/httputil"
	"github.com/platinummonkey/people/pkg/identity"
	"github.com/platinummonkey/people/pkg/memberships"
	"github.com/platinummonkey/people/pkg/observability"
	"github.com/platinummonkey/people/pkg/people"
	"github.com/platinummonkey/people/pkg/registration"
)

type fakeService struct {
	listFilter people.Filter
	listTenant string
	createReg  people.Registration
	createTen  string
	bulk       []*people.Person

	persons []*people.Person
	person  *people.Person
	user    *identity.User
	outcome *registration.Outcome
	err     error
}

func (f *fakeService) List(ctx context.Context, filter people.Filter, tenantID string) ([]*people.Person, error) {
	f.listFilter, f.listTenant = filter, tenantID
	return f.persons, f.err
}

func (f *fakeService) GetByID(ctx context.Context, id string) (*people.Person, error) {
	return f.person, f.err
}

func (f *fakeService) GetByEmail(ctx context.Context, email string) (*identity.User, error) {
	return f.user, f.err
}

func (f *fakeService) Create(ctx context.Context, reg people.Registration, tenantID string) (*registration.Outcome, error) {
	f.createReg, f.createTen = reg, tenantID
	return f.outcome, f.err
}

func (f *fakeService) BulkCreate(ctx context.Context, persons []*people.Person) ([]*people.Person, error) {
	f.bulk = persons
	return persons, f.err
}

// headerAuth stands in for the token authenticator: X-Test-Roles carries a
// comma separated role list and X-Test-Tenant the tenant
func headerAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		roles := r.Header.Get("X-Test-Roles")
		if roles == "" {
			next.ServeHTTP(w, r)
			return
		}
		authCtx := &auth.AuthContext{Subject: "caller", TenantID: r.Header.Get("X-Test-Tenant")}
		for _, role := range strings.Split(roles, ",") {
			authCtx.Roles = append(authCtx.Roles, auth.Role(role))
		}
		ctx := contextkeys.WithAuth(r.Context(), authCtx)
		ctx = contextkeys.WithTenant(ctx, authCtx.TenantID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func newTestServer(svc *fakeService) *Server {
	logger, _ := test.NewNullLogger()
	return NewServer(ServerConfig{}, ServerDeps{
		Service: svc,
		Guards:  Guards{Authenticate: headerAuth},
		Logger:  logger,
	})
}

func do(t *testing.T, s *Server, method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func admin(tenant string) map[string]string {
	return map[string]string{"X-Test-Roles": "admin", "X-Test-Tenant": tenant}
}

func TestRouteAuthorization(t *testing.T) {
	svc := &fakeService{
		persons: []*people.Person{},
		person:  &people.Person{ID: "p1"},
		user:    &identity.User{ID: "kc-1"},
	}
	s := newTestServer(svc)

	organizer := map[string]string{"X-Test-Roles": "organizer", "X-Test-Tenant": "T1"}

	tests := []struct {
		name    string
		method  string
		path    string
		body    string
		headers map[string]string
		status  int
	}{
		{"list anonymous", http.MethodGet, "/persons", "", nil, http.StatusUnauthorized},
		{"list organizer", http.MethodGet, "/persons", "", organizer, http.StatusForbidden},
		{"list admin", http.MethodGet, "/persons", "", admin("T1"), http.StatusOK},
		{"get anonymous", http.MethodGet, "/persons/p1", "", nil, http.StatusUnauthorized},
		{"get organizer", http.MethodGet, "/persons/p1", "", organizer, http.StatusOK},
		{"bulk organizer", http.MethodPost, "/persons/bulk", "[]", organizer, http.StatusForbidden},
		{"bulk admin", http.MethodPost, "/persons/bulk", "[]", admin("T1"), http.StatusCreated},
		{"by email anonymous", http.MethodGet, "/persons-by-email/a@x.com", "", nil, http.StatusOK},
		{"unknown route", http.MethodGet, "/nope", "", nil, http.StatusNotFound},
		{"wrong method", http.MethodDelete, "/persons/p1", "", admin("T1"), http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, s, tt.method, tt.path, tt.body, tt.headers)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.NotEmpty(t, rec.Header().Get(httputil.RequestIDHeader))
		})
	}
}

func TestListPersons(t *testing.T) {
	t.Run("filter and paging", func(t *testing.T) {
		svc := &fakeService{persons: []*people.Person{{ID: "p1", TenantID: "T1"}}}
		s := newTestServer(svc)

		filter := url.QueryEscape(`{"where":{"tenant_id":"OTHER","status":"ACTIVE"},"limit":5}`)
		rec := do(t, s, http.MethodGet, "/persons?skip=20&filter="+filter, "", admin("T1"))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		assert.Equal(t, "T1", svc.listTenant)
		assert.Equal(t, 5, svc.listFilter.Limit)
		assert.Equal(t, 20, svc.listFilter.Skip)
		assert.Equal(t, people.StatusActive, svc.listFilter.Where.Status)

		var got []people.Person
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		require.Len(t, got, 1)
		assert.Equal(t, "p1", got[0].ID)
	})

	rejected := []struct {
		name  string
		query string
	}{
		{"unknown where field", "filter=" + url.QueryEscape(`{"where":{"shoe_size":42}}`)},
		{"malformed filter", "filter=" + url.QueryEscape(`{"where":`)},
		{"limit above max", "limit=500"},
		{"negative skip", "skip=-1"},
		{"non numeric limit", "limit=ten"},
		{"bad status", "filter=" + url.QueryEscape(`{"where":{"status":"GONE"}}`)},
	}
	for _, tt := range rejected {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeService{}
			rec := do(t, newTestServer(svc), http.MethodGet, "/persons?"+tt.query, "", admin("T1"))
			assert.Equal(t, http.StatusBadRequest, rec.Code)

			var body httputil.ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, people.KindValidation, body.Kind)
			assert.Empty(t, svc.listTenant, "service must not be called")
		})
	}
}

func TestCreatePerson(t *testing.T) {
	outcome := &registration.Outcome{
		Identity:    &identity.User{ID: "kc-9", Username: "a@x.com", Email: "a@x.com"},
		Memberships: []*memberships.Membership{{InvitationID: "inv-1", OwnerID: "kc-9", AccountID: "ACC1"}},
		Failures:    []registration.Failure{{InvitationID: "inv-2", Err: errors.New("boom")}},
	}

	t.Run("anonymous registration", func(t *testing.T) {
		svc := &fakeService{outcome: outcome}
		body := `{"email":"a@x.com","first_name":"A","last_name":"B","phone":"555","password":"pw"}`
		rec := do(t, newTestServer(svc), http.MethodPost, "/persons", body, nil)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		assert.Equal(t, "a@x.com", svc.createReg.Email)
		assert.Empty(t, svc.createTen, "default tenant is chosen by the service")

		var got map[string]interface{}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, "kc-9", got["id"])
		assert.Equal(t, []interface{}{"inv-2"}, got["failed_invitations"])
		assert.Len(t, got["memberships"], 1)
		assert.NotContains(t, got, "credentials")
	})

	t.Run("authenticated caller's tenant is used", func(t *testing.T) {
		svc := &fakeService{outcome: &registration.Outcome{Identity: &identity.User{ID: "kc-1"}}}
		body := `{"email":"a@x.com","first_name":"A","last_name":"B","phone":"555","password":"pw"}`
		rec := do(t, newTestServer(svc), http.MethodPost, "/persons", body, admin("T7"))
		require.Equal(t, http.StatusCreated, rec.Code)
		assert.Equal(t, "T7", svc.createTen)

		var got map[string]interface{}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, []interface{}{}, got["memberships"])
	})

	t.Run("unknown fields are rejected", func(t *testing.T) {
		svc := &fakeService{}
		rec := do(t, newTestServer(svc), http.MethodPost, "/persons", `{"email":"a@x.com","role":"admin"}`, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Empty(t, svc.createReg.Email)
	})

	t.Run("provider conflict keeps status and message", func(t *testing.T) {
		svc := &fakeService{err: &people.Error{Kind: people.KindConflict, Status: http.StatusConflict, Message: "User exists with same username"}}
		body := `{"email":"a@x.com","first_name":"A","last_name":"B","phone":"555","password":"pw"}`
		rec := do(t, newTestServer(svc), http.MethodPost, "/persons", body, nil)
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.JSONEq(t, `{"error":"User exists with same username","kind":"conflict"}`, rec.Body.String())
	})
}

func TestErrorsAreLoggedOnlyForServerFailures(t *testing.T) {
	logger, hook := test.NewNullLogger()

	tests := []struct {
		name   string
		err    error
		status int
		logged bool
	}{
		{"not found", people.NewNotFoundError("Person not found"), http.StatusNotFound, false},
		{"persistence", people.NewPersistenceError("failed to get person", errors.New("db down")), http.StatusInternalServerError, true},
		{"untyped", errors.New("surprise"), http.StatusInternalServerError, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hook.Reset()
			s := NewServer(ServerConfig{}, ServerDeps{
				Service: &fakeService{err: tt.err},
				Guards:  Guards{Authenticate: headerAuth},
				Logger:  logger,
			})
			rec := do(t, s, http.MethodGet, "/persons/p1", "", admin("T1"))
			assert.Equal(t, tt.status, rec.Code)

			var failed bool
			for _, e := range hook.AllEntries() {
				if e.Message == "person request failed" {
					failed = true
				}
			}
			assert.Equal(t, tt.logged, failed)
		})
	}

	t.Run("untyped errors stay opaque", func(t *testing.T) {
		s := NewServer(ServerConfig{}, ServerDeps{Service: &fakeService{err: errors.New("pq: password authentication failed")}, Logger: logger})
		rec := do(t, s, http.MethodGet, "/persons-by-email/a@x.com", "", nil)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.NotContains(t, rec.Body.String(), "password")
	})
}

func TestRateLimitGuardOnlyOnPublicRoutes(t *testing.T) {
	var limited []string
	guards := Guards{
		Authenticate: headerAuth,
		RateLimit: func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				limited = append(limited, r.Method+" "+r.URL.Path)
				next.ServeHTTP(w, r)
			})
		},
	}
	logger, _ := test.NewNullLogger()
	svc := &fakeService{outcome: &registration.Outcome{Identity: &identity.User{ID: "kc-1"}}, user: &identity.User{}, person: &people.Person{}}
	s := NewServer(ServerConfig{}, ServerDeps{Service: svc, Guards: guards, Logger: logger})

	do(t, s, http.MethodGet, "/persons-by-email/a@x.com", "", nil)
	do(t, s, http.MethodGet, "/persons/p1", "", admin("T1"))
	do(t, s, http.MethodPost, "/persons", `{"email":"a@x.com","first_name":"A","last_name":"B","password":"pw"}`, nil)

	assert.Equal(t, []string{"GET /persons-by-email/a@x.com", "POST /persons"}, limited)
}

func TestServerOperationalRoutes(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	logger, _ := test.NewNullLogger()
	s := NewServer(ServerConfig{}, ServerDeps{
		Service:  &fakeService{user: &identity.User{ID: "kc-1"}},
		Metrics:  metrics,
		Registry: registry,
		Logger:   logger,
	})

	rec := do(t, s, http.MethodGet, "/persons-by-email/a@x.com", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, s, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `route="/persons-by-email/{email}"`)
}

func TestRequestBodyLimit(t *testing.T) {
	logger, _ := test.NewNullLogger()
	svc := &fakeService{}
	s := NewServer(ServerConfig{MaxBodyBytes: 16}, ServerDeps{Service: svc, Logger: logger})

	body := `{"email":"a@x.com","first_name":"A","last_name":"B","password":"pw"}`
	rec := do(t, s, http.MethodPost, "/persons", body, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, svc.createReg.Email)
}
