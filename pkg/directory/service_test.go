package directory

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/people/pkg/identity"
	"github.com/platinummonkey/people/pkg/observability"
	"github.com/platinummonkey/people/pkg/people"
	"github.com/platinummonkey/people/pkg/registration"
)

// memStore keeps persons in memory and applies the tenant predicate the
// way the SQL store does
type memStore struct {
	persons   []*people.Person
	filters   []people.Filter
	findByID  int
	createAll [][]*people.Person
	err       error
}

func (m *memStore) Find(ctx context.Context, f people.Filter) ([]*people.Person, error) {
	m.filters = append(m.filters, f)
	if m.err != nil {
		return nil, m.err
	}
	var out []*people.Person
	for _, p := range m.persons {
		if f.Where.TenantID != "" && p.TenantID != f.Where.TenantID {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (m *memStore) FindByID(ctx context.Context, id string) (*people.Person, error) {
	m.findByID++
	if m.err != nil {
		return nil, m.err
	}
	for _, p := range m.persons {
		if p.ID == id {
			return p, nil
		}
	}
	return nil, people.ErrNotFound
}

func (m *memStore) FindRegisteredSince(ctx context.Context, since time.Time, after *people.Cursor, limit int) ([]*people.Person, error) {
	return nil, nil
}

func (m *memStore) Create(ctx context.Context, p *people.Person) (*people.Person, error) {
	return p, nil
}

func (m *memStore) CreateAll(ctx context.Context, ps []*people.Person) ([]*people.Person, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.createAll = append(m.createAll, ps)
	m.persons = append(m.persons, ps...)
	return ps, nil
}

type fakeReconciler struct {
	calls  int
	tenant string
	err    error
}

func (f *fakeReconciler) Reconcile(ctx context.Context, reg people.Registration, tenantID string) (*registration.Outcome, error) {
	f.calls++
	f.tenant = tenantID
	if f.err != nil {
		return nil, f.err
	}
	return &registration.Outcome{
		Identity: &identity.User{ID: "kc-1", Email: reg.Email},
		Person:   &people.Person{ID: "kc-1", TenantID: tenantID, Email: reg.Email},
	}, nil
}

type fakeFinder struct {
	users   []identity.User
	authErr error
	query   identity.UserQuery
}

func (f *fakeFinder) Authenticate(ctx context.Context) (*identity.Session, error) {
	if f.authErr != nil {
		return nil, f.authErr
	}
	return &identity.Session{}, nil
}

func (f *fakeFinder) FindUsers(ctx context.Context, s *identity.Session, realm string, q identity.UserQuery) ([]identity.User, error) {
	f.query = q
	var out []identity.User
	for _, u := range f.users {
		if u.Email == q.Email {
			out = append(out, u)
		}
	}
	return out, nil
}

type mapCache struct {
	items map[string]*people.Person
}

func (c *mapCache) GetPerson(ctx context.Context, id string) (*people.Person, error) {
	return c.items[id], nil
}

func (c *mapCache) SetPerson(ctx context.Context, p *people.Person) error {
	c.items[p.ID] = p
	return nil
}

type fixture struct {
	store      *memStore
	reconciler *fakeReconciler
	finder     *fakeFinder
	svc        *Service
}

func newFixture(t *testing.T, cache PersonCache, metrics *observability.Metrics) *fixture {
	t.Helper()
	f := &fixture{store: &memStore{}, reconciler: &fakeReconciler{}, finder: &fakeFinder{}}
	svc, err := NewService(Config{Realm: "master", DefaultTenant: "master"}, Dependencies{
		People:     f.store,
		Reconciler: f.reconciler,
		Identity:   f.finder,
		Cache:      cache,
		Metrics:    metrics,
	})
	require.NoError(t, err)
	f.svc = svc
	return f
}

func validRegistration() people.Registration {
	return people.Registration{Email: "a@x.com", FirstName: "A", LastName: "B", Phone: "555", Password: "pw"}
}

func TestNewService(t *testing.T) {
	_, err := NewService(Config{Realm: "master"}, Dependencies{})
	assert.Error(t, err)

	_, err = NewService(Config{}, Dependencies{People: &memStore{}, Reconciler: &fakeReconciler{}, Identity: &fakeFinder{}})
	assert.Error(t, err)
}

func TestListIsTenantScoped(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.store.persons = []*people.Person{
		{ID: "1", TenantID: "T1"},
		{ID: "2", TenantID: "T2"},
		{ID: "3", TenantID: "T1"},
	}

	filters := []people.Filter{
		{},
		{Where: people.Where{TenantID: "T2"}},
		{Where: people.Where{TenantID: "T2"}, Limit: 1000, Skip: -5},
	}
	for _, filter := range filters {
		got, err := f.svc.List(context.Background(), filter, "T1")
		require.NoError(t, err)
		for _, p := range got {
			assert.Equal(t, "T1", p.TenantID)
		}
	}

	last := f.store.filters[len(f.store.filters)-1]
	assert.Equal(t, "T1", last.Where.TenantID)
	assert.Equal(t, people.MaxLimit, last.Limit)
	assert.Equal(t, 0, last.Skip)
	assert.Equal(t, people.DefaultLimit, f.store.filters[0].Limit)
}

func TestListErrors(t *testing.T) {
	f := newFixture(t, nil, nil)

	_, err := f.svc.List(context.Background(), people.Filter{}, "")
	assert.Equal(t, people.KindValidation, people.KindOf(err))

	f.store.err = errors.New("db down")
	_, err = f.svc.List(context.Background(), people.Filter{}, "T1")
	assert.Equal(t, people.KindPersistence, people.KindOf(err))

	f.store.err = nil
	got, err := f.svc.List(context.Background(), people.Filter{}, "T9")
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestGetByID(t *testing.T) {
	t.Run("not found", func(t *testing.T) {
		f := newFixture(t, nil, nil)
		_, err := f.svc.GetByID(context.Background(), "missing")

		var perr *people.Error
		require.True(t, errors.As(err, &perr))
		assert.Equal(t, people.KindNotFound, perr.Kind)
		assert.Equal(t, http.StatusNotFound, perr.Status)
	})

	t.Run("read-through cache", func(t *testing.T) {
		metrics := observability.NewMetrics(prometheus.NewRegistry())
		cache := &mapCache{items: map[string]*people.Person{}}
		f := newFixture(t, cache, metrics)
		f.store.persons = []*people.Person{{ID: "p1", TenantID: "T1"}}

		for i := 0; i < 3; i++ {
			p, err := f.svc.GetByID(context.Background(), "p1")
			require.NoError(t, err)
			assert.Equal(t, "p1", p.ID)
		}
		assert.Equal(t, 1, f.store.findByID)
		assert.Contains(t, cache.items, "p1")
		assert.Equal(t, 2.0, testutil.ToFloat64(metrics.CacheHitsTotal.WithLabelValues("person")))
		assert.Equal(t, 1.0, testutil.ToFloat64(metrics.CacheMissesTotal.WithLabelValues("person")))
	})
}

func TestGetByEmail(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.finder.users = []identity.User{
		{ID: "u2", Email: "a@x.com"},
		{ID: "u1", Email: "a@x.com"},
	}

	u, err := f.svc.GetByEmail(context.Background(), "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, "u2", u.ID, "first in provider order")
	assert.True(t, f.finder.query.Exact)

	_, err = f.svc.GetByEmail(context.Background(), "none@x.com")
	var perr *people.Error
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, people.KindNotFound, perr.Kind)
	assert.Equal(t, MsgEmailNotFound, perr.Message)

	f.finder.authErr = &identity.ProviderError{Status: http.StatusServiceUnavailable, Message: "down"}
	_, err = f.svc.GetByEmail(context.Background(), "a@x.com")
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, people.KindUpstream, perr.Kind)
	assert.Equal(t, http.StatusBadGateway, perr.Status)
}

func TestCreate(t *testing.T) {
	t.Run("delegates with default tenant", func(t *testing.T) {
		f := newFixture(t, nil, nil)
		out, err := f.svc.Create(context.Background(), validRegistration(), "")
		require.NoError(t, err)
		assert.Equal(t, "kc-1", out.Identity.ID)
		assert.Equal(t, "master", f.reconciler.tenant)
	})

	t.Run("invalid registration never reaches the provider", func(t *testing.T) {
		f := newFixture(t, nil, nil)
		reg := validRegistration()
		reg.Email = ""

		_, err := f.svc.Create(context.Background(), reg, "T1")
		var perr *people.Error
		require.True(t, errors.As(err, &perr))
		assert.Equal(t, people.KindValidation, perr.Kind)
		assert.Equal(t, "email is required", perr.Message)
		assert.Zero(t, f.reconciler.calls)
	})

	t.Run("missing phone is unprocessable", func(t *testing.T) {
		f := newFixture(t, nil, nil)
		reg := validRegistration()
		reg.Phone = ""

		_, err := f.svc.Create(context.Background(), reg, "T1")
		var perr *people.Error
		require.True(t, errors.As(err, &perr))
		assert.Equal(t, http.StatusUnprocessableEntity, perr.Status)
		assert.Equal(t, MsgPhoneRequired, perr.Message)
	})

	t.Run("provider status is forwarded", func(t *testing.T) {
		tests := []struct {
			status     int
			kind       people.Kind
			wantStatus int
		}{
			{http.StatusConflict, people.KindConflict, http.StatusConflict},
			{http.StatusBadRequest, people.KindBadRequest, http.StatusBadRequest},
			{http.StatusInternalServerError, people.KindUpstream, http.StatusBadGateway},
		}
		for _, tt := range tests {
			f := newFixture(t, nil, nil)
			f.reconciler.err = &people.IdentityProvisioningError{Status: tt.status, Message: "User exists with same username"}

			_, err := f.svc.Create(context.Background(), validRegistration(), "T1")
			var perr *people.Error
			require.True(t, errors.As(err, &perr))
			assert.Equal(t, tt.kind, perr.Kind)
			assert.Equal(t, tt.wantStatus, perr.Status)
			assert.Equal(t, "User exists with same username", perr.Message)
		}
	})

	t.Run("persistence errors pass through", func(t *testing.T) {
		f := newFixture(t, nil, nil)
		f.reconciler.err = people.NewPersistenceError("failed to store person", errors.New("disk"))

		_, err := f.svc.Create(context.Background(), validRegistration(), "T1")
		assert.Equal(t, people.KindPersistence, people.KindOf(err))
	})
}

func TestBulkCreate(t *testing.T) {
	t.Run("one invalid element persists nothing", func(t *testing.T) {
		f := newFixture(t, nil, nil)
		_, err := f.svc.BulkCreate(context.Background(), []*people.Person{
			{OwnerID: "o1", Email: "a@x.com"},
			{Email: "b@x.com"},
			{OwnerID: "o3"},
		})

		var perr *people.Error
		require.True(t, errors.As(err, &perr))
		assert.Equal(t, people.KindValidation, perr.Kind)
		assert.Equal(t, "persons[1]: owner_id is required", perr.Message)
		assert.Empty(t, f.store.createAll)
		assert.Empty(t, f.store.persons)
	})

	t.Run("blank owner is rejected", func(t *testing.T) {
		f := newFixture(t, nil, nil)
		_, err := f.svc.BulkCreate(context.Background(), []*people.Person{{OwnerID: "  \t"}})

		var perr *people.Error
		require.True(t, errors.As(err, &perr))
		assert.Equal(t, people.KindValidation, perr.Kind)
		assert.Equal(t, "persons[0]: owner_id is required", perr.Message)
		assert.Empty(t, f.store.createAll)
	})

	t.Run("imported persons are never marked registered", func(t *testing.T) {
		f := newFixture(t, nil, nil)
		got, err := f.svc.BulkCreate(context.Background(), []*people.Person{
			{OwnerID: "o1", Source: people.SourceRegistration},
		})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, people.SourceImport, got[0].Source)
		assert.False(t, got[0].Registered())
	})

	t.Run("valid batch", func(t *testing.T) {
		f := newFixture(t, nil, nil)
		got, err := f.svc.BulkCreate(context.Background(), []*people.Person{{OwnerID: "o1"}, {OwnerID: "o2"}})
		require.NoError(t, err)
		assert.Len(t, got, 2)
		require.Len(t, f.store.createAll, 1)
	})

	t.Run("empty batch", func(t *testing.T) {
		f := newFixture(t, nil, nil)
		got, err := f.svc.BulkCreate(context.Background(), nil)
		require.NoError(t, err)
		assert.Empty(t, got)
		assert.Empty(t, f.store.createAll)
	})

	t.Run("store failure", func(t *testing.T) {
		f := newFixture(t, nil, nil)
		f.store.err = errors.New("tx aborted")
		_, err := f.svc.BulkCreate(context.Background(), []*people.Person{{OwnerID: "o1"}})
		assert.Equal(t, people.KindPersistence, people.KindOf(err))
	})
}
