package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/people/pkg/auth"
	"github.com/platinummonkey/people/pkg/middleware"
)

// Route is one entry of the route table
type Route struct {
	Name   string
	Method string
	Path   string
	// Roles lists the roles allowed to call the route; any one suffices.
	// Public routes skip the check.
	Roles   []auth.Role
	Public  bool
	Handler http.HandlerFunc
}

// Routes returns the person route table. The bulk route is listed before
// /persons/{id} so that the literal path wins.
func (h *PersonHandlers) Routes() []Route {
	return []Route{
		{Name: "list_persons", Method: http.MethodGet, Path: "/persons", Roles: []auth.Role{auth.RoleAdmin}, Handler: h.listPersons},
		{Name: "create_person", Method: http.MethodPost, Path: "/persons", Public: true, Handler: h.createPerson},
		{Name: "bulk_create_persons", Method: http.MethodPost, Path: "/persons/bulk", Roles: []auth.Role{auth.RoleAdmin}, Handler: h.bulkCreatePersons},
		{Name: "get_person", Method: http.MethodGet, Path: "/persons/{id}", Roles: []auth.Role{auth.RoleAdmin, auth.RoleOrganizer}, Handler: h.getPerson},
		{Name: "get_person_by_email", Method: http.MethodGet, Path: "/persons-by-email/{email}", Public: true, Handler: h.getPersonByEmail},
	}
}

// Guards are the per-route middlewares. Nil members are skipped.
type Guards struct {
	// Authenticate resolves the bearer token, if any, into an auth context.
	// It runs on every route so public routes still see the caller's tenant.
	Authenticate func(http.Handler) http.Handler
	// RateLimit throttles public routes
	RateLimit func(http.Handler) http.Handler
}

// RegisterRoutes mounts the route table on router
func (h *PersonHandlers) RegisterRoutes(router *mux.Router, guards Guards) {
	for _, route := range h.Routes() {
		var handler http.Handler = route.Handler
		if route.Public {
			if guards.RateLimit != nil {
				handler = guards.RateLimit(handler)
			}
		} else {
			handler = middleware.RequireRoles(route.Roles...)(handler)
		}
		if guards.Authenticate != nil {
			handler = guards.Authenticate(handler)
		}
		router.Handle(route.Path, handler).Methods(route.Method).Name(route.Name)
	}
}
