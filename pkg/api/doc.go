// Package api provides the HTTP REST API for the person records service.
//
// # Overview
//
// Routes are declared in one table (see Routes) that names the method,
// path, required roles and handler of every operation. RegisterRoutes
// wraps each entry with authentication, role checks and rate limiting
// before mounting it on a gorilla/mux router:
//
//	GET  /persons                   admin             list persons in the caller's tenant
//	POST /persons                   public            register a person
//	POST /persons/bulk              admin             store persons in one transaction
//	GET  /persons/{id}              admin, organizer  fetch one person
//	GET  /persons-by-email/{email}  public            look an identity up by email
//
// Server assembles the router with the request id, logging, recovery and
// metrics middleware plus the /healthz, /readyz and /metrics endpoints.
//
// # Errors
//
// Handlers render *people.Error values with their own status and a
// {"error": ..., "kind": ...} body. Any other error is logged and answered
// with an opaque 500.
package api
