// Package auth holds the caller identity established by the bearer token
// middleware and the roles the person routes are restricted to.
//
//	authCtx := middleware.GetAuthContext(r)
//	if authCtx.HasAnyRole(auth.RoleAdmin, auth.RoleOrganizer) { ... }
package auth
