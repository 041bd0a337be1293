// Package middleware provides HTTP middleware for authentication, role
// checks, and rate limiting.
//
// # Middleware Components
//
// Authenticator: OIDC bearer token verification
//
//	verifier, _ := middleware.NewOIDCVerifier(ctx, issuerURL, clientID)
//	authn := middleware.NewAuthenticator(verifier, middleware.AuthConfig{Optional: true})
//	router.Use(authn.Handler)
//
// RequireRoles: per-route role restriction
//
//	router.Handle("/persons", middleware.RequireRoles(auth.RoleAdmin)(listHandler))
//
// RateLimitMiddleware: in-memory or Redis-backed fixed window limits
//
//	limiter := middleware.NewDistributedRateLimiter(redisClient, middleware.DefaultRateLimitConfig(), "ratelimit:anon")
//	router.Use(middleware.NewRateLimitMiddleware(userLimiter, limiter, logger).Handler)
//
// # Rate Limiting
//
// Anonymous: 60 req/min, keyed by client IP
// Authenticated: 600 req/min, keyed by token subject
package middleware
