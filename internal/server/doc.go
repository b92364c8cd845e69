// Package server hosts the Fiber HTTP service that fronts the portfolio site.
// It owns the middleware chain (panic recovery, request IDs), resolves site
// requests against the configured origin and hands them to a SiteHandler,
// which in the running binary is the cache-first handler in internal/proxy.
// Paths under /-/ are reserved for diagnostics registered by server/routes.
package server
