// Package routes registers the read-only diagnostics surface under /-/ (cache
// buckets, worker registration, simulated feed) and the PWA manifest route.
package routes
