// Package proxy adapts Fiber requests to fetch events. Each site request is
// rebuilt as an *http.Request against the origin, served by the active
// worker version (cache hit) or the network (miss), and written back with
// X-Folio-Cache-Hit / X-Folio-Cache headers.
package proxy
