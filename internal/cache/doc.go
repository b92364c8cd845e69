// Package cache implements named cache buckets of request→response pairs, the
// storage model behind the site's offline support. A Storage holds any number
// of buckets addressed by name (the deployed version tag); a Bucket maps an
// exact request key (method + URL) to the last stored response. Entries live on
// a go-billy filesystem: osfs for the on-disk backend, memfs for the in-memory
// backend and tests. Writes go through a temp file + rename so readers never
// observe a half-written entry. The package has no notion of "current" bucket;
// that policy belongs to the worker and lifecycle packages.
package cache
