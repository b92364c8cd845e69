// Package worker is the cache manager for one deployed version of the site.
//
// Install fetches every asset in the manifest and stores them in the bucket
// named by the version tag, all or nothing. Activate deletes every other
// bucket. Fetch answers from the current bucket on an exact method+URL match
// and otherwise goes to the network without writing the response back.
package worker
