// Package lifecycle stands in for the browser runtime that drives a service
// worker. A Dispatcher maps lifecycle event types (install, activate, fetch) to
// handlers; handlers extend the event's lifetime explicitly with WaitUntil and
// the dispatcher blocks until every waited function returns. A Registration
// owns the version state machine: it installs a new script, activates it only
// when install succeeded, keeps the previous version serving otherwise, and
// routes fetches to whichever version is active.
package lifecycle
