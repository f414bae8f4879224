// Package poller periodically asks the native layer for the status of every
// active session and reports sessions whose cached status has drifted from
// the native one, e.g. because a status event was lost while the sidecar
// connection was down.
package poller
