// Package backoff implements the reconnect delay calculator used by camera sessions.
//
// Delays double on every consecutive failure, starting from a floor and capped
// at a ceiling. A successful connect (or an explicit stop) resets to the floor.
package backoff
