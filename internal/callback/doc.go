// Package callback provides a keyed subscriber table with single- and
// multi-subscriber registration modes.
//
// In single mode a key holds at most one handler under SingleID and a new
// registration replaces it. In multi mode every registration gets the next
// id for its key, and Snapshot returns handlers in registration order.
package callback
