// Package session implements camera sessions and the manager that owns them.
//
// A Session is the connection lifecycle of one camera device:
//   - Connects through the native transport, retrying with exponential backoff
//   - Marshals every native callback onto its own control loop
//   - Gates the native raw-data subscription of each channel on the number of
//     frame subscribers (raw video, raw audio, decoded image, decoded audio)
//   - Fans raw and decoded frames out to independently registered subscribers
//
// All session-mutable state is written only by the control loop. Subscriber
// code runs on per-subscriber delivery goroutines, never on the loop and never
// on a native thread.
//
// The Manager owns the native library lifecycle and the sessions keyed by
// device id.
package session
