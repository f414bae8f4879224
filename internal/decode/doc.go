// Package decode runs the per-channel decode workers of a camera session.
//
// Each channel gets one worker goroutine fed by a bounded queue. Raw frames
// are pushed from the session control loop without blocking; when a queue is
// full the configured drop policy discards a frame. Decoding itself is
// delegated to a Decoder collaborator; outputs leave through the image and
// audio sinks.
package decode
