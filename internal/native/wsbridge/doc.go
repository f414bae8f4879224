// Package wsbridge implements native.Library against a sidecar process that
// hosts the camera transport library.
//
// The bridge:
//   - Holds one WebSocket connection to the sidecar
//   - Sends JSON commands and correlates responses by id
//   - Receives status and log events as JSON text messages
//   - Receives raw frames as binary messages with a fixed header
//   - Invokes registered callbacks from its dispatch goroutine
package wsbridge
