// Package native describes the contract of the camera media-transport library.
//
// The library itself is an opaque collaborator: it owns its own threads and
// invokes status, raw-data and log callbacks from them. Implementations of
// Library bridge to wherever the library is hosted (see wsbridge); tests use
// nativetest.
package native
