// Package media defines the frame, codec and quality types shared by the
// native transport, the decode pipeline and camera sessions.
package media
