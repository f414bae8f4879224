package decode

import "github.com/rickgao/camera-gateway/internal/media"

// Passthrough is the Decoder used when no codec backend is linked: key
// frames are forwarded as images and audio payloads as-is.
type Passthrough struct{}

// DecodeVideo returns the payload of I frames only.
func (Passthrough) DecodeVideo(f media.Frame) ([]byte, error) {
	if !f.IsKeyFrame() {
		return nil, nil
	}
	return f.Payload, nil
}

// DecodeAudio returns the payload unchanged.
func (Passthrough) DecodeAudio(f media.Frame) ([]byte, error) {
	return f.Payload, nil
}
