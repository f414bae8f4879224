package media

import (
	"fmt"
	"strings"
)

// Codec is the codec id carried in a native frame header.
type Codec uint32

const (
	CodecH264 Codec = 4
	CodecH265 Codec = 5 // Also reported as HEVC

	CodecPCM   Codec = 1024
	CodecG711U Codec = 1026
	CodecG711A Codec = 1027
	CodecOpus  Codec = 1032
)

// String returns a short codec name.
func (c Codec) String() string {
	switch c {
	case CodecH264:
		return "h264"
	case CodecH265:
		return "h265"
	case CodecPCM:
		return "pcm"
	case CodecG711U:
		return "g711u"
	case CodecG711A:
		return "g711a"
	case CodecOpus:
		return "opus"
	}
	return fmt.Sprintf("codec(%d)", uint32(c))
}

// Kind is the media family of a codec.
type Kind int

const (
	KindUnknown Kind = iota
	KindVideo
	KindAudio
)

func (k Kind) String() string {
	switch k {
	case KindVideo:
		return "video"
	case KindAudio:
		return "audio"
	}
	return "unknown"
}

// Classify returns the family of a transport codec.
// PCM is a decode output and never arrives from the transport.
func Classify(c Codec) Kind {
	switch c {
	case CodecH264, CodecH265:
		return KindVideo
	case CodecG711U, CodecG711A, CodecOpus:
		return KindAudio
	}
	return KindUnknown
}

// FrameType distinguishes key frames from predicted frames.
type FrameType uint32

const (
	FrameP FrameType = 0
	FrameI FrameType = 1
)

// Frame is one raw media frame. It is not retained past dispatch.
type Frame struct {
	Codec     Codec
	Channel   int
	Timestamp uint64 // Milliseconds
	Sequence  uint32
	Type      FrameType
	Payload   []byte
}

// NewFrame builds a Frame, copying payload out of the caller's buffer.
func NewFrame(codec Codec, channel int, ts uint64, seq uint32, ft FrameType, payload []byte) Frame {
	data := make([]byte, len(payload))
	copy(data, payload)
	return Frame{
		Codec:     codec,
		Channel:   channel,
		Timestamp: ts,
		Sequence:  seq,
		Type:      ft,
		Payload:   data,
	}
}

// Kind returns the frame's media family.
func (f Frame) Kind() Kind {
	return Classify(f.Codec)
}

// IsKeyFrame reports whether the frame is an I frame.
func (f Frame) IsKeyFrame() bool {
	return f.Type == FrameI
}

// Decoded is decode-pipeline output (an image or a PCM block).
type Decoded struct {
	Kind      Kind
	Channel   int
	Timestamp uint64
	Data      []byte
}

// Quality is a per-channel video quality code.
type Quality uint8

const (
	QualityLow  Quality = 1
	QualityHigh Quality = 3
)

// Valid reports whether q is a known quality code.
func (q Quality) Valid() bool {
	return q == QualityLow || q == QualityHigh
}

func (q Quality) String() string {
	switch q {
	case QualityLow:
		return "low"
	case QualityHigh:
		return "high"
	}
	return fmt.Sprintf("quality(%d)", uint8(q))
}

// ParseQuality parses "low" or "high" (case-insensitive).
func ParseQuality(s string) (Quality, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return QualityLow, nil
	case "high":
		return QualityHigh, nil
	}
	return 0, fmt.Errorf("unknown video quality %q", s)
}
