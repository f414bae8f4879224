package wsbridge

import (
	"encoding/binary"

	"github.com/rickgao/camera-gateway/internal/native"
)

// FrameHeaderSize is the size of the binary frame header:
// handle u32, codec u32, length u32, timestamp u64, sequence u32,
// frame type u32, channel u8. All little-endian.
const FrameHeaderSize = 29

// AppendFrame encodes a raw frame message for handle.
func AppendFrame(dst []byte, h native.Handle, hdr native.FrameHeader, payload []byte) []byte {
	var buf [FrameHeaderSize]byte
	le := binary.LittleEndian
	le.PutUint32(buf[0:], uint32(h))
	le.PutUint32(buf[4:], hdr.Codec)
	le.PutUint32(buf[8:], hdr.Length)
	le.PutUint64(buf[12:], hdr.Timestamp)
	le.PutUint32(buf[20:], hdr.Sequence)
	le.PutUint32(buf[24:], hdr.FrameType)
	buf[28] = hdr.Channel
	dst = append(dst, buf[:]...)
	return append(dst, payload...)
}

// ParseFrame decodes a raw frame message. The payload aliases data.
func ParseFrame(data []byte) (native.Handle, native.FrameHeader, []byte, error) {
	if len(data) < FrameHeaderSize {
		return 0, native.FrameHeader{}, nil, ErrShortFrame
	}
	le := binary.LittleEndian
	h := native.Handle(le.Uint32(data[0:]))
	hdr := native.FrameHeader{
		Codec:     le.Uint32(data[4:]),
		Length:    le.Uint32(data[8:]),
		Timestamp: le.Uint64(data[12:]),
		Sequence:  le.Uint32(data[20:]),
		FrameType: le.Uint32(data[24:]),
		Channel:   data[28],
	}
	payload := data[FrameHeaderSize:]
	if int(hdr.Length) < len(payload) {
		payload = payload[:hdr.Length]
	}
	return h, hdr, payload, nil
}
