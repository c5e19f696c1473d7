package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/bigbag/meshrelay/internal/crc"
)

// Frame is one validated unit reconstructed from the byte stream.
type Frame struct {
	HeaderLength  byte
	PayloadLength uint16
	Header        []byte // full header, length byte included
	Payload       []byte
	CRC           uint16
}

// Version returns the format version carried at header offset 1.
func (f *Frame) Version() byte {
	if len(f.Header) <= VersionOffset {
		return 0
	}
	return f.Header[VersionOffset]
}

// NetworkID returns the network id carried at header offsets 4-5.
func (f *Frame) NetworkID() uint16 {
	if len(f.Header) < NetworkIDOffset+2 {
		return 0
	}
	return binary.BigEndian.Uint16(f.Header[NetworkIDOffset : NetworkIDOffset+2])
}

// PayloadLength decodes the payload length from a header.
// The header must hold at least PayloadLengthOffset+2 bytes.
func PayloadLength(header []byte) uint16 {
	return binary.BigEndian.Uint16(header[PayloadLengthOffset : PayloadLengthOffset+2])
}

// Options controls the header written by Encode.
type Options struct {
	HeaderLength byte // 0 selects MinHeaderLength
	NetworkID    uint16
}

// Encode builds a complete wire frame carrying payload.
func Encode(payload []byte, opts Options) ([]byte, error) {
	headerLen := opts.HeaderLength
	if headerLen == 0 {
		headerLen = MinHeaderLength
	}
	if !ValidHeaderLength(headerLen) {
		return nil, fmt.Errorf("header length %d out of range [%d, %d]", headerLen, MinHeaderLength, MaxHeaderLength)
	}
	if len(payload) > MaxPayloadLength {
		return nil, fmt.Errorf("payload too large: %d bytes (max %d)", len(payload), MaxPayloadLength)
	}

	// Layout:
	// 0-7: preamble
	// 8: header length
	// 9: format version
	// 10-11: payload length (big-endian)
	// 12-13: network id (big-endian)
	// rest of header: zero
	// payload, then CRC (big-endian)
	size := FrameSize(int(headerLen), len(payload))
	frame := make([]byte, size)

	copy(frame, Preamble[:])
	header := frame[PreambleLength : PreambleLength+int(headerLen)]
	header[HeaderLengthOffset] = headerLen
	header[VersionOffset] = FormatVersion
	binary.BigEndian.PutUint16(header[PayloadLengthOffset:], uint16(len(payload)))
	binary.BigEndian.PutUint16(header[NetworkIDOffset:], opts.NetworkID)

	body := PreambleLength + int(headerLen)
	copy(frame[body:], payload)

	sum := crc.Checksum(frame[:size-TrailerSize])
	binary.BigEndian.PutUint16(frame[size-TrailerSize:], sum)

	return frame, nil
}
