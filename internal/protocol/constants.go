package protocol

import "github.com/bigbag/meshrelay/internal/crc"

// Preamble layout
const (
	PreambleByte   = 0xAA
	PreambleLength = 8
)

// Preamble is the synchronization pattern that opens every frame.
var Preamble = [PreambleLength]byte{
	PreambleByte, PreambleByte, PreambleByte, PreambleByte,
	PreambleByte, PreambleByte, PreambleByte, PreambleByte,
}

// Header layout. Offsets are relative to the header length byte.
const (
	MinHeaderLength = 20
	MaxHeaderLength = 30

	HeaderLengthOffset  = 0
	VersionOffset       = 1
	PayloadLengthOffset = 2 // big-endian uint16 at offsets 2-3
	NetworkIDOffset     = 4 // big-endian uint16 at offsets 4-5
)

// Frame sizing
const (
	TrailerSize           = crc.Size
	MaxPayloadLength      = 0xFFFF
	DefaultBufferCapacity = 512
	MinFrameSize          = PreambleLength + MinHeaderLength + TrailerSize
)

// FormatVersion is written at header offset 1 by Encode.
const FormatVersion byte = 0x01

// Relay defaults
const (
	DefaultForwardMarker = "FORWARD:"
	DefaultMaxHops       = 3
	DefaultNetworkID     = 0x0001
	DefaultBaudRate      = 115200
)

// ValidHeaderLength reports whether n is an acceptable header length byte.
func ValidHeaderLength(n byte) bool {
	return n >= MinHeaderLength && n <= MaxHeaderLength
}

// FrameSize returns the total wire size of a frame.
func FrameSize(headerLength int, payloadLength int) int {
	return PreambleLength + headerLength + payloadLength + TrailerSize
}
