// Package frame reconstructs wire frames from a byte stream that arrives in
// arbitrary pieces. The Decoder is fed one byte at a time and keeps all
// partial state between calls; it never blocks and starts no goroutines.
//
// A Decoder must not be fed from more than one goroutine at a time.
package frame

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/bigbag/meshrelay/internal/crc"
	"github.com/bigbag/meshrelay/internal/protocol"
)

var (
	ErrInvalidHeaderLength = errors.New("frame: invalid header length")
	ErrCRCMismatch         = errors.New("frame: crc mismatch")
	ErrBufferOverflow      = errors.New("frame: buffer overflow")
)

// State is the decoder phase.
type State int

const (
	WaitingForPreamble State = iota
	ReadingHeader
	ReadingPayload
	ReadingCRC
)

func (s State) String() string {
	switch s {
	case WaitingForPreamble:
		return "waiting-for-preamble"
	case ReadingHeader:
		return "reading-header"
	case ReadingPayload:
		return "reading-payload"
	case ReadingCRC:
		return "reading-crc"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// EventKind classifies the outcome of feeding one byte.
type EventKind int

const (
	Pending EventKind = iota
	FrameReady
	Error
)

func (k EventKind) String() string {
	switch k {
	case Pending:
		return "pending"
	case FrameReady:
		return "frame-ready"
	case Error:
		return "error"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event is returned by Feed. Frame is set for FrameReady, Err for Error.
type Event struct {
	Kind  EventKind
	Frame *protocol.Frame
	Err   error
}

// StatsSink receives decoder error counts. Implementations must be cheap;
// they run inside Feed.
type StatsSink interface {
	RecordCRCError()
	RecordHeaderError()
	RecordOverflow()
}

type nopSink struct{}

func (nopSink) RecordCRCError()    {}
func (nopSink) RecordHeaderError() {}
func (nopSink) RecordOverflow()    {}

// Decoder is an incremental frame parser with a fixed-capacity buffer.
type Decoder struct {
	buf   []byte
	n     int
	state State

	preamblePos int
	headerLen   int
	payloadLen  int

	sink StatsSink
}

// NewDecoder creates a decoder whose accumulation buffer holds capacity
// bytes. Capacities below protocol.MinFrameSize are raised to it; zero or
// negative selects protocol.DefaultBufferCapacity. sink may be nil.
func NewDecoder(capacity int, sink StatsSink) *Decoder {
	if capacity <= 0 {
		capacity = protocol.DefaultBufferCapacity
	}
	if capacity < protocol.MinFrameSize {
		capacity = protocol.MinFrameSize
	}
	if sink == nil {
		sink = nopSink{}
	}
	return &Decoder{
		buf:  make([]byte, capacity),
		sink: sink,
	}
}

// Capacity returns the accumulation buffer size.
func (d *Decoder) Capacity() int {
	return len(d.buf)
}

// State returns the current phase.
func (d *Decoder) State() State {
	return d.state
}

// Buffered returns the number of frame bytes accumulated so far.
func (d *Decoder) Buffered() int {
	return d.n
}

// InProgress reports whether the decoder holds any partial frame or
// partial preamble match.
func (d *Decoder) InProgress() bool {
	return d.state != WaitingForPreamble || d.preamblePos > 0
}

// Reset drops any partial frame and returns to WaitingForPreamble.
func (d *Decoder) Reset() {
	d.state = WaitingForPreamble
	d.n = 0
	d.preamblePos = 0
	d.headerLen = 0
	d.payloadLen = 0
}

// Feed processes a single byte.
func (d *Decoder) Feed(b byte) Event {
	switch d.state {
	case WaitingForPreamble:
		d.matchPreamble(b)
		return Event{}

	case ReadingHeader:
		// First header byte is the header length (20-30, inclusive).
		if d.headerLen == 0 {
			if !protocol.ValidHeaderLength(b) {
				d.Reset()
				d.sink.RecordHeaderError()
				return errorEvent(fmt.Errorf("%w: %d not in [%d, %d]",
					ErrInvalidHeaderLength, b, protocol.MinHeaderLength, protocol.MaxHeaderLength))
			}
			d.headerLen = int(b)
		}
		if ev, ok := d.push(b); !ok {
			return ev
		}
		if d.n-protocol.PreambleLength == d.headerLen {
			d.payloadLen = int(protocol.PayloadLength(d.buf[protocol.PreambleLength:d.n]))
			if d.payloadLen == 0 {
				d.state = ReadingCRC
			} else {
				d.state = ReadingPayload
			}
		}
		return Event{}

	case ReadingPayload:
		if ev, ok := d.push(b); !ok {
			return ev
		}
		if d.n-d.bodyStart() == d.payloadLen {
			d.state = ReadingCRC
		}
		return Event{}

	case ReadingCRC:
		if ev, ok := d.push(b); !ok {
			return ev
		}
		if d.n-d.bodyStart()-d.payloadLen == protocol.TrailerSize {
			return d.finish()
		}
		return Event{}
	}

	d.Reset()
	return Event{}
}

// FeedBytes feeds every byte of data and returns the non-pending events
// in order.
func (d *Decoder) FeedBytes(data []byte) []Event {
	var events []Event
	for _, b := range data {
		if ev := d.Feed(b); ev.Kind != Pending {
			events = append(events, ev)
		}
	}
	return events
}

func (d *Decoder) matchPreamble(b byte) {
	if b == protocol.Preamble[d.preamblePos] {
		d.preamblePos++
		if d.preamblePos == protocol.PreambleLength {
			d.n = copy(d.buf, protocol.Preamble[:])
			d.preamblePos = 0
			d.state = ReadingHeader
		}
		return
	}

	// Restart matching; the mismatching byte may itself open a preamble.
	d.preamblePos = 0
	if b == protocol.Preamble[0] {
		d.preamblePos = 1
	}
}

// push appends b to the buffer. On overflow the decoder resets and the
// returned event carries ErrBufferOverflow.
func (d *Decoder) push(b byte) (Event, bool) {
	if d.n >= len(d.buf) {
		state := d.state
		d.Reset()
		d.sink.RecordOverflow()
		return errorEvent(fmt.Errorf("%w: capacity %d exceeded in %s",
			ErrBufferOverflow, len(d.buf), state)), false
	}
	d.buf[d.n] = b
	d.n++
	return Event{}, true
}

func (d *Decoder) bodyStart() int {
	return protocol.PreambleLength + d.headerLen
}

func (d *Decoder) finish() Event {
	defer d.Reset()

	end := d.n - protocol.TrailerSize
	received := binary.BigEndian.Uint16(d.buf[end:d.n])
	computed := crc.Checksum(d.buf[:end])
	if computed != received {
		d.sink.RecordCRCError()
		return errorEvent(fmt.Errorf("%w: computed 0x%04X, trailer 0x%04X",
			ErrCRCMismatch, computed, received))
	}

	start := d.bodyStart()
	header := make([]byte, d.headerLen)
	copy(header, d.buf[protocol.PreambleLength:start])
	payload := make([]byte, d.payloadLen)
	copy(payload, d.buf[start:start+d.payloadLen])

	return Event{
		Kind: FrameReady,
		Frame: &protocol.Frame{
			HeaderLength:  byte(d.headerLen),
			PayloadLength: uint16(d.payloadLen),
			Header:        header,
			Payload:       payload,
			CRC:           received,
		},
	}
}

func errorEvent(err error) Event {
	return Event{Kind: Error, Err: err}
}
