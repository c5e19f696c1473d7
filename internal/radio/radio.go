// Package radio defines the radio transport the relay consumes and the
// message type handed to consumers.
package radio

import (
	"errors"
	"time"
)

var (
	ErrModemClosed     = errors.New("radio: modem closed")
	ErrModemTimeout    = errors.New("radio: timeout waiting for modem reply")
	ErrModemReply      = errors.New("radio: modem rejected command")
	ErrPayloadTooLarge = errors.New("radio: payload too large")
	ErrInvalidContent  = errors.New("radio: content contains line terminators")
)

// Transport is the radio link. Receive is a non-blocking poll that reports
// false when nothing is ready.
type Transport interface {
	Receive() (Message, bool)
	Send(content []byte) error
}

// Source tells where a message entered the node.
type Source int

const (
	SourceRadio Source = iota
	SourceStream
)

func (s Source) String() string {
	if s == SourceStream {
		return "stream"
	}
	return "radio"
}

// Message is delivered content plus the signal metrics captured by the
// radio at receive time.
type Message struct {
	Content    []byte
	RSSI       float64 // dBm
	SNR        float64 // dB
	Source     Source
	ReceivedAt time.Time
}

// Preview returns at most n bytes of content as text.
func (m Message) Preview(n int) string {
	if len(m.Content) <= n {
		return string(m.Content)
	}
	return string(m.Content[:n])
}
