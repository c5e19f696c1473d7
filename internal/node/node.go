// Package node is the host loop of the relay. It owns the frame decoder
// and drives it from a single goroutine, polls the radio, delivers
// messages to the display and the forward controller, and resets stalled
// partial frames.
package node

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/bigbag/meshrelay/internal/display"
	"github.com/bigbag/meshrelay/internal/forward"
	"github.com/bigbag/meshrelay/internal/frame"
	"github.com/bigbag/meshrelay/internal/protocol"
	"github.com/bigbag/meshrelay/internal/radio"
	"github.com/bigbag/meshrelay/internal/stats"
	"github.com/bigbag/meshrelay/internal/transform"
)

// MaxMessageLength bounds radio messages; longer ones are counted as
// length errors and dropped.
const MaxMessageLength = 256

const (
	DefaultPollInterval = 10 * time.Millisecond
	logPreview          = 32
)

// Options tune the loop.
type Options struct {
	BufferCapacity int
	ForwardMarker  string
	MaxHops        int
	PollInterval   time.Duration
	StallTimeout   time.Duration // 0 disables the watchdog
	Logger         zerolog.Logger
	Now            func() time.Time
}

// Deps are the collaborators supplied by the host.
type Deps struct {
	Radio     radio.Transport
	Display   display.Display
	Transform transform.Transform
	Stats     *stats.Statistics
	Queue     *ByteQueue // optional byte-stream input
}

// Node wires the decoder, transform, forward controller and collaborators.
type Node struct {
	decoder   *frame.Decoder
	forwarder *forward.Controller
	transform transform.Transform
	stats     *stats.Statistics
	radio     radio.Transport
	display   display.Display
	queue     *ByteQueue

	opts Options
	log  zerolog.Logger

	lastRSSI   float64
	lastSNR    float64
	lastByteAt time.Time
}

func New(deps Deps, opts Options) *Node {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.ForwardMarker == "" {
		opts.ForwardMarker = protocol.DefaultForwardMarker
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if deps.Radio == nil {
		deps.Radio = radio.NewMemory()
	}
	if deps.Display == nil {
		deps.Display = display.Nop{}
	}
	if deps.Transform == nil {
		deps.Transform = transform.Identity{}
	}
	if deps.Stats == nil {
		deps.Stats = stats.New(protocol.DefaultNetworkID)
	}

	logger := opts.Logger.With().Str("component", "node").Logger()
	return &Node{
		decoder:   frame.NewDecoder(opts.BufferCapacity, deps.Stats),
		forwarder: forward.New(opts.ForwardMarker, opts.MaxHops, deps.Stats, opts.Logger),
		transform: deps.Transform,
		stats:     deps.Stats,
		radio:     deps.Radio,
		display:   deps.Display,
		queue:     deps.Queue,
		opts:      opts,
		log:       logger,
	}
}

// Stats returns the node statistics.
func (n *Node) Stats() *stats.Statistics {
	return n.stats
}

// Decoder exposes the decoder state, for diagnostics.
func (n *Node) Decoder() *frame.Decoder {
	return n.decoder
}

// HandleByte feeds one byte to the decoder and reports whether it
// completed a delivered frame.
func (n *Node) HandleByte(b byte) bool {
	n.lastByteAt = n.opts.Now()

	ev := n.decoder.Feed(b)
	switch ev.Kind {
	case frame.FrameReady:
		return n.handleFrame(ev.Frame)
	case frame.Error:
		n.logDecodeError(ev.Err)
	}
	return false
}

// FeedBytes runs data through HandleByte and returns how many frames were
// delivered.
func (n *Node) FeedBytes(data []byte) int {
	delivered := 0
	for _, b := range data {
		if n.HandleByte(b) {
			delivered++
		}
	}
	return delivered
}

func (n *Node) handleFrame(f *protocol.Frame) bool {
	content, err := n.transform.Apply(f.Payload)
	if err != nil {
		n.log.Error().Err(err).Str("transform", n.transform.Name()).Msg("payload transform failed")
		return false
	}

	n.Deliver(radio.Message{
		Content:    content,
		RSSI:       n.lastRSSI,
		SNR:        n.lastSNR,
		Source:     radio.SourceStream,
		ReceivedAt: n.opts.Now(),
	})
	return true
}

func (n *Node) logDecodeError(err error) {
	ev := n.log.Warn().Err(err).Str("state", n.decoder.State().String())
	switch {
	case errors.Is(err, frame.ErrCRCMismatch):
		ev.Msg("CRC mismatch, discarding frame")
	case errors.Is(err, frame.ErrInvalidHeaderLength):
		ev.Msg("invalid header length, resynchronizing")
	case errors.Is(err, frame.ErrBufferOverflow):
		ev.Msg("frame exceeds buffer, discarding")
	default:
		ev.Msg("decode error")
	}
}

// PollRadio handles at most one message from the radio. It reports whether
// the radio had one.
func (n *Node) PollRadio() bool {
	msg, ok := n.radio.Receive()
	if !ok {
		return false
	}
	n.lastRSSI, n.lastSNR = msg.RSSI, msg.SNR

	if len(msg.Content) == 0 {
		return true
	}
	if len(msg.Content) >= MaxMessageLength {
		n.stats.RecordLengthError()
		n.log.Warn().Int("len", len(msg.Content)).Msg("invalid message length - potential buffer overflow")
		n.display.ShowStatus("INVALID MSG LEN!")
		return true
	}

	msg.Source = radio.SourceRadio
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = n.opts.Now()
	}
	n.Deliver(msg)
	return true
}

// Deliver counts, displays, logs and possibly relays msg.
func (n *Node) Deliver(msg radio.Message) {
	n.stats.RecordReceived(msg.RSSI, msg.SNR)
	n.display.ShowMessage(msg.Content, msg.RSSI)

	n.log.Info().
		Str("source", msg.Source.String()).
		Str("content", msg.Preview(logPreview)).
		Float64("rssi", msg.RSSI).
		Float64("snr", msg.SNR).
		Msg("RX")

	n.forwarder.Relay(msg, n.radio)
}

// CheckWatchdog resets a partial frame that saw no input for the stall
// timeout. It reports whether a reset happened.
func (n *Node) CheckWatchdog() bool {
	if n.opts.StallTimeout <= 0 || !n.decoder.InProgress() {
		return false
	}
	idle := n.opts.Now().Sub(n.lastByteAt)
	if idle < n.opts.StallTimeout {
		return false
	}
	n.log.Warn().
		Dur("idle", idle).
		Int("buffered", n.decoder.Buffered()).
		Str("state", n.decoder.State().String()).
		Msg("stalled partial frame, resetting decoder")
	n.decoder.Reset()
	return true
}

// Step runs one loop iteration: drain queued bytes if the ready flag was
// raised, poll the radio until it is empty, then check the watchdog.
func (n *Node) Step() {
	if n.queue != nil && n.queue.TakeReady() {
		n.queue.Drain(func(chunk []byte) { n.FeedBytes(chunk) })
	}
	for n.PollRadio() {
	}
	n.CheckWatchdog()
}

// Run steps the loop every poll interval until ctx is done.
func (n *Node) Run(ctx context.Context) error {
	ticker := time.NewTicker(n.opts.PollInterval)
	defer ticker.Stop()

	n.log.Info().
		Int("buffer_capacity", n.decoder.Capacity()).
		Int("max_hops", n.opts.MaxHops).
		Str("transform", n.transform.Name()).
		Msg("node started")

	for {
		select {
		case <-ctx.Done():
			n.log.Info().Msg("node stopped")
			return nil
		case <-ticker.C:
			n.Step()
		}
	}
}
