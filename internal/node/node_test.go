package node

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/bigbag/meshrelay/internal/protocol"
	"github.com/bigbag/meshrelay/internal/radio"
	"github.com/bigbag/meshrelay/internal/stats"
	"github.com/bigbag/meshrelay/internal/transform"
)

type recordingDisplay struct {
	messages []string
	statuses []string
}

func (d *recordingDisplay) ShowMessage(content []byte, rssi float64) {
	d.messages = append(d.messages, string(content))
}

func (d *recordingDisplay) ShowStatus(text string) {
	d.statuses = append(d.statuses, text)
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type harness struct {
	node    *Node
	radio   *radio.Memory
	display *recordingDisplay
	stats   *stats.Statistics
	clock   *fakeClock
}

func newHarness(t *testing.T, opts Options, tr transform.Transform) *harness {
	t.Helper()
	h := &harness{
		radio:   radio.NewMemory(),
		display: &recordingDisplay{},
		stats:   stats.New(protocol.DefaultNetworkID),
		clock:   &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)},
	}
	opts.Logger = zerolog.Nop()
	opts.Now = h.clock.Now
	if opts.MaxHops == 0 {
		opts.MaxHops = protocol.DefaultMaxHops
	}
	h.node = New(Deps{
		Radio:     h.radio,
		Display:   h.display,
		Transform: tr,
		Stats:     h.stats,
	}, opts)
	return h
}

func encode(t *testing.T, payload string) []byte {
	t.Helper()
	raw, err := protocol.Encode([]byte(payload), protocol.Options{})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	return raw
}

func TestNode_StreamFrameDelivered(t *testing.T) {
	h := newHarness(t, Options{}, nil)

	if n := h.node.FeedBytes(encode(t, "hello")); n != 1 {
		t.Fatalf("FeedBytes() delivered %d, want 1", n)
	}
	if len(h.display.messages) != 1 || h.display.messages[0] != "hello" {
		t.Errorf("displayed %q, want [hello]", h.display.messages)
	}
	if got := h.stats.Snapshot().PacketsReceived; got != 1 {
		t.Errorf("PacketsReceived = %d, want 1", got)
	}
	if len(h.radio.Sent()) != 0 {
		t.Errorf("sent %d messages, want 0", len(h.radio.Sent()))
	}
}

func TestNode_StreamFrameForwarded(t *testing.T) {
	h := newHarness(t, Options{}, nil)

	h.node.FeedBytes(encode(t, "FORWARD:ping"))

	sent := h.radio.Sent()
	if len(sent) != 1 || string(sent[0]) != "HOP-1:FORWARD:ping" {
		t.Fatalf("sent %q, want [HOP-1:FORWARD:ping]", sent)
	}
	if got := h.stats.PacketsForwarded(); got != 1 {
		t.Errorf("PacketsForwarded = %d, want 1", got)
	}
}

func TestNode_StreamUsesLastRadioSignal(t *testing.T) {
	h := newHarness(t, Options{}, nil)
	h.radio.Inject(radio.Message{Content: []byte("x"), RSSI: -70, SNR: 9})
	h.node.PollRadio()

	h.node.FeedBytes(encode(t, "y"))

	snap := h.stats.Snapshot()
	if snap.PacketsReceived != 2 {
		t.Fatalf("PacketsReceived = %d, want 2", snap.PacketsReceived)
	}
	if snap.AvgRSSI != -70 || snap.AvgSNR != 9 {
		t.Errorf("avg = (%v, %v), want (-70, 9)", snap.AvgRSSI, snap.AvgSNR)
	}
}

func TestNode_TransformApplied(t *testing.T) {
	key := []byte{0x20}
	h := newHarness(t, Options{}, transform.XOR{Key: key})

	h.node.FeedBytes(encode(t, "HELLO"))

	if len(h.display.messages) != 1 || h.display.messages[0] != "hello" {
		t.Errorf("displayed %q, want [hello]", h.display.messages)
	}
}

type failingTransform struct{}

func (failingTransform) Name() string { return "failing" }

func (failingTransform) Apply([]byte) ([]byte, error) { return nil, errors.New("boom") }

func TestNode_TransformErrorDropsFrame(t *testing.T) {
	h := newHarness(t, Options{}, failingTransform{})

	if n := h.node.FeedBytes(encode(t, "x")); n != 0 {
		t.Errorf("FeedBytes() delivered %d, want 0", n)
	}
	if len(h.display.messages) != 0 {
		t.Errorf("displayed %q, want nothing", h.display.messages)
	}
}

func TestNode_CorruptFrameCounted(t *testing.T) {
	h := newHarness(t, Options{}, nil)
	raw := encode(t, "hello")
	raw[len(raw)-1] ^= 0xFF

	if n := h.node.FeedBytes(raw); n != 0 {
		t.Errorf("FeedBytes() delivered %d, want 0", n)
	}
	if got := h.stats.Snapshot().CRCErrors; got != 1 {
		t.Errorf("CRCErrors = %d, want 1", got)
	}
	if n := h.node.FeedBytes(encode(t, "again")); n != 1 {
		t.Errorf("FeedBytes() after error delivered %d, want 1", n)
	}
}

func TestNode_PollRadioEmpty(t *testing.T) {
	h := newHarness(t, Options{}, nil)
	if h.node.PollRadio() {
		t.Error("PollRadio() on empty radio = true")
	}
}

func TestNode_PollRadioIgnoresEmptyContent(t *testing.T) {
	h := newHarness(t, Options{}, nil)
	h.radio.Inject(radio.Message{})

	if !h.node.PollRadio() {
		t.Fatal("PollRadio() = false, want true")
	}
	if got := h.stats.Snapshot().PacketsReceived; got != 0 {
		t.Errorf("PacketsReceived = %d, want 0", got)
	}
}

func TestNode_PollRadioLengthGuard(t *testing.T) {
	h := newHarness(t, Options{}, nil)
	h.radio.Inject(
		radio.Message{Content: []byte(strings.Repeat("a", MaxMessageLength))},
		radio.Message{Content: []byte(strings.Repeat("b", MaxMessageLength-1))},
	)

	h.node.PollRadio()
	snap := h.stats.Snapshot()
	if snap.LengthErrors != 1 || snap.CRCErrors != 1 {
		t.Errorf("errors = (length %d, crc %d), want (1, 1)", snap.LengthErrors, snap.CRCErrors)
	}
	if len(h.display.statuses) != 1 || h.display.statuses[0] != "INVALID MSG LEN!" {
		t.Errorf("statuses = %q", h.display.statuses)
	}
	if snap.PacketsReceived != 0 {
		t.Errorf("PacketsReceived = %d, want 0", snap.PacketsReceived)
	}

	h.node.PollRadio()
	if got := h.stats.Snapshot().PacketsReceived; got != 1 {
		t.Errorf("PacketsReceived after 255-byte message = %d, want 1", got)
	}
}

func TestNode_HopCeilingAcrossSources(t *testing.T) {
	h := newHarness(t, Options{MaxHops: 2}, nil)
	h.radio.Inject(
		radio.Message{Content: []byte("FORWARD:a")},
		radio.Message{Content: []byte("FORWARD:b")},
	)
	h.node.PollRadio()
	h.node.FeedBytes(encode(t, "FORWARD:c"))
	h.node.PollRadio()

	sent := h.radio.Sent()
	if len(sent) != 2 {
		t.Fatalf("sent %d messages, want 2", len(sent))
	}
	if string(sent[0]) != "HOP-1:FORWARD:a" || string(sent[1]) != "HOP-2:FORWARD:c" {
		t.Errorf("sent %q", sent)
	}
}

func TestNode_SendFailureCounted(t *testing.T) {
	h := newHarness(t, Options{}, nil)
	h.radio.FailSends(radio.ErrModemTimeout)
	h.radio.Inject(radio.Message{Content: []byte("FORWARD:x")})

	h.node.PollRadio()

	snap := h.stats.Snapshot()
	if snap.SendFailures != 1 {
		t.Errorf("SendFailures = %d, want 1", snap.SendFailures)
	}
	if snap.PacketsForwarded != 1 {
		t.Errorf("PacketsForwarded = %d, want 1", snap.PacketsForwarded)
	}
}

func TestNode_WatchdogResetsStalledFrame(t *testing.T) {
	h := newHarness(t, Options{StallTimeout: time.Second}, nil)
	raw := encode(t, "hello")

	h.node.FeedBytes(raw[:12])
	if !h.node.Decoder().InProgress() {
		t.Fatal("decoder not in progress after partial frame")
	}

	h.clock.Advance(500 * time.Millisecond)
	if h.node.CheckWatchdog() {
		t.Error("CheckWatchdog() fired before timeout")
	}

	h.clock.Advance(600 * time.Millisecond)
	if !h.node.CheckWatchdog() {
		t.Fatal("CheckWatchdog() did not fire after timeout")
	}
	if h.node.Decoder().InProgress() {
		t.Error("decoder still in progress after watchdog")
	}

	if n := h.node.FeedBytes(raw); n != 1 {
		t.Errorf("FeedBytes() after reset delivered %d, want 1", n)
	}
}

func TestNode_WatchdogDisabled(t *testing.T) {
	h := newHarness(t, Options{}, nil)
	h.node.FeedBytes(encode(t, "hello")[:12])
	h.clock.Advance(time.Hour)
	if h.node.CheckWatchdog() {
		t.Error("CheckWatchdog() fired with zero stall timeout")
	}
}

func TestNode_StepDrainsQueue(t *testing.T) {
	q := NewByteQueue(4)
	n := New(Deps{Queue: q}, Options{Logger: zerolog.Nop()})
	raw := encode(t, "queued")

	ctx := context.Background()
	if err := q.Push(ctx, raw[:10]); err != nil {
		t.Fatal(err)
	}
	if err := q.Push(ctx, raw[10:]); err != nil {
		t.Fatal(err)
	}

	n.Step()
	if got := n.Stats().Snapshot().PacketsReceived; got != 1 {
		t.Errorf("PacketsReceived = %d, want 1", got)
	}

	n.Step()
	if got := n.Stats().Snapshot().PacketsReceived; got != 1 {
		t.Errorf("PacketsReceived after idle step = %d, want 1", got)
	}
}

func TestNode_RunStopsOnCancel(t *testing.T) {
	n := New(Deps{}, Options{Logger: zerolog.Nop(), PollInterval: time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- n.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}
