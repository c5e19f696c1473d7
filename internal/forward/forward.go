// Package forward decides whether a delivered message is relayed and
// builds the relayed copy.
//
// The hop ceiling is enforced against the node-wide forwarded counter,
// not against a count carried in the message.
package forward

import (
	"bytes"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/bigbag/meshrelay/internal/radio"
)

// HopPrefix opens the content of every relayed message: "HOP-<n>:".
const HopPrefix = "HOP-"

// Counter is the forward state. stats.Statistics implements it.
type Counter interface {
	PacketsForwarded() uint64
	RecordForwarded()
	RecordSendFailure()
}

// Sender transmits relayed content.
type Sender interface {
	Send(content []byte) error
}

// Outgoing is a relayed message.
type Outgoing struct {
	Content []byte
	Hop     uint64
}

// Controller applies the marker and hop ceiling rule.
type Controller struct {
	marker  []byte
	maxHops uint64
	counter Counter
	log     zerolog.Logger
}

// New returns a controller relaying messages that start with marker while
// fewer than maxHops messages have been forwarded.
func New(marker string, maxHops int, counter Counter, logger zerolog.Logger) *Controller {
	if maxHops < 0 {
		maxHops = 0
	}
	return &Controller{
		marker:  []byte(marker),
		maxHops: uint64(maxHops),
		counter: counter,
		log:     logger.With().Str("component", "forward").Logger(),
	}
}

// MaybeForward returns the relayed copy of msg and true when msg carries
// the marker and the hop ceiling has not been reached. A positive decision
// increments the forwarded counter.
func (c *Controller) MaybeForward(msg radio.Message) (Outgoing, bool) {
	if !bytes.HasPrefix(msg.Content, c.marker) {
		return Outgoing{}, false
	}

	forwarded := c.counter.PacketsForwarded()
	if forwarded >= c.maxHops {
		c.log.Debug().
			Uint64("forwarded", forwarded).
			Uint64("max_hops", c.maxHops).
			Msg("hop ceiling reached, not relaying")
		return Outgoing{}, false
	}

	hop := forwarded + 1
	content := make([]byte, 0, len(HopPrefix)+4+len(msg.Content))
	content = append(content, HopPrefix...)
	content = strconv.AppendUint(content, hop, 10)
	content = append(content, ':')
	content = append(content, msg.Content...)

	c.counter.RecordForwarded()
	return Outgoing{Content: content, Hop: hop}, true
}

// Relay runs MaybeForward and hands a positive result to tx. Send errors
// are logged and counted; the decision is not rolled back and the send is
// not retried.
func (c *Controller) Relay(msg radio.Message, tx Sender) (Outgoing, bool) {
	out, ok := c.MaybeForward(msg)
	if !ok {
		return Outgoing{}, false
	}

	if err := tx.Send(out.Content); err != nil {
		c.counter.RecordSendFailure()
		c.log.Warn().Err(err).Uint64("hop", out.Hop).Msg("relay send failed")
		return out, true
	}

	c.log.Info().Uint64("hop", out.Hop).Int("len", len(out.Content)).Msg("relayed")
	return out, true
}
