package radio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// AT command set of serial-attached LoRa modems (REYAX RYLR8xx family):
//
//	AT+SEND=<address>,<length>,<data>     transmit
//	+OK / +ERR=<code>                     command reply
//	+RCV=<address>,<length>,<data>,<rssi>,<snr>   unsolicited receive
const (
	MaxModemPayload = 240

	DefaultReplyTimeout = 2 * time.Second
	DefaultRxQueue      = 32

	maxLineLength = 512
)

// ModemOptions configures a Modem.
type ModemOptions struct {
	Address      int // destination address for AT+SEND; 0 broadcasts
	ReplyTimeout time.Duration
	RxQueue      int
	Logger       zerolog.Logger
}

// Modem is a Transport over a line-oriented AT modem. A reader goroutine
// parses incoming lines; Receive drains parsed messages without blocking.
type Modem struct {
	rw      io.ReadWriteCloser
	opts    ModemOptions
	log     zerolog.Logger
	rx      chan Message
	replies chan string

	writeMu   sync.Mutex
	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once

	errMu   sync.Mutex
	readErr error
}

// NewModem starts reading from rw. Close stops the reader and closes rw.
func NewModem(rw io.ReadWriteCloser, opts ModemOptions) *Modem {
	if opts.ReplyTimeout <= 0 {
		opts.ReplyTimeout = DefaultReplyTimeout
	}
	if opts.RxQueue <= 0 {
		opts.RxQueue = DefaultRxQueue
	}
	m := &Modem{
		rw:      rw,
		opts:    opts,
		log:     opts.Logger.With().Str("component", "modem").Logger(),
		rx:      make(chan Message, opts.RxQueue),
		replies: make(chan string, 4),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go m.readLoop()
	return m
}

// Receive returns the next parsed +RCV message, if any.
func (m *Modem) Receive() (Message, bool) {
	select {
	case msg := <-m.rx:
		return msg, true
	default:
		return Message{}, false
	}
}

// Send transmits content with AT+SEND and waits for the modem reply.
func (m *Modem) Send(content []byte) error {
	if len(content) > MaxModemPayload {
		return fmt.Errorf("%w: %d bytes (max %d)", ErrPayloadTooLarge, len(content), MaxModemPayload)
	}
	if bytes.ContainsAny(content, "\r\n") {
		return ErrInvalidContent
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	select {
	case <-m.done:
		return ErrModemClosed
	default:
	}

	// Drop replies nobody waited for.
	for drained := false; !drained; {
		select {
		case <-m.replies:
		default:
			drained = true
		}
	}

	cmd := fmt.Sprintf("AT+SEND=%d,%d,%s\r\n", m.opts.Address, len(content), content)
	if _, err := m.rw.Write([]byte(cmd)); err != nil {
		return fmt.Errorf("modem write failed: %w", err)
	}

	timer := time.NewTimer(m.opts.ReplyTimeout)
	defer timer.Stop()

	select {
	case reply := <-m.replies:
		if reply == "+OK" {
			return nil
		}
		return fmt.Errorf("%w: %s", ErrModemReply, strings.TrimPrefix(reply, "+ERR="))
	case <-timer.C:
		return ErrModemTimeout
	case <-m.stopped:
		return ErrModemClosed
	}
}

// Err returns the error that stopped the reader, if any.
func (m *Modem) Err() error {
	m.errMu.Lock()
	defer m.errMu.Unlock()
	return m.readErr
}

// Close stops the reader and closes the underlying port.
func (m *Modem) Close() error {
	var err error
	m.closeOnce.Do(func() {
		close(m.done)
		err = m.rw.Close()
		<-m.stopped
	})
	return err
}

func (m *Modem) readLoop() {
	defer close(m.stopped)

	buf := make([]byte, 256)
	line := make([]byte, 0, 128)

	for {
		select {
		case <-m.done:
			return
		default:
		}

		n, err := m.rw.Read(buf)
		for _, b := range buf[:n] {
			if b == '\n' {
				m.handleLine(strings.TrimRight(string(line), "\r"))
				line = line[:0]
				continue
			}
			if len(line) < maxLineLength {
				line = append(line, b)
			}
		}

		if err != nil {
			select {
			case <-m.done:
			default:
				if !errors.Is(err, io.EOF) {
					m.log.Error().Err(err).Msg("modem read failed")
				}
				m.errMu.Lock()
				m.readErr = err
				m.errMu.Unlock()
			}
			return
		}
	}
}

func (m *Modem) handleLine(line string) {
	switch {
	case line == "":
		return
	case strings.HasPrefix(line, "+RCV="):
		msg, err := ParseReceive(line)
		if err != nil {
			m.log.Warn().Err(err).Str("line", line).Msg("malformed receive line")
			return
		}
		select {
		case m.rx <- msg:
		default:
			m.log.Warn().Int("queue", cap(m.rx)).Msg("receive queue full, dropping message")
		}
	case line == "+OK" || strings.HasPrefix(line, "+ERR="):
		select {
		case m.replies <- line:
		default:
		}
	default:
		m.log.Debug().Str("line", line).Msg("ignoring modem output")
	}
}

// ParseReceive decodes a "+RCV=<addr>,<len>,<data>,<rssi>,<snr>" line. The
// data field may itself contain commas; its extent comes from <len>.
func ParseReceive(line string) (Message, error) {
	rest, ok := strings.CutPrefix(line, "+RCV=")
	if !ok {
		return Message{}, fmt.Errorf("not a receive line: %q", line)
	}

	addr, rest, ok := strings.Cut(rest, ",")
	if !ok {
		return Message{}, fmt.Errorf("receive line missing length: %q", line)
	}
	if _, err := strconv.Atoi(addr); err != nil {
		return Message{}, fmt.Errorf("invalid address %q: %w", addr, err)
	}

	lenField, rest, ok := strings.Cut(rest, ",")
	if !ok {
		return Message{}, fmt.Errorf("receive line missing data: %q", line)
	}
	n, err := strconv.Atoi(lenField)
	if err != nil || n < 0 {
		return Message{}, fmt.Errorf("invalid length %q", lenField)
	}
	if len(rest) < n+1 || rest[n] != ',' {
		return Message{}, fmt.Errorf("data shorter than declared length %d: %q", n, line)
	}
	data := rest[:n]

	rssiField, snrField, ok := strings.Cut(rest[n+1:], ",")
	if !ok {
		return Message{}, fmt.Errorf("receive line missing snr: %q", line)
	}
	rssi, err := strconv.ParseFloat(rssiField, 64)
	if err != nil {
		return Message{}, fmt.Errorf("invalid rssi %q: %w", rssiField, err)
	}
	snr, err := strconv.ParseFloat(snrField, 64)
	if err != nil {
		return Message{}, fmt.Errorf("invalid snr %q: %w", snrField, err)
	}

	return Message{
		Content:    []byte(data),
		RSSI:       rssi,
		SNR:        snr,
		Source:     SourceRadio,
		ReceivedAt: time.Now(),
	}, nil
}
