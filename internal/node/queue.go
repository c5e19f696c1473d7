package node

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
)

// ReadyFlag is the data-ready indication raised by a producer and taken by
// the host loop. Take clears it atomically so an indication is neither
// lost nor handled twice.
type ReadyFlag struct {
	v atomic.Bool
}

func (f *ReadyFlag) Set() {
	f.v.Store(true)
}

// Take reports whether the flag was set and clears it.
func (f *ReadyFlag) Take() bool {
	return f.v.Swap(false)
}

// ByteQueue hands byte chunks from one producer goroutine to the host
// loop.
type ByteQueue struct {
	ch    chan []byte
	ready ReadyFlag
}

func NewByteQueue(depth int) *ByteQueue {
	if depth <= 0 {
		depth = 64
	}
	return &ByteQueue{ch: make(chan []byte, depth)}
}

// Push copies chunk into the queue, blocking while it is full.
func (q *ByteQueue) Push(ctx context.Context, chunk []byte) error {
	if len(chunk) == 0 {
		return nil
	}
	c := append([]byte(nil), chunk...)
	select {
	case q.ch <- c:
		q.ready.Set()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TakeReady reports whether data arrived since the last call.
func (q *ByteQueue) TakeReady() bool {
	return q.ready.Take()
}

// Drain passes every queued chunk to fn without blocking and returns the
// number of bytes handed over.
func (q *ByteQueue) Drain(fn func([]byte)) int {
	total := 0
	for {
		select {
		case c := <-q.ch:
			fn(c)
			total += len(c)
		default:
			return total
		}
	}
}

// Pump reads r into q until r reports EOF, a read fails, or ctx is done.
// Reads returning (0, nil), as serial ports do on timeout, are retried.
func Pump(ctx context.Context, r io.Reader, q *ByteQueue) error {
	buf := make([]byte, 256)
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		n, err := r.Read(buf)
		if n > 0 {
			if perr := q.Push(ctx, buf[:n]); perr != nil {
				return nil
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}
