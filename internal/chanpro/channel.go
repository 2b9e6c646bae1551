package chanpro

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
)

const defaultQueueCapacity = 32

// recvItem is what the dispatcher goroutine pushes into a Channel's inbound
// queue. Exactly one of payload delivery or close applies.
type recvItem struct {
	payload any
	isClose bool
	reason  string
}

// Channel is one multiplexed, bidirectional message stream within a
// ChanPro connection. Its inbound queue is single-producer (the ChanPro
// dispatcher goroutine) / single-consumer (whatever task owns the channel),
// matching the rest of the transport's concurrency model.
type Channel struct {
	Number      int
	Description string

	cp        *ChanPro
	recvCh    chan recvItem
	closeOnce sync.Once     // guards Close's body so concurrent callers only run it once
	closed    chan struct{} // closed exactly once, inside closeOnce.Do
	atEOF     atomic.Bool   // set once a close has been observed by Recv
}

func newChannel(cp *ChanPro, number int, desc string) *Channel {
	return &Channel{
		Number:      number,
		Description: desc,
		cp:          cp,
		recvCh:      make(chan recvItem, defaultQueueCapacity),
		closed:      make(chan struct{}),
	}
}

func (c *Channel) String() string {
	return "Channel #" + strconv.Itoa(c.Number) + " (" + c.Description + ")"
}

// Send transmits payload on this channel. It suspends if the connection's
// outbound queue is under backpressure.
func (c *Channel) Send(ctx context.Context, payload any) error {
	return c.cp.enqueueWrite(ctx, frame{Channel: c.Number, Payload: payload})
}

// Recv dequeues the next payload, or returns ErrEndOfChannel once the
// channel has been closed (by either end) and its queue is empty.
func (c *Channel) Recv(ctx context.Context) (any, error) {
	if c.atEOF.Load() {
		return nil, ErrEndOfChannel
	}

	select {
	case item, ok := <-c.recvCh:
		if !ok || item.isClose {
			c.atEOF.Store(true)
			return nil, ErrEndOfChannel
		}
		return item.payload, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.cp.failed:
		return nil, &TransportError{Err: c.cp.failure()}
	}
}

// Close transmits a close frame (idempotent) and wakes any pending Recv.
// Concurrent callers all block on the same sync.Once, so exactly one of
// them runs the body and returns its error; the rest return nil once it
// finishes.
func (c *Channel) Close(ctx context.Context, reason string) error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)

		// Wake a blocked local Recv immediately; non-blocking since the
		// queue is only ever drained by one consumer and has spare
		// capacity for this.
		select {
		case c.recvCh <- recvItem{isClose: true, reason: reason}:
		default:
		}

		err = c.cp.enqueueWrite(ctx, frame{Channel: c.Number, Close: true, Reason: reason})
	})
	return err
}

// Consume receives exactly one payload, then asserts the channel is closed
// immediately afterwards. Returns ErrProtocolViolation if another payload
// arrives instead of a close.
func (c *Channel) Consume(ctx context.Context) (any, error) {
	payload, err := c.Recv(ctx)
	if err != nil {
		return nil, err
	}

	next, err := c.Recv(ctx)
	if err == nil {
		_ = next
		return nil, ErrProtocolViolation
	}
	if err != ErrEndOfChannel {
		return nil, err
	}
	return payload, nil
}

// deliver is called by the ChanPro dispatcher goroutine to push an inbound
// payload or close onto this channel's queue.
func (c *Channel) deliver(item recvItem) {
	c.recvCh <- item
}
