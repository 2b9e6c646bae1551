package chanpro

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

const defaultWriteQueueCapacity = 64

type writeRequest struct {
	f    frame
	done chan error
}

// ChanPro multiplexes an arbitrary number of named channels over one
// reader/writer pair. Exactly one goroutine ever reads from in (started by
// Listen) and exactly one goroutine ever writes to out (started by New).
type ChanPro struct {
	in  io.Reader
	out io.Writer
	log *slog.Logger

	writeCh chan writeRequest

	mu           sync.Mutex
	channels     map[int]*Channel
	defaultRoute *Channel

	failed  chan struct{}
	failErr error
	failOnce sync.Once
}

// New wraps a reader/writer pair (e.g. the stdout/stdin of an SSH-launched
// sous process) in a ChanPro connection and starts its single writer
// goroutine. Call Listen (typically in its own goroutine) to run the single
// reader/dispatcher loop.
func New(in io.Reader, out io.Writer, log *slog.Logger) *ChanPro {
	if log == nil {
		log = slog.Default()
	}
	cp := &ChanPro{
		in:       in,
		out:      out,
		log:      log,
		writeCh:  make(chan writeRequest, defaultWriteQueueCapacity),
		channels: make(map[int]*Channel),
		failed:   make(chan struct{}),
	}
	go cp.writeLoop()
	return cp
}

// NewChannel allocates a new channel with the given number, failing with
// ErrChannelInUse if that number is already allocated.
func (cp *ChanPro) NewChannel(number int, desc string) (*Channel, error) {
	cp.mu.Lock()
	defer cp.mu.Unlock()

	if _, exists := cp.channels[number]; exists {
		return nil, fmt.Errorf("%w: channel %d", ErrChannelInUse, number)
	}
	ch := newChannel(cp, number, desc)
	cp.channels[number] = ch
	return ch, nil
}

// Listen runs the single reader/dispatcher loop on the calling goroutine,
// blocking until the stream ends. defaultRoute, if
// non-nil, receives {"lost": frame} for any message addressed to a channel
// that is not (yet) registered locally — this covers the race where a
// reply arrives before the originating side has registered the channel.
// Listen returns once the stream ends or a framing error occurs; the
// returned error is also recorded and surfaces through every blocked
// Channel.Send/Recv as a TransportError.
func (cp *ChanPro) Listen(ctx context.Context, defaultRoute *Channel) error {
	cp.mu.Lock()
	cp.defaultRoute = defaultRoute
	cp.mu.Unlock()

	err := cp.readLoop(ctx)
	if err != nil {
		cp.fail(err)
	}
	return err
}

func (cp *ChanPro) readLoop(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		msg, err := readFrame(cp.in)
		if err != nil {
			if err == io.EOF {
				return fmt.Errorf("chanpro: connection closed: %w", err)
			}
			return fmt.Errorf("chanpro: framing error: %w", err)
		}
		cp.route(msg)
	}
}

func (cp *ChanPro) route(msg map[string]any) {
	num, ok := channelNumber(msg)
	if !ok {
		cp.log.Warn("chanpro: received message without channel number")
		return
	}

	cp.mu.Lock()
	ch, exists := cp.channels[num]
	defaultRoute := cp.defaultRoute
	cp.mu.Unlock()

	if !exists {
		if defaultRoute != nil {
			defaultRoute.deliver(recvItem{payload: map[string]any{"lost": msg}})
		} else {
			cp.log.Warn("chanpro: message for unregistered channel dropped", "channel", num)
		}
		return
	}

	if payload, ok := msg["p"]; ok {
		ch.deliver(recvItem{payload: payload})
		return
	}
	if closeVal, ok := msg["close"]; ok {
		closed, _ := closeVal.(bool)
		if closed {
			reason, _ := msg["reason"].(string)
			ch.deliver(recvItem{isClose: true, reason: reason})
			return
		}
	}
	cp.log.Warn("chanpro: message had neither payload nor close", "channel", num)
}

// channelNumber extracts the "c" field from a decoded frame, tolerant of
// the several integer types CBOR decoding into map[string]any can produce.
func channelNumber(msg map[string]any) (int, bool) {
	v, ok := msg["c"]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int64:
		return int(n), true
	case uint64:
		return int(n), true
	case int:
		return int(n), true
	default:
		return 0, false
	}
}

func (cp *ChanPro) enqueueWrite(ctx context.Context, f frame) error {
	req := writeRequest{f: f, done: make(chan error, 1)}
	select {
	case cp.writeCh <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-cp.failed:
		return &TransportError{Err: cp.failure()}
	}

	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-cp.failed:
		return &TransportError{Err: cp.failure()}
	}
}

func (cp *ChanPro) writeLoop() {
	for {
		select {
		case req := <-cp.writeCh:
			err := encodeFrame(cp.out, req.f)
			if err != nil {
				cp.fail(err)
			}
			req.done <- err
		case <-cp.failed:
			return
		}
	}
}

// Close fails the transport deliberately, unblocking any Send/Recv waiting
// on it. It is safe to call more than once.
func (cp *ChanPro) Close() {
	cp.fail(fmt.Errorf("chanpro: closed locally"))
}

func (cp *ChanPro) fail(err error) {
	cp.failOnce.Do(func() {
		cp.mu.Lock()
		cp.failErr = err
		cp.mu.Unlock()
		close(cp.failed)
	})
}

func (cp *ChanPro) failure() error {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	return cp.failErr
}
