package chanpro

import "errors"

// ErrChannelInUse is returned by NewChannel when the requested channel
// number is already allocated.
var ErrChannelInUse = errors.New("chanpro: channel already in use")

// ErrEndOfChannel is returned by Channel.Recv once the channel has been
// closed (by either end) and its queue has been drained.
var ErrEndOfChannel = errors.New("chanpro: end of channel")

// ErrProtocolViolation is returned by Channel.Consume when a second payload
// arrives after the first, instead of the expected close.
var ErrProtocolViolation = errors.New("chanpro: protocol violation")

// TransportError wraps a fatal framing failure. Once raised, the ChanPro
// instance is dead: every open channel is failed and no further frames are
// read or written.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return "chanpro: transport failed: " + e.Err.Error() }

func (e *TransportError) Unwrap() error { return e.Err }
