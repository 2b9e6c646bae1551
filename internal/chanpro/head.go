package chanpro

import (
	"context"
	"sync"
)

// Head is the head-side view of a ChanPro connection: it owns channel 0
// and knows how to ask the peer to start new command channels. The sous
// side of the same connection never constructs a Head — it just watches
// channel 0 for {nc, cmd, pay} messages and opens the corresponding
// channel locally.
type Head struct {
	cp      *ChanPro
	channel0 *Channel

	mu     sync.Mutex
	nextID int
}

// NewHead wraps an already-connected ChanPro as a head-side endpoint.
// channel0 must already be registered (via cp.NewChannel(0, ...)) and
// Listen must already be running.
func NewHead(cp *ChanPro, channel0 *Channel) *Head {
	return &Head{cp: cp, channel0: channel0, nextID: 1}
}

// StartCommandChannel allocates a new channel number, registers it, and
// sends the channel-0 control message that asks the peer to accept
// messages on it. The peer must thereafter route to this channel number.
func (h *Head) StartCommandChannel(ctx context.Context, cmd string, payload any) (*Channel, error) {
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.mu.Unlock()

	ch, err := h.cp.NewChannel(id, cmd)
	if err != nil {
		return nil, err
	}

	ctrl := control{NewChannel: id, Command: cmd, Payload: payload}
	if err := h.channel0.Send(ctx, ctrl); err != nil {
		return nil, err
	}
	return ch, nil
}
