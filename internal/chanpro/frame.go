// Package chanpro implements the length-prefixed, multiplexed message
// transport that carries independent bidirectional channels over a single
// byte stream — typically the stdin/stdout pair of an SSH-launched sous
// process.
package chanpro

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"

	"github.com/sconehq/scone/internal/invariant"
)

// sizeFieldLen is the width of the big-endian length prefix on every frame.
const sizeFieldLen = 4

// maxFrameLen bounds a single frame's payload to guard against a corrupt or
// hostile peer claiming an enormous length and stalling the reader.
const maxFrameLen = 64 << 20 // 64 MiB

// frame is the wire shape of a single ChanPro message. When Close is set the
// frame is encoded as a close frame and Payload is ignored; otherwise it is
// encoded as a data frame carrying Payload, which may be nil.
type frame struct {
	Channel int    `cbor:"c"`
	Payload any    `cbor:"p,omitempty"`
	Close   bool   `cbor:"close,omitempty"`
	Reason  string `cbor:"reason,omitempty"`
}

// control is the shape of a channel-0 message that asks the peer to start a
// new command channel.
type control struct {
	NewChannel int    `cbor:"nc"`
	Command    string `cbor:"cmd"`
	Payload    any    `cbor:"pay"`
}

func encodeFrame(w io.Writer, f frame) error {
	var v any
	switch {
	case f.Close:
		if f.Reason != "" {
			v = map[string]any{"c": f.Channel, "close": true, "reason": f.Reason}
		} else {
			v = map[string]any{"c": f.Channel, "close": true}
		}
	default:
		v = map[string]any{"c": f.Channel, "p": f.Payload}
	}

	encoded, err := cbor.Marshal(v)
	if err != nil {
		return fmt.Errorf("chanpro: encode frame: %w", err)
	}
	if len(encoded) > maxFrameLen {
		return fmt.Errorf("chanpro: frame of %d bytes exceeds max %d", len(encoded), maxFrameLen)
	}

	var lenBuf [sizeFieldLen]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(encoded)))

	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("chanpro: write length prefix: %w", err)
	}
	if _, err := w.Write(encoded); err != nil {
		return fmt.Errorf("chanpro: write frame body: %w", err)
	}
	return nil
}

// readFrame reads and decodes one frame from r. io.EOF is returned verbatim
// when the stream ends cleanly between frames (i.e. at a length-prefix
// boundary); any other read failure is wrapped as a TransportError-worthy
// condition by the caller.
func readFrame(r io.Reader) (map[string]any, error) {
	var lenBuf [sizeFieldLen]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxFrameLen {
		return nil, fmt.Errorf("chanpro: frame length %d exceeds max %d", n, maxFrameLen)
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("chanpro: truncated frame body: %w", err)
	}

	var decoded map[string]any
	if err := cbor.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("chanpro: decode frame: %w", err)
	}
	// A CBOR null body decodes without error and leaves the map nil; that is
	// a bad peer, not a decode-path bug, so it is reported as an error.
	if decoded == nil {
		return nil, fmt.Errorf("chanpro: decode frame: body is not a map")
	}
	invariant.NotNil(decoded, "decoded frame")
	return decoded, nil
}
