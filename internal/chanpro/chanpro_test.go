package chanpro_test

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sconehq/scone/internal/chanpro"
)

// pair wires two ChanPro instances back-to-back over an in-memory pipe,
// mirroring how a head and a sous process see each other's stdio.
func pair(t *testing.T) (a, b *chanpro.ChanPro) {
	t.Helper()
	ar, bw := io.Pipe()
	br, aw := io.Pipe()

	a = chanpro.New(ar, aw, nil)
	b = chanpro.New(br, bw, nil)

	t.Cleanup(func() {
		a.Close()
		b.Close()
	})
	return a, b
}

func TestRoundTripOrderedPerChannel(t *testing.T) {
	a, b := pair(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	go func() { _ = a.Listen(ctx, nil) }()
	go func() { _ = b.Listen(ctx, nil) }()

	aCh1, err := a.NewChannel(1, "one")
	require.NoError(t, err)
	aCh2, err := a.NewChannel(2, "two")
	require.NoError(t, err)
	bCh1, err := b.NewChannel(1, "one")
	require.NoError(t, err)
	bCh2, err := b.NewChannel(2, "two")
	require.NoError(t, err)

	require.NoError(t, aCh1.Send(ctx, "a"))
	require.NoError(t, aCh2.Send(ctx, "x"))
	require.NoError(t, aCh1.Send(ctx, "b"))
	require.NoError(t, aCh2.Send(ctx, "y"))

	var ch1Got, ch2Got []string
	for i := 0; i < 2; i++ {
		v, err := bCh1.Recv(ctx)
		require.NoError(t, err)
		ch1Got = append(ch1Got, v.(string))
	}
	for i := 0; i < 2; i++ {
		v, err := bCh2.Recv(ctx)
		require.NoError(t, err)
		ch2Got = append(ch2Got, v.(string))
	}

	assert.Equal(t, []string{"a", "b"}, ch1Got)
	assert.Equal(t, []string{"x", "y"}, ch2Got)
}

func TestCloseDeliversEndOfChannel(t *testing.T) {
	a, b := pair(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	go func() { _ = a.Listen(ctx, nil) }()
	go func() { _ = b.Listen(ctx, nil) }()

	aCh, err := a.NewChannel(1, "one")
	require.NoError(t, err)
	bCh, err := b.NewChannel(1, "one")
	require.NoError(t, err)

	require.NoError(t, aCh.Send(ctx, "last"))
	require.NoError(t, aCh.Close(ctx, "done"))

	v, err := bCh.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, "last", v)

	_, err = bCh.Recv(ctx)
	assert.ErrorIs(t, err, chanpro.ErrEndOfChannel)

	// repeat calls keep returning EOF rather than blocking
	_, err = bCh.Recv(ctx)
	assert.ErrorIs(t, err, chanpro.ErrEndOfChannel)
}

func TestCloseIsSafeUnderConcurrentCallers(t *testing.T) {
	a, b := pair(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	go func() { _ = a.Listen(ctx, nil) }()
	go func() { _ = b.Listen(ctx, nil) }()

	aCh, err := a.NewChannel(1, "one")
	require.NoError(t, err)

	const callers = 16
	var wg sync.WaitGroup
	errs := make([]error, callers)
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func(i int) {
			defer wg.Done()
			errs[i] = aCh.Close(ctx, "done")
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
}

func TestConsumeDetectsProtocolViolation(t *testing.T) {
	a, b := pair(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	go func() { _ = a.Listen(ctx, nil) }()
	go func() { _ = b.Listen(ctx, nil) }()

	aCh, err := a.NewChannel(1, "one")
	require.NoError(t, err)
	bCh, err := b.NewChannel(1, "one")
	require.NoError(t, err)

	require.NoError(t, aCh.Send(ctx, "first"))
	require.NoError(t, aCh.Send(ctx, "second"))

	_, err = bCh.Consume(ctx)
	assert.ErrorIs(t, err, chanpro.ErrProtocolViolation)
}

func TestLostMessageRoutedToDefaultRoute(t *testing.T) {
	a, b := pair(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	lost, err := b.NewChannel(0, "default route")
	require.NoError(t, err)

	go func() { _ = a.Listen(ctx, nil) }()
	go func() { _ = b.Listen(ctx, lost) }()

	aCh, err := a.NewChannel(7, "unregistered on b")
	require.NoError(t, err)
	require.NoError(t, aCh.Send(ctx, "hello"))

	v, err := lost.Recv(ctx)
	require.NoError(t, err)
	m, ok := v.(map[string]any)
	require.True(t, ok)
	inner, ok := m["lost"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 7, inner["c"])
}
