package kitchen

import (
	"context"
	"fmt"

	"github.com/sconehq/scone/internal/chanpro"
	"github.com/sconehq/scone/internal/graph"
	"github.com/sconehq/scone/internal/sshadapter"
)

// getChanProHead resolves and, if necessary, opens the connection to the
// sous a recipe targets, deduplicating concurrent requests for the same
// (host, user) pair via internal/sshadapter.Adapter.GetHead.
func (k *Kitchen) getChanProHead(ctx context.Context, sous, user string) (*sshadapter.Conn, error) {
	cfg, err := k.resolver.HostConfig(sous)
	if err != nil {
		return nil, err
	}
	return k.ssh.GetHead(ctx, cfg, user)
}

// Start implements recipe.Oven.
func (k *Kitchen) Start(ctx context.Context, utensilName string, payload any) (*chanpro.Channel, error) {
	rs := runStateFrom(ctx)
	rctx := rs.rec.Context()

	conn, err := k.getChanProHead(ctx, rctx.Sous, rctx.User)
	if err != nil {
		return nil, fmt.Errorf("kitchen: opening connection to %s for %s: %w", rctx.Sous, utensilName, err)
	}

	return conn.Head.StartCommandChannel(ctx, utensilName, payload)
}

// StartAndConsume implements recipe.Oven.
func (k *Kitchen) StartAndConsume(ctx context.Context, utensilName string, payload any) (any, error) {
	ch, err := k.Start(ctx, utensilName, payload)
	if err != nil {
		return nil, err
	}
	return ch.Consume(ctx)
}

// StartAndWaitClose implements recipe.Oven.
func (k *Kitchen) StartAndWaitClose(ctx context.Context, utensilName string, payload any) error {
	ch, err := k.Start(ctx, utensilName, payload)
	if err != nil {
		return err
	}
	for {
		_, err := ch.Recv(ctx)
		if err == chanpro.ErrEndOfChannel {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// Watch implements recipe.Oven.
func (k *Kitchen) Watch(ctx context.Context, kind, id string, extra map[string]string) {
	rs := runStateFrom(ctx)
	k.watchResource(ctx, graph.NewResource(kind, id, rs.rec.Context().Sous, extra))
}

// Provide implements recipe.Oven.
func (k *Kitchen) Provide(ctx context.Context, kind, id string, extra map[string]string, t int64) {
	rs := runStateFrom(ctx)
	resource := graph.NewResource(kind, id, rs.rec.Context().Sous, extra)
	if t == 0 {
		t = nowMillis()
	}

	rs.book.Provide(resource, t)
	k.MarkResourceChanged(resource, t)
}

// Ignore implements recipe.Oven.
func (k *Kitchen) Ignore(ctx context.Context) {
	runStateFrom(ctx).book.Ignored = true
}

// watchResource is the shared body of Watch and the Register* helpers:
// record resource in the current recipe's Book at the time this Kitchen
// last saw it change, if ever.
func (k *Kitchen) watchResource(ctx context.Context, resource graph.Resource) {
	rs := runStateFrom(ctx)
	k.mu.Lock()
	changedAt := k.resourceChanged[resource]
	k.mu.Unlock()
	rs.book.Watch(resource, changedAt)
}

// RegisterVariable implements recipe.Oven.
func (k *Kitchen) RegisterVariable(ctx context.Context, dottedName string, value any) {
	rs := runStateFrom(ctx)
	k.watchResource(ctx, graph.NewResource("variable", dottedName, rs.rec.Context().Sous, nil))
	rs.book.CacheData[dottedName] = value
}

// RegisterFridgeFile implements recipe.Oven. Fridge files are
// host-independent, matching the original's Resource("fridge", path, None).
func (k *Kitchen) RegisterFridgeFile(ctx context.Context, path string) {
	k.watchResource(ctx, graph.NewResource("fridge", path, "", nil))
}

// RegisterRemoteFile implements recipe.Oven.
func (k *Kitchen) RegisterRemoteFile(ctx context.Context, path, sous string) {
	if sous == "" {
		sous = runStateFrom(ctx).rec.Context().Sous
	}
	k.watchResource(ctx, graph.NewResource("file", path, sous, nil))
}
