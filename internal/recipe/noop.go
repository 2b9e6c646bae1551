package recipe

import "context"

func init() {
	Register("noop", newNoop)
}

// noop is a recipe that does nothing when cooked. It exists to exercise
// the registry and scheduler end to end without depending on any real
// utensil, and as an anchor recipe a menu can order other recipes around.
type noop struct {
	ctx  Context
	args map[string]any
}

func newNoop(ctx Context, args map[string]any) (Recipe, error) {
	return &noop{ctx: ctx, args: args}, nil
}

func (n *noop) Kind() string              { return "noop" }
func (n *noop) Context() Context          { return n.ctx }
func (n *noop) Arguments() map[string]any { return n.args }

func (n *noop) Prepare(p Preparer) {
	DefaultPrepare(n.ctx, p)
	if provide, ok := n.args["provides"].(map[string]string); ok {
		for kind, id := range provide {
			p.Provides(kind, id, nil)
		}
	}
}

func (n *noop) Cook(ctx context.Context, oven Oven) error {
	return nil
}
