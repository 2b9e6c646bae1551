package vars

import (
	"context"

	"github.com/sconehq/scone/internal/recipe"
)

// Proxy is the only variable surface recipes and templates see: reading a
// dotted path through it both returns the value and registers a
// dependency-cache watch on that path via the current recipe's oven, so
// every read of configuration is automatically tracked for future skip
// decisions.
type Proxy struct {
	prefix string
	vars   *Variables
	ctx    context.Context
	oven   recipe.Oven
}

// NewProxy wraps vars for use during a recipe's Cook call: ctx and oven
// are the same pair the recipe was given, so Get/Raw can call
// oven.RegisterVariable without the caller threading them through
// manually.
func NewProxy(ctx context.Context, oven recipe.Oven, v *Variables) *Proxy {
	return &Proxy{vars: v, ctx: ctx, oven: oven}
}

func (p *Proxy) child(prefix string) *Proxy {
	return &Proxy{prefix: prefix, vars: p.vars, ctx: p.ctx, oven: p.oven}
}

func (p *Proxy) dottedPath(name string) string {
	if p.prefix == "" {
		return name
	}
	return p.prefix + "." + name
}

// Raw returns this proxy's entire subtree as a plain value, registering a
// dependency on the whole prefix.
func (p *Proxy) Raw() (any, error) {
	var raw any
	var err error
	if p.prefix == "" {
		raw = p.vars.Toplevel()
	} else {
		raw, err = p.vars.GetDotted(p.prefix)
		if err != nil {
			return nil, err
		}
	}
	p.oven.RegisterVariable(p.ctx, p.prefix, raw)
	return deepCopyValue(raw), nil
}

// Get resolves name under this proxy's prefix. If the result is itself a
// map, it returns a child Proxy scoped to that deeper path instead of the
// raw map, so chained field access (`proxy.Get("app").Get("port")` in
// spirit) keeps tracking dependencies at the leaf that's actually read.
func (p *Proxy) Get(name string) (any, error) {
	dotted := p.dottedPath(name)
	raw, err := p.vars.GetDotted(dotted)
	if err != nil {
		return nil, err
	}

	if _, ok := raw.(map[string]any); ok {
		return p.child(dotted), nil
	}

	p.oven.RegisterVariable(p.ctx, dotted, raw)
	return raw, nil
}

// Toplevel returns every key defined at the root scope, as a set of
// freshly-constructed proxies — the entry point a template engine uses to
// seed its variable namespace.
func Toplevel(ctx context.Context, oven recipe.Oven, v *Variables) map[string]*Proxy {
	out := make(map[string]*Proxy)
	for key := range v.Toplevel() {
		out[key] = NewProxy(ctx, oven, v).child(key)
	}
	return out
}
