package kitchen

import (
	"context"

	"github.com/sconehq/scone/internal/depcache"
	"github.com/sconehq/scone/internal/recipe"
)

// runState is the per-cook-call bookkeeping a worker attaches to the
// context it passes into a recipe's Cook hook: which recipe is running,
// and the dependency tracker accumulating its Book. It plays the role of
// the original's current_recipe ContextVar plus its per-recipe
// DependencyTracker, but scoped through context.Context instead of a
// goroutine-global so multiple workers never share state.
type runState struct {
	rec  recipe.Recipe
	book *depcache.Book
}

type runStateKey struct{}

func withRunState(ctx context.Context, rs *runState) context.Context {
	return context.WithValue(ctx, runStateKey{}, rs)
}

func runStateFrom(ctx context.Context) *runState {
	rs, _ := ctx.Value(runStateKey{}).(*runState)
	if rs == nil {
		panic("kitchen: Oven method called outside of a recipe's Cook call")
	}
	return rs
}
