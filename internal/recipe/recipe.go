// Package recipe defines the Recipe framework: the interface every
// concrete recipe kind implements, the registry that maps a recipe kind
// name to its constructor, and the narrow capability interfaces
// (Preparer, Oven) that let internal/prepare and internal/kitchen hand a
// recipe just enough of themselves without an import cycle.
package recipe

import (
	"context"

	"github.com/sconehq/scone/internal/chanpro"
)

// Preparer is the declarative dependency-growing API a recipe's Prepare
// hook uses to register what it needs, wants, provides, and orders
// against. Implemented by internal/prepare.Preparation.
type Preparer interface {
	// Needs declares a hard dependency: if nothing ever provides this
	// resource, the whole cook fails.
	Needs(kind, id string, extra map[string]string)
	// Wants declares a soft dependency: the recipe waits for the resource
	// if something provides it, but proceeds without it otherwise.
	Wants(kind, id string, extra map[string]string)
	// Provides declares that this recipe, once cooked, supplies a resource.
	Provides(kind, id string, extra map[string]string)
	// Before orders this recipe ahead of other, with no resource involved.
	Before(other Recipe)
	// After orders this recipe behind other, with no resource involved.
	After(other Recipe)
	// Subrecipe enqueues a recipe spawned during preparation so its own
	// Prepare hook runs in the same preparation pass.
	Subrecipe(sub Recipe)
}

// Oven is the subset of kitchen scheduling capability a recipe's Cook hook
// uses to invoke utensils on its target sous and to report the dependency
// tracking information the cache uses to decide whether a future run can
// skip this recipe entirely. Implemented by internal/kitchen.Kitchen.
type Oven interface {
	// Start opens a command channel running the named utensil with payload
	// as its arguments, returning the channel for manual protocol handling.
	Start(ctx context.Context, utensilName string, payload any) (*chanpro.Channel, error)
	// StartAndConsume runs a utensil expecting exactly one reply value.
	StartAndConsume(ctx context.Context, utensilName string, payload any) (any, error)
	// StartAndWaitClose runs a utensil that replies only by closing its
	// channel, discarding any payload.
	StartAndWaitClose(ctx context.Context, utensilName string, payload any) error

	// Watch records a read dependency on a resource: if it changes before
	// the next run, this recipe cannot be skipped next time.
	Watch(ctx context.Context, kind, id string, extra map[string]string)
	// Provide records that this recipe caused a resource to change at t
	// (milliseconds since epoch); t == 0 means "now".
	Provide(ctx context.Context, kind, id string, extra map[string]string, t int64)
	// Ignore disables caching for this recipe: it always cooks, and no
	// cache row is written for it.
	Ignore(ctx context.Context)

	// RegisterVariable records a read dependency on a variable's dotted
	// path and stashes its observed value, so a later run where that
	// value hasn't changed is a skip candidate.
	RegisterVariable(ctx context.Context, dottedName string, value any)
	// RegisterFridgeFile records a read dependency on a file in the local
	// fridge (a host-independent resource).
	RegisterFridgeFile(ctx context.Context, path string)
	// RegisterRemoteFile records a read dependency on a file on a sous;
	// sous defaults to the current recipe's own sous when empty.
	RegisterRemoteFile(ctx context.Context, path, sous string)
}

// Recipe is one unit of desired state: a single idempotent change applied
// to one sous, expressed declaratively via Prepare and carried out via
// Cook.
type Recipe interface {
	// Context returns this recipe's fixed identity.
	Context() Context
	// Arguments returns the recipe's constructor arguments, used verbatim
	// as part of its dependency-cache paramhash.
	Arguments() map[string]any
	// Prepare declares this recipe's needs/wants/provides/ordering against
	// p. It may also spawn subrecipes via p.Subrecipe.
	Prepare(p Preparer)
	// Cook carries out the recipe's effect, invoking utensils via oven.
	Cook(ctx context.Context, oven Oven) error
}

// Kind names the recipe's registered constructor, used as both the
// human-facing recipe type name and the dependency-cache paramhash key.
type Kind interface {
	Kind() string
}

// DefaultPrepare declares the one dependency every recipe has implicitly:
// the OS user it runs as must exist before it can cook. Concrete recipes
// call this at the top of their own Prepare before declaring anything
// specific to what they do.
func DefaultPrepare(ctx Context, p Preparer) {
	p.Needs("os-user", ctx.User, nil)
}
