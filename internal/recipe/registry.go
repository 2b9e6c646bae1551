package recipe

import (
	"fmt"
	"sort"
	"sync"

	"github.com/lithammer/fuzzysearch/fuzzy"
)

// Constructor builds a Recipe from its context and raw arguments. Concrete
// recipe kinds register one via Register, matching the database/sql driver
// registration pattern.
type Constructor func(ctx Context, args map[string]any) (Recipe, error)

// Registry maps a recipe kind name to its Constructor.
type Registry struct {
	mu    sync.RWMutex
	ctors map[string]Constructor
}

// NewRegistry returns an empty Registry. Most callers use the package-level
// global registry via Register/Lookup instead of constructing their own.
func NewRegistry() *Registry {
	return &Registry{ctors: make(map[string]Constructor)}
}

var global = NewRegistry()

// Register adds a recipe kind's constructor to the global registry. Concrete
// recipe packages call this from an init function:
//
//	func init() { recipe.Register("package.apt", newAptRecipe) }
func Register(kind string, ctor Constructor) {
	global.Register(kind, ctor)
}

// Lookup resolves a recipe kind from the global registry.
func Lookup(kind string) (Constructor, bool) {
	return global.Lookup(kind)
}

// KnownKinds returns every registered kind name in the global registry,
// sorted.
func KnownKinds() []string {
	return global.KnownKinds()
}

// Register adds kind's constructor. Registering the same kind twice is a
// programmer error — recipe kinds are compiled in, not loaded dynamically —
// and panics immediately rather than silently shadowing the first
// registration.
func (r *Registry) Register(kind string, ctor Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.ctors[kind]; exists {
		panic(fmt.Sprintf("recipe: kind %q already registered", kind))
	}
	r.ctors[kind] = ctor
}

// Lookup resolves kind to its Constructor.
func (r *Registry) Lookup(kind string) (Constructor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ctor, ok := r.ctors[kind]
	return ctor, ok
}

// KnownKinds returns every registered kind name, sorted.
func (r *Registry) KnownKinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.ctors))
	for k := range r.ctors {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// New constructs a recipe of the named kind. If kind isn't registered, the
// error suggests the closest registered kind names by fuzzy match, so a
// typo in a menu file ("package.aptt") points the user at what they meant.
func New(kind string, ctx Context, args map[string]any) (Recipe, error) {
	ctor, ok := Lookup(kind)
	if !ok {
		return nil, unknownKindError(kind, KnownKinds())
	}
	return ctor(ctx, args)
}

func unknownKindError(kind string, known []string) error {
	ranked := fuzzy.RankFindFold(kind, known)
	if len(ranked) == 0 {
		return fmt.Errorf("recipe: unknown kind %q", kind)
	}
	suggestion := ranked[0].Target
	return fmt.Errorf("recipe: unknown kind %q — did you mean %q?", kind, suggestion)
}
