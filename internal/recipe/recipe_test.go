package recipe_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sconehq/scone/internal/recipe"
)

type fakePreparer struct {
	needs     []string
	wants     []string
	provides  []string
	before    []recipe.Recipe
	after     []recipe.Recipe
	subrecipe []recipe.Recipe
}

func (f *fakePreparer) Needs(kind, id string, extra map[string]string) {
	f.needs = append(f.needs, kind+":"+id)
}
func (f *fakePreparer) Wants(kind, id string, extra map[string]string) {
	f.wants = append(f.wants, kind+":"+id)
}
func (f *fakePreparer) Provides(kind, id string, extra map[string]string) {
	f.provides = append(f.provides, kind+":"+id)
}
func (f *fakePreparer) Before(other recipe.Recipe) { f.before = append(f.before, other) }
func (f *fakePreparer) After(other recipe.Recipe)  { f.after = append(f.after, other) }
func (f *fakePreparer) Subrecipe(sub recipe.Recipe) {
	f.subrecipe = append(f.subrecipe, sub)
}

func TestDefaultPrepareDeclaresOSUserNeed(t *testing.T) {
	p := &fakePreparer{}
	recipe.DefaultPrepare(recipe.Context{User: "deploy"}, p)
	assert.Equal(t, []string{"os-user:deploy"}, p.needs)
}

func TestOSUserRecipeProvidesItself(t *testing.T) {
	r, err := recipe.New("os-user", recipe.Context{Sous: "web1", User: "root"}, map[string]any{"name": "deploy"})
	require.NoError(t, err)

	p := &fakePreparer{}
	r.Prepare(p)

	assert.Equal(t, []string{"os-user:deploy"}, p.provides)
	// Runs DefaultPrepare like every other recipe: it hard-needs the
	// os-user it runs as (root), a different resource id than the one
	// it provides (deploy) in the common case, so there's no cycle.
	assert.Equal(t, []string{"os-user:root"}, p.needs)
}

func TestOSUserRecipeCreatingItsOwnRunUserStillDeclaresTheNeed(t *testing.T) {
	r, err := recipe.New("os-user", recipe.Context{Sous: "web1", User: "deploy"}, map[string]any{"name": "deploy"})
	require.NoError(t, err)

	p := &fakePreparer{}
	r.Prepare(p)

	// When recipe_context.user and the account being created coincide,
	// Needs and Provides are both declared on the same resource id, not
	// special-cased away here — matching the original's unconditional
	// super().prepare() call. graph.Dag does not break the resulting
	// self-dependency, so such a recipe never becomes cookable.
	assert.Equal(t, []string{"os-user:deploy"}, p.provides)
	assert.Equal(t, []string{"os-user:deploy"}, p.needs)
}

func TestOSUserRecipeRequiresNameArgument(t *testing.T) {
	_, err := recipe.New("os-user", recipe.Context{}, map[string]any{})
	assert.Error(t, err)
}
