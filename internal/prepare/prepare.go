// Package prepare implements the preparation phase: walking every recipe's
// declarative Prepare hook to grow the recipe/resource dag before any
// cooking starts, including recipes that spawn further subrecipes
// transitively during their own preparation.
package prepare

import (
	"github.com/sconehq/scone/internal/graph"
	"github.com/sconehq/scone/internal/recipe"
)

type queued struct {
	rec  recipe.Recipe
	meta *graph.RecipeMeta
}

// Preparation drives one preparation pass over a Dag. It implements
// recipe.Preparer, so a recipe's Prepare hook only ever sees this narrow
// surface rather than the whole Dag.
type Preparation struct {
	dag     *graph.Dag
	queue   []queued
	current recipe.Recipe
}

// New returns a Preparation that grows dag.
func New(dag *graph.Dag) *Preparation {
	return &Preparation{dag: dag}
}

// Needs implements recipe.Preparer.
func (p *Preparation) Needs(kind, id string, extra map[string]string) {
	p.requireCurrent()
	resource := graph.NewResource(kind, id, p.current.Context().Sous, extra)
	p.dag.Needs(p.current, resource, true)
}

// Wants implements recipe.Preparer.
func (p *Preparation) Wants(kind, id string, extra map[string]string) {
	p.requireCurrent()
	resource := graph.NewResource(kind, id, p.current.Context().Sous, extra)
	p.dag.Needs(p.current, resource, false)
}

// Provides implements recipe.Preparer.
func (p *Preparation) Provides(kind, id string, extra map[string]string) {
	p.requireCurrent()
	resource := graph.NewResource(kind, id, p.current.Context().Sous, extra)
	p.dag.Provides(p.current, resource)
}

// Before implements recipe.Preparer.
func (p *Preparation) Before(other recipe.Recipe) {
	p.requireCurrent()
	p.dag.AddOrdering(p.current, other)
}

// After implements recipe.Preparer.
func (p *Preparation) After(other recipe.Recipe) {
	p.requireCurrent()
	p.dag.AddOrdering(other, p.current)
}

// Subrecipe implements recipe.Preparer: it adds sub to the dag and enqueues
// it for its own Prepare call within this same pass, so a recipe that
// spawns subrecipes during preparation has them fully expanded before
// PrepareAll returns.
func (p *Preparation) Subrecipe(sub recipe.Recipe) {
	p.requireCurrent()
	p.dag.Add(sub)
	p.queue = append(p.queue, queued{rec: sub, meta: p.dag.RecipeMeta(sub)})
}

func (p *Preparation) requireCurrent() {
	if p.current == nil {
		panic("prepare: Needs/Wants/Provides/Before/After/Subrecipe called outside of a Prepare call")
	}
}

// PrepareAll walks every LOADED recipe already in the dag, calling its
// Prepare hook, and keeps draining the queue as Prepare hooks enqueue
// further subrecipes, until nothing is left to prepare.
func (p *Preparation) PrepareAll() {
	for _, v := range p.dag.Vertices() {
		rec, ok := v.(recipe.Recipe)
		if !ok {
			continue
		}
		meta := p.dag.RecipeMeta(rec)
		if meta.State != graph.StateLoaded {
			continue
		}
		p.queue = append(p.queue, queued{rec: rec, meta: meta})
	}

	for len(p.queue) > 0 {
		item := p.queue[0]
		p.queue = p.queue[1:]

		p.current = item.rec
		item.rec.Prepare(p)
		p.current = nil
		item.meta.State = graph.StatePrepared
	}
}
