// Package graph implements the bipartite recipe/resource dependency graph
// that drives a cook run: recipes need and provide resources, and a
// resource is only "completed" once every recipe that provides it has
// finished.
package graph

import (
	"fmt"
	"sync"

	"github.com/sconehq/scone/internal/invariant"
)

// Vertex is either a Resource value or a recipe handle — any comparable
// value the caller uses to identify one recipe (typically a pointer into
// internal/recipe). The graph package never looks inside a non-Resource
// vertex; it only needs identity and, for error messages, a String method.
type Vertex = any

// Dag is the bipartite recipe/resource dependency graph for one cook run.
// All public methods are safe for concurrent use: unlike the single-threaded
// cooperative scheduler this was adapted from, internal/kitchen runs
// multiple worker goroutines that touch the same Dag concurrently.
type Dag struct {
	mu sync.Mutex

	vertices     map[Vertex]struct{}
	edges        map[Vertex]map[Vertex]struct{} // edges[A][B]: B needs/receives A
	reverseEdges map[Vertex]map[Vertex]struct{}
	recipeMeta   map[Vertex]*RecipeMeta
	resourceMeta map[Resource]*ResourceMeta
}

// NewDag returns an empty Dag.
func NewDag() *Dag {
	return &Dag{
		vertices:     make(map[Vertex]struct{}),
		edges:        make(map[Vertex]map[Vertex]struct{}),
		reverseEdges: make(map[Vertex]map[Vertex]struct{}),
		recipeMeta:   make(map[Vertex]*RecipeMeta),
		resourceMeta: make(map[Resource]*ResourceMeta),
	}
}

// Add registers a vertex (recipe or resource) with fresh, zeroed metadata.
// A vertex already present is left untouched.
func (d *Dag) Add(v Vertex) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.addLocked(v)
}

func (d *Dag) addLocked(v Vertex) {
	if _, ok := d.vertices[v]; ok {
		return
	}
	d.vertices[v] = struct{}{}
	if r, ok := v.(Resource); ok {
		d.resourceMeta[r] = &ResourceMeta{}
	} else {
		d.recipeMeta[v] = &RecipeMeta{}
	}
}

func (d *Dag) addEdgeLocked(from, to Vertex) bool {
	if d.edges[from] == nil {
		d.edges[from] = make(map[Vertex]struct{})
	}
	if _, exists := d.edges[from][to]; exists {
		return false
	}
	d.edges[from][to] = struct{}{}
	if d.reverseEdges[to] == nil {
		d.reverseEdges[to] = make(map[Vertex]struct{})
	}
	d.reverseEdges[to][from] = struct{}{}
	return true
}

// Needs records that needer requires resource before it can cook. hard
// marks resource as a hard need: if nothing ever provides it, the whole
// cook fails outright rather than silently proceeding without it (a soft
// "want" just leaves the recipe unblocked if the resource never appears).
func (d *Dag) Needs(needer Vertex, resource Resource, hard bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, ok := d.vertices[needer]
	invariant.Precondition(ok, "graph: needer %v not in vertices", needer)
	d.addLocked(resource)

	if !d.addEdgeLocked(resource, needer) {
		return
	}

	neederMeta := d.recipeMeta[needer]
	resourceMeta := d.resourceMeta[resource]

	if hard {
		resourceMeta.HardNeed = true
	}
	if !resourceMeta.Completed {
		neederMeta.IncomingUncompleted++
	}
}

// Provides records that provider, once cooked, supplies resource.
func (d *Dag) Provides(provider Vertex, resource Resource) {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, ok := d.vertices[provider]
	invariant.Precondition(ok, "graph: provider %v not in vertices", provider)
	d.addLocked(resource)

	if !d.addEdgeLocked(provider, resource) {
		return
	}

	providerMeta := d.recipeMeta[provider]
	resourceMeta := d.resourceMeta[resource]

	if !providerMeta.State.IsCompleted() {
		resourceMeta.IncomingUncompleted++
		resourceMeta.Completed = false
	} else if resourceMeta.IncomingUncompleted == 0 {
		resourceMeta.Completed = true
	}
}

// AddOrdering records a before/after constraint between two recipes with no
// resource of its own: after cannot cook until before has completed.
func (d *Dag) AddOrdering(before, after Vertex) {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, beforeOK := d.vertices[before]
	invariant.Precondition(beforeOK, "graph: ordering before-vertex %v not in vertices", before)
	_, afterOK := d.vertices[after]
	invariant.Precondition(afterOK, "graph: ordering after-vertex %v not in vertices", after)

	if !d.addEdgeLocked(before, after) {
		return
	}

	beforeMeta := d.recipeMeta[before]
	afterMeta := d.recipeMeta[after]
	if !beforeMeta.State.IsCompleted() {
		afterMeta.IncomingUncompleted++
	}
}

// Vertices returns every vertex currently in the dag, recipes and resources
// alike, in no particular order.
func (d *Dag) Vertices() []Vertex {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Vertex, 0, len(d.vertices))
	for v := range d.vertices {
		out = append(out, v)
	}
	return out
}

// RecipeMeta returns the scheduling metadata for a recipe vertex.
func (d *Dag) RecipeMeta(v Vertex) *RecipeMeta {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.recipeMeta[v]
}

// ResourceMeta returns the scheduling metadata for a resource vertex.
func (d *Dag) ResourceMeta(r Resource) *ResourceMeta {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.resourceMeta[r]
}

// SeedCookable classifies every vertex as COOKABLE (no unmet incoming
// edges) or PENDING, and returns the vertices that are cookable
// immediately. It fails if an unmet resource is a hard need with nothing
// left to provide it.
func (d *Dag) SeedCookable() ([]Vertex, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var cookable []Vertex
	for v := range d.vertices {
		if r, ok := v.(Resource); ok {
			rm := d.resourceMeta[r]
			if rm.IncomingUncompleted == 0 {
				rm.Completed = true
				if rm.HardNeed {
					return nil, fmt.Errorf("graph: hard need %v not satisfiable, needed by: %v", r, d.needersLocked(r))
				}
				cookable = append(cookable, v)
			}
			continue
		}
		rm := d.recipeMeta[v]
		if rm.IncomingUncompleted == 0 {
			rm.State = StateCookable
			cookable = append(cookable, v)
		} else {
			rm.State = StatePending
		}
	}
	return cookable, nil
}

func (d *Dag) needersLocked(resource Resource) []Vertex {
	needers := d.edges[resource]
	out := make([]Vertex, 0, len(needers))
	for n := range needers {
		out = append(out, n)
	}
	return out
}

// CompleteVertex marks v as done, decrementing the incoming-uncompleted
// counters of every vertex downstream of it, and returns the vertices that
// became newly cookable as a result (recipes whose count reached zero while
// PENDING, or resources whose count reached zero).
func (d *Dag) CompleteVertex(v Vertex) []Vertex {
	d.mu.Lock()
	defer d.mu.Unlock()
	ready, _ := d.completeVertexLocked(v, true)
	return ready
}

// FailVertex marks a recipe as failed rather than cooked. Edges still get
// their incoming-uncompleted counters decremented — an ordering edge to
// another recipe still lets that recipe become cookable — but a resource
// this recipe provides is never marked Completed, even once its counter
// reaches zero: the recipe never actually produced it, so nothing waiting
// on that resource may proceed as if it had. If that leaves a hard-need
// resource with every provider exhausted and still incomplete, every
// recipe needing it transitions straight to FAILED (cascadeFailed) instead
// of hanging in PENDING forever, per spec.md §7 ("If all providers of a
// hard-need resource fail, its dependent recipes transition to FAILED
// without cooking") — recursively, since a chain of hard-needs can exist.
func (d *Dag) FailVertex(v Vertex) (ready []Vertex, cascadeFailed []Vertex) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.completeVertexLocked(v, false)
}

func (d *Dag) completeVertexLocked(v Vertex, provides bool) (ready []Vertex, cascadeFailed []Vertex) {
	for edge := range d.edges[v] {
		if r, ok := edge.(Resource); ok {
			rm := d.resourceMeta[r]
			rm.IncomingUncompleted--
			invariant.Invariant(rm.IncomingUncompleted >= 0, "graph: resource %v incoming-uncompleted went negative", r)
			switch {
			case rm.Completed:
				// Already satisfied by another provider; nothing further to do.
			case provides && rm.IncomingUncompleted == 0:
				rm.Completed = true
				ready = append(ready, edge)
			case !provides && rm.IncomingUncompleted == 0 && !rm.HardNeed:
				// Every provider of a soft want exhausted without ever
				// completing it: nothing required it, so its needers
				// unblock exactly as if it had completed.
				rm.Completed = true
				ready = append(ready, edge)
			case !provides && rm.IncomingUncompleted == 0:
				failed, moreReady := d.cascadeFailResourceLocked(r)
				cascadeFailed = append(cascadeFailed, failed...)
				ready = append(ready, moreReady...)
			}
			continue
		}
		rm := d.recipeMeta[edge]
		rm.IncomingUncompleted--
		invariant.Invariant(rm.IncomingUncompleted >= 0, "graph: recipe %v incoming-uncompleted went negative", edge)
		if rm.IncomingUncompleted == 0 && rm.State == StatePending {
			rm.State = StateCookable
			ready = append(ready, edge)
		}
	}
	return ready, cascadeFailed
}

// cascadeFailResourceLocked fails every recipe still needing r — a hard
// need whose last provider just failed without ever completing it, so it
// can now never be satisfied — and propagates each failure downstream the
// same way FailVertex does, so a chain of hard-needs cascades all the way
// through instead of stopping one level down.
func (d *Dag) cascadeFailResourceLocked(r Resource) (cascadeFailed []Vertex, ready []Vertex) {
	for needer := range d.edges[r] {
		rm := d.recipeMeta[needer]
		if rm == nil || rm.State == StateFailed || rm.State.IsCompleted() {
			continue
		}
		rm.State = StateFailed
		cascadeFailed = append(cascadeFailed, needer)

		subReady, subCascade := d.completeVertexLocked(needer, false)
		ready = append(ready, subReady...)
		cascadeFailed = append(cascadeFailed, subCascade...)
	}
	return cascadeFailed, ready
}
