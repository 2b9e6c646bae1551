// Package kitchen implements the concurrent scheduler that walks the
// recipe/resource dag and dispatches cook calls: a fixed worker pool drains
// a shared ready queue, consulting the dependency cache before each recipe
// to decide whether it can be skipped, and dispatching to the sous over
// ChanPro via internal/sshadapter when it can't.
package kitchen

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/sconehq/scone/internal/depcache"
	"github.com/sconehq/scone/internal/graph"
	"github.com/sconehq/scone/internal/recipe"
	"github.com/sconehq/scone/internal/sshadapter"
	"github.com/sconehq/scone/internal/vars"
)

// DefaultWorkers is the worker pool size used when Kitchen isn't given one
// explicitly, matching the original's hardcoded num_workers = 8.
const DefaultWorkers int = 8

// ErrUnsatisfiableHardNeed is the error recorded against a recipe that the
// dag fails outright because a hard-need resource it depends on ran out of
// providers without ever being completed (graph.Dag.FailVertex's
// cascadeFailed return) — it never got a chance to cook at all, as opposed
// to cooking and returning its own error.
var ErrUnsatisfiableHardNeed = errors.New("kitchen: hard need unsatisfiable, a required provider failed")

// Kitchen drives one cook run over a graph.Dag. It implements recipe.Oven,
// so a recipe's Cook hook sees only the narrow utensil-dispatch and
// dependency-tracking surface it needs.
type Kitchen struct {
	dag        *graph.Dag
	resolver   SousResolver
	ssh        *sshadapter.Adapter
	store      *depcache.Store
	workers    int
	log        *slog.Logger
	varsBySous map[string]*vars.Variables

	mu              sync.Mutex
	resourceChanged map[graph.Resource]int64

	failMu   sync.Mutex
	failures []Failure
}

// Failure records one recipe's cook error, for the composite error a run
// returns when anything went wrong.
type Failure struct {
	Recipe recipe.Recipe
	Err    error
}

// Option configures a Kitchen at construction time.
type Option func(*Kitchen)

// WithWorkers overrides the default worker pool size.
func WithWorkers(n int) Option {
	return func(k *Kitchen) { k.workers = n }
}

// WithLogger overrides the default slog.Logger.
func WithLogger(log *slog.Logger) Option {
	return func(k *Kitchen) { k.log = log }
}

// WithVars gives the Kitchen each sous's current variable scope, so
// shouldSkip can re-derive a RegisterVariable-tracked value's current
// value and compare it against what was cached, rather than only ever
// comparing resource timestamps.
func WithVars(varsBySous map[string]*vars.Variables) Option {
	return func(k *Kitchen) { k.varsBySous = varsBySous }
}

// New builds a Kitchen that schedules dag's recipes, dispatching utensils
// over connections ssh opens using resolver to map a recipe's sous name to
// connection details, and consulting store for skip decisions.
func New(dag *graph.Dag, resolver SousResolver, ssh *sshadapter.Adapter, store *depcache.Store, opts ...Option) *Kitchen {
	k := &Kitchen{
		dag:             dag,
		resolver:        resolver,
		ssh:             ssh,
		store:           store,
		workers:         DefaultWorkers,
		log:             slog.Default(),
		resourceChanged: make(map[graph.Resource]int64),
	}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

func nowMillis() int64 { return time.Now().UnixMilli() }

// SetDag replaces the dag a Kitchen schedules. A long-lived head process
// (--watch mode) re-materialises a fresh dag for every re-cook but wants
// to keep the same Kitchen around, since resourceChanged is what makes an
// externally-marked fridge change actually affect the next cook's skip
// decisions — a brand new Kitchen per re-cook would start that map empty
// every time and never see the watcher's marks.
func (k *Kitchen) SetDag(dag *graph.Dag) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.dag = dag
}

// MarkResourceChanged records that resource changed at t (milliseconds
// since epoch) without going through a recipe's Provide call — the entry
// point an external watcher (internal/fridge, in --watch mode) uses to
// invalidate a dependency-cache skip decision for a resource nothing in
// the current cook run touched.
func (k *Kitchen) MarkResourceChanged(resource graph.Resource, t int64) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.resourceChanged[resource] = t
}

// CookAll seeds the dag's initially-cookable vertices and runs the worker
// pool to completion. It returns a composite error naming every FAILED
// recipe, or nil if every recipe that ran COOKED or was SKIPPED.
func (k *Kitchen) CookAll(ctx context.Context) error {
	cookable, err := k.dag.SeedCookable()
	if err != nil {
		return fmt.Errorf("kitchen: %w", err)
	}

	queue := newReadyQueue(k.workers)
	for _, v := range cookable {
		queue.push(v)
	}

	var wg sync.WaitGroup
	for i := 0; i < k.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			k.work(ctx, queue)
		}()
	}
	wg.Wait()

	return k.failureSummary()
}

func (k *Kitchen) work(ctx context.Context, queue *readyQueue) {
	for {
		v, result := queue.next()
		switch result {
		case nextStop:
			return
		case nextContinue:
			continue
		case nextJob:
			k.cookOne(ctx, queue, v)
		}
	}
}

func (k *Kitchen) cookOne(ctx context.Context, queue *readyQueue, v graph.Vertex) {
	rec, isRecipe := v.(recipe.Recipe)
	if !isRecipe {
		resource := v.(graph.Resource)
		k.log.Debug("have", "resource", resource.String())
		for _, ready := range k.dag.CompleteVertex(v) {
			queue.push(ready)
		}
		return
	}

	meta := k.dag.RecipeMeta(rec)
	meta.State = graph.StateBeingCooked

	if ctx.Err() != nil {
		// Cancellation in effect: don't start new work, but still run edge
		// propagation as a failure so downstream hard-needs surface instead
		// of hanging forever.
		meta.State = graph.StateFailed
		k.recordFailure(rec, ctx.Err())
		ready, cascadeFailed := k.dag.FailVertex(rec)
		for _, r := range ready {
			queue.push(r)
		}
		k.recordCascadeFailures(cascadeFailed)
		return
	}

	skip, err := k.shouldSkip(ctx, rec)
	if err != nil {
		k.log.Warn("dependency cache lookup failed, cooking unconditionally", "recipe", rec, "error", err)
	}

	if skip {
		k.log.Info("skipping", "recipe", fmt.Sprintf("%v", rec))
		meta.State = graph.StateSkipped
		if kind, hash, herr := depcache.Paramhash(rec); herr == nil {
			if rerr := k.store.Renew(ctx, kind, hash, nowMillis()); rerr != nil {
				k.log.Warn("renewing dependency cache entry", "recipe", rec, "error", rerr)
			}
		}
		for _, ready := range k.dag.CompleteVertex(rec) {
			queue.push(ready)
		}
		return
	}

	k.log.Info("cooking", "recipe", fmt.Sprintf("%v", rec))
	runCtx := withRunState(ctx, &runState{rec: rec, book: depcache.NewBook()})
	cookErr := rec.Cook(runCtx, k)
	rs := runStateFrom(runCtx)

	if cookErr != nil {
		k.log.Error("cook failed", "recipe", fmt.Sprintf("%v", rec), "error", cookErr)
		meta.State = graph.StateFailed
		k.recordFailure(rec, cookErr)
		ready, cascadeFailed := k.dag.FailVertex(rec)
		for _, r := range ready {
			queue.push(r)
		}
		k.recordCascadeFailures(cascadeFailed)
		return
	}

	k.log.Info("cooked", "recipe", fmt.Sprintf("%v", rec))
	meta.State = graph.StateCooked
	if err := k.storeDependency(ctx, rec, rs); err != nil {
		k.log.Warn("storing dependency cache entry", "recipe", rec, "error", err)
	}
	for _, ready := range k.dag.CompleteVertex(rec) {
		queue.push(ready)
	}
}

// shouldSkip consults the dependency cache to decide whether rec's last
// cook is still valid: if it has a cache entry, every resource it watched
// is unchanged since as far as this Kitchen knows, and every dynamic
// cache_data value it tracked still matches what's live today, it can skip.
//
// The original's DependencyTracker.watch/provide are stubs (watch records
// a sentinel value and provide writes to a dag.resource_time map nothing
// ever reads) — this is the real comparison the commented-out
// `self._dag.resource_time[resource]` line in the original gestures at but
// never wires up.
func (k *Kitchen) shouldSkip(ctx context.Context, rec recipe.Recipe) (bool, error) {
	kind, hash, err := depcache.Paramhash(rec)
	if err != nil {
		return false, err
	}

	book, found, err := k.store.Inquire(ctx, kind, hash)
	if err != nil {
		return false, err
	}
	if !found || book.Ignored {
		return false, nil
	}

	k.mu.Lock()
	for _, watched := range book.Watching {
		if changedAt, known := k.resourceChanged[watched.Resource]; known && changedAt > watched.Time {
			k.mu.Unlock()
			return false, nil
		}
	}
	k.mu.Unlock()

	changed, err := k.cacheDataChanged(rec, book.CacheData)
	if err != nil {
		return false, err
	}
	return !changed, nil
}

// cacheDataChanged re-derives each of cacheData's dynamic fingerprints
// against its live value today, the way the recipe populated it in the
// first place: RegisterVariable is the only Oven call that writes
// cache_data, stashing a sous variable's dotted-path value, so the live
// value is looked up the same way via that sous's current Variables scope.
// A sous with no variable scope known, a dotted name that no longer
// resolves, or a value that canonically encodes differently all count as
// changed, forcing a cook rather than risking a stale skip.
func (k *Kitchen) cacheDataChanged(rec recipe.Recipe, cacheData map[string]any) (bool, error) {
	if len(cacheData) == 0 {
		return false, nil
	}

	sousVars := k.varsBySous[rec.Context().Sous]
	if sousVars == nil {
		return true, nil
	}

	for dottedName, stored := range cacheData {
		current, err := sousVars.GetDotted(dottedName)
		if err != nil {
			return true, nil
		}

		storedEnc, err := depcache.CanonicalEncode(stored)
		if err != nil {
			return false, fmt.Errorf("kitchen: encoding cached value for %q: %w", dottedName, err)
		}
		currentEnc, err := depcache.CanonicalEncode(current)
		if err != nil {
			return false, fmt.Errorf("kitchen: encoding current value for %q: %w", dottedName, err)
		}
		if !bytes.Equal(storedEnc, currentEnc) {
			return true, nil
		}
	}
	return false, nil
}

func (k *Kitchen) storeDependency(ctx context.Context, rec recipe.Recipe, rs *runState) error {
	if rs.book.Ignored {
		return nil
	}
	kind, hash, err := depcache.Paramhash(rec)
	if err != nil {
		return err
	}
	rs.book.LastChanged = nowMillis()
	return k.store.Register(ctx, kind, hash, *rs.book, nowMillis())
}

func (k *Kitchen) recordFailure(rec recipe.Recipe, err error) {
	k.failMu.Lock()
	defer k.failMu.Unlock()
	k.failures = append(k.failures, Failure{Recipe: rec, Err: err})
}

// recordCascadeFailures records a Failure for every vertex graph.Dag just
// cascade-failed because one of its hard needs ran out of providers — they
// never reached Cook, so ErrUnsatisfiableHardNeed stands in for a cook
// error in the composite RunError CookAll returns.
func (k *Kitchen) recordCascadeFailures(cascadeFailed []graph.Vertex) {
	for _, v := range cascadeFailed {
		if rec, ok := v.(recipe.Recipe); ok {
			k.recordFailure(rec, ErrUnsatisfiableHardNeed)
		}
	}
}

func (k *Kitchen) failureSummary() error {
	k.failMu.Lock()
	defer k.failMu.Unlock()
	if len(k.failures) == 0 {
		return nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "kitchen: %d recipe(s) failed:", len(k.failures))
	for _, f := range k.failures {
		fmt.Fprintf(&b, "\n  - %v: %v", f.Recipe, f.Err)
	}
	return &RunError{Failures: k.failures, message: b.String()}
}

// RunError is the composite error CookAll returns when one or more
// recipes failed.
type RunError struct {
	Failures []Failure
	message  string
}

func (e *RunError) Error() string { return e.message }

