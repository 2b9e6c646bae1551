package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/sconehq/scone/internal/config"
	"github.com/sconehq/scone/internal/depcache"
	"github.com/sconehq/scone/internal/fridge"
	"github.com/sconehq/scone/internal/graph"
	"github.com/sconehq/scone/internal/kitchen"
	"github.com/sconehq/scone/internal/menu"
	"github.com/sconehq/scone/internal/prepare"
	"github.com/sconehq/scone/internal/schema"
	"github.com/sconehq/scone/internal/sshadapter"
)

const depcacheFileName = "scone.depcache.sqlite"

// runCook loads the head and menu, runs one cook, and, if opts.watch is
// set, keeps the process alive re-cooking whenever the fridge watcher
// reports a changed file until the context is cancelled (Ctrl+C).
func runCook(ctx context.Context, opts cookOptions) error {
	log := newLogger(opts.logLevel)

	lh, err := loadHead(ctx, opts, log)
	if err != nil {
		return err
	}
	defer func() { _ = lh.store.Close() }()
	defer func() { _ = lh.ssh.Close() }()

	if !opts.watch {
		return cookOnce(ctx, lh, opts)
	}

	return watchAndCook(ctx, lh, opts)
}

// loadHead builds everything a cook run needs once: head config, recipe
// variable scopes, the menu, the dependency cache, the SSH adapter, and the
// one Kitchen every cook (or re-cook, in --watch mode) schedules through.
func loadHead(ctx context.Context, opts cookOptions, log *slog.Logger) (*loadedHead, error) {
	head, err := config.Load(opts.headDir)
	if err != nil {
		return nil, fmt.Errorf("loading head config: %w", err)
	}

	varsBySous, err := head.LoadVariables()
	if err != nil {
		return nil, fmt.Errorf("loading variables: %w", err)
	}

	menuPath := opts.menuDir
	if !filepath.IsAbs(menuPath) {
		menuPath = filepath.Join(opts.headDir, menuPath)
	}
	m, err := menu.LoadDir(menuPath)
	if err != nil {
		return nil, fmt.Errorf("loading menu: %w", err)
	}

	store, err := depcache.Open(ctx, filepath.Join(opts.headDir, depcacheFileName))
	if err != nil {
		return nil, fmt.Errorf("opening dependency cache: %w", err)
	}

	ssh := sshadapter.New(log)
	workers := opts.workers
	if workers <= 0 {
		workers = kitchen.DefaultWorkers
	}
	kit := kitchen.New(graph.NewDag(), kitchen.NewStaticResolver(head.Sous), ssh, store,
		kitchen.WithWorkers(workers), kitchen.WithLogger(log), kitchen.WithVars(varsBySous))

	return &loadedHead{
		head:       head,
		varsBySous: varsBySous,
		m:          m,
		store:      store,
		ssh:        ssh,
		schemas:    schema.NewRegistry(),
		kit:        kit,
		log:        log,
	}, nil
}

// cookOnce materialises the menu into a fresh dag, prepares it, points
// lh's Kitchen at it, and runs one CookAll pass. hostspecs, if non-empty,
// restricts which menu hostspecs get materialised; an empty list cooks
// everything.
func cookOnce(ctx context.Context, lh *loadedHead, opts cookOptions) error {
	m := lh.m
	if len(opts.hostspecs) > 0 {
		m = filterMenu(lh.m, opts.hostspecs)
	}

	dag := graph.NewDag()
	if err := menu.Materialize(m, lh.head, lh.varsBySous, lh.schemas, dag); err != nil {
		return fmt.Errorf("materialising menu: %w", err)
	}
	prepare.New(dag).PrepareAll()

	lh.kit.SetDag(dag)
	if err := lh.kit.CookAll(ctx); err != nil {
		return err
	}

	lh.log.Info("cook run finished", "recipes", len(dag.Vertices()))
	return nil
}

// filterMenu returns a copy of m containing only the host menus for the
// given hostspecs, so a command-line argument like "scone web1" cooks just
// that hostspec's dishes instead of the whole menu.
func filterMenu(m *menu.Menu, hostspecs []string) *menu.Menu {
	filtered := menu.New()
	for _, hostspec := range hostspecs {
		if hm, ok := m.HostMenus[hostspec]; ok {
			filtered.HostMenus[hostspec] = hm
		}
	}
	return filtered
}

// watchAndCook runs cookOnce immediately, then starts a fridge watcher
// rooted at "<head>/fridge" and re-cooks every time it reports a change,
// until ctx is cancelled.
func watchAndCook(ctx context.Context, lh *loadedHead, opts cookOptions) error {
	if err := cookOnce(ctx, lh, opts); err != nil {
		return err
	}

	fridgeDir := filepath.Join(opts.headDir, "fridge")
	if _, err := os.Stat(fridgeDir); os.IsNotExist(err) {
		lh.log.Warn("no fridge directory to watch, --watch has nothing to react to", "path", fridgeDir)
		<-ctx.Done()
		return nil
	}

	w, err := fridge.New(fridgeDir, lh.log)
	if err != nil {
		return fmt.Errorf("starting fridge watcher: %w", err)
	}
	defer func() { _ = w.Close() }()

	trigger := &recookTrigger{kit: lh.kit, changed: make(chan struct{}, 1)}

	done := make(chan struct{})
	go func() {
		if rerr := w.Run(done, trigger); rerr != nil {
			lh.log.Error("fridge watcher stopped", "error", rerr)
		}
	}()
	defer close(done)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-trigger.changed:
			lh.log.Info("fridge change detected, re-cooking")
			if err := cookOnce(ctx, lh, opts); err != nil {
				lh.log.Error("re-cook failed", "error", err)
			}
		}
	}
}

// recookTrigger implements fridge.Invalidator: it forwards the change to
// the long-lived Kitchen (so shouldSkip sees it) and wakes the watch loop
// to schedule an immediate re-cook.
type recookTrigger struct {
	kit     *kitchen.Kitchen
	changed chan struct{}
}

func (t *recookTrigger) MarkResourceChanged(resource graph.Resource, at int64) {
	t.kit.MarkResourceChanged(resource, at)
	select {
	case t.changed <- struct{}{}:
	default:
	}
}
