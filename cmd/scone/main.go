// Command scone is the reference head entrypoint: it loads a head
// directory's configuration and menu, builds the recipe/resource dag, and
// drives one cook run (or, with --watch, keeps driving runs as the fridge
// changes underneath it). spec.md treats the CLI as "an entrypoint exists,
// its flags are not specified" — this shape is this repo's own, built the
// way the teacher's cli/main.go builds a cobra front-end.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sconehq/scone/internal/config"
	"github.com/sconehq/scone/internal/depcache"
	"github.com/sconehq/scone/internal/kitchen"
	"github.com/sconehq/scone/internal/menu"
	"github.com/sconehq/scone/internal/schema"
	"github.com/sconehq/scone/internal/sshadapter"
	"github.com/sconehq/scone/internal/vars"
)

func main() {
	var (
		headDir  string
		menuDir  string
		watch    bool
		workers  int
		noColor  bool
		logLevel string
	)

	rootCmd := &cobra.Command{
		Use:           "scone [hostspec...]",
		Short:         "Cook the menu's dishes onto the configured souss",
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			err := runCook(cmd.Context(), cookOptions{
				headDir:   headDir,
				menuDir:   menuDir,
				hostspecs: args,
				watch:     watch,
				workers:   workers,
				logLevel:  logLevel,
			})
			if err != nil {
				cmd.SilenceUsage = true
			}
			return err
		},
	}

	rootCmd.PersistentFlags().StringVarP(&headDir, "head", "H", ".", "Path to the head directory (containing scone.head.yaml)")
	rootCmd.PersistentFlags().StringVarP(&menuDir, "menu", "m", "menu", "Path to the menu directory, relative to --head")
	rootCmd.PersistentFlags().BoolVarP(&watch, "watch", "w", false, "Keep running, re-cooking whenever a watched fridge file changes")
	rootCmd.PersistentFlags().IntVar(&workers, "workers", kitchen.DefaultWorkers, "Number of concurrent cook workers")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, or error")

	rootCmd.AddCommand(newValidateCmd(&headDir, &menuDir))

	ctx, cancel := newCancellableContext()
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		FormatError(os.Stderr, err, !noColor)
		os.Exit(1)
	}
}

// newCancellableContext returns a context cancelled on SIGINT/SIGTERM, so a
// cook run in progress gets a chance to let in-flight utensils close their
// channels instead of the process dying mid-transport.
func newCancellableContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()
	return ctx, cancel
}

type cookOptions struct {
	headDir   string
	menuDir   string
	hostspecs []string
	watch     bool
	workers   int
	logLevel  string
}

// loadedHead bundles everything built once per process and reused across
// cook runs in --watch mode: the head configuration, its per-sous variable
// scopes, its menu, the shared dependency cache, the SSH adapter holding
// open sous connections, and the one Kitchen that keeps the scheduler's
// resourceChanged bookkeeping alive across re-cooks.
type loadedHead struct {
	head       *config.Head
	varsBySous map[string]*vars.Variables
	m          *menu.Menu
	store      *depcache.Store
	ssh        *sshadapter.Adapter
	schemas    *schema.Registry
	kit        *kitchen.Kitchen
	log        *slog.Logger
}
