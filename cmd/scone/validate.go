package main

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/sconehq/scone/internal/config"
	"github.com/sconehq/scone/internal/graph"
	"github.com/sconehq/scone/internal/menu"
	"github.com/sconehq/scone/internal/prepare"
	"github.com/sconehq/scone/internal/recipe"
	"github.com/sconehq/scone/internal/schema"
)

// newValidateCmd builds the "validate" subcommand: load config and menu,
// materialise and prepare the dag, and print what would cook — without
// dialing any sous. Catches a malformed menu, an unknown recipe kind, or a
// schema validation failure before a real cook run ever opens a
// connection.
func newValidateCmd(headDir, menuDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load config and menu and report what would cook, without touching any sous",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(*headDir, *menuDir)
		},
	}
}

func runValidate(headDir, menuDir string) error {
	head, err := config.Load(headDir)
	if err != nil {
		return fmt.Errorf("loading head config: %w", err)
	}

	menuPath := menuDir
	if !filepath.IsAbs(menuPath) {
		menuPath = filepath.Join(headDir, menuPath)
	}
	m, err := menu.LoadDir(menuPath)
	if err != nil {
		return fmt.Errorf("loading menu: %w", err)
	}

	varsBySous, err := head.LoadVariables()
	if err != nil {
		return fmt.Errorf("loading variables: %w", err)
	}

	dag := graph.NewDag()
	if err := menu.Materialize(m, head, varsBySous, schema.NewRegistry(), dag); err != nil {
		return fmt.Errorf("materialising menu: %w", err)
	}
	prepare.New(dag).PrepareAll()

	recipes := make([]recipe.Recipe, 0)
	for _, v := range dag.Vertices() {
		if rec, ok := v.(recipe.Recipe); ok {
			recipes = append(recipes, rec)
		}
	}
	sort.Slice(recipes, func(i, j int) bool {
		return fmt.Sprint(recipes[i].Context()) < fmt.Sprint(recipes[j].Context())
	})

	fmt.Printf("%d recipe(s) would be cooked:\n", len(recipes))
	for _, rec := range recipes {
		ctx := rec.Context()
		fmt.Printf("  - [%s] %s\n", ctx.Sous, ctx.Human)
	}

	fmt.Printf("\nknown recipe kinds: %v\n", recipe.KnownKinds())
	return nil
}
