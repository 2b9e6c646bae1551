// Package menu implements the reference menu loader: reading a directory of
// YAML dish descriptors into a Menu, then materialising each dish into a
// concrete recipe.Recipe and adding it to a graph.Dag. spec.md calls the
// real menu loader (and its TOML grammar) out of scope and describes this
// package's job only through the interface it satisfies; this is the
// minimal implementation needed to run an end-to-end scenario against it.
package menu

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sconehq/scone/internal/config"
	"github.com/sconehq/scone/internal/graph"
	"github.com/sconehq/scone/internal/recipe"
	"github.com/sconehq/scone/internal/schema"
	"github.com/sconehq/scone/internal/vars"
)

// magicTweaksKey is the sentinel top-level key a dish file uses to carry
// tweaks that apply to every dish it declares (currently just an optional
// override of the remote user recipes in that file run as).
const magicTweaksKey = "-----"

// Dish is one recipe instance declared in a menu file: its raw, not-yet
// variable-substituted arguments, plus where it came from for diagnostics.
type Dish struct {
	Args   map[string]any
	Source string
	User   string
}

// HostMenu is every dish declared for one hostspec (a sous name or group
// name), grouped by recipe kind and then by slug.
type HostMenu struct {
	Dishes map[string]map[string]Dish
}

func newHostMenu() *HostMenu {
	return &HostMenu{Dishes: make(map[string]map[string]Dish)}
}

// Menu is the full set of dishes loaded from a menu directory, grouped by
// the hostspec they target.
type Menu struct {
	HostMenus map[string]*HostMenu
}

// New returns an empty Menu.
func New() *Menu {
	return &Menu{HostMenus: make(map[string]*HostMenu)}
}

func (m *Menu) host(hostspec string) *HostMenu {
	hm, ok := m.HostMenus[hostspec]
	if !ok {
		hm = newHostMenu()
		m.HostMenus[hostspec] = hm
	}
	return hm
}

type magicTweaks struct {
	User string `yaml:"user"`
}

// ParseDescriptor parses one YAML menu file's contents into menu. Each
// top-level key is either "<recipe-kind>" (applying to defaultHostspec) or
// "<hostspec>--<recipe-kind>" (applying to the named hostspec); its value is
// either a map of slug to argument map, or a list of argument maps whose
// slugs are generated from sourceName and their index.
func ParseDescriptor(data []byte, menu *Menu, defaultHostspec, sourceName string) error {
	var raw map[string]yaml.Node
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("menu: parse %s: %w", sourceName, err)
	}

	var tweaks magicTweaks
	if node, ok := raw[magicTweaksKey]; ok {
		if err := node.Decode(&tweaks); err != nil {
			return fmt.Errorf("menu: %s: decode magic tweaks: %w", sourceName, err)
		}
		delete(raw, magicTweaksKey)
	}

	// Deterministic order for stable list-slug generation across runs.
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		hostspec, recipeKind, err := splitMenuKey(key, defaultHostspec)
		if err != nil {
			return fmt.Errorf("menu: %s: %w", sourceName, err)
		}

		hostMenu := menu.host(hostspec)
		dishes, ok := hostMenu.Dishes[recipeKind]
		if !ok {
			dishes = make(map[string]Dish)
			hostMenu.Dishes[recipeKind] = dishes
		}

		node := raw[key]
		if err := decodeDishes(&node, dishes, key, sourceName, tweaks.User); err != nil {
			return fmt.Errorf("menu: %s: %w", sourceName, err)
		}
	}

	return nil
}

// splitMenuKey implements the "hostspec--recipe-kind" key grammar: a bare
// key applies to defaultHostspec; a "hostspec--kind" key targets hostspec
// explicitly; a trailing "--" (as in "fridge-copy--") is a no-op separator
// kept only so a recipe kind name containing no hyphens still reads clearly
// next to one that's hostspec-qualified.
func splitMenuKey(key, defaultHostspec string) (hostspec, recipeKind string, err error) {
	parts := strings.Split(key, "--")
	switch len(parts) {
	case 1:
		return defaultHostspec, parts[0], nil
	case 2:
		if parts[1] == "" {
			return defaultHostspec, parts[0], nil
		}
		return parts[0], parts[1], nil
	case 3:
		if parts[2] == "" {
			return parts[0], parts[1], nil
		}
	}
	return "", "", fmt.Errorf("don't understand menu key %q", key)
}

func decodeDishes(node *yaml.Node, dishes map[string]Dish, key, sourceName, user string) error {
	switch node.Kind {
	case yaml.MappingNode:
		var asMap map[string]map[string]any
		if err := node.Decode(&asMap); err != nil {
			return fmt.Errorf("decode dishes for %q: %w", key, err)
		}
		for slug, args := range asMap {
			if _, exists := dishes[slug]; exists {
				return fmt.Errorf("conflict: slug %q declared twice under %q", slug, key)
			}
			dishes[slug] = Dish{Args: args, Source: fmt.Sprintf("%s:%s:%s", sourceName, key, slug), User: user}
		}
	case yaml.SequenceNode:
		var asList []map[string]any
		if err := node.Decode(&asList); err != nil {
			return fmt.Errorf("decode dish list for %q: %w", key, err)
		}
		for idx, args := range asList {
			slug := fmt.Sprintf("@%s@%d", sourceName, idx)
			dishes[slug] = Dish{Args: args, Source: fmt.Sprintf("%s:%s:%d", sourceName, key, idx), User: user}
		}
	default:
		return fmt.Errorf("dishes for %q must be a map or a list", key)
	}
	return nil
}

// LoadDir walks dir for "*.yaml" files (each named "<default-hostspec>.yaml")
// and parses every one into a single Menu.
func LoadDir(dir string) (*Menu, error) {
	m := New()

	var files []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(path, ".yaml") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("menu: walk %s: %w", dir, err)
	}
	sort.Strings(files)

	for _, file := range files {
		rel, err := filepath.Rel(dir, file)
		if err != nil {
			rel = file
		}
		base := filepath.Base(file)
		pieces := strings.Split(base, ".")
		if len(pieces) < 2 {
			return nil, fmt.Errorf("menu: %s: filename must be '<hostspec>.yaml'", rel)
		}
		defaultHostspec := pieces[len(pieces)-2]

		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("menu: read %s: %w", rel, err)
		}
		if err := ParseDescriptor(data, m, defaultHostspec, rel); err != nil {
			return nil, err
		}
	}

	return m, nil
}

const defaultUser = "root"

// Materialize expands menu into concrete recipes and adds each one to dag:
// every dish's hostspec is resolved to its concrete souss via head, its
// arguments are deep-copied and $-substituted against that sous's
// Variables, optionally schema-validated, then constructed via
// recipe.New and added to dag. Preparation (recipe.Preparer) still needs to
// run separately over dag afterwards.
func Materialize(m *Menu, head *config.Head, varsBySous map[string]*vars.Variables, schemas *schema.Registry, dag *graph.Dag) error {
	hostspecs := make([]string, 0, len(m.HostMenus))
	for hostspec := range m.HostMenus {
		hostspecs = append(hostspecs, hostspec)
	}
	sort.Strings(hostspecs)

	for _, hostspec := range hostspecs {
		hostMenu := m.HostMenus[hostspec]
		souss, err := head.SoussForHostspec(hostspec)
		if err != nil {
			return fmt.Errorf("menu: %w", err)
		}

		kinds := make([]string, 0, len(hostMenu.Dishes))
		for kind := range hostMenu.Dishes {
			kinds = append(kinds, kind)
		}
		sort.Strings(kinds)

		for _, sous := range souss {
			sousVars := varsBySous[sous]
			if sousVars == nil {
				sousVars = vars.New(nil)
			}

			for _, kind := range kinds {
				slugs := make([]string, 0, len(hostMenu.Dishes[kind]))
				for slug := range hostMenu.Dishes[kind] {
					slugs = append(slugs, slug)
				}
				sort.Strings(slugs)

				for _, slug := range slugs {
					dish := hostMenu.Dishes[kind][slug]
					if err := addDish(dag, sous, kind, slug, dish, sousVars, schemas); err != nil {
						return err
					}
				}
			}
		}
	}

	return nil
}

func addDish(dag *graph.Dag, sous, kind, slug string, dish Dish, sousVars *vars.Variables, schemas *schema.Registry) error {
	args, err := sousVars.SubstituteInDictCopy(dish.Args)
	if err != nil {
		return fmt.Errorf("menu: %s: substituting variables: %w", dish.Source, err)
	}

	if schemas != nil {
		if err := schemas.Validate(kind, args); err != nil {
			return fmt.Errorf("menu: %s: %w", dish.Source, err)
		}
	}

	user := dish.User
	if user == "" {
		user = defaultUser
	}

	ctx := recipe.Context{
		Sous:               sous,
		User:               user,
		Slug:               slug,
		HierarchicalSource: dish.Source,
		Human:              fmt.Sprintf("%s %q on %s", kind, slug, sous),
	}

	rec, err := recipe.New(kind, ctx, args)
	if err != nil {
		return fmt.Errorf("menu: %s: %w", dish.Source, err)
	}

	dag.Add(rec)
	return nil
}
