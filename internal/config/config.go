// Package config loads the head's own configuration: the table of souss it
// can reach, the groups they're organised into, and which recipe roots and
// secret service it should use. Production installs may load this from
// whatever format and location they choose; this package is the reference
// YAML-based loader spec.md calls out as "consumed, not defined by core."
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sconehq/scone/internal/sshadapter"
	"github.com/sconehq/scone/internal/vars"
)

// FileName is the config file this package looks for inside a head
// directory.
const FileName = "scone.head.yaml"

// sousFile mirrors one entry of the YAML "sous" table.
type sousFile struct {
	Host                  string `yaml:"host"`
	SSHUser               string `yaml:"ssh_user"`
	Port                  int    `yaml:"port"`
	ClientKeyPath         string `yaml:"client_key_path"`
	KnownHostsPath        string `yaml:"known_hosts_path"`
	InsecureIgnoreHostKey bool   `yaml:"insecure_ignore_host_key"`
	SousCommand           string `yaml:"sous_command"`
	DebugLogging          bool   `yaml:"debug_logging"`
}

type freezerFile struct {
	RestaurantID string `yaml:"restaurant_id"`
}

type headFile struct {
	RecipeRoots []string            `yaml:"recipe_roots"`
	Freezer     *freezerFile        `yaml:"freezer"`
	Sous        map[string]sousFile `yaml:"sous"`
	Group       map[string][]string `yaml:"group"`
}

// Head is a loaded head configuration: every sous it can reach, how those
// souss are grouped, and which secret service (if any) backs its freezer.
type Head struct {
	Directory       string
	RecipeRoots     []string
	Sous            map[string]sshadapter.HostConfig
	Groups          map[string][]string
	SecretServiceID string
}

// Load reads and validates scone.head.yaml from directory. The implicit
// "all" group (every configured sous) is always present, matching the
// original's Head.open behaviour, and any explicit "all" group in the file
// is rejected rather than silently overwritten.
func Load(directory string) (*Head, error) {
	data, err := os.ReadFile(filepath.Join(directory, FileName))
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", FileName, err)
	}

	var raw headFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", FileName, err)
	}

	if _, reserved := raw.Group["all"]; reserved {
		return nil, fmt.Errorf("config: group %q is reserved and populated automatically", "all")
	}

	sous := make(map[string]sshadapter.HostConfig, len(raw.Sous))
	for name, s := range raw.Sous {
		if s.Host == "" {
			return nil, fmt.Errorf("config: sous %q: host is required", name)
		}
		if s.SousCommand == "" {
			return nil, fmt.Errorf("config: sous %q: sous_command is required", name)
		}
		sous[name] = sshadapter.HostConfig{
			Host:                  s.Host,
			SSHUser:               s.SSHUser,
			Port:                  s.Port,
			ClientKeyPath:         s.ClientKeyPath,
			KnownHostsPath:        s.KnownHostsPath,
			InsecureIgnoreHostKey: s.InsecureIgnoreHostKey,
			SousCommand:           s.SousCommand,
			DebugLogging:          s.DebugLogging,
		}
	}

	groups := make(map[string][]string, len(raw.Group)+1)
	for name, members := range raw.Group {
		groups[name] = members
	}
	all := make([]string, 0, len(sous))
	for name := range sous {
		all = append(all, name)
	}
	sort.Strings(all)
	groups["all"] = all

	head := &Head{
		Directory:   directory,
		RecipeRoots: raw.RecipeRoots,
		Sous:        sous,
		Groups:      groups,
	}
	if raw.Freezer != nil {
		head.SecretServiceID = raw.Freezer.RestaurantID
	}
	return head, nil
}

// SoussForHostspec resolves a menu hostspec to the concrete sous names it
// denotes: itself, if hostspec names a sous directly, or its group's
// members otherwise.
func (h *Head) SoussForHostspec(hostspec string) ([]string, error) {
	if _, ok := h.Sous[hostspec]; ok {
		return []string{hostspec}, nil
	}
	members, ok := h.Groups[hostspec]
	if !ok {
		return nil, fmt.Errorf("config: unknown sous or group %q", hostspec)
	}
	return members, nil
}

// LoadVariables builds one vars.Variables scope per configured sous, from
// files under "<directory>/vars/<who>/": "<who>" ranges over "all", every
// group the sous belongs to, and the sous itself, applied in that order so
// a narrower scope's declarations win. Within each "<who>" directory,
// "*.vf.yaml" files are loaded plain (no $-substitution, for values that
// must not reference other variables) and "*.v.yaml" files are loaded with
// substitution, matching the frozen/chilled split in the original's
// _preload_variables.
func (h *Head) LoadVariables() (map[string]*vars.Variables, error) {
	who := make([]string, 0, len(h.Sous)+len(h.Groups))
	who = append(who, "all")
	for group := range h.Groups {
		if group != "all" {
			who = append(who, group)
		}
	}
	for sous := range h.Sous {
		who = append(who, sous)
	}

	preloaded := make(map[string]struct {
		frozen  map[string]any
		chilled map[string]any
	}, len(who))
	for _, w := range who {
		frozen, chilled, err := h.preloadVariables(w)
		if err != nil {
			return nil, err
		}
		preloaded[w] = struct {
			frozen  map[string]any
			chilled map[string]any
		}{frozen, chilled}
	}

	result := make(map[string]*vars.Variables, len(h.Sous))
	for sous := range h.Sous {
		order := []string{"all"}
		memberGroups := make([]string, 0)
		for group, members := range h.Groups {
			if group == "all" {
				continue
			}
			for _, m := range members {
				if m == sous {
					memberGroups = append(memberGroups, group)
					break
				}
			}
		}
		sort.Strings(memberGroups)
		order = append(order, memberGroups...)
		order = append(order, sous)

		frozen := make(map[string]any)
		chilled := make(map[string]any)
		for _, w := range order {
			p := preloaded[w]
			mergeMapsRightIntoLeft(frozen, p.frozen)
			mergeMapsRightIntoLeft(chilled, p.chilled)
		}

		sousVars := vars.New(nil)
		sousVars.LoadPlain(frozen)
		if err := sousVars.LoadVarsWithSubstitutions(chilled); err != nil {
			return nil, fmt.Errorf("config: vars for sous %q: %w", sous, err)
		}
		result[sous] = sousVars
	}

	return result, nil
}

// preloadVariables reads every "*.vf.yaml" (frozen) and "*.v.yaml"
// (chilled) file under "<directory>/vars/<who>/", merging same-named keys
// right-into-left in filename order. A missing vars directory for who is
// not an error: most group/sous names never get their own variable files.
func (h *Head) preloadVariables(who string) (frozen, chilled map[string]any, err error) {
	frozen = make(map[string]any)
	chilled = make(map[string]any)

	varDir := filepath.Join(h.Directory, "vars", who)
	entries, err := os.ReadDir(varDir)
	if os.IsNotExist(err) {
		return frozen, chilled, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("config: reading vars dir for %q: %w", who, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		data, rerr := os.ReadFile(filepath.Join(varDir, name))
		if rerr != nil {
			return nil, nil, fmt.Errorf("config: reading %s: %w", name, rerr)
		}

		var parsed map[string]any
		if uerr := yaml.Unmarshal(data, &parsed); uerr != nil {
			return nil, nil, fmt.Errorf("config: parsing %s: %w", name, uerr)
		}

		switch {
		case strings.HasSuffix(name, ".vf.yaml"):
			mergeMapsRightIntoLeft(frozen, parsed)
		case strings.HasSuffix(name, ".v.yaml"):
			mergeMapsRightIntoLeft(chilled, parsed)
		}
	}

	return frozen, chilled, nil
}

// mergeMapsRightIntoLeft deep-merges right's keys into left in place,
// mirroring internal/vars' own merge semantics so a variable file's nested
// tables combine the same way $-substitution's flattening expects.
func mergeMapsRightIntoLeft(left, right map[string]any) {
	for key, value := range right {
		if rightSub, ok := value.(map[string]any); ok {
			if leftSub, ok := left[key].(map[string]any); ok {
				mergeMapsRightIntoLeft(leftSub, rightSub)
				continue
			}
			// Copy rather than alias, so a later merge into left never
			// writes through into right's nested table.
			fresh := make(map[string]any, len(rightSub))
			mergeMapsRightIntoLeft(fresh, rightSub)
			left[key] = fresh
			continue
		}
		left[key] = value
	}
}
