package kitchen

import "github.com/sconehq/scone/internal/sshadapter"

// SousResolver maps a sous name, as named in a recipe's Context, to the
// connection details needed to dial it. cmd/scone builds the concrete
// implementation with NewStaticResolver from the head config's sous table.
type SousResolver interface {
	HostConfig(sous string) (sshadapter.HostConfig, error)
}

// staticResolver is the simplest SousResolver: a fixed map, good enough for
// tests and for a menu that doesn't need dynamic sous discovery.
type staticResolver map[string]sshadapter.HostConfig

// NewStaticResolver returns a SousResolver backed by a fixed sous name to
// HostConfig map.
func NewStaticResolver(souss map[string]sshadapter.HostConfig) SousResolver {
	return staticResolver(souss)
}

func (r staticResolver) HostConfig(sous string) (sshadapter.HostConfig, error) {
	cfg, ok := r[sous]
	if !ok {
		return sshadapter.HostConfig{}, &UnknownSousError{Sous: sous}
	}
	return cfg, nil
}

// UnknownSousError reports that a recipe names a sous not present in the
// resolver's configuration.
type UnknownSousError struct {
	Sous string
}

func (e *UnknownSousError) Error() string {
	return "kitchen: unknown sous " + e.Sous
}
