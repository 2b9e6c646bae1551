package graph

import (
	"sort"
	"strings"
)

// Resource identifies one unit of state a recipe can provide or need: a
// (kind, id) pair scoped to a sous (the empty string means "on the head"),
// optionally disambiguated by a handful of extra parameters. Resource is a
// plain comparable value so it can be used directly as a map key and as a
// Dag vertex.
type Resource struct {
	Kind  string
	ID    string
	Sous  string
	// Extra is the canonicalized "k=v;k=v" encoding of the resource's extra
	// disambiguating parameters, sorted by key. Exported so Resource
	// round-trips through CBOR (internal/depcache persists it directly inside
	// a Book's resource/time entries) while still being built only via NewResource,
	// which keeps the encoding canonical regardless of input map order.
	Extra string
}

// NewResource builds a Resource, canonicalizing extra so that two Resources
// built from equivalent-but-differently-ordered maps compare equal.
func NewResource(kind, id, sous string, extraParams map[string]string) Resource {
	return Resource{Kind: kind, ID: id, Sous: sous, Extra: canonicalExtra(extraParams)}
}

func canonicalExtra(extra map[string]string) string {
	if len(extra) == 0 {
		return ""
	}
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(';')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(extra[k])
	}
	return b.String()
}

func (r Resource) String() string {
	var b strings.Builder
	b.WriteString(r.Kind)
	b.WriteByte('(')
	b.WriteString(r.ID)
	b.WriteByte(')')
	if r.Extra != "" {
		b.WriteByte(' ')
		b.WriteString(r.Extra)
	}
	if r.Sous != "" {
		b.WriteString(" on ")
		b.WriteString(r.Sous)
	}
	return b.String()
}
