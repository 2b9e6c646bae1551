// Package depcache persists, per (recipe kind, parameter hash), the
// DependencyBook a recipe's cook run produced: which resources it
// provided and watched, when they last changed, and whatever
// recipe-kind-specific cache data it chose to stash. A future run with
// the same kind and the same parameters can use this to decide whether
// it needs to cook again at all.
package depcache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/sconehq/scone/internal/graph"
	"github.com/sconehq/scone/internal/recipe"
)

// resourceTime pairs a resource with a millisecond timestamp. Provided and
// Watching are stored as slices rather than maps keyed by graph.Resource
// because CBOR (like the original's JSON via canonicaljson) has no native
// non-string map key — mirroring the Python original's
// `dict.items()`-as-tuples serialization.
type resourceTime struct {
	Resource graph.Resource `cbor:"resource"`
	Time     int64          `cbor:"time"`
}

// Book is the persisted fingerprint of one recipe's last cook.
type Book struct {
	Provided    []resourceTime `cbor:"provided"`
	Watching    []resourceTime `cbor:"watching"`
	LastChanged int64          `cbor:"last_changed"`
	CacheData   map[string]any `cbor:"cache_data"`
	Ignored     bool           `cbor:"ignored"`
}

// NewBook returns an empty Book ready to accumulate one cook's tracking.
func NewBook() *Book {
	return &Book{CacheData: make(map[string]any)}
}

// Provide records that resource was produced (or reaffirmed) at t,
// replacing any existing entry for the same resource.
func (b *Book) Provide(resource graph.Resource, t int64) {
	for i := range b.Provided {
		if b.Provided[i].Resource == resource {
			b.Provided[i].Time = t
			return
		}
	}
	b.Provided = append(b.Provided, resourceTime{Resource: resource, Time: t})
}

// Watch records that resource's state should be tracked between runs, even
// though this recipe doesn't provide it.
func (b *Book) Watch(resource graph.Resource, t int64) {
	for i := range b.Watching {
		if b.Watching[i].Resource == resource {
			b.Watching[i].Time = t
			return
		}
	}
	b.Watching = append(b.Watching, resourceTime{Resource: resource, Time: t})
}

// canonicalEncMode produces deterministic CBOR: sorted map keys and a
// stable numeric encoding, so the same logical value always serializes to
// the same bytes regardless of map iteration order.
var canonicalEncMode = func() cbor.EncMode {
	mode, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("depcache: building canonical CBOR encoder: %v", err))
	}
	return mode
}()

func marshalCanonical(v any) ([]byte, error) {
	return canonicalEncMode.Marshal(v)
}

// CanonicalEncode exposes the same deterministic CBOR encoding Book storage
// uses, so a caller comparing a live value against a previously stored one
// (kitchen's cache_data fingerprint check, for instance) gets a comparison
// that doesn't depend on map key order or on which concrete numeric/map
// type a value happens to be represented as.
func CanonicalEncode(v any) ([]byte, error) {
	return marshalCanonical(v)
}

// paramhash fingerprints a recipe's (arguments, sous, user) triple: two
// cook attempts with the same recipe kind and the same paramhash are
// considered the same unit of work for caching purposes, independent of
// the argument map's iteration order.
func paramhash(rec recipe.Recipe) (string, error) {
	ctx := rec.Context()
	data, err := marshalCanonical(map[string]any{
		"args": rec.Arguments(),
		"sous": ctx.Sous,
		"user": ctx.User,
	})
	if err != nil {
		return "", fmt.Errorf("depcache: canonicalize paramhash input: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// kindOf returns the recipe's registered kind name, used as the other half
// of the cache key alongside paramhash.
func kindOf(rec recipe.Recipe) (string, error) {
	k, ok := rec.(recipe.Kind)
	if !ok {
		return "", fmt.Errorf("depcache: recipe %T does not implement recipe.Kind", rec)
	}
	return k.Kind(), nil
}
