// Package schema validates a recipe's menu-declared arguments against a
// compiled JSON Schema before the recipe is constructed, so a malformed
// dish in a menu file fails at load time with a precise error rather than
// deep inside some recipe's Prepare or Cook hook.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Registry holds one compiled schema per recipe kind. A kind with no
// registered schema is permitted to validate trivially — schemas are
// opt-in, matching spec.md's stance that argument shape is a concern of
// each concrete recipe package, not the core.
type Registry struct {
	mu      sync.RWMutex
	schemas map[string]*jsonschema.Schema
}

// NewRegistry returns an empty schema Registry.
func NewRegistry() *Registry {
	return &Registry{schemas: make(map[string]*jsonschema.Schema)}
}

// Register compiles schemaJSON (a JSON Schema document, Draft 2020-12) and
// associates it with kind. Registering the same kind twice replaces the
// prior schema, so a recipe package can be reloaded in tests without
// restarting the process.
func (r *Registry) Register(kind string, schemaJSON []byte) error {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020

	const resourceName = "dish-args.json"
	if err := compiler.AddResource(resourceName, bytes.NewReader(schemaJSON)); err != nil {
		return fmt.Errorf("schema: register %q: %w", kind, err)
	}
	compiled, err := compiler.Compile(resourceName)
	if err != nil {
		return fmt.Errorf("schema: compile %q: %w", kind, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.schemas[kind] = compiled
	return nil
}

// Validate checks args against kind's registered schema, if any. A kind
// with no registered schema always passes.
func (r *Registry) Validate(kind string, args map[string]any) error {
	r.mu.RLock()
	compiled, ok := r.schemas[kind]
	r.mu.RUnlock()
	if !ok {
		return nil
	}

	// jsonschema validates against decoded JSON values (float64, not int),
	// so round-trip args through encoding/json rather than handing it the
	// Go-native map directly.
	encoded, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("schema: marshal args for %q: %w", kind, err)
	}
	var decoded any
	if err := json.Unmarshal(encoded, &decoded); err != nil {
		return fmt.Errorf("schema: unmarshal args for %q: %w", kind, err)
	}

	if err := compiled.Validate(decoded); err != nil {
		return fmt.Errorf("schema: dish of kind %q failed validation: %w", kind, err)
	}
	return nil
}
