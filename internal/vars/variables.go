// Package vars implements the dotted-path variable store recipes and
// templates read from: a $-expression substitution grammar over a
// delegate chain of scopes (menu-wide, then host-specific, then
// recipe-specific, narrowest first).
package vars

import (
	"fmt"
	"strings"
	"sync"
)

// Variables is one scope of dotted-path values, optionally falling back to
// a delegate scope for anything it doesn't itself define. A recipe's
// variable view is typically a chain: its own scope delegates to its
// sous's scope, which delegates to the menu's global scope.
type Variables struct {
	mu       sync.Mutex
	vars     map[string]any
	delegate *Variables
}

// New returns an empty Variables scope, falling back to delegate (which
// may be nil) for lookups this scope can't satisfy itself.
func New(delegate *Variables) *Variables {
	return &Variables{vars: make(map[string]any), delegate: delegate}
}

// GetDotted resolves a dotted path ("a.b.c") against this scope, falling
// through to the delegate chain if not found locally.
func (v *Variables) GetDotted(name string) (any, error) {
	return v.resolve(name)
}

// MissingVariableError reports that a dotted path isn't defined anywhere
// in the scope's delegate chain.
type MissingVariableError struct{ Name string }

func (e *MissingVariableError) Error() string { return "vars: no variable: " + e.Name }

// HasDotted reports whether name resolves anywhere in this scope or its
// delegate chain.
func (v *Variables) HasDotted(name string) bool {
	_, err := v.resolve(name)
	return err == nil
}

func (v *Variables) resolve(name string) (any, error) {
	v.mu.Lock()
	current := any(v.vars)
	for _, key := range strings.Split(name, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			v.mu.Unlock()
			return v.resolveDelegate(name)
		}
		next, ok := m[key]
		if !ok {
			v.mu.Unlock()
			return v.resolveDelegate(name)
		}
		current = next
	}
	v.mu.Unlock()
	return current, nil
}

func (v *Variables) resolveDelegate(name string) (any, error) {
	if v.delegate != nil {
		return v.delegate.resolve(name)
	}
	return nil, &MissingVariableError{Name: name}
}

// SetDotted writes value at a dotted path in this scope, creating
// intermediate maps as needed. It never touches the delegate chain.
func (v *Variables) SetDotted(name string, value any) {
	v.mu.Lock()
	defer v.mu.Unlock()

	keys := strings.Split(name, ".")
	current := v.vars
	for _, key := range keys[:len(keys)-1] {
		next, ok := current[key].(map[string]any)
		if !ok {
			next = make(map[string]any)
			current[key] = next
		}
		current = next
	}
	current[keys[len(keys)-1]] = value
}

// LoadPlain deep-merges incoming into this scope without any substitution.
func (v *Variables) LoadPlain(incoming map[string]any) {
	v.mu.Lock()
	defer v.mu.Unlock()
	mergeRightIntoLeft(v.vars, incoming)
}

// Eval substitutes every ${variable} reference in expr against this scope
// (and its delegate chain), returning the resolved value directly if expr
// is exactly one variable reference, or the concatenated string otherwise.
func (v *Variables) Eval(expr string) (any, error) {
	return v.evalWithIncoming(expr, map[string]string{})
}

func (v *Variables) evalWithIncoming(expr string, incoming map[string]string) (any, error) {
	parts, err := parseExpr(expr)
	if err != nil {
		return nil, err
	}

	if len(parts) == 1 && parts[0].kind == "variable" {
		return v.resolveVariable(parts[0].value, incoming)
	}

	var out strings.Builder
	for _, part := range parts {
		if part.kind == "literal" {
			out.WriteString(part.value)
			continue
		}
		val, err := v.resolveVariable(part.value, incoming)
		if err != nil {
			return nil, err
		}
		fmt.Fprint(&out, val)
	}
	return out.String(), nil
}

func (v *Variables) resolveVariable(name string, incoming map[string]string) (any, error) {
	if v.HasDotted(name) {
		return v.GetDotted(name)
	}
	if subExpr, ok := incoming[name]; ok {
		delete(incoming, name)
		subVal, err := v.evalWithIncoming(subExpr, incoming)
		if err != nil {
			return nil, err
		}
		v.SetDotted(name, subVal)
		return subVal, nil
	}
	return nil, &MissingVariableError{Name: name}
}

// LoadVarsWithSubstitutions flattens incoming and assigns each dotted key
// by evaluating its expression, letting later keys reference earlier ones
// (in either direction — an expression can forward-reference a key that
// hasn't been assigned yet, since unresolved references stay available in
// incoming until consumed).
func (v *Variables) LoadVarsWithSubstitutions(incoming map[string]any) error {
	flat := flattenDict(incoming)
	pending := make(map[string]string, len(flat))
	for k, val := range flat {
		s, ok := val.(string)
		if !ok {
			v.SetDotted(k, val)
			continue
		}
		pending[k] = s
	}

	for len(pending) > 0 {
		var key string
		for k := range pending {
			key = k
			break
		}
		expr := pending[key]
		delete(pending, key)

		val, err := v.evalWithIncoming(expr, pending)
		if err != nil {
			return err
		}
		v.SetDotted(key, val)
	}
	return nil
}

// SubstituteInplaceInDict walks dictionary recursively, replacing every
// string value with the result of evaluating it as a $-expression against
// this scope.
func (v *Variables) SubstituteInplaceInDict(dictionary map[string]any) error {
	for k, val := range dictionary {
		switch typed := val.(type) {
		case map[string]any:
			if err := v.SubstituteInplaceInDict(typed); err != nil {
				return err
			}
		case string:
			evaluated, err := v.Eval(typed)
			if err != nil {
				return err
			}
			dictionary[k] = evaluated
		}
	}
	return nil
}

// SubstituteInDictCopy returns a deep copy of dictionary with every string
// value substituted, leaving the input untouched.
func (v *Variables) SubstituteInDictCopy(dictionary map[string]any) (map[string]any, error) {
	copied := deepCopyValue(dictionary).(map[string]any)
	if err := v.SubstituteInplaceInDict(copied); err != nil {
		return nil, err
	}
	return copied, nil
}

// Toplevel returns this scope's own variables (not its delegate's), for
// snapshotting or enumerating top-level keys.
func (v *Variables) Toplevel() map[string]any {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.vars
}

// Snapshot flattens the whole delegate chain into one plain map, narrowest
// scope winning, and deep-copies it so the caller can hand it to an
// external template renderer without risking a mutation reaching back into
// a live recipe's variable scope. Intended for hand-off after a recipe's
// cook completes, per the "variable snapshot materialisation" feature.
func (v *Variables) Snapshot() map[string]any {
	var chain []*Variables
	for cur := v; cur != nil; cur = cur.delegate {
		chain = append(chain, cur)
	}

	merged := make(map[string]any)
	for i := len(chain) - 1; i >= 0; i-- {
		cur := chain[i]
		cur.mu.Lock()
		mergeRightIntoLeft(merged, deepCopyValue(cur.vars).(map[string]any))
		cur.mu.Unlock()
	}

	return deepCopyValue(merged).(map[string]any)
}
