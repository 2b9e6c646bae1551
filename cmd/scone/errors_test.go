package main

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sconehq/scone/internal/kitchen"
	"github.com/sconehq/scone/internal/recipe"
)

func TestColorizeWrapsOnlyWhenEnabled(t *testing.T) {
	assert.Equal(t, "hi", Colorize("hi", colorRed, false))
	assert.Equal(t, colorRed+"hi"+colorReset, Colorize("hi", colorRed, true))
}

func TestFormatErrorGenericOneLiner(t *testing.T) {
	var buf bytes.Buffer
	FormatError(&buf, errors.New("boom"), false)
	assert.Equal(t, "Error: boom\n", buf.String())
}

func TestFormatErrorListsEachRunErrorFailure(t *testing.T) {
	ctx := recipe.Context{Sous: "web1", Human: "noop/anchor"}
	noopRecipe, err := recipe.New("noop", ctx, nil)
	if err != nil {
		t.Fatalf("constructing noop recipe: %v", err)
	}

	runErr := &kitchen.RunError{
		Failures: []kitchen.Failure{
			{Recipe: noopRecipe, Err: errors.New("connection refused")},
		},
	}

	var buf bytes.Buffer
	FormatError(&buf, runErr, false)
	out := buf.String()
	assert.Contains(t, out, "1 recipe(s) failed")
	assert.Contains(t, out, "[web1] noop/anchor: connection refused")
}
