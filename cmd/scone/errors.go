package main

import (
	"fmt"
	"io"

	"github.com/sconehq/scone/internal/kitchen"
)

// FormatError formats an error for CLI output with colors, giving
// *kitchen.RunError its own per-failure listing instead of the generic
// one-liner every other error gets.
func FormatError(w io.Writer, err error, useColor bool) {
	if err == nil {
		return
	}

	if runErr, ok := err.(*kitchen.RunError); ok {
		formatRunError(w, runErr, useColor)
		return
	}

	_, _ = fmt.Fprintf(w, "%s %s\n", Colorize("Error:", colorRed, useColor), err.Error())
}

func formatRunError(w io.Writer, err *kitchen.RunError, useColor bool) {
	_, _ = fmt.Fprintf(w, "%s %d recipe(s) failed:\n", Colorize("Error:", colorRed, useColor), len(err.Failures))
	for _, f := range err.Failures {
		ctx := f.Recipe.Context()
		_, _ = fmt.Fprintf(w, "  %s [%s] %s: %v\n", Colorize("-", colorYellow, useColor), ctx.Sous, ctx.Human, f.Err)
	}
}
