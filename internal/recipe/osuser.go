package recipe

import (
	"context"
	"fmt"
)

func init() {
	Register("os-user", newOSUser)
}

// ensureOSUserUtensil is the name of the sous-side utensil this recipe
// invokes to create or update a remote OS user account.
const ensureOSUserUtensil = "osuser.Ensure"

// osUser ensures an OS user account exists on the recipe's sous, and
// provides the "os-user" resource every other recipe implicitly needs
// before it can run as that user.
type osUser struct {
	ctx  Context
	args map[string]any
}

func newOSUser(ctx Context, args map[string]any) (Recipe, error) {
	if _, ok := args["name"].(string); !ok {
		return nil, fmt.Errorf("recipe os-user: missing required string argument %q", "name")
	}
	return &osUser{ctx: ctx, args: args}, nil
}

func (u *osUser) Kind() string              { return "os-user" }
func (u *osUser) Context() Context          { return u.ctx }
func (u *osUser) Arguments() map[string]any { return u.args }

func (u *osUser) name() string { return u.args["name"].(string) }

func (u *osUser) Prepare(p Preparer) {
	DefaultPrepare(u.ctx, p)
	p.Provides("os-user", u.name(), nil)
}

func (u *osUser) Cook(ctx context.Context, oven Oven) error {
	_, err := oven.StartAndConsume(ctx, ensureOSUserUtensil, map[string]any{
		"name": u.name(),
	})
	return err
}
