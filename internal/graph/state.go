package graph

// RecipeState is a recipe vertex's position in the cook lifecycle.
type RecipeState int

const (
	// StateLoaded means the recipe was just added to the dag and has not
	// yet been prepared.
	StateLoaded RecipeState = iota
	// StatePrepared means preparation has run and dependencies are known.
	StatePrepared
	// StatePending means the recipe needs cooking but is blocked.
	StatePending
	// StateCookable means the recipe is unblocked and ready to cook.
	StateCookable
	// StateBeingCooked means a worker is currently executing this recipe.
	StateBeingCooked
	// StateCooked means the recipe finished successfully.
	StateCooked
	// StateSkipped means the recipe didn't need to run this time.
	StateSkipped
	// StateFailed means the recipe's cook hook returned an error.
	StateFailed
)

func (s RecipeState) String() string {
	switch s {
	case StateLoaded:
		return "loaded"
	case StatePrepared:
		return "prepared"
	case StatePending:
		return "pending"
	case StateCookable:
		return "cookable"
	case StateBeingCooked:
		return "being_cooked"
	case StateCooked:
		return "cooked"
	case StateSkipped:
		return "skipped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// IsCompleted reports whether a recipe in this state has finished running,
// successfully or otherwise skipped, and will not run again this cook.
func (s RecipeState) IsCompleted() bool {
	return s == StateCooked || s == StateSkipped
}

// RecipeMeta is the scheduling state tracked for each recipe vertex.
type RecipeMeta struct {
	State                RecipeState
	IncomingUncompleted   int
}

// ResourceMeta is the scheduling state tracked for each resource vertex.
type ResourceMeta struct {
	// Completed becomes true once every provider of this resource has
	// completed, or immediately if it has no incoming edges at all.
	Completed bool
	// IncomingUncompleted counts providers that haven't completed yet.
	IncomingUncompleted int
	// HardNeed is true if some recipe needs (not just wants) this
	// resource: with no provider, the whole cook cannot proceed.
	HardNeed bool
}
