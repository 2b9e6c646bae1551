package recipe

// Context is the fixed identity a recipe runs with: which sous it targets,
// which remote user it runs as, and how it's described for logs and error
// messages. It never changes across prepare/cook.
type Context struct {
	// Sous is the name of the host (as configured in the head's souss
	// table) this recipe operates on.
	Sous string
	// User is the remote identity commands run as on Sous.
	User string
	// Slug, if set, is the short menu-relative identifier this recipe was
	// declared under (e.g. a loop index or map key).
	Slug string
	// HierarchicalSource records where in the menu tree this recipe came
	// from, for diagnostics.
	HierarchicalSource string
	// Human is a human-readable description used in logs and errors.
	Human string
}
