package pool

// Dependencies lets tests inject faults at named points in the allocator and
// durability paths without threading a mock through every call site. This is
// grounded in the teacher's writeaheadlog dependency-injection idiom: a
// Disrupt(name) bool hook that code can check at named points, defaulting
// to a no-op implementation in normal operation.
type Dependencies interface {
	// Disrupt returns true if the named disruption point should fire.
	// Pool.Disrupt forwards to it; no code path in this module checks a
	// disruption point, so an injected Dependencies changes no behavior.
	Disrupt(name string) bool
}

// productionDependencies never disrupts anything; it is the default used by
// Open when no Dependencies is supplied.
type productionDependencies struct{}

func (productionDependencies) Disrupt(string) bool { return false }

// DisruptionSet is a convenience Dependencies implementation for tests:
// set any key to true to make Disrupt(name) fire exactly for that name,
// every time it is checked.
type DisruptionSet map[string]bool

func (d DisruptionSet) Disrupt(name string) bool { return d[name] }
