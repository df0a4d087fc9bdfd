package reconcile

// Plan is the membership change computed for one group.
type Plan struct {
	GroupName string
	Kind      Kind
	Want      Set
	Have      Set
	ToAdd     Set
	ToRemove  Set

	// DeleteSuppressed is set when Want is empty; ToRemove is then empty.
	DeleteSuppressed bool
}

// Diff computes the additions and removals that turn have into want.
func Diff(want, have Set) (toAdd, toRemove Set, suppressed bool) {
	toAdd = want.Difference(have)
	if want.Len() == 0 {
		return toAdd, make(Set), true
	}
	return toAdd, have.Difference(want), false
}

// NewPlan builds the plan for one group.
func NewPlan(target Target, want, have Set) Plan {
	toAdd, toRemove, suppressed := Diff(want, have)
	return Plan{
		GroupName:        target.Name,
		Kind:             target.Kind,
		Want:             want,
		Have:             have,
		ToAdd:            toAdd,
		ToRemove:         toRemove,
		DeleteSuppressed: suppressed,
	}
}

// Kept is the number of current members that stay.
func (p Plan) Kept() int {
	return p.Have.Len() - p.ToRemove.Len()
}
