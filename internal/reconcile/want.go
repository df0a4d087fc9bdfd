package reconcile

import (
	"github.com/isometry/groupsync/internal/classification"
	ldapclient "github.com/isometry/groupsync/internal/ldap"
)

// Kind distinguishes the two membership rules.
type Kind string

const (
	KindBusiness       Kind = "business"
	KindClassification Kind = "classification"
)

// Target is a group the reconciler synchronizes.
type Target struct {
	Name         string
	DN           string
	GIDNumber    int
	HasGIDNumber bool
	Kind         Kind
	Exists       bool // present in the snapshot
}

// WantComputer derives desired membership from an account snapshot. It is
// built once per run so every group sees the same snapshot.
type WantComputer struct {
	byGID            map[int]Set
	byClassification map[string]Set
}

// NewWantComputer indexes accounts by primary gid and by the classification
// their marker resolves to. Every account lands in exactly one
// classification.
func NewWantComputer(registry *classification.Registry, accounts []ldapclient.Account) *WantComputer {
	w := &WantComputer{
		byGID:            make(map[int]Set),
		byClassification: make(map[string]Set),
	}

	for _, account := range accounts {
		if account.UID == "" {
			continue
		}

		if account.HasGIDNumber {
			if w.byGID[account.GIDNumber] == nil {
				w.byGID[account.GIDNumber] = make(Set)
			}
			w.byGID[account.GIDNumber].Add(account.UID)
		}

		name := registry.Resolve(account.EmploymentMarker).Definition.Name
		if w.byClassification[name] == nil {
			w.byClassification[name] = make(Set)
		}
		w.byClassification[name].Add(account.UID)
	}

	return w
}

// Want returns the desired members of target. The result is a fresh set the
// caller may modify.
func (w *WantComputer) Want(target Target) Set {
	var source Set
	switch target.Kind {
	case KindClassification:
		source = w.byClassification[target.Name]
	default:
		source = w.byGID[target.GIDNumber]
	}

	out := make(Set, len(source))
	for uid := range source {
		out.Add(uid)
	}
	return out
}
