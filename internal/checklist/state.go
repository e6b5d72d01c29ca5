package checklist

import (
	"sort"

	"ckdt/internal/domain"
)

// State is the set of checked item ids for one viewing session. It is kept
// apart from catalog values and merged in only when a view is rendered.
type State map[string]struct{}

// StateOf extracts the checked items of a service.
func StateOf(svc domain.Service) State {
	st := State{}
	for _, s := range svc.Sections {
		for _, it := range s.Items {
			if it.IsCompleted {
				st[it.ID] = struct{}{}
			}
		}
	}
	return st
}

// Apply returns a copy of svc whose completion flags mirror the state.
// Ids in the state that no longer exist in svc are ignored.
func (st State) Apply(svc domain.Service) domain.Service {
	out := cloneService(svc)
	for i := range out.Sections {
		for j := range out.Sections[i].Items {
			_, ok := st[out.Sections[i].Items[j].ID]
			out.Sections[i].Items[j].IsCompleted = ok
		}
	}
	return out
}

// Has reports whether the item is checked.
func (st State) Has(itemID string) bool {
	_, ok := st[itemID]
	return ok
}

// IDs returns the checked ids sorted.
func (st State) IDs() []string {
	ids := make([]string, 0, len(st))
	for id := range st {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
