package checklist

import (
	"fmt"

	"github.com/google/uuid"

	"ckdt/internal/domain"
)

// AlternativeGroupOf returns the legacy group marker of an item.
func AlternativeGroupOf(it domain.Item) (string, bool) {
	return it.AlternativeOf, it.AlternativeOf != ""
}

// IsGroupSatisfied reports whether any member of the group is checked.
func IsGroupSatisfied(items []domain.Item, groupID string) bool {
	for _, it := range items {
		if it.AlternativeOf == groupID && it.IsCompleted {
			return true
		}
	}
	return false
}

// HasLegacyGroups reports whether any item still carries a group marker.
func HasLegacyGroups(svc domain.Service) bool {
	for _, s := range svc.Sections {
		for _, it := range s.Items {
			if _, ok := AlternativeGroupOf(it); ok {
				return true
			}
		}
	}
	return false
}

// NormalizeLegacyGroups rewrites item-level alternative groups into
// whole-section alternatives, the only shape the evaluator understands.
//
// Ungrouped items stay in their section. Each group becomes an alternative
// section placed right after its origin and titled after the group's first
// member. When a section holds nothing but a single group, the section itself
// turns alternative and keeps its id. Positions are renumbered afterwards.
func NormalizeLegacyGroups(svc domain.Service) domain.Service {
	if !HasLegacyGroups(svc) {
		return svc
	}
	out := svc
	out.Sections = nil
	for _, s := range svc.Sections {
		var plain []domain.Item
		var order []string
		groups := map[string][]domain.Item{}
		for _, it := range s.Items {
			gid, ok := AlternativeGroupOf(it)
			if !ok {
				plain = append(plain, it)
				continue
			}
			if _, seen := groups[gid]; !seen {
				order = append(order, gid)
			}
			it.AlternativeOf = ""
			groups[gid] = append(groups[gid], it)
		}
		if len(order) == 0 {
			out.Sections = append(out.Sections, cloneSection(s))
			continue
		}
		if len(plain) == 0 && len(order) == 1 {
			origin := s
			origin.Items = groups[order[0]]
			origin.IsAlternative = true
			out.Sections = append(out.Sections, origin)
			continue
		}
		if len(plain) > 0 {
			origin := s
			origin.Items = plain
			out.Sections = append(out.Sections, origin)
		}
		for _, gid := range order {
			members := groups[gid]
			id := uuid.NewSHA1(uuid.NameSpaceOID, []byte(s.ID+"|"+gid)).String()
			for i := range members {
				members[i].SectionID = id
			}
			out.Sections = append(out.Sections, domain.Section{
				ID:            id,
				ServiceID:     s.ServiceID,
				Title:         fmt.Sprintf("%s: %s", s.Title, members[0].Text),
				Items:         members,
				IsOptional:    s.IsOptional,
				IsAlternative: true,
			})
		}
	}
	renumber(out.Sections)
	return out
}

func renumber(sections []domain.Section) {
	for i := range sections {
		sections[i].Position = i
		for j := range sections[i].Items {
			sections[i].Items[j].Position = j
		}
	}
}
