// Package checklist evaluates completion and progress of a service checklist.
//
// Every function here is pure: it reads the Service value it is given and,
// for mutations, returns a new value. Nothing is cached and nothing touches
// storage, so callers simply recompute after each change.
package checklist

import "ckdt/internal/domain"

// Progress is the section-granularity progress of a service.
type Progress struct {
	CompletedCount int     `json:"completed_count"`
	TotalCount     int     `json:"total_count"`
	Percentage     float64 `json:"percentage"`
}

// ItemStats counts items regardless of optional flags. Display only.
type ItemStats struct {
	Completed int `json:"completed"`
	Total     int `json:"total"`
}

// RequiredItems returns the non-optional items of a section in order.
func RequiredItems(s domain.Section) []domain.Item {
	var required []domain.Item
	for _, it := range s.Items {
		if !it.IsOptional {
			required = append(required, it)
		}
	}
	return required
}

// IsSectionComplete reports whether a section is satisfied.
//
// An alternative section needs any one item checked, optional ones included.
// A regular section needs at least one required item and all of them checked;
// a section with nothing required is never complete.
func IsSectionComplete(s domain.Section) bool {
	if s.IsAlternative {
		for _, it := range s.Items {
			if it.IsCompleted {
				return true
			}
		}
		return false
	}
	required := RequiredItems(s)
	if len(required) == 0 {
		return false
	}
	for _, it := range required {
		if !it.IsCompleted {
			return false
		}
	}
	return true
}

// SectionProgress returns the share of required items checked, in [0,100].
// A section without required items reports 100 even though
// IsSectionComplete is false for it.
func SectionProgress(s domain.Section) float64 {
	required := RequiredItems(s)
	if len(required) == 0 {
		return 100
	}
	done := 0
	for _, it := range required {
		if it.IsCompleted {
			done++
		}
	}
	return 100 * float64(done) / float64(len(required))
}

func requiredSections(svc domain.Service) []domain.Section {
	var out []domain.Section
	for _, s := range svc.Sections {
		if !s.IsOptional {
			out = append(out, s)
		}
	}
	return out
}

// IsServiceComplete is true when there is at least one required section and
// every required section is complete.
func IsServiceComplete(svc domain.Service) bool {
	sections := requiredSections(svc)
	if len(sections) == 0 {
		return false
	}
	for _, s := range sections {
		if !IsSectionComplete(s) {
			return false
		}
	}
	return true
}

// ServiceProgress counts complete required sections.
func ServiceProgress(svc domain.Service) Progress {
	sections := requiredSections(svc)
	p := Progress{TotalCount: len(sections)}
	for _, s := range sections {
		if IsSectionComplete(s) {
			p.CompletedCount++
		}
	}
	if p.TotalCount > 0 {
		p.Percentage = 100 * float64(p.CompletedCount) / float64(p.TotalCount)
	}
	return p
}

// CountItems returns checked and total items across all sections.
func CountItems(svc domain.Service) ItemStats {
	var st ItemStats
	for _, s := range svc.Sections {
		for _, it := range s.Items {
			st.Total++
			if it.IsCompleted {
				st.Completed++
			}
		}
	}
	return st
}

// ToggleItem returns a copy of svc with one item flipped. Unknown ids leave
// the service unchanged. Sections other than the touched one are shared with
// the input.
func ToggleItem(svc domain.Service, sectionID, itemID string) domain.Service {
	si, ii := -1, -1
	for i, s := range svc.Sections {
		if s.ID != sectionID {
			continue
		}
		for j, it := range s.Items {
			if it.ID == itemID {
				si, ii = i, j
				break
			}
		}
		break
	}
	if si < 0 || ii < 0 {
		return svc
	}
	out := svc
	out.Sections = make([]domain.Section, len(svc.Sections))
	copy(out.Sections, svc.Sections)

	section := out.Sections[si]
	section.Items = make([]domain.Item, len(svc.Sections[si].Items))
	copy(section.Items, svc.Sections[si].Items)
	section.Items[ii].IsCompleted = !section.Items[ii].IsCompleted
	out.Sections[si] = section
	return out
}

// ResetAllItems returns a copy of svc with every item unchecked.
func ResetAllItems(svc domain.Service) domain.Service {
	out := cloneService(svc)
	for i := range out.Sections {
		for j := range out.Sections[i].Items {
			out.Sections[i].Items[j].IsCompleted = false
		}
	}
	return out
}

// SectionSummary is the evaluated state of one section.
type SectionSummary struct {
	ID         string  `json:"id"`
	Complete   bool    `json:"complete"`
	Percentage float64 `json:"percentage"`
}

// Summary bundles every derived fact about a service's checklist.
type Summary struct {
	Complete bool             `json:"complete"`
	Progress Progress         `json:"progress"`
	Items    ItemStats        `json:"items"`
	Sections []SectionSummary `json:"sections"`
}

func Summarize(svc domain.Service) Summary {
	sum := Summary{
		Complete: IsServiceComplete(svc),
		Progress: ServiceProgress(svc),
		Items:    CountItems(svc),
		Sections: make([]SectionSummary, 0, len(svc.Sections)),
	}
	for _, s := range svc.Sections {
		sum.Sections = append(sum.Sections, SectionSummary{
			ID:         s.ID,
			Complete:   IsSectionComplete(s),
			Percentage: SectionProgress(s),
		})
	}
	return sum
}

func cloneService(svc domain.Service) domain.Service {
	out := svc
	if svc.Sections == nil {
		return out
	}
	out.Sections = make([]domain.Section, len(svc.Sections))
	for i, s := range svc.Sections {
		out.Sections[i] = cloneSection(s)
	}
	return out
}

func cloneSection(s domain.Section) domain.Section {
	out := s
	if s.Items == nil {
		return out
	}
	out.Items = make([]domain.Item, len(s.Items))
	for j, it := range s.Items {
		if it.Tags != nil {
			it.Tags = append([]domain.Tag(nil), it.Tags...)
		}
		out.Items[j] = it
	}
	return out
}
