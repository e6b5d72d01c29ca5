package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"ckdt/internal/checklist"
	"ckdt/internal/domain"
)

// ServiceInput is the administrator form for creating or editing a service.
type ServiceInput struct {
	Title       string          `json:"title" yaml:"title" validate:"required,min=3" minLength:"3"`
	Category    domain.Category `json:"category" yaml:"category" validate:"required,category" enum:"Veículo,Habilitação,Infrações,Outros"`
	Description string          `json:"description" yaml:"description" validate:"min=10" minLength:"10"`
	Sections    []SectionInput  `json:"sections" yaml:"sections" validate:"required,min=1,dive" minItems:"1"`
}

type SectionInput struct {
	// ID keeps identity across edits; ignored on create.
	ID            string      `json:"id,omitempty" yaml:"id,omitempty"`
	Title         string      `json:"title" yaml:"title" validate:"required" minLength:"1"`
	IsOptional    bool        `json:"is_optional,omitempty" yaml:"is_optional,omitempty"`
	IsAlternative bool        `json:"is_alternative,omitempty" yaml:"is_alternative,omitempty"`
	Items         []ItemInput `json:"items" yaml:"items" validate:"dive"`
}

type ItemInput struct {
	ID            string       `json:"id,omitempty" yaml:"id,omitempty"`
	Text          string       `json:"text" yaml:"text" validate:"required" minLength:"1"`
	Observation   string       `json:"observation,omitempty" yaml:"observation,omitempty"`
	Tags          []domain.Tag `json:"tags,omitempty" yaml:"tags,omitempty" validate:"dive,doctag"`
	IsOptional    bool         `json:"is_optional,omitempty" yaml:"is_optional,omitempty"`
	AlternativeOf string       `json:"alternative_of,omitempty" yaml:"alternative_of,omitempty"`
}

// UserInput creates an account.
type UserInput struct {
	Name     string `json:"name" validate:"required,min=3,max=100" minLength:"3" maxLength:"100"`
	Email    string `json:"email" validate:"required,email" format:"email"`
	Password string `json:"password" validate:"required"`
	IsAdmin  bool   `json:"is_admin,omitempty"`
}

// ErrInvalid marks input the caller has to fix.
var ErrInvalid = errors.New("invalid input")

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("category", func(fl validator.FieldLevel) bool {
		return domain.Category(fl.Field().String()).Valid()
	})
	_ = v.RegisterValidation("doctag", func(fl validator.FieldLevel) bool {
		return domain.Tag(fl.Field().String()).Valid()
	})
	return v
}

// validationError flattens validator output into one ErrInvalid error.
func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), strings.SplitN(fe.Namespace(), ".", 2)[0]+".")
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, field+" is required")
		case "min":
			msgs = append(msgs, fmt.Sprintf("%s must have at least %s characters/entries", field, fe.Param()))
		case "max":
			msgs = append(msgs, fmt.Sprintf("%s must have at most %s characters", field, fe.Param()))
		case "category":
			msgs = append(msgs, fmt.Sprintf("%s: unknown category %q", field, fe.Value()))
		case "doctag":
			msgs = append(msgs, fmt.Sprintf("%s: unknown tag %q", field, fe.Value()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s", field, fe.Tag()))
		}
	}
	return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(msgs, "; "))
}

func (in *ServiceInput) trim() {
	in.Title = strings.TrimSpace(in.Title)
	in.Description = strings.TrimSpace(in.Description)
	for i := range in.Sections {
		s := &in.Sections[i]
		s.Title = strings.TrimSpace(s.Title)
		for j := range s.Items {
			it := &s.Items[j]
			it.Text = strings.TrimSpace(it.Text)
			it.Observation = strings.TrimSpace(it.Observation)
			it.AlternativeOf = strings.TrimSpace(it.AlternativeOf)
		}
	}
}

// ServiceInputOf turns a stored service back into a form, ids included.
func ServiceInputOf(svc domain.Service) ServiceInput {
	in := ServiceInput{Title: svc.Title, Category: svc.Category, Description: svc.Description}
	for _, s := range svc.Sections {
		sec := SectionInput{ID: s.ID, Title: s.Title, IsOptional: s.IsOptional, IsAlternative: s.IsAlternative}
		for _, it := range s.Items {
			sec.Items = append(sec.Items, ItemInput{
				ID:          it.ID,
				Text:        it.Text,
				Observation: it.Observation,
				Tags:        it.Tags,
				IsOptional:  it.IsOptional,
			})
		}
		in.Sections = append(in.Sections, sec)
	}
	return in
}

// buildService materializes a form into a catalog value. Ids come from
// existing when the form matches it structurally and from newID otherwise:
// a section matches by explicit id, else by title; an item matches by
// explicit id within the matched section, else by index.
func buildService(id string, in ServiceInput, existing *domain.Service, newID func() string) domain.Service {
	svc := domain.Service{
		ID:          id,
		Title:       in.Title,
		Category:    in.Category,
		Description: in.Description,
		Sections:    make([]domain.Section, 0, len(in.Sections)),
	}
	var old []domain.Section
	if existing != nil {
		old = existing.Sections
	}
	claimedSections := map[string]bool{}
	for si, sin := range in.Sections {
		match := matchSection(old, sin, claimedSections)
		sec := domain.Section{
			ID:            newID(),
			ServiceID:     id,
			Title:         sin.Title,
			IsOptional:    sin.IsOptional,
			IsAlternative: sin.IsAlternative,
			Position:      si,
			Items:         make([]domain.Item, 0, len(sin.Items)),
		}
		if match != nil {
			sec.ID = match.ID
			claimedSections[match.ID] = true
		}
		claimedItems := map[string]bool{}
		for _, iin := range sin.Items {
			if match == nil || iin.ID == "" {
				continue
			}
			for _, it := range match.Items {
				if it.ID == iin.ID {
					claimedItems[it.ID] = true
				}
			}
		}
		for ii, iin := range sin.Items {
			it := domain.Item{
				ID:            newID(),
				SectionID:     sec.ID,
				Text:          iin.Text,
				Observation:   iin.Observation,
				Tags:          dedupeTags(iin.Tags),
				IsOptional:    iin.IsOptional,
				Position:      ii,
				AlternativeOf: iin.AlternativeOf,
			}
			if match != nil {
				if iin.ID != "" && claimedItems[iin.ID] {
					it.ID = iin.ID
				} else if iin.ID == "" && ii < len(match.Items) && !claimedItems[match.Items[ii].ID] {
					it.ID = match.Items[ii].ID
					claimedItems[it.ID] = true
				}
			}
			sec.Items = append(sec.Items, it)
		}
		svc.Sections = append(svc.Sections, sec)
	}
	return checklist.NormalizeLegacyGroups(svc)
}

func matchSection(old []domain.Section, in SectionInput, claimed map[string]bool) *domain.Section {
	if in.ID != "" {
		for i := range old {
			if old[i].ID == in.ID && !claimed[old[i].ID] {
				return &old[i]
			}
		}
		return nil
	}
	for i := range old {
		if old[i].Title == in.Title && !claimed[old[i].ID] {
			return &old[i]
		}
	}
	return nil
}

func dedupeTags(tags []domain.Tag) []domain.Tag {
	if len(tags) == 0 {
		return nil
	}
	seen := map[domain.Tag]bool{}
	out := make([]domain.Tag, 0, len(tags))
	for _, t := range tags {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}
