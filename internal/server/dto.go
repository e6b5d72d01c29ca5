package server

import (
	"ckdt/internal/checklist"
	"ckdt/internal/domain"
)

// Request payloads

type LoginRequest struct {
	Email    string `json:"email" format:"email"`
	Password string `json:"password"`
}

type ChangePasswordRequest struct {
	Current string `json:"current_password"`
	New     string `json:"new_password"`
}

type CreateAPIKeyRequest struct {
	Name string `json:"name,omitempty"`
}

type ToggleRequest struct {
	SectionID string `json:"section_id"`
	ItemID    string `json:"item_id"`
}

type ReorderRequest struct {
	IDs []string `json:"ids" minItems:"1"`
}

// EvaluateRequest is a checklist posted for stateless evaluation. Only the
// structural flags matter; titles and texts are optional.
type EvaluateRequest struct {
	Sections []EvaluateSection `json:"sections"`
}

type EvaluateSection struct {
	ID            string         `json:"id"`
	Title         string         `json:"title,omitempty"`
	IsOptional    bool           `json:"is_optional,omitempty"`
	IsAlternative bool           `json:"is_alternative,omitempty"`
	Items         []EvaluateItem `json:"items"`
}

type EvaluateItem struct {
	ID            string `json:"id"`
	Text          string `json:"text,omitempty"`
	IsOptional    bool   `json:"is_optional,omitempty"`
	IsCompleted   bool   `json:"is_completed,omitempty"`
	AlternativeOf string `json:"alternative_of,omitempty"`
}

// Response payloads

type ServiceSummaryResponse struct {
	ID          string          `json:"id"`
	Title       string          `json:"title"`
	Category    domain.Category `json:"category"`
	Description string          `json:"description"`
	UpdatedAt   string          `json:"updated_at,omitempty"`
}

type LoginResponse struct {
	Token     string       `json:"token"`
	ExpiresAt string       `json:"expires_at" format:"date-time"`
	User      UserResponse `json:"user"`
}

type UserResponse struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Name      string `json:"name,omitempty"`
	IsAdmin   bool   `json:"is_admin"`
	CreatedAt string `json:"created_at,omitempty"`
}

type WhoAmIResponse struct {
	UserResponse
	Source string `json:"source" enum:"jwt,api_key"`
}

type APIKeyResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	CreatedAt string `json:"created_at"`
}

type CreatedAPIKeyResponse struct {
	APIKeyResponse
	// Key is shown once.
	Key string `json:"key"`
}

type EvaluateResponse struct {
	Summary checklist.Summary `json:"summary"`
	// Normalized is set when legacy alternative groups were rewritten.
	Normalized bool `json:"normalized"`
}

type EventResponse struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    any    `json:"payload,omitempty"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

func serviceSummary(s domain.Service) ServiceSummaryResponse {
	return ServiceSummaryResponse{
		ID:          s.ID,
		Title:       s.Title,
		Category:    s.Category,
		Description: s.Description,
		UpdatedAt:   s.UpdatedAt,
	}
}

func userResponse(u domain.User) UserResponse {
	return UserResponse{ID: u.ID, Email: u.Email, Name: u.Name, IsAdmin: u.IsAdmin, CreatedAt: u.CreatedAt}
}

func apiKeyResponse(k domain.APIKey) APIKeyResponse {
	return APIKeyResponse{ID: k.ID, Name: k.Name, CreatedAt: k.CreatedAt}
}

func (r EvaluateRequest) service() domain.Service {
	svc := domain.Service{ID: "evaluation", Sections: make([]domain.Section, 0, len(r.Sections))}
	for i, s := range r.Sections {
		sec := domain.Section{
			ID:            s.ID,
			Title:         s.Title,
			IsOptional:    s.IsOptional,
			IsAlternative: s.IsAlternative,
			Position:      i,
			Items:         make([]domain.Item, 0, len(s.Items)),
		}
		for j, it := range s.Items {
			sec.Items = append(sec.Items, domain.Item{
				ID:            it.ID,
				SectionID:     s.ID,
				Text:          it.Text,
				IsOptional:    it.IsOptional,
				IsCompleted:   it.IsCompleted,
				Position:      j,
				AlternativeOf: it.AlternativeOf,
			})
		}
		svc.Sections = append(svc.Sections, sec)
	}
	return svc
}
