package domain

// Category is the closed set of service categories shown in the catalog.
type Category string

const (
	CategoryVehicle     Category = "Veículo"
	CategoryLicense     Category = "Habilitação"
	CategoryInfractions Category = "Infrações"
	CategoryOther       Category = "Outros"
)

// Categories lists the categories in display order.
var Categories = []Category{CategoryVehicle, CategoryLicense, CategoryInfractions, CategoryOther}

func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// Tag marks the form in which a document must be presented.
type Tag string

const (
	TagOriginal          Tag = "Original"
	TagPhysical          Tag = "Físico"
	TagDigital           Tag = "Digital"
	TagDigitalOrPhysical Tag = "Digital ou Físico"
	TagOriginalAndCopy   Tag = "Original e Cópia"
)

// Tags is the closed tag vocabulary.
var Tags = []Tag{TagOriginal, TagPhysical, TagDigital, TagDigitalOrPhysical, TagOriginalAndCopy}

func (t Tag) Valid() bool {
	for _, known := range Tags {
		if t == known {
			return true
		}
	}
	return false
}

type Service struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Category    Category  `json:"category" enum:"Veículo,Habilitação,Infrações,Outros"`
	Description string    `json:"description"`
	Sections    []Section `json:"sections"`
	CreatedAt   string    `json:"created_at,omitempty" format:"date-time"`
	UpdatedAt   string    `json:"updated_at,omitempty" format:"date-time"`
}

type Section struct {
	ID            string `json:"id"`
	ServiceID     string `json:"service_id,omitempty"`
	Title         string `json:"title"`
	Items         []Item `json:"items"`
	IsOptional    bool   `json:"is_optional"`
	IsAlternative bool   `json:"is_alternative"`
	Position      int    `json:"position"`
}

// Item is a single document line. IsCompleted is view-session state and is
// never written to the catalog store.
type Item struct {
	ID          string `json:"id"`
	SectionID   string `json:"section_id,omitempty"`
	Text        string `json:"text"`
	Observation string `json:"observation,omitempty"`
	Tags        []Tag  `json:"tags,omitempty"`
	IsOptional  bool   `json:"is_optional"`
	Position    int    `json:"position"`
	IsCompleted bool   `json:"is_completed"`

	// AlternativeOf is the legacy item-level alternative group marker. It is
	// only honoured on import and removed by checklist.NormalizeLegacyGroups.
	AlternativeOf string `json:"alternative_of,omitempty"`
}

type User struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	Name         string `json:"name,omitempty"`
	PasswordHash string `json:"-"`
	IsAdmin      bool   `json:"is_admin"`
	CreatedAt    string `json:"created_at" format:"date-time"`
}

type APIKey struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"-"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
