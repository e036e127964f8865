package models

import "time"

type EventType string

const (
	EventTypeNormal      EventType = "normal"
	EventTypeMerchandise EventType = "merchandise"
)

// EventStatus соответствует ENUM в БД.
type EventStatus string

const (
	EventStatusDraft     EventStatus = "draft"
	EventStatusPublished EventStatus = "published"
	EventStatusOngoing   EventStatus = "ongoing"
	EventStatusCompleted EventStatus = "completed"
	EventStatusCancelled EventStatus = "cancelled"
)

// FormField describes one question of an event's custom registration form.
// The set of fields is locked after the first registration comes in.
type FormField struct {
	Name     string   `json:"name"`
	Label    string   `json:"label"`
	Type     string   `json:"type"` // "text", "number", "select"
	Required bool     `json:"required"`
	Options  []string `json:"options,omitempty"`
}

// Variant is one sellable stock line of a merchandise event.
// stock + sold + outstanding holds always equals initial_capacity.
type Variant struct {
	ID              int       `json:"id" db:"id"`
	EventID         int       `json:"event_id" db:"event_id"`
	Name            string    `json:"name" db:"name"`
	Price           int       `json:"price" db:"price"` // minor currency units
	Stock           int       `json:"stock" db:"stock"`
	Sold            int       `json:"sold" db:"sold"`
	InitialCapacity int       `json:"initial_capacity" db:"initial_capacity"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
}

type Event struct {
	ID                      int         `json:"id" db:"id"`
	Name                    string      `json:"name" db:"name"`
	Description             *string     `json:"description,omitempty" db:"description"`
	Type                    EventType   `json:"type" db:"type"`
	Status                  EventStatus `json:"status" db:"status"`
	OrganizerID             int         `json:"organizer_id" db:"organizer_id"`
	Eligibility             Audience    `json:"eligibility" db:"eligibility"`
	Fee                     int         `json:"fee" db:"fee"` // 0 means free
	RegistrationLimit       int         `json:"registration_limit" db:"registration_limit"`
	RegistrationCount       int         `json:"registration_count" db:"registration_count"`
	RegistrationDeadline    time.Time   `json:"registration_deadline" db:"registration_deadline"`
	StartDate               time.Time   `json:"start_date" db:"start_date"`
	EndDate                 time.Time   `json:"end_date" db:"end_date"`
	Location                *string     `json:"location,omitempty" db:"location"`
	RequiresPaymentApproval bool        `json:"requires_payment_approval" db:"requires_payment_approval"`
	PurchaseLimit           int         `json:"purchase_limit" db:"purchase_limit"`
	IsTeamEvent             bool        `json:"is_team_event" db:"is_team_event"`
	MinTeamSize             int         `json:"min_team_size" db:"min_team_size"`
	MaxTeamSize             int         `json:"max_team_size" db:"max_team_size"`
	FormFields              []FormField `json:"form_fields,omitempty" db:"-"`
	FormLocked              bool        `json:"form_locked" db:"form_locked"`
	CreatedAt               time.Time   `json:"created_at" db:"created_at"`

	// Опциональные связанные сущности (не мапятся напрямую)
	Organizer *User     `json:"organizer,omitempty" db:"-"`
	Variants  []Variant `json:"variants,omitempty" db:"-"`
}

// RegistrationOpen reports whether the event accepts registrations at now.
func (e *Event) RegistrationOpen(now time.Time) bool {
	return e.Status == EventStatusPublished && now.Before(e.RegistrationDeadline)
}

// Started reports whether the event start date has passed.
func (e *Event) Started(now time.Time) bool {
	return !now.Before(e.StartDate)
}

// VariantByID returns the loaded variant with the given id, if present.
func (e *Event) VariantByID(variantID int) *Variant {
	for i := range e.Variants {
		if e.Variants[i].ID == variantID {
			return &e.Variants[i]
		}
	}
	return nil
}
