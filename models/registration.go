package models

import "time"

// RegistrationStatus соответствует ENUM в БД.
type RegistrationStatus string

const (
	RegistrationPending   RegistrationStatus = "pending"
	RegistrationConfirmed RegistrationStatus = "confirmed"
	RegistrationCancelled RegistrationStatus = "cancelled"
	RegistrationRejected  RegistrationStatus = "rejected"
	RegistrationAttended  RegistrationStatus = "attended"
)

type PaymentStatus string

const (
	PaymentNotRequired PaymentStatus = "not_required"
	PaymentPending     PaymentStatus = "pending"
	PaymentApproved    PaymentStatus = "approved"
	PaymentRejected    PaymentStatus = "rejected"
)

// registrationTransitions is the single source of truth for the lifecycle.
// Per-operation checks only consult this table.
var registrationTransitions = map[RegistrationStatus][]RegistrationStatus{
	RegistrationPending:   {RegistrationConfirmed, RegistrationRejected},
	RegistrationConfirmed: {RegistrationAttended, RegistrationCancelled},
	RegistrationCancelled: {},
	RegistrationRejected:  {},
	RegistrationAttended:  {},
}

var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentNotRequired: {},
	PaymentPending:     {PaymentApproved, PaymentRejected},
	PaymentApproved:    {},
	PaymentRejected:    {},
}

// CanTransitionTo reports whether the lifecycle allows status -> next.
func (s RegistrationStatus) CanTransitionTo(next RegistrationStatus) bool {
	for _, allowed := range registrationTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether the registration reached an end state.
// A terminal record is superseded by a fresh one on re-registration,
// never reused.
func (s RegistrationStatus) Terminal() bool {
	return len(registrationTransitions[s]) == 0
}

func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	for _, allowed := range paymentTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

type Registration struct {
	ID            int                `json:"id" db:"id"`
	TicketID      string             `json:"ticket_id" db:"ticket_id"`
	EventID       int                `json:"event_id" db:"event_id"`
	ParticipantID int                `json:"participant_id" db:"participant_id"`
	Type          EventType          `json:"type" db:"type"`
	Status        RegistrationStatus `json:"status" db:"status"`
	PaymentStatus PaymentStatus      `json:"payment_status" db:"payment_status"`

	// Merchandise-only fields.
	VariantID      *int    `json:"variant_id,omitempty" db:"variant_id"`
	Quantity       int     `json:"quantity,omitempty" db:"quantity"`
	VariantDetails *string `json:"variant_details,omitempty" db:"variant_details"`
	TotalAmount    int     `json:"total_amount" db:"total_amount"`

	TeamID *int `json:"team_id,omitempty" db:"team_id"`

	Attended   bool       `json:"attended" db:"attended"`
	AttendedAt *time.Time `json:"attended_at,omitempty" db:"attended_at"`

	QRCodeData *string `json:"qr_code_data,omitempty" db:"qr_code_data"`

	PaymentProofKey *string `json:"payment_proof_key,omitempty" db:"payment_proof_key"`

	// Audit trail for manual attendance overrides.
	OverrideReason *string    `json:"override_reason,omitempty" db:"override_reason"`
	OverrideByID   *int       `json:"override_by_id,omitempty" db:"override_by_id"`
	OverrideAt     *time.Time `json:"override_at,omitempty" db:"override_at"`

	FormResponses map[string]string `json:"form_responses,omitempty" db:"-"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`

	Event       *Event `json:"event,omitempty" db:"-"`
	Participant *User  `json:"participant,omitempty" db:"-"`
}

// QRPayload is the scannable ticket payload. It is a lookup key, not a
// trust token: a scan re-fetches the canonical registration by ticket id.
type QRPayload struct {
	TicketID        string    `json:"ticket_id"`
	EventID         int       `json:"event_id"`
	EventName       string    `json:"event_name"`
	ParticipantID   int       `json:"participant_id"`
	ParticipantName string    `json:"participant_name"`
	Type            EventType `json:"type"`
	IssuedAt        time.Time `json:"issued_at"`
}
