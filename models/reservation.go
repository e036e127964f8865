package models

import "time"

// ReservationStatus tracks a provisional inventory hold. Every reservation
// is resolved exactly once: held -> finalized, or held -> released. A
// finalized reservation can still be released later (cancel after approval),
// which reverses the sold counter.
type ReservationStatus string

const (
	ReservationHeld      ReservationStatus = "held"
	ReservationFinalized ReservationStatus = "finalized"
	ReservationReleased  ReservationStatus = "released"
)

type Reservation struct {
	ID int `json:"id" db:"id"`
	// RegistrationID is attached right after the pending registration is
	// created; a reserve that fails to produce a registration is released.
	RegistrationID *int              `json:"registration_id,omitempty" db:"registration_id"`
	EventID        int               `json:"event_id" db:"event_id"`
	VariantID      int               `json:"variant_id" db:"variant_id"`
	Quantity       int               `json:"quantity" db:"quantity"`
	Status         ReservationStatus `json:"status" db:"status"`
	CreatedAt      time.Time         `json:"created_at" db:"created_at"`
	ResolvedAt     *time.Time        `json:"resolved_at,omitempty" db:"resolved_at"`
}
