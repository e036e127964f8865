package models

import (
	"encoding/json"
	"time"
)

type NotificationTemplate string

const (
	TemplatePaymentRequired       NotificationTemplate = "payment_required"
	TemplateRegistrationConfirmed NotificationTemplate = "registration_confirmed"
	TemplatePaymentRejected       NotificationTemplate = "payment_rejected"
	TemplateProofUploaded         NotificationTemplate = "proof_uploaded"
	TemplateTeamCompleted         NotificationTemplate = "team_completed"
	TemplateRegistrationCancelled NotificationTemplate = "registration_cancelled"
)

type NotificationStatus string

const (
	NotificationPending NotificationStatus = "pending"
	NotificationSent    NotificationStatus = "sent"
	NotificationFailed  NotificationStatus = "failed"
)

// Notification is an outbox row. The core enqueues and returns; a
// background dispatcher owns delivery and retries. Delivery failure never
// rolls back the state transition that produced the row.
type Notification struct {
	ID          int                  `json:"id" db:"id"`
	RecipientID int                  `json:"recipient_id" db:"recipient_id"`
	Template    NotificationTemplate `json:"template" db:"template"`
	Payload     json.RawMessage      `json:"payload" db:"payload"`
	Status      NotificationStatus   `json:"status" db:"status"`
	Attempts    int                  `json:"attempts" db:"attempts"`
	LastError   *string              `json:"last_error,omitempty" db:"last_error"`
	CreatedAt   time.Time            `json:"created_at" db:"created_at"`
	SentAt      *time.Time           `json:"sent_at,omitempty" db:"sent_at"`
}
