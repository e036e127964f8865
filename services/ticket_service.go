package services

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"festra/models"
)

const (
	ticketIDPrefix = "FST-"
	ticketIDLength = 10
	// Crockford base32: no I, L, O, U, so scanned ids read back cleanly.
	ticketIDAlphabet = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"
)

var ErrTicketIDGeneration = errors.New("failed to generate ticket id")

// TicketService mints ticket identifiers and builds/validates the QR
// payload a participant presents at the gate.
type TicketService interface {
	IssueTicketID() (string, error)
	BuildQRPayload(reg *models.Registration, event *models.Event, participant *models.User) (string, error)
	ValidateScan(payload string, expectedEventID int) (*models.QRPayload, error)
}

type ticketService struct {
	now func() time.Time
}

func NewTicketService() TicketService {
	return &ticketService{now: time.Now}
}

// IssueTicketID returns a short collision-resistant identifier. Uniqueness
// is enforced by the registrations.ticket_id constraint; callers retry on
// conflict rather than pre-checking existence.
func (s *ticketService) IssueTicketID() (string, error) {
	buf := make([]byte, ticketIDLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("%w: %w", ErrTicketIDGeneration, err)
	}
	id := make([]byte, ticketIDLength)
	for i, b := range buf {
		id[i] = ticketIDAlphabet[int(b)%len(ticketIDAlphabet)]
	}
	return ticketIDPrefix + string(id), nil
}

func (s *ticketService) BuildQRPayload(reg *models.Registration, event *models.Event, participant *models.User) (string, error) {
	payload := models.QRPayload{
		TicketID:        reg.TicketID,
		EventID:         event.ID,
		EventName:       event.Name,
		ParticipantID:   participant.ID,
		ParticipantName: participant.FullName(),
		Type:            reg.Type,
		IssuedAt:        s.now().UTC(),
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal QR payload: %w", err)
	}
	return string(data), nil
}

// ValidateScan parses a scanned payload and checks it against the event
// being scanned for. The payload is a lookup key only; the caller must
// re-fetch the canonical registration by ticket id before admitting.
func (s *ticketService) ValidateScan(payload string, expectedEventID int) (*models.QRPayload, error) {
	var parsed models.QRPayload
	if err := json.Unmarshal([]byte(payload), &parsed); err != nil {
		return nil, ErrMalformedPayload
	}
	if parsed.TicketID == "" || parsed.EventID == 0 || parsed.ParticipantID == 0 {
		return nil, ErrMalformedPayload
	}
	if parsed.EventID != expectedEventID {
		return nil, ErrEventMismatch
	}
	return &parsed, nil
}
