package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"festra/models"
	"festra/realtime"
	"festra/repositories"
	"festra/storage"

	"github.com/google/uuid"
)

// PaymentService is the organizer-driven approval workflow that turns a
// pending reservation into a fulfilled ticket, or unwinds it.
type PaymentService interface {
	Approve(ctx context.Context, registrationID, actorID int) (*models.Registration, error)
	Reject(ctx context.Context, registrationID, actorID int) (*models.Registration, error)
	UploadProof(ctx context.Context, registrationID, actorID int, proof []byte, contentType string) (*models.Registration, error)
}

type paymentService struct {
	registrations repositories.RegistrationRepository
	events        repositories.EventRepository
	variants      repositories.VariantRepository
	users         repositories.UserRepository
	tickets       TicketService
	notifier      Notifier
	hub           *realtime.Hub
	uploader      storage.FileUploader
	now           func() time.Time
}

func NewPaymentService(
	registrations repositories.RegistrationRepository,
	events repositories.EventRepository,
	variants repositories.VariantRepository,
	users repositories.UserRepository,
	tickets TicketService,
	notifier Notifier,
	hub *realtime.Hub,
	uploader storage.FileUploader,
) PaymentService {
	return &paymentService{
		registrations: registrations,
		events:        events,
		variants:      variants,
		users:         users,
		tickets:       tickets,
		notifier:      notifier,
		hub:           hub,
		uploader:      uploader,
		now:           time.Now,
	}
}

func (s *paymentService) loadForDecision(ctx context.Context, registrationID, actorID int, next models.PaymentStatus) (*models.Registration, *models.Event, *models.User, error) {
	actor, err := s.users.GetByID(ctx, actorID)
	if err != nil {
		if errors.Is(err, repositories.ErrUserNotFound) {
			return nil, nil, nil, ErrUserNotFound
		}
		return nil, nil, nil, err
	}
	if !actor.IsStaffRole() {
		return nil, nil, nil, ErrNotOrganizer
	}

	reg, err := s.registrations.GetByID(ctx, registrationID)
	if err != nil {
		if errors.Is(err, repositories.ErrRegistrationNotFound) {
			return nil, nil, nil, ErrRegistrationNotFound
		}
		return nil, nil, nil, err
	}
	if !reg.PaymentStatus.CanTransitionTo(next) {
		return nil, nil, nil, ErrPaymentNotPending
	}

	event, err := s.events.GetByID(ctx, reg.EventID)
	if err != nil {
		if errors.Is(err, repositories.ErrEventNotFound) {
			return nil, nil, nil, ErrEventNotFound
		}
		return nil, nil, nil, err
	}
	participant, err := s.users.GetByID(ctx, reg.ParticipantID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to get participant %d: %w", reg.ParticipantID, err)
	}
	return reg, event, participant, nil
}

func (s *paymentService) Approve(ctx context.Context, registrationID, actorID int) (*models.Registration, error) {
	reg, event, participant, err := s.loadForDecision(ctx, registrationID, actorID, models.PaymentApproved)
	if err != nil {
		return nil, err
	}

	qr, err := s.tickets.BuildQRPayload(reg, event, participant)
	if err != nil {
		return nil, err
	}

	// Guarded over payment_status = pending; a concurrent approve or
	// reject acts exactly once.
	err = s.registrations.SetPaymentOutcome(ctx, registrationID,
		models.PaymentApproved, models.RegistrationConfirmed, &qr)
	if err != nil {
		if errors.Is(err, repositories.ErrRegistrationStateConflict) {
			return nil, ErrPaymentNotPending
		}
		return nil, err
	}

	if reg.Type == models.EventTypeMerchandise {
		reservation, err := s.variants.GetActiveReservationByRegistration(ctx, registrationID)
		if err != nil {
			return nil, fmt.Errorf("approved registration %d has no reservation: %w", registrationID, err)
		}
		if err := s.variants.Finalize(ctx, reservation.ID); err != nil &&
			!errors.Is(err, repositories.ErrReservationFinalized) {
			return nil, err
		}
	}

	s.notifier.Notify(ctx, reg.ParticipantID, models.TemplateRegistrationConfirmed, map[string]interface{}{
		"event_name": event.Name,
		"ticket_id":  reg.TicketID,
	})
	s.hub.Publish(realtime.EventRoom(reg.EventID), realtime.MsgRegistrationConfirmed, map[string]interface{}{
		"registration_id": registrationID,
	})
	return s.registrations.GetByID(ctx, registrationID)
}

func (s *paymentService) Reject(ctx context.Context, registrationID, actorID int) (*models.Registration, error) {
	reg, event, _, err := s.loadForDecision(ctx, registrationID, actorID, models.PaymentRejected)
	if err != nil {
		return nil, err
	}

	err = s.registrations.SetPaymentOutcome(ctx, registrationID,
		models.PaymentRejected, models.RegistrationRejected, nil)
	if err != nil {
		if errors.Is(err, repositories.ErrRegistrationStateConflict) {
			return nil, ErrPaymentNotPending
		}
		return nil, err
	}

	if err := s.events.AdjustRegistrationCount(ctx, nil, reg.EventID, -1); err != nil {
		return nil, err
	}

	if reg.Type == models.EventTypeMerchandise {
		reservation, err := s.variants.GetActiveReservationByRegistration(ctx, registrationID)
		if err != nil && !errors.Is(err, repositories.ErrReservationNotFound) {
			return nil, err
		}
		if reservation != nil {
			// The hold was never finalized for a rejected payment, so
			// only stock is restored; sold is untouched.
			if err := s.variants.Release(ctx, reservation.ID); err != nil {
				return nil, err
			}
		}
	}

	s.notifier.Notify(ctx, reg.ParticipantID, models.TemplatePaymentRejected, map[string]interface{}{
		"event_name": event.Name,
	})
	return s.registrations.GetByID(ctx, registrationID)
}

func (s *paymentService) UploadProof(ctx context.Context, registrationID, actorID int, proof []byte, contentType string) (*models.Registration, error) {
	reg, err := s.registrations.GetByID(ctx, registrationID)
	if err != nil {
		if errors.Is(err, repositories.ErrRegistrationNotFound) {
			return nil, ErrRegistrationNotFound
		}
		return nil, err
	}
	if reg.ParticipantID != actorID {
		return nil, ErrNotOwner
	}
	// A proof makes sense only while the registration can still confirm.
	if !reg.Status.CanTransitionTo(models.RegistrationConfirmed) {
		switch reg.Status {
		case models.RegistrationAttended:
			return nil, ErrAlreadyAttended
		case models.RegistrationConfirmed:
			return nil, ErrPaymentNotPending
		default:
			return nil, ErrAlreadyCancelled
		}
	}
	if len(proof) == 0 {
		return nil, fmt.Errorf("%w: proof file is empty", ErrValidationFailed)
	}

	key := "proofs/" + uuid.NewString() + extensionFor(contentType)
	result, err := s.uploader.Upload(ctx, key, contentType, bytes.NewReader(proof))
	if err != nil {
		return nil, fmt.Errorf("failed to store payment proof: %w", err)
	}

	if err := s.registrations.UpdateProofKey(ctx, registrationID, result.Key); err != nil {
		if errors.Is(err, repositories.ErrRegistrationStateConflict) {
			return nil, ErrPaymentNotPending
		}
		return nil, err
	}

	event, err := s.events.GetByID(ctx, reg.EventID)
	if err == nil {
		s.notifier.Notify(ctx, event.OrganizerID, models.TemplateProofUploaded, map[string]interface{}{
			"event_name":      event.Name,
			"registration_id": registrationID,
		})
	}
	return s.registrations.GetByID(ctx, registrationID)
}

func extensionFor(contentType string) string {
	switch contentType {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "application/pdf":
		return ".pdf"
	default:
		return ""
	}
}
