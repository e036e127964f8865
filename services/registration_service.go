package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"festra/models"
	"festra/realtime"
	"festra/repositories"
)

// maxTicketAttempts bounds the retry loop on ticket-id unique violations.
const maxTicketAttempts = 3

type RegistrationService interface {
	RegisterForEvent(ctx context.Context, eventID, participantID int, formResponses map[string]string) (*models.Registration, error)
	PurchaseMerchandise(ctx context.Context, eventID, participantID, variantID, quantity int) (*models.Registration, error)
	Cancel(ctx context.Context, registrationID, actorID int) error
	MarkAttended(ctx context.Context, registrationID, actorID int) (*models.Registration, error)
	ManualOverride(ctx context.Context, registrationID, actorID int, reason string) (*models.Registration, error)
	ScanTicket(ctx context.Context, payload string, eventID int) (*models.Registration, error)

	// CreateTeamRegistration issues one confirmed registration with its
	// own ticket and QR for a member of a completed team. Callers are
	// expected to have checked for an existing registration first, so a
	// retried completion trigger stays idempotent.
	CreateTeamRegistration(ctx context.Context, event *models.Event, participant *models.User, teamID int) (*models.Registration, error)

	GetByID(ctx context.Context, id int) (*models.Registration, error)
	ListByEvent(ctx context.Context, eventID int, statusFilter *models.RegistrationStatus) ([]*models.Registration, error)
	ListByParticipant(ctx context.Context, participantID int) ([]*models.Registration, error)
}

type registrationService struct {
	registrations repositories.RegistrationRepository
	events        repositories.EventRepository
	variants      repositories.VariantRepository
	users         repositories.UserRepository
	tickets       TicketService
	notifier      Notifier
	hub           *realtime.Hub
	now           func() time.Time
}

func NewRegistrationService(
	registrations repositories.RegistrationRepository,
	events repositories.EventRepository,
	variants repositories.VariantRepository,
	users repositories.UserRepository,
	tickets TicketService,
	notifier Notifier,
	hub *realtime.Hub,
) RegistrationService {
	return &registrationService{
		registrations: registrations,
		events:        events,
		variants:      variants,
		users:         users,
		tickets:       tickets,
		notifier:      notifier,
		hub:           hub,
		now:           time.Now,
	}
}

func (s *registrationService) getUser(ctx context.Context, id int) (*models.User, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user %d: %w", id, err)
	}
	return user, nil
}

func (s *registrationService) getEvent(ctx context.Context, id int) (*models.Event, error) {
	event, err := s.events.GetByIDWithVariants(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.ErrEventNotFound) {
			return nil, ErrEventNotFound
		}
		return nil, fmt.Errorf("failed to get event %d: %w", id, err)
	}
	return event, nil
}

func validateFormResponses(event *models.Event, responses map[string]string) error {
	for _, field := range event.FormFields {
		if !field.Required {
			continue
		}
		if responses[field.Name] == "" {
			return fmt.Errorf("%w: %s", ErrMissingRequiredField, field.Name)
		}
	}
	return nil
}

func checkEligibility(event *models.Event, participant *models.User) error {
	if event.Eligibility == models.AudienceAll {
		return nil
	}
	if participant.Audience != event.Eligibility {
		return ErrEligibilityMismatch
	}
	return nil
}

// createWithTicket mints a ticket id and inserts the registration,
// regenerating on an id collision. Uniqueness lives in the storage
// constraint, not in a pre-check.
func (s *registrationService) createWithTicket(ctx context.Context, reg *models.Registration, event *models.Event, participant *models.User, limit int) error {
	issueQR := reg.Status == models.RegistrationConfirmed

	for attempt := 0; attempt < maxTicketAttempts; attempt++ {
		ticketID, err := s.tickets.IssueTicketID()
		if err != nil {
			return err
		}
		reg.TicketID = ticketID

		if issueQR {
			qr, err := s.tickets.BuildQRPayload(reg, event, participant)
			if err != nil {
				return err
			}
			reg.QRCodeData = &qr
		}

		if limit > 0 {
			err = s.registrations.CreateWithinPurchaseLimit(ctx, reg, limit)
		} else {
			err = s.registrations.Create(ctx, nil, reg)
		}
		if err == nil {
			return nil
		}
		if errors.Is(err, repositories.ErrTicketIDConflict) {
			continue // collision, mint again
		}
		return err
	}
	return fmt.Errorf("%w after %d attempts", ErrTicketIDGeneration, maxTicketAttempts)
}

func (s *registrationService) RegisterForEvent(ctx context.Context, eventID, participantID int, formResponses map[string]string) (*models.Registration, error) {
	event, err := s.getEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if event.Type != models.EventTypeNormal {
		return nil, fmt.Errorf("%w: merchandise events use the purchase flow", ErrValidationFailed)
	}
	participant, err := s.getUser(ctx, participantID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if !event.RegistrationOpen(now) {
		if event.Status != models.EventStatusPublished {
			return nil, ErrEventNotOpen
		}
		return nil, ErrDeadlinePassed
	}
	if err := checkEligibility(event, participant); err != nil {
		return nil, err
	}
	if err := validateFormResponses(event, formResponses); err != nil {
		return nil, err
	}

	if _, err := s.registrations.FindActiveByParticipantAndEvent(ctx, participantID, eventID); err == nil {
		return nil, ErrAlreadyRegistered
	} else if !errors.Is(err, repositories.ErrRegistrationNotFound) {
		return nil, fmt.Errorf("failed to check existing registration: %w", err)
	}

	// Capacity check and increment are one conditional statement; the
	// increment is compensated if the insert below fails.
	if err := s.events.IncrementCountIfCapacity(ctx, nil, eventID); err != nil {
		if errors.Is(err, repositories.ErrEventFull) {
			return nil, ErrEventFull
		}
		return nil, err
	}

	reg := &models.Registration{
		EventID:       eventID,
		ParticipantID: participantID,
		Type:          models.EventTypeNormal,
		FormResponses: formResponses,
	}
	if event.Fee > 0 {
		reg.Status = models.RegistrationPending
		reg.PaymentStatus = models.PaymentPending
		reg.TotalAmount = event.Fee
	} else {
		reg.Status = models.RegistrationConfirmed
		reg.PaymentStatus = models.PaymentNotRequired
	}

	if err := s.createWithTicket(ctx, reg, event, participant, 0); err != nil {
		if adjErr := s.events.AdjustRegistrationCount(ctx, nil, eventID, -1); adjErr != nil {
			return nil, fmt.Errorf("failed to compensate registration count: %v (original error: %w)", adjErr, err)
		}
		if errors.Is(err, repositories.ErrRegistrationConflict) {
			return nil, ErrAlreadyRegistered
		}
		return nil, err
	}

	// The first registration freezes the custom form.
	if err := s.events.LockForm(ctx, nil, eventID); err != nil {
		return nil, err
	}

	if reg.Status == models.RegistrationConfirmed {
		s.notifier.Notify(ctx, participantID, models.TemplateRegistrationConfirmed, map[string]interface{}{
			"event_name": event.Name,
			"ticket_id":  reg.TicketID,
		})
		s.hub.Publish(realtime.EventRoom(eventID), realtime.MsgRegistrationConfirmed, reg)
	} else {
		s.notifier.Notify(ctx, participantID, models.TemplatePaymentRequired, map[string]interface{}{
			"event_name": event.Name,
			"amount":     reg.TotalAmount,
		})
		s.hub.Publish(realtime.EventRoom(eventID), realtime.MsgRegistrationCreated, reg)
	}
	return reg, nil
}

func (s *registrationService) PurchaseMerchandise(ctx context.Context, eventID, participantID, variantID, quantity int) (*models.Registration, error) {
	if quantity <= 0 {
		return nil, ErrInvalidQuantity
	}
	event, err := s.getEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if event.Type != models.EventTypeMerchandise {
		return nil, ErrNotMerchandiseEvent
	}
	participant, err := s.getUser(ctx, participantID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if !event.RegistrationOpen(now) {
		if event.Status != models.EventStatusPublished {
			return nil, ErrEventNotOpen
		}
		return nil, ErrDeadlinePassed
	}
	variant := event.VariantByID(variantID)
	if variant == nil {
		return nil, ErrVariantNotFound
	}

	// Early limit check for a fast failure; the insert re-checks the sum
	// in the same statement, so this read is advisory only.
	runningTotal, err := s.registrations.SumActiveQuantity(ctx, participantID, eventID)
	if err != nil {
		return nil, err
	}
	if event.PurchaseLimit > 0 && runningTotal+quantity > event.PurchaseLimit {
		return nil, ErrPurchaseLimitExceeded
	}

	if err := s.events.AdjustRegistrationCount(ctx, nil, eventID, 1); err != nil {
		return nil, err
	}
	compensateCount := func() error {
		return s.events.AdjustRegistrationCount(ctx, nil, eventID, -1)
	}

	reg := &models.Registration{
		EventID:        eventID,
		ParticipantID:  participantID,
		Type:           models.EventTypeMerchandise,
		VariantID:      &variantID,
		Quantity:       quantity,
		VariantDetails: &variant.Name,
		TotalAmount:    variant.Price * quantity,
	}

	var reservation *models.Reservation
	if event.RequiresPaymentApproval {
		reservation, err = s.variants.Reserve(ctx, eventID, variantID, quantity)
		reg.Status = models.RegistrationPending
		reg.PaymentStatus = models.PaymentPending
	} else {
		reservation, err = s.variants.CreditImmediate(ctx, eventID, variantID, quantity)
		reg.Status = models.RegistrationConfirmed
		reg.PaymentStatus = models.PaymentNotRequired
	}
	if err != nil {
		if cErr := compensateCount(); cErr != nil {
			return nil, fmt.Errorf("failed to compensate registration count: %v (original error: %w)", cErr, err)
		}
		if errors.Is(err, repositories.ErrInsufficientStock) {
			return nil, ErrOutOfStock
		}
		return nil, err
	}

	limit := event.PurchaseLimit
	if limit <= 0 {
		limit = 0
	}
	if err := s.createWithTicket(ctx, reg, event, participant, limit); err != nil {
		// Unwind the hold so the failed attempt is a no-op overall.
		var unwindErr error
		if reservation.Status == models.ReservationFinalized {
			unwindErr = s.variants.Refund(ctx, reservation.ID)
		} else {
			unwindErr = s.variants.Release(ctx, reservation.ID)
		}
		if unwindErr != nil {
			return nil, fmt.Errorf("failed to unwind reservation %d: %v (original error: %w)", reservation.ID, unwindErr, err)
		}
		if cErr := compensateCount(); cErr != nil {
			return nil, fmt.Errorf("failed to compensate registration count: %v (original error: %w)", cErr, err)
		}
		if errors.Is(err, repositories.ErrPurchaseLimitExceeded) {
			return nil, ErrPurchaseLimitExceeded
		}
		return nil, err
	}

	if err := s.variants.AttachRegistration(ctx, reservation.ID, reg.ID); err != nil {
		return nil, err
	}

	if reg.Status == models.RegistrationConfirmed {
		s.notifier.Notify(ctx, participantID, models.TemplateRegistrationConfirmed, map[string]interface{}{
			"event_name": event.Name,
			"ticket_id":  reg.TicketID,
		})
	} else {
		s.notifier.Notify(ctx, participantID, models.TemplatePaymentRequired, map[string]interface{}{
			"event_name": event.Name,
			"amount":     reg.TotalAmount,
		})
	}
	s.hub.Publish(realtime.EventRoom(eventID), realtime.MsgStockChanged, map[string]interface{}{
		"variant_id": variantID,
		"quantity":   quantity,
	})
	return reg, nil
}

func (s *registrationService) CreateTeamRegistration(ctx context.Context, event *models.Event, participant *models.User, teamID int) (*models.Registration, error) {
	if err := s.events.IncrementCountIfCapacity(ctx, nil, event.ID); err != nil {
		if errors.Is(err, repositories.ErrEventFull) {
			return nil, ErrEventFull
		}
		return nil, err
	}

	reg := &models.Registration{
		EventID:       event.ID,
		ParticipantID: participant.ID,
		Type:          models.EventTypeNormal,
		Status:        models.RegistrationConfirmed,
		PaymentStatus: models.PaymentNotRequired,
		TeamID:        &teamID,
	}
	if err := s.createWithTicket(ctx, reg, event, participant, 0); err != nil {
		if adjErr := s.events.AdjustRegistrationCount(ctx, nil, event.ID, -1); adjErr != nil {
			return nil, fmt.Errorf("failed to compensate registration count: %v (original error: %w)", adjErr, err)
		}
		if errors.Is(err, repositories.ErrRegistrationConflict) {
			return nil, ErrAlreadyRegistered
		}
		return nil, err
	}

	s.notifier.Notify(ctx, participant.ID, models.TemplateRegistrationConfirmed, map[string]interface{}{
		"event_name": event.Name,
		"ticket_id":  reg.TicketID,
	})
	s.hub.Publish(realtime.EventRoom(event.ID), realtime.MsgRegistrationConfirmed, reg)
	return reg, nil
}

func (s *registrationService) Cancel(ctx context.Context, registrationID, actorID int) error {
	reg, err := s.GetByID(ctx, registrationID)
	if err != nil {
		return err
	}
	if reg.ParticipantID != actorID {
		return ErrNotOwner
	}
	// The transition table decides; the switch only picks the reason.
	if !reg.Status.CanTransitionTo(models.RegistrationCancelled) {
		switch reg.Status {
		case models.RegistrationAttended:
			return ErrAlreadyAttended
		case models.RegistrationPending:
			return ErrNotConfirmed
		default:
			return ErrAlreadyCancelled
		}
	}

	event, err := s.getEvent(ctx, reg.EventID)
	if err != nil {
		return err
	}
	if event.Started(s.now()) {
		return ErrEventStarted
	}

	// Guarded flip; a concurrent cancel or attendance mark loses cleanly.
	if err := s.registrations.SetCancelled(ctx, registrationID); err != nil {
		if errors.Is(err, repositories.ErrRegistrationStateConflict) {
			return ErrAlreadyCancelled
		}
		return err
	}

	if err := s.events.AdjustRegistrationCount(ctx, nil, reg.EventID, -1); err != nil {
		return err
	}

	if reg.Type == models.EventTypeMerchandise {
		reservation, err := s.variants.GetActiveReservationByRegistration(ctx, registrationID)
		if err != nil && !errors.Is(err, repositories.ErrReservationNotFound) {
			return err
		}
		if reservation != nil {
			// Sold units are reversed only if the hold was finalized.
			if reservation.Status == models.ReservationFinalized {
				err = s.variants.Refund(ctx, reservation.ID)
			} else {
				err = s.variants.Release(ctx, reservation.ID)
			}
			if err != nil {
				return err
			}
		}
	}

	s.notifier.Notify(ctx, reg.ParticipantID, models.TemplateRegistrationCancelled, map[string]interface{}{
		"event_name": event.Name,
	})
	s.hub.Publish(realtime.EventRoom(reg.EventID), realtime.MsgRegistrationCancelled, map[string]interface{}{
		"registration_id": registrationID,
	})
	return nil
}

func (s *registrationService) markAttended(ctx context.Context, registrationID, actorID int, overrideReason *string) (*models.Registration, error) {
	actor, err := s.getUser(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if !actor.IsStaffRole() {
		return nil, ErrNotOrganizer
	}

	reg, err := s.GetByID(ctx, registrationID)
	if err != nil {
		return nil, err
	}
	if !reg.Status.CanTransitionTo(models.RegistrationAttended) {
		if reg.Status == models.RegistrationAttended {
			return nil, ErrAlreadyAttended
		}
		return nil, ErrNotConfirmed
	}

	event, err := s.getEvent(ctx, reg.EventID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if !event.Started(now) {
		return nil, ErrEventNotStarted
	}

	var overrideBy *int
	if overrideReason != nil {
		overrideBy = &actorID
	}
	if err := s.registrations.SetAttended(ctx, registrationID, now, overrideReason, overrideBy); err != nil {
		if errors.Is(err, repositories.ErrRegistrationStateConflict) {
			return nil, ErrAlreadyAttended
		}
		return nil, err
	}

	s.hub.Publish(realtime.EventRoom(reg.EventID), realtime.MsgAttendanceMarked, map[string]interface{}{
		"registration_id": registrationID,
		"ticket_id":       reg.TicketID,
	})
	return s.GetByID(ctx, registrationID)
}

func (s *registrationService) MarkAttended(ctx context.Context, registrationID, actorID int) (*models.Registration, error) {
	return s.markAttended(ctx, registrationID, actorID, nil)
}

// ManualOverride marks attendance with an audit entry, for cases where
// scanning is infeasible.
func (s *registrationService) ManualOverride(ctx context.Context, registrationID, actorID int, reason string) (*models.Registration, error) {
	if reason == "" {
		return nil, fmt.Errorf("%w: override reason is required", ErrValidationFailed)
	}
	return s.markAttended(ctx, registrationID, actorID, &reason)
}

// ScanTicket validates a scanned payload and re-fetches the canonical
// registration by ticket id; the payload itself is never trusted.
func (s *registrationService) ScanTicket(ctx context.Context, payload string, eventID int) (*models.Registration, error) {
	parsed, err := s.tickets.ValidateScan(payload, eventID)
	if err != nil {
		return nil, err
	}
	reg, err := s.registrations.GetByTicketID(ctx, parsed.TicketID)
	if err != nil {
		if errors.Is(err, repositories.ErrRegistrationNotFound) {
			return nil, ErrTicketNotFound
		}
		return nil, err
	}
	if reg.EventID != eventID {
		return nil, ErrEventMismatch
	}
	return reg, nil
}

func (s *registrationService) GetByID(ctx context.Context, id int) (*models.Registration, error) {
	reg, err := s.registrations.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.ErrRegistrationNotFound) {
			return nil, ErrRegistrationNotFound
		}
		return nil, err
	}
	return reg, nil
}

func (s *registrationService) ListByEvent(ctx context.Context, eventID int, statusFilter *models.RegistrationStatus) ([]*models.Registration, error) {
	if _, err := s.getEvent(ctx, eventID); err != nil {
		return nil, err
	}
	return s.registrations.ListByEvent(ctx, eventID, statusFilter)
}

func (s *registrationService) ListByParticipant(ctx context.Context, participantID int) ([]*models.Registration, error) {
	return s.registrations.ListByParticipant(ctx, participantID)
}
