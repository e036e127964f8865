package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"festra/models"
	"festra/realtime"
	"festra/repositories"
)

type EventService interface {
	CreateEvent(ctx context.Context, organizerID int, event *models.Event) (*models.Event, error)
	UpdateEvent(ctx context.Context, eventID, actorID int, updated *models.Event) (*models.Event, error)
	PublishEvent(ctx context.Context, eventID, actorID int) (*models.Event, error)
	CancelEvent(ctx context.Context, eventID, actorID int) error
	GetEvent(ctx context.Context, eventID int) (*models.Event, error)
	ListEvents(ctx context.Context, filter repositories.ListEventsFilter) ([]models.Event, error)

	// AutoUpdateStatusesByDates moves published events past their start
	// date to ongoing and ongoing events past their end date to
	// completed. Driven by the background scheduler in main.
	AutoUpdateStatusesByDates(ctx context.Context) error
}

type eventService struct {
	events   repositories.EventRepository
	variants repositories.VariantRepository
	users    repositories.UserRepository
	hub      *realtime.Hub
	logger   *slog.Logger
	now      func() time.Time
}

func NewEventService(
	events repositories.EventRepository,
	variants repositories.VariantRepository,
	users repositories.UserRepository,
	hub *realtime.Hub,
	logger *slog.Logger,
) EventService {
	return &eventService{
		events:   events,
		variants: variants,
		users:    users,
		hub:      hub,
		logger:   logger,
		now:      time.Now,
	}
}

func validateEvent(event *models.Event) error {
	if event.Name == "" {
		return ErrEventNameRequired
	}
	if !event.EndDate.After(event.StartDate) {
		return ErrEventInvalidDates
	}
	if event.RegistrationDeadline.After(event.StartDate) {
		return ErrEventInvalidDeadline
	}
	if event.RegistrationLimit <= 0 {
		return ErrEventInvalidCapacity
	}
	if event.IsTeamEvent {
		if event.MinTeamSize < 2 || event.MinTeamSize > event.MaxTeamSize {
			return ErrEventInvalidTeamRange
		}
	}
	if event.Type == models.EventTypeMerchandise {
		if len(event.Variants) == 0 {
			return fmt.Errorf("%w: merchandise event needs at least one variant", ErrValidationFailed)
		}
		for i := range event.Variants {
			v := &event.Variants[i]
			if v.Name == "" || v.Stock <= 0 || v.Price < 0 {
				return fmt.Errorf("%w: variant %q has invalid stock or price", ErrValidationFailed, v.Name)
			}
		}
	}
	return nil
}

// checkOwnership allows the organizer that owns the event, or an admin.
func (s *eventService) checkOwnership(ctx context.Context, event *models.Event, actorID int) error {
	if event.OrganizerID == actorID {
		return nil
	}
	actor, err := s.users.GetByID(ctx, actorID)
	if err != nil {
		if errors.Is(err, repositories.ErrUserNotFound) {
			return ErrUserNotFound
		}
		return err
	}
	if actor.Role != models.RoleAdmin {
		return ErrNotOwner
	}
	return nil
}

func (s *eventService) CreateEvent(ctx context.Context, organizerID int, event *models.Event) (*models.Event, error) {
	organizer, err := s.users.GetByID(ctx, organizerID)
	if err != nil {
		if errors.Is(err, repositories.ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	if !organizer.IsStaffRole() {
		return nil, ErrNotOrganizer
	}

	event.OrganizerID = organizerID
	event.Status = models.EventStatusDraft
	if event.Type == "" {
		event.Type = models.EventTypeNormal
	}
	if event.Eligibility == "" {
		event.Eligibility = models.AudienceAll
	}
	if err := validateEvent(event); err != nil {
		return nil, err
	}

	if err := s.events.Create(ctx, event); err != nil {
		if errors.Is(err, repositories.ErrEventNameConflict) {
			return nil, ErrEventNameConflict
		}
		return nil, fmt.Errorf("failed to create event: %w", err)
	}

	for i := range event.Variants {
		v := &event.Variants[i]
		v.EventID = event.ID
		v.InitialCapacity = v.Stock
		v.Sold = 0
		if err := s.variants.CreateVariant(ctx, nil, v); err != nil {
			return nil, fmt.Errorf("failed to create variant %q: %w", v.Name, err)
		}
	}

	s.logger.Info("event created", "event_id", event.ID, "organizer_id", organizerID, "type", event.Type)
	return event, nil
}

func (s *eventService) UpdateEvent(ctx context.Context, eventID, actorID int, updated *models.Event) (*models.Event, error) {
	event, err := s.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if err := s.checkOwnership(ctx, event, actorID); err != nil {
		return nil, err
	}
	switch event.Status {
	case models.EventStatusDraft, models.EventStatusPublished:
	default:
		return nil, ErrEventInvalidStatus
	}

	updated.ID = event.ID
	updated.OrganizerID = event.OrganizerID
	updated.Status = event.Status
	updated.Type = event.Type
	updated.RegistrationCount = event.RegistrationCount
	updated.FormLocked = event.FormLocked
	if event.FormLocked {
		// The custom form is frozen after the first registration.
		updated.FormFields = event.FormFields
	}
	if err := validateEvent(updated); err != nil {
		return nil, err
	}

	if err := s.events.Update(ctx, updated); err != nil {
		if errors.Is(err, repositories.ErrEventNameConflict) {
			return nil, ErrEventNameConflict
		}
		return nil, err
	}
	return s.GetEvent(ctx, eventID)
}

func (s *eventService) PublishEvent(ctx context.Context, eventID, actorID int) (*models.Event, error) {
	event, err := s.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if err := s.checkOwnership(ctx, event, actorID); err != nil {
		return nil, err
	}
	if event.Status != models.EventStatusDraft {
		return nil, ErrEventInvalidStatus
	}
	if !s.now().Before(event.RegistrationDeadline) {
		return nil, ErrDeadlinePassed
	}
	if err := s.events.UpdateStatus(ctx, nil, eventID, models.EventStatusPublished); err != nil {
		return nil, err
	}
	event.Status = models.EventStatusPublished
	return event, nil
}

func (s *eventService) CancelEvent(ctx context.Context, eventID, actorID int) error {
	event, err := s.GetEvent(ctx, eventID)
	if err != nil {
		return err
	}
	if err := s.checkOwnership(ctx, event, actorID); err != nil {
		return err
	}
	switch event.Status {
	case models.EventStatusCompleted, models.EventStatusCancelled:
		return ErrEventInvalidStatus
	}
	if err := s.events.UpdateStatus(ctx, nil, eventID, models.EventStatusCancelled); err != nil {
		return err
	}
	s.logger.Info("event cancelled", "event_id", eventID, "actor_id", actorID)
	return nil
}

func (s *eventService) GetEvent(ctx context.Context, eventID int) (*models.Event, error) {
	event, err := s.events.GetByIDWithVariants(ctx, eventID)
	if err != nil {
		if errors.Is(err, repositories.ErrEventNotFound) {
			return nil, ErrEventNotFound
		}
		return nil, err
	}
	return event, nil
}

func (s *eventService) ListEvents(ctx context.Context, filter repositories.ListEventsFilter) ([]models.Event, error) {
	return s.events.List(ctx, filter)
}

func (s *eventService) AutoUpdateStatusesByDates(ctx context.Context) error {
	now := s.now()
	events, err := s.events.GetEventsForAutoStatusUpdate(ctx, now)
	if err != nil {
		return fmt.Errorf("failed to list events for status update: %w", err)
	}
	for _, event := range events {
		var next models.EventStatus
		switch {
		case event.Status == models.EventStatusPublished && event.Started(now):
			next = models.EventStatusOngoing
		case event.Status == models.EventStatusOngoing && !now.Before(event.EndDate):
			next = models.EventStatusCompleted
		default:
			continue
		}
		if err := s.events.UpdateStatus(ctx, nil, event.ID, next); err != nil {
			s.logger.Error("failed to auto-update event status", "event_id", event.ID, "next", next, "error", err)
			continue
		}
		s.logger.Info("event status auto-updated", "event_id", event.ID, "status", next)
	}
	return nil
}
