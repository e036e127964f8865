package services

import "errors"

// Общие ошибки, используемые в разных сервисах и маппинге HTTP.
var (
	ErrNotFound = errors.New("requested resource not found")

	// Validation and business-rule errors.
	ErrValidationFailed     = errors.New("validation failed")
	ErrPasswordTooShort     = errors.New("password is too short")
	ErrInvalidCredentials   = errors.New("invalid email or password")
	ErrEventNotOpen         = errors.New("event is not open for registration")
	ErrDeadlinePassed       = errors.New("registration deadline has passed")
	ErrEligibilityMismatch  = errors.New("participant does not match event eligibility")
	ErrMissingRequiredField = errors.New("required form field is missing")
	ErrEventStarted         = errors.New("event has already started")
	ErrEventNotStarted      = errors.New("event has not started yet")
	ErrNotMerchandiseEvent  = errors.New("event does not sell merchandise")
	ErrNotTeamEvent         = errors.New("event does not support teams")
	ErrInvalidTeamSize      = errors.New("team size is outside the allowed range")
	ErrTeamNameRequired     = errors.New("team name is required")
	ErrInvalidQuantity      = errors.New("quantity must be positive")

	// Conflict errors: the attempted operation is a no-op.
	ErrAlreadyRegistered     = errors.New("participant already registered for this event")
	ErrEventFull             = errors.New("event registration is full")
	ErrOutOfStock            = errors.New("variant is out of stock")
	ErrPurchaseLimitExceeded = errors.New("purchase limit exceeded")
	ErrAlreadyCancelled      = errors.New("registration is already cancelled")
	ErrAlreadyAttended       = errors.New("registration is already marked attended")
	ErrNotConfirmed          = errors.New("registration is not confirmed")
	ErrPaymentNotPending     = errors.New("payment is not pending")
	ErrTeamComplete          = errors.New("team is already complete")
	ErrTeamNotComplete       = errors.New("team is not complete yet")
	ErrAlreadyMember         = errors.New("user is already a member of this team")
	ErrIsLeader              = errors.New("user is the team leader")
	ErrAlreadyInAnotherTeam  = errors.New("user already belongs to a team for this event")
	ErrTeamNameConflict      = errors.New("team name is already in use for this event")

	// Authentication and authorization errors.
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrEmailTaken           = errors.New("email address is already in use")
	ErrNotOwner             = errors.New("only the registration owner can perform this action")
	ErrNotOrganizer         = errors.New("only an organizer or admin can perform this action")
	ErrLeaderActionOnly     = errors.New("only the team leader can perform this action")
	ErrLeaderCannotLeave    = errors.New("the team leader cannot leave; delete the team instead")
	ErrForbiddenOperation   = errors.New("operation not allowed for the current user")

	// Entity-specific not-found errors.
	ErrUserNotFound         = errors.New("user not found")
	ErrEventNotFound        = errors.New("event not found")
	ErrVariantNotFound      = errors.New("variant not found")
	ErrRegistrationNotFound = errors.New("registration not found")
	ErrTeamNotFound         = errors.New("team not found")
	ErrInvalidInviteCode    = errors.New("invalid invite code")

	// Ticket scanning errors.
	ErrMalformedPayload = errors.New("malformed QR payload")
	ErrEventMismatch    = errors.New("ticket belongs to a different event")
	ErrTicketNotFound   = errors.New("ticket not found")

	// Event management errors.
	ErrEventNameRequired     = errors.New("event name is required")
	ErrEventInvalidDates     = errors.New("event end date must be after start date")
	ErrEventInvalidDeadline  = errors.New("registration deadline must not be after the event start")
	ErrEventInvalidCapacity  = errors.New("event registration limit must be positive")
	ErrEventNameConflict     = errors.New("event name already exists for this organizer")
	ErrEventInvalidStatus    = errors.New("invalid event status transition")
	ErrEventInvalidTeamRange = errors.New("event min team size must not exceed max team size")
)
