package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"festra/models"

	"github.com/lib/pq"
)

var (
	ErrRegistrationNotFound = errors.New("registration not found")
	// ErrRegistrationConflict maps the partial unique index over live
	// normal registrations: at most one non-terminal registration per
	// (participant, event). Merchandise purchases are exempt; their cap
	// is the purchase limit. Terminal rows stay in place and are
	// superseded.
	ErrRegistrationConflict      = errors.New("participant already has a live registration for this event")
	ErrTicketIDConflict          = errors.New("ticket id conflict")
	ErrPurchaseLimitExceeded     = errors.New("purchase limit exceeded for this event")
	ErrRegistrationStateConflict = errors.New("registration is not in the expected state")
)

type RegistrationRepository interface {
	Create(ctx context.Context, exec SQLExecutor, reg *models.Registration) error

	// CreateWithinPurchaseLimit inserts a merchandise registration only
	// while the participant's summed live quantity stays within limit,
	// as one guarded statement.
	CreateWithinPurchaseLimit(ctx context.Context, reg *models.Registration, limit int) error

	GetByID(ctx context.Context, id int) (*models.Registration, error)
	GetByTicketID(ctx context.Context, ticketID string) (*models.Registration, error)
	FindActiveByParticipantAndEvent(ctx context.Context, participantID, eventID int) (*models.Registration, error)
	SumActiveQuantity(ctx context.Context, participantID, eventID int) (int, error)
	ListByEvent(ctx context.Context, eventID int, statusFilter *models.RegistrationStatus) ([]*models.Registration, error)
	ListByParticipant(ctx context.Context, participantID int) ([]*models.Registration, error)

	// SetPaymentOutcome applies the approve/reject decision as one guarded
	// update over (payment_status = pending). Fails
	// ErrRegistrationStateConflict when the registration moved on.
	SetPaymentOutcome(ctx context.Context, id int, payment models.PaymentStatus, status models.RegistrationStatus, qrCodeData *string) error

	// SetCancelled flips confirmed -> cancelled.
	SetCancelled(ctx context.Context, id int) error

	// SetAttended flips confirmed -> attended, once.
	SetAttended(ctx context.Context, id int, at time.Time, overrideReason *string, overrideByID *int) error

	UpdateProofKey(ctx context.Context, id int, proofKey string) error
}

type postgresRegistrationRepository struct {
	db *sql.DB
}

func NewPostgresRegistrationRepository(db *sql.DB) RegistrationRepository {
	return &postgresRegistrationRepository{db: db}
}

func (r *postgresRegistrationRepository) getExecutor(exec SQLExecutor) SQLExecutor {
	if exec != nil {
		return exec
	}
	return r.db
}

const registrationColumns = `
	id, ticket_id, event_id, participant_id, type, status, payment_status,
	variant_id, quantity, variant_details, total_amount, team_id,
	attended, attended_at, qr_code_data, payment_proof_key,
	override_reason, override_by_id, override_at, form_responses,
	created_at, updated_at`

func mapRegistrationInsertError(err error) error {
	if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
		switch pqErr.Constraint {
		case "registrations_ticket_id_key":
			return ErrTicketIDConflict
		case "registrations_live_participant_event_key":
			return ErrRegistrationConflict
		}
	}
	return fmt.Errorf("failed to create registration: %w", err)
}

func (r *postgresRegistrationRepository) Create(ctx context.Context, exec SQLExecutor, reg *models.Registration) error {
	executor := r.getExecutor(exec)
	formJSON, err := json.Marshal(reg.FormResponses)
	if err != nil {
		return fmt.Errorf("failed to marshal form responses: %w", err)
	}

	query := `
		INSERT INTO registrations (
			ticket_id, event_id, participant_id, type, status, payment_status,
			variant_id, quantity, variant_details, total_amount, team_id,
			qr_code_data, form_responses
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id, created_at, updated_at`

	err = executor.QueryRowContext(ctx, query,
		reg.TicketID, reg.EventID, reg.ParticipantID, reg.Type, reg.Status, reg.PaymentStatus,
		reg.VariantID, reg.Quantity, reg.VariantDetails, reg.TotalAmount, reg.TeamID,
		reg.QRCodeData, formJSON,
	).Scan(&reg.ID, &reg.CreatedAt, &reg.UpdatedAt)

	if err != nil {
		return mapRegistrationInsertError(err)
	}
	return nil
}

func (r *postgresRegistrationRepository) CreateWithinPurchaseLimit(ctx context.Context, reg *models.Registration, limit int) error {
	formJSON, err := json.Marshal(reg.FormResponses)
	if err != nil {
		return fmt.Errorf("failed to marshal form responses: %w", err)
	}

	// The limit check and the insert are one statement; the subquery sums
	// quantity over non-cancelled, non-rejected registrations only.
	query := `
		INSERT INTO registrations (
			ticket_id, event_id, participant_id, type, status, payment_status,
			variant_id, quantity, variant_details, total_amount, team_id,
			qr_code_data, form_responses
		)
		SELECT $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13
		WHERE COALESCE((
			SELECT SUM(quantity) FROM registrations
			WHERE event_id = $2 AND participant_id = $3
			  AND status NOT IN ('cancelled', 'rejected')
		), 0) + $8 <= $14
		RETURNING id, created_at, updated_at`

	err = r.db.QueryRowContext(ctx, query,
		reg.TicketID, reg.EventID, reg.ParticipantID, reg.Type, reg.Status, reg.PaymentStatus,
		reg.VariantID, reg.Quantity, reg.VariantDetails, reg.TotalAmount, reg.TeamID,
		reg.QRCodeData, formJSON, limit,
	).Scan(&reg.ID, &reg.CreatedAt, &reg.UpdatedAt)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrPurchaseLimitExceeded
		}
		return mapRegistrationInsertError(err)
	}
	return nil
}

func (r *postgresRegistrationRepository) scanRegistration(scanner interface {
	Scan(dest ...interface{}) error
}) (*models.Registration, error) {
	reg := &models.Registration{}
	var formJSON []byte
	err := scanner.Scan(
		&reg.ID, &reg.TicketID, &reg.EventID, &reg.ParticipantID, &reg.Type,
		&reg.Status, &reg.PaymentStatus, &reg.VariantID, &reg.Quantity,
		&reg.VariantDetails, &reg.TotalAmount, &reg.TeamID,
		&reg.Attended, &reg.AttendedAt, &reg.QRCodeData, &reg.PaymentProofKey,
		&reg.OverrideReason, &reg.OverrideByID, &reg.OverrideAt, &formJSON,
		&reg.CreatedAt, &reg.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRegistrationNotFound
		}
		return nil, fmt.Errorf("failed to scan registration: %w", err)
	}
	if len(formJSON) > 0 {
		if err := json.Unmarshal(formJSON, &reg.FormResponses); err != nil {
			return nil, fmt.Errorf("failed to unmarshal form responses for registration %d: %w", reg.ID, err)
		}
	}
	return reg, nil
}

func (r *postgresRegistrationRepository) GetByID(ctx context.Context, id int) (*models.Registration, error) {
	query := `SELECT ` + registrationColumns + ` FROM registrations WHERE id = $1`
	return r.scanRegistration(r.db.QueryRowContext(ctx, query, id))
}

func (r *postgresRegistrationRepository) GetByTicketID(ctx context.Context, ticketID string) (*models.Registration, error) {
	query := `SELECT ` + registrationColumns + ` FROM registrations WHERE ticket_id = $1`
	return r.scanRegistration(r.db.QueryRowContext(ctx, query, ticketID))
}

func (r *postgresRegistrationRepository) FindActiveByParticipantAndEvent(ctx context.Context, participantID, eventID int) (*models.Registration, error) {
	query := `SELECT ` + registrationColumns + `
		FROM registrations
		WHERE participant_id = $1 AND event_id = $2
		  AND status NOT IN ('cancelled', 'rejected')
		ORDER BY created_at DESC
		LIMIT 1`
	return r.scanRegistration(r.db.QueryRowContext(ctx, query, participantID, eventID))
}

func (r *postgresRegistrationRepository) SumActiveQuantity(ctx context.Context, participantID, eventID int) (int, error) {
	query := `
		SELECT COALESCE(SUM(quantity), 0)
		FROM registrations
		WHERE participant_id = $1 AND event_id = $2
		  AND status NOT IN ('cancelled', 'rejected')`

	var total int
	if err := r.db.QueryRowContext(ctx, query, participantID, eventID).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to sum active quantity: %w", err)
	}
	return total, nil
}

func (r *postgresRegistrationRepository) list(ctx context.Context, query string, args ...interface{}) ([]*models.Registration, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list registrations: %w", err)
	}
	defer rows.Close()

	regs := make([]*models.Registration, 0)
	for rows.Next() {
		reg, err := r.scanRegistration(rows)
		if err != nil {
			return nil, err
		}
		regs = append(regs, reg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating registration rows: %w", err)
	}
	return regs, nil
}

func (r *postgresRegistrationRepository) ListByEvent(ctx context.Context, eventID int, statusFilter *models.RegistrationStatus) ([]*models.Registration, error) {
	query := `SELECT ` + registrationColumns + ` FROM registrations WHERE event_id = $1`
	args := []interface{}{eventID}
	if statusFilter != nil {
		query += ` AND status = $2`
		args = append(args, *statusFilter)
	}
	query += ` ORDER BY created_at ASC`
	return r.list(ctx, query, args...)
}

func (r *postgresRegistrationRepository) ListByParticipant(ctx context.Context, participantID int) ([]*models.Registration, error) {
	query := `SELECT ` + registrationColumns + `
		FROM registrations
		WHERE participant_id = $1
		ORDER BY created_at DESC`
	return r.list(ctx, query, participantID)
}

func (r *postgresRegistrationRepository) SetPaymentOutcome(ctx context.Context, id int, payment models.PaymentStatus, status models.RegistrationStatus, qrCodeData *string) error {
	query := `
		UPDATE registrations
		SET payment_status = $2, status = $3, qr_code_data = COALESCE($4, qr_code_data), updated_at = NOW()
		WHERE id = $1 AND payment_status = 'pending' AND status = 'pending'`

	result, err := r.db.ExecContext(ctx, query, id, payment, status, qrCodeData)
	if err != nil {
		return fmt.Errorf("failed to set payment outcome for registration %d: %w", id, err)
	}
	return checkAffectedRows(result, ErrRegistrationStateConflict)
}

func (r *postgresRegistrationRepository) SetCancelled(ctx context.Context, id int) error {
	query := `
		UPDATE registrations
		SET status = 'cancelled', updated_at = NOW()
		WHERE id = $1 AND status = 'confirmed'`

	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to cancel registration %d: %w", id, err)
	}
	return checkAffectedRows(result, ErrRegistrationStateConflict)
}

func (r *postgresRegistrationRepository) SetAttended(ctx context.Context, id int, at time.Time, overrideReason *string, overrideByID *int) error {
	query := `
		UPDATE registrations
		SET status = 'attended', attended = TRUE, attended_at = $2,
		    override_reason = $3, override_by_id = $4,
		    override_at = CASE WHEN $3 IS NULL THEN NULL ELSE $2 END,
		    updated_at = NOW()
		WHERE id = $1 AND status = 'confirmed' AND NOT attended`

	result, err := r.db.ExecContext(ctx, query, id, at, overrideReason, overrideByID)
	if err != nil {
		return fmt.Errorf("failed to mark registration %d attended: %w", id, err)
	}
	return checkAffectedRows(result, ErrRegistrationStateConflict)
}

func (r *postgresRegistrationRepository) UpdateProofKey(ctx context.Context, id int, proofKey string) error {
	// Re-asserts payment_status = pending. Only payment-gated
	// registrations still awaiting a decision carry proofs; flipping an
	// approved payment back to pending would contradict the issued QR.
	query := `
		UPDATE registrations
		SET payment_proof_key = $2, payment_status = 'pending', updated_at = NOW()
		WHERE id = $1 AND status = 'pending'`

	result, err := r.db.ExecContext(ctx, query, id, proofKey)
	if err != nil {
		return fmt.Errorf("failed to update proof key for registration %d: %w", id, err)
	}
	return checkAffectedRows(result, ErrRegistrationStateConflict)
}
