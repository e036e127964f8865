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
	ErrEventNotFound     = errors.New("event not found")
	ErrEventNameConflict = errors.New("event name conflict for this organizer")
	ErrEventFull         = errors.New("event registration limit reached")
	ErrEventInvalidOrg   = errors.New("invalid organizer reference")
)

type ListEventsFilter struct {
	Type        *models.EventType
	Status      *models.EventStatus
	OrganizerID *int
	Limit       int
	Offset      int
}

type EventRepository interface {
	Create(ctx context.Context, event *models.Event) error
	GetByID(ctx context.Context, id int) (*models.Event, error)
	GetByIDWithVariants(ctx context.Context, id int) (*models.Event, error)
	List(ctx context.Context, filter ListEventsFilter) ([]models.Event, error)
	Update(ctx context.Context, event *models.Event) error
	UpdateStatus(ctx context.Context, exec SQLExecutor, id int, status models.EventStatus) error

	// IncrementCountIfCapacity bumps registration_count only while it is
	// below registration_limit, as one conditional statement. Returns
	// ErrEventFull when the guard fails.
	IncrementCountIfCapacity(ctx context.Context, exec SQLExecutor, id int) error

	// AdjustRegistrationCount applies a delta without a capacity guard
	// (used for decrements on cancel/reject). The count never drops
	// below zero.
	AdjustRegistrationCount(ctx context.Context, exec SQLExecutor, id int, delta int) error

	// LockForm freezes the custom form after the first registration.
	LockForm(ctx context.Context, exec SQLExecutor, id int) error

	GetEventsForAutoStatusUpdate(ctx context.Context, now time.Time) ([]*models.Event, error)
}

type postgresEventRepository struct {
	db *sql.DB
}

func NewPostgresEventRepository(db *sql.DB) EventRepository {
	return &postgresEventRepository{db: db}
}

func (r *postgresEventRepository) getExecutor(exec SQLExecutor) SQLExecutor {
	if exec != nil {
		return exec
	}
	return r.db
}

const eventColumns = `
	id, name, description, type, status, organizer_id, eligibility, fee,
	registration_limit, registration_count, registration_deadline,
	start_date, end_date, location, requires_payment_approval,
	purchase_limit, is_team_event, min_team_size, max_team_size,
	form_fields, form_locked, created_at`

func (r *postgresEventRepository) Create(ctx context.Context, e *models.Event) error {
	formJSON, err := json.Marshal(e.FormFields)
	if err != nil {
		return fmt.Errorf("failed to marshal form fields: %w", err)
	}

	query := `
		INSERT INTO events (
			name, description, type, status, organizer_id, eligibility, fee,
			registration_limit, registration_deadline, start_date, end_date,
			location, requires_payment_approval, purchase_limit,
			is_team_event, min_team_size, max_team_size, form_fields
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		RETURNING id, registration_count, form_locked, created_at`

	err = r.db.QueryRowContext(ctx, query,
		e.Name, e.Description, e.Type, e.Status, e.OrganizerID, e.Eligibility, e.Fee,
		e.RegistrationLimit, e.RegistrationDeadline, e.StartDate, e.EndDate,
		e.Location, e.RequiresPaymentApproval, e.PurchaseLimit,
		e.IsTeamEvent, e.MinTeamSize, e.MaxTeamSize, formJSON,
	).Scan(&e.ID, &e.RegistrationCount, &e.FormLocked, &e.CreatedAt)

	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok {
			switch pqErr.Code {
			case "23505":
				if pqErr.Constraint == "events_organizer_id_name_key" {
					return ErrEventNameConflict
				}
			case "23503":
				if pqErr.Constraint == "events_organizer_id_fkey" {
					return ErrEventInvalidOrg
				}
			}
		}
		return fmt.Errorf("failed to create event: %w", err)
	}
	return nil
}

func (r *postgresEventRepository) scanEvent(scanner interface {
	Scan(dest ...interface{}) error
}) (*models.Event, error) {
	e := &models.Event{}
	var formJSON []byte
	err := scanner.Scan(
		&e.ID, &e.Name, &e.Description, &e.Type, &e.Status, &e.OrganizerID,
		&e.Eligibility, &e.Fee, &e.RegistrationLimit, &e.RegistrationCount,
		&e.RegistrationDeadline, &e.StartDate, &e.EndDate, &e.Location,
		&e.RequiresPaymentApproval, &e.PurchaseLimit, &e.IsTeamEvent,
		&e.MinTeamSize, &e.MaxTeamSize, &formJSON, &e.FormLocked, &e.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEventNotFound
		}
		return nil, fmt.Errorf("failed to scan event: %w", err)
	}
	if len(formJSON) > 0 {
		if err := json.Unmarshal(formJSON, &e.FormFields); err != nil {
			return nil, fmt.Errorf("failed to unmarshal form fields for event %d: %w", e.ID, err)
		}
	}
	return e, nil
}

func (r *postgresEventRepository) GetByID(ctx context.Context, id int) (*models.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE id = $1`
	return r.scanEvent(r.db.QueryRowContext(ctx, query, id))
}

func (r *postgresEventRepository) GetByIDWithVariants(ctx context.Context, id int) (*models.Event, error) {
	event, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT id, event_id, name, price, stock, sold, initial_capacity, created_at
		FROM event_variants
		WHERE event_id = $1
		ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list variants for event %d: %w", id, err)
	}
	defer rows.Close()

	for rows.Next() {
		var v models.Variant
		if err := rows.Scan(&v.ID, &v.EventID, &v.Name, &v.Price, &v.Stock, &v.Sold, &v.InitialCapacity, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan variant row: %w", err)
		}
		event.Variants = append(event.Variants, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating variant rows: %w", err)
	}
	return event, nil
}

func (r *postgresEventRepository) List(ctx context.Context, filter ListEventsFilter) ([]models.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE 1=1`
	args := []interface{}{}
	argID := 1

	if filter.Type != nil {
		query += fmt.Sprintf(" AND type = $%d", argID)
		args = append(args, *filter.Type)
		argID++
	}
	if filter.Status != nil {
		query += fmt.Sprintf(" AND status = $%d", argID)
		args = append(args, *filter.Status)
		argID++
	}
	if filter.OrganizerID != nil {
		query += fmt.Sprintf(" AND organizer_id = $%d", argID)
		args = append(args, *filter.OrganizerID)
		argID++
	}
	query += " ORDER BY start_date ASC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argID)
		args = append(args, filter.Limit)
		argID++
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argID)
		args = append(args, filter.Offset)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	events := make([]models.Event, 0)
	for rows.Next() {
		e, err := r.scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating event rows: %w", err)
	}
	return events, nil
}

func (r *postgresEventRepository) Update(ctx context.Context, e *models.Event) error {
	formJSON, err := json.Marshal(e.FormFields)
	if err != nil {
		return fmt.Errorf("failed to marshal form fields: %w", err)
	}

	query := `
		UPDATE events SET
			name = $1, description = $2, eligibility = $3, fee = $4,
			registration_limit = $5, registration_deadline = $6,
			start_date = $7, end_date = $8, location = $9,
			requires_payment_approval = $10, purchase_limit = $11,
			is_team_event = $12, min_team_size = $13, max_team_size = $14,
			form_fields = $15
		WHERE id = $16`

	result, err := r.db.ExecContext(ctx, query,
		e.Name, e.Description, e.Eligibility, e.Fee,
		e.RegistrationLimit, e.RegistrationDeadline,
		e.StartDate, e.EndDate, e.Location,
		e.RequiresPaymentApproval, e.PurchaseLimit,
		e.IsTeamEvent, e.MinTeamSize, e.MaxTeamSize,
		formJSON, e.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update event %d: %w", e.ID, err)
	}
	return checkAffectedRows(result, ErrEventNotFound)
}

func (r *postgresEventRepository) UpdateStatus(ctx context.Context, exec SQLExecutor, id int, status models.EventStatus) error {
	executor := r.getExecutor(exec)
	result, err := executor.ExecContext(ctx, `UPDATE events SET status = $1 WHERE id = $2`, status, id)
	if err != nil {
		return fmt.Errorf("failed to update event status: %w", err)
	}
	return checkAffectedRows(result, ErrEventNotFound)
}

func (r *postgresEventRepository) IncrementCountIfCapacity(ctx context.Context, exec SQLExecutor, id int) error {
	executor := r.getExecutor(exec)
	// Single conditional statement: the capacity check and the increment
	// are one atomic step, so concurrent registrations cannot both pass.
	query := `
		UPDATE events
		SET registration_count = registration_count + 1
		WHERE id = $1 AND registration_count < registration_limit`

	result, err := executor.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to increment registration count: %w", err)
	}
	return checkAffectedRows(result, ErrEventFull)
}

func (r *postgresEventRepository) AdjustRegistrationCount(ctx context.Context, exec SQLExecutor, id int, delta int) error {
	executor := r.getExecutor(exec)
	query := `
		UPDATE events
		SET registration_count = GREATEST(registration_count + $2, 0)
		WHERE id = $1`

	result, err := executor.ExecContext(ctx, query, id, delta)
	if err != nil {
		return fmt.Errorf("failed to adjust registration count: %w", err)
	}
	return checkAffectedRows(result, ErrEventNotFound)
}

func (r *postgresEventRepository) LockForm(ctx context.Context, exec SQLExecutor, id int) error {
	executor := r.getExecutor(exec)
	_, err := executor.ExecContext(ctx, `UPDATE events SET form_locked = TRUE WHERE id = $1 AND NOT form_locked`, id)
	if err != nil {
		return fmt.Errorf("failed to lock event form: %w", err)
	}
	return nil
}

func (r *postgresEventRepository) GetEventsForAutoStatusUpdate(ctx context.Context, now time.Time) ([]*models.Event, error) {
	query := `SELECT ` + eventColumns + `
		FROM events
		WHERE (status = 'published' AND start_date <= $1)
		   OR (status = 'ongoing' AND end_date <= $1)`

	rows, err := r.db.QueryContext(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("failed to query events for status update: %w", err)
	}
	defer rows.Close()

	events := make([]*models.Event, 0)
	for rows.Next() {
		e, err := r.scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating event rows: %w", err)
	}
	return events, nil
}
