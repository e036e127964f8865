package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"festra/models"
)

var (
	ErrVariantNotFound      = errors.New("variant not found")
	ErrInsufficientStock    = errors.New("insufficient stock for variant")
	ErrReservationNotFound  = errors.New("reservation not found")
	ErrReservationFinalized = errors.New("reservation already finalized")
	ErrReservationReleased  = errors.New("reservation already released")
)

// VariantRepository is the inventory ledger. Every stock mutation goes
// through a single conditional statement on the variant row, so callers
// never read-then-write stock or sold themselves.
type VariantRepository interface {
	CreateVariant(ctx context.Context, exec SQLExecutor, v *models.Variant) error
	GetVariant(ctx context.Context, id int) (*models.Variant, error)

	// Reserve decrements stock where stock >= qty and records a held
	// reservation, all in one transaction. Fails ErrInsufficientStock.
	Reserve(ctx context.Context, eventID, variantID, qty int) (*models.Reservation, error)

	// AttachRegistration links a held reservation to the registration it
	// now backs.
	AttachRegistration(ctx context.Context, reservationID, registrationID int) error

	// Finalize converts held -> finalized and bumps sold. A second call
	// fails ErrReservationFinalized.
	Finalize(ctx context.Context, reservationID int) error

	// Release converts held -> released and restores stock. Releasing an
	// already-released reservation is a no-op.
	Release(ctx context.Context, reservationID int) error

	// Refund converts finalized -> released, restoring stock and
	// reversing sold (cancel after payment approval). Idempotent on
	// released reservations.
	Refund(ctx context.Context, reservationID int) error

	// CreditImmediate moves qty from stock straight into sold in one
	// atomic step and records an already-finalized reservation, for
	// events that skip payment approval.
	CreditImmediate(ctx context.Context, eventID, variantID, qty int) (*models.Reservation, error)

	GetActiveReservationByRegistration(ctx context.Context, registrationID int) (*models.Reservation, error)
}

type postgresVariantRepository struct {
	db *sql.DB
}

func NewPostgresVariantRepository(db *sql.DB) VariantRepository {
	return &postgresVariantRepository{db: db}
}

func (r *postgresVariantRepository) CreateVariant(ctx context.Context, exec SQLExecutor, v *models.Variant) error {
	executor := SQLExecutor(r.db)
	if exec != nil {
		executor = exec
	}
	query := `
		INSERT INTO event_variants (event_id, name, price, stock, sold, initial_capacity)
		VALUES ($1, $2, $3, $4, 0, $4)
		RETURNING id, sold, initial_capacity, created_at`

	err := executor.QueryRowContext(ctx, query, v.EventID, v.Name, v.Price, v.Stock).
		Scan(&v.ID, &v.Sold, &v.InitialCapacity, &v.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create variant: %w", err)
	}
	return nil
}

func (r *postgresVariantRepository) GetVariant(ctx context.Context, id int) (*models.Variant, error) {
	query := `
		SELECT id, event_id, name, price, stock, sold, initial_capacity, created_at
		FROM event_variants
		WHERE id = $1`

	v := &models.Variant{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&v.ID, &v.EventID, &v.Name, &v.Price, &v.Stock, &v.Sold, &v.InitialCapacity, &v.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrVariantNotFound
		}
		return nil, fmt.Errorf("failed to get variant %d: %w", id, err)
	}
	return v, nil
}

func (r *postgresVariantRepository) Reserve(ctx context.Context, eventID, variantID, qty int) (*models.Reservation, error) {
	var res *models.Reservation
	err := WithTx(ctx, r.db, func(tx *sql.Tx) error {
		// The guard and the decrement are one statement; two concurrent
		// reserves cannot both pass on the last units.
		decrement := `
			UPDATE event_variants
			SET stock = stock - $3
			WHERE id = $2 AND event_id = $1 AND stock >= $3`

		result, err := tx.ExecContext(ctx, decrement, eventID, variantID, qty)
		if err != nil {
			return fmt.Errorf("failed to decrement stock: %w", err)
		}
		if err := checkAffectedRows(result, ErrInsufficientStock); err != nil {
			return err
		}

		insert := `
			INSERT INTO reservations (event_id, variant_id, quantity, status)
			VALUES ($1, $2, $3, 'held')
			RETURNING id, created_at`

		res = &models.Reservation{
			EventID:   eventID,
			VariantID: variantID,
			Quantity:  qty,
			Status:    models.ReservationHeld,
		}
		if err := tx.QueryRowContext(ctx, insert, eventID, variantID, qty).Scan(&res.ID, &res.CreatedAt); err != nil {
			return fmt.Errorf("failed to record reservation: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (r *postgresVariantRepository) AttachRegistration(ctx context.Context, reservationID, registrationID int) error {
	query := `UPDATE reservations SET registration_id = $2 WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, reservationID, registrationID)
	if err != nil {
		return fmt.Errorf("failed to attach registration to reservation %d: %w", reservationID, err)
	}
	return checkAffectedRows(result, ErrReservationNotFound)
}

// resolve performs a guarded reservation status transition and applies the
// matching counter adjustment to the variant row.
func (r *postgresVariantRepository) resolve(ctx context.Context, reservationID int, from, to models.ReservationStatus, counterUpdate string) (resolved bool, prior models.ReservationStatus, err error) {
	err = WithTx(ctx, r.db, func(tx *sql.Tx) error {
		transition := `
			UPDATE reservations
			SET status = $3, resolved_at = NOW()
			WHERE id = $1 AND status = $2
			RETURNING variant_id, quantity`

		var variantID, qty int
		scanErr := tx.QueryRowContext(ctx, transition, reservationID, from, to).Scan(&variantID, &qty)
		if scanErr != nil {
			if errors.Is(scanErr, sql.ErrNoRows) {
				// Guard failed: report the actual status so the caller
				// can distinguish idempotent repeats from misuse.
				stErr := tx.QueryRowContext(ctx,
					`SELECT status FROM reservations WHERE id = $1`, reservationID).Scan(&prior)
				if errors.Is(stErr, sql.ErrNoRows) {
					return ErrReservationNotFound
				}
				if stErr != nil {
					return fmt.Errorf("failed to read reservation %d status: %w", reservationID, stErr)
				}
				return nil
			}
			return fmt.Errorf("failed to transition reservation %d: %w", reservationID, scanErr)
		}

		resolved = true
		if _, err := tx.ExecContext(ctx, counterUpdate, variantID, qty); err != nil {
			return fmt.Errorf("failed to adjust variant counters: %w", err)
		}
		return nil
	})
	return resolved, prior, err
}

func (r *postgresVariantRepository) Finalize(ctx context.Context, reservationID int) error {
	resolved, prior, err := r.resolve(ctx, reservationID,
		models.ReservationHeld, models.ReservationFinalized,
		`UPDATE event_variants SET sold = sold + $2 WHERE id = $1`)
	if err != nil {
		return err
	}
	if resolved {
		return nil
	}
	switch prior {
	case models.ReservationFinalized:
		return ErrReservationFinalized
	case models.ReservationReleased:
		return ErrReservationReleased
	default:
		return ErrReservationNotFound
	}
}

func (r *postgresVariantRepository) Release(ctx context.Context, reservationID int) error {
	resolved, prior, err := r.resolve(ctx, reservationID,
		models.ReservationHeld, models.ReservationReleased,
		`UPDATE event_variants SET stock = stock + $2 WHERE id = $1`)
	if err != nil {
		return err
	}
	if resolved || prior == models.ReservationReleased {
		return nil // idempotent
	}
	if prior == models.ReservationFinalized {
		return ErrReservationFinalized
	}
	return ErrReservationNotFound
}

func (r *postgresVariantRepository) Refund(ctx context.Context, reservationID int) error {
	resolved, prior, err := r.resolve(ctx, reservationID,
		models.ReservationFinalized, models.ReservationReleased,
		`UPDATE event_variants SET stock = stock + $2, sold = sold - $2 WHERE id = $1`)
	if err != nil {
		return err
	}
	if resolved || prior == models.ReservationReleased {
		return nil
	}
	if prior == models.ReservationHeld {
		// A held reservation is released, not refunded.
		return fmt.Errorf("reservation %d is still held, use Release", reservationID)
	}
	return ErrReservationNotFound
}

func (r *postgresVariantRepository) CreditImmediate(ctx context.Context, eventID, variantID, qty int) (*models.Reservation, error) {
	var res *models.Reservation
	err := WithTx(ctx, r.db, func(tx *sql.Tx) error {
		credit := `
			UPDATE event_variants
			SET stock = stock - $3, sold = sold + $3
			WHERE id = $2 AND event_id = $1 AND stock >= $3`

		result, err := tx.ExecContext(ctx, credit, eventID, variantID, qty)
		if err != nil {
			return fmt.Errorf("failed to credit stock: %w", err)
		}
		if err := checkAffectedRows(result, ErrInsufficientStock); err != nil {
			return err
		}

		insert := `
			INSERT INTO reservations (event_id, variant_id, quantity, status, resolved_at)
			VALUES ($1, $2, $3, 'finalized', NOW())
			RETURNING id, created_at`

		res = &models.Reservation{
			EventID:   eventID,
			VariantID: variantID,
			Quantity:  qty,
			Status:    models.ReservationFinalized,
		}
		if err := tx.QueryRowContext(ctx, insert, eventID, variantID, qty).Scan(&res.ID, &res.CreatedAt); err != nil {
			return fmt.Errorf("failed to record finalized reservation: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (r *postgresVariantRepository) GetActiveReservationByRegistration(ctx context.Context, registrationID int) (*models.Reservation, error) {
	query := `
		SELECT id, registration_id, event_id, variant_id, quantity, status, created_at, resolved_at
		FROM reservations
		WHERE registration_id = $1 AND status IN ('held', 'finalized')
		ORDER BY created_at DESC
		LIMIT 1`

	res := &models.Reservation{}
	err := r.db.QueryRowContext(ctx, query, registrationID).Scan(
		&res.ID, &res.RegistrationID, &res.EventID, &res.VariantID,
		&res.Quantity, &res.Status, &res.CreatedAt, &res.ResolvedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrReservationNotFound
		}
		return nil, fmt.Errorf("failed to get reservation for registration %d: %w", registrationID, err)
	}
	return res, nil
}
