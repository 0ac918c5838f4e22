/**
 * @description
 * PostgreSQL implementation of the `Repository` interface. This file holds
 * the booking, agent, and wallet-view queries plus the two guarded
 * compare-and-set transitions that the assignment arbiter and the expiry
 * watchdog race on. The multi-leg ledger transactions live in
 * postgres_ledger.go.
 *
 * @dependencies
 * - context, errors, fmt, time: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/groomnet/dispatch-service/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrBookingNotFound     = errors.New("booking not found")
	ErrBookingConflict     = errors.New("booking already taken or no longer offerable")
	ErrAgentNotFound       = errors.New("agent not found")
	ErrCustomerNotFound    = errors.New("customer not found")
	ErrPaymentNotFound     = errors.New("payment not found")
	ErrWalletNotFound      = errors.New("wallet not found")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrAlreadyReleased     = errors.New("payment already released to agent")
	ErrInvalidTravelMove   = errors.New("travel status may only move forward")
	ErrCancellationBlocked = errors.New("cancellation not allowed for current status")
	ErrNotAssignedAgent    = errors.New("booking is assigned to a different agent")
	ErrInvalidState        = errors.New("action invalid for current booking status")
)

const bookingColumns = `id, customer_id, agent_id, service_id, address_id, status, travel_status,
       booking_kind, total_amount, created_at, service_started_at, completed_at`

const paymentColumns = `id, booking_id, method, status, service_amount, platform_fee, discount,
       final_amount, is_released_to_agent, released_at, transaction_id, created_at, updated_at`

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func scanBooking(row pgx.Row) (*domain.Booking, error) {
	var b domain.Booking
	err := row.Scan(
		&b.ID, &b.CustomerID, &b.AgentID, &b.ServiceID, &b.AddressID, &b.Status, &b.TravelStatus,
		&b.Kind, &b.TotalAmount, &b.CreatedAt, &b.ServiceStartedAt, &b.CompletedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrBookingNotFound
		}
		return nil, err
	}
	return &b, nil
}

func scanPayment(row pgx.Row) (*domain.Payment, error) {
	var p domain.Payment
	err := row.Scan(
		&p.ID, &p.BookingID, &p.Method, &p.Status, &p.ServiceAmount, &p.PlatformFee, &p.Discount,
		&p.FinalAmount, &p.IsReleasedToAgent, &p.ReleasedAt, &p.TransactionID, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return &p, nil
}

// FindBookingByID retrieves a booking without locking it.
func (r *PostgresRepository) FindBookingByID(ctx context.Context, bookingID uuid.UUID) (*domain.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = $1`
	return scanBooking(r.db.QueryRow(ctx, query, bookingID))
}

// AssignAgent performs the single atomic compare-and-set that grants a
// booking to exactly one agent. The booking row is locked, the guard
// (PENDING, unassigned, INSTANT) is re-checked under the lock, and only then
// is the agent recorded and the status confirmed. Every other path that can
// claim the booking (the expiry watchdog) uses the identical guard, so at
// most one of them wins.
func (r *PostgresRepository) AssignAgent(ctx context.Context, bookingID, agentID uuid.UUID) (*domain.Booking, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	booking, err := lockOfferableBooking(ctx, tx, bookingID)
	if err != nil {
		return nil, err
	}

	updateQuery := `
		UPDATE bookings
		SET agent_id = $2, status = $3, travel_status = $4
		WHERE id = $1
		RETURNING ` + bookingColumns
	booking, err = scanBooking(tx.QueryRow(ctx, updateQuery, bookingID, agentID,
		domain.BookingConfirmed, domain.TravelNotStarted))
	if err != nil {
		return nil, fmt.Errorf("failed to assign agent: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit assignment: %w", err)
	}
	return booking, nil
}

// lockOfferableBooking locks the booking row and validates the shared guard:
// status = PENDING, no agent assigned, instant kind.
func lockOfferableBooking(ctx context.Context, tx pgx.Tx, bookingID uuid.UUID) (*domain.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = $1 FOR UPDATE`
	booking, err := scanBooking(tx.QueryRow(ctx, query, bookingID))
	if err != nil {
		return nil, err
	}
	if booking.Status != domain.BookingPending || booking.AgentID != nil || booking.Kind != domain.KindInstant {
		return nil, ErrBookingConflict
	}
	return booking, nil
}

// AdvanceTravelStatus moves the travel status strictly forward. The booking
// row is locked so concurrent updates from a flaky client serialize; the
// forward-only rule is enforced via the domain state machine.
func (r *PostgresRepository) AdvanceTravelStatus(ctx context.Context, bookingID, agentID uuid.UUID, to domain.TravelStatus) (*domain.Booking, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = $1 FOR UPDATE`
	booking, err := scanBooking(tx.QueryRow(ctx, query, bookingID))
	if err != nil {
		return nil, err
	}
	if booking.AgentID == nil || *booking.AgentID != agentID {
		return nil, ErrNotAssignedAgent
	}
	if !booking.CanAdvanceTravel(to) {
		return nil, ErrInvalidTravelMove
	}

	updateQuery := `
		UPDATE bookings
		SET travel_status = $2,
		    service_started_at = CASE WHEN $2 = 'STARTED' THEN NOW() ELSE service_started_at END
		WHERE id = $1
		RETURNING ` + bookingColumns
	booking, err = scanBooking(tx.QueryRow(ctx, updateQuery, bookingID, to))
	if err != nil {
		return nil, fmt.Errorf("failed to advance travel status: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit travel status: %w", err)
	}
	return booking, nil
}

// CompleteBooking transitions CONFIRMED -> COMPLETED for the assigned agent
// and stamps completed_at. Terminal bookings are immutable.
func (r *PostgresRepository) CompleteBooking(ctx context.Context, bookingID, agentID uuid.UUID) (*domain.Booking, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = $1 FOR UPDATE`
	booking, err := scanBooking(tx.QueryRow(ctx, query, bookingID))
	if err != nil {
		return nil, err
	}
	if booking.AgentID == nil || *booking.AgentID != agentID {
		return nil, ErrNotAssignedAgent
	}
	if !domain.CanTransitionStatus(booking.Status, domain.BookingCompleted) {
		return nil, ErrInvalidState
	}

	updateQuery := `
		UPDATE bookings
		SET status = $2, completed_at = NOW()
		WHERE id = $1
		RETURNING ` + bookingColumns
	booking, err = scanBooking(tx.QueryRow(ctx, updateQuery, bookingID, domain.BookingCompleted))
	if err != nil {
		return nil, fmt.Errorf("failed to complete booking: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit completion: %w", err)
	}
	return booking, nil
}

// FindStalePendingInstantBookings returns pending unassigned instant bookings
// older than the dispatch window. The cron sweep finalizes these when the
// in-process timer was lost to a restart.
func (r *PostgresRepository) FindStalePendingInstantBookings(ctx context.Context, olderThan time.Duration, limit int) ([]domain.Booking, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT ` + bookingColumns + `
		FROM bookings
		WHERE status = 'PENDING'
		  AND agent_id IS NULL
		  AND booking_kind = 'INSTANT'
		  AND created_at < NOW() - ($1 * INTERVAL '1 second')
		ORDER BY created_at ASC
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, int64(olderThan.Seconds()), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bookings []domain.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, *b)
	}
	return bookings, rows.Err()
}

// FindEligibleAgents computes the candidate set for a pending instant
// booking: active, unblocked agents with an active listing for the requested
// service, excluding anyone with a live instant job, anyone whose next
// scheduled booking starts within the safety buffer, and anyone who already
// rejected this booking. Candidates are ordered by ascending agent id so the
// cascade is deterministic.
func (r *PostgresRepository) FindEligibleAgents(ctx context.Context, bookingID uuid.UUID, scheduleBuffer time.Duration) ([]domain.Agent, error) {
	query := `
		SELECT a.id, a.name, a.phone, a.photo_url, a.is_active, a.is_blocked, a.created_at
		FROM agents a
		JOIN bookings b ON b.id = $1
		JOIN service_listings sl
		  ON sl.agent_id = a.id AND sl.service_id = b.service_id AND sl.is_active
		WHERE a.is_active
		  AND NOT a.is_blocked
		  AND NOT EXISTS (
			SELECT 1 FROM bookings live
			WHERE live.agent_id = a.id
			  AND live.booking_kind = 'INSTANT'
			  AND live.status IN ('PENDING', 'CONFIRMED')
		  )
		  AND NOT EXISTS (
			SELECT 1 FROM bookings sched
			WHERE sched.agent_id = a.id
			  AND sched.booking_kind = 'SCHEDULED'
			  AND sched.status IN ('PENDING', 'CONFIRMED')
			  AND sched.service_started_at >= NOW()
			  AND sched.service_started_at < NOW() + ($2 * INTERVAL '1 second')
		  )
		  AND NOT EXISTS (
			SELECT 1 FROM booking_rejections rej
			WHERE rej.booking_id = b.id AND rej.agent_id = a.id
		  )
		ORDER BY a.id ASC
	`
	rows, err := r.db.Query(ctx, query, bookingID, int64(scheduleBuffer.Seconds()))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var agents []domain.Agent
	for rows.Next() {
		var a domain.Agent
		if err := rows.Scan(&a.ID, &a.Name, &a.Phone, &a.PhotoURL, &a.IsActive, &a.IsBlocked, &a.CreatedAt); err != nil {
			return nil, err
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

// RecordRejection remembers that an agent declined a booking so the cascade
// never re-offers it to them. Repeat rejections are idempotent.
func (r *PostgresRepository) RecordRejection(ctx context.Context, bookingID, agentID uuid.UUID) error {
	query := `
		INSERT INTO booking_rejections (booking_id, agent_id, created_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (booking_id, agent_id) DO NOTHING
	`
	_, err := r.db.Exec(ctx, query, bookingID, agentID)
	return err
}

// AgentHasActiveInstantBooking reports whether the agent holds a live
// instant job (at most one is allowed).
func (r *PostgresRepository) AgentHasActiveInstantBooking(ctx context.Context, agentID uuid.UUID) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM bookings
			WHERE agent_id = $1
			  AND booking_kind = 'INSTANT'
			  AND status IN ('PENDING', 'CONFIRMED')
		)
	`
	var exists bool
	err := r.db.QueryRow(ctx, query, agentID).Scan(&exists)
	return exists, err
}

// AgentHasUpcomingScheduledBooking reports whether the agent's next
// scheduled booking starts within the given window.
func (r *PostgresRepository) AgentHasUpcomingScheduledBooking(ctx context.Context, agentID uuid.UUID, within time.Duration) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM bookings
			WHERE agent_id = $1
			  AND booking_kind = 'SCHEDULED'
			  AND status IN ('PENDING', 'CONFIRMED')
			  AND service_started_at >= NOW()
			  AND service_started_at < NOW() + ($2 * INTERVAL '1 second')
		)
	`
	var exists bool
	err := r.db.QueryRow(ctx, query, agentID, int64(within.Seconds())).Scan(&exists)
	return exists, err
}

// FindAgentByID retrieves an agent's dispatch-relevant profile.
func (r *PostgresRepository) FindAgentByID(ctx context.Context, agentID uuid.UUID) (*domain.Agent, error) {
	var a domain.Agent
	query := `SELECT id, name, phone, photo_url, is_active, is_blocked, created_at FROM agents WHERE id = $1`
	err := r.db.QueryRow(ctx, query, agentID).Scan(&a.ID, &a.Name, &a.Phone, &a.PhotoURL, &a.IsActive, &a.IsBlocked, &a.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrAgentNotFound
		}
		return nil, err
	}
	return &a, nil
}

// FindCustomerByID retrieves the customer fields used in offer payloads.
func (r *PostgresRepository) FindCustomerByID(ctx context.Context, customerID uuid.UUID) (*domain.Customer, error) {
	var c domain.Customer
	query := `SELECT id, name, phone FROM customers WHERE id = $1`
	err := r.db.QueryRow(ctx, query, customerID).Scan(&c.ID, &c.Name, &c.Phone)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrCustomerNotFound
		}
		return nil, err
	}
	return &c, nil
}

// GetOfferDetails builds the denormalized offer payload for one booking.
func (r *PostgresRepository) GetOfferDetails(ctx context.Context, bookingID uuid.UUID) (*domain.OfferDetails, error) {
	var d domain.OfferDetails
	query := `
		SELECT b.id, s.name, s.price, c.name,
		       addr.building || ', ' || addr.street || ', ' || addr.city,
		       b.total_amount
		FROM bookings b
		JOIN services s ON s.id = b.service_id
		JOIN customers c ON c.id = b.customer_id
		JOIN addresses addr ON addr.id = b.address_id
		WHERE b.id = $1
	`
	err := r.db.QueryRow(ctx, query, bookingID).Scan(
		&d.BookingID, &d.ServiceName, &d.ServicePrice, &d.CustomerName, &d.AddressSummary, &d.TotalAmount,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrBookingNotFound
		}
		return nil, err
	}
	return &d, nil
}

// FindPaymentByBookingID retrieves the payment row for a booking.
func (r *PostgresRepository) FindPaymentByBookingID(ctx context.Context, bookingID uuid.UUID) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE booking_id = $1`
	return scanPayment(r.db.QueryRow(ctx, query, bookingID))
}

// MarkPaymentCaptured records a successful external card capture.
func (r *PostgresRepository) MarkPaymentCaptured(ctx context.Context, bookingID uuid.UUID, processorRef string) (*domain.Payment, error) {
	query := `
		UPDATE payments
		SET status = $2, transaction_id = $3, updated_at = NOW()
		WHERE booking_id = $1
		RETURNING ` + paymentColumns
	return scanPayment(r.db.QueryRow(ctx, query, bookingID, domain.PaymentSuccess, processorRef))
}

// MarkPaymentFailed records a failed external card capture. The booking
// itself is untouched; reconciliation is an operator concern.
func (r *PostgresRepository) MarkPaymentFailed(ctx context.Context, bookingID uuid.UUID) error {
	query := `UPDATE payments SET status = $2, updated_at = NOW() WHERE booking_id = $1`
	result, err := r.db.Exec(ctx, query, bookingID, domain.PaymentFailed)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrPaymentNotFound
	}
	return nil
}

// FindWallet loads a wallet row by kind and owner. Pass a nil owner for the
// singleton platform wallet.
func (r *PostgresRepository) FindWallet(ctx context.Context, kind domain.WalletKind, ownerID *uuid.UUID) (*domain.Wallet, error) {
	var w domain.Wallet
	var row pgx.Row
	if ownerID == nil {
		row = r.db.QueryRow(ctx, `SELECT id, kind, owner_id, balance, created_at FROM wallets WHERE kind = $1`, kind)
	} else {
		row = r.db.QueryRow(ctx, `SELECT id, kind, owner_id, balance, created_at FROM wallets WHERE kind = $1 AND owner_id = $2`, kind, *ownerID)
	}
	err := row.Scan(&w.ID, &w.Kind, &w.OwnerID, &w.Balance, &w.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrWalletNotFound
		}
		return nil, err
	}
	return &w, nil
}

// ListWalletTransactions returns the most recent ledger entries for a wallet.
func (r *PostgresRepository) ListWalletTransactions(ctx context.Context, walletID uuid.UUID, limit int) ([]domain.WalletTransaction, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query := `
		SELECT id, wallet_id, amount, note, created_at
		FROM wallet_transactions
		WHERE wallet_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, walletID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txns []domain.WalletTransaction
	for rows.Next() {
		var t domain.WalletTransaction
		if err := rows.Scan(&t.ID, &t.WalletID, &t.Amount, &t.Note, &t.CreatedAt); err != nil {
			return nil, err
		}
		txns = append(txns, t)
	}
	return txns, rows.Err()
}
