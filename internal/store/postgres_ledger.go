/**
 * @description
 * The ledger half of the PostgreSQL repository: capture, release-to-agent,
 * and refund. Each operation is one database transaction spanning the
 * payment status, every touched wallet balance, and the paired
 * wallet_transactions rows, so no partial application is ever observable.
 * Wallet rows are locked FOR UPDATE before any read-modify-write, which
 * serializes concurrent bookings touching the same wallet (the platform
 * wallet in particular).
 *
 * @dependencies
 * - context, fmt: Standard Go libraries.
 * - github.com/jackc/pgx/v5: Transactions and row locking.
 * - internal/domain: Money arithmetic and models.
 */

package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/groomnet/dispatch-service/internal/domain"
	"github.com/jackc/pgx/v5"
)

// lockedWallet is a wallet row held under FOR UPDATE within a transaction.
type lockedWallet struct {
	ID      uuid.UUID
	Balance int64
}

func lockWallet(ctx context.Context, tx pgx.Tx, kind domain.WalletKind, ownerID *uuid.UUID) (*lockedWallet, error) {
	var w lockedWallet
	var row pgx.Row
	if ownerID == nil {
		row = tx.QueryRow(ctx, `SELECT id, balance FROM wallets WHERE kind = $1 FOR UPDATE`, kind)
	} else {
		row = tx.QueryRow(ctx, `SELECT id, balance FROM wallets WHERE kind = $1 AND owner_id = $2 FOR UPDATE`, kind, *ownerID)
	}
	if err := row.Scan(&w.ID, &w.Balance); err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrWalletNotFound
		}
		return nil, err
	}
	return &w, nil
}

// applyWalletDelta mutates a locked wallet's balance and writes the paired
// ledger entry in the same transaction. Amount is signed.
func applyWalletDelta(ctx context.Context, tx pgx.Tx, walletID uuid.UUID, amount int64, note string) (domain.WalletTransaction, error) {
	var txn domain.WalletTransaction
	if _, err := tx.Exec(ctx, `UPDATE wallets SET balance = balance + $2 WHERE id = $1`, walletID, amount); err != nil {
		return txn, fmt.Errorf("failed to update wallet balance: %w", err)
	}
	query := `
		INSERT INTO wallet_transactions (id, wallet_id, amount, note, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		RETURNING id, wallet_id, amount, note, created_at
	`
	err := tx.QueryRow(ctx, query, uuid.New(), walletID, amount, note).Scan(
		&txn.ID, &txn.WalletID, &txn.Amount, &txn.Note, &txn.CreatedAt,
	)
	if err != nil {
		return txn, fmt.Errorf("failed to record wallet transaction: %w", err)
	}
	return txn, nil
}

func lockPaymentByBooking(ctx context.Context, tx pgx.Tx, bookingID uuid.UUID) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE booking_id = $1 FOR UPDATE`
	return scanPayment(tx.QueryRow(ctx, query, bookingID))
}

func setPaymentStatus(ctx context.Context, tx pgx.Tx, paymentID uuid.UUID, status domain.PaymentStatus) (*domain.Payment, error) {
	query := `
		UPDATE payments
		SET status = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING ` + paymentColumns
	return scanPayment(tx.QueryRow(ctx, query, paymentID, status))
}

// CaptureWalletPayment collects a wallet-method payment at assignment time:
// debit the customer wallet by the final amount, credit the platform wallet
// by the same, mark the payment SUCCESS. One transaction, one ledger entry
// per wallet.
func (r *PostgresRepository) CaptureWalletPayment(ctx context.Context, bookingID uuid.UUID) (*domain.Payment, []domain.WalletTransaction, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	payment, err := lockPaymentByBooking(ctx, tx, bookingID)
	if err != nil {
		return nil, nil, err
	}
	if payment.Status != domain.PaymentPending {
		return nil, nil, ErrInvalidState
	}

	var customerID uuid.UUID
	if err := tx.QueryRow(ctx, `SELECT customer_id FROM bookings WHERE id = $1`, bookingID).Scan(&customerID); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil, ErrBookingNotFound
		}
		return nil, nil, err
	}

	customerWallet, err := lockWallet(ctx, tx, domain.WalletCustomer, &customerID)
	if err != nil {
		return nil, nil, err
	}
	if customerWallet.Balance < payment.FinalAmount {
		return nil, nil, ErrInsufficientFunds
	}
	platformWallet, err := lockWallet(ctx, tx, domain.WalletPlatform, nil)
	if err != nil {
		return nil, nil, err
	}

	note := fmt.Sprintf("Payment for booking %s", bookingID)
	debit, err := applyWalletDelta(ctx, tx, customerWallet.ID, -payment.FinalAmount, note)
	if err != nil {
		return nil, nil, err
	}
	credit, err := applyWalletDelta(ctx, tx, platformWallet.ID, payment.FinalAmount, note)
	if err != nil {
		return nil, nil, err
	}

	payment, err = setPaymentStatus(ctx, tx, payment.ID, domain.PaymentSuccess)
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("failed to commit capture: %w", err)
	}
	return payment, []domain.WalletTransaction{debit, credit}, nil
}

// ReleaseToAgent pays out the agent's earned share after completion. The
// release flag is checked and flipped under the payment row lock, so two
// concurrent release attempts move funds exactly once. For card and wallet
// payments the platform pays the agent's share; for cash on delivery the
// agent already holds the money, so the platform collects its fee from the
// agent instead.
func (r *PostgresRepository) ReleaseToAgent(ctx context.Context, bookingID uuid.UUID) (*domain.Payment, []domain.WalletTransaction, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	payment, err := lockPaymentByBooking(ctx, tx, bookingID)
	if err != nil {
		return nil, nil, err
	}
	if payment.IsReleasedToAgent {
		return nil, nil, ErrAlreadyReleased
	}

	// The booking row is locked alongside the payment so a concurrent
	// cancellation cannot slip between the status check and the payout.
	// Funds only ever move for a booking that actually reached COMPLETED;
	// a premature or replayed completion event is refused here.
	var agentID *uuid.UUID
	var bookingStatus domain.BookingStatus
	lockQuery := `SELECT agent_id, status FROM bookings WHERE id = $1 FOR UPDATE`
	if err := tx.QueryRow(ctx, lockQuery, bookingID).Scan(&agentID, &bookingStatus); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil, ErrBookingNotFound
		}
		return nil, nil, err
	}
	if agentID == nil || bookingStatus != domain.BookingCompleted {
		return nil, nil, ErrInvalidState
	}

	var txns []domain.WalletTransaction
	agentShare := payment.AgentShare()

	switch payment.Method {
	case domain.MethodCashOnDelivery:
		// The agent collected the full amount in cash; the platform takes
		// its fee from the agent's wallet.
		agentWallet, err := lockWallet(ctx, tx, domain.WalletAgent, agentID)
		if err != nil {
			return nil, nil, err
		}
		platformWallet, err := lockWallet(ctx, tx, domain.WalletPlatform, nil)
		if err != nil {
			return nil, nil, err
		}
		note := fmt.Sprintf("Platform fee for cash booking %s", bookingID)
		debit, err := applyWalletDelta(ctx, tx, agentWallet.ID, -payment.PlatformFee, note)
		if err != nil {
			return nil, nil, err
		}
		credit, err := applyWalletDelta(ctx, tx, platformWallet.ID, payment.PlatformFee, note)
		if err != nil {
			return nil, nil, err
		}
		txns = append(txns, debit, credit)
	default:
		platformWallet, err := lockWallet(ctx, tx, domain.WalletPlatform, nil)
		if err != nil {
			return nil, nil, err
		}
		if platformWallet.Balance < agentShare {
			return nil, nil, ErrInsufficientFunds
		}
		agentWallet, err := lockWallet(ctx, tx, domain.WalletAgent, agentID)
		if err != nil {
			return nil, nil, err
		}
		note := fmt.Sprintf("Payout for booking %s", bookingID)
		debit, err := applyWalletDelta(ctx, tx, platformWallet.ID, -agentShare, note)
		if err != nil {
			return nil, nil, err
		}
		credit, err := applyWalletDelta(ctx, tx, agentWallet.ID, agentShare, note)
		if err != nil {
			return nil, nil, err
		}
		txns = append(txns, debit, credit)
	}

	newStatus := payment.Status
	if payment.Method == domain.MethodCashOnDelivery {
		// Cash changes hands at service time; the payment settles here.
		newStatus = domain.PaymentSuccess
	}
	updateQuery := `
		UPDATE payments
		SET is_released_to_agent = TRUE, released_at = NOW(), status = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING ` + paymentColumns
	payment, err = scanPayment(tx.QueryRow(ctx, updateQuery, payment.ID, newStatus))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to flip release flag: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("failed to commit release: %w", err)
	}
	return payment, txns, nil
}

// ExpireUnclaimedBooking is the watchdog's half of the accept/expire race.
// It takes the same row lock and guard as AssignAgent, transitions the
// booking to CANCELLED, and reverses any pre-paid amount — all in one
// transaction, so a stranded cancelled-but-unrefunded state cannot be
// committed. A booking that already resolved returns ErrBookingConflict,
// which callers treat as a silent no-op. If nothing was captured yet the
// payment is just marked REFUNDED with no wallet legs.
func (r *PostgresRepository) ExpireUnclaimedBooking(ctx context.Context, bookingID uuid.UUID) (*ExpiryOutcome, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	booking, err := lockOfferableBooking(ctx, tx, bookingID)
	if err != nil {
		return nil, err
	}

	cancelQuery := `
		UPDATE bookings
		SET status = $2
		WHERE id = $1
		RETURNING ` + bookingColumns
	booking, err = scanBooking(tx.QueryRow(ctx, cancelQuery, bookingID, domain.BookingCancelled))
	if err != nil {
		return nil, fmt.Errorf("failed to cancel booking: %w", err)
	}

	payment, err := lockPaymentByBooking(ctx, tx, bookingID)
	if err != nil {
		return nil, err
	}
	priorStatus := payment.Status

	var txns []domain.WalletTransaction
	if payment.Status == domain.PaymentSuccess && payment.Method != domain.MethodCashOnDelivery {
		customerWallet, err := lockWallet(ctx, tx, domain.WalletCustomer, &booking.CustomerID)
		if err != nil {
			return nil, err
		}
		platformWallet, err := lockWallet(ctx, tx, domain.WalletPlatform, nil)
		if err != nil {
			return nil, err
		}
		note := fmt.Sprintf("Refund (no agents available) for booking %s", bookingID)
		credit, err := applyWalletDelta(ctx, tx, customerWallet.ID, payment.FinalAmount, note)
		if err != nil {
			return nil, err
		}
		debit, err := applyWalletDelta(ctx, tx, platformWallet.ID, -payment.FinalAmount, note)
		if err != nil {
			return nil, err
		}
		txns = append(txns, credit, debit)
	}

	payment, err = setPaymentStatus(ctx, tx, payment.ID, domain.PaymentRefunded)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit expiry: %w", err)
	}
	return &ExpiryOutcome{
		Booking:            booking,
		Payment:            payment,
		PriorPaymentStatus: priorStatus,
		Transactions:       txns,
	}, nil
}

// RefundCancellation settles a customer-initiated cancellation: a fixed
// percentage fine is withheld and credited to the assigned agent as
// compensation, the remainder is returned to the customer. For cash on
// delivery no prior charge exists, so only the fine is debited from the
// customer's wallet as a standalone charge. The travel-status guard is
// re-checked under the booking row lock.
func (r *PostgresRepository) RefundCancellation(ctx context.Context, bookingID uuid.UUID, finePercent int64) (*CancellationOutcome, error) {
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
	if booking.IsTerminal() {
		return nil, ErrInvalidState
	}
	if !booking.CustomerMayCancel() {
		return nil, ErrCancellationBlocked
	}

	payment, err := lockPaymentByBooking(ctx, tx, bookingID)
	if err != nil {
		return nil, err
	}

	refundAmount, fineAmount := domain.CancellationSplit(booking.TotalAmount, finePercent)

	customerWallet, err := lockWallet(ctx, tx, domain.WalletCustomer, &booking.CustomerID)
	if err != nil {
		return nil, err
	}

	var txns []domain.WalletTransaction
	if payment.Method != domain.MethodCashOnDelivery {
		platformWallet, err := lockWallet(ctx, tx, domain.WalletPlatform, nil)
		if err != nil {
			return nil, err
		}
		refundNote := fmt.Sprintf("Refund (emergency cancel) for booking %s", bookingID)
		credit, err := applyWalletDelta(ctx, tx, customerWallet.ID, refundAmount, refundNote)
		if err != nil {
			return nil, err
		}
		debit, err := applyWalletDelta(ctx, tx, platformWallet.ID, -refundAmount, refundNote)
		if err != nil {
			return nil, err
		}
		txns = append(txns, credit, debit)
	} else {
		fineNote := fmt.Sprintf("Cancellation fine (cash booking) %s", bookingID)
		debit, err := applyWalletDelta(ctx, tx, customerWallet.ID, -fineAmount, fineNote)
		if err != nil {
			return nil, err
		}
		txns = append(txns, debit)
	}

	if booking.AgentID != nil {
		agentWallet, err := lockWallet(ctx, tx, domain.WalletAgent, booking.AgentID)
		if err != nil {
			return nil, err
		}
		fineNote := fmt.Sprintf("Fine received for cancelled booking %s", bookingID)
		credit, err := applyWalletDelta(ctx, tx, agentWallet.ID, fineAmount, fineNote)
		if err != nil {
			return nil, err
		}
		txns = append(txns, credit)
	}

	cancelQuery := `
		UPDATE bookings
		SET status = $2
		WHERE id = $1
		RETURNING ` + bookingColumns
	booking, err = scanBooking(tx.QueryRow(ctx, cancelQuery, bookingID, domain.BookingCancelled))
	if err != nil {
		return nil, fmt.Errorf("failed to cancel booking: %w", err)
	}

	payment, err = setPaymentStatus(ctx, tx, payment.ID, domain.PaymentRefunded)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit cancellation: %w", err)
	}

	return &CancellationOutcome{
		Booking:      booking,
		Payment:      payment,
		RefundAmount: refundAmount,
		FineAmount:   fineAmount,
		Transactions: txns,
	}, nil
}
