/**
 * @description
 * This file defines the `Repository` interface, the contract for all data
 * access the dispatch engine needs. The interface decouples the dispatch and
 * ledger logic from PostgreSQL so the concurrency-sensitive paths can be
 * exercised against in-memory fakes in tests.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - github.com/google/uuid: Entity identities.
 * - internal/domain: Domain models.
 */

package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/groomnet/dispatch-service/internal/domain"
)

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Booking reads and guarded transitions. AssignAgent and
	// ExpireUnclaimedBooking share the identical guard
	// (status = PENDING AND agent_id IS NULL) under a row lock; they are the
	// only ways a pending instant booking leaves the PENDING state.
	FindBookingByID(ctx context.Context, bookingID uuid.UUID) (*domain.Booking, error)
	AssignAgent(ctx context.Context, bookingID, agentID uuid.UUID) (*domain.Booking, error)
	AdvanceTravelStatus(ctx context.Context, bookingID, agentID uuid.UUID, to domain.TravelStatus) (*domain.Booking, error)
	CompleteBooking(ctx context.Context, bookingID, agentID uuid.UUID) (*domain.Booking, error)
	FindStalePendingInstantBookings(ctx context.Context, olderThan time.Duration, limit int) ([]domain.Booking, error)

	// Eligibility and cascade bookkeeping.
	FindEligibleAgents(ctx context.Context, bookingID uuid.UUID, scheduleBuffer time.Duration) ([]domain.Agent, error)
	RecordRejection(ctx context.Context, bookingID, agentID uuid.UUID) error
	AgentHasActiveInstantBooking(ctx context.Context, agentID uuid.UUID) (bool, error)
	AgentHasUpcomingScheduledBooking(ctx context.Context, agentID uuid.UUID, within time.Duration) (bool, error)

	// Lookups for offers and notifications.
	FindAgentByID(ctx context.Context, agentID uuid.UUID) (*domain.Agent, error)
	FindCustomerByID(ctx context.Context, customerID uuid.UUID) (*domain.Customer, error)
	GetOfferDetails(ctx context.Context, bookingID uuid.UUID) (*domain.OfferDetails, error)

	// Payment reads and processor outcome writes.
	FindPaymentByBookingID(ctx context.Context, bookingID uuid.UUID) (*domain.Payment, error)
	MarkPaymentCaptured(ctx context.Context, bookingID uuid.UUID, processorRef string) (*domain.Payment, error)
	MarkPaymentFailed(ctx context.Context, bookingID uuid.UUID) error

	// Ledger operations. Each call is one atomic database transaction
	// covering payment status, wallet balances, and the paired
	// wallet_transactions rows; no partial application is observable.
	CaptureWalletPayment(ctx context.Context, bookingID uuid.UUID) (*domain.Payment, []domain.WalletTransaction, error)
	ReleaseToAgent(ctx context.Context, bookingID uuid.UUID) (*domain.Payment, []domain.WalletTransaction, error)
	ExpireUnclaimedBooking(ctx context.Context, bookingID uuid.UUID) (*ExpiryOutcome, error)
	RefundCancellation(ctx context.Context, bookingID uuid.UUID, finePercent int64) (*CancellationOutcome, error)

	// Wallet views.
	FindWallet(ctx context.Context, kind domain.WalletKind, ownerID *uuid.UUID) (*domain.Wallet, error)
	ListWalletTransactions(ctx context.Context, walletID uuid.UUID, limit int) ([]domain.WalletTransaction, error)
}

// CancellationOutcome reports what a customer-initiated cancellation did:
// the terminal booking and payment rows, the computed split, and every
// ledger entry written. refund + fine always equals the booking total.
type CancellationOutcome struct {
	Booking      *domain.Booking
	Payment      *domain.Payment
	RefundAmount int64
	FineAmount   int64
	Transactions []domain.WalletTransaction
}

// ExpiryOutcome reports what expiring an unclaimed booking did. The cancel
// and the refund commit in the same transaction, so either both landed or
// neither did. PriorPaymentStatus is the status the payment held before the
// refund flip; callers use it to decide whether an external card charge
// needs a void or a refund.
type ExpiryOutcome struct {
	Booking            *domain.Booking
	Payment            *domain.Payment
	PriorPaymentStatus domain.PaymentStatus
	Transactions       []domain.WalletTransaction
}
