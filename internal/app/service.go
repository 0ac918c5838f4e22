/**
 * @description
 * This file contains the core business logic for the dispatch-service. The
 * `Service` struct orchestrates instant-booking dispatch end to end: resolving
 * the eligible candidate set, broadcasting offers, arbitrating the
 * first-accept-wins race, cascading past rejections, expiring unclaimed
 * bookings, and settling money through the wallet ledger and the card
 * processor.
 *
 * Key features:
 * - The accept/expire race is decided by the database row-lock guard, never
 *   by in-process state; this service only reacts to who won.
 * - Capture failure never reverts an assignment: the booking stays CONFIRMED
 *   with the payment FAILED and the error is surfaced for reconciliation.
 * - Publishes events to RabbitMQ for the agent and customer apps.
 *
 * @dependencies
 * - context, errors, fmt, log, time: Standard Go libraries.
 * - github.com/google/uuid: Entity identities.
 * - internal/domain, internal/store: Domain models and data access.
 * - pkg/payprocessor, pkg/rabbitmq: External service communication.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/groomnet/dispatch-service/internal/domain"
	"github.com/groomnet/dispatch-service/internal/store"
	"github.com/groomnet/dispatch-service/pkg/payprocessor"
	"github.com/groomnet/dispatch-service/pkg/rabbitmq"
)

// ErrAgentBusy is returned when an agent's current bookings forbid the
// requested presence change: going offline while holding a live instant
// booking, or going online with a live instant job or an imminent scheduled
// booking.
var ErrAgentBusy = errors.New("agent's bookings do not allow this availability change")

// ErrPaymentProcessor wraps card processor failures surfaced to callers.
var ErrPaymentProcessor = errors.New("payment processor error")

// Options carries the tunable dispatch parameters.
type Options struct {
	DispatchWindow     time.Duration
	ScheduleBuffer     time.Duration
	FinePercent        int64
	PlatformFeePercent int64
}

// CardProcessor is the subset of the processor client the service uses.
type CardProcessor interface {
	Capture(ctx context.Context, transactionID string, amount int64, reason string) (*payprocessor.ChargeResponse, error)
	Refund(ctx context.Context, transactionID string, amount int64, reason string) (*payprocessor.ChargeResponse, error)
	Void(ctx context.Context, transactionID string, reason string) (*payprocessor.ChargeResponse, error)
}

// Service provides the core dispatch and settlement logic.
type Service struct {
	repo          store.Repository
	processor     CardProcessor
	eventProducer rabbitmq.Publisher
	presence      PresenceStore
	watchdog      *Watchdog
	opts          Options

	// offered tracks which agents hold an open offer per booking, so a
	// resolution can withdraw the rest. Advisory only: losing this state
	// (restart) costs stray offer cards, never correctness.
	offersMu sync.Mutex
	offered  map[uuid.UUID]map[uuid.UUID]struct{}
}

// NewService creates a new dispatch service instance.
func NewService(repo store.Repository, processor CardProcessor, producer rabbitmq.Publisher, presence PresenceStore, opts Options) *Service {
	s := &Service{
		repo:          repo,
		processor:     processor,
		eventProducer: producer,
		presence:      presence,
		opts:          opts,
		offered:       make(map[uuid.UUID]map[uuid.UUID]struct{}),
	}
	s.watchdog = NewWatchdog(func(bookingID uuid.UUID) {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.ExpireBooking(ctx, bookingID); err != nil {
			log.Printf("level=error component=dispatch op=expire booking_id=%s err=%v", bookingID, err)
		}
	})
	return s
}

// Watchdog exposes the expiry watchdog, primarily for shutdown.
func (s *Service) Watchdog() *Watchdog { return s.watchdog }

// StartDispatch begins the offer window for a newly created instant booking:
// arm the expiry timer, resolve the candidate set, broadcast offers. The
// timer is armed even when no candidates exist, so an unclaimed booking is
// still cancelled and refunded after the window.
func (s *Service) StartDispatch(ctx context.Context, bookingID uuid.UUID) error {
	booking, err := s.repo.FindBookingByID(ctx, bookingID)
	if err != nil {
		return fmt.Errorf("failed to load booking for dispatch: %w", err)
	}
	if booking.Kind != domain.KindInstant || booking.Status != domain.BookingPending || booking.AgentID != nil {
		return store.ErrInvalidState
	}

	s.watchdog.Arm(bookingID, s.opts.DispatchWindow)
	log.Printf("level=info component=dispatch op=start booking_id=%s window=%s", bookingID, s.opts.DispatchWindow)

	return s.broadcastOffers(ctx, booking)
}

// broadcastOffers sends the offer to every eligible, online agent that does
// not already hold one. If nobody can be reached the customer is told, but
// the booking stays PENDING until the watchdog gives up.
func (s *Service) broadcastOffers(ctx context.Context, booking *domain.Booking) error {
	candidates, err := s.repo.FindEligibleAgents(ctx, booking.ID, s.opts.ScheduleBuffer)
	if err != nil {
		return fmt.Errorf("failed to resolve eligible agents: %w", err)
	}

	ids := make([]uuid.UUID, len(candidates))
	for i, a := range candidates {
		ids[i] = a.ID
	}
	online, err := s.presence.FilterOnline(ctx, ids)
	if err != nil {
		return fmt.Errorf("failed to check agent presence: %w", err)
	}

	s.offersMu.Lock()
	held := s.offered[booking.ID]
	if held == nil {
		held = make(map[uuid.UUID]struct{})
		s.offered[booking.ID] = held
	}
	var fresh []uuid.UUID
	for _, id := range online {
		if _, ok := held[id]; !ok {
			held[id] = struct{}{}
			fresh = append(fresh, id)
		}
	}
	outstanding := len(held)
	s.offersMu.Unlock()

	if outstanding == 0 {
		log.Printf("level=info component=dispatch op=broadcast booking_id=%s msg=\"no eligible agents online\"", booking.ID)
		s.publish(ctx, domain.CustomerTopic(booking.CustomerID, "booking.no_agents"), domain.NoAgentsAvailableEvent{
			BookingID: booking.ID,
			Message:   "No agents are available right now. We are still looking.",
		})
		return nil
	}
	if len(fresh) == 0 {
		return nil
	}

	offer, err := s.repo.GetOfferDetails(ctx, booking.ID)
	if err != nil {
		return fmt.Errorf("failed to load offer details: %w", err)
	}
	event := domain.NewOfferEvent{
		BookingID:      offer.BookingID,
		ServiceName:    offer.ServiceName,
		Price:          offer.ServicePrice,
		CustomerName:   offer.CustomerName,
		AddressSummary: offer.AddressSummary,
		TotalAmount:    offer.TotalAmount,
	}
	for _, agentID := range fresh {
		s.publish(ctx, domain.AgentOfferTopic(agentID), event)
	}
	log.Printf("level=info component=dispatch op=broadcast booking_id=%s offered=%d outstanding=%d", booking.ID, len(fresh), outstanding)
	return nil
}

// AcceptBooking arbitrates an agent's accept. The database compare-and-set
// decides the winner; everyone else gets store.ErrBookingConflict. The
// winner's path then disarms the watchdog, captures payment, and only then
// notifies both sides and withdraws the losing offers.
func (s *Service) AcceptBooking(ctx context.Context, bookingID, agentID uuid.UUID) (*domain.Booking, error) {
	booking, err := s.repo.AssignAgent(ctx, bookingID, agentID)
	if err != nil {
		return nil, err
	}
	s.watchdog.Disarm(bookingID)
	log.Printf("level=info component=dispatch op=accept booking_id=%s agent_id=%s", bookingID, agentID)

	captureErr := s.capturePayment(ctx, booking)
	if captureErr != nil {
		// Assignment stands. The payment row is FAILED and the failure is
		// surfaced for reconciliation.
		log.Printf("level=error component=dispatch op=capture booking_id=%s err=%v", bookingID, captureErr)
	}

	s.withdrawOffers(ctx, bookingID, &agentID, "This booking was taken by another agent.")
	s.notifyAssigned(ctx, booking, agentID)

	if captureErr != nil {
		return booking, captureErr
	}
	return booking, nil
}

// capturePayment collects the booking's payment according to its method.
func (s *Service) capturePayment(ctx context.Context, booking *domain.Booking) error {
	payment, err := s.repo.FindPaymentByBookingID(ctx, booking.ID)
	if err != nil {
		return fmt.Errorf("failed to load payment: %w", err)
	}

	switch payment.Method {
	case domain.MethodWallet:
		_, txns, err := s.repo.CaptureWalletPayment(ctx, booking.ID)
		if err != nil {
			if markErr := s.repo.MarkPaymentFailed(ctx, booking.ID); markErr != nil {
				log.Printf("level=error component=dispatch op=capture booking_id=%s msg=\"failed to mark payment failed\" err=%v", booking.ID, markErr)
			}
			return err
		}
		s.publishTransactions(ctx, txns)
		return nil
	case domain.MethodCard:
		if payment.TransactionID == nil || s.processor == nil {
			if markErr := s.repo.MarkPaymentFailed(ctx, booking.ID); markErr != nil {
				log.Printf("level=error component=dispatch op=capture booking_id=%s msg=\"failed to mark payment failed\" err=%v", booking.ID, markErr)
			}
			return fmt.Errorf("%w: no card authorization on file", ErrPaymentProcessor)
		}
		resp, err := s.processor.Capture(ctx, *payment.TransactionID, payment.FinalAmount, fmt.Sprintf("Booking %s", booking.ID))
		if err != nil {
			if markErr := s.repo.MarkPaymentFailed(ctx, booking.ID); markErr != nil {
				log.Printf("level=error component=dispatch op=capture booking_id=%s msg=\"failed to mark payment failed\" err=%v", booking.ID, markErr)
			}
			return fmt.Errorf("%w: %v", ErrPaymentProcessor, err)
		}
		if _, err := s.repo.MarkPaymentCaptured(ctx, booking.ID, resp.Data.ID); err != nil {
			return fmt.Errorf("failed to record capture: %w", err)
		}
		return nil
	default:
		// Cash on delivery settles physically at service time.
		return nil
	}
}

// RejectBooking records an agent's pass and cascades the offer onward. The
// rejection is durable, so the agent never sees this booking again even
// across re-broadcasts.
func (s *Service) RejectBooking(ctx context.Context, bookingID, agentID uuid.UUID) error {
	booking, err := s.repo.FindBookingByID(ctx, bookingID)
	if err != nil {
		return err
	}
	if booking.Status != domain.BookingPending || booking.AgentID != nil {
		return store.ErrInvalidState
	}
	if err := s.repo.RecordRejection(ctx, bookingID, agentID); err != nil {
		return fmt.Errorf("failed to record rejection: %w", err)
	}

	s.offersMu.Lock()
	if held, ok := s.offered[bookingID]; ok {
		delete(held, agentID)
	}
	s.offersMu.Unlock()

	log.Printf("level=info component=dispatch op=reject booking_id=%s agent_id=%s", bookingID, agentID)
	return s.broadcastOffers(ctx, booking)
}

// ExpireBooking cancels an unclaimed booking after the offer window. Losing
// the compare-and-set here means an accept landed first, which is not an
// error. The cancel and the wallet refund commit in one repository
// transaction; if that transaction fails the booking stays PENDING and the
// stale-booking sweep retries it.
func (s *Service) ExpireBooking(ctx context.Context, bookingID uuid.UUID) error {
	outcome, err := s.repo.ExpireUnclaimedBooking(ctx, bookingID)
	if err != nil {
		if errors.Is(err, store.ErrBookingConflict) || errors.Is(err, store.ErrInvalidState) {
			return nil
		}
		return err
	}
	log.Printf("level=info component=dispatch op=expire booking_id=%s msg=\"offer window elapsed; booking cancelled\"", bookingID)

	s.reverseCardCharge(ctx, outcome.Payment, outcome.PriorPaymentStatus, "Offer window elapsed with no agent")
	s.publishTransactions(ctx, outcome.Transactions)

	s.withdrawOffers(ctx, bookingID, nil, "This booking has expired.")
	s.publish(ctx, domain.CustomerTopic(outcome.Booking.CustomerID, "booking.cancelled"), domain.BookingCancelledEvent{
		BookingID: bookingID,
		Reason:    "No agents were available to take your booking.",
	})
	return nil
}

// reverseCardCharge voids or refunds the card authorization for a booking
// that will not proceed. priorStatus is the payment status before the wallet
// ledger flipped it to REFUNDED. Processor failures are logged and left for
// reconciliation; the wallet ledger is the source of truth.
func (s *Service) reverseCardCharge(ctx context.Context, payment *domain.Payment, priorStatus domain.PaymentStatus, reason string) {
	if s.processor == nil || payment.Method != domain.MethodCard || payment.TransactionID == nil {
		return
	}
	switch priorStatus {
	case domain.PaymentPending:
		if _, err := s.processor.Void(ctx, *payment.TransactionID, reason); err != nil {
			log.Printf("level=warn component=dispatch op=void booking_id=%s err=%v", payment.BookingID, err)
		}
	case domain.PaymentSuccess:
		if _, err := s.processor.Refund(ctx, *payment.TransactionID, payment.FinalAmount, reason); err != nil {
			log.Printf("level=warn component=dispatch op=refund booking_id=%s err=%v", payment.BookingID, err)
		}
	}
}

// CancelBooking handles a customer-initiated cancellation. The fine split,
// status writes, and wallet legs happen in one repository transaction; this
// method wraps it with ownership checks, processor reversal, and fan-out.
func (s *Service) CancelBooking(ctx context.Context, bookingID, customerID uuid.UUID) (*store.CancellationOutcome, error) {
	booking, err := s.repo.FindBookingByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if booking.CustomerID != customerID {
		return nil, store.ErrBookingNotFound
	}

	outcome, err := s.repo.RefundCancellation(ctx, bookingID, s.opts.FinePercent)
	if err != nil {
		return nil, err
	}
	s.watchdog.Disarm(bookingID)
	s.withdrawOffers(ctx, bookingID, nil, "This booking was cancelled by the customer.")
	log.Printf("level=info component=dispatch op=cancel booking_id=%s refund=%d fine=%d", bookingID, outcome.RefundAmount, outcome.FineAmount)

	if outcome.Payment.Method == domain.MethodCard && outcome.Payment.TransactionID != nil && s.processor != nil {
		if _, err := s.processor.Refund(ctx, *outcome.Payment.TransactionID, outcome.RefundAmount, fmt.Sprintf("Cancellation of booking %s", bookingID)); err != nil {
			log.Printf("level=warn component=dispatch op=card_refund booking_id=%s err=%v", bookingID, err)
		}
	}

	s.publishTransactions(ctx, outcome.Transactions)
	s.publish(ctx, domain.CustomerTopic(customerID, "booking.cancelled"), domain.BookingCancelledEvent{
		BookingID: bookingID,
		Reason:    fmt.Sprintf("Cancelled. %d was refunded; a fine of %d was withheld.", outcome.RefundAmount, outcome.FineAmount),
	})
	if outcome.Booking.AgentID != nil {
		s.publish(ctx, domain.AgentWithdrawTopic(*outcome.Booking.AgentID), domain.BookingCancelledEvent{
			BookingID: bookingID,
			Reason:    "The customer cancelled this booking. The cancellation fine was credited to your wallet.",
		})
	}
	return outcome, nil
}

// AdvanceTravel moves the assigned agent's travel status strictly forward.
func (s *Service) AdvanceTravel(ctx context.Context, bookingID, agentID uuid.UUID, to domain.TravelStatus) (*domain.Booking, error) {
	booking, err := s.repo.AdvanceTravelStatus(ctx, bookingID, agentID, to)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, domain.CustomerTopic(booking.CustomerID, "booking.travel"), domain.TravelStatusChangedEvent{
		BookingID:    bookingID,
		TravelStatus: booking.TravelStatus,
	})
	return booking, nil
}

// CompleteService marks the booking finished and releases the agent's share.
func (s *Service) CompleteService(ctx context.Context, bookingID, agentID uuid.UUID) (*domain.Booking, error) {
	booking, err := s.repo.CompleteBooking(ctx, bookingID, agentID)
	if err != nil {
		return nil, err
	}
	log.Printf("level=info component=dispatch op=complete booking_id=%s agent_id=%s", bookingID, agentID)
	if err := s.SettleCompletedBooking(ctx, bookingID); err != nil {
		return booking, err
	}
	s.publish(ctx, domain.CustomerTopic(booking.CustomerID, "booking.completed"), domain.ServiceCompletedNotice{
		BookingID: bookingID,
		Message:   "Your service is complete. Thank you for using Groomnet.",
	})
	return booking, nil
}

// SettleCompletedBooking releases the agent's earned share for a completed
// booking. Safe to call more than once: the second call observes the flipped
// release flag and does nothing.
func (s *Service) SettleCompletedBooking(ctx context.Context, bookingID uuid.UUID) error {
	_, txns, err := s.repo.ReleaseToAgent(ctx, bookingID)
	if err != nil {
		if errors.Is(err, store.ErrAlreadyReleased) {
			return nil
		}
		if errors.Is(err, store.ErrInsufficientFunds) {
			// The platform wallet cannot cover the payout. The release flag
			// stays false for manual reconciliation; retrying automatically
			// would not change the balance.
			log.Printf("level=error component=dispatch op=release booking_id=%s msg=\"platform wallet underfunded; payout deferred to reconciliation\"", bookingID)
			return nil
		}
		return fmt.Errorf("failed to release agent share: %w", err)
	}
	s.publishTransactions(ctx, txns)
	log.Printf("level=info component=dispatch op=release booking_id=%s", bookingID)
	return nil
}

// SetAvailability flips an agent's presence. Going offline is refused while
// the agent holds a live instant booking; going online is refused while the
// agent holds a live instant job or a scheduled booking starting within the
// schedule buffer.
func (s *Service) SetAvailability(ctx context.Context, agentID uuid.UUID, online bool) error {
	if !online {
		busy, err := s.repo.AgentHasActiveInstantBooking(ctx, agentID)
		if err != nil {
			return err
		}
		if busy {
			return ErrAgentBusy
		}
		return s.presence.MarkOffline(ctx, agentID)
	}
	agent, err := s.repo.FindAgentByID(ctx, agentID)
	if err != nil {
		return err
	}
	if !agent.IsActive || agent.IsBlocked {
		return store.ErrInvalidState
	}
	busy, err := s.repo.AgentHasActiveInstantBooking(ctx, agentID)
	if err != nil {
		return err
	}
	if busy {
		return ErrAgentBusy
	}
	upcoming, err := s.repo.AgentHasUpcomingScheduledBooking(ctx, agentID, s.opts.ScheduleBuffer)
	if err != nil {
		return err
	}
	if upcoming {
		return ErrAgentBusy
	}
	return s.presence.MarkOnline(ctx, agentID)
}

// Availability reports the agent's presence and workload snapshot.
func (s *Service) Availability(ctx context.Context, agentID uuid.UUID) (*domain.AgentAvailability, error) {
	online, err := s.presence.IsOnline(ctx, agentID)
	if err != nil {
		return nil, err
	}
	activeInstant, err := s.repo.AgentHasActiveInstantBooking(ctx, agentID)
	if err != nil {
		return nil, err
	}
	upcoming, err := s.repo.AgentHasUpcomingScheduledBooking(ctx, agentID, s.opts.ScheduleBuffer)
	if err != nil {
		return nil, err
	}
	return &domain.AgentAvailability{
		IsOnline:             online,
		HasActiveInstantJob:  activeInstant,
		HasUpcomingScheduled: upcoming,
	}, nil
}

// BookingView returns a booking together with its payment record.
func (s *Service) BookingView(ctx context.Context, bookingID uuid.UUID) (*domain.Booking, *domain.Payment, error) {
	booking, err := s.repo.FindBookingByID(ctx, bookingID)
	if err != nil {
		return nil, nil, err
	}
	payment, err := s.repo.FindPaymentByBookingID(ctx, bookingID)
	if err != nil {
		return nil, nil, err
	}
	return booking, payment, nil
}

// WalletOverview returns a wallet and its recent ledger entries.
func (s *Service) WalletOverview(ctx context.Context, kind domain.WalletKind, ownerID *uuid.UUID, limit int) (*domain.Wallet, []domain.WalletTransaction, error) {
	wallet, err := s.repo.FindWallet(ctx, kind, ownerID)
	if err != nil {
		return nil, nil, err
	}
	txns, err := s.repo.ListWalletTransactions(ctx, wallet.ID, limit)
	if err != nil {
		return nil, nil, err
	}
	return wallet, txns, nil
}

// withdrawOffers retracts open offers for a booking, optionally sparing one
// agent (the winner), and forgets the booking's offer set.
func (s *Service) withdrawOffers(ctx context.Context, bookingID uuid.UUID, except *uuid.UUID, message string) {
	s.offersMu.Lock()
	held := s.offered[bookingID]
	delete(s.offered, bookingID)
	s.offersMu.Unlock()

	for agentID := range held {
		if except != nil && agentID == *except {
			continue
		}
		s.publish(ctx, domain.AgentWithdrawTopic(agentID), domain.OfferWithdrawnEvent{
			BookingID: bookingID,
			Message:   message,
		})
	}
}

func (s *Service) notifyAssigned(ctx context.Context, booking *domain.Booking, agentID uuid.UUID) {
	agent, err := s.repo.FindAgentByID(ctx, agentID)
	if err != nil {
		log.Printf("level=warn component=dispatch op=notify_assigned booking_id=%s err=%v", booking.ID, err)
		return
	}
	s.publish(ctx, domain.CustomerTopic(booking.CustomerID, "booking.assigned"), domain.BookingAssignedEvent{
		BookingID:     booking.ID,
		AgentName:     agent.Name,
		AgentPhone:    agent.Phone,
		AgentPhotoURL: agent.PhotoURL,
	})
}

func (s *Service) publishTransactions(ctx context.Context, txns []domain.WalletTransaction) {
	for _, txn := range txns {
		s.publish(ctx, domain.RouteWalletTransaction, domain.WalletTransactionRecorded{
			WalletID:  txn.WalletID,
			Amount:    txn.Amount,
			Note:      txn.Note,
			Timestamp: txn.CreatedAt,
		})
	}
}

// publish is fire-and-forget: delivery is at-most-once and a broker hiccup
// never fails the state change that triggered the event.
func (s *Service) publish(ctx context.Context, routingKey string, body interface{}) {
	if s.eventProducer == nil {
		return
	}
	if err := s.eventProducer.Publish(ctx, domain.EventsExchange, routingKey, body); err != nil {
		log.Printf("level=warn component=dispatch op=publish routing_key=%s err=%v", routingKey, err)
	}
}
