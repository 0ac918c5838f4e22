package app

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/groomnet/dispatch-service/internal/domain"
	"github.com/groomnet/dispatch-service/internal/store"
	"github.com/groomnet/dispatch-service/pkg/payprocessor"
)

type cancelRepoStub struct {
	store.Repository

	booking   domain.Booking
	payment   domain.Payment
	outcome   *store.CancellationOutcome
	cancelErr error

	gotFinePercent int64
}

func (s *cancelRepoStub) FindBookingByID(ctx context.Context, bookingID uuid.UUID) (*domain.Booking, error) {
	if bookingID != s.booking.ID {
		return nil, store.ErrBookingNotFound
	}
	b := s.booking
	return &b, nil
}

func (s *cancelRepoStub) RefundCancellation(ctx context.Context, bookingID uuid.UUID, finePercent int64) (*store.CancellationOutcome, error) {
	s.gotFinePercent = finePercent
	if s.cancelErr != nil {
		return nil, s.cancelErr
	}
	return s.outcome, nil
}

func newCancelStub(method domain.PaymentMethod, travel domain.TravelStatus, assigned bool) *cancelRepoStub {
	bookingID := uuid.New()
	booking := domain.Booking{
		ID:           bookingID,
		CustomerID:   uuid.New(),
		Status:       domain.BookingConfirmed,
		TravelStatus: travel,
		Kind:         domain.KindInstant,
		TotalAmount:  1000,
	}
	if assigned {
		agentID := uuid.New()
		booking.AgentID = &agentID
	}
	ref := "ch_999"
	payment := domain.Payment{
		ID:            uuid.New(),
		BookingID:     bookingID,
		Method:        method,
		Status:        domain.PaymentSuccess,
		ServiceAmount: 1000,
		PlatformFee:   50,
		FinalAmount:   1050,
		TransactionID: &ref,
	}

	cancelled := booking
	cancelled.Status = domain.BookingCancelled
	refunded := payment
	refunded.Status = domain.PaymentRefunded
	return &cancelRepoStub{
		booking: booking,
		payment: payment,
		outcome: &store.CancellationOutcome{
			Booking:      &cancelled,
			Payment:      &refunded,
			RefundAmount: 900,
			FineAmount:   100,
			Transactions: []domain.WalletTransaction{
				{ID: uuid.New(), WalletID: uuid.New(), Amount: 900, Note: "refund", CreatedAt: time.Now()},
				{ID: uuid.New(), WalletID: uuid.New(), Amount: -900, Note: "refund", CreatedAt: time.Now()},
				{ID: uuid.New(), WalletID: uuid.New(), Amount: 100, Note: "fine", CreatedAt: time.Now()},
			},
		},
	}
}

func TestCancelBookingRefundsCardAndNotifiesBothSides(t *testing.T) {
	var refundHits int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/refund") {
			refundHits++
		}
		io.Copy(io.Discard, r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":{"id":"rf_9","status":"refunded","amount":900}}`))
	}))
	defer server.Close()

	repo := newCancelStub(domain.MethodCard, domain.TravelStarted, true)
	publisher := &recordingPublisher{}
	svc := newTestService(repo, newStaticPresence(), publisher, payprocessor.NewClient(server.URL, "k"))
	defer svc.Watchdog().Stop()

	outcome, err := svc.CancelBooking(context.Background(), repo.booking.ID, repo.booking.CustomerID)
	if err != nil {
		t.Fatalf("CancelBooking returned error: %v", err)
	}
	if outcome.RefundAmount != 900 || outcome.FineAmount != 100 {
		t.Fatalf("unexpected split refund=%d fine=%d", outcome.RefundAmount, outcome.FineAmount)
	}
	if repo.gotFinePercent != 10 {
		t.Fatalf("expected the configured fine percent, got %d", repo.gotFinePercent)
	}
	if refundHits != 1 {
		t.Fatalf("expected one processor refund call, got %d", refundHits)
	}
	if got := publisher.countSuffix(".booking.cancelled"); got != 1 {
		t.Fatalf("expected one customer cancellation notice, got %d", got)
	}
	if got := publisher.countKey(domain.AgentWithdrawTopic(*repo.booking.AgentID)); got != 1 {
		t.Fatalf("expected the assigned agent to be told, got %d", got)
	}
	if got := publisher.countKey(domain.RouteWalletTransaction); got != 3 {
		t.Fatalf("expected all ledger entries published, got %d", got)
	}
}

func TestCancelBookingRejectsForeignCustomer(t *testing.T) {
	repo := newCancelStub(domain.MethodCard, domain.TravelStarted, true)
	svc := newTestService(repo, newStaticPresence(), &recordingPublisher{}, nil)
	defer svc.Watchdog().Stop()

	_, err := svc.CancelBooking(context.Background(), repo.booking.ID, uuid.New())
	if !errors.Is(err, store.ErrBookingNotFound) {
		t.Fatalf("expected not-found for a foreign customer, got %v", err)
	}
	if repo.gotFinePercent != 0 {
		t.Fatal("the ledger must not be touched for a foreign customer")
	}
}

func TestCancelBookingSurfacesTravelGuard(t *testing.T) {
	repo := newCancelStub(domain.MethodCard, domain.TravelAlmostNear, true)
	repo.cancelErr = store.ErrCancellationBlocked
	svc := newTestService(repo, newStaticPresence(), &recordingPublisher{}, nil)
	defer svc.Watchdog().Stop()

	_, err := svc.CancelBooking(context.Background(), repo.booking.ID, repo.booking.CustomerID)
	if !errors.Is(err, store.ErrCancellationBlocked) {
		t.Fatalf("expected the travel guard to block, got %v", err)
	}
}
