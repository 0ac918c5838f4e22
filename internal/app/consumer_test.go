package app

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/groomnet/dispatch-service/internal/domain"
	"github.com/groomnet/dispatch-service/internal/store"
)

type consumerRepoStub struct {
	store.Repository

	findErr    error
	booking    *domain.Booking
	releaseErr error
}

func (s *consumerRepoStub) FindBookingByID(ctx context.Context, bookingID uuid.UUID) (*domain.Booking, error) {
	if s.findErr != nil {
		return nil, s.findErr
	}
	b := *s.booking
	return &b, nil
}

func (s *consumerRepoStub) ReleaseToAgent(ctx context.Context, bookingID uuid.UUID) (*domain.Payment, []domain.WalletTransaction, error) {
	if s.releaseErr != nil {
		return nil, nil, s.releaseErr
	}
	return &domain.Payment{IsReleasedToAgent: true}, nil, nil
}

func newConsumerService(repo store.Repository) *Service {
	return NewService(repo, nil, nil, newStaticPresence(), Options{
		DispatchWindow: time.Hour,
		ScheduleBuffer: 90 * time.Minute,
	})
}

func TestHandleBookingCreatedDropsMalformedPayload(t *testing.T) {
	svc := newConsumerService(&consumerRepoStub{})
	defer svc.Watchdog().Stop()
	c := NewDispatchConsumer(svc)

	if !c.HandleBookingCreated([]byte("{not json")) {
		t.Fatal("malformed payloads must be acknowledged, not re-queued")
	}
	if !c.HandleBookingCreated([]byte(`{"booking_id":"00000000-0000-0000-0000-000000000000"}`)) {
		t.Fatal("payloads without a booking id must be acknowledged")
	}
}

func TestHandleBookingCreatedAcksNonDispatchableBooking(t *testing.T) {
	svc := newConsumerService(&consumerRepoStub{findErr: store.ErrBookingNotFound})
	defer svc.Watchdog().Stop()
	c := NewDispatchConsumer(svc)

	payload, _ := json.Marshal(domain.BookingCreatedEvent{BookingID: uuid.New()})
	if !c.HandleBookingCreated(payload) {
		t.Fatal("a missing booking must be acknowledged, not re-queued")
	}
}

func TestHandleBookingCreatedRequeuesOnTransientError(t *testing.T) {
	svc := newConsumerService(&consumerRepoStub{findErr: errors.New("connection reset")})
	defer svc.Watchdog().Stop()
	c := NewDispatchConsumer(svc)

	payload, _ := json.Marshal(domain.BookingCreatedEvent{BookingID: uuid.New()})
	if c.HandleBookingCreated(payload) {
		t.Fatal("transient errors must re-queue the delivery")
	}
}

func TestHandleServiceCompletedSettlesOnce(t *testing.T) {
	repo := &consumerRepoStub{}
	svc := newConsumerService(repo)
	defer svc.Watchdog().Stop()
	c := NewDispatchConsumer(svc)

	payload, _ := json.Marshal(domain.ServiceCompletedEvent{BookingID: uuid.New()})
	if !c.HandleServiceCompleted(payload) {
		t.Fatal("expected settlement to succeed")
	}

	repo.releaseErr = store.ErrAlreadyReleased
	if !c.HandleServiceCompleted(payload) {
		t.Fatal("a repeated completion event must be acknowledged")
	}
}

func TestHandleServiceCompletedAcksPrematureEvent(t *testing.T) {
	// The ledger refuses to pay out a booking that never reached COMPLETED;
	// re-queuing such an event would loop it forever.
	repo := &consumerRepoStub{releaseErr: store.ErrInvalidState}
	svc := newConsumerService(repo)
	defer svc.Watchdog().Stop()
	c := NewDispatchConsumer(svc)

	payload, _ := json.Marshal(domain.ServiceCompletedEvent{BookingID: uuid.New()})
	if !c.HandleServiceCompleted(payload) {
		t.Fatal("a premature completion event must be acknowledged, not re-queued")
	}
}

func TestHandlePresenceChangedMarksAgentOnline(t *testing.T) {
	agent := domain.Agent{ID: uuid.New(), Name: "Agent", IsActive: true}
	repo := &presenceRepoStub{agent: agent}
	presence := newStaticPresence()
	svc := NewService(repo, nil, nil, presence, Options{DispatchWindow: time.Hour})
	defer svc.Watchdog().Stop()
	c := NewDispatchConsumer(svc)

	payload, _ := json.Marshal(domain.AgentPresenceChangedEvent{AgentID: agent.ID, Online: true})
	if !c.HandlePresenceChanged(payload) {
		t.Fatal("expected the presence change to be acknowledged")
	}
	online, _ := presence.IsOnline(context.Background(), agent.ID)
	if !online {
		t.Fatal("expected the agent to be online")
	}
}

func TestHandlePresenceChangedAcksBlockedAgent(t *testing.T) {
	agent := domain.Agent{ID: uuid.New(), Name: "Agent", IsActive: true, IsBlocked: true}
	repo := &presenceRepoStub{agent: agent}
	svc := NewService(repo, nil, nil, newStaticPresence(), Options{DispatchWindow: time.Hour})
	defer svc.Watchdog().Stop()
	c := NewDispatchConsumer(svc)

	payload, _ := json.Marshal(domain.AgentPresenceChangedEvent{AgentID: agent.ID, Online: true})
	if !c.HandlePresenceChanged(payload) {
		t.Fatal("a refused presence change must be acknowledged, not re-queued")
	}
}

type presenceRepoStub struct {
	store.Repository
	agent domain.Agent
}

func (s *presenceRepoStub) FindAgentByID(ctx context.Context, agentID uuid.UUID) (*domain.Agent, error) {
	if agentID != s.agent.ID {
		return nil, store.ErrAgentNotFound
	}
	a := s.agent
	return &a, nil
}

func (s *presenceRepoStub) AgentHasActiveInstantBooking(ctx context.Context, agentID uuid.UUID) (bool, error) {
	return false, nil
}

func (s *presenceRepoStub) AgentHasUpcomingScheduledBooking(ctx context.Context, agentID uuid.UUID, within time.Duration) (bool, error) {
	return false, nil
}
