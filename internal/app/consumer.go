/**
 * @description
 * Inbound event handlers for the dispatch engine. The booking surface,
 * presence gateway, and the agent app publish onto the shared topic exchange;
 * each handler here unmarshals one routing key's payload and drives the
 * dispatch service. Handlers return false only for retryable failures so the
 * broker re-queues the delivery; malformed payloads are acknowledged and
 * dropped.
 */

package app

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/groomnet/dispatch-service/internal/domain"
	"github.com/groomnet/dispatch-service/internal/store"
	"github.com/groomnet/dispatch-service/pkg/rabbitmq"
)

type DispatchConsumer struct {
	service *Service
}

func NewDispatchConsumer(service *Service) *DispatchConsumer {
	return &DispatchConsumer{service: service}
}

// Bindings maps the inbound routing keys to their handlers, in the shape the
// transport consumer expects.
func (c *DispatchConsumer) Bindings() map[string]rabbitmq.Handler {
	return map[string]rabbitmq.Handler{
		domain.RouteBookingCreated:       c.HandleBookingCreated,
		domain.RouteAgentPresenceChanged: c.HandlePresenceChanged,
		domain.RouteServiceCompleted:     c.HandleServiceCompleted,
	}
}

func (c *DispatchConsumer) HandleBookingCreated(body []byte) bool {
	var event domain.BookingCreatedEvent
	if err := json.Unmarshal(body, &event); err != nil {
		log.Printf("dispatch-consumer: failed to unmarshal booking.created payload: %v", err)
		return true
	}
	if event.BookingID == uuid.Nil {
		log.Printf("dispatch-consumer: missing booking id in event %+v", event)
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := c.service.StartDispatch(ctx, event.BookingID); err != nil {
		if errors.Is(err, store.ErrInvalidState) || errors.Is(err, store.ErrBookingNotFound) {
			// Not an instant PENDING booking, or already resolved. Drop it.
			log.Printf("dispatch-consumer: booking %s not dispatchable; acknowledging", event.BookingID)
			return true
		}
		log.Printf("dispatch-consumer: dispatch error for booking %s: %v", event.BookingID, err)
		return false
	}
	return true
}

func (c *DispatchConsumer) HandlePresenceChanged(body []byte) bool {
	var event domain.AgentPresenceChangedEvent
	if err := json.Unmarshal(body, &event); err != nil {
		log.Printf("dispatch-consumer: failed to unmarshal presence payload: %v", err)
		return true
	}
	if event.AgentID == uuid.Nil {
		log.Printf("dispatch-consumer: missing agent id in presence event")
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := c.service.SetAvailability(ctx, event.AgentID, event.Online); err != nil {
		if errors.Is(err, ErrAgentBusy) || errors.Is(err, store.ErrInvalidState) || errors.Is(err, store.ErrAgentNotFound) {
			log.Printf("dispatch-consumer: presence change refused for agent %s: %v", event.AgentID, err)
			return true
		}
		log.Printf("dispatch-consumer: presence error for agent %s: %v", event.AgentID, err)
		return false
	}
	return true
}

func (c *DispatchConsumer) HandleServiceCompleted(body []byte) bool {
	var event domain.ServiceCompletedEvent
	if err := json.Unmarshal(body, &event); err != nil {
		log.Printf("dispatch-consumer: failed to unmarshal service.completed payload: %v", err)
		return true
	}
	if event.BookingID == uuid.Nil {
		log.Printf("dispatch-consumer: missing booking id in completion event")
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := c.service.SettleCompletedBooking(ctx, event.BookingID); err != nil {
		if errors.Is(err, store.ErrPaymentNotFound) || errors.Is(err, store.ErrBookingNotFound) || errors.Is(err, store.ErrInvalidState) {
			// Unknown booking, or one that never reached COMPLETED. Funds
			// only move once the completion is recorded, so drop the event.
			log.Printf("dispatch-consumer: no settlement possible for booking %s: %v; acknowledging", event.BookingID, err)
			return true
		}
		log.Printf("dispatch-consumer: settlement error for booking %s: %v", event.BookingID, err)
		return false
	}
	return true
}
