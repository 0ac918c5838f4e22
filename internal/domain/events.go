/**
 * @description
 * Event payloads exchanged with collaborating services over the
 * `groomnet.events` topic exchange, and the routing-key helpers that address
 * an individual agent's or customer's private topic.
 *
 * @notes
 * - Offer delivery is at-most-once, fire-and-forget: the broadcaster never
 *   waits for transport acknowledgment.
 * - Topic names are derived here and nowhere else so the transport stays
 *   swappable.
 */

package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventsExchange is the durable topic exchange shared with collaborators.
const EventsExchange = "groomnet.events"

// Inbound routing keys consumed by the dispatch engine.
const (
	RouteBookingCreated       = "booking.created"
	RouteAgentPresenceChanged = "agent.presence.changed"
	RouteServiceCompleted     = "service.completed"
)

// RouteWalletTransaction is the outbound routing key for ledger entries,
// consumable by reporting collaborators.
const RouteWalletTransaction = "ledger.wallet.transaction"

// AgentOfferTopic returns the routing key for new offers to one agent.
func AgentOfferTopic(agentID uuid.UUID) string {
	return fmt.Sprintf("agent.%s.offer.new", agentID)
}

// AgentWithdrawTopic returns the routing key for offer retractions to one agent.
func AgentWithdrawTopic(agentID uuid.UUID) string {
	return fmt.Sprintf("agent.%s.offer.withdrawn", agentID)
}

// CustomerTopic returns the routing key for a customer-facing event kind,
// e.g. "booking.assigned" or "booking.cancelled".
func CustomerTopic(customerID uuid.UUID, kind string) string {
	return fmt.Sprintf("customer.%s.%s", customerID, kind)
}

// BookingCreatedEvent enters the engine when the booking surface places a new
// instant request.
type BookingCreatedEvent struct {
	BookingID     uuid.UUID     `json:"booking_id"`
	CustomerID    uuid.UUID     `json:"customer_id"`
	ServiceID     uuid.UUID     `json:"service_id"`
	AddressID     uuid.UUID     `json:"address_id"`
	PaymentMethod PaymentMethod `json:"payment_method"`
}

// AgentPresenceChangedEvent reports an agent connecting or disconnecting.
type AgentPresenceChangedEvent struct {
	AgentID uuid.UUID `json:"agent_id"`
	Online  bool      `json:"online"`
}

// ServiceCompletedEvent triggers the release of the agent's share.
type ServiceCompletedEvent struct {
	BookingID uuid.UUID `json:"booking_id"`
}

// NewOfferEvent is published to each eligible agent's private topic.
type NewOfferEvent struct {
	BookingID      uuid.UUID `json:"booking_id"`
	ServiceName    string    `json:"service_name"`
	Price          int64     `json:"price"`
	CustomerName   string    `json:"customer_name"`
	AddressSummary string    `json:"address_summary"`
	TotalAmount    int64     `json:"total_amount"`
}

// OfferWithdrawnEvent tells an agent a previously offered booking is gone.
type OfferWithdrawnEvent struct {
	BookingID uuid.UUID `json:"booking_id"`
	Message   string    `json:"message"`
}

// BookingAssignedEvent tells the customer who accepted their booking.
type BookingAssignedEvent struct {
	BookingID     uuid.UUID `json:"booking_id"`
	AgentName     string    `json:"agent_name"`
	AgentPhone    string    `json:"agent_phone"`
	AgentPhotoURL *string   `json:"agent_photo_url,omitempty"`
}

// NoAgentsAvailableEvent tells the customer the candidate set came up empty.
type NoAgentsAvailableEvent struct {
	BookingID uuid.UUID `json:"booking_id"`
	Message   string    `json:"message"`
}

// BookingCancelledEvent tells a customer or agent the booking was cancelled.
type BookingCancelledEvent struct {
	BookingID uuid.UUID `json:"booking_id"`
	Reason    string    `json:"reason"`
}

// TravelStatusChangedEvent tells the customer how close the agent is.
type TravelStatusChangedEvent struct {
	BookingID    uuid.UUID    `json:"booking_id"`
	TravelStatus TravelStatus `json:"travel_status"`
}

// ServiceCompletedNotice thanks the customer once the service is done.
type ServiceCompletedNotice struct {
	BookingID uuid.UUID `json:"booking_id"`
	Message   string    `json:"message"`
}

// WalletTransactionRecorded mirrors one ledger entry for reporting consumers.
type WalletTransactionRecorded struct {
	WalletID  uuid.UUID `json:"wallet_id"`
	Amount    int64     `json:"amount"`
	Note      string    `json:"note"`
	Timestamp time.Time `json:"timestamp"`
}
