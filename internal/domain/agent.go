/**
 * @description
 * Agent and customer projections used by the dispatch engine. Full profile
 * management lives in a separate service; this core only reads the fields it
 * needs for eligibility checks and customer-facing notifications.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Agent is a mobile service provider who can be offered instant bookings.
type Agent struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone"`
	PhotoURL  *string   `json:"photo_url,omitempty"`
	IsActive  bool      `json:"is_active"`
	IsBlocked bool      `json:"is_blocked"`
	CreatedAt time.Time `json:"created_at"`
}

// Customer is the booking party, read for offer payloads only.
type Customer struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	Phone string    `json:"phone"`
}

// OfferDetails carries the denormalized fields an agent needs to decide on an
// offer: service, price, customer name, address summary.
type OfferDetails struct {
	BookingID      uuid.UUID `json:"booking_id"`
	ServiceName    string    `json:"service_name"`
	ServicePrice   int64     `json:"service_price"`
	CustomerName   string    `json:"customer_name"`
	AddressSummary string    `json:"address_summary"`
	TotalAmount    int64     `json:"total_amount"`
}

// AgentAvailability is the presence and workload snapshot returned by the
// agent status endpoint.
type AgentAvailability struct {
	IsOnline             bool `json:"is_online"`
	HasActiveInstantJob  bool `json:"has_active_instant_booking"`
	HasUpcomingScheduled bool `json:"has_upcoming_scheduled_booking"`
}
