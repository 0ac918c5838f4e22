/**
 * @description
 * This file defines the Booking aggregate and its state machine. A booking is
 * the central entity of the dispatch engine: it is created PENDING and
 * unassigned by the booking surface, raced between agents and the expiry
 * watchdog, and finalized as COMPLETED or CANCELLED.
 *
 * @notes
 * - Status transitions are validated here and nowhere else; the store layer
 *   re-checks only the PENDING/unassigned guard that the arbiter and the
 *   watchdog both serialize on.
 * - Travel status is strictly forward-only. The legacy system allowed agents
 *   to set any value at any time; that looseness is deliberately closed.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// BookingStatus is the lifecycle state of a booking.
type BookingStatus string

const (
	BookingPending   BookingStatus = "PENDING"
	BookingConfirmed BookingStatus = "CONFIRMED"
	BookingCancelled BookingStatus = "CANCELLED"
	BookingCompleted BookingStatus = "COMPLETED"
)

// TravelStatus tracks the assigned agent's progress toward the customer.
type TravelStatus string

const (
	TravelNotStarted TravelStatus = "NOT_STARTED"
	TravelStarted    TravelStatus = "STARTED"
	TravelOnTheWay   TravelStatus = "ON_THE_WAY"
	TravelAlmostNear TravelStatus = "ALMOST_NEAR"
	TravelArrived    TravelStatus = "ARRIVED"
)

// BookingKind distinguishes immediate-dispatch bookings from pre-scheduled ones.
type BookingKind string

const (
	KindInstant   BookingKind = "INSTANT"
	KindScheduled BookingKind = "SCHEDULED"
)

// Booking maps to the `bookings` table.
type Booking struct {
	ID               uuid.UUID     `json:"id"`
	CustomerID       uuid.UUID     `json:"customer_id"`
	AgentID          *uuid.UUID    `json:"agent_id,omitempty"`
	ServiceID        uuid.UUID     `json:"service_id"`
	AddressID        uuid.UUID     `json:"address_id"`
	Status           BookingStatus `json:"status"`
	TravelStatus     TravelStatus  `json:"travel_status"`
	Kind             BookingKind   `json:"booking_kind"`
	TotalAmount      int64         `json:"total_amount"` // minor currency units
	CreatedAt        time.Time     `json:"created_at"`
	ServiceStartedAt *time.Time    `json:"service_started_at,omitempty"`
	CompletedAt      *time.Time    `json:"completed_at,omitempty"`
}

// travelRank orders travel statuses for the forward-only check.
var travelRank = map[TravelStatus]int{
	TravelNotStarted: 0,
	TravelStarted:    1,
	TravelOnTheWay:   2,
	TravelAlmostNear: 3,
	TravelArrived:    4,
}

// ValidTravelStatus reports whether s is a known travel status.
func ValidTravelStatus(s TravelStatus) bool {
	_, ok := travelRank[s]
	return ok
}

// CanTransitionStatus reports whether a booking may move from one status to
// another. Terminal states never transition.
func CanTransitionStatus(from, to BookingStatus) bool {
	switch from {
	case BookingPending:
		return to == BookingConfirmed || to == BookingCancelled
	case BookingConfirmed:
		return to == BookingCompleted || to == BookingCancelled
	default:
		return false
	}
}

// CanAdvanceTravel reports whether the travel status may move from one value
// to the next. Only strictly forward moves are allowed.
func (b *Booking) CanAdvanceTravel(to TravelStatus) bool {
	if b.Status != BookingConfirmed {
		return false
	}
	fromRank, ok := travelRank[b.TravelStatus]
	if !ok {
		return false
	}
	toRank, ok := travelRank[to]
	if !ok {
		return false
	}
	return toRank > fromRank
}

// CustomerMayCancel reports whether the customer is still allowed to cancel.
// Cancellation is blocked once the agent is almost at the door.
func (b *Booking) CustomerMayCancel() bool {
	if b.Status != BookingPending && b.Status != BookingConfirmed {
		return false
	}
	return b.TravelStatus != TravelAlmostNear && b.TravelStatus != TravelArrived
}

// IsTerminal reports whether the booking is in a terminal, immutable state.
func (b *Booking) IsTerminal() bool {
	return b.Status == BookingCancelled || b.Status == BookingCompleted
}
