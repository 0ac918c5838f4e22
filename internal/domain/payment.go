/**
 * @description
 * This file defines the Payment record and the pure money arithmetic used by
 * the ledger. All amounts are int64 minor currency units to avoid
 * floating-point inaccuracies with financial data.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// PaymentMethod is how the customer pays for a booking.
type PaymentMethod string

const (
	MethodCard           PaymentMethod = "CARD"
	MethodCashOnDelivery PaymentMethod = "CASH_ON_DELIVERY"
	MethodWallet         PaymentMethod = "WALLET"
)

// PaymentStatus is the lifecycle state of a payment.
type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "PENDING"
	PaymentSuccess  PaymentStatus = "SUCCESS"
	PaymentFailed   PaymentStatus = "FAILED"
	PaymentRefunded PaymentStatus = "REFUNDED"
)

// Payment maps to the `payments` table, one-to-one with a booking.
type Payment struct {
	ID                uuid.UUID     `json:"id"`
	BookingID         uuid.UUID     `json:"booking_id"`
	Method            PaymentMethod `json:"method"`
	Status            PaymentStatus `json:"status"`
	ServiceAmount     int64         `json:"service_amount"`
	PlatformFee       int64         `json:"platform_fee"`
	Discount          int64         `json:"discount"`
	FinalAmount       int64         `json:"final_amount"` // service_amount + platform_fee - discount
	IsReleasedToAgent bool          `json:"is_released_to_agent"`
	ReleasedAt        *time.Time    `json:"released_at,omitempty"`
	TransactionID     *string       `json:"transaction_id,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

// AgentShare is the portion of a captured payment owed to the agent on
// completion. The platform keeps its fee; everything else goes out.
func (p *Payment) AgentShare() int64 {
	return p.FinalAmount - p.PlatformFee
}

// CancellationSplit divides a booking total into the refund owed to the
// customer and the fine owed to the agent. The fine is a fixed percentage of
// the total; the refund is computed as the exact remainder so that
// refund + fine == total always holds.
func CancellationSplit(totalAmount int64, finePercent int64) (refund, fine int64) {
	fine = totalAmount * finePercent / 100
	refund = totalAmount - fine
	return refund, fine
}
