/**
 * @description
 * Wallet models for the three-party ledger: customer wallets, agent wallets,
 * and the singleton platform wallet. Every balance mutation is paired with
 * exactly one WalletTransaction record inside the same database transaction,
 * so for any wallet `balance == sum(transactions.amount)` at all times.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// WalletKind identifies which of the three ledgers a wallet belongs to.
type WalletKind string

const (
	WalletCustomer WalletKind = "CUSTOMER"
	WalletAgent    WalletKind = "AGENT"
	WalletPlatform WalletKind = "PLATFORM"
)

// Wallet is a balance holder for one party of the ledger.
type Wallet struct {
	ID        uuid.UUID  `json:"id"`
	Kind      WalletKind `json:"kind"`
	OwnerID   *uuid.UUID `json:"owner_id,omitempty"` // nil for the platform wallet
	Balance   int64      `json:"balance"`
	CreatedAt time.Time  `json:"created_at"`
}

// WalletTransaction is one append-only ledger entry. Amount is signed:
// positive for credits, negative for debits.
type WalletTransaction struct {
	ID        uuid.UUID `json:"id"`
	WalletID  uuid.UUID `json:"wallet_id"`
	Amount    int64     `json:"amount"`
	Note      string    `json:"note"`
	CreatedAt time.Time `json:"created_at"`
}
