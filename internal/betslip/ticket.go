package betslip

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Ticket is the finalized slip handed to settlement.
type Ticket struct {
	ID                string          `json:"id"`
	Mode              Mode            `json:"mode"`
	Legs              []Selection     `json:"legs"`
	TotalStake        decimal.Decimal `json:"totalStake"`
	CombinedOdds      decimal.Decimal `json:"combinedOdds"`
	PotentialWinnings decimal.Decimal `json:"potentialWinnings"`
	Currency          string          `json:"currency"`
	CreatedAt         time.Time       `json:"createdAt"`
}

// Receipt is settlement's answer for an accepted ticket.
type Receipt struct {
	TicketID  string    `json:"ticketId"`
	Reference string    `json:"reference"`
	SettledAt time.Time `json:"settledAt"`
}

// Settler places finalized tickets.
type Settler interface {
	Settle(ctx context.Context, t Ticket) (Receipt, error)
}

// SettlerFunc adapts a function to Settler.
type SettlerFunc func(ctx context.Context, t Ticket) (Receipt, error)

// Settle calls f.
func (f SettlerFunc) Settle(ctx context.Context, t Ticket) (Receipt, error) {
	return f(ctx, t)
}
