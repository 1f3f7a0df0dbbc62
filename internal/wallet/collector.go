package wallet

import (
	"context"

	"github.com/google/uuid"
)

// Collector moves the fiat leg of a conversion: rupees are collected before
// HP is minted and paid out when HP is burned.
type Collector interface {
	CollectINR(ctx context.Context, input CollectionInput) (CollectionReceipt, error)
	PayoutINR(ctx context.Context, input PayoutInput) (CollectionReceipt, error)
}

// CollectionInput describes an inbound INR collection. Paise is the amount
// in INR minor units.
type CollectionInput struct {
	UserID string
	Paise  int64
	Source string
}

// PayoutInput describes an outbound INR payout.
type PayoutInput struct {
	UserID      string
	Paise       int64
	Destination string
}

// CollectionReceipt captures the gateway response for a fiat movement.
type CollectionReceipt struct {
	Reference string
	Status    string
}

// StaticCollector simulates a payment gateway that always succeeds.
type StaticCollector struct{}

// CollectINR approves the collection with a synthetic reference.
func (StaticCollector) CollectINR(_ context.Context, _ CollectionInput) (CollectionReceipt, error) {
	return CollectionReceipt{Reference: uuid.NewString(), Status: "collected"}, nil
}

// PayoutINR approves the payout with a synthetic reference.
func (StaticCollector) PayoutINR(_ context.Context, _ PayoutInput) (CollectionReceipt, error) {
	return CollectionReceipt{Reference: uuid.NewString(), Status: "paid"}, nil
}
