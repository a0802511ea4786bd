package domain

import (
	"encoding/json"
	"time"
)

const EventOrderPlaced = "order.placed"

// OutboxEvent is written in the same transaction as the state it describes
// and relayed to the broker afterwards.
type OutboxEvent struct {
	ID        int64
	EventID   string
	Type      string
	Key       string
	Payload   json.RawMessage
	CreatedAt time.Time
	SentAt    *time.Time
}

type OrderPlacedPayload struct {
	OrderID    string                 `json:"order_id"`
	CustomerID int64                  `json:"customer_id"`
	AddressID  int64                  `json:"address_id"`
	TotalPrice string                 `json:"total_price"`
	Items      []OrderPlacedItemEntry `json:"items"`
	PlacedAt   time.Time              `json:"placed_at"`
}

type OrderPlacedItemEntry struct {
	VariantID int64  `json:"variant_id"`
	Quantity  int    `json:"quantity"`
	Price     string `json:"price"`
}
