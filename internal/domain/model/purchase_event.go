package model

import (
	"time"

	"github.com/MichaelUrman/bookstore/internal/domain/enums"
)

type PurchaseEventType string

const (
	PurchaseEventCreated       PurchaseEventType = "created"
	PurchaseEventStatusChanged PurchaseEventType = "status_changed"
	PurchaseEventDelivered     PurchaseEventType = "delivered"
)

type PurchaseEvent struct {
	Type       PurchaseEventType    `json:"type"`
	Purchase   Purchase             `json:"purchase"`
	FromStatus enums.PurchaseStatus `json:"from_status,omitempty"`
	ActorID    *int64               `json:"actor_id,omitempty"`
	Source     string               `json:"source"`
	OccurredAt time.Time            `json:"occurred_at"`
}
