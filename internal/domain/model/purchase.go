package model

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/MichaelUrman/bookstore/internal/domain/enums"
)

type Purchase struct {
	ID              int64                 `json:"id"`
	Kind            enums.TransactionKind `json:"kind"`
	Price           decimal.Decimal       `json:"price"`
	Currency        string                `json:"currency"`
	PublicationID   int64                 `json:"publication_id"`
	Status          enums.PurchaseStatus  `json:"status"`
	CustomerID      *int64                `json:"customer_id,omitempty"`
	AdminID         *int64                `json:"admin_id,omitempty"`
	ContactEmail    string                `json:"contact_email"`
	DeliveryAddress string                `json:"delivery_address"`
	Email           DeliveryEmail         `json:"email"`
	EmailSent       bool                  `json:"email_sent"`
	EmailSentAt     *time.Time            `json:"email_sent_at,omitempty"`
	CreatedAt       time.Time             `json:"created_at"`
	UpdatedAt       time.Time             `json:"updated_at"`
}

type DeliveryEmail struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	Link    string `json:"link"`
}

func (p Purchase) OwnedByAny(accountIDs []int64) bool {
	if p.CustomerID == nil {
		return false
	}
	for _, id := range accountIDs {
		if id == *p.CustomerID {
			return true
		}
	}
	return false
}

type PurchaseAudit struct {
	PurchaseID int64                `json:"purchase_id"`
	AdminID    int64                `json:"admin_id"`
	FromStatus enums.PurchaseStatus `json:"from_status"`
	ToStatus   enums.PurchaseStatus `json:"to_status"`
	CreatedAt  time.Time            `json:"created_at"`
}
