package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentNotification struct {
	ID            string              `json:"id"`
	PurchaseID    int64               `json:"purchase_id"`
	TxnID         string              `json:"txn_id"`
	TxnType       string              `json:"txn_type"`
	RawParams     map[string][]string `json:"raw_params"`
	Amount        decimal.Decimal     `json:"amount"`
	Currency      string              `json:"currency"`
	PaymentStatus string              `json:"payment_status"`
	ReceivedAt    time.Time           `json:"received_at"`
}
