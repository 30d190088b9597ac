package dto

import "time"

type PurchaseCreateRequest struct {
	PublicationID int64  `json:"publication_id"`
	Kind          string `json:"kind,omitempty"`
	ContactEmail  string `json:"contact_email,omitempty"`
}

type PurchaseResponse struct {
	ID            int64      `json:"id"`
	Kind          string     `json:"kind"`
	Price         string     `json:"price"`
	Currency      string     `json:"currency"`
	PublicationID int64      `json:"publication_id"`
	Status        string     `json:"status"`
	CustomerID    *int64     `json:"customer_id,omitempty"`
	ContactEmail  string     `json:"contact_email,omitempty"`
	EmailSent     bool       `json:"email_sent"`
	EmailSentAt   *time.Time `json:"email_sent_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

type PurchaseListResponse struct {
	Items []PurchaseResponse `json:"items"`
}

type EntitlementResponse struct {
	PublicationID int64  `json:"publication_id"`
	Status        string `json:"status"`
	PurchaseID    *int64 `json:"purchase_id,omitempty"`
	Downloads     int    `json:"downloads"`
	Limit         int    `json:"limit"`
}
