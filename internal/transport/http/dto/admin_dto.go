package dto

import "time"

type StaffStatusRequest struct {
	Status string `json:"status"`
}

type ReplacementRequest struct {
	CustomerID    int64 `json:"customer_id"`
	PublicationID int64 `json:"publication_id"`
}

type ReviewCopyRequest struct {
	PublicationID int64  `json:"publication_id"`
	Name          string `json:"name"`
	Email         string `json:"email"`
}

type ReviewCopyResponse struct {
	Purchase PurchaseResponse `json:"purchase"`
	Link     string           `json:"link"`
}

type AccountGroupRequest struct {
	Name       string  `json:"name"`
	AccountIDs []int64 `json:"account_ids"`
}

type AccountGroupResponse struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	MemberIDs []int64   `json:"member_ids"`
	CreatedBy int64     `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}

type PurchaseAuditResponse struct {
	AdminID    int64     `json:"admin_id"`
	FromStatus string    `json:"from_status"`
	ToStatus   string    `json:"to_status"`
	CreatedAt  time.Time `json:"created_at"`
}

type PaymentNotificationResponse struct {
	ID            string    `json:"id"`
	TxnID         string    `json:"txn_id"`
	TxnType       string    `json:"txn_type"`
	Amount        string    `json:"amount"`
	Currency      string    `json:"currency"`
	PaymentStatus string    `json:"payment_status"`
	ReceivedAt    time.Time `json:"received_at"`
}

type PurchaseDetailResponse struct {
	Purchase      PurchaseResponse              `json:"purchase"`
	Audit         []PurchaseAuditResponse       `json:"audit"`
	Notifications []PaymentNotificationResponse `json:"notifications"`
}
