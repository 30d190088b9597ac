package enums

import "strings"

type PurchaseStatus string

const (
	PurchaseStatusPending   PurchaseStatus = "pending"
	PurchaseStatusSubmitted PurchaseStatus = "submitted"
	PurchaseStatusReady     PurchaseStatus = "ready"
	PurchaseStatusCancelled PurchaseStatus = "cancelled"
	PurchaseStatusExpired   PurchaseStatus = "expired"
)

func ParsePurchaseStatus(raw string) (PurchaseStatus, bool) {
	status := PurchaseStatus(strings.ToLower(strings.TrimSpace(raw)))
	switch status {
	case PurchaseStatusPending,
		PurchaseStatusSubmitted,
		PurchaseStatusReady,
		PurchaseStatusCancelled,
		PurchaseStatusExpired:
		return status, true
	default:
		return "", false
	}
}

func (s PurchaseStatus) Open() bool {
	return s == PurchaseStatusPending || s == PurchaseStatusSubmitted
}
