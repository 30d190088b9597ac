package rules

import "github.com/MichaelUrman/bookstore/internal/domain/enums"

var purchaseEdges = map[enums.PurchaseStatus][]enums.PurchaseStatus{
	enums.PurchaseStatusPending: {
		enums.PurchaseStatusSubmitted,
		enums.PurchaseStatusCancelled,
		enums.PurchaseStatusReady,
	},
	enums.PurchaseStatusSubmitted: {
		enums.PurchaseStatusReady,
		enums.PurchaseStatusCancelled,
	},
}

// CanTransition reports whether a non-staff actor may move a purchase from one
// status to another. Expiry is handled separately by CanExpire.
func CanTransition(from, to enums.PurchaseStatus) bool {
	for _, next := range purchaseEdges[from] {
		if next == to {
			return true
		}
	}
	return false
}

func CanExpire(from enums.PurchaseStatus) bool {
	return from.Open()
}

func SourcesFor(to enums.PurchaseStatus) []enums.PurchaseStatus {
	out := make([]enums.PurchaseStatus, 0, 2)
	for _, from := range []enums.PurchaseStatus{
		enums.PurchaseStatusPending,
		enums.PurchaseStatusSubmitted,
		enums.PurchaseStatusReady,
		enums.PurchaseStatusCancelled,
		enums.PurchaseStatusExpired,
	} {
		if CanTransition(from, to) {
			out = append(out, from)
		}
	}
	return out
}
