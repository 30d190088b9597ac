package enums

import "strings"

type TransactionKind string

const (
	TransactionKindPurchase     TransactionKind = "purchase"
	TransactionKindFreePurchase TransactionKind = "free_purchase"
	TransactionKindReplace      TransactionKind = "replace"
	TransactionKindReviewCopy   TransactionKind = "review_copy"
)

func ParseTransactionKind(raw string) (TransactionKind, bool) {
	kind := TransactionKind(strings.ToLower(strings.TrimSpace(raw)))
	switch kind {
	case TransactionKindPurchase,
		TransactionKindFreePurchase,
		TransactionKindReplace,
		TransactionKindReviewCopy:
		return kind, true
	default:
		return "", false
	}
}
