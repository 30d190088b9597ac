package rules

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

const (
	DefaultAllowedDownloads    = 5
	DefaultReviewCopyDownloads = 1
)

func DownloadAvailable(count, limit int) bool {
	if limit <= 0 {
		limit = DefaultAllowedDownloads
	}
	return count < limit
}

// ReviewKey derives the access key mailed with a review copy. The key never
// expires and is only as secret as the purchase id and recipient address.
func ReviewKey(purchaseID int64, email string) string {
	sum := sha256.Sum256([]byte(strconv.FormatInt(purchaseID, 10) + ":" + strings.ToLower(strings.TrimSpace(email))))
	return hex.EncodeToString(sum[:])
}
