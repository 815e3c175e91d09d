package ledger

import (
	"fmt"
	"strings"
)

// FormatTicketNumber renders the department prefix followed by the counter,
// zero padded to three digits. Counters past 999 keep growing in width.
func FormatTicketNumber(prefix string, n int64) string {
	return fmt.Sprintf("%s%03d", prefix, n)
}

// ValidPhone accepts 8 to 16 digits with an optional leading plus sign.
func ValidPhone(value string) bool {
	digits := strings.TrimPrefix(value, "+")
	if len(digits) < 8 || len(digits) > 16 {
		return false
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
