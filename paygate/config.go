package paygate

import (
	"os"
	"strconv"
	"strings"
)

// DefaultFreeTierBytes is the inclusive size ceiling for free processing (50 MiB).
const DefaultFreeTierBytes int64 = 50 * 1024 * 1024

// DefaultBypassToken is the coupon that skips payment.
const DefaultBypassToken = "DEVTEST"

// FreeTierBytes returns the free-tier ceiling in bytes.
// Default is 50 MiB. You can override by setting env MAILSIZED_FREE_TIER_BYTES (non-negative integer).
func FreeTierBytes() int64 {
	raw := strings.TrimSpace(os.Getenv("MAILSIZED_FREE_TIER_BYTES"))
	if raw == "" {
		return DefaultFreeTierBytes
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return DefaultFreeTierBytes
	}
	return n
}

// BypassTokens reads MAILSIZED_BYPASS_TOKENS (comma separated).
func BypassTokens() []string {
	raw := strings.TrimSpace(os.Getenv("MAILSIZED_BYPASS_TOKENS"))
	if raw == "" {
		return []string{DefaultBypassToken}
	}
	return splitTokens(raw)
}

func splitTokens(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
