package messaging

import (
	"strconv"
	"strings"
)

// ParseRetryAfter reads a Retry-After header holding whole seconds.
// Missing, malformed or negative values yield nil.
func ParseRetryAfter(header string) *int {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil
	}
	secs, err := strconv.Atoi(header)
	if err != nil || secs < 0 {
		return nil
	}
	return &secs
}
