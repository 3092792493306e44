package signing

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// TokenTTL is the fixed validity window of a signing link, counted from
// issuance or regeneration.
const TokenTTL = 30 * 24 * time.Hour

var tokenPattern = regexp.MustCompile(`^s_([a-f0-9]{16})_(\d+)$`)

// NewToken issues an opaque recipient token of the form
// s_<16 hex chars>_<unix millis>.
func NewToken(now time.Time) (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return fmt.Sprintf("s_%s_%d", hex.EncodeToString(buf), now.UnixMilli()), nil
}

// ExpiryFrom returns when a token issued at now stops being valid.
func ExpiryFrom(now time.Time) time.Time {
	return now.Add(TokenTTL)
}

// WellFormed reports whether token matches the issued format. It says
// nothing about whether the token exists.
func WellFormed(token string) bool {
	return tokenPattern.MatchString(token)
}

// IssuedAt extracts the issuance timestamp embedded in a well-formed token.
func IssuedAt(token string) (time.Time, bool) {
	m := tokenPattern.FindStringSubmatch(token)
	if m == nil {
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(m[2], 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(ms).UTC(), true
}
