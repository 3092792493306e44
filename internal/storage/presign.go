package storage

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
)

// Signer generates and validates HMAC signatures for memory-backed download
// URLs.
type Signer struct {
	secret []byte
}

// NewSigner creates a Signer.
func NewSigner(secret []byte) *Signer {
	return &Signer{secret: secret}
}

// Sign returns the hex signature for key valid until expiresUnix.
func (s *Signer) Sign(key string, expiresUnix int64) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(fmt.Sprintf("%s:%d", key, expiresUnix)))
	return hex.EncodeToString(mac.Sum(nil))
}

// Validate compares the provided signature with the expected one. Expiry is
// checked by the caller.
func (s *Signer) Validate(key, expires, signature string) bool {
	exp, err := strconv.ParseInt(expires, 10, 64)
	if err != nil {
		return false
	}
	return hmac.Equal([]byte(s.Sign(key, exp)), []byte(signature))
}
