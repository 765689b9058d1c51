package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// nonceCharset has 64 symbols. 64 divides 256, so with this set the
// rejection loop in RandomNonce never drops a byte.
const nonceCharset = "0123456789ABCDEFGHIJKLMNOPQRSTUVXYZabcdefghijklmnopqrstuvwxyz-._"

// RandomNonce returns length characters drawn uniformly from nonceCharset
// using crypto/rand.
func RandomNonce(length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("auth: nonce length must be positive, got %d", length)
	}

	limit := 256 - 256%len(nonceCharset)
	out := make([]byte, 0, length)
	buf := make([]byte, length)

	for len(out) < length {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("auth: generating nonce: %w", err)
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			out = append(out, nonceCharset[int(b)%len(nonceCharset)])
			if len(out) == length {
				break
			}
		}
	}
	return string(out), nil
}

// HashNonce is the lowercase hex SHA-256 of raw. The hash goes to the
// identity provider; the raw value stays on the device until verification.
func HashNonce(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
