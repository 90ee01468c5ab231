package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// SignatureHeader carries the payload HMAC on outbound deliveries.
const SignatureHeader = "X-Zenith-Signature"

// Signature computes the HMAC-SHA256 of the payload under the subscriber's
// secret, in the form "sha256=<hex>".
func Signature(payload []byte, secret string) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("secret cannot be empty")
	}

	mac := hmac.New(sha256.New, []byte(secret))
	if _, err := mac.Write(payload); err != nil {
		return "", fmt.Errorf("failed to write payload to HMAC: %w", err)
	}
	return fmt.Sprintf("sha256=%s", hex.EncodeToString(mac.Sum(nil))), nil
}

// VerifySignature checks a received signature header in constant time.
// Subscribers use the same routine on their side.
func VerifySignature(payload []byte, secret, header string) bool {
	expected, err := Signature(payload, secret)
	if err != nil {
		return false
	}
	return hmac.Equal([]byte(expected), []byte(header))
}
