package social

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strings"
)

const signaturePrefix = "sha256="

// Sign returns the "sha256=<base64 HMAC-SHA256>" form used by both webhook
// signatures and CRC response tokens.
func Sign(secret string, data []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(data)
	return signaturePrefix + base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether header is a valid signature of body.
// An empty secret never verifies.
func VerifySignature(secret string, body []byte, header string) bool {
	if secret == "" || !strings.HasPrefix(header, signaturePrefix) {
		return false
	}
	return hmac.Equal([]byte(header), []byte(Sign(secret, body)))
}

// CRCResponse answers a webhook registration challenge.
func CRCResponse(secret, crcToken string) string {
	return Sign(secret, []byte(crcToken))
}
