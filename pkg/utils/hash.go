package utils

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// CalculateStringSHA256 computes the SHA-256 hash of a string.
func CalculateStringSHA256(content string) string {
	hash := sha256.New()
	hash.Write([]byte(content))
	return hex.EncodeToString(hash.Sum(nil))
}

// SignHMACSHA256 computes the hex-encoded HMAC-SHA256 of payload under secret.
// Used for webhook signature verification.
func SignHMACSHA256(secret, payload []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyHMACSHA256 reports whether signature (hex) matches the HMAC-SHA256 of
// payload under secret, using a constant-time comparison.
func VerifyHMACSHA256(secret, payload []byte, signature string) bool {
	expected := SignHMACSHA256(secret, payload)
	return hmac.Equal([]byte(expected), []byte(signature))
}
