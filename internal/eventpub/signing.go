package eventpub

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// signatureLength is the hex-encoded length of a SHA-256 HMAC (32 bytes).
const signatureLength = 64

// Sign computes the hex-encoded HMAC-SHA256 of payload using secret, which
// must itself be hex-encoded (as validated by config.Config.validate).
func Sign(secret string, payload []byte) (string, error) {
	key, err := hex.DecodeString(secret)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Verify reports whether sig is a valid HMAC-SHA256 of payload under secret.
// It validates the signature's format (length and hex encoding) before ever
// hashing, and compares in constant time.
func Verify(payload []byte, sig, secret string) bool {
	if len(sig) != signatureLength {
		return false
	}
	sigBytes, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	key, err := hex.DecodeString(secret)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(payload)
	expected := mac.Sum(nil)
	return subtle.ConstantTimeCompare(sigBytes, expected) == 1
}
