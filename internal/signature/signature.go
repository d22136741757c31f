// Package signature verifies webhook payload signatures sent in the
// X-Hub-Signature-256 header.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// Header is the request header carrying the payload signature.
const Header = "X-Hub-Signature-256"

const prefix = "sha256="

var (
	ErrMissing   = errors.New("signature: header missing")
	ErrMalformed = errors.New("signature: header malformed")
	ErrMismatch  = errors.New("signature: mismatch")
)

// Sign returns the header value for body under secret.
func Sign(body []byte, secret string) string {
	return prefix + hex.EncodeToString(mac(body, secret))
}

// Verify checks header against the HMAC-SHA256 of the raw body bytes. The body
// must be the exact bytes received, before any decoding.
func Verify(body []byte, header, secret string) error {
	header = strings.TrimSpace(header)
	if header == "" {
		return ErrMissing
	}
	if !strings.HasPrefix(header, prefix) {
		return ErrMalformed
	}
	got, err := hex.DecodeString(strings.TrimPrefix(header, prefix))
	if err != nil {
		return ErrMalformed
	}
	if !hmac.Equal(got, mac(body, secret)) {
		return ErrMismatch
	}
	return nil
}

func mac(body []byte, secret string) []byte {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(body)
	return h.Sum(nil)
}
