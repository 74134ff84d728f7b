// Package signature verifies webhook bodies signed with HMAC-SHA512.
package signature

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"strings"

	"github.com/srgjo27/escrow_ledger/internal/core/domain"
)

type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Sign returns the lowercase hex HMAC-SHA512 of body.
func (v *Verifier) Sign(body []byte) string {
	mac := hmac.New(sha512.New, v.secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks header against the raw request body. It must run before the
// body is decoded.
func (v *Verifier) Verify(body []byte, header string) error {
	if len(v.secret) == 0 {
		return domain.ErrSignatureVerification
	}

	got, err := hex.DecodeString(strings.TrimSpace(header))
	if err != nil || len(got) == 0 {
		return domain.ErrSignatureVerification
	}

	mac := hmac.New(sha512.New, v.secret)
	mac.Write(body)

	if !hmac.Equal(got, mac.Sum(nil)) {
		return domain.ErrSignatureVerification
	}

	return nil
}
