package signature_test

import (
	"testing"

	"github.com/srgjo27/escrow_ledger/internal/core/domain"
	"github.com/srgjo27/escrow_ledger/internal/platform/signature"
	"github.com/stretchr/testify/assert"
)

func TestVerify(t *testing.T) {
	v := signature.NewVerifier("whsec_test")
	body := []byte(`{"id":"evt_1","event":"charge.success"}`)
	sig := v.Sign(body)

	assert.NoError(t, v.Verify(body, sig))
	assert.NoError(t, v.Verify(body, "  "+sig+" "))

	tests := []struct {
		name   string
		body   []byte
		header string
	}{
		{"tampered body", []byte(`{"id":"evt_2","event":"charge.success"}`), sig},
		{"empty header", body, ""},
		{"not hex", body, "zz-not-hex"},
		{"other secret", body, signature.NewVerifier("other").Sign(body)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, v.Verify(tt.body, tt.header), domain.ErrSignatureVerification)
		})
	}
}

func TestVerify_EmptySecretRejects(t *testing.T) {
	v := signature.NewVerifier("")
	body := []byte(`{}`)

	assert.ErrorIs(t, v.Verify(body, v.Sign(body)), domain.ErrSignatureVerification)
}
