package webhook

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignatureKnownVector(t *testing.T) {
	sig, err := Signature([]byte("hello"), "key")
	require.NoError(t, err)
	assert.Equal(t, "sha256=9307b3b915efb5171ff14d8cb55fbcc798c6c0ef1456d66ded1a6aa723a58b7b", sig)
}

func TestSignatureRoundTrip(t *testing.T) {
	payload := []byte(`{"id":"e1","type":"order.created"}`)

	sig, err := Signature(payload, "topsecret")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(sig, "sha256="))

	assert.True(t, VerifySignature(payload, "topsecret", sig))
	assert.False(t, VerifySignature(payload, "wrong", sig))
	assert.False(t, VerifySignature([]byte(`tampered`), "topsecret", sig))
	assert.False(t, VerifySignature(payload, "topsecret", "sha256=deadbeef"))
}

func TestSignatureEmptySecret(t *testing.T) {
	_, err := Signature([]byte("x"), "")
	assert.Error(t, err)
	assert.False(t, VerifySignature([]byte("x"), "", "sha256=anything"))
}
