package gateway

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testSecret = []byte("whsec_test")
	testNow    = time.Unix(1700000000, 0)
)

func TestVerifySignatureAcceptsValid(t *testing.T) {
	payload := []byte(`{"type":"payment.succeeded"}`)
	header := Sign(testSecret, testNow, payload)

	err := VerifySignature(testSecret, header, payload, testNow, DefaultTolerance)
	assert.NoError(t, err)
}

func TestVerifySignatureRejectsTamperedBody(t *testing.T) {
	header := Sign(testSecret, testNow, []byte(`{"amount":100}`))

	err := VerifySignature(testSecret, header, []byte(`{"amount":999}`), testNow, DefaultTolerance)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestVerifySignatureRejectsWrongSecret(t *testing.T) {
	payload := []byte(`{}`)
	header := Sign([]byte("other-secret"), testNow, payload)

	err := VerifySignature(testSecret, header, payload, testNow, DefaultTolerance)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestVerifySignatureRejectsStaleTimestamp(t *testing.T) {
	payload := []byte(`{}`)
	header := Sign(testSecret, testNow.Add(-10*time.Minute), payload)

	err := VerifySignature(testSecret, header, payload, testNow, DefaultTolerance)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestVerifySignatureRejectsMalformedHeader(t *testing.T) {
	for _, header := range []string{"", "garbage", "t=123", "v1=abcd", "t=,v1="} {
		err := VerifySignature(testSecret, header, []byte(`{}`), testNow, DefaultTolerance)
		require.ErrorIs(t, err, ErrInvalidSignature, "header %q", header)
	}
}
