package checkout

import (
	"crypto/rand"
	"fmt"
)

// Order codes are 10 characters from the Crockford base32 alphabet (no I, L,
// O, U), giving a 2^50 identifier space. At storefront order volumes the
// birthday-collision probability is negligible, and the UNIQUE constraint on
// orders.code turns the astronomically rare collision into a create error
// rather than silent corruption.
const (
	codeAlphabet = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"
	codeLength   = 10
)

// NewOrderCode returns a fresh random order code.
func NewOrderCode() (string, error) {
	buf := make([]byte, codeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("checkout: generate order code: %w", err)
	}
	for i, b := range buf {
		buf[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(buf), nil
}
