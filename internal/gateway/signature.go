package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SignatureHeader carries the webhook signature:
//
//	Gateway-Signature: t=1699564800,v1=5257a869e7...
//
// where v1 is hex(HMAC-SHA256(secret, "<t>.<raw body>")). Signing the
// timestamp together with the body bounds the replay window.
const SignatureHeader = "Gateway-Signature"

// ErrInvalidSignature is returned for any malformed, mismatched or stale
// signature. Callers must reject the delivery before parsing the payload: an
// unverified event is attacker-controllable input.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// DefaultTolerance is the maximum accepted clock skew between the signature
// timestamp and the local clock.
const DefaultTolerance = 5 * time.Minute

// Sign computes the signature header value for payload at time t.
// Used by the webhook tests and by gateway simulators in development.
func Sign(secret []byte, t time.Time, payload []byte) string {
	ts := strconv.FormatInt(t.Unix(), 10)
	return fmt.Sprintf("t=%s,v1=%s", ts, computeHMAC(secret, ts, payload))
}

// VerifySignature checks header against the raw request body. The body must
// be the exact bytes received on the wire, before any JSON decoding.
func VerifySignature(secret []byte, header string, payload []byte, now time.Time, tolerance time.Duration) error {
	ts, sig, err := parseHeader(header)
	if err != nil {
		return err
	}

	t, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return ErrInvalidSignature
	}
	if d := now.Sub(time.Unix(t, 0)); d > tolerance || d < -tolerance {
		return ErrInvalidSignature
	}

	expected := computeHMAC(secret, ts, payload)
	if !hmac.Equal([]byte(expected), []byte(sig)) {
		return ErrInvalidSignature
	}
	return nil
}

func parseHeader(header string) (ts, sig string, err error) {
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			ts = v
		case "v1":
			sig = v
		}
	}
	if ts == "" || sig == "" {
		return "", "", ErrInvalidSignature
	}
	return ts, sig, nil
}

func computeHMAC(secret []byte, ts string, payload []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
