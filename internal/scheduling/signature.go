// Package scheduling verifies and decodes scheduling-provider webhooks and
// recovers the correlation ids users type into booking questions.
package scheduling

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"
)

const (
	SignatureHeader = "Calendly-Webhook-Signature"

	// SignatureTolerance bounds replays of a captured request.
	SignatureTolerance = 3 * time.Minute
)

var (
	ErrMissingSignature = errors.New("missing webhook signature")
	ErrMissingSecret    = errors.New("webhook signing key not configured")
	ErrBadSignature     = errors.New("webhook signature mismatch")
	ErrStaleSignature   = errors.New("webhook signature timestamp outside tolerance")
)

// VerifySignature checks a "t=<unix>,v1=<hex>" header: v1 must be the
// HMAC-SHA256 of "<t>.<body>" under key.
func VerifySignature(header string, body []byte, key string, now time.Time) error {
	if key == "" {
		return ErrMissingSecret
	}
	if header == "" {
		return ErrMissingSignature
	}

	var ts, sig string
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
		return ErrBadSignature
	}

	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return ErrBadSignature
	}
	if d := now.Sub(time.Unix(unix, 0)); d > SignatureTolerance || d < -SignatureTolerance {
		return ErrStaleSignature
	}

	if !hmac.Equal([]byte(Sign(ts, body, key)), []byte(strings.ToLower(sig))) {
		return ErrBadSignature
	}
	return nil
}

// Sign returns the hex v1 signature for a timestamp and body.
func Sign(ts string, body []byte, key string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
