package webhook

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"hash"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"
)

// ValidateBearerToken checks an "Authorization: Bearer <token>" header
// value in constant time.
func ValidateBearerToken(authorization, expected string) bool {
	const prefix = "Bearer "
	if !strings.HasPrefix(authorization, prefix) {
		slog.Warn("auth failed: invalid token")
		return false
	}
	valid := hmac.Equal([]byte(authorization[len(prefix):]), []byte(expected))
	if !valid {
		slog.Warn("auth failed: invalid token")
	}
	return valid
}

// HMACParams configures signature extraction and verification.
type HMACParams struct {
	// Algorithm is sha256, sha1 or sha512. Unknown values fall back
	// to sha256.
	Algorithm string
	// Encoding is hex or base64.
	Encoding string
	// SigPrefix is stripped from the header value before comparison.
	// Ignored when SigRegex is set.
	SigPrefix string
	// SigRegex extracts the signature from the header value (group 1).
	SigRegex string
	// PayloadPrefixRegex extracts a prefix from the header value
	// (group 1) that is prepended to the body with "." before
	// computing the HMAC. Used by Stripe/Slack-style signatures over
	// "{timestamp}.{body}".
	PayloadPrefixRegex string
}

func newHash(algorithm string) func() hash.Hash {
	switch algorithm {
	case "sha1":
		return sha1.New
	case "sha512":
		return sha512.New
	default:
		return sha256.New
	}
}

// ValidateHMACSignature verifies an HMAC signature header against the
// raw request body.
func ValidateHMACSignature(body []byte, signatureValue, secret string, params HMACParams) bool {
	if signatureValue == "" || secret == "" {
		slog.Warn("hmac auth failed: missing signature or secret")
		return false
	}

	sig := signatureValue
	switch {
	case params.SigRegex != "":
		re, err := regexp.Compile(params.SigRegex)
		if err != nil {
			slog.Warn("hmac auth failed: invalid sig_regex", "error", err)
			return false
		}
		m := re.FindStringSubmatch(signatureValue)
		if m == nil || m[1] == "" {
			slog.Warn("hmac auth failed: sig_regex did not match")
			return false
		}
		sig = m[1]
	case params.SigPrefix != "":
		sig = strings.TrimPrefix(signatureValue, params.SigPrefix)
	}

	signedPayload := body
	if params.PayloadPrefixRegex != "" {
		re, err := regexp.Compile(params.PayloadPrefixRegex)
		if err != nil {
			slog.Warn("hmac auth failed: invalid payload_prefix_regex", "error", err)
			return false
		}
		if m := re.FindStringSubmatch(signatureValue); m != nil && m[1] != "" {
			signedPayload = append([]byte(m[1]+"."), body...)
		}
	}

	mac := hmac.New(newHash(params.Algorithm), []byte(secret))
	mac.Write(signedPayload)

	var expected string
	if params.Encoding == "base64" {
		expected = base64.StdEncoding.EncodeToString(mac.Sum(nil))
	} else {
		expected = hex.EncodeToString(mac.Sum(nil))
	}

	valid := hmac.Equal([]byte(sig), []byte(expected))
	if !valid {
		slog.Warn("hmac auth failed: signature mismatch",
			"algorithm", params.Algorithm, "encoding", params.Encoding)
	}
	return valid
}

// validateHookAuth dispatches per-hook authentication. HMAC hooks use
// their signature configuration; bearer hooks fall back to the global
// token when no per-hook token is set.
func validateHookAuth(hook *Hook, authorization, signatureValue string, body []byte, globalToken string) bool {
	if hook.AuthMode == AuthHMAC {
		return ValidateHMACSignature(body, signatureValue, hook.HMACSecret, HMACParams{
			Algorithm:          hook.HMACAlgorithm,
			Encoding:           hook.HMACEncoding,
			SigPrefix:          hook.HMACSigPrefix,
			SigRegex:           hook.HMACSigRegex,
			PayloadPrefixRegex: hook.HMACPayloadPrefixRegex,
		})
	}

	expected := hook.Token
	if expected == "" {
		expected = globalToken
	}
	if expected == "" {
		slog.Warn("auth failed: no token configured", "hook", hook.ID)
		return false
	}
	return ValidateBearerToken(authorization, expected)
}

// RateLimiter is a sliding-window limiter over the last 60 seconds.
type RateLimiter struct {
	mu         sync.Mutex
	max        int
	timestamps []time.Time
}

func NewRateLimiter(maxPerMinute int) *RateLimiter {
	return &RateLimiter{max: maxPerMinute}
}

// Allow records the request and reports whether it is within the
// limit.
func (r *RateLimiter) Allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-time.Minute)
	kept := r.timestamps[:0]
	for _, ts := range r.timestamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	r.timestamps = kept

	if len(r.timestamps) >= r.max {
		slog.Warn("rate limit exceeded")
		return false
	}
	r.timestamps = append(r.timestamps, now)
	return true
}

// Reset clears all recorded timestamps.
func (r *RateLimiter) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.timestamps = nil
}
