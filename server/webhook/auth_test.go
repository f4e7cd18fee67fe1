package webhook

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateBearerToken(t *testing.T) {
	assert.True(t, ValidateBearerToken("Bearer secret123", "secret123"))
	assert.False(t, ValidateBearerToken("Bearer wrong", "secret123"))
	assert.False(t, ValidateBearerToken("secret123", "secret123"))
	assert.False(t, ValidateBearerToken("", "secret123"))
}

func signHex(t *testing.T, secret string, payload []byte) string {
	t.Helper()
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestValidateHMACSignatureHexWithPrefix(t *testing.T) {
	body := []byte(`{"event":"push"}`)
	sig := "sha256=" + signHex(t, "s3cret", body)

	assert.True(t, ValidateHMACSignature(body, sig, "s3cret", HMACParams{
		Algorithm: "sha256", Encoding: "hex", SigPrefix: "sha256=",
	}))
	assert.False(t, ValidateHMACSignature(body, sig, "other", HMACParams{
		Algorithm: "sha256", Encoding: "hex", SigPrefix: "sha256=",
	}))
}

func TestValidateHMACSignatureBase64(t *testing.T) {
	body := []byte("payload")
	mac := hmac.New(sha256.New, []byte("s3cret"))
	mac.Write(body)
	sig := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	assert.True(t, ValidateHMACSignature(body, sig, "s3cret", HMACParams{
		Algorithm: "sha256", Encoding: "base64",
	}))
}

func TestValidateHMACSignatureSha1(t *testing.T) {
	body := []byte("payload")
	mac := hmac.New(sha1.New, []byte("s3cret"))
	mac.Write(body)
	sig := "sha1=" + hex.EncodeToString(mac.Sum(nil))

	assert.True(t, ValidateHMACSignature(body, sig, "s3cret", HMACParams{
		Algorithm: "sha1", Encoding: "hex", SigPrefix: "sha1=",
	}))
}

func TestValidateHMACSignatureSigRegex(t *testing.T) {
	body := []byte("payload")
	sig := signHex(t, "s3cret", body)
	header := "t=12345,v1=" + sig

	assert.True(t, ValidateHMACSignature(body, header, "s3cret", HMACParams{
		Algorithm: "sha256", Encoding: "hex", SigRegex: `v1=([0-9a-f]+)`,
	}))
	assert.False(t, ValidateHMACSignature(body, "t=12345", "s3cret", HMACParams{
		Algorithm: "sha256", Encoding: "hex", SigRegex: `v1=([0-9a-f]+)`,
	}))
}

func TestValidateHMACSignaturePayloadPrefix(t *testing.T) {
	// Stripe-style: the signed content is "{timestamp}.{body}".
	body := []byte(`{"id":"evt_1"}`)
	signed := append([]byte("12345."), body...)
	sig := signHex(t, "s3cret", signed)
	header := "t=12345,v1=" + sig

	assert.True(t, ValidateHMACSignature(body, header, "s3cret", HMACParams{
		Algorithm:          "sha256",
		Encoding:           "hex",
		SigRegex:           `v1=([0-9a-f]+)`,
		PayloadPrefixRegex: `t=(\d+)`,
	}))
}

func TestValidateHMACSignatureMissingInputs(t *testing.T) {
	assert.False(t, ValidateHMACSignature([]byte("x"), "", "s3cret", HMACParams{}))
	assert.False(t, ValidateHMACSignature([]byte("x"), "sig", "", HMACParams{}))
}

func TestValidateHookAuthBearerFallsBackToGlobalToken(t *testing.T) {
	hook := &Hook{ID: "h1", AuthMode: AuthBearer}
	assert.True(t, validateHookAuth(hook, "Bearer global", "", nil, "global"))

	hook.Token = "perhook"
	assert.True(t, validateHookAuth(hook, "Bearer perhook", "", nil, "global"))
	assert.False(t, validateHookAuth(hook, "Bearer global", "", nil, "global"))
}

func TestValidateHookAuthNoTokenConfigured(t *testing.T) {
	hook := &Hook{ID: "h1", AuthMode: AuthBearer}
	assert.False(t, validateHookAuth(hook, "Bearer anything", "", nil, ""))
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(2)
	assert.True(t, rl.Allow())
	assert.True(t, rl.Allow())
	assert.False(t, rl.Allow())

	rl.Reset()
	assert.True(t, rl.Allow())
}
