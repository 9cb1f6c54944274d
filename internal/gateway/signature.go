package gateway

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"

	"zenvoice/internal/types"
)

// SignatureHeader is the request header carrying the provider's webhook
// signature: a hex-encoded HMAC-SHA512 of the raw body keyed by the account
// secret key.
const SignatureHeader = "X-Paystack-Signature"

// VerifySignature validates a webhook body against the signature header.
// The comparison is constant-time. An empty header is rejected outright so
// unsigned deliveries never reach event processing.
func VerifySignature(payload []byte, header, secretKey string) error {
	if header == "" {
		return types.NewAppError(
			types.ErrCodeAuthSignatureMissing,
			"webhook signature header is missing",
			nil,
		)
	}

	mac := hmac.New(sha512.New, []byte(secretKey))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(header)) {
		return types.NewAppError(
			types.ErrCodeAuthSignatureMismatch,
			"webhook signature verification failed",
			nil,
		)
	}
	return nil
}

// SignPayload computes the signature the provider would attach to the given
// body. Used by tests and by the mock gateway.
func SignPayload(payload []byte, secretKey string) string {
	mac := hmac.New(sha512.New, []byte(secretKey))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
