package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zenvoice/internal/types"
)

func TestVerifySignature_Valid(t *testing.T) {
	payload := []byte(`{"event":"charge.success"}`)
	header := SignPayload(payload, "sk_test_secret")

	require.NoError(t, VerifySignature(payload, header, "sk_test_secret"))
}

func TestVerifySignature_MissingHeader(t *testing.T) {
	err := VerifySignature([]byte("{}"), "", "sk_test_secret")
	require.Error(t, err)
	assert.True(t, types.HasErrorCode(err, types.ErrCodeAuthSignatureMissing))
}

func TestVerifySignature_WrongKey(t *testing.T) {
	payload := []byte(`{"event":"charge.success"}`)
	header := SignPayload(payload, "sk_other_secret")

	err := VerifySignature(payload, header, "sk_test_secret")
	require.Error(t, err)
	assert.True(t, types.HasErrorCode(err, types.ErrCodeAuthSignatureMismatch))
}

func TestVerifySignature_TamperedBody(t *testing.T) {
	payload := []byte(`{"event":"charge.success"}`)
	header := SignPayload(payload, "sk_test_secret")

	err := VerifySignature([]byte(`{"event":"subscription.disable"}`), header, "sk_test_secret")
	require.Error(t, err)
	assert.True(t, types.HasErrorCode(err, types.ErrCodeAuthSignatureMismatch))
}
