package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sign(secret, challenge string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(challenge))
	return hex.EncodeToString(h.Sum(nil))
}

func TestGenerateChallengeIsRandomHex(t *testing.T) {
	auth := NewAuthHandler("secret")

	first, err := auth.GenerateChallenge()
	require.NoError(t, err)
	assert.Len(t, first, 64)
	_, err = hex.DecodeString(first)
	require.NoError(t, err)

	second, err := auth.GenerateChallenge()
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestVerifySignature(t *testing.T) {
	auth := NewAuthHandler("secret")
	challenge := "abc123"

	assert.True(t, auth.VerifySignature(challenge, sign("secret", challenge)))
	assert.False(t, auth.VerifySignature(challenge, sign("wrong-secret", challenge)))
	assert.False(t, auth.VerifySignature(challenge, "not-a-signature"))
}

func TestHandleResponseSuccess(t *testing.T) {
	auth := NewAuthHandler("secret")
	client := &Client{Challenge: "abc123", State: StateAuthenticating}

	result := auth.HandleResponse(client, sign("secret", "abc123"))

	assert.True(t, result.Success)
	assert.Equal(t, "auth.success", result.Event)
	assert.True(t, client.Authenticated)
	assert.Equal(t, StateAuthenticated, client.State)
	// The challenge is single use.
	assert.Empty(t, client.Challenge)
}

func TestHandleResponseCountsFailedAttempts(t *testing.T) {
	auth := NewAuthHandler("secret")
	client := &Client{Challenge: "abc123"}

	for i := 0; i < maxAuthAttempts-1; i++ {
		result := auth.HandleResponse(client, "bad-signature")
		assert.False(t, result.Success)
		assert.Equal(t, "Invalid signature", result.Message)
	}

	result := auth.HandleResponse(client, "bad-signature")
	assert.False(t, result.Success)
	assert.Equal(t, "Too many failed attempts", result.Message)
	assert.False(t, client.Authenticated)
}

func TestHandleResponseWithoutChallenge(t *testing.T) {
	auth := NewAuthHandler("secret")
	client := &Client{}

	result := auth.HandleResponse(client, sign("secret", ""))
	assert.False(t, result.Success)
	assert.Equal(t, "No challenge outstanding", result.Message)
}

func TestFailedAttemptsResetOnSuccess(t *testing.T) {
	auth := NewAuthHandler("secret")
	client := &Client{Challenge: "abc123"}

	auth.HandleResponse(client, "bad-signature")
	result := auth.HandleResponse(client, sign("secret", "abc123"))

	assert.True(t, result.Success)
	assert.Zero(t, client.AuthAttempts)
}
