package main

import (
	"encoding/base64"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"
)

func Test_generate(t *testing.T) {
	t.Run("hex", func(t *testing.T) {
		secret, err := generate(32, "hex")

		require.NoError(t, err)
		decoded, err := hex.DecodeString(secret)
		require.NoError(t, err)
		require.Len(t, decoded, 32)
	})

	t.Run("base64url", func(t *testing.T) {
		secret, err := generate(24, "base64url")

		require.NoError(t, err)
		decoded, err := base64.RawURLEncoding.DecodeString(secret)
		require.NoError(t, err)
		require.Len(t, decoded, 24)
	})

	t.Run("random", func(t *testing.T) {
		first, err := generate(32, "hex")
		require.NoError(t, err)
		second, err := generate(32, "hex")
		require.NoError(t, err)

		require.NotEqual(t, first, second)
	})

	t.Run("fails", func(t *testing.T) {
		_, err := generate(8, "hex")
		require.Error(t, err, "short secret is not allowed")

		_, err = generate(32, "base32")
		require.Error(t, err)
	})
}
