package cryptox

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSealerRoundTrip(t *testing.T) {
	s, err := NewSealer([]byte("device-secret"), "credentials")
	require.NoError(t, err)

	plaintext := []byte(`{"access_token":"a","refresh_token":"r"}`)
	sealed, err := s.Seal(plaintext, []byte("credentials"))
	require.NoError(t, err)
	require.NotContains(t, string(sealed), "refresh_token")

	opened, err := s.Open(sealed, []byte("credentials"))
	require.NoError(t, err)
	require.Equal(t, plaintext, opened)
}

func TestSealerRejects(t *testing.T) {
	s, err := NewSealer([]byte("device-secret"), "credentials")
	require.NoError(t, err)

	sealed, err := s.Seal([]byte("payload"), nil)
	require.NoError(t, err)

	t.Run("tampered ciphertext", func(t *testing.T) {
		bad := append([]byte(nil), sealed...)
		bad[len(bad)-1] ^= 0xff
		_, err := s.Open(bad, nil)
		require.ErrorIs(t, err, ErrSealedData)
	})

	t.Run("truncated input", func(t *testing.T) {
		_, err := s.Open(sealed[:10], nil)
		require.ErrorIs(t, err, ErrSealedData)
	})

	t.Run("different key", func(t *testing.T) {
		other, err := NewSealer([]byte("other-secret"), "credentials")
		require.NoError(t, err)
		_, err = other.Open(sealed, nil)
		require.ErrorIs(t, err, ErrSealedData)
	})

	t.Run("different purpose", func(t *testing.T) {
		other, err := NewSealer([]byte("device-secret"), "preferences")
		require.NoError(t, err)
		_, err = other.Open(sealed, nil)
		require.ErrorIs(t, err, ErrSealedData)
	})

	t.Run("empty secret", func(t *testing.T) {
		_, err := NewSealer(nil, "credentials")
		require.Error(t, err)
	})
}
