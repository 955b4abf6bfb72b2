package download

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestCipher(t *testing.T) *Cipher {
	t.Helper()
	c, err := NewCipher("test-secret", "", 0)
	require.NoError(t, err)
	return c
}

func TestNewCipher_EmptySecret(t *testing.T) {
	_, err := NewCipher("", "salt", 0)
	require.Error(t, err)
}

func TestDeriveKey(t *testing.T) {
	c := newTestCipher(t)

	k1 := c.DeriveKey("user-1", "device-1")
	require.Len(t, k1, KeyLength)
	require.Equal(t, k1, c.DeriveKey("user-1", "device-1"))
	require.NotEqual(t, k1, c.DeriveKey("user-1", "device-2"))
	require.NotEqual(t, k1, c.DeriveKey("user-2", "device-1"))

	other, err := NewCipher("another-secret", "", 0)
	require.NoError(t, err)
	require.NotEqual(t, k1, other.DeriveKey("user-1", "device-1"))
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	c := newTestCipher(t)

	tests := []struct {
		name string
		data []byte
	}{
		{name: "empty", data: []byte{}},
		{name: "short", data: []byte("hello")},
		{name: "binary", data: bytes.Repeat([]byte{0x00, 0xff, 0x10}, 1000)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := c.Encrypt(tt.data, "user-1", "device-1")
			require.NoError(t, err)
			require.Len(t, s.IV, IVLength)
			require.Len(t, s.Tag, TagLength)
			require.Len(t, s.Ciphertext, len(tt.data))

			plain, err := c.Decrypt(s, "user-1", "device-1")
			require.NoError(t, err)
			require.Equal(t, tt.data, plain)
		})
	}
}

func TestEncrypt_FreshIV(t *testing.T) {
	c := newTestCipher(t)
	a, err := c.Encrypt([]byte("same"), "u", "d")
	require.NoError(t, err)
	b, err := c.Encrypt([]byte("same"), "u", "d")
	require.NoError(t, err)
	require.NotEqual(t, a.IV, b.IV)
}

func TestDecrypt_Failures(t *testing.T) {
	c := newTestCipher(t)
	s, err := c.Encrypt([]byte("video-bytes"), "user-1", "device-1")
	require.NoError(t, err)

	flip := func(b []byte) []byte {
		out := append([]byte(nil), b...)
		out[0] ^= 0x01
		return out
	}

	tests := []struct {
		name   string
		sealed *Sealed
		user   string
		device string
	}{
		{name: "wrong user", sealed: s, user: "user-2", device: "device-1"},
		{name: "wrong device", sealed: s, user: "user-1", device: "device-2"},
		{name: "tampered tag", sealed: &Sealed{Ciphertext: s.Ciphertext, IV: s.IV, Tag: flip(s.Tag)}, user: "user-1", device: "device-1"},
		{name: "tampered ciphertext", sealed: &Sealed{Ciphertext: flip(s.Ciphertext), IV: s.IV, Tag: s.Tag}, user: "user-1", device: "device-1"},
		{name: "tampered iv", sealed: &Sealed{Ciphertext: s.Ciphertext, IV: flip(s.IV), Tag: s.Tag}, user: "user-1", device: "device-1"},
		{name: "short tag", sealed: &Sealed{Ciphertext: s.Ciphertext, IV: s.IV, Tag: s.Tag[:8]}, user: "user-1", device: "device-1"},
		{name: "nil", sealed: nil, user: "user-1", device: "device-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Decrypt(tt.sealed, tt.user, tt.device)
			require.ErrorIs(t, err, ErrDecrypt)
		})
	}
}
