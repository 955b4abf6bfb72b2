package download

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/crypto/pbkdf2"
)

const (
	KeyLength  = 32
	IVLength   = 12
	TagLength  = 16
	Iterations = 100_000
)

var ErrDecrypt = errors.New("decryption failed")

// Sealed is the output of Encrypt. Tag is split from the ciphertext so
// clients can store the three parts separately.
type Sealed struct {
	Ciphertext []byte
	IV         []byte
	Tag        []byte
}

// Cipher derives per (user, device) AES-256-GCM keys from a server secret.
// Derived keys are deterministic, so they are memoised for a while to avoid
// paying the KDF on every call.
type Cipher struct {
	secret string
	salt   []byte
	keys   *cache.Cache
}

func NewCipher(secret, salt string, keyTTL time.Duration) (*Cipher, error) {
	if secret == "" {
		return nil, errors.New("encryption secret is empty")
	}
	if salt == "" {
		salt = "salt"
	}
	if keyTTL <= 0 {
		keyTTL = 10 * time.Minute
	}
	return &Cipher{
		secret: secret,
		salt:   []byte(salt),
		keys:   cache.New(keyTTL, 2*keyTTL),
	}, nil
}

// DeriveKey returns the 32-byte key for a user and device.
func (c *Cipher) DeriveKey(userID, deviceID string) []byte {
	input := userID + ":" + deviceID + ":" + c.secret
	if v, ok := c.keys.Get(input); ok {
		return v.([]byte)
	}
	key := pbkdf2.Key([]byte(input), c.salt, Iterations, KeyLength, sha256.New)
	c.keys.SetDefault(input, key)
	return key
}

func (c *Cipher) aead(userID, deviceID string) (cipher.AEAD, error) {
	block, err := aes.NewCipher(c.DeriveKey(userID, deviceID))
	if err != nil {
		return nil, fmt.Errorf("aes cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

func (c *Cipher) Encrypt(data []byte, userID, deviceID string) (*Sealed, error) {
	gcm, err := c.aead(userID, deviceID)
	if err != nil {
		return nil, err
	}

	iv := make([]byte, IVLength)
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("generate iv: %w", err)
	}

	out := gcm.Seal(nil, iv, data, nil)
	n := len(out) - TagLength
	return &Sealed{
		Ciphertext: out[:n],
		IV:         iv,
		Tag:        out[n:],
	}, nil
}

func (c *Cipher) Decrypt(s *Sealed, userID, deviceID string) ([]byte, error) {
	if s == nil || len(s.IV) != IVLength || len(s.Tag) != TagLength {
		return nil, ErrDecrypt
	}
	gcm, err := c.aead(userID, deviceID)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, 0, len(s.Ciphertext)+len(s.Tag))
	buf = append(buf, s.Ciphertext...)
	buf = append(buf, s.Tag...)

	// Open into a non-nil slice so an empty payload round-trips as empty, not nil.
	plain, err := gcm.Open(make([]byte, 0, len(s.Ciphertext)), s.IV, buf, nil)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plain, nil
}
