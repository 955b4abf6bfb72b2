package download

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// claims travel inside the sealed token. They are only readable with the
// key of the user and device the token was issued to.
type claims struct {
	UserID    string    `json:"u"`
	DeviceID  string    `json:"d"`
	VideoID   uuid.UUID `json:"v"`
	IssuedAt  int64     `json:"iat"`
	ExpiresAt int64     `json:"exp"`
}

func (c claims) expiresAt() time.Time {
	return time.UnixMilli(c.ExpiresAt)
}

// sealToken encodes iv || ciphertext || tag as unpadded base64url.
func (c *Cipher) sealToken(cl claims) (string, error) {
	raw, err := json.Marshal(cl)
	if err != nil {
		return "", fmt.Errorf("marshal claims: %w", err)
	}
	s, err := c.Encrypt(raw, cl.UserID, cl.DeviceID)
	if err != nil {
		return "", err
	}

	buf := make([]byte, 0, len(s.IV)+len(s.Ciphertext)+len(s.Tag))
	buf = append(buf, s.IV...)
	buf = append(buf, s.Ciphertext...)
	buf = append(buf, s.Tag...)
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func (c *Cipher) openToken(token, userID, deviceID string) (claims, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil || len(raw) < IVLength+TagLength {
		return claims{}, ErrDecrypt
	}

	plain, err := c.Decrypt(&Sealed{
		IV:         raw[:IVLength],
		Ciphertext: raw[IVLength : len(raw)-TagLength],
		Tag:        raw[len(raw)-TagLength:],
	}, userID, deviceID)
	if err != nil {
		return claims{}, err
	}

	var cl claims
	if err := json.Unmarshal(plain, &cl); err != nil {
		return claims{}, ErrDecrypt
	}
	return cl, nil
}
