package statustoken

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"io"
)

var ErrMissingSecret = errors.New("statustoken: secret is required")

// Service issues and verifies capability tokens for anonymous status reads.
// Only the hash is ever persisted; the token is handed to the caller once.
type Service struct {
	secret []byte
	rand   io.Reader
}

func New(secret string) (*Service, error) {
	if secret == "" {
		return nil, ErrMissingSecret
	}
	return &Service{secret: []byte(secret), rand: rand.Reader}, nil
}

// Issue returns a fresh token for conversationID and its storable hash.
func (s *Service) Issue(conversationID string) (token, hash string, err error) {
	buf := make([]byte, 32)
	if _, err := io.ReadFull(s.rand, buf); err != nil {
		return "", "", err
	}
	token = base64.RawURLEncoding.EncodeToString(buf)
	return token, s.Hash(conversationID, token), nil
}

// Hash is hex(HMAC-SHA256(secret, conversationID || token)).
func (s *Service) Hash(conversationID, token string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(conversationID))
	mac.Write([]byte(token))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify compares in constant time. Empty inputs never verify.
func (s *Service) Verify(conversationID, token, storedHash string) bool {
	if conversationID == "" || token == "" || storedHash == "" {
		return false
	}
	want, err := hex.DecodeString(storedHash)
	if err != nil {
		return false
	}
	got, _ := hex.DecodeString(s.Hash(conversationID, token))
	return hmac.Equal(got, want)
}
