package auth

import (
	"crypto/sha256"
	"encoding/hex"

	"golang.org/x/crypto/bcrypt"
)

// Hasher hashes passwords and refresh tokens with bcrypt
type Hasher struct {
	cost int
}

// NewHasher returns a Hasher; a cost outside bcrypt's range uses the default
func NewHasher(cost int) *Hasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &Hasher{cost: cost}
}

func (h *Hasher) HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// ComparePassword reports whether password matches hash, in constant time
func (h *Hasher) ComparePassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// HashToken hashes a refresh token. JWTs exceed bcrypt's 72-byte input
// limit, so the token is reduced to its SHA-256 hex digest first.
func (h *Hasher) HashToken(token string) (string, error) {
	return h.HashPassword(tokenDigest(token))
}

func (h *Hasher) CompareToken(hash, token string) bool {
	return h.ComparePassword(hash, tokenDigest(token))
}

func tokenDigest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
