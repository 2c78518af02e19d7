package upbit

import (
	"crypto/sha512"
	"encoding/hex"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Credentials are the exchange API key pair.
type Credentials struct {
	AccessKey string
	SecretKey string
}

// Valid reports whether both keys are set.
func (c Credentials) Valid() bool {
	return c.AccessKey != "" && c.SecretKey != ""
}

// Token returns the bearer token for a request. query is the unescaped
// query string (or form-encoded body) the request carries; its SHA-512 hash
// is bound into the token.
func (c Credentials) Token(query string) (string, error) {
	claims := jwt.MapClaims{
		"access_key": c.AccessKey,
		"nonce":      uuid.NewString(),
	}
	if query != "" {
		sum := sha512.Sum512([]byte(query))
		claims["query_hash"] = hex.EncodeToString(sum[:])
		claims["query_hash_alg"] = "SHA512"
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(c.SecretKey))
	if err != nil {
		return "", fmt.Errorf("upbit: sign token: %w", err)
	}
	return signed, nil
}
