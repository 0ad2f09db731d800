package middleware

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

const minTokenLength = 16

// HashToken hashes an API token with bcrypt for use as API_TOKEN_HASH.
func HashToken(token string) (string, error) {
	if len(token) < minTokenLength {
		return "", errors.New("token too short")
	}

	bytes, err := bcrypt.GenerateFromPassword(
		[]byte(token),
		bcrypt.DefaultCost,
	)
	if err != nil {
		return "", err
	}

	return string(bytes), nil
}

// VerifyToken compares a presented token with the stored hash.
func VerifyToken(hash string, token string) error {
	return bcrypt.CompareHashAndPassword(
		[]byte(hash),
		[]byte(token),
	)
}
