package crypto

import (
	"crypto/subtle"
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// Ошибки проверки секретов
var (
	ErrEmptySecret    = errors.New("secret cannot be empty")
	ErrSecretTooLong  = errors.New("secret exceeds maximum length of 72 bytes")
	ErrSecretMismatch = errors.New("secret does not match")
	ErrInvalidHash    = errors.New("invalid secret hash format")
)

// DefaultCost - стоимость bcrypt для HashSecret
const DefaultCost = 12

// MaxSecretLength - bcrypt учитывает только первые 72 байта
const MaxSecretLength = 72

// HashSecret хеширует секрет вебхука bcrypt.
// cost приводится к [bcrypt.MinCost, bcrypt.MaxCost].
func HashSecret(secret string, cost int) (string, error) {
	if secret == "" {
		return "", ErrEmptySecret
	}
	if len(secret) > MaxSecretLength {
		return "", ErrSecretTooLong
	}

	if cost < bcrypt.MinCost {
		cost = bcrypt.MinCost
	}
	if cost > bcrypt.MaxCost {
		cost = bcrypt.MaxCost
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifySecret сверяет предъявленный секрет с хешем bcrypt
func VerifySecret(presented, hash string) error {
	if presented == "" {
		return ErrEmptySecret
	}
	if hash == "" {
		return ErrInvalidHash
	}

	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(presented))
	switch {
	case err == nil:
		return nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return ErrSecretMismatch
	default:
		return ErrInvalidHash
	}
}

// EqualSecrets сравнивает секреты за постоянное время
func EqualSecrets(presented, expected string) bool {
	if presented == "" || expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(expected)) == 1
}

// GetHashCost извлекает cost из хеша; ошибка - строка не хеш bcrypt
func GetHashCost(hash string) (int, error) {
	if hash == "" {
		return 0, ErrInvalidHash
	}
	cost, err := bcrypt.Cost([]byte(hash))
	if err != nil {
		return 0, ErrInvalidHash
	}
	return cost, nil
}
