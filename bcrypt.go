package onboard

import (
	"golang.org/x/crypto/bcrypt"
)

// PasswordHashCost is the bcrypt cost of stored invitee passwords.
const PasswordHashCost = 12

// PasswordHasher turns a cleartext password into a storable hash.
type PasswordHasher func(password string) (string, error)

// HashPassword will generate a password hash
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", ErrNoEmptyString
	}

	h, err := bcrypt.GenerateFromPassword([]byte(password), passwordHashCost)
	return string(h), err
}

// ComparePasswordAndHash will validate the given cleartext
// password matches the hashed password
func ComparePasswordAndHash(password, hash string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}
