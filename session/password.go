package session

import (
	"encoding/hex"

	"golang.org/x/crypto/bcrypt"
)

// HashPassword returns the hex-encoded bcrypt digest stored with a customer.
func HashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(hashed), nil
}

func CheckPassword(encoded, password string) bool {
	hashed, err := hex.DecodeString(encoded)
	if err != nil {
		return false
	}
	return bcrypt.CompareHashAndPassword(hashed, []byte(password)) == nil
}
