package password

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

const MinLength = 6

var ErrTooShort = errors.New("password too short")

func Hash(password string) ([]byte, error) {
	if len(password) < MinLength {
		return nil, ErrTooShort
	}
	return bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
}

func Compare(hash []byte, password string) bool {
	return bcrypt.CompareHashAndPassword(hash, []byte(password)) == nil
}
