package dh

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/box"
)

// Generate a new X25519 key pair suitable for nacl box.
func NewX25519KeyPair() (priv, pub [32]byte, err error) {
	p, s, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return priv, pub, fmt.Errorf("failed to generate key pair: %w", err)
	}
	return *s, *p, nil
}

// PublicFromSecret derives the public half of an X25519 secret key.
func PublicFromSecret(priv [32]byte) (pub [32]byte, err error) {
	b, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return pub, err
	}
	copy(pub[:], b)
	return pub, nil
}

// Matches reports whether pub is the public half of priv.
func Matches(priv, pub [32]byte) bool {
	derived, err := PublicFromSecret(priv)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(derived[:], pub[:]) == 1
}
