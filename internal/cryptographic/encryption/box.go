package encryption

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/nacl/box"
)

const (
	KeySize   = 32
	NonceSize = 24

	separator = ":"
)

var (
	ErrMalformedPayload      = errors.New("malformed sealed payload")
	ErrAuthenticationFailure = errors.New("sealed payload failed authentication")
	ErrInvalidKey            = errors.New("invalid key")
)

// ParseKey decodes a base64 key of KeySize bytes.
func ParseKey(text string) (*[KeySize]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(text)
	if err != nil || len(raw) != KeySize {
		return nil, ErrInvalidKey
	}
	var k [KeySize]byte
	copy(k[:], raw)
	return &k, nil
}

func EncodeKey(k *[KeySize]byte) string {
	return base64.StdEncoding.EncodeToString(k[:])
}

// Seal encrypts plaintext for the holder of recipientPublicKey and returns
// "nonce-b64:ciphertext-b64". Every call draws a fresh nonce.
func Seal(plaintext, recipientPublicKey, localSecretKey string) (string, error) {
	peer, err := ParseKey(recipientPublicKey)
	if err != nil {
		return "", fmt.Errorf("recipient public key: %w", err)
	}
	own, err := ParseKey(localSecretKey)
	if err != nil {
		return "", fmt.Errorf("local secret key: %w", err)
	}

	var nonce [NonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("rand.Read nonce: %w", err)
	}

	ct := box.Seal(nil, []byte(plaintext), &nonce, peer, own)
	return pack(nonce[:], ct), nil
}

// Unseal opens a payload produced by Seal. counterpartPublicKey is always
// the other party of the conversation, whoever authored the message.
func Unseal(payload, counterpartPublicKey, localSecretKey string) (string, error) {
	nonce, ct, err := unpack(payload)
	if err != nil {
		return "", err
	}
	peer, err := ParseKey(counterpartPublicKey)
	if err != nil {
		return "", fmt.Errorf("counterpart public key: %w", err)
	}
	own, err := ParseKey(localSecretKey)
	if err != nil {
		return "", fmt.Errorf("local secret key: %w", err)
	}

	plain, ok := box.Open(nil, ct, nonce, peer, own)
	if !ok {
		return "", ErrAuthenticationFailure
	}
	return string(plain), nil
}

// IsSealed reports whether s has the shape of a sealed payload. It does not
// authenticate anything.
func IsSealed(s string) bool {
	_, _, err := unpack(s)
	return err == nil
}

func pack(nonce, ct []byte) string {
	return base64.StdEncoding.EncodeToString(nonce) + separator + base64.StdEncoding.EncodeToString(ct)
}

func unpack(payload string) (*[NonceSize]byte, []byte, error) {
	n, c, ok := strings.Cut(payload, separator)
	if !ok || n == "" || c == "" {
		return nil, nil, ErrMalformedPayload
	}

	rawNonce, err := base64.StdEncoding.DecodeString(n)
	if err != nil || len(rawNonce) != NonceSize {
		return nil, nil, ErrMalformedPayload
	}
	ct, err := base64.StdEncoding.DecodeString(c)
	if err != nil || len(ct) < box.Overhead {
		return nil, nil, ErrMalformedPayload
	}

	var nonce [NonceSize]byte
	copy(nonce[:], rawNonce)
	return &nonce, ct, nil
}
