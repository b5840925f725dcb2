// Package envelope implements authenticated symmetric encryption of byte
// strings under a password-derived key, plus the on-disk framing used to
// store encrypted account records.
package envelope

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/scrypt"
)

const (
	saltLen  = 32
	nonceLen = 24
	macLen   = secretbox.Overhead

	scryptN = 1 << 15
	scryptR = 8
	scryptP = 1
	keyLen  = 32
)

// ErrAuthFailed is returned when the MAC does not verify. It does not
// distinguish a wrong password from tampered ciphertext.
var ErrAuthFailed = errors.New("envelope: authentication failed")

// ErrMalformed is returned when a sealed file's framing is invalid, in
// particular when the declared cipher_len doesn't match the decoded
// ciphertext length.
var ErrMalformed = errors.New("envelope: malformed sealed file")

// Sealed is the decoded form of the four-field on-disk framing.
type Sealed struct {
	CipherLen int
	Salt      [saltLen]byte
	Nonce     [nonceLen]byte
	Cipher    []byte
}

func deriveKey(password string, salt []byte) (*[keyLen]byte, error) {
	raw, err := scrypt.Key([]byte(password), salt, scryptN, scryptR, scryptP, keyLen)
	if err != nil {
		return nil, fmt.Errorf("envelope: derive key: %w", err)
	}
	var key [keyLen]byte
	copy(key[:], raw)
	return &key, nil
}

// Encrypt generates a fresh random salt and nonce, derives a key from
// password via scrypt, and seals plain with secretbox (XSalsa20-Poly1305).
func Encrypt(plain []byte, password string) (Sealed, error) {
	var s Sealed
	if _, err := rand.Read(s.Salt[:]); err != nil {
		return s, fmt.Errorf("envelope: generate salt: %w", err)
	}
	if _, err := rand.Read(s.Nonce[:]); err != nil {
		return s, fmt.Errorf("envelope: generate nonce: %w", err)
	}
	key, err := deriveKey(password, s.Salt[:])
	if err != nil {
		return s, err
	}
	s.Cipher = secretbox.Seal(nil, plain, &s.Nonce, key)
	s.CipherLen = len(s.Cipher)
	return s, nil
}

// Decrypt verifies and opens s under password. Returns ErrAuthFailed on
// MAC mismatch, giving no signal as to whether the password or the
// ciphertext was wrong.
func Decrypt(s Sealed, password string) ([]byte, error) {
	if s.CipherLen != len(s.Cipher) {
		return nil, ErrMalformed
	}
	key, err := deriveKey(password, s.Salt[:])
	if err != nil {
		return nil, err
	}
	plain, ok := secretbox.Open(nil, s.Cipher, &s.Nonce, key)
	if !ok {
		return nil, ErrAuthFailed
	}
	return plain, nil
}

// SealToFile encrypts plain and renders it as the one-line, colon
// separated framing: cipher_len:salt_hex:nonce_hex:cipher_hex.
func SealToFile(plain []byte, password string) (string, error) {
	s, err := Encrypt(plain, password)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d:%s:%s:%s",
		s.CipherLen,
		hex.EncodeToString(s.Salt[:]),
		hex.EncodeToString(s.Nonce[:]),
		hex.EncodeToString(s.Cipher),
	), nil
}

// OpenFromFile parses the framing produced by SealToFile and decrypts it.
func OpenFromFile(line string, password string) ([]byte, error) {
	fields := strings.SplitN(strings.TrimSpace(line), ":", 4)
	if len(fields) != 4 {
		return nil, ErrMalformed
	}
	cipherLen, err := strconv.Atoi(fields[0])
	if err != nil || cipherLen < 0 {
		return nil, ErrMalformed
	}
	salt, err := hex.DecodeString(fields[1])
	if err != nil || len(salt) != saltLen {
		return nil, ErrMalformed
	}
	nonce, err := hex.DecodeString(fields[2])
	if err != nil || len(nonce) != nonceLen {
		return nil, ErrMalformed
	}
	cipher, err := hex.DecodeString(fields[3])
	if err != nil {
		return nil, ErrMalformed
	}
	// Reject a cipher_len that disagrees with the decoded ciphertext
	// length rather than silently trusting either value (see
	// SPEC_FULL.md §9 OQ1).
	if cipherLen != len(cipher) {
		return nil, ErrMalformed
	}

	var s Sealed
	s.CipherLen = cipherLen
	copy(s.Salt[:], salt)
	copy(s.Nonce[:], nonce)
	s.Cipher = cipher
	return Decrypt(s, password)
}
