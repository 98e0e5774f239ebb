// Package credential generates and verifies account credentials. Temporary
// secrets are returned in plaintext exactly once and only their bcrypt hash
// is ever persisted.
package credential

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"golang.org/x/crypto/bcrypt"
)

const (
	tempPasswordLength = 12

	lowerChars = "abcdefghijkmnopqrstuvwxyz"
	upperChars = "ABCDEFGHJKLMNPQRSTUVWXYZ"
	digitChars = "23456789"
)

// allChars excludes visually ambiguous characters (0/O, 1/l/I).
const allChars = lowerChars + upperChars + digitChars

// TempCredential holds a freshly generated temporary secret. Plaintext must
// be handed to the user (response or notification) and never logged or
// stored.
type TempCredential struct {
	Plaintext string
	Hash      string
}

// Provisioner creates temporary credentials and hashes passwords.
type Provisioner struct {
	cost int
}

func NewProvisioner() *Provisioner {
	return &Provisioner{cost: bcrypt.DefaultCost}
}

// Provision generates a temporary password containing at least one lowercase
// letter, one uppercase letter and one digit, and returns it alongside its
// hash. Callers must set must_change_password on the account in the same
// transaction that stores the hash.
func (p *Provisioner) Provision() (*TempCredential, error) {
	buf := make([]byte, tempPasswordLength)

	// One guaranteed character per class, the rest from the full charset.
	var err error
	if buf[0], err = randomChar(lowerChars); err != nil {
		return nil, err
	}
	if buf[1], err = randomChar(upperChars); err != nil {
		return nil, err
	}
	if buf[2], err = randomChar(digitChars); err != nil {
		return nil, err
	}
	for i := 3; i < tempPasswordLength; i++ {
		if buf[i], err = randomChar(allChars); err != nil {
			return nil, err
		}
	}
	if err := shuffle(buf); err != nil {
		return nil, err
	}

	plaintext := string(buf)
	hash, err := p.Hash(plaintext)
	if err != nil {
		return nil, err
	}
	return &TempCredential{Plaintext: plaintext, Hash: hash}, nil
}

// Hash returns the bcrypt hash of a password.
func (p *Provisioner) Hash(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), p.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(bytes), nil
}

// Verify reports whether the password matches the stored hash.
func (p *Provisioner) Verify(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

func randomChar(charset string) (byte, error) {
	idx, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
	if err != nil {
		return 0, fmt.Errorf("generate secret: %w", err)
	}
	return charset[idx.Int64()], nil
}

func shuffle(buf []byte) error {
	for i := len(buf) - 1; i > 0; i-- {
		j, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			return fmt.Errorf("generate secret: %w", err)
		}
		buf[i], buf[j.Int64()] = buf[j.Int64()], buf[i]
	}
	return nil
}
