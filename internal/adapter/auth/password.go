package auth

import (
	"sync"
	"unicode"

	"golang.org/x/crypto/bcrypt"

	"github.com/rl1809/vending-fleet/internal/core/domain"
)

const minPasswordLength = 8

// PasswordAuthenticator guards admin actions on a machine with a single
// bcrypt-hashed password.
type PasswordAuthenticator struct {
	mu   sync.RWMutex
	hash []byte
	cost int
}

// NewPasswordAuthenticator hashes initial with cost. A cost of 0 selects
// bcrypt.DefaultCost.
func NewPasswordAuthenticator(initial string, cost int) (*PasswordAuthenticator, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	a := &PasswordAuthenticator{cost: cost}
	if err := a.ChangePassword(initial); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *PasswordAuthenticator) CheckPassword(plain string) bool {
	a.mu.RLock()
	hash := a.hash
	a.mu.RUnlock()

	return bcrypt.CompareHashAndPassword(hash, []byte(plain)) == nil
}

// ChangePassword replaces the password after checking it against the policy.
func (a *PasswordAuthenticator) ChangePassword(plain string) error {
	if err := ValidatePassword(plain); err != nil {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(plain), a.cost)
	if err != nil {
		return err
	}

	a.mu.Lock()
	a.hash = hash
	a.mu.Unlock()
	return nil
}

// ValidatePassword requires at least 8 characters with a digit and a
// character that is neither a letter nor a digit.
func ValidatePassword(plain string) error {
	if len([]rune(plain)) < minPasswordLength {
		return domain.ErrWeakPassword
	}

	var digit, special bool
	for _, r := range plain {
		switch {
		case unicode.IsDigit(r):
			digit = true
		case !unicode.IsLetter(r) && !unicode.IsSpace(r):
			special = true
		}
	}
	if !digit || !special {
		return domain.ErrWeakPassword
	}
	return nil
}
