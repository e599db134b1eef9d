package auth

import (
	"crypto/subtle"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

var ErrInvalidCredentials = errors.New("auth: invalid credentials")

// Identity is who a token speaks for.
type Identity struct {
	UserID string
	Email  string
	Role   string
}

// AdminAccount is the single operator account configured through the environment.
type AdminAccount struct {
	Email        string
	PasswordHash string
	Role         string
}

func (a AdminAccount) Enabled() bool {
	return a.Email != "" && a.PasswordHash != ""
}

// Identity returns the account's token identity. The user id is derived from the email.
func (a AdminAccount) Identity() Identity {
	return Identity{UserID: "admin:" + a.Email, Email: a.Email, Role: a.Role}
}

// Authenticate checks email and password against the bcrypt hash.
func (a AdminAccount) Authenticate(email, password string) (Identity, error) {
	if !a.Enabled() {
		return Identity{}, ErrInvalidCredentials
	}
	email = strings.ToLower(strings.TrimSpace(email))
	emailOK := subtle.ConstantTimeCompare([]byte(email), []byte(a.Email)) == 1
	// The hash is compared even when the email does not match.
	pwErr := bcrypt.CompareHashAndPassword([]byte(a.PasswordHash), []byte(password))
	if !emailOK || pwErr != nil {
		return Identity{}, ErrInvalidCredentials
	}
	return a.Identity(), nil
}

// HashPassword produces a value suitable for ADMIN_PASSWORD_HASH.
func HashPassword(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
