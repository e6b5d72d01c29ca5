package auth

import (
	"errors"
	"fmt"
	"regexp"

	"golang.org/x/crypto/bcrypt"
)

// ForbiddenError indicates missing permission.
type ForbiddenError struct {
	Permission string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("permission %s required", e.Permission)
}

// Permissions checked by the engine. Every one of them is held by
// administrators and by nobody else.
const (
	PermCatalogWrite = "catalog.write"
	PermUsersManage  = "users.manage"
	PermEventsRead   = "events.read"
)

// ErrMismatch is returned by VerifyPassword for a wrong password.
var ErrMismatch = errors.New("password mismatch")

// Actor is whoever performs an engine command.
type Actor struct {
	ID      string
	IsAdmin bool
}

// System is used for bootstrap and seeding.
var System = Actor{ID: "system", IsAdmin: true}

// Require fails with ForbiddenError unless the actor is an administrator.
func Require(a Actor, perm string) error {
	if a.ID == "" || !a.IsAdmin {
		return ForbiddenError{Permission: perm}
	}
	return nil
}

// HashPassword returns a bcrypt hash of the password.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", errors.New("password required")
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", errors.New("invalid password: too long")
		}
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hashed), nil
}

// VerifyPassword checks a plaintext password against a bcrypt hash.
func VerifyPassword(password, hash string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrMismatch
		}
		return fmt.Errorf("verify password: %w", err)
	}
	return nil
}

var (
	lowerRe   = regexp.MustCompile(`[a-z]`)
	upperRe   = regexp.MustCompile(`[A-Z]`)
	digitRe   = regexp.MustCompile(`\d`)
	specialRe = regexp.MustCompile(`[@$!%*?&#]`)
	allowedRe = regexp.MustCompile(`^[A-Za-z\d@$!%*?&#]{8,}$`)
)

// CheckPasswordPolicy enforces at least eight characters drawn from letters,
// digits and @$!%*?&#, with one of each class present.
func CheckPasswordPolicy(password string) error {
	switch {
	case len(password) < 8:
		return errors.New("invalid password: at least 8 characters required")
	case !allowedRe.MatchString(password):
		return errors.New("invalid password: only letters, digits and @$!%*?&# are allowed")
	case !lowerRe.MatchString(password), !upperRe.MatchString(password), !digitRe.MatchString(password), !specialRe.MatchString(password):
		return errors.New("invalid password: needs a lowercase letter, an uppercase letter, a digit and one of @$!%*?&#")
	}
	return nil
}
