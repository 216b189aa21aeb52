package requests

import (
	"errors"
	"net/mail"
	"regexp"
	"strings"

	"github.com/mozillazg/go-unidecode"
	"golang.org/x/text/unicode/norm"
)

var (
	ErrInvalidEmail    = errors.New("email address is invalid")
	ErrInvalidUsername = errors.New("username is invalid")
)

var usernamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]{1,30}[a-z0-9]$`)

// NormalizeEmail lowercases and validates an email address.
func NormalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", ErrInvalidEmail
	}

	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", ErrInvalidEmail
	}
	return email, nil
}

// NormalizeUsername folds a display name into the restricted username
// charset: NFKC-normalize, transliterate to ASCII, lowercase, and map
// whitespace runs to single dots.
func NormalizeUsername(username string) (string, error) {
	username = norm.NFKC.String(strings.TrimSpace(username))
	username = unidecode.Unidecode(username)
	username = strings.ToLower(username)
	username = strings.Join(strings.Fields(username), ".")

	if !usernamePattern.MatchString(username) {
		return "", ErrInvalidUsername
	}
	return username, nil
}
