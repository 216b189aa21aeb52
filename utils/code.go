package utils

import (
	"fmt"

	"github.com/sethvargo/go-password/password"
)

// Invitation codes are shared over chat and read aloud, so the charset drops
// lookalike characters (0/O, 1/l/i).
const (
	codeLetters = "abcdefghjkmnpqrstuvwxyz"
	codeDigits  = "23456789"

	MinInviteCodeLength = 6
	MaxInviteCodeLength = 32
)

// GenerateInviteCode returns a random invitation code of the given length
// drawn from the reduced charset.
func GenerateInviteCode(length int) (string, error) {
	if length < MinInviteCodeLength || length > MaxInviteCodeLength {
		return "", fmt.Errorf("invite code length %d out of range", length)
	}

	gen, err := password.NewGenerator(&password.GeneratorInput{
		LowerLetters: codeLetters,
		Digits:       codeDigits,
	})
	if err != nil {
		return "", fmt.Errorf("create code generator: %w", err)
	}

	code, err := gen.Generate(length, length/3, 0, true, true)
	if err != nil {
		return "", fmt.Errorf("generate invite code: %w", err)
	}
	return code, nil
}

// ValidateInviteCode checks whether a string could be a code we issued.
// Used by public handlers to reject junk before touching storage.
func ValidateInviteCode(code string) bool {
	if len(code) < MinInviteCodeLength || len(code) > MaxInviteCodeLength {
		return false
	}

	for _, char := range code {
		if !isCodeChar(byte(char)) {
			return false
		}
	}
	return true
}

func isCodeChar(c byte) bool {
	for i := 0; i < len(codeLetters); i++ {
		if codeLetters[i] == c {
			return true
		}
	}
	for i := 0; i < len(codeDigits); i++ {
		if codeDigits[i] == c {
			return true
		}
	}
	return false
}
