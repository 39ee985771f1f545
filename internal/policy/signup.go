package policy

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"scribly/internal/domain"
)

const (
	minPasswordLength = 8
	minUsernameLength = 4
)

// Patron estructural, no una validacion RFC completa.
var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// ValidateSignupInfo valida los datos de registro. La denylist son
// substrings prohibidos en el password (viene de configuracion).
func ValidateSignupInfo(username, password, email string, denylist []string) error {
	if len(password) < minPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters long", domain.ErrInput, minPasswordLength)
	}
	lowered := strings.ToLower(password)
	for _, denied := range denylist {
		if denied != "" && strings.Contains(lowered, strings.ToLower(denied)) {
			return fmt.Errorf("%w: password cannot contain %q", domain.ErrInput, denied)
		}
	}

	if len(username) < minUsernameLength {
		return fmt.Errorf("%w: username must be at least %d characters long", domain.ErrInput, minUsernameLength)
	}
	for _, r := range username {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return fmt.Errorf("%w: username must contain only letters and numbers", domain.ErrInput)
		}
	}

	if !emailPattern.MatchString(email) {
		return fmt.Errorf("%w: %q does not look like an email address", domain.ErrInput, email)
	}
	return nil
}
