// Package policy contiene las reglas puras que validan cada transicion de
// estado contra el agregado actual y el usuario que actua. Ninguna funcion
// hace I/O ni toca los gateways.
package policy

import (
	"fmt"
	"strings"
	"time"

	"scribly/internal/domain"
)

// EmailVerificationWindow es la ventana de frescura del token de verificacion.
const EmailVerificationWindow = 24 * time.Hour

// RequireUserCanAccessStory valida lectura: en draft solo el creador;
// en cualquier otro estado solo un miembro de cowriters.
func RequireUserCanAccessStory(user domain.User, story domain.Story) error {
	if story.State == domain.StoryDraft {
		if user.ID != story.CreatedBy.ID {
			return fmt.Errorf("%w: user %s cannot view story %s in state %s, only creator has access", domain.ErrAuth, user.ID, story.ID, story.State)
		}
		return nil
	}

	if story.Cowriters == nil {
		return fmt.Errorf("%w: story %s in state %s should have cowriters", domain.ErrScribly, story.ID, story.State)
	}
	if !story.IsCowriter(user) {
		return fmt.Errorf("%w: user %s cannot view story %s in state %s, only cowriters have access", domain.ErrAuth, user.ID, story.ID, story.State)
	}
	return nil
}

// RequireUserCanAddCowriters valida que el creador, y solo en draft, fije
// la lista de cowriters, sin invitarse a si mismo.
func RequireUserCanAddCowriters(user domain.User, story domain.Story, usernames []string) error {
	if story.CreatedBy.ID != user.ID {
		return fmt.Errorf("%w: user %s cannot add cowriters to story %s created by %s", domain.ErrAuth, user.ID, story.ID, story.CreatedBy.ID)
	}
	if story.State != domain.StoryDraft {
		return fmt.Errorf("%w: story must be in state draft to add cowriters, story %s is in state %s", domain.ErrScribly, story.ID, story.State)
	}
	for _, username := range usernames {
		if username == user.Username {
			return fmt.Errorf("%w: you cannot list yourself as a cowriter, %s is your username", domain.ErrInput, user.Username)
		}
	}
	return nil
}

// RequireValidCowriters exige que cada username pedido haya resuelto a un
// usuario; los que falten se nombran en el error.
func RequireValidCowriters(resolved []domain.User, usernames []string) error {
	found := make(map[string]struct{}, len(resolved))
	for _, user := range resolved {
		found[user.Username] = struct{}{}
	}

	var missing []string
	seen := make(map[string]struct{}, len(usernames))
	for _, username := range usernames {
		if _, dup := seen[username]; dup {
			continue
		}
		seen[username] = struct{}{}
		if _, ok := found[username]; !ok {
			missing = append(missing, username)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: could not find users %s", domain.ErrInput, strings.Join(missing, ", "))
	}
	return nil
}

// RequireUserCanTakeTurn aplica el orden estricto de turnos: la historia
// debe estar in_progress, el usuario ser cowriter, y ser exactamente el
// escritor actual. Un cowriter valido fuera de turno se rechaza igual.
func RequireUserCanTakeTurn(user domain.User, story domain.Story) error {
	if story.State != domain.StoryInProgress {
		return fmt.Errorf("%w: story %s is in state %s, turns can only be taken in state in_progress", domain.ErrScribly, story.ID, story.State)
	}
	if !story.IsCowriter(user) {
		return fmt.Errorf("%w: user %s is not a cowriter on story %s", domain.ErrAuth, user.ID, story.ID)
	}
	current, err := story.CurrentWriter()
	if err != nil {
		return err
	}
	if current.ID != user.ID {
		return fmt.Errorf("%w: it is not user %s's turn on story %s, current writer is %s", domain.ErrScribly, user.Username, story.ID, current.Username)
	}
	return nil
}

// RequireUserCanTakeTurnWrite agrega a RequireUserCanTakeTurn que el texto
// escrito no sea vacio.
func RequireUserCanTakeTurnWrite(user domain.User, story domain.Story, text string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("%w: cannot write a turn with empty text", domain.ErrInput)
	}
	return RequireUserCanTakeTurn(user, story)
}

// RequireCanSendVerificationEmail rechaza si el correo ya esta verificado.
func RequireCanSendVerificationEmail(user domain.User) error {
	if user.IsVerified() {
		return fmt.Errorf("%w: user %s already has a verified email", domain.ErrScribly, user.ID)
	}
	return nil
}

// RequireValidEmailVerification valida el payload del token contra el estado
// actual del usuario. El chequeo de frescura es simetrico para cubrir clock
// skew en cualquier direccion.
func RequireValidEmailVerification(user domain.User, payload domain.EmailVerificationTokenPayload, now time.Time) error {
	if user.IsVerified() {
		return fmt.Errorf("%w: user %s already has a verified email", domain.ErrScribly, user.ID)
	}
	if payload.Email != user.Email {
		return fmt.Errorf("%w: token email does not match user %s's current email", domain.ErrScribly, user.ID)
	}
	issued := time.Unix(payload.Timestamp, 0)
	age := now.Sub(issued)
	if age < 0 {
		age = -age
	}
	if age > EmailVerificationWindow {
		return fmt.Errorf("%w: verification token for user %s expired", domain.ErrScribly, user.ID)
	}
	return nil
}
