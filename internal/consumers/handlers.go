package consumers

import (
	"context"
	"encoding/json"
	"fmt"

	"scribly/internal/domain"
	"scribly/internal/messaging"
)

// Notifier es el subconjunto del servicio de historias que usan los
// consumers. Los handlers deben tolerar entregas duplicadas: mandar una
// notificacion dos veces es aceptable.
type Notifier interface {
	SendVerificationEmail(ctx context.Context, user domain.User) error
	SendTurnEmailNotifications(ctx context.Context, storyID string, turnNumber int) error
	SendAddedToStoryEmails(ctx context.Context, storyID string) error
}

// EmailVerificationHandler consume user-created y manda el correo de
// verificacion al usuario nuevo.
func EmailVerificationHandler(notifier Notifier) Handler {
	return func(ctx context.Context, body []byte) error {
		var user domain.User
		if err := json.Unmarshal(body, &user); err != nil {
			return fmt.Errorf("%w: bad user created payload: %v", domain.ErrScribly, err)
		}
		return notifier.SendVerificationEmail(ctx, user)
	}
}

// TurnNotificationHandler consume turn-taken y notifica el turno.
func TurnNotificationHandler(notifier Notifier) Handler {
	return func(ctx context.Context, body []byte) error {
		var msg messaging.TurnTakenMessage
		if err := json.Unmarshal(body, &msg); err != nil {
			return fmt.Errorf("%w: bad turn taken payload: %v", domain.ErrScribly, err)
		}
		return notifier.SendTurnEmailNotifications(ctx, msg.StoryID, msg.TurnNumber)
	}
}

// AddedToStoryHandler consume cowriters-added y notifica a los invitados.
func AddedToStoryHandler(notifier Notifier) Handler {
	return func(ctx context.Context, body []byte) error {
		var msg messaging.CowritersAddedMessage
		if err := json.Unmarshal(body, &msg); err != nil {
			return fmt.Errorf("%w: bad cowriters added payload: %v", domain.ErrScribly, err)
		}
		return notifier.SendAddedToStoryEmails(ctx, msg.StoryID)
	}
}
