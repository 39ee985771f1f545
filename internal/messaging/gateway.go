// Package messaging publica eventos de dominio ya commiteados hacia los
// canales durables que alimentan a los consumers de email.
package messaging

import (
	"context"

	"scribly/internal/domain"
)

// Streams: un canal fan-out por tipo de evento.
const (
	StreamUserCreated    = "user-created"
	StreamTurnTaken      = "turn-taken"
	StreamCowritersAdded = "cowriters-added"
)

// Colas: un consumer group durable por consumidor interesado.
const (
	QueueEmailVerification = "email-verification-queue"
	QueueTurnNotification  = "turn-notification-email-queue"
	QueueAddedToStory      = "added-to-story-notification-email-queue"
)

// Los payloads llevan identificadores minimos, nunca agregados completos:
// los consumers re-fetchean el estado actual en vez de confiar en un
// snapshot posiblemente viejo.

type TurnTakenMessage struct {
	StoryID    string `json:"story_id"`
	TurnNumber int    `json:"turn_number"`
}

type CowritersAddedMessage struct {
	StoryID string `json:"story_id"`
}

// Gateway anuncia cambios de estado commiteados. El publish ocurre siempre
// despues del commit; una falla aca se loguea y no revierte el cambio.
type Gateway interface {
	AnnounceUserCreated(ctx context.Context, user domain.User) error
	AnnounceTurnTaken(ctx context.Context, story domain.Story) error
	AnnounceCowritersAdded(ctx context.Context, story domain.Story) error
}
