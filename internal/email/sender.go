package email

import (
	"context"
	"errors"

	"scribly/internal/domain"
)

// Sender define la interfaz para envio de correos salientes. Cualquier
// status no exitoso es falla dura para ese correo; los reintentos llegan
// solo via redelivery del evento que lo disparo.
type Sender interface {
	SendEmail(ctx context.Context, email domain.Email) error
}

type disabledSender struct {
	reason string
}

func NewDisabledSender(reason string) Sender {
	return &disabledSender{reason: reason}
}

func (s *disabledSender) SendEmail(_ context.Context, _ domain.Email) error {
	if s.reason == "" {
		return errors.New("email sender disabled")
	}
	return errors.New(s.reason)
}
