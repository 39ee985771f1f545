package domain

// Email es un correo saliente listo para entregar.
type Email struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// EmailVerificationTokenPayload viaja firmado dentro del token de
// verificacion. No se persiste; la frescura se chequea al consumirlo.
type EmailVerificationTokenPayload struct {
	UserID    string `json:"user_id"`
	Email     string `json:"email"`
	Timestamp int64  `json:"ts"`
}
