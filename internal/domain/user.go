package domain

// EmailVerificationStatus refleja si el usuario confirmo su direccion de correo.
type EmailVerificationStatus string

const (
	EmailVerificationPending  EmailVerificationStatus = "pending"
	EmailVerificationVerified EmailVerificationStatus = "verified"
)

// User es la identidad de un escritor. El hash de password se guarda aparte
// y nunca viaja en este valor.
type User struct {
	ID                      string                  `json:"id"`
	Username                string                  `json:"username"`
	Email                   string                  `json:"email"`
	EmailVerificationStatus EmailVerificationStatus `json:"email_verification_status"`
}

// IsVerified reporta si el correo del usuario esta confirmado.
func (u User) IsVerified() bool {
	return u.EmailVerificationStatus == EmailVerificationVerified
}
