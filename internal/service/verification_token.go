package service

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"scribly/internal/domain"
)

// TokenSigner firma y parsea el token de verificacion de email. El payload
// viaja firmado pero no cifrado: el email es visible para quien tenga el
// token, que solo se manda a esa misma direccion. La frescura no se chequea
// aca sino en la policy, al momento de consumir el token.
type TokenSigner struct {
	secret []byte
}

func NewTokenSigner(secret string) *TokenSigner {
	return &TokenSigner{secret: []byte(secret)}
}

type verificationClaims struct {
	UserID    string `json:"user_id"`
	Email     string `json:"email"`
	Timestamp int64  `json:"ts"`
	jwt.RegisteredClaims
}

func (s *TokenSigner) Sign(payload domain.EmailVerificationTokenPayload) (string, error) {
	if len(s.secret) == 0 {
		return "", fmt.Errorf("%w: token signer has no secret", domain.ErrScribly)
	}
	claims := verificationClaims{
		UserID:    payload.UserID,
		Email:     payload.Email,
		Timestamp: payload.Timestamp,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

func (s *TokenSigner) Parse(tokenString string) (domain.EmailVerificationTokenPayload, error) {
	if len(s.secret) == 0 {
		return domain.EmailVerificationTokenPayload{}, fmt.Errorf("%w: token signer has no secret", domain.ErrScribly)
	}
	var claims verificationClaims
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if _, err := parser.ParseWithClaims(tokenString, &claims, func(_ *jwt.Token) (any, error) {
		return s.secret, nil
	}); err != nil {
		return domain.EmailVerificationTokenPayload{}, fmt.Errorf("%w: invalid verification token", domain.ErrScribly)
	}
	return domain.EmailVerificationTokenPayload{
		UserID:    claims.UserID,
		Email:     claims.Email,
		Timestamp: claims.Timestamp,
	}, nil
}
