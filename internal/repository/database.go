// Package repository define el contrato de persistencia del que depende el
// servicio de historias, junto con una implementacion pgx de produccion y
// un fake en memoria para tests.
package repository

import (
	"context"

	"scribly/internal/domain"
)

// Database es el gateway de persistencia. Toda operacion mutante devuelve el
// agregado nuevo; el gateway nunca muta in place y los callers siempre
// rebindean al valor devuelto. FetchStory/FetchUser con forUpdate=true son
// los unicos puntos de adquisicion de lock: el lock de fila se sostiene
// hasta el commit/rollback de la transaccion que lo envuelve.
type Database interface {
	// Transaction corre fn dentro de una transaccion: commit si fn devuelve
	// nil, rollback completo si no. fn recibe un Database atado a la
	// transaccion; llamadas anidadas reusan la transaccion abierta.
	Transaction(ctx context.Context, fn func(ctx context.Context, tx Database) error) error

	FetchUserWithPasswordHash(ctx context.Context, username string) (domain.User, string, error)
	AddUser(ctx context.Context, username, passwordHash, email string) (domain.User, error)
	UpdatePassword(ctx context.Context, user domain.User, passwordHash string) error
	FetchUser(ctx context.Context, userID string, forUpdate bool) (domain.User, error)
	FetchUsers(ctx context.Context, usernames []string) ([]domain.User, error)
	UpdateEmailVerificationStatus(ctx context.Context, user domain.User, status domain.EmailVerificationStatus) (domain.User, error)

	StartStory(ctx context.Context, user domain.User, title, body string) (domain.Story, error)
	FetchStory(ctx context.Context, storyID string, forUpdate bool) (domain.Story, error)
	AddCowriters(ctx context.Context, story domain.Story, cowriters []domain.User) (domain.Story, error)
	AddTurn(ctx context.Context, user domain.User, story domain.Story, action domain.TurnAction, textWritten string) (domain.Story, error)

	FetchMe(ctx context.Context, user domain.User) (domain.Me, error)
	HideStory(ctx context.Context, user domain.User, storyID string) error
	UnhideStory(ctx context.Context, user domain.User, storyID string) error
}
