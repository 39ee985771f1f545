package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"scribly/internal/domain"
	"scribly/internal/email"
	"scribly/internal/messaging"
	"scribly/internal/policy"
	"scribly/internal/repository"
)

// Scribly es la maquina de estados de turnos: secuencia fetch → validate →
// mutate → commit para cada caso de uso, y publica eventos de integracion
// recien despues del commit. Una falla de publish deja un cambio commiteado
// sin notificacion; se loguea y se acepta (at-most-once publish,
// at-least-once consume).
type Scribly struct {
	logger           *zap.Logger
	db               repository.Database
	messages         messaging.Gateway
	sender           email.Sender
	emails           *email.Builder
	hasher           *PasswordHasher
	signer           *TokenSigner
	nudgeLimiter     NudgeRateLimiter
	passwordDenylist []string
}

func NewScribly(
	logger *zap.Logger,
	db repository.Database,
	messages messaging.Gateway,
	sender email.Sender,
	emails *email.Builder,
	hasher *PasswordHasher,
	signer *TokenSigner,
	nudgeLimiter NudgeRateLimiter,
	passwordDenylist []string,
) *Scribly {
	if nudgeLimiter == nil {
		nudgeLimiter = NewNudgeRateLimiter(time.Hour, 3)
	}
	return &Scribly{
		logger:           logger,
		db:               db,
		messages:         messages,
		sender:           sender,
		emails:           emails,
		hasher:           hasher,
		signer:           signer,
		nudgeLimiter:     nudgeLimiter,
		passwordDenylist: passwordDenylist,
	}
}

func (s *Scribly) SignUp(ctx context.Context, username, password, emailAddr string) (domain.User, error) {
	username = strings.TrimSpace(username)
	emailAddr = strings.ToLower(strings.TrimSpace(emailAddr))
	if err := policy.ValidateSignupInfo(username, password, emailAddr, s.passwordDenylist); err != nil {
		return domain.User{}, err
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return domain.User{}, err
	}
	user, err := s.db.AddUser(ctx, username, hash, emailAddr)
	if err != nil {
		return domain.User{}, err
	}

	if err := s.messages.AnnounceUserCreated(ctx, user); err != nil {
		s.logger.Warn("user created announcement lost", zap.Error(err), zap.String("user_id", user.ID))
	}
	return user, nil
}

// LogIn verifica credenciales con falla de forma constante: no distingue
// usuario inexistente de password malo. En exito re-hashea oportunisticamente
// si la politica de costos subio; esa mutacion nunca bloquea el login.
func (s *Scribly) LogIn(ctx context.Context, username, password string) (domain.User, error) {
	authErr := fmt.Errorf("%w: invalid username or password", domain.ErrAuth)

	user, hash, err := s.db.FetchUserWithPasswordHash(ctx, strings.TrimSpace(username))
	if err != nil {
		return domain.User{}, authErr
	}
	if !s.hasher.Verify(hash, password) {
		return domain.User{}, authErr
	}

	if s.hasher.NeedsRehash(hash) {
		if newHash, hashErr := s.hasher.Hash(password); hashErr == nil {
			if updateErr := s.db.UpdatePassword(ctx, user, newHash); updateErr != nil {
				s.logger.Warn("opportunistic password rehash failed", zap.Error(updateErr), zap.String("user_id", user.ID))
			}
		}
	}
	return user, nil
}

func (s *Scribly) StartStory(ctx context.Context, user domain.User, title, body string) (domain.Story, error) {
	if strings.TrimSpace(title) == "" {
		return domain.Story{}, fmt.Errorf("%w: story title cannot be empty", domain.ErrInput)
	}
	if strings.TrimSpace(body) == "" {
		return domain.Story{}, fmt.Errorf("%w: story intro cannot be empty", domain.ErrInput)
	}

	var story domain.Story
	err := s.db.Transaction(ctx, func(ctx context.Context, tx repository.Database) error {
		var txErr error
		story, txErr = tx.StartStory(ctx, user, title, body)
		return txErr
	})
	if err != nil {
		return domain.Story{}, err
	}
	return story, nil
}

// AddCowriters fija la lista ordenada de escritores exactamente una vez:
// [creador] + los demas en el orden pedido, y pasa la historia a in_progress.
func (s *Scribly) AddCowriters(ctx context.Context, user domain.User, storyID string, usernames []string) (domain.Story, error) {
	usernames = dedupe(usernames)
	if len(usernames) == 0 {
		return domain.Story{}, fmt.Errorf("%w: at least one cowriter is required", domain.ErrInput)
	}

	var story domain.Story
	err := s.db.Transaction(ctx, func(ctx context.Context, tx repository.Database) error {
		fresh, txErr := tx.FetchStory(ctx, storyID, true)
		if txErr != nil {
			return txErr
		}
		if txErr = policy.RequireUserCanAddCowriters(user, fresh, usernames); txErr != nil {
			return txErr
		}
		others, txErr := tx.FetchUsers(ctx, usernames)
		if txErr != nil {
			return txErr
		}
		if txErr = policy.RequireValidCowriters(others, usernames); txErr != nil {
			return txErr
		}

		byUsername := make(map[string]domain.User, len(others))
		for _, other := range others {
			byUsername[other.Username] = other
		}
		cowriters := make([]domain.User, 0, len(usernames)+1)
		cowriters = append(cowriters, fresh.CreatedBy)
		for _, username := range usernames {
			cowriters = append(cowriters, byUsername[username])
		}

		story, txErr = tx.AddCowriters(ctx, fresh, cowriters)
		return txErr
	})
	if err != nil {
		return domain.Story{}, err
	}

	if err := s.messages.AnnounceCowritersAdded(ctx, story); err != nil {
		s.logger.Warn("cowriters added announcement lost", zap.Error(err), zap.String("story_id", story.ID))
	}
	return story, nil
}

func (s *Scribly) TakeTurnPass(ctx context.Context, user domain.User, storyID string) (domain.Story, error) {
	return s.takeTurn(ctx, user, storyID, domain.TurnPass, "")
}

func (s *Scribly) TakeTurnWrite(ctx context.Context, user domain.User, storyID, text string) (domain.Story, error) {
	return s.takeTurn(ctx, user, storyID, domain.TurnWrite, text)
}

func (s *Scribly) TakeTurnFinish(ctx context.Context, user domain.User, storyID string) (domain.Story, error) {
	return s.takeTurn(ctx, user, storyID, domain.TurnFinish, "")
}

func (s *Scribly) TakeTurnWriteAndFinish(ctx context.Context, user domain.User, storyID, text string) (domain.Story, error) {
	return s.takeTurn(ctx, user, storyID, domain.TurnWriteAndFinish, text)
}

// takeTurn re-valida la policy de orden contra la fila recien lockeada,
// nunca contra una lectura vieja: sin el lock dos cowriters compitiendo
// podrian pasar ambos el chequeo y avanzar el indice de turno dos veces.
func (s *Scribly) takeTurn(ctx context.Context, user domain.User, storyID string, action domain.TurnAction, text string) (domain.Story, error) {
	var story domain.Story
	err := s.db.Transaction(ctx, func(ctx context.Context, tx repository.Database) error {
		fresh, txErr := tx.FetchStory(ctx, storyID, true)
		if txErr != nil {
			return txErr
		}

		switch action {
		case domain.TurnWrite, domain.TurnWriteAndFinish:
			txErr = policy.RequireUserCanTakeTurnWrite(user, fresh, text)
		default:
			txErr = policy.RequireUserCanTakeTurn(user, fresh)
		}
		if txErr != nil {
			return txErr
		}

		story, txErr = tx.AddTurn(ctx, user, fresh, action, text)
		return txErr
	})
	if err != nil {
		return domain.Story{}, err
	}

	if err := s.messages.AnnounceTurnTaken(ctx, story); err != nil {
		s.logger.Warn("turn taken announcement lost", zap.Error(err),
			zap.String("story_id", story.ID), zap.Int("turn_number", len(story.Turns)))
	}
	return story, nil
}

func (s *Scribly) GetStory(ctx context.Context, user domain.User, storyID string) (domain.Story, error) {
	story, err := s.db.FetchStory(ctx, storyID, false)
	if err != nil {
		return domain.Story{}, err
	}
	if err := policy.RequireUserCanAccessStory(user, story); err != nil {
		return domain.Story{}, err
	}
	return story, nil
}

// GetMe es solo-lectura y sin locks: consistencia eventual con escritores
// concurrentes es aceptable aca.
func (s *Scribly) GetMe(ctx context.Context, user domain.User) (domain.Me, error) {
	return s.db.FetchMe(ctx, user)
}

func (s *Scribly) HideStory(ctx context.Context, user domain.User, storyID string) error {
	if _, err := s.GetStory(ctx, user, storyID); err != nil {
		return err
	}
	return s.db.HideStory(ctx, user, storyID)
}

func (s *Scribly) UnhideStory(ctx context.Context, user domain.User, storyID string) error {
	if _, err := s.GetStory(ctx, user, storyID); err != nil {
		return err
	}
	return s.db.UnhideStory(ctx, user, storyID)
}

func (s *Scribly) SendVerificationEmail(ctx context.Context, user domain.User) error {
	if err := policy.RequireCanSendVerificationEmail(user); err != nil {
		return err
	}
	token, err := s.signer.Sign(domain.EmailVerificationTokenPayload{
		UserID:    user.ID,
		Email:     user.Email,
		Timestamp: time.Now().UTC().Unix(),
	})
	if err != nil {
		return err
	}
	return s.sender.SendEmail(ctx, s.emails.EmailVerification(user, token))
}

// VerifyEmail consume el token firmado. Lockea la fila del usuario para que
// dos verificaciones simultaneas no togglen el status dos veces. La frescura
// se chequea al consumir, no al emitir: un token viejo sin usar expira solo.
func (s *Scribly) VerifyEmail(ctx context.Context, token string) (string, error) {
	payload, err := s.signer.Parse(token)
	if err != nil {
		return "", err
	}

	err = s.db.Transaction(ctx, func(ctx context.Context, tx repository.Database) error {
		user, txErr := tx.FetchUser(ctx, payload.UserID, true)
		if txErr != nil {
			return fmt.Errorf("%w: verification token references unknown user", domain.ErrScribly)
		}
		if txErr = policy.RequireValidEmailVerification(user, payload, time.Now().UTC()); txErr != nil {
			return txErr
		}
		_, txErr = tx.UpdateEmailVerificationStatus(ctx, user, domain.EmailVerificationVerified)
		return txErr
	})
	if err != nil {
		return "", err
	}
	return payload.Email, nil
}

// Nudge manda el recordatorio directo, sin cola: es un side effect unico y
// de bajo volumen, deliberadamente sincrono.
func (s *Scribly) Nudge(ctx context.Context, nudger domain.User, nudgeeID, storyID string) error {
	story, err := s.db.FetchStory(ctx, storyID, false)
	if err != nil {
		return err
	}
	if err := policy.RequireUserCanAccessStory(nudger, story); err != nil {
		return err
	}
	current, err := story.CurrentWriter()
	if err != nil {
		return err
	}
	if current.ID != nudgeeID {
		return fmt.Errorf("%w: user %s is not blocking story %s", domain.ErrScribly, nudgeeID, storyID)
	}
	if !s.nudgeLimiter.Allow(nudger.ID + ":" + storyID) {
		return fmt.Errorf("%w: too many nudges on story %s, try later", domain.ErrScribly, storyID)
	}
	return s.sender.SendEmail(ctx, s.emails.Nudge(nudger, current, story))
}

// SendTurnEmailNotifications re-fetchea la historia y notifica el turno
// turnNumber (1-based). Lo invoca el consumer de turn-taken; un error aca
// deja el mensaje sin ack y provoca redelivery.
func (s *Scribly) SendTurnEmailNotifications(ctx context.Context, storyID string, turnNumber int) error {
	story, err := s.db.FetchStory(ctx, storyID, false)
	if err != nil {
		return err
	}
	emails, err := s.emails.TurnEmailNotifications(story, turnNumber)
	if err != nil {
		return err
	}
	for _, msg := range emails {
		if err := s.sender.SendEmail(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

// SendAddedToStoryEmails notifica a los cowriters recien agregados.
func (s *Scribly) SendAddedToStoryEmails(ctx context.Context, storyID string) error {
	story, err := s.db.FetchStory(ctx, storyID, false)
	if err != nil {
		return err
	}
	emails, err := s.emails.AddedToStoryEmails(story)
	if err != nil {
		return err
	}
	for _, msg := range emails {
		if err := s.sender.SendEmail(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	var out []string
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}
