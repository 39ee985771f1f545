package email

import (
	"fmt"
	"html"

	"scribly/internal/domain"
)

// Builder arma los correos del dominio. Sostiene la URL publica del sitio
// para construir los links embebidos.
type Builder struct {
	siteURL string
}

func NewBuilder(siteURL string) *Builder {
	return &Builder{siteURL: siteURL}
}

// AddedToStoryEmails notifica a cada cowriter verificado excepto el creador,
// con asunto distinto para quien queda como escritor actual.
func (b *Builder) AddedToStoryEmails(story domain.Story) ([]domain.Email, error) {
	current, err := story.CurrentWriter()
	if err != nil {
		return nil, err
	}

	var emails []domain.Email
	for _, recipient := range story.Cowriters {
		if !recipient.IsVerified() || recipient.ID == story.CreatedBy.ID {
			continue
		}
		subject := fmt.Sprintf("%s started the story %s", story.CreatedBy.Username, story.Title)
		if current.ID == recipient.ID {
			subject += " - it's your turn!"
		}
		body := fmt.Sprintf(
			"<p>Hi %s,</p><p>%s added you as a cowriter on <a href=%q>%s</a>.</p>",
			html.EscapeString(recipient.Username),
			html.EscapeString(story.CreatedBy.Username),
			b.storyLink(story),
			html.EscapeString(story.Title),
		)
		if current.ID == recipient.ID {
			body += "<p>It's your turn to write!</p>"
		}
		emails = append(emails, domain.Email{To: recipient.Email, Subject: subject, Body: body})
	}
	return emails, nil
}

// TurnEmailNotifications notifica el turno turnNumber (1-based) a cada
// cowriter verificado excepto quien lo tomo. El asunto depende de si el
// destinatario es el nuevo escritor actual o solo queda informado.
func (b *Builder) TurnEmailNotifications(story domain.Story, turnNumber int) ([]domain.Email, error) {
	if turnNumber < 1 || turnNumber > len(story.Turns) {
		return nil, fmt.Errorf("%w: story %s has %d turns, cannot notify turn %d", domain.ErrScribly, story.ID, len(story.Turns), turnNumber)
	}
	if story.Cowriters == nil {
		return nil, fmt.Errorf("%w: story %s should have cowriters", domain.ErrScribly, story.ID)
	}
	turn := story.Turns[turnNumber-1]

	var emails []domain.Email
	for _, recipient := range story.Cowriters {
		if !recipient.IsVerified() || recipient.ID == turn.TakenBy.ID {
			continue
		}
		email, err := b.turnEmailNotification(story, turn, recipient)
		if err != nil {
			return nil, err
		}
		emails = append(emails, email)
	}
	return emails, nil
}

func (b *Builder) turnEmailNotification(story domain.Story, turn domain.Turn, recipient domain.User) (domain.Email, error) {
	var subject string
	switch {
	case turn.Action.Finishes():
		subject = fmt.Sprintf("%s is done!", story.Title)
	default:
		current, err := story.CurrentWriter()
		if err != nil {
			return domain.Email{}, err
		}
		if current.ID == recipient.ID {
			subject = fmt.Sprintf("It's your turn on %s!", story.Title)
		} else {
			subject = fmt.Sprintf("%s took their turn on %s!", turn.TakenBy.Username, story.Title)
		}
	}

	body := fmt.Sprintf(
		"<p>Hi %s,</p><p>%s took their turn on <a href=%q>%s</a>.</p>",
		html.EscapeString(recipient.Username),
		html.EscapeString(turn.TakenBy.Username),
		b.storyLink(story),
		html.EscapeString(story.Title),
	)
	return domain.Email{To: recipient.Email, Subject: subject, Body: body}, nil
}

// EmailVerification arma el correo con el link de verificacion firmado.
func (b *Builder) EmailVerification(user domain.User, token string) domain.Email {
	link := fmt.Sprintf("%s/email-verification?token=%s", b.siteURL, token)
	body := fmt.Sprintf(
		"<p>Hi %s,</p><p>Please <a href=%q>verify your email</a> to get story notifications.</p>",
		html.EscapeString(user.Username),
		link,
	)
	return domain.Email{To: user.Email, Subject: "Verify your email", Body: body}
}

// Nudge arma el recordatorio para el cowriter que esta frenando la historia.
func (b *Builder) Nudge(nudger, nudgee domain.User, story domain.Story) domain.Email {
	subject := fmt.Sprintf("%s nudged you to take your turn on %s", nudger.Username, story.Title)
	body := fmt.Sprintf(
		"<p>Hi %s,</p><p>%s is waiting on you to take your turn on <a href=%q>%s</a>.</p>",
		html.EscapeString(nudgee.Username),
		html.EscapeString(nudger.Username),
		b.storyLink(story),
		html.EscapeString(story.Title),
	)
	return domain.Email{To: nudgee.Email, Subject: subject, Body: body}
}

func (b *Builder) storyLink(story domain.Story) string {
	return fmt.Sprintf("%s/stories/%s", b.siteURL, story.ID)
}
