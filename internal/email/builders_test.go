package email

import (
	"errors"
	"strings"
	"testing"

	"scribly/internal/domain"
)

func verifiedUser(username string) domain.User {
	return domain.User{
		ID:                      "id-" + username,
		Username:                username,
		Email:                   username + "@example.com",
		EmailVerificationStatus: domain.EmailVerificationVerified,
	}
}

func threeWriterStory(numTurns int, lastAction domain.TurnAction) domain.Story {
	zach := verifiedUser("zach")
	gabe := verifiedUser("gabe")
	rakesh := verifiedUser("rakesh")
	cowriters := []domain.User{zach, gabe, rakesh}

	story := domain.Story{
		ID:        "s1",
		Title:     "The Heist",
		State:     domain.StoryInProgress,
		CreatedBy: zach,
		Cowriters: cowriters,
	}
	for i := 0; i < numTurns; i++ {
		turn := domain.Turn{TakenBy: cowriters[i%3], Action: domain.TurnWrite, TextWritten: "text"}
		if i == numTurns-1 {
			turn.Action = lastAction
		}
		story.Turns = append(story.Turns, turn)
	}
	if lastAction.Finishes() {
		story.State = domain.StoryDone
	}
	return story
}

func TestTurnEmailNotifications_FanOut(t *testing.T) {
	builder := NewBuilder("http://test")
	// turnos=2, ultimo tomado por gabe → actual es rakesh.
	story := threeWriterStory(2, domain.TurnWrite)

	emails, err := builder.TurnEmailNotifications(story, 2)
	if err != nil {
		t.Fatalf("build notifications: %v", err)
	}
	if len(emails) != 2 {
		t.Fatalf("expected 2 emails, got %d", len(emails))
	}

	byRecipient := make(map[string]domain.Email)
	for _, msg := range emails {
		byRecipient[msg.To] = msg
	}
	if _, ok := byRecipient["gabe@example.com"]; ok {
		t.Fatalf("turn taker should not be notified")
	}

	// rakesh es el nuevo escritor actual y recibe un asunto distinto.
	rakeshEmail := byRecipient["rakesh@example.com"]
	if !strings.Contains(rakeshEmail.Subject, "It's your turn") {
		t.Fatalf("expected your-turn subject, got %q", rakeshEmail.Subject)
	}
	zachEmail := byRecipient["zach@example.com"]
	if !strings.Contains(zachEmail.Subject, "gabe took their turn") {
		t.Fatalf("expected informational subject, got %q", zachEmail.Subject)
	}
	if rakeshEmail.Subject == zachEmail.Subject {
		t.Fatalf("current writer and bystander should get different subjects")
	}
}

func TestTurnEmailNotifications_SkipsUnverified(t *testing.T) {
	builder := NewBuilder("http://test")
	story := threeWriterStory(2, domain.TurnWrite)
	story.Cowriters[0].EmailVerificationStatus = domain.EmailVerificationPending

	emails, err := builder.TurnEmailNotifications(story, 2)
	if err != nil {
		t.Fatalf("build notifications: %v", err)
	}
	if len(emails) != 1 {
		t.Fatalf("expected 1 email, got %d", len(emails))
	}
	if emails[0].To != "rakesh@example.com" {
		t.Fatalf("unexpected recipient %s", emails[0].To)
	}
}

func TestTurnEmailNotifications_FinishSubject(t *testing.T) {
	builder := NewBuilder("http://test")
	story := threeWriterStory(3, domain.TurnFinish)

	emails, err := builder.TurnEmailNotifications(story, 3)
	if err != nil {
		t.Fatalf("build notifications: %v", err)
	}
	for _, msg := range emails {
		if !strings.Contains(msg.Subject, "is done!") {
			t.Fatalf("expected done subject, got %q", msg.Subject)
		}
	}
}

func TestTurnEmailNotifications_BadTurnNumber(t *testing.T) {
	builder := NewBuilder("http://test")
	story := threeWriterStory(2, domain.TurnWrite)

	for _, turnNumber := range []int{0, 3} {
		if _, err := builder.TurnEmailNotifications(story, turnNumber); !errors.Is(err, domain.ErrScribly) {
			t.Fatalf("turn %d: expected ErrScribly, got %v", turnNumber, err)
		}
	}
}

func TestAddedToStoryEmails_ExcludesCreator(t *testing.T) {
	builder := NewBuilder("http://test")
	// turnos=1 → actual es gabe.
	story := threeWriterStory(1, domain.TurnWrite)

	emails, err := builder.AddedToStoryEmails(story)
	if err != nil {
		t.Fatalf("build added-to-story: %v", err)
	}
	if len(emails) != 2 {
		t.Fatalf("expected 2 emails, got %d", len(emails))
	}

	for _, msg := range emails {
		if msg.To == "zach@example.com" {
			t.Fatalf("creator should not be notified")
		}
		if !strings.Contains(msg.Subject, "zach started the story The Heist") {
			t.Fatalf("unexpected subject %q", msg.Subject)
		}
		isGabe := msg.To == "gabe@example.com"
		hasTurnCall := strings.Contains(msg.Subject, "it's your turn!")
		if isGabe != hasTurnCall {
			t.Fatalf("turn call mismatch for %s: %q", msg.To, msg.Subject)
		}
	}
}

func TestEmailVerification_ContainsLink(t *testing.T) {
	builder := NewBuilder("http://test")
	msg := builder.EmailVerification(verifiedUser("zach"), "tok123")
	if msg.To != "zach@example.com" {
		t.Fatalf("unexpected recipient %s", msg.To)
	}
	if !strings.Contains(msg.Body, "http://test/email-verification?token=tok123") {
		t.Fatalf("expected verification link in body: %s", msg.Body)
	}
}

func TestNudge_Subject(t *testing.T) {
	builder := NewBuilder("http://test")
	story := threeWriterStory(1, domain.TurnWrite)
	msg := builder.Nudge(verifiedUser("zach"), verifiedUser("gabe"), story)
	if msg.To != "gabe@example.com" {
		t.Fatalf("unexpected recipient %s", msg.To)
	}
	if !strings.Contains(msg.Subject, "zach nudged you") {
		t.Fatalf("unexpected subject %q", msg.Subject)
	}
}
