package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"scribly/internal/domain"
	"scribly/internal/email"
	"scribly/internal/messaging"
	"scribly/internal/repository"

	"go.uber.org/zap"
)

// recorderSender registra los correos enviados para inspeccion en tests.
type recorderSender struct {
	mu   sync.Mutex
	sent []domain.Email
	err  error
}

func (r *recorderSender) SendEmail(_ context.Context, msg domain.Email) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, msg)
	return nil
}

func (r *recorderSender) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

type fixture struct {
	svc     *Scribly
	db      *repository.MemoryDatabase
	gateway *messaging.MemoryGateway
	sender  *recorderSender
	signer  *TokenSigner
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		db:      repository.NewMemoryDatabase(),
		gateway: messaging.NewMemoryGateway(),
		sender:  &recorderSender{},
		signer:  NewTokenSigner("test-secret"),
	}
	f.svc = NewScribly(
		zap.NewNop(),
		f.db,
		f.gateway,
		f.sender,
		email.NewBuilder("http://test"),
		NewPasswordHasher(bcrypt.MinCost),
		f.signer,
		nil,
		[]string{"password"},
	)
	return f
}

func (f *fixture) signUp(t *testing.T, username string) domain.User {
	t.Helper()
	user, err := f.svc.SignUp(context.Background(), username, "hunter2hunter2", username+"@example.com")
	if err != nil {
		t.Fatalf("sign up %s: %v", username, err)
	}
	return user
}

// inProgressStory arma una historia de zach con cowriters [zach, gabe, rakesh]
// y un solo turno, lo que deja a gabe como escritor actual.
func (f *fixture) inProgressStory(t *testing.T) (domain.Story, domain.User, domain.User, domain.User) {
	t.Helper()
	ctx := context.Background()
	zach := f.signUp(t, "zach")
	gabe := f.signUp(t, "gabe")
	rakesh := f.signUp(t, "rakesh")

	story, err := f.svc.StartStory(ctx, zach, "The Heist", "It was a dark and stormy night.")
	if err != nil {
		t.Fatalf("start story: %v", err)
	}
	story, err = f.svc.AddCowriters(ctx, zach, story.ID, []string{"gabe", "rakesh"})
	if err != nil {
		t.Fatalf("add cowriters: %v", err)
	}
	return story, zach, gabe, rakesh
}

func TestSignUp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	user, err := f.svc.SignUp(ctx, "zach", "hunter2hunter2", "ZACH@Example.com")
	if err != nil {
		t.Fatalf("sign up: %v", err)
	}
	if user.Email != "zach@example.com" {
		t.Fatalf("expected normalized email, got %s", user.Email)
	}
	if user.EmailVerificationStatus != domain.EmailVerificationPending {
		t.Fatalf("expected pending status, got %s", user.EmailVerificationStatus)
	}
	if len(f.gateway.UserCreated) != 1 || f.gateway.UserCreated[0].ID != user.ID {
		t.Fatalf("expected user-created announcement for %s", user.ID)
	}

	if _, err := f.svc.SignUp(ctx, "zach", "hunter2hunter2", "other@example.com"); !errors.Is(err, domain.ErrScribly) {
		t.Fatalf("expected ErrScribly for taken username, got %v", err)
	}
}

func TestSignUp_RejectsBadInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []struct {
		name               string
		username, password string
		email              string
	}{
		{"short password", "zach", "short", "zach@example.com"},
		{"denylisted password", "zach", "mypassword123", "zach@example.com"},
		{"short username", "za", "hunter2hunter2", "zach@example.com"},
		{"bad email", "zach", "hunter2hunter2", "not-an-email"},
	}
	for _, tc := range cases {
		if _, err := f.svc.SignUp(ctx, tc.username, tc.password, tc.email); !errors.Is(err, domain.ErrInput) {
			t.Fatalf("%s: expected ErrInput, got %v", tc.name, err)
		}
	}
	if len(f.gateway.UserCreated) != 0 {
		t.Fatalf("rejected signups must not announce")
	}
}

func TestLogIn(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	zach := f.signUp(t, "zach")

	user, err := f.svc.LogIn(ctx, "zach", "hunter2hunter2")
	if err != nil {
		t.Fatalf("log in: %v", err)
	}
	if user.ID != zach.ID {
		t.Fatalf("expected user %s, got %s", zach.ID, user.ID)
	}

	// Password malo y usuario inexistente fallan con el mismo error.
	_, badPassErr := f.svc.LogIn(ctx, "zach", "wrongpassword")
	_, noUserErr := f.svc.LogIn(ctx, "ghost", "hunter2hunter2")
	if !errors.Is(badPassErr, domain.ErrAuth) || !errors.Is(noUserErr, domain.ErrAuth) {
		t.Fatalf("expected ErrAuth for both failures, got %v and %v", badPassErr, noUserErr)
	}
	if badPassErr.Error() != noUserErr.Error() {
		t.Fatalf("login failures should be indistinguishable: %q vs %q", badPassErr, noUserErr)
	}
}

func TestLogIn_RehashesOnCostUpgrade(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Hash guardado con el costo minimo; la politica actual pide uno mayor.
	oldHash, err := bcrypt.GenerateFromPassword([]byte("hunter2hunter2"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("generate hash: %v", err)
	}
	if _, err := f.db.AddUser(ctx, "zach", string(oldHash), "zach@example.com"); err != nil {
		t.Fatalf("add user: %v", err)
	}
	f.svc.hasher = NewPasswordHasher(bcrypt.MinCost + 1)

	if _, err := f.svc.LogIn(ctx, "zach", "hunter2hunter2"); err != nil {
		t.Fatalf("log in: %v", err)
	}

	_, newHash, err := f.db.FetchUserWithPasswordHash(ctx, "zach")
	if err != nil {
		t.Fatalf("fetch hash: %v", err)
	}
	cost, err := bcrypt.Cost([]byte(newHash))
	if err != nil {
		t.Fatalf("hash cost: %v", err)
	}
	if cost != bcrypt.MinCost+1 {
		t.Fatalf("expected rehashed cost %d, got %d", bcrypt.MinCost+1, cost)
	}
}

func TestStartStory_RejectsEmptyInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	zach := f.signUp(t, "zach")

	if _, err := f.svc.StartStory(ctx, zach, "  ", "intro"); !errors.Is(err, domain.ErrInput) {
		t.Fatalf("expected ErrInput for empty title, got %v", err)
	}
	if _, err := f.svc.StartStory(ctx, zach, "Title", "  "); !errors.Is(err, domain.ErrInput) {
		t.Fatalf("expected ErrInput for empty intro, got %v", err)
	}
}

func TestStoryLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	zach := f.signUp(t, "zach")
	gabe := f.signUp(t, "gabe")
	rakesh := f.signUp(t, "rakesh")

	story, err := f.svc.StartStory(ctx, zach, "The Heist", "It was a dark and stormy night.")
	if err != nil {
		t.Fatalf("start story: %v", err)
	}
	if story.State != domain.StoryDraft {
		t.Fatalf("new story should be draft, got %s", story.State)
	}
	if len(story.Turns) != 1 || story.Turns[0].Action != domain.TurnWrite {
		t.Fatalf("new story should hold the intro as its first turn")
	}

	story, err = f.svc.AddCowriters(ctx, zach, story.ID, []string{"gabe", "rakesh"})
	if err != nil {
		t.Fatalf("add cowriters: %v", err)
	}
	if story.State != domain.StoryInProgress {
		t.Fatalf("expected in_progress, got %s", story.State)
	}
	wantOrder := []string{zach.ID, gabe.ID, rakesh.ID}
	for i, id := range wantOrder {
		if story.Cowriters[i].ID != id {
			t.Fatalf("cowriter %d: expected %s, got %s", i, id, story.Cowriters[i].ID)
		}
	}
	if len(f.gateway.CowritersAdded) != 1 {
		t.Fatalf("expected 1 cowriters-added announcement")
	}

	// Con 1 turno el actual es gabe.
	current, err := story.CurrentWriter()
	if err != nil {
		t.Fatalf("current writer: %v", err)
	}
	if current.ID != gabe.ID {
		t.Fatalf("expected gabe as current writer, got %s", current.Username)
	}

	story, err = f.svc.TakeTurnWrite(ctx, gabe, story.ID, "The vault door creaked open.")
	if err != nil {
		t.Fatalf("gabe write: %v", err)
	}
	current, _ = story.CurrentWriter()
	if current.ID != rakesh.ID {
		t.Fatalf("expected rakesh as current writer, got %s", current.Username)
	}

	// zach no es el actual; su intento se rechaza sin mutar la historia.
	if _, err := f.svc.TakeTurnPass(ctx, zach, story.ID); !errors.Is(err, domain.ErrScribly) {
		t.Fatalf("expected ErrScribly for out-of-order turn, got %v", err)
	}
	unchanged, err := f.db.FetchStory(ctx, story.ID, false)
	if err != nil {
		t.Fatalf("fetch story: %v", err)
	}
	if len(unchanged.Turns) != 2 {
		t.Fatalf("rejected turn must not be recorded, got %d turns", len(unchanged.Turns))
	}

	story, err = f.svc.TakeTurnWriteAndFinish(ctx, rakesh, story.ID, "They all went home.")
	if err != nil {
		t.Fatalf("rakesh finish: %v", err)
	}
	if story.State != domain.StoryDone {
		t.Fatalf("expected done, got %s", story.State)
	}
	if len(story.Turns) != 3 {
		t.Fatalf("expected 3 turns, got %d", len(story.Turns))
	}

	// Un anuncio por cada turno commiteado, con su numero 1-based.
	if len(f.gateway.TurnTaken) != 2 {
		t.Fatalf("expected 2 turn-taken announcements, got %d", len(f.gateway.TurnTaken))
	}
	if f.gateway.TurnTaken[0].TurnNumber != 2 || f.gateway.TurnTaken[1].TurnNumber != 3 {
		t.Fatalf("unexpected turn numbers: %+v", f.gateway.TurnTaken)
	}

	// Historia terminada: nadie mas puede tomar turnos.
	if _, err := f.svc.TakeTurnPass(ctx, zach, story.ID); !errors.Is(err, domain.ErrScribly) {
		t.Fatalf("expected ErrScribly on done story, got %v", err)
	}
}

func TestAddCowriters_SelfInviteLeavesDraft(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	zach := f.signUp(t, "zach")
	f.signUp(t, "gabe")

	story, err := f.svc.StartStory(ctx, zach, "Solo", "Once upon a time.")
	if err != nil {
		t.Fatalf("start story: %v", err)
	}
	if _, err := f.svc.AddCowriters(ctx, zach, story.ID, []string{"gabe", "zach"}); !errors.Is(err, domain.ErrInput) {
		t.Fatalf("expected ErrInput for self invite, got %v", err)
	}

	fresh, err := f.db.FetchStory(ctx, story.ID, false)
	if err != nil {
		t.Fatalf("fetch story: %v", err)
	}
	if fresh.State != domain.StoryDraft || fresh.Cowriters != nil {
		t.Fatalf("rejected invite must leave story draft without cowriters")
	}
	if len(f.gateway.CowritersAdded) != 0 {
		t.Fatalf("rejected invite must not announce")
	}
}

func TestAddCowriters_UnknownUsername(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	zach := f.signUp(t, "zach")

	story, err := f.svc.StartStory(ctx, zach, "Solo", "Once upon a time.")
	if err != nil {
		t.Fatalf("start story: %v", err)
	}
	if _, err := f.svc.AddCowriters(ctx, zach, story.ID, []string{"ghost"}); !errors.Is(err, domain.ErrInput) {
		t.Fatalf("expected ErrInput for unknown username, got %v", err)
	}
}

func TestTakeTurn_ConcurrentWritersAdvanceOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	story, zach, gabe, _ := f.inProgressStory(t)

	// gabe es el actual; zach no lo es en ningun orden de ejecucion, asi que
	// exactamente un turno tiene que aterrizar.
	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, errs[0] = f.svc.TakeTurnWrite(ctx, gabe, story.ID, "gabe writes")
	}()
	go func() {
		defer wg.Done()
		_, errs[1] = f.svc.TakeTurnWrite(ctx, zach, story.ID, "zach writes")
	}()
	wg.Wait()

	if errs[0] != nil {
		t.Fatalf("current writer should succeed: %v", errs[0])
	}
	if !errors.Is(errs[1], domain.ErrScribly) {
		t.Fatalf("out-of-turn writer should get ErrScribly, got %v", errs[1])
	}
	fresh, err := f.db.FetchStory(ctx, story.ID, false)
	if err != nil {
		t.Fatalf("fetch story: %v", err)
	}
	if len(fresh.Turns) != 2 {
		t.Fatalf("expected exactly 2 turns after the race, got %d", len(fresh.Turns))
	}
}

func TestTakeTurn_PublishFailureStillCommits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	story, _, gabe, _ := f.inProgressStory(t)

	f.gateway.Err = errors.New("broker down")
	updated, err := f.svc.TakeTurnWrite(ctx, gabe, story.ID, "still lands")
	if err != nil {
		t.Fatalf("turn should commit despite publish failure: %v", err)
	}
	if len(updated.Turns) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(updated.Turns))
	}
}

func TestTakeTurn_NonCowriterRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	story, _, _, _ := f.inProgressStory(t)
	intruder := f.signUp(t, "intruder")

	if _, err := f.svc.TakeTurnPass(ctx, intruder, story.ID); !errors.Is(err, domain.ErrAuth) {
		t.Fatalf("expected ErrAuth for non-cowriter, got %v", err)
	}
}

func TestVerifyEmail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	zach := f.signUp(t, "zach")

	if err := f.svc.SendVerificationEmail(ctx, zach); err != nil {
		t.Fatalf("send verification: %v", err)
	}
	if f.sender.count() != 1 {
		t.Fatalf("expected 1 verification email, got %d", f.sender.count())
	}

	token, err := f.signer.Sign(domain.EmailVerificationTokenPayload{
		UserID:    zach.ID,
		Email:     zach.Email,
		Timestamp: time.Now().UTC().Unix(),
	})
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	verifiedEmail, err := f.svc.VerifyEmail(ctx, token)
	if err != nil {
		t.Fatalf("verify email: %v", err)
	}
	if verifiedEmail != zach.Email {
		t.Fatalf("expected %s, got %s", zach.Email, verifiedEmail)
	}
	fresh, err := f.db.FetchUser(ctx, zach.ID, false)
	if err != nil {
		t.Fatalf("fetch user: %v", err)
	}
	if !fresh.IsVerified() {
		t.Fatalf("user should be verified")
	}

	// Verificar dos veces es un resultado de negocio, no un error de infra.
	if _, err := f.svc.VerifyEmail(ctx, token); !errors.Is(err, domain.ErrScribly) {
		t.Fatalf("expected ErrScribly for repeat verification, got %v", err)
	}
	if err := f.svc.SendVerificationEmail(ctx, fresh); !errors.Is(err, domain.ErrScribly) {
		t.Fatalf("expected ErrScribly resending to verified user, got %v", err)
	}
}

func TestVerifyEmail_ExpiredToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	zach := f.signUp(t, "zach")

	token, err := f.signer.Sign(domain.EmailVerificationTokenPayload{
		UserID:    zach.ID,
		Email:     zach.Email,
		Timestamp: time.Now().UTC().Add(-25 * time.Hour).Unix(),
	})
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	if _, err := f.svc.VerifyEmail(ctx, token); !errors.Is(err, domain.ErrScribly) {
		t.Fatalf("expected ErrScribly for expired token, got %v", err)
	}
	fresh, _ := f.db.FetchUser(ctx, zach.ID, false)
	if fresh.IsVerified() {
		t.Fatalf("expired token must not verify")
	}
}

func TestVerifyEmail_TamperedToken(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.VerifyEmail(context.Background(), "not.a.token"); !errors.Is(err, domain.ErrScribly) {
		t.Fatalf("expected ErrScribly for garbage token, got %v", err)
	}
}

func TestNudge(t *testing.T) {
	f := newFixture(t)
	f.svc.nudgeLimiter = NewNudgeRateLimiter(time.Hour, 1)
	ctx := context.Background()
	story, zach, gabe, rakesh := f.inProgressStory(t)

	// gabe es el actual y puede ser nudgeado.
	if err := f.svc.Nudge(ctx, zach, gabe.ID, story.ID); err != nil {
		t.Fatalf("nudge: %v", err)
	}
	if f.sender.count() != 1 {
		t.Fatalf("expected 1 nudge email, got %d", f.sender.count())
	}
	if f.sender.sent[0].To != gabe.Email {
		t.Fatalf("nudge should go to gabe, got %s", f.sender.sent[0].To)
	}

	// rakesh no esta frenando la historia.
	if err := f.svc.Nudge(ctx, zach, rakesh.ID, story.ID); !errors.Is(err, domain.ErrScribly) {
		t.Fatalf("expected ErrScribly nudging a non-blocking user, got %v", err)
	}

	// Segundo nudge de zach sobre la misma historia queda rate-limited.
	if err := f.svc.Nudge(ctx, zach, gabe.ID, story.ID); !errors.Is(err, domain.ErrScribly) {
		t.Fatalf("expected ErrScribly for rate-limited nudge, got %v", err)
	}
	if f.sender.count() != 1 {
		t.Fatalf("rate-limited nudge must not send, got %d emails", f.sender.count())
	}
}

func TestHideUnhideStory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	story, zach, _, _ := f.inProgressStory(t)

	if err := f.svc.HideStory(ctx, zach, story.ID); err != nil {
		t.Fatalf("hide story: %v", err)
	}
	me, err := f.svc.GetMe(ctx, zach)
	if err != nil {
		t.Fatalf("get me: %v", err)
	}
	if len(me.InProgress()) != 0 {
		t.Fatalf("hidden story should not appear in progress view")
	}
	if !me.IsHidden(story.ID) {
		t.Fatalf("story should be marked hidden")
	}

	if err := f.svc.UnhideStory(ctx, zach, story.ID); err != nil {
		t.Fatalf("unhide story: %v", err)
	}
	me, err = f.svc.GetMe(ctx, zach)
	if err != nil {
		t.Fatalf("get me: %v", err)
	}
	if len(me.InProgress()) != 1 {
		t.Fatalf("unhidden story should reappear")
	}
}

func TestGetStory_AccessControl(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	story, _, gabe, _ := f.inProgressStory(t)
	outsider := f.signUp(t, "outsider")

	if _, err := f.svc.GetStory(ctx, gabe, story.ID); err != nil {
		t.Fatalf("cowriter should access story: %v", err)
	}
	if _, err := f.svc.GetStory(ctx, outsider, story.ID); !errors.Is(err, domain.ErrAuth) {
		t.Fatalf("expected ErrAuth for outsider, got %v", err)
	}
	if _, err := f.svc.GetStory(ctx, gabe, "missing"); !errors.Is(err, domain.ErrStoryNotFound) {
		t.Fatalf("expected ErrStoryNotFound, got %v", err)
	}
}

func TestSendTurnEmailNotifications(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	story, zach, gabe, rakesh := f.inProgressStory(t)

	// Solo los verificados reciben correo.
	for _, u := range []domain.User{zach, rakesh} {
		if _, err := f.db.UpdateEmailVerificationStatus(ctx, u, domain.EmailVerificationVerified); err != nil {
			t.Fatalf("verify %s: %v", u.Username, err)
		}
	}
	if _, err := f.svc.TakeTurnWrite(ctx, gabe, story.ID, "gabe writes"); err != nil {
		t.Fatalf("take turn: %v", err)
	}

	if err := f.svc.SendTurnEmailNotifications(ctx, story.ID, 2); err != nil {
		t.Fatalf("send notifications: %v", err)
	}
	if f.sender.count() != 2 {
		t.Fatalf("expected 2 emails, got %d", f.sender.count())
	}

	// Historia inexistente: el consumer tiene que recibir el error.
	if err := f.svc.SendTurnEmailNotifications(ctx, "missing", 1); !errors.Is(err, domain.ErrStoryNotFound) {
		t.Fatalf("expected ErrStoryNotFound, got %v", err)
	}
}

func TestSendAddedToStoryEmails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	story, _, gabe, _ := f.inProgressStory(t)

	if _, err := f.db.UpdateEmailVerificationStatus(ctx, gabe, domain.EmailVerificationVerified); err != nil {
		t.Fatalf("verify gabe: %v", err)
	}
	if err := f.svc.SendAddedToStoryEmails(ctx, story.ID); err != nil {
		t.Fatalf("send added-to-story: %v", err)
	}
	// Solo gabe esta verificado y no es el creador.
	if f.sender.count() != 1 {
		t.Fatalf("expected 1 email, got %d", f.sender.count())
	}
	if f.sender.sent[0].To != gabe.Email {
		t.Fatalf("expected gabe as recipient, got %s", f.sender.sent[0].To)
	}
}
