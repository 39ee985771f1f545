package repository

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"scribly/internal/domain"
)

// MemoryDatabase es el fake en memoria de Database para tests. Una
// transaccion toma el mutex entero por su duracion, que da la misma
// serializacion que el row lock de postgres; en error se restaura un
// snapshot, imitando el rollback.
type MemoryDatabase struct {
	mu            sync.Mutex
	users         map[string]domain.User
	userIDsByName map[string]string
	passwords     map[string]string
	stories       map[string]domain.Story
	storyOrder    []string
	hides         map[string]map[string]struct{}
}

func NewMemoryDatabase() *MemoryDatabase {
	return &MemoryDatabase{
		users:         make(map[string]domain.User),
		userIDsByName: make(map[string]string),
		passwords:     make(map[string]string),
		stories:       make(map[string]domain.Story),
		hides:         make(map[string]map[string]struct{}),
	}
}

type memorySnapshot struct {
	users         map[string]domain.User
	userIDsByName map[string]string
	passwords     map[string]string
	stories       map[string]domain.Story
	storyOrder    []string
	hides         map[string]map[string]struct{}
}

func (m *MemoryDatabase) snapshotLocked() memorySnapshot {
	snap := memorySnapshot{
		users:         make(map[string]domain.User, len(m.users)),
		userIDsByName: make(map[string]string, len(m.userIDsByName)),
		passwords:     make(map[string]string, len(m.passwords)),
		stories:       make(map[string]domain.Story, len(m.stories)),
		storyOrder:    append([]string(nil), m.storyOrder...),
		hides:         make(map[string]map[string]struct{}, len(m.hides)),
	}
	for id, u := range m.users {
		snap.users[id] = u
	}
	for name, id := range m.userIDsByName {
		snap.userIDsByName[name] = id
	}
	for id, hash := range m.passwords {
		snap.passwords[id] = hash
	}
	for id, s := range m.stories {
		snap.stories[id] = cloneStory(s)
	}
	for userID, ids := range m.hides {
		hidden := make(map[string]struct{}, len(ids))
		for id := range ids {
			hidden[id] = struct{}{}
		}
		snap.hides[userID] = hidden
	}
	return snap
}

func (m *MemoryDatabase) restoreLocked(snap memorySnapshot) {
	m.users = snap.users
	m.userIDsByName = snap.userIDsByName
	m.passwords = snap.passwords
	m.stories = snap.stories
	m.storyOrder = snap.storyOrder
	m.hides = snap.hides
}

func cloneStory(s domain.Story) domain.Story {
	s.Cowriters = append([]domain.User(nil), s.Cowriters...)
	s.Turns = append([]domain.Turn(nil), s.Turns...)
	return s
}

func (m *MemoryDatabase) Transaction(ctx context.Context, fn func(ctx context.Context, tx Database) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := m.snapshotLocked()
	if err := fn(ctx, &memoryTx{db: m}); err != nil {
		m.restoreLocked(snap)
		return err
	}
	return nil
}

func (m *MemoryDatabase) FetchUserWithPasswordHash(ctx context.Context, username string) (domain.User, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fetchUserWithPasswordHashLocked(username)
}

func (m *MemoryDatabase) fetchUserWithPasswordHashLocked(username string) (domain.User, string, error) {
	id, ok := m.userIDsByName[username]
	if !ok {
		return domain.User{}, "", pgx.ErrNoRows
	}
	return m.users[id], m.passwords[id], nil
}

func (m *MemoryDatabase) AddUser(ctx context.Context, username, passwordHash, email string) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.addUserLocked(username, passwordHash, email)
}

func (m *MemoryDatabase) addUserLocked(username, passwordHash, email string) (domain.User, error) {
	if _, exists := m.userIDsByName[username]; exists {
		return domain.User{}, fmt.Errorf("%w: username %s is taken", domain.ErrScribly, username)
	}
	user := domain.User{
		ID:                      uuid.NewString(),
		Username:                username,
		Email:                   email,
		EmailVerificationStatus: domain.EmailVerificationPending,
	}
	m.users[user.ID] = user
	m.userIDsByName[username] = user.ID
	m.passwords[user.ID] = passwordHash
	return user, nil
}

func (m *MemoryDatabase) UpdatePassword(ctx context.Context, user domain.User, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updatePasswordLocked(user, passwordHash)
}

func (m *MemoryDatabase) updatePasswordLocked(user domain.User, passwordHash string) error {
	if _, ok := m.users[user.ID]; !ok {
		return pgx.ErrNoRows
	}
	m.passwords[user.ID] = passwordHash
	return nil
}

func (m *MemoryDatabase) FetchUser(ctx context.Context, userID string, forUpdate bool) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fetchUserLocked(userID)
}

func (m *MemoryDatabase) fetchUserLocked(userID string) (domain.User, error) {
	user, ok := m.users[userID]
	if !ok {
		return domain.User{}, pgx.ErrNoRows
	}
	return user, nil
}

func (m *MemoryDatabase) FetchUsers(ctx context.Context, usernames []string) ([]domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fetchUsersLocked(usernames)
}

func (m *MemoryDatabase) fetchUsersLocked(usernames []string) ([]domain.User, error) {
	var users []domain.User
	for _, username := range usernames {
		if id, ok := m.userIDsByName[username]; ok {
			users = append(users, m.users[id])
		}
	}
	return users, nil
}

func (m *MemoryDatabase) UpdateEmailVerificationStatus(ctx context.Context, user domain.User, status domain.EmailVerificationStatus) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateEmailVerificationStatusLocked(user, status)
}

func (m *MemoryDatabase) updateEmailVerificationStatusLocked(user domain.User, status domain.EmailVerificationStatus) (domain.User, error) {
	stored, ok := m.users[user.ID]
	if !ok {
		return domain.User{}, pgx.ErrNoRows
	}
	stored.EmailVerificationStatus = status
	m.users[user.ID] = stored
	// El cambio de status tambien tiene que verse en los agregados de historias.
	for id, story := range m.stories {
		changed := false
		if story.CreatedBy.ID == stored.ID {
			story.CreatedBy = stored
			changed = true
		}
		for i, cowriter := range story.Cowriters {
			if cowriter.ID == stored.ID {
				story.Cowriters[i] = stored
				changed = true
			}
		}
		for i, turn := range story.Turns {
			if turn.TakenBy.ID == stored.ID {
				story.Turns[i].TakenBy = stored
				changed = true
			}
		}
		if changed {
			m.stories[id] = story
		}
	}
	return stored, nil
}

func (m *MemoryDatabase) StartStory(ctx context.Context, user domain.User, title, body string) (domain.Story, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.startStoryLocked(user, title, body)
}

func (m *MemoryDatabase) startStoryLocked(user domain.User, title, body string) (domain.Story, error) {
	story := domain.Story{
		ID:        uuid.NewString(),
		Title:     title,
		State:     domain.StoryDraft,
		CreatedBy: user,
		Turns: []domain.Turn{
			{TakenBy: user, Action: domain.TurnWrite, TextWritten: body},
		},
	}
	m.stories[story.ID] = cloneStory(story)
	m.storyOrder = append(m.storyOrder, story.ID)
	return story, nil
}

func (m *MemoryDatabase) FetchStory(ctx context.Context, storyID string, forUpdate bool) (domain.Story, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fetchStoryLocked(storyID)
}

func (m *MemoryDatabase) fetchStoryLocked(storyID string) (domain.Story, error) {
	story, ok := m.stories[storyID]
	if !ok {
		return domain.Story{}, fmt.Errorf("%w: %s", domain.ErrStoryNotFound, storyID)
	}
	return cloneStory(story), nil
}

func (m *MemoryDatabase) AddCowriters(ctx context.Context, story domain.Story, cowriters []domain.User) (domain.Story, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.addCowritersLocked(story, cowriters)
}

func (m *MemoryDatabase) addCowritersLocked(story domain.Story, cowriters []domain.User) (domain.Story, error) {
	stored, ok := m.stories[story.ID]
	if !ok {
		return domain.Story{}, fmt.Errorf("%w: %s", domain.ErrStoryNotFound, story.ID)
	}
	stored.State = domain.StoryInProgress
	stored.Cowriters = append([]domain.User(nil), cowriters...)
	m.stories[story.ID] = stored
	return cloneStory(stored), nil
}

func (m *MemoryDatabase) AddTurn(ctx context.Context, user domain.User, story domain.Story, action domain.TurnAction, textWritten string) (domain.Story, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.addTurnLocked(user, story, action, textWritten)
}

func (m *MemoryDatabase) addTurnLocked(user domain.User, story domain.Story, action domain.TurnAction, textWritten string) (domain.Story, error) {
	stored, ok := m.stories[story.ID]
	if !ok {
		return domain.Story{}, fmt.Errorf("%w: %s", domain.ErrStoryNotFound, story.ID)
	}
	stored.Turns = append(stored.Turns, domain.Turn{TakenBy: user, Action: action, TextWritten: textWritten})
	if action.Finishes() {
		stored.State = domain.StoryDone
	}
	m.stories[story.ID] = stored
	return cloneStory(stored), nil
}

func (m *MemoryDatabase) FetchMe(ctx context.Context, user domain.User) (domain.Me, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fetchMeLocked(user)
}

func (m *MemoryDatabase) fetchMeLocked(user domain.User) (domain.Me, error) {
	freshUser, err := m.fetchUserLocked(user.ID)
	if err != nil {
		return domain.Me{}, err
	}
	me := domain.Me{User: freshUser, HiddenStoryIDs: make(map[string]struct{})}
	for _, id := range m.storyOrder {
		story := m.stories[id]
		if story.CreatedBy.ID == user.ID || story.IsCowriter(user) {
			me.Stories = append(me.Stories, cloneStory(story))
		}
	}
	for id := range m.hides[user.ID] {
		me.HiddenStoryIDs[id] = struct{}{}
	}
	return me, nil
}

func (m *MemoryDatabase) HideStory(ctx context.Context, user domain.User, storyID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hideStoryLocked(user, storyID)
}

func (m *MemoryDatabase) hideStoryLocked(user domain.User, storyID string) error {
	if m.hides[user.ID] == nil {
		m.hides[user.ID] = make(map[string]struct{})
	}
	m.hides[user.ID][storyID] = struct{}{}
	return nil
}

func (m *MemoryDatabase) UnhideStory(ctx context.Context, user domain.User, storyID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.hides[user.ID], storyID)
	return nil
}

// memoryTx es la vista transaccional: el mutex ya lo sostiene Transaction.
type memoryTx struct {
	db *MemoryDatabase
}

func (t *memoryTx) Transaction(ctx context.Context, fn func(ctx context.Context, tx Database) error) error {
	return fn(ctx, t)
}

func (t *memoryTx) FetchUserWithPasswordHash(ctx context.Context, username string) (domain.User, string, error) {
	return t.db.fetchUserWithPasswordHashLocked(username)
}

func (t *memoryTx) AddUser(ctx context.Context, username, passwordHash, email string) (domain.User, error) {
	return t.db.addUserLocked(username, passwordHash, email)
}

func (t *memoryTx) UpdatePassword(ctx context.Context, user domain.User, passwordHash string) error {
	return t.db.updatePasswordLocked(user, passwordHash)
}

func (t *memoryTx) FetchUser(ctx context.Context, userID string, forUpdate bool) (domain.User, error) {
	return t.db.fetchUserLocked(userID)
}

func (t *memoryTx) FetchUsers(ctx context.Context, usernames []string) ([]domain.User, error) {
	return t.db.fetchUsersLocked(usernames)
}

func (t *memoryTx) UpdateEmailVerificationStatus(ctx context.Context, user domain.User, status domain.EmailVerificationStatus) (domain.User, error) {
	return t.db.updateEmailVerificationStatusLocked(user, status)
}

func (t *memoryTx) StartStory(ctx context.Context, user domain.User, title, body string) (domain.Story, error) {
	return t.db.startStoryLocked(user, title, body)
}

func (t *memoryTx) FetchStory(ctx context.Context, storyID string, forUpdate bool) (domain.Story, error) {
	return t.db.fetchStoryLocked(storyID)
}

func (t *memoryTx) AddCowriters(ctx context.Context, story domain.Story, cowriters []domain.User) (domain.Story, error) {
	return t.db.addCowritersLocked(story, cowriters)
}

func (t *memoryTx) AddTurn(ctx context.Context, user domain.User, story domain.Story, action domain.TurnAction, textWritten string) (domain.Story, error) {
	return t.db.addTurnLocked(user, story, action, textWritten)
}

func (t *memoryTx) FetchMe(ctx context.Context, user domain.User) (domain.Me, error) {
	return t.db.fetchMeLocked(user)
}

func (t *memoryTx) HideStory(ctx context.Context, user domain.User, storyID string) error {
	return t.db.hideStoryLocked(user, storyID)
}

func (t *memoryTx) UnhideStory(ctx context.Context, user domain.User, storyID string) error {
	delete(t.db.hides[user.ID], storyID)
	return nil
}
