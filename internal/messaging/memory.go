package messaging

import (
	"context"
	"sync"

	"scribly/internal/domain"
)

// MemoryGateway registra anuncios en memoria para tests. Err permite
// inyectar una falla de publish.
type MemoryGateway struct {
	mu             sync.Mutex
	Err            error
	UserCreated    []domain.User
	TurnTaken      []TurnTakenMessage
	CowritersAdded []CowritersAddedMessage
}

func NewMemoryGateway() *MemoryGateway {
	return &MemoryGateway{}
}

func (g *MemoryGateway) AnnounceUserCreated(_ context.Context, user domain.User) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.Err != nil {
		return g.Err
	}
	g.UserCreated = append(g.UserCreated, user)
	return nil
}

func (g *MemoryGateway) AnnounceTurnTaken(_ context.Context, story domain.Story) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.Err != nil {
		return g.Err
	}
	g.TurnTaken = append(g.TurnTaken, TurnTakenMessage{StoryID: story.ID, TurnNumber: len(story.Turns)})
	return nil
}

func (g *MemoryGateway) AnnounceCowritersAdded(_ context.Context, story domain.Story) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.Err != nil {
		return g.Err
	}
	g.CowritersAdded = append(g.CowritersAdded, CowritersAddedMessage{StoryID: story.ID})
	return nil
}
