package domain

import "fmt"

// TurnAction es la accion atomica que un escritor toma en su turno.
type TurnAction string

const (
	TurnPass           TurnAction = "pass"
	TurnWrite          TurnAction = "write"
	TurnFinish         TurnAction = "finish"
	TurnWriteAndFinish TurnAction = "write_and_finish"
)

// Finishes reporta si la accion cierra la historia.
func (a TurnAction) Finishes() bool {
	return a == TurnFinish || a == TurnWriteAndFinish
}

// Turn es inmutable una vez creado; miembro append-only de la secuencia
// de turnos de una historia, ordenado por orden de insercion.
type Turn struct {
	TakenBy User       `json:"taken_by"`
	Action  TurnAction `json:"action"`
	// TextWritten solo existe en acciones write y write_and_finish.
	TextWritten string `json:"text_written,omitempty"`
}

// StoryState son los tres estados terminales-ordenados del ciclo de vida.
type StoryState string

const (
	StoryDraft      StoryState = "draft"
	StoryInProgress StoryState = "in_progress"
	StoryDone       StoryState = "done"
)

// Story es el agregado central. Cowriters es nil mientras la historia esta
// en draft; se fija exactamente una vez (incluye al creador, en orden) al
// pasar a in_progress y nunca cambia de largo ni de orden.
type Story struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	State     StoryState `json:"state"`
	CreatedBy User       `json:"created_by"`
	Cowriters []User     `json:"cowriters,omitempty"`
	Turns     []Turn     `json:"turns"`
}

// CurrentWriter deriva a quien le toca escribir. Solo esta definido en
// estado in_progress; siempre se recalcula como cowriters[turnos % escritores],
// nunca se guarda.
func (s Story) CurrentWriter() (User, error) {
	if s.State != StoryInProgress {
		return User{}, fmt.Errorf("%w: story %s in state %s has no current writer", ErrScribly, s.ID, s.State)
	}
	if len(s.Cowriters) == 0 {
		return User{}, fmt.Errorf("%w: story %s in state %s should have cowriters but has none", ErrScribly, s.ID, s.State)
	}
	return s.Cowriters[len(s.Turns)%len(s.Cowriters)], nil
}

// IsCowriter reporta si el usuario pertenece a la lista fija de escritores.
func (s Story) IsCowriter(user User) bool {
	for _, cowriter := range s.Cowriters {
		if cowriter.ID == user.ID {
			return true
		}
	}
	return false
}

// Me es la vista por-usuario: sus historias mas las que eligio ocultar.
// Ocultar es una anotacion del usuario, no un cambio de estado de la historia.
type Me struct {
	User           User                `json:"user"`
	Stories        []Story             `json:"stories"`
	HiddenStoryIDs map[string]struct{} `json:"-"`
}

// IsHidden reporta si el usuario oculto la historia de su propia vista.
func (m Me) IsHidden(storyID string) bool {
	_, ok := m.HiddenStoryIDs[storyID]
	return ok
}

// Drafts filtra las historias visibles en estado draft.
func (m Me) Drafts() []Story { return m.filter(StoryDraft) }

// InProgress filtra las historias visibles en estado in_progress.
func (m Me) InProgress() []Story { return m.filter(StoryInProgress) }

// Done filtra las historias visibles en estado done.
func (m Me) Done() []Story { return m.filter(StoryDone) }

func (m Me) filter(state StoryState) []Story {
	var out []Story
	for _, story := range m.Stories {
		if story.State == state && !m.IsHidden(story.ID) {
			out = append(out, story)
		}
	}
	return out
}
