package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"quiz-lobby-service/internal/app"
	"quiz-lobby-service/internal/domain"
	"github.com/google/uuid"
)

// lobbyDoc is the stored shape of a lobby: plain fields updated one at a
// time, mirroring the field-level updates of the networked document store.
type lobbyDoc struct {
	name         string
	quizID       string
	owner        domain.Player
	otherPlayers []domain.Player
	startedAt    *time.Time
	endedAt      *time.Time
	answers      map[string][]int
}

// LobbyRepository is an in-memory implementation of app.LobbyRepository with
// the same conditional-update semantics as the Redis one. Useful for tests
// and for running without external services.
type LobbyRepository struct {
	quizzes app.QuizRepository

	mu   sync.RWMutex
	docs map[string]*lobbyDoc
}

func NewLobbyRepository(quizzes app.QuizRepository) *LobbyRepository {
	return &LobbyRepository{
		quizzes: quizzes,
		docs:    make(map[string]*lobbyDoc),
	}
}

// Create persists a new lobby document and assigns the generated id onto the
// aggregate.
func (r *LobbyRepository) Create(_ context.Context, lobby *domain.Lobby) (string, error) {
	if lobby.Quiz().ID == "" {
		return "", fmt.Errorf("the quiz id is required to insert a lobby")
	}
	id := uuid.NewString()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.docs[id] = &lobbyDoc{
		name:         lobby.Name(),
		quizID:       lobby.Quiz().ID,
		owner:        lobby.Owner(),
		otherPlayers: lobby.OtherPlayers(),
		startedAt:    lobby.StartedAt(),
		endedAt:      lobby.EndedAt(),
		answers:      lobby.Answers(),
	}
	lobby.SetID(id)
	return id, nil
}

// FindByID reconstructs a full lobby, resolving the referenced quiz through
// the quiz repository.
func (r *LobbyRepository) FindByID(ctx context.Context, id string) (*domain.Lobby, error) {
	r.mu.RLock()
	doc, ok := r.docs[id]
	if !ok {
		r.mu.RUnlock()
		return nil, domain.ErrLobbyNotFound
	}
	snapshot := lobbyDoc{
		name:         doc.name,
		quizID:       doc.quizID,
		owner:        doc.owner,
		otherPlayers: append([]domain.Player(nil), doc.otherPlayers...),
		startedAt:    doc.startedAt,
		endedAt:      doc.endedAt,
		answers:      copyAnswers(doc.answers),
	}
	r.mu.RUnlock()

	quiz, err := r.quizzes.GetQuiz(ctx, snapshot.quizID)
	if err != nil {
		return nil, err
	}
	return domain.RestoreLobby(id, snapshot.name, quiz, snapshot.owner, snapshot.otherPlayers, snapshot.startedAt, snapshot.endedAt, snapshot.answers)
}

// UpdateStartDate sets the start date only if currently unset.
func (r *LobbyRepository) UpdateStartDate(_ context.Context, lobby *domain.Lobby) error {
	start := lobby.StartedAt()
	if start == nil {
		return fmt.Errorf("lobby %s has no start date to persist", lobby.ID())
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[lobby.ID()]
	if !ok {
		return domain.ErrLobbyNotFound
	}
	if doc.startedAt != nil {
		return domain.ErrLobbyAlreadyStarted
	}
	doc.startedAt = start
	return nil
}

// UpdateEndDate sets the end date only if currently unset.
func (r *LobbyRepository) UpdateEndDate(_ context.Context, lobby *domain.Lobby) error {
	end := lobby.EndedAt()
	if end == nil {
		return fmt.Errorf("lobby %s has no end date to persist", lobby.ID())
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[lobby.ID()]
	if !ok {
		return domain.ErrLobbyNotFound
	}
	if doc.endedAt != nil {
		return domain.ErrLobbyAlreadyEnded
	}
	doc.endedAt = end
	return nil
}

// AddPlayer appends the player to the stored document. The display name is
// re-checked against the stored roster under the lock, so two racing joins
// with the same name cannot both land.
func (r *LobbyRepository) AddPlayer(_ context.Context, lobby *domain.Lobby, player domain.Player) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[lobby.ID()]
	if !ok {
		return domain.ErrLobbyNotFound
	}
	if doc.owner.Name == player.Name {
		return domain.ErrPlayerNameTaken
	}
	for _, p := range doc.otherPlayers {
		if p.Name == player.Name {
			return domain.ErrPlayerNameTaken
		}
	}
	doc.otherPlayers = append(doc.otherPlayers, player)
	return nil
}

// UpdatePlayerAnswers records answers for a player id not already present.
func (r *LobbyRepository) UpdatePlayerAnswers(_ context.Context, lobby *domain.Lobby, player domain.Player, answers []int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[lobby.ID()]
	if !ok {
		return domain.ErrLobbyNotFound
	}
	if _, exists := doc.answers[player.ID]; exists {
		return domain.ErrAnswersAlreadySubmitted
	}
	if doc.answers == nil {
		doc.answers = make(map[string][]int)
	}
	doc.answers[player.ID] = append([]int(nil), answers...)
	return nil
}

// Drop clears the collection.
func (r *LobbyRepository) Drop(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.docs = make(map[string]*lobbyDoc)
	return nil
}

func copyAnswers(in map[string][]int) map[string][]int {
	out := make(map[string][]int, len(in))
	for id, a := range in {
		out[id] = append([]int(nil), a...)
	}
	return out
}
