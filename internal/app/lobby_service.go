package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"quiz-lobby-service/internal/domain"
)

// LobbyRepository persists lobby aggregates as documents with field-level
// updates, so concurrent operations on independent fields do not clobber each
// other. FindByID returns domain.ErrLobbyNotFound when the lobby is absent,
// distinct from storage failures.
type LobbyRepository interface {
	Create(ctx context.Context, lobby *domain.Lobby) (string, error)
	FindByID(ctx context.Context, id string) (*domain.Lobby, error)
	// UpdateStartDate sets the start date only if it is currently unset and
	// returns domain.ErrLobbyAlreadyStarted on a no-op, so two racing starts
	// cannot both win.
	UpdateStartDate(ctx context.Context, lobby *domain.Lobby) error
	// UpdateEndDate sets the end date only if it is currently unset and
	// returns domain.ErrLobbyAlreadyEnded on a no-op.
	UpdateEndDate(ctx context.Context, lobby *domain.Lobby) error
	AddPlayer(ctx context.Context, lobby *domain.Lobby, player domain.Player) error
	// UpdatePlayerAnswers records answers for a player id not already present
	// and returns domain.ErrAnswersAlreadySubmitted otherwise.
	UpdatePlayerAnswers(ctx context.Context, lobby *domain.Lobby, player domain.Player, answers []int) error
	Drop(ctx context.Context) error
}

// QuizRepository loads and stores quiz content (from cache/backing store).
type QuizRepository interface {
	GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
	AddQuiz(ctx context.Context, quiz domain.Quiz) (string, error)
	ListQuizzes(ctx context.Context) ([]domain.Quiz, error)
}

// Notifier broadcasts lifecycle events to the realtime connections grouped by
// lobby id.
type Notifier interface {
	NotifyPlayerJoin(lobbyID, playerName string)
	NotifyLobbyStart(lobbyID string)
	NotifyLobbyEnd(lobbyID string)
}

// LobbyService owns the lobby lifecycle: join, start, answer submission, and
// the timer-driven end. Each operation loads a fresh aggregate, mutates it in
// memory, and writes back the specific changed fields; the store stays
// authoritative.
type LobbyService struct {
	lobbies   LobbyRepository
	quizzes   QuizRepository
	notifier  Notifier
	scheduler *EndScheduler
	duration  time.Duration
	now       func() time.Time
	onEnded   func(lobbyID string, err error)
}

func NewLobbyService(lobbies LobbyRepository, quizzes QuizRepository, notifier Notifier, scheduler *EndScheduler, duration time.Duration) *LobbyService {
	return NewLobbyServiceWithClock(lobbies, quizzes, notifier, scheduler, duration, time.Now)
}

// NewLobbyServiceWithClock is test-only for deterministic timestamps.
func NewLobbyServiceWithClock(lobbies LobbyRepository, quizzes QuizRepository, notifier Notifier, scheduler *EndScheduler, duration time.Duration, now func() time.Time) *LobbyService {
	return &LobbyService{
		lobbies:   lobbies,
		quizzes:   quizzes,
		notifier:  notifier,
		scheduler: scheduler,
		duration:  duration,
		now:       now,
	}
}

// OnLobbyEnded registers a hook invoked after the deferred end action
// completes, with the error it logged (nil on success). Tests use it to await
// the timer deterministically.
func (s *LobbyService) OnLobbyEnded(fn func(lobbyID string, err error)) {
	s.onEnded = fn
}

// CreateRequest names the quiz to bind and the owner to mint.
type CreateRequest struct {
	QuizID    string `json:"quizId"`
	LobbyName string `json:"lobbyName"`
	OwnerName string `json:"ownerName"`
}

// Create resolves the quiz, builds a fresh lobby with a newly minted owner,
// and persists it. The returned aggregate carries its assigned id.
func (s *LobbyService) Create(ctx context.Context, req CreateRequest) (*domain.Lobby, error) {
	quiz, err := s.quizzes.GetQuiz(ctx, req.QuizID)
	if err != nil {
		return nil, err
	}
	owner, err := domain.NewPlayer(req.OwnerName)
	if err != nil {
		return nil, err
	}
	lobby, err := domain.NewLobby(req.LobbyName, quiz, owner, nil)
	if err != nil {
		return nil, err
	}
	if _, err := s.lobbies.Create(ctx, lobby); err != nil {
		return nil, err
	}
	return lobby, nil
}

// JoinLobby adds a freshly minted player to an open lobby, persists the delta,
// notifies the lobby's room, and returns the new player's id.
func (s *LobbyService) JoinLobby(ctx context.Context, lobbyID, playerName string) (string, error) {
	lobby, err := s.lobbies.FindByID(ctx, lobbyID)
	if err != nil {
		return "", err
	}
	player, err := domain.NewPlayer(playerName)
	if err != nil {
		return "", err
	}
	if err := lobby.AddPlayer(player); err != nil {
		return "", err
	}
	if err := s.lobbies.AddPlayer(ctx, lobby, player); err != nil {
		return "", err
	}
	s.notifier.NotifyPlayerJoin(lobbyID, player.Name)
	return player.ID, nil
}

// LobbyInfo is the membership view of a lobby.
type LobbyInfo struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	QuizName    string   `json:"quizName"`
	OwnerName   string   `json:"ownerName"`
	PlayerNames []string `json:"playerNames"`
}

// GetLobbyInfo returns the lobby view for a requesting member; non-members
// are unauthorized.
func (s *LobbyService) GetLobbyInfo(ctx context.Context, lobbyID, playerID string) (LobbyInfo, error) {
	lobby, err := s.lobbies.FindByID(ctx, lobbyID)
	if err != nil {
		return LobbyInfo{}, err
	}
	if _, ok := lobby.PlayerByID(playerID); !ok {
		return LobbyInfo{}, domain.ErrUnauthorized
	}
	players := lobby.Players()
	names := make([]string, 0, len(players))
	for _, p := range players {
		names = append(names, p.Name)
	}
	return LobbyInfo{
		ID:          lobby.ID(),
		Name:        lobby.Name(),
		QuizName:    lobby.Quiz().Name,
		OwnerName:   lobby.Owner().Name,
		PlayerNames: names,
	}, nil
}

// Start transitions an open lobby to started. Only the owner may start. A
// successful start notifies the room and registers the deferred end action
// that will close the lobby after the configured duration.
func (s *LobbyService) Start(ctx context.Context, lobbyID, playerID string) error {
	lobby, err := s.lobbies.FindByID(ctx, lobbyID)
	if err != nil {
		return err
	}
	if lobby.Owner().ID != playerID {
		return domain.ErrUnauthorized
	}
	if err := lobby.Start(); err != nil {
		return err
	}
	// Conditional write: loses the race cleanly if another start got there first.
	if err := s.lobbies.UpdateStartDate(ctx, lobby); err != nil {
		return err
	}
	s.notifier.NotifyLobbyStart(lobbyID)
	log.Printf("start lobby %s", lobbyID)

	if _, ok := s.scheduler.Schedule(lobbyID, s.duration, func() {
		s.endLobby(lobbyID)
	}); !ok {
		log.Printf("end already scheduled for lobby %s", lobbyID)
	}
	return nil
}

// endLobby is the deferred end action: it persists the end date and notifies
// the room. Failures are logged, never propagated; the timer registry entry
// is deregistered by the scheduler regardless.
func (s *LobbyService) endLobby(lobbyID string) {
	err := func() error {
		ctx := context.Background()
		lobby, err := s.lobbies.FindByID(ctx, lobbyID)
		if err != nil {
			return err
		}
		if err := lobby.End(); err != nil {
			return err
		}
		if err := s.lobbies.UpdateEndDate(ctx, lobby); err != nil {
			return err
		}
		s.notifier.NotifyLobbyEnd(lobbyID)
		return nil
	}()
	if err != nil {
		log.Printf("end lobby %s: %v", lobbyID, err)
	} else {
		log.Printf("end lobby %s", lobbyID)
	}
	if s.onEnded != nil {
		s.onEnded(lobbyID, err)
	}
}

// AddAnswers records a member's submitted answers exactly once and persists
// the delta.
func (s *LobbyService) AddAnswers(ctx context.Context, lobbyID, playerID string, answers []int) error {
	lobby, err := s.lobbies.FindByID(ctx, lobbyID)
	if err != nil {
		return err
	}
	player, ok := lobby.PlayerByID(playerID)
	if !ok {
		return domain.ErrPlayerNotFound
	}
	if err := lobby.SetPlayerAnswers(player, answers); err != nil {
		return err
	}
	return s.lobbies.UpdatePlayerAnswers(ctx, lobby, player, answers)
}

// IsLobbyOngoing reports whether now falls in the session window, inclusive
// of the start and exclusive of the end. An end date without a start date is
// a corrupted aggregate.
func (s *LobbyService) IsLobbyOngoing(ctx context.Context, lobbyID string) (bool, error) {
	lobby, err := s.lobbies.FindByID(ctx, lobbyID)
	if err != nil {
		return false, err
	}
	start, end := lobby.StartedAt(), lobby.EndedAt()
	if start == nil {
		if end != nil {
			return false, domain.ErrLobbyCorrupted
		}
		return false, nil
	}
	now := s.now()
	if now.Before(*start) {
		return false, nil
	}
	if end == nil {
		return true, nil
	}
	return now.Before(*end), nil
}

// LobbyState reports the lifecycle state derived from the stored timestamps.
func (s *LobbyService) LobbyState(ctx context.Context, lobbyID string) (domain.LobbyState, error) {
	lobby, err := s.lobbies.FindByID(ctx, lobbyID)
	if err != nil {
		return domain.LobbyOpen, err
	}
	return lobby.State(), nil
}

// IsPlayerInLobby reports membership by player id.
func (s *LobbyService) IsPlayerInLobby(ctx context.Context, lobbyID, playerID string) (bool, error) {
	lobby, err := s.lobbies.FindByID(ctx, lobbyID)
	if err != nil {
		return false, err
	}
	_, ok := lobby.PlayerByID(playerID)
	return ok, nil
}

// GetLobbyQuestions returns the quiz questions stripped of solution data.
// A question variant without a public projection is an error, not silently
// skipped.
func (s *LobbyService) GetLobbyQuestions(ctx context.Context, lobbyID string) ([]domain.PublicQuestion, error) {
	lobby, err := s.lobbies.FindByID(ctx, lobbyID)
	if err != nil {
		return nil, err
	}
	questions := lobby.Quiz().Questions
	public := make([]domain.PublicQuestion, 0, len(questions))
	for _, q := range questions {
		switch v := q.(type) {
		case domain.MultipleChoiceQuestion:
			public = append(public, v.Public())
		default:
			return nil, fmt.Errorf("no public projection for question variant %T", q)
		}
	}
	return public, nil
}

// PlayerResult is one player's score over the lobby's quiz.
type PlayerResult struct {
	PlayerID   string `json:"playerId"`
	PlayerName string `json:"playerName"`
	Score      int    `json:"score"`
	MaxScore   int    `json:"maxScore"`
}

// GetLobbyResults scores the recorded answers of every player who submitted.
func (s *LobbyService) GetLobbyResults(ctx context.Context, lobbyID string) ([]PlayerResult, error) {
	lobby, err := s.lobbies.FindByID(ctx, lobbyID)
	if err != nil {
		return nil, err
	}
	results := make([]PlayerResult, 0, len(lobby.Players()))
	for _, p := range lobby.Players() {
		answers, ok := lobby.AnswersFor(p.ID)
		if !ok {
			continue
		}
		checked := CheckResults(lobby.Quiz(), answers)
		results = append(results, PlayerResult{
			PlayerID:   p.ID,
			PlayerName: p.Name,
			Score:      checked.Score,
			MaxScore:   checked.MaxScore,
		})
	}
	return results, nil
}
