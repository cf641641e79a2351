package app_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"quiz-lobby-service/internal/app"
	"quiz-lobby-service/internal/domain"
	"quiz-lobby-service/internal/infra/memory"
)

func TestCreateLobby(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, time.Minute)

	lobby, err := f.service.Create(ctx, app.CreateRequest{QuizID: "quiz-1", LobbyName: "friday", OwnerName: "Alice"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if lobby.ID() == "" {
		t.Fatalf("expected assigned lobby id")
	}
	if lobby.Owner().Name != "Alice" || lobby.Owner().ID == "" {
		t.Fatalf("expected minted owner, got %+v", lobby.Owner())
	}
	if lobby.Quiz().ID != "quiz-1" {
		t.Fatalf("expected quiz bound by id, got %q", lobby.Quiz().ID)
	}

	if _, err := f.service.Create(ctx, app.CreateRequest{QuizID: "nope", LobbyName: "x", OwnerName: "Bob"}); !errors.Is(err, domain.ErrQuizNotFound) {
		t.Fatalf("expected quiz not found, got %v", err)
	}
}

func TestJoinThenInfo(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, time.Minute)
	lobby := f.createLobby(t, "Alice")

	bobID, err := f.service.JoinLobby(ctx, lobby.ID(), "Bob")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if bobID == "" {
		t.Fatalf("expected a player id")
	}
	if got := f.notifier.joinNames(); len(got) != 1 || got[0] != "Bob" {
		t.Fatalf("expected join notification for Bob, got %v", got)
	}

	info, err := f.service.GetLobbyInfo(ctx, lobby.ID(), bobID)
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	if len(info.PlayerNames) != 2 || info.PlayerNames[0] != "Alice" || info.PlayerNames[1] != "Bob" {
		t.Fatalf("expected [Alice Bob], got %v", info.PlayerNames)
	}
	if info.QuizName != "three questions" || info.OwnerName != "Alice" {
		t.Fatalf("unexpected info: %+v", info)
	}

	if _, err := f.service.GetLobbyInfo(ctx, lobby.ID(), "unknown"); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if _, err := f.service.GetLobbyInfo(ctx, "missing", bobID); !errors.Is(err, domain.ErrLobbyNotFound) {
		t.Fatalf("expected lobby not found, got %v", err)
	}
}

func TestJoinRejectsDuplicateName(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, time.Minute)
	lobby := f.createLobby(t, "Alice")

	if _, err := f.service.JoinLobby(ctx, lobby.ID(), "Bob"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := f.service.JoinLobby(ctx, lobby.ID(), "Bob"); !errors.Is(err, domain.ErrPlayerNameTaken) {
		t.Fatalf("expected name taken, got %v", err)
	}
}

func TestConcurrentJoinSameNameHasOneWinner(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, time.Minute)
	lobby := f.createLobby(t, "Alice")

	const attempts = 8
	errs := make(chan error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.service.JoinLobby(ctx, lobby.ID(), "Bob")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	wins := 0
	for err := range errs {
		if err == nil {
			wins++
		} else if !errors.Is(err, domain.ErrPlayerNameTaken) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one winning join, got %d", wins)
	}

	// The losing joins must not corrupt the stored roster.
	info, err := f.service.GetLobbyInfo(ctx, lobby.ID(), lobby.Owner().ID)
	if err != nil {
		t.Fatalf("lobby must stay loadable: %v", err)
	}
	if len(info.PlayerNames) != 2 || info.PlayerNames[1] != "Bob" {
		t.Fatalf("expected [Alice Bob], got %v", info.PlayerNames)
	}
}

func TestStartBlocksJoin(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, time.Minute)
	lobby := f.createLobby(t, "Alice")

	if err := f.service.Start(ctx, lobby.ID(), lobby.Owner().ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := f.service.JoinLobby(ctx, lobby.ID(), "Carol"); !errors.Is(err, domain.ErrLobbyAlreadyStarted) {
		t.Fatalf("expected already started, got %v", err)
	}
}

func TestStartAuthorizationAndDoubleStart(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, time.Minute)
	lobby := f.createLobby(t, "Alice")

	bobID, err := f.service.JoinLobby(ctx, lobby.ID(), "Bob")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := f.service.Start(ctx, lobby.ID(), bobID); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected unauthorized for non-owner, got %v", err)
	}

	if err := f.service.Start(ctx, lobby.ID(), lobby.Owner().ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	if got := f.notifier.startCount(lobby.ID()); got != 1 {
		t.Fatalf("expected one start notification, got %d", got)
	}
	if err := f.service.Start(ctx, lobby.ID(), lobby.Owner().ID); !errors.Is(err, domain.ErrLobbyAlreadyStarted) {
		t.Fatalf("expected already started, got %v", err)
	}
}

func TestConcurrentStartHasOneWinner(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, time.Minute)
	lobby := f.createLobby(t, "Alice")

	const attempts = 8
	errs := make(chan error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- f.service.Start(ctx, lobby.ID(), lobby.Owner().ID)
		}()
	}
	wg.Wait()
	close(errs)

	wins := 0
	for err := range errs {
		if err == nil {
			wins++
		} else if !errors.Is(err, domain.ErrLobbyAlreadyStarted) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one winning start, got %d", wins)
	}
	if got := f.notifier.startCount(lobby.ID()); got != 1 {
		t.Fatalf("expected one start notification, got %d", got)
	}
}

func TestTimerEndsLobby(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 30*time.Millisecond)
	lobby := f.createLobby(t, "Alice")

	ended := make(chan error, 1)
	f.service.OnLobbyEnded(func(lobbyID string, err error) {
		if lobbyID == lobby.ID() {
			ended <- err
		}
	})

	if err := f.service.Start(ctx, lobby.ID(), lobby.Owner().ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	select {
	case err := <-ended:
		if err != nil {
			t.Fatalf("deferred end failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("lobby never ended")
	}

	reloaded, err := f.lobbies.FindByID(ctx, lobby.ID())
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.EndedAt() == nil {
		t.Fatalf("expected persisted end date")
	}
	if f.notifier.endCount(lobby.ID()) != 1 {
		t.Fatalf("expected one end notification")
	}

	waitCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := f.scheduler.WaitIdle(waitCtx); err != nil {
		t.Fatalf("registry not quiescent after end: %v", err)
	}

	// The session is over for late joiners.
	if _, err := f.service.JoinLobby(ctx, lobby.ID(), "Carol"); !errors.Is(err, domain.ErrLobbyAlreadyEnded) {
		t.Fatalf("expected already ended, got %v", err)
	}
}

func TestAddAnswers(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, time.Minute)
	lobby := f.createLobby(t, "Alice")
	bobID, err := f.service.JoinLobby(ctx, lobby.ID(), "Bob")
	if err != nil {
		t.Fatalf("join: %v", err)
	}

	if err := f.service.AddAnswers(ctx, lobby.ID(), bobID, []int{0, 1, 2}); err != nil {
		t.Fatalf("add answers: %v", err)
	}
	if err := f.service.AddAnswers(ctx, lobby.ID(), bobID, []int{2, 1, 0}); !errors.Is(err, domain.ErrAnswersAlreadySubmitted) {
		t.Fatalf("expected already submitted, got %v", err)
	}
	if err := f.service.AddAnswers(ctx, lobby.ID(), "stranger", []int{0}); !errors.Is(err, domain.ErrPlayerNotFound) {
		t.Fatalf("expected player not found, got %v", err)
	}
}

func TestIsLobbyOngoing(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2024, 11, 22, 12, 0, 0, 0, time.UTC)
	f := newFixture(t, time.Minute)

	start := base
	end := base.Add(10 * time.Second)

	openEnded := f.restoreLobby(t, "open-ended", &start, nil)
	window := f.restoreLobby(t, "window", &start, &end)
	corrupted := f.restoreLobby(t, "corrupted", nil, &end)

	cases := []struct {
		name    string
		lobbyID string
		at      time.Time
		want    bool
	}{
		{"running without end", openEnded, base.Add(time.Second), true},
		{"before start", openEnded, base.Add(-time.Second), false},
		{"inside window", window, base.Add(9999 * time.Millisecond), true},
		{"at start", window, base, true},
		{"at end exclusive", window, base.Add(10 * time.Second), false},
	}
	for _, tc := range cases {
		f.setNow(tc.at)
		got, err := f.service.IsLobbyOngoing(ctx, tc.lobbyID)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if got != tc.want {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
	}

	f.setNow(base)
	if _, err := f.service.IsLobbyOngoing(ctx, corrupted); !errors.Is(err, domain.ErrLobbyCorrupted) {
		t.Fatalf("expected corrupted lobby error, got %v", err)
	}
}

func TestGetLobbyQuestionsStripsSolutions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, time.Minute)
	lobby := f.createLobby(t, "Alice")

	questions, err := f.service.GetLobbyQuestions(ctx, lobby.ID())
	if err != nil {
		t.Fatalf("questions: %v", err)
	}
	if len(questions) != 3 {
		t.Fatalf("expected 3 questions, got %d", len(questions))
	}
	if questions[0].Prompt != "first" || len(questions[0].Choices) != 3 {
		t.Fatalf("unexpected public question: %+v", questions[0])
	}
}

func TestGetLobbyResults(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, time.Minute)
	lobby := f.createLobby(t, "Alice")
	bobID, err := f.service.JoinLobby(ctx, lobby.ID(), "Bob")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := f.service.AddAnswers(ctx, lobby.ID(), bobID, []int{0, 5, 2}); err != nil {
		t.Fatalf("add answers: %v", err)
	}

	results, err := f.service.GetLobbyResults(ctx, lobby.ID())
	if err != nil {
		t.Fatalf("results: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected one submitted result, got %+v", results)
	}
	if results[0].PlayerName != "Bob" || results[0].Score != 2 || results[0].MaxScore != 3 {
		t.Fatalf("unexpected result: %+v", results[0])
	}
}

func TestIsPlayerInLobby(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, time.Minute)
	lobby := f.createLobby(t, "Alice")

	in, err := f.service.IsPlayerInLobby(ctx, lobby.ID(), lobby.Owner().ID)
	if err != nil || !in {
		t.Fatalf("expected owner membership, got in=%v err=%v", in, err)
	}
	in, err = f.service.IsPlayerInLobby(ctx, lobby.ID(), "stranger")
	if err != nil || in {
		t.Fatalf("expected stranger excluded, got in=%v err=%v", in, err)
	}
}

// fixture wires the service against in-memory infrastructure and a spy
// notifier.
type fixture struct {
	service   *app.LobbyService
	lobbies   app.LobbyRepository
	quizzes   app.QuizRepository
	notifier  *spyNotifier
	scheduler *app.EndScheduler

	mu  sync.Mutex
	now time.Time
}

func newFixture(t *testing.T, duration time.Duration) *fixture {
	t.Helper()
	quizRepo := memory.NewQuizRepository(memory.NewStaticQuizStore(map[string]domain.Quiz{
		"quiz-1": fixtureQuiz(t),
	}), 5*time.Minute)
	lobbyRepo := memory.NewLobbyRepository(quizRepo)
	notifier := &spyNotifier{}
	scheduler := app.NewEndScheduler()

	f := &fixture{
		lobbies:   lobbyRepo,
		quizzes:   quizRepo,
		notifier:  notifier,
		scheduler: scheduler,
		now:       time.Now(),
	}
	f.service = app.NewLobbyServiceWithClock(lobbyRepo, quizRepo, notifier, scheduler, duration, func() time.Time {
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.now
	})
	return f
}

func (f *fixture) setNow(t time.Time) {
	f.mu.Lock()
	f.now = t
	f.mu.Unlock()
}

func (f *fixture) createLobby(t *testing.T, ownerName string) *domain.Lobby {
	t.Helper()
	lobby, err := f.service.Create(context.Background(), app.CreateRequest{
		QuizID:    "quiz-1",
		LobbyName: "friday quiz",
		OwnerName: ownerName,
	})
	if err != nil {
		t.Fatalf("create lobby: %v", err)
	}
	return lobby
}

// restoreLobby persists a lobby with explicit dates, bypassing the lifecycle
// methods, and returns its id.
func (f *fixture) restoreLobby(t *testing.T, name string, startedAt, endedAt *time.Time) string {
	t.Helper()
	owner, err := domain.NewPlayer("Alice")
	if err != nil {
		t.Fatalf("owner: %v", err)
	}
	lobby, err := domain.RestoreLobby("", name, fixtureQuiz(t), owner, nil, startedAt, endedAt, nil)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	id, err := f.lobbies.Create(context.Background(), lobby)
	if err != nil {
		t.Fatalf("persist: %v", err)
	}
	return id
}

func fixtureQuiz(t *testing.T) domain.Quiz {
	t.Helper()
	q1, err := domain.NewMultipleChoiceQuestion("first", []string{"a0", "a1", "a2"}, 0)
	if err != nil {
		t.Fatalf("question: %v", err)
	}
	q2, err := domain.NewMultipleChoiceQuestion("second", []string{"b0", "b1", "b2"}, 1)
	if err != nil {
		t.Fatalf("question: %v", err)
	}
	q3, err := domain.NewMultipleChoiceQuestion("third", []string{"c0", "c1", "c2"}, 2)
	if err != nil {
		t.Fatalf("question: %v", err)
	}
	quiz, err := domain.NewQuiz("three questions", []domain.Question{q1, q2, q3})
	if err != nil {
		t.Fatalf("quiz: %v", err)
	}
	quiz.ID = "quiz-1"
	return quiz
}

type spyNotifier struct {
	mu     sync.Mutex
	joins  []string
	starts []string
	ends   []string
}

func (n *spyNotifier) NotifyPlayerJoin(lobbyID, playerName string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.joins = append(n.joins, playerName)
}

func (n *spyNotifier) NotifyLobbyStart(lobbyID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.starts = append(n.starts, lobbyID)
}

func (n *spyNotifier) NotifyLobbyEnd(lobbyID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ends = append(n.ends, lobbyID)
}

func (n *spyNotifier) joinNames() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.joins...)
}

func (n *spyNotifier) startCount(lobbyID string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	count := 0
	for _, id := range n.starts {
		if id == lobbyID {
			count++
		}
	}
	return count
}

func (n *spyNotifier) endCount(lobbyID string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	count := 0
	for _, id := range n.ends {
		if id == lobbyID {
			count++
		}
	}
	return count
}
