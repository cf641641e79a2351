package domain

import "time"

// LobbyState is the explicit lifecycle state, derived from the two nullable
// timestamps that remain the durable representation.
type LobbyState int

const (
	// LobbyOpen means the lobby accepts joins (no start date yet).
	LobbyOpen LobbyState = iota
	// LobbyStarted means the session is running (start date set, no end date).
	LobbyStarted
	// LobbyEnded means the session is over (both dates set).
	LobbyEnded
)

func (s LobbyState) String() string {
	switch s {
	case LobbyOpen:
		return "open"
	case LobbyStarted:
		return "started"
	case LobbyEnded:
		return "ended"
	}
	return "unknown"
}

// Lobby is the central aggregate: one quiz, one owner, a set of players, and
// the session window. Fields are unexported so every mutation goes through a
// method enforcing the lifecycle rules.
type Lobby struct {
	id           string
	name         string
	quiz         Quiz
	owner        Player
	otherPlayers []Player
	startedAt    *time.Time
	endedAt      *time.Time
	answers      map[string][]int
}

// NewLobby builds an unpersisted lobby (empty id) and validates all
// construction invariants eagerly.
func NewLobby(name string, quiz Quiz, owner Player, otherPlayers []Player) (*Lobby, error) {
	return RestoreLobby("", name, quiz, owner, otherPlayers, nil, nil, nil)
}

// RestoreLobby rehydrates a lobby from persisted state. An end date without a
// start date is accepted here so the corruption surfaces where it is observed,
// not on load.
func RestoreLobby(id, name string, quiz Quiz, owner Player, otherPlayers []Player, startedAt, endedAt *time.Time, answers map[string][]int) (*Lobby, error) {
	if name == "" {
		return nil, validationErrorf("the lobby name should not be empty")
	}
	if quiz.Name == "" || len(quiz.Questions) == 0 {
		return nil, validationErrorf("unexpected value for the quiz")
	}
	if owner.ID == "" || owner.Name == "" {
		return nil, validationErrorf("unexpected value for the owner")
	}
	seenIDs := map[string]struct{}{owner.ID: {}}
	seenNames := map[string]struct{}{owner.Name: {}}
	players := make([]Player, 0, len(otherPlayers))
	for _, p := range otherPlayers {
		if p.ID == "" || p.Name == "" {
			return nil, validationErrorf("unexpected value in the players list")
		}
		if p.ID == owner.ID {
			return nil, validationErrorf("the owner should not be included in the players")
		}
		if _, ok := seenIDs[p.ID]; ok {
			return nil, validationErrorf("duplicate player id %q", p.ID)
		}
		if _, ok := seenNames[p.Name]; ok {
			return nil, validationErrorf("duplicate player name %q", p.Name)
		}
		seenIDs[p.ID] = struct{}{}
		seenNames[p.Name] = struct{}{}
		players = append(players, p)
	}
	byPlayer := make(map[string][]int, len(answers))
	for playerID, playerAnswers := range answers {
		if playerID == "" {
			return nil, validationErrorf("answers recorded for an empty player id")
		}
		byPlayer[playerID] = append([]int(nil), playerAnswers...)
	}
	return &Lobby{
		id:           id,
		name:         name,
		quiz:         quiz,
		owner:        owner,
		otherPlayers: players,
		startedAt:    copyTime(startedAt),
		endedAt:      copyTime(endedAt),
		answers:      byPlayer,
	}, nil
}

// ID is empty until the lobby is persisted.
func (l *Lobby) ID() string { return l.id }

// SetID assigns the identifier generated at persistence.
func (l *Lobby) SetID(id string) { l.id = id }

func (l *Lobby) Name() string { return l.name }

func (l *Lobby) Quiz() Quiz { return l.quiz }

func (l *Lobby) Owner() Player { return l.owner }

// OtherPlayers returns the non-owner players in join order.
func (l *Lobby) OtherPlayers() []Player {
	return append([]Player(nil), l.otherPlayers...)
}

// Players returns all players, owner first.
func (l *Lobby) Players() []Player {
	players := make([]Player, 0, len(l.otherPlayers)+1)
	players = append(players, l.owner)
	return append(players, l.otherPlayers...)
}

// PlayerByID resolves a member, owner included.
func (l *Lobby) PlayerByID(id string) (Player, bool) {
	for _, p := range l.Players() {
		if p.ID == id {
			return p, true
		}
	}
	return Player{}, false
}

func (l *Lobby) StartedAt() *time.Time { return copyTime(l.startedAt) }

func (l *Lobby) EndedAt() *time.Time { return copyTime(l.endedAt) }

// Answers returns the recorded answers keyed by player id.
func (l *Lobby) Answers() map[string][]int {
	out := make(map[string][]int, len(l.answers))
	for id, a := range l.answers {
		out[id] = append([]int(nil), a...)
	}
	return out
}

// AnswersFor returns one player's recorded answers, if any.
func (l *Lobby) AnswersFor(playerID string) ([]int, bool) {
	a, ok := l.answers[playerID]
	if !ok {
		return nil, false
	}
	return append([]int(nil), a...), true
}

// State derives the lifecycle state from the two timestamps.
func (l *Lobby) State() LobbyState {
	switch {
	case l.endedAt != nil:
		return LobbyEnded
	case l.startedAt != nil:
		return LobbyStarted
	default:
		return LobbyOpen
	}
}

// Start marks the session open-to-running transition. It can happen once.
func (l *Lobby) Start() error {
	switch l.State() {
	case LobbyEnded:
		return ErrLobbyAlreadyEnded
	case LobbyStarted:
		return ErrLobbyAlreadyStarted
	}
	now := time.Now()
	l.startedAt = &now
	return nil
}

// End marks the session running-to-over transition. It can happen once and
// only after a start, preserving the end-implies-start invariant.
func (l *Lobby) End() error {
	if l.endedAt != nil {
		return ErrLobbyAlreadyEnded
	}
	if l.startedAt == nil {
		return ErrLobbyNotStarted
	}
	now := time.Now()
	l.endedAt = &now
	return nil
}

// AddPlayer appends a new player. Joins are rejected once the session has
// started, on id collision, and on a reused display name.
func (l *Lobby) AddPlayer(p Player) error {
	switch l.State() {
	case LobbyEnded:
		return ErrLobbyAlreadyEnded
	case LobbyStarted:
		return ErrLobbyAlreadyStarted
	}
	if p.ID == "" || p.Name == "" {
		return validationErrorf("unexpected value for the player")
	}
	for _, existing := range l.Players() {
		if existing.ID == p.ID {
			return validationErrorf("player id %q already in lobby", p.ID)
		}
		if existing.Name == p.Name {
			return ErrPlayerNameTaken
		}
	}
	l.otherPlayers = append(l.otherPlayers, p)
	return nil
}

// SetPlayerAnswers records a member's answers exactly once.
func (l *Lobby) SetPlayerAnswers(p Player, answers []int) error {
	if _, ok := l.PlayerByID(p.ID); !ok {
		return ErrPlayerNotFound
	}
	if _, ok := l.answers[p.ID]; ok {
		return ErrAnswersAlreadySubmitted
	}
	if l.answers == nil {
		l.answers = make(map[string][]int)
	}
	l.answers[p.ID] = append([]int(nil), answers...)
	return nil
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
