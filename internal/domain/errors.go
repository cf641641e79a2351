package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrLobbyNotFound is returned when no lobby exists for the given id.
	ErrLobbyNotFound = errors.New("lobby not found")
	// ErrQuizNotFound indicates the quiz content could not be loaded.
	ErrQuizNotFound = errors.New("quiz not found")
	// ErrPlayerNotFound is returned when a player id does not resolve to a lobby member.
	ErrPlayerNotFound = errors.New("player not found in lobby")
	// ErrUnauthorized is returned when the acting player lacks rights for the operation.
	ErrUnauthorized = errors.New("unauthorized player")
	// ErrLobbyAlreadyStarted rejects a second start or a join after start.
	ErrLobbyAlreadyStarted = errors.New("lobby already started")
	// ErrLobbyAlreadyEnded rejects operations on a lobby whose session is over.
	ErrLobbyAlreadyEnded = errors.New("lobby already ended")
	// ErrLobbyNotStarted rejects an end on a lobby that never started.
	ErrLobbyNotStarted = errors.New("lobby not started")
	// ErrPlayerNameTaken rejects a join reusing a display name already present in the lobby.
	ErrPlayerNameTaken = errors.New("player name already taken in lobby")
	// ErrAnswersAlreadySubmitted enforces the write-once answers rule.
	ErrAnswersAlreadySubmitted = errors.New("answers already submitted for player")
	// ErrLobbyCorrupted flags persisted state carrying an end date without a start date.
	ErrLobbyCorrupted = errors.New("lobby end date set without start date")
)

// ValidationError reports the first violated construction invariant.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func validationErrorf(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a construction invariant violation.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
