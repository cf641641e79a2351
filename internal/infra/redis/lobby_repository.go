package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"quiz-lobby-service/internal/app"
	"quiz-lobby-service/internal/domain"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// LobbyRepository stores each lobby as a small family of keys with
// field-level atomic updates:
//
//	lobby:{id}          hash  name, quizId, owner (JSON), startDate, endDate (unix ms)
//	lobby:{id}:players  list  JSON players, RPUSH append
//	lobby:{id}:answers  hash  playerId -> JSON answers, HSETNX write-once
//	lobbies             set   all lobby ids
//
// Start and end dates go through HSETNX, so a concurrent double start loses
// cleanly instead of overwriting.
type LobbyRepository struct {
	client  *redis.Client
	quizzes app.QuizRepository
}

func NewLobbyRepository(client *redis.Client, quizzes app.QuizRepository) *LobbyRepository {
	return &LobbyRepository{client: client, quizzes: quizzes}
}

func (r *LobbyRepository) Create(ctx context.Context, lobby *domain.Lobby) (string, error) {
	if lobby.Quiz().ID == "" {
		return "", fmt.Errorf("the quiz id is required to insert a lobby")
	}
	id := uuid.NewString()

	ownerJSON, err := json.Marshal(lobby.Owner())
	if err != nil {
		return "", fmt.Errorf("encode owner: %w", err)
	}

	pipe := r.client.TxPipeline()
	fields := map[string]any{
		"name":   lobby.Name(),
		"quizId": lobby.Quiz().ID,
		"owner":  ownerJSON,
	}
	if start := lobby.StartedAt(); start != nil {
		fields["startDate"] = start.UnixMilli()
	}
	if end := lobby.EndedAt(); end != nil {
		fields["endDate"] = end.UnixMilli()
	}
	pipe.HSet(ctx, r.key(id), fields)
	for _, p := range lobby.OtherPlayers() {
		playerJSON, err := json.Marshal(p)
		if err != nil {
			return "", fmt.Errorf("encode player: %w", err)
		}
		pipe.RPush(ctx, r.playersKey(id), playerJSON)
	}
	for playerID, answers := range lobby.Answers() {
		answersJSON, err := json.Marshal(answers)
		if err != nil {
			return "", fmt.Errorf("encode answers: %w", err)
		}
		pipe.HSet(ctx, r.answersKey(id), playerID, answersJSON)
	}
	pipe.SAdd(ctx, r.indexKey(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("insert lobby: %w", err)
	}
	lobby.SetID(id)
	return id, nil
}

func (r *LobbyRepository) FindByID(ctx context.Context, id string) (*domain.Lobby, error) {
	doc, err := r.client.HGetAll(ctx, r.key(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("load lobby: %w", err)
	}
	if len(doc) == 0 {
		return nil, domain.ErrLobbyNotFound
	}

	var owner domain.Player
	if err := json.Unmarshal([]byte(doc["owner"]), &owner); err != nil {
		return nil, fmt.Errorf("decode owner: %w", err)
	}

	rawPlayers, err := r.client.LRange(ctx, r.playersKey(id), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("load players: %w", err)
	}
	otherPlayers := make([]domain.Player, 0, len(rawPlayers))
	for _, raw := range rawPlayers {
		var p domain.Player
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return nil, fmt.Errorf("decode player: %w", err)
		}
		otherPlayers = append(otherPlayers, p)
	}

	rawAnswers, err := r.client.HGetAll(ctx, r.answersKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("load answers: %w", err)
	}
	answers := make(map[string][]int, len(rawAnswers))
	for playerID, raw := range rawAnswers {
		var a []int
		if err := json.Unmarshal([]byte(raw), &a); err != nil {
			return nil, fmt.Errorf("decode answers: %w", err)
		}
		answers[playerID] = a
	}

	startedAt, err := parseMillis(doc["startDate"])
	if err != nil {
		return nil, fmt.Errorf("decode start date: %w", err)
	}
	endedAt, err := parseMillis(doc["endDate"])
	if err != nil {
		return nil, fmt.Errorf("decode end date: %w", err)
	}

	quiz, err := r.quizzes.GetQuiz(ctx, doc["quizId"])
	if err != nil {
		return nil, err
	}
	return domain.RestoreLobby(id, doc["name"], quiz, owner, otherPlayers, startedAt, endedAt, answers)
}

func (r *LobbyRepository) UpdateStartDate(ctx context.Context, lobby *domain.Lobby) error {
	start := lobby.StartedAt()
	if start == nil {
		return fmt.Errorf("lobby %s has no start date to persist", lobby.ID())
	}
	set, err := r.client.HSetNX(ctx, r.key(lobby.ID()), "startDate", start.UnixMilli()).Result()
	if err != nil {
		return fmt.Errorf("update start date: %w", err)
	}
	if !set {
		return domain.ErrLobbyAlreadyStarted
	}
	return nil
}

func (r *LobbyRepository) UpdateEndDate(ctx context.Context, lobby *domain.Lobby) error {
	end := lobby.EndedAt()
	if end == nil {
		return fmt.Errorf("lobby %s has no end date to persist", lobby.ID())
	}
	set, err := r.client.HSetNX(ctx, r.key(lobby.ID()), "endDate", end.UnixMilli()).Result()
	if err != nil {
		return fmt.Errorf("update end date: %w", err)
	}
	if !set {
		return domain.ErrLobbyAlreadyEnded
	}
	return nil
}

// AddPlayer appends the player to the stored roster. The display name is
// re-checked inside a WATCH transaction on the players list, so two racing
// joins with the same name cannot both land.
func (r *LobbyRepository) AddPlayer(ctx context.Context, lobby *domain.Lobby, player domain.Player) error {
	playerJSON, err := json.Marshal(player)
	if err != nil {
		return fmt.Errorf("encode player: %w", err)
	}
	if lobby.Owner().Name == player.Name {
		return domain.ErrPlayerNameTaken
	}
	key := r.playersKey(lobby.ID())
	for attempt := 0; attempt < 5; attempt++ {
		err := r.client.Watch(ctx, func(tx *redis.Tx) error {
			raw, err := tx.LRange(ctx, key, 0, -1).Result()
			if err != nil {
				return err
			}
			for _, item := range raw {
				var p domain.Player
				if err := json.Unmarshal([]byte(item), &p); err != nil {
					return fmt.Errorf("decode player: %w", err)
				}
				if p.Name == player.Name {
					return domain.ErrPlayerNameTaken
				}
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.RPush(ctx, key, playerJSON)
				return nil
			})
			return err
		}, key)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, domain.ErrPlayerNameTaken):
			return domain.ErrPlayerNameTaken
		case errors.Is(err, redis.TxFailedErr):
			continue
		default:
			return fmt.Errorf("push player: %w", err)
		}
	}
	return fmt.Errorf("push player: too many conflicting writes on lobby %s", lobby.ID())
}

func (r *LobbyRepository) UpdatePlayerAnswers(ctx context.Context, lobby *domain.Lobby, player domain.Player, answers []int) error {
	answersJSON, err := json.Marshal(answers)
	if err != nil {
		return fmt.Errorf("encode answers: %w", err)
	}
	set, err := r.client.HSetNX(ctx, r.answersKey(lobby.ID()), player.ID, answersJSON).Result()
	if err != nil {
		return fmt.Errorf("update answers: %w", err)
	}
	if !set {
		return domain.ErrAnswersAlreadySubmitted
	}
	return nil
}

// Drop removes every lobby document. Used by tests and tooling.
func (r *LobbyRepository) Drop(ctx context.Context) error {
	ids, err := r.client.SMembers(ctx, r.indexKey()).Result()
	if err != nil {
		return fmt.Errorf("list lobbies: %w", err)
	}
	pipe := r.client.TxPipeline()
	for _, id := range ids {
		pipe.Del(ctx, r.key(id), r.playersKey(id), r.answersKey(id))
	}
	pipe.Del(ctx, r.indexKey())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("drop lobbies: %w", err)
	}
	return nil
}

func (r *LobbyRepository) key(id string) string { return "lobby:" + id }

func (r *LobbyRepository) playersKey(id string) string { return "lobby:" + id + ":players" }

func (r *LobbyRepository) answersKey(id string) string { return "lobby:" + id + ":answers" }

func (r *LobbyRepository) indexKey() string { return "lobbies" }

func parseMillis(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, err
	}
	t := time.UnixMilli(ms)
	return &t, nil
}
