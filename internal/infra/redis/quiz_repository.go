package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"quiz-lobby-service/internal/domain"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// QuizStore is the backing store for quiz content (Postgres in production).
type QuizStore interface {
	LoadQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
	SaveQuiz(ctx context.Context, quiz domain.Quiz) (string, error)
	ListQuizzes(ctx context.Context) ([]domain.Quiz, error)
}

// QuizRepository caches whole quiz documents in Redis (one JSON value per
// quiz) and falls back to the store on cache miss, collapsing concurrent
// misses with singleflight.
type QuizRepository struct {
	client *redis.Client
	store  QuizStore
	ttl    time.Duration
	sf     singleflight.Group
	rnd    *rand.Rand
}

func NewQuizRepository(client *redis.Client, store QuizStore, ttl time.Duration) *QuizRepository {
	return &QuizRepository{
		client: client,
		store:  store,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *QuizRepository) GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	if quiz, ok, err := r.fromCache(ctx, quizID); err != nil {
		return domain.Quiz{}, err
	} else if ok {
		return quiz, nil
	}

	result, err, _ := r.sf.Do(quizID, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if quiz, ok, err := r.fromCache(ctx, quizID); err != nil {
			return domain.Quiz{}, err
		} else if ok {
			return quiz, nil
		}

		quiz, err := r.store.LoadQuiz(ctx, quizID)
		if err != nil {
			return domain.Quiz{}, err
		}
		if err := r.fill(ctx, quiz); err != nil {
			return domain.Quiz{}, err
		}
		return quiz, nil
	})
	if err != nil {
		return domain.Quiz{}, err
	}
	return result.(domain.Quiz), nil
}

// AddQuiz writes through to the store and primes the cache.
func (r *QuizRepository) AddQuiz(ctx context.Context, quiz domain.Quiz) (string, error) {
	id, err := r.store.SaveQuiz(ctx, quiz)
	if err != nil {
		return "", err
	}
	quiz.ID = id
	if err := r.fill(ctx, quiz); err != nil {
		return "", err
	}
	return id, nil
}

// ListQuizzes goes straight to the store; the cache only indexes by id.
func (r *QuizRepository) ListQuizzes(ctx context.Context) ([]domain.Quiz, error) {
	return r.store.ListQuizzes(ctx)
}

func (r *QuizRepository) fromCache(ctx context.Context, quizID string) (domain.Quiz, bool, error) {
	raw, err := r.client.Get(ctx, r.key(quizID)).Result()
	if errors.Is(err, redis.Nil) {
		return domain.Quiz{}, false, nil
	}
	if err != nil {
		return domain.Quiz{}, false, fmt.Errorf("read quiz cache: %w", err)
	}
	quiz := domain.Quiz{ID: quizID}
	if err := json.Unmarshal([]byte(raw), &quiz); err != nil {
		return domain.Quiz{}, false, fmt.Errorf("decode cached quiz: %w", err)
	}
	return quiz, true, nil
}

func (r *QuizRepository) fill(ctx context.Context, quiz domain.Quiz) error {
	data, err := json.Marshal(quiz)
	if err != nil {
		return fmt.Errorf("encode quiz: %w", err)
	}
	if err := r.client.Set(ctx, r.key(quiz.ID), data, r.ttlWithJitter()).Err(); err != nil {
		return fmt.Errorf("cache quiz: %w", err)
	}
	return nil
}

func (r *QuizRepository) key(quizID string) string { return "quiz:" + quizID }

func (r *QuizRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}
