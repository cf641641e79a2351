package cli

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"quiz-lobby-service/internal/app"
	"quiz-lobby-service/internal/config"
	"quiz-lobby-service/internal/domain"
	"quiz-lobby-service/internal/infra/memory"
	pgstore "quiz-lobby-service/internal/infra/postgres"
	redisstore "quiz-lobby-service/internal/infra/redis"
	transport "quiz-lobby-service/internal/transport/http"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the quiz lobby server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
	}

	var quizStore memory.QuizStore = memory.NewStaticQuizStore(sampleQuizzes())
	if pool != nil {
		quizStore = pgstore.NewQuizStore(pool)
	}

	quizTTL := config.Duration(cfg.Quiz.TTL, 10*time.Minute)
	var quizRepo app.QuizRepository
	if redisClient != nil {
		quizRepo = redisstore.NewQuizRepository(redisClient, quizStore, quizTTL)
	} else {
		quizRepo = memory.NewQuizRepository(quizStore, quizTTL)
	}

	var lobbyRepo app.LobbyRepository
	if redisClient != nil {
		lobbyRepo = redisstore.NewLobbyRepository(redisClient, quizRepo)
	} else {
		lobbyRepo = memory.NewLobbyRepository(quizRepo)
	}

	lobbyDuration := config.Duration(cfg.Lobby.Duration, 20*time.Minute)
	hub := transport.NewHub()
	scheduler := app.NewEndScheduler()
	service := app.NewLobbyService(lobbyRepo, quizRepo, hub, scheduler, lobbyDuration)

	wsHandler := transport.NewWSHandler(lobbyRepo, hub)
	lobbyHandler := transport.NewLobbyHandler(service, quizRepo)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws", wsHandler.ServeWS)
	lobbyHandler.Register(mux)

	server := &http.Server{
		Addr:        ":" + finalPort,
		Handler:     mux,
		ReadTimeout: 15 * time.Second,
	}

	go func() {
		log.Printf("starting quiz lobby service on :%s", finalPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("failed to start server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Println("shutting down server...")
	case <-ctx.Done():
		log.Println("context canceled, shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}

	// Wait out in-flight sessions before releasing storage resources; lobbies
	// that already started still get their end persisted and broadcast.
	drainCtx, cancelDrain := context.WithTimeout(context.Background(), lobbyDuration+5*time.Second)
	defer cancelDrain()
	if err := scheduler.WaitIdle(drainCtx); err != nil {
		log.Printf("timer registry not quiescent at shutdown: %v", err)
	}

	if pool != nil {
		pool.Close()
	}
	if redisClient != nil {
		_ = redisClient.Close()
	}
	return nil
}

// sampleQuizzes seeds a minimal quiz when no Postgres is configured.
func sampleQuizzes() map[string]domain.Quiz {
	q1, _ := domain.NewMultipleChoiceQuestion("What is 2 + 2?", []string{"3", "4", "5"}, 1)
	q2, _ := domain.NewMultipleChoiceQuestion("Which planet is closest to the sun?", []string{"Venus", "Mercury", "Mars"}, 1)
	quiz, _ := domain.NewQuiz("sample quiz", []domain.Question{q1, q2})
	quiz.ID = "quiz-1"
	return map[string]domain.Quiz{"quiz-1": quiz}
}
