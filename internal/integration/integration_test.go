package integration

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"
	"go.uber.org/zap"

	"quizroom-service/internal/app"
	"quizroom-service/internal/domain"
	pgloader "quizroom-service/internal/infra/postgres"
	pgmigrations "quizroom-service/internal/infra/postgres/migrations"
	infraredis "quizroom-service/internal/infra/redis"
)

func TestQuizRoundEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	migrateSchema(t, ctx, pgURL)

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()

	loader := pgloader.NewBankLoader(pool)
	if err := loader.SaveBank(ctx, sampleBank()); err != nil {
		t.Fatalf("seed bank: %v", err)
	}
	if _, err := loader.LoadBank(ctx, "missing"); !errors.Is(err, domain.ErrQuizNotFound) {
		t.Fatalf("expected quiz not found for unknown bank, got %v", err)
	}

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	defer redisClient.Close()

	banks := infraredis.NewBankRepository(redisClient, loader, 5*time.Minute)
	rooms := infraredis.NewRoomStore(redisClient, 5*time.Minute)
	service := app.NewRoomService(rooms, banks, zap.NewNop(), app.Options{GracePeriod: time.Minute})

	owner := &sink{}
	player := &sink{}
	ownerJoin, err := service.Join(ctx, "room-1", domain.Identity{ParticipantID: "owner", OwnedRooms: []string{"room-1"}}, owner)
	if err != nil {
		t.Fatalf("owner join: %v", err)
	}
	playerJoin, err := service.Join(ctx, "room-1", domain.Identity{ParticipantID: "p1", Name: "Pat"}, player)
	if err != nil {
		t.Fatalf("player join: %v", err)
	}

	if n, err := redisClient.Exists(ctx, "quizroom:room:room-1", "quizroom:bank:room-1").Result(); err != nil || n != 2 {
		t.Fatalf("expected room and bank keys in redis, got %d (%v)", n, err)
	}

	steps := []struct {
		who    string
		connID string
		cmd    domain.Command
		data   string
	}{
		{"owner", ownerJoin.ConnID, domain.CmdGetNextQuiz, ""},
		{"p1", playerJoin.ConnID, domain.CmdReceivedQuiz, ""},
		{"owner", ownerJoin.ConnID, domain.CmdStartAnswer, ""},
		{"p1", playerJoin.ConnID, domain.CmdAnswerQuiz, `"4"`},
		{"owner", ownerJoin.ConnID, domain.CmdStopAnswer, ""},
		{"owner", ownerJoin.ConnID, domain.CmdGetAnswers, ""},
		{"owner", ownerJoin.ConnID, domain.CmdSendResult, `{"p1": 1}`},
	}
	for _, s := range steps {
		var data json.RawMessage
		if s.data != "" {
			data = json.RawMessage(s.data)
		}
		if err := service.Dispatch(ctx, "room-1", s.who, s.connID, s.cmd, data); err != nil {
			t.Fatalf("%s by %s: %v", s.cmd, s.who, err)
		}
	}

	quiz := owner.find(domain.EvtSentNextQuiz)
	if quiz == nil || string(quiz.CorrectAnswer) != `"4"` {
		t.Fatalf("expected owner to receive the stored correct answer, got %+v", quiz)
	}
	result := player.find(domain.EvtShareResult)
	if result == nil || !*result.IsEnded {
		t.Fatalf("expected the single-question bank to end, got %+v", result)
	}
	scores := result.Data.([]domain.ScoreEntry)
	if len(scores) != 2 || scores[1].ParticipantID != "p1" || scores[1].Score != 1 {
		t.Fatalf("unexpected scores: %+v", scores)
	}
}

type sink struct {
	mu     sync.Mutex
	events []domain.Event
}

func (s *sink) Deliver(ev domain.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return true
}

func (s *sink) Close() {}

func (s *sink) find(typ domain.EventType) *domain.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.events) - 1; i >= 0; i-- {
		if s.events[i].Type == typ {
			ev := s.events[i]
			return &ev
		}
	}
	return nil
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "quiz", "POSTGRES_PASSWORD": "quizpass", "POSTGRES_DB": "quizdb"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start postgres: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://quiz:quizpass@%s:%s/quizdb?sslmode=disable", host, port.Port())
	return dsn, func() {
		_ = container.Terminate(ctx)
	}
}

func startRedis(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start redis: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	url := fmt.Sprintf("redis://%s:%s", host, port.Port())
	return url, func() {
		_ = container.Terminate(ctx)
	}
}

func migrateSchema(t *testing.T, ctx context.Context, dsn string) {
	t.Helper()
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	defer db.Close()

	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("migrator init: %v", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
}

func sampleBank() domain.QuizBank {
	return domain.QuizBank{
		ID:          "room-1",
		Name:        "Arithmetic",
		MaxQuestion: 1,
		Quizzes: []domain.BankEntry{
			{ID: "q1", Prompt: json.RawMessage(`"What is 2 + 2?"`), Answer: json.RawMessage(`"4"`)},
		},
	}
}

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	}), nil
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
