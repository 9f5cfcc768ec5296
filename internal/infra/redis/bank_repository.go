package redis

import (
	"context"
	"encoding/json"
	"math/rand"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"quizroom-service/internal/domain"
)

// BankLoader fetches a room's quiz bank from a backing store (e.g., Postgres).
type BankLoader interface {
	LoadBank(ctx context.Context, roomID string) (domain.QuizBank, error)
}

// BankRepository caches quiz banks in Redis and falls back to a loader on cache miss.
// Banks are stored as JSON: SET quizroom:bank:{roomID} {json} EX ttl
type BankRepository struct {
	client *redis.Client
	loader BankLoader
	ttl    time.Duration
	sf     singleflight.Group

	rndMu sync.Mutex
	rnd   *rand.Rand
}

func NewBankRepository(client *redis.Client, loader BankLoader, ttl time.Duration) *BankRepository {
	return &BankRepository{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *BankRepository) GetBank(ctx context.Context, roomID string) (domain.QuizBank, error) {
	if bank, ok := r.cached(ctx, roomID); ok {
		return bank, nil
	}

	result, err, _ := r.sf.Do(roomID, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if bank, ok := r.cached(ctx, roomID); ok {
			return bank, nil
		}

		bank, err := r.loader.LoadBank(ctx, roomID)
		if err != nil {
			return domain.QuizBank{}, err
		}

		if raw, err := json.Marshal(bank); err == nil {
			_ = r.client.Set(ctx, r.key(roomID), raw, r.ttlWithJitter()).Err()
		}
		return bank, nil
	})
	if err != nil {
		return domain.QuizBank{}, err
	}
	return result.(domain.QuizBank), nil
}

// Invalidate drops the cached bank so the next lookup hits the loader.
func (r *BankRepository) Invalidate(ctx context.Context, roomID string) error {
	return r.client.Del(ctx, r.key(roomID)).Err()
}

func (r *BankRepository) cached(ctx context.Context, roomID string) (domain.QuizBank, bool) {
	raw, err := r.client.Get(ctx, r.key(roomID)).Bytes()
	if err != nil {
		return domain.QuizBank{}, false
	}
	var bank domain.QuizBank
	if err := json.Unmarshal(raw, &bank); err != nil {
		return domain.QuizBank{}, false
	}
	return bank, true
}

func (r *BankRepository) key(roomID string) string {
	return "quizroom:bank:" + roomID
}

func (r *BankRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	jitterMax := int64(r.ttl) / 10
	r.rndMu.Lock()
	defer r.rndMu.Unlock()
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}
