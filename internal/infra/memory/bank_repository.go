package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"quizroom-service/internal/domain"
)

// BankLoader fetches a room's quiz bank from a backing store (e.g., Postgres).
type BankLoader interface {
	LoadBank(ctx context.Context, roomID string) (domain.QuizBank, error)
}

// BankRepository caches quiz banks with TTL to avoid repeated DB hits.
type BankRepository struct {
	loader BankLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group
	rnd    *rand.Rand

	mu    sync.RWMutex
	cache map[string]cachedBank
}

type cachedBank struct {
	bank      domain.QuizBank
	expiresAt time.Time
}

func NewBankRepository(loader BankLoader, ttl time.Duration) *BankRepository {
	return &BankRepository{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[string]cachedBank),
	}
}

func (r *BankRepository) GetBank(ctx context.Context, roomID string) (domain.QuizBank, error) {
	if bank, ok := r.cached(roomID); ok {
		return bank, nil
	}

	result, err, _ := r.sf.Do(roomID, func() (interface{}, error) {
		if bank, ok := r.cached(roomID); ok {
			return bank, nil
		}

		bank, err := r.loader.LoadBank(ctx, roomID)
		if err != nil {
			return domain.QuizBank{}, err
		}

		expiresAt := r.clock().Add(r.ttlWithJitter())
		r.mu.Lock()
		r.cache[roomID] = cachedBank{bank: bank, expiresAt: expiresAt}
		r.mu.Unlock()
		return bank, nil
	})
	if err != nil {
		return domain.QuizBank{}, err
	}
	return result.(domain.QuizBank), nil
}

func (r *BankRepository) cached(roomID string) (domain.QuizBank, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.cache[roomID]
	if !ok || !entry.expiresAt.After(r.clock()) {
		return domain.QuizBank{}, false
	}
	return entry.bank, true
}

// ttlWithJitter adds up to 10% jitter to spread expirations.
// rand.Rand is not safe for concurrent use, so it shares the cache mutex.
func (r *BankRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	jitterMax := int64(r.ttl) / 10
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}

// StaticBankLoader is a loader backed by an in-memory map (useful for tests/demos).
type StaticBankLoader struct {
	banks map[string]domain.QuizBank
}

func NewStaticBankLoader(banks map[string]domain.QuizBank) *StaticBankLoader {
	return &StaticBankLoader{banks: banks}
}

func (l *StaticBankLoader) LoadBank(_ context.Context, roomID string) (domain.QuizBank, error) {
	if bank, ok := l.banks[roomID]; ok {
		return bank, nil
	}
	return domain.QuizBank{}, domain.ErrQuizNotFound
}
