package redis

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"quizroom-service/internal/app"
)

// markerTimeout bounds every liveness-marker call, since they run on the
// command path and sometimes under the store lock.
const markerTimeout = 200 * time.Millisecond

// RoomStore is a Redis-aware implementation of app.RoomRepository.
// Notes:
//   - Rooms stay in a local map; all room state and fan-out is in-process.
//   - Redis holds a liveness marker per room (owner as value) with a TTL that
//     is refreshed on lookup at most once per half TTL, so operators can see
//     which rooms a node serves.
type RoomStore struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time

	mu    sync.RWMutex
	rooms map[string]*app.Room

	refreshMu   sync.Mutex
	lastRefresh map[string]time.Time
}

func NewRoomStore(client *redis.Client, ttl time.Duration) *RoomStore {
	return &RoomStore{
		client:      client,
		ttl:         ttl,
		now:         time.Now,
		rooms:       make(map[string]*app.Room),
		lastRefresh: make(map[string]time.Time),
	}
}

func (s *RoomStore) GetOrCreate(roomID string, newRoom func() *app.Room) (*app.Room, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if room, ok := s.rooms[roomID]; ok {
		return room, false
	}
	room := newRoom()
	s.rooms[roomID] = room

	// best-effort liveness marker
	ctx, cancel := context.WithTimeout(context.Background(), markerTimeout)
	defer cancel()
	_ = s.client.Set(ctx, s.key(roomID), room.Owner(), s.ttl).Err()
	s.markRefreshed(roomID)
	return room, true
}

func (s *RoomStore) Get(roomID string) (*app.Room, bool) {
	s.mu.RLock()
	room, ok := s.rooms[roomID]
	s.mu.RUnlock()
	if ok && s.ttl > 0 && s.refreshDue(roomID) {
		ctx, cancel := context.WithTimeout(context.Background(), markerTimeout)
		_ = s.client.Expire(ctx, s.key(roomID), s.ttl).Err()
		cancel()
	}
	return room, ok
}

func (s *RoomStore) ReleaseIfEmpty(roomID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[roomID]
	if !ok {
		return false
	}
	if !room.TryRetire() {
		return false
	}
	delete(s.rooms, roomID)

	s.refreshMu.Lock()
	delete(s.lastRefresh, roomID)
	s.refreshMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), markerTimeout)
	defer cancel()
	_ = s.client.Del(ctx, s.key(roomID)).Err()
	return true
}

// refreshDue reports whether the marker's TTL should be pushed out now and,
// if so, records the refresh.
func (s *RoomStore) refreshDue(roomID string) bool {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()
	now := s.now()
	if last, ok := s.lastRefresh[roomID]; ok && now.Sub(last) < s.ttl/2 {
		return false
	}
	s.lastRefresh[roomID] = now
	return true
}

func (s *RoomStore) markRefreshed(roomID string) {
	s.refreshMu.Lock()
	s.lastRefresh[roomID] = s.now()
	s.refreshMu.Unlock()
}

func (s *RoomStore) key(roomID string) string {
	return "quizroom:room:" + roomID
}
