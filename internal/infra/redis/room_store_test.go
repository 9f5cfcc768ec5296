package redis

import (
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"quizroom-service/internal/app"
)

func TestRoomStoreSetsAndClearsKeys(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	store := NewRoomStore(newClient(mr), time.Minute)
	now := time.Date(2024, 11, 22, 9, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	_, created := store.GetOrCreate("room-1", func() *app.Room {
		return app.NewRoom("room-1", "owner-1", nil, app.RoomOptions{})
	})
	if !created {
		t.Fatalf("expected room to be created")
	}
	if !mr.Exists("quizroom:room:room-1") {
		t.Fatalf("expected redis key to be set")
	}
	if got, _ := mr.Get("quizroom:room:room-1"); got != "owner-1" {
		t.Fatalf("expected owner marker, got %q", got)
	}

	mr.FastForward(30 * time.Second)
	now = now.Add(30 * time.Second)
	if _, ok := store.Get("room-1"); !ok {
		t.Fatalf("expected room present")
	}
	if ttl := mr.TTL("quizroom:room:room-1"); ttl != time.Minute {
		t.Fatalf("expected ttl refreshed to 1m, got %v", ttl)
	}

	if !store.ReleaseIfEmpty("room-1") {
		t.Fatalf("expected seatless room released")
	}
	if mr.Exists("quizroom:room:room-1") {
		t.Fatalf("expected redis key to be removed")
	}
}

func TestRoomStoreThrottlesRefresh(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	store := NewRoomStore(newClient(mr), time.Minute)
	now := time.Date(2024, 11, 22, 9, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	store.GetOrCreate("room-1", func() *app.Room {
		return app.NewRoom("room-1", "owner-1", nil, app.RoomOptions{})
	})

	// Lookups inside the first half of the TTL leave the marker alone.
	mr.FastForward(10 * time.Second)
	now = now.Add(10 * time.Second)
	for i := 0; i < 5; i++ {
		if _, ok := store.Get("room-1"); !ok {
			t.Fatalf("expected room present")
		}
	}
	if ttl := mr.TTL("quizroom:room:room-1"); ttl != 50*time.Second {
		t.Fatalf("expected ttl untouched at 50s, got %v", ttl)
	}

	mr.FastForward(25 * time.Second)
	now = now.Add(25 * time.Second)
	store.Get("room-1")
	if ttl := mr.TTL("quizroom:room:room-1"); ttl != time.Minute {
		t.Fatalf("expected ttl refreshed after half the ttl, got %v", ttl)
	}
}

func TestRoomStoreToleratesRedisOutage(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	store := NewRoomStore(newClient(mr), time.Minute)
	mr.Close()

	start := time.Now()
	_, created := store.GetOrCreate("room-1", func() *app.Room {
		return app.NewRoom("room-1", "owner-1", nil, app.RoomOptions{})
	})
	if !created {
		t.Fatalf("expected room to be created without redis")
	}
	if _, ok := store.Get("room-1"); !ok {
		t.Fatalf("expected room served from memory")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("marker calls should be bounded, took %v", elapsed)
	}
}
