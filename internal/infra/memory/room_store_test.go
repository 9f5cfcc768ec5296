package memory

import (
	"sync"
	"testing"

	"quizroom-service/internal/app"
)

func TestRoomStoreLifecycle(t *testing.T) {
	store := NewRoomStore()

	room, created := store.GetOrCreate("room-1", func() *app.Room {
		return app.NewRoom("room-1", "owner", nil, app.RoomOptions{})
	})
	if room == nil || !created {
		t.Fatalf("expected room to be created")
	}
	if _, ok := store.Get("room-1"); !ok {
		t.Fatalf("expected room present")
	}

	again, created := store.GetOrCreate("room-1", func() *app.Room {
		t.Fatalf("factory must not run for an existing room")
		return nil
	})
	if created || again != room {
		t.Fatalf("expected the same room instance")
	}

	if !store.ReleaseIfEmpty("room-1") {
		t.Fatalf("expected seatless room to be released")
	}
	if _, ok := store.Get("room-1"); ok {
		t.Fatalf("expected room removed when empty")
	}
}

func TestRoomStoreConcurrentCreateYieldsOneRoom(t *testing.T) {
	store := NewRoomStore()

	var wg sync.WaitGroup
	rooms := make([]*app.Room, 32)
	for i := range rooms {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rooms[i], _ = store.GetOrCreate("room-1", func() *app.Room {
				return app.NewRoom("room-1", "owner", nil, app.RoomOptions{})
			})
		}(i)
	}
	wg.Wait()

	for _, room := range rooms {
		if room != rooms[0] {
			t.Fatalf("expected a single room instance")
		}
	}
	if store.Len() != 1 {
		t.Fatalf("expected 1 room, got %d", store.Len())
	}
}
