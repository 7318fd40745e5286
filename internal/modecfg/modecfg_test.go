package modecfg

import (
	"context"
	"errors"
	"testing"

	"github.com/redis/go-redis/v9"

	"github.com/flushguard/engine/internal/enforce"
)

type memModeStore struct {
	modes map[int64]enforce.Mode
	fail  bool
	loads int
}

func newMemModeStore() *memModeStore {
	return &memModeStore{modes: make(map[int64]enforce.Mode)}
}

func (s *memModeStore) LoadMode(ctx context.Context, chatID int64) (enforce.Mode, bool, error) {
	if s.fail {
		return "", false, errors.New("store down")
	}
	s.loads++
	mode, ok := s.modes[chatID]
	return mode, ok, nil
}

func (s *memModeStore) SaveMode(ctx context.Context, chatID int64, mode enforce.Mode) error {
	if s.fail {
		return errors.New("store down")
	}
	s.modes[chatID] = mode
	return nil
}

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	t.Cleanup(func() {
		keys, _ := client.Keys(context.Background(), ModePrefix+"9009*").Result()
		if len(keys) > 0 {
			client.Del(context.Background(), keys...)
		}
		client.Close()
	})
	return client
}

func TestDefaultModeWithoutConfig(t *testing.T) {
	m := NewManager(nil, newMemModeStore())
	if mode := m.Mode(context.Background(), 1); mode != enforce.DefaultMode {
		t.Errorf("mode = %s, want default %s", mode, enforce.DefaultMode)
	}
}

func TestSetModeRejectsInvalid(t *testing.T) {
	store := newMemModeStore()
	m := NewManager(nil, store)
	ctx := context.Background()

	if err := m.SetMode(ctx, 1, "paranoid"); !errors.Is(err, enforce.ErrInvalidMode) {
		t.Fatalf("expected ErrInvalidMode, got %v", err)
	}
	if len(store.modes) != 0 {
		t.Error("invalid mode was persisted")
	}
}

func TestSetModeRoundTrip(t *testing.T) {
	store := newMemModeStore()
	m := NewManager(nil, store)
	ctx := context.Background()

	if err := m.SetMode(ctx, 1, "extreme"); err != nil {
		t.Fatalf("SetMode: %v", err)
	}
	if mode := m.Mode(ctx, 1); mode != enforce.ModeExtreme {
		t.Errorf("mode = %s, want extreme", mode)
	}
}

func TestStoreOutageDegradesToDefault(t *testing.T) {
	store := newMemModeStore()
	store.fail = true
	m := NewManager(nil, store)

	if mode := m.Mode(context.Background(), 1); mode != enforce.DefaultMode {
		t.Errorf("mode during outage = %s, want default", mode)
	}
}

func TestCacheServesRepeatReads(t *testing.T) {
	client := newTestRedis(t)
	store := newMemModeStore()
	m := NewManager(client, store)
	ctx := context.Background()

	const chatID = 90091
	client.Del(ctx, modeKey(chatID))

	if err := m.SetMode(ctx, chatID, "low"); err != nil {
		t.Fatalf("SetMode: %v", err)
	}

	// First read populates the cache, second is served from it.
	m.Mode(ctx, chatID)
	loadsAfterFirst := store.loads
	if mode := m.Mode(ctx, chatID); mode != enforce.ModeLow {
		t.Errorf("mode = %s, want low", mode)
	}
	if store.loads != loadsAfterFirst {
		t.Errorf("second read hit the store (%d loads)", store.loads)
	}
}

func TestSetModeInvalidatesCache(t *testing.T) {
	client := newTestRedis(t)
	store := newMemModeStore()
	m := NewManager(client, store)
	ctx := context.Background()

	const chatID = 90092
	client.Del(ctx, modeKey(chatID))

	m.SetMode(ctx, chatID, "low")
	m.Mode(ctx, chatID) // warm the cache

	if err := m.SetMode(ctx, chatID, "extreme"); err != nil {
		t.Fatalf("SetMode: %v", err)
	}
	if mode := m.Mode(ctx, chatID); mode != enforce.ModeExtreme {
		t.Errorf("mode after update = %s, want extreme", mode)
	}
}
