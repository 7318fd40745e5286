// Package modecfg manages per-chat security modes. Reads go through a
// Redis cache in front of the durable store so the hot path of every
// message avoids a database round trip; writes invalidate the cache entry.
package modecfg

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/flushguard/engine/internal/enforce"
)

// ModePrefix is the Redis key prefix for cached chat modes.
const ModePrefix = "mode:"

// cacheTTL bounds staleness if an invalidation is lost.
const cacheTTL = 10 * time.Minute

// Store is the durable persistence for chat modes.
type Store interface {
	LoadMode(ctx context.Context, chatID int64) (enforce.Mode, bool, error)
	SaveMode(ctx context.Context, chatID int64, mode enforce.Mode) error
}

// Manager resolves and updates chat security modes.
type Manager struct {
	client *redis.Client
	store  Store
}

// NewManager creates a Manager. client may be nil to disable caching.
func NewManager(client *redis.Client, store Store) *Manager {
	return &Manager{client: client, store: store}
}

func modeKey(chatID int64) string {
	return ModePrefix + strconv.FormatInt(chatID, 10)
}

// Mode returns the chat's security mode: cache, then store, then the
// default. Cache and store failures degrade to the next layer; resolving a
// mode never fails.
func (m *Manager) Mode(ctx context.Context, chatID int64) enforce.Mode {
	if m.client != nil {
		raw, err := m.client.Get(ctx, modeKey(chatID)).Result()
		if err == nil {
			if mode, perr := enforce.ParseMode(raw); perr == nil {
				return mode
			}
		} else if !errors.Is(err, redis.Nil) {
			log.Printf("[modecfg] cache get chat=%d: %v", chatID, err)
		}
	}

	if m.store != nil {
		mode, found, err := m.store.LoadMode(ctx, chatID)
		if err != nil {
			log.Printf("[modecfg] load chat=%d: %v", chatID, err)
			return enforce.DefaultMode
		}
		if found {
			m.cache(ctx, chatID, mode)
			return mode
		}
	}
	return enforce.DefaultMode
}

// SetMode validates and persists a chat's mode. Invalid mode strings are
// rejected with ErrInvalidMode and leave state unchanged.
func (m *Manager) SetMode(ctx context.Context, chatID int64, raw string) error {
	mode, err := enforce.ParseMode(raw)
	if err != nil {
		return err
	}
	if m.store != nil {
		if err := m.store.SaveMode(ctx, chatID, mode); err != nil {
			return fmt.Errorf("modecfg: persist chat=%d: %w", chatID, err)
		}
	}
	// Drop rather than overwrite so a racing read repopulates from the
	// store it just observed.
	if m.client != nil {
		if err := m.client.Del(ctx, modeKey(chatID)).Err(); err != nil {
			log.Printf("[modecfg] cache invalidate chat=%d: %v", chatID, err)
		}
	}
	return nil
}

func (m *Manager) cache(ctx context.Context, chatID int64, mode enforce.Mode) {
	if m.client == nil {
		return
	}
	if err := m.client.Set(ctx, modeKey(chatID), string(mode), cacheTTL).Err(); err != nil {
		log.Printf("[modecfg] cache set chat=%d: %v", chatID, err)
	}
}
