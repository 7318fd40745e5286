// Package transport holds the engine's collaborator surfaces toward the
// messaging platform: emitting enforcement actions and resolving the sudo
// identity. The engine never talks to the platform directly; an adapter
// consumes the action subjects and executes deletes, mutes, and bans.
package transport

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/flushguard/engine/internal/messaging"
	"github.com/flushguard/engine/internal/protocol"
)

// Emitter publishes enforcement actions for platform adapters to execute.
type Emitter interface {
	EmitAction(ctx context.Context, ev protocol.ActionEvent) error
}

// Directory resolves privileged identities.
type Directory interface {
	// IsSudo reports whether the user is the globally exempt operator
	// identity.
	IsSudo(userID int64) bool
}

// NATSEmitter publishes actions to the per-chat action subject.
type NATSEmitter struct {
	client *messaging.NATSClient
}

// NewNATSEmitter wraps a NATS client as an Emitter.
func NewNATSEmitter(client *messaging.NATSClient) *NATSEmitter {
	return &NATSEmitter{client: client}
}

// EmitAction publishes the action event to moderation.action.<chat_id>.
func (e *NATSEmitter) EmitAction(ctx context.Context, ev protocol.ActionEvent) error {
	data, err := protocol.Encode(ev)
	if err != nil {
		return err
	}
	chatID := strconv.FormatInt(ev.ChatID, 10)
	if err := e.client.PublishAction(chatID, data); err != nil {
		return fmt.Errorf("transport: publish action chat=%s: %w", chatID, err)
	}
	return nil
}

// SudoSet is a Directory backed by a fixed set of operator user IDs,
// typically loaded from the environment at startup.
type SudoSet map[int64]bool

// IsSudo reports membership in the operator set.
func (s SudoSet) IsSudo(userID int64) bool {
	return s[userID]
}

// ParseSudoIDs parses a comma-separated list of operator user IDs.
func ParseSudoIDs(raw string) SudoSet {
	return SudoSet(parseIDList(raw, "sudo"))
}

// AllowSet is an allow-list of bot user IDs whose messages are not
// moderated. Bots outside the set get their messages deleted.
type AllowSet map[int64]bool

// Allowed reports membership in the allow-list.
func (s AllowSet) Allowed(userID int64) bool {
	return s[userID]
}

// ParseBotIDs parses a comma-separated list of allow-listed bot user IDs.
func ParseBotIDs(raw string) AllowSet {
	return AllowSet(parseIDList(raw, "bot"))
}

// parseIDList splits a comma-separated ID list. Malformed entries are
// logged and skipped rather than failing startup.
func parseIDList(raw, kind string) map[int64]bool {
	set := make(map[int64]bool)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			log.Printf("[transport] skipping malformed %s id %q: %v", kind, part, err)
			continue
		}
		set[id] = true
	}
	return set
}
