// Package protocol defines the wire types exchanged over NATS between the
// platform adapters and the moderation engine. All messages are serialized
// as JSON.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// ---------------------------------------------------------------------------
// Inbound stream
// ---------------------------------------------------------------------------

// InboundMessage is one chat message submitted for moderation.
type InboundMessage struct {
	ChatID    int64  `json:"chat_id"`
	UserID    int64  `json:"user_id"`
	MessageID int64  `json:"message_id"`
	Text      string `json:"text"`
	SentAt    int64  `json:"sent_at"` // unix seconds
	IsAdmin   bool   `json:"is_admin,omitempty"`
	IsBot     bool   `json:"is_bot,omitempty"`
	// Replay marks a message re-submitted by the batch sweep; replayed
	// messages never re-enter the backlog.
	Replay bool `json:"replay,omitempty"`
}

// Sent returns the message timestamp as a time.Time.
func (m InboundMessage) Sent() time.Time {
	return time.Unix(m.SentAt, 0)
}

// ParseInbound decodes and validates an inbound message.
func ParseInbound(data []byte) (InboundMessage, error) {
	var m InboundMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return InboundMessage{}, fmt.Errorf("protocol: decode inbound: %w", err)
	}
	if m.ChatID == 0 || m.UserID == 0 {
		return InboundMessage{}, fmt.Errorf("protocol: inbound message missing chat_id or user_id")
	}
	return m, nil
}

// ---------------------------------------------------------------------------
// Outbound actions
// ---------------------------------------------------------------------------

// ActionEvent reports one enforcement decision to the platform adapter,
// which executes the actual delete/mute/ban against the messaging platform.
type ActionEvent struct {
	EventID       string  `json:"event_id"`
	ChatID        int64   `json:"chat_id"`
	UserID        int64   `json:"user_id"`
	MessageID     int64   `json:"message_id"`
	Action        string  `json:"action"` // none|warn|mute|temp-ban|perm-ban
	DurationSec   int64   `json:"duration_sec,omitempty"`
	DeleteMessage bool    `json:"delete_message,omitempty"`
	Category      string  `json:"category"`
	Severity      string  `json:"severity"`
	Source        string  `json:"source"`
	Confidence    float64 `json:"confidence"`
	Reason        string  `json:"reason"`
	Exempt        bool    `json:"exempt,omitempty"`
	NeedsReview   bool    `json:"needs_review,omitempty"`
	DecidedAt     int64   `json:"decided_at"` // unix seconds
}

// ---------------------------------------------------------------------------
// Configuration commands (request/reply)
// ---------------------------------------------------------------------------

// SetModeRequest asks the engine to change one chat's security mode.
type SetModeRequest struct {
	ChatID int64  `json:"chat_id"`
	Mode   string `json:"mode"` // low|medium|extreme
}

// ResetUserRequest asks the engine to clear one user's escalation state,
// including a perm-ban.
type ResetUserRequest struct {
	ChatID int64 `json:"chat_id"`
	UserID int64 `json:"user_id"`
}

// BanUserRequest asks the engine to permanently ban a user manually.
type BanUserRequest struct {
	ChatID int64 `json:"chat_id"`
	UserID int64 `json:"user_id"`
}

// UnbanUserRequest lifts a user's ban while keeping their violation history.
type UnbanUserRequest struct {
	ChatID int64 `json:"chat_id"`
	UserID int64 `json:"user_id"`
}

// StatsRequest asks for one chat's moderation statistics.
type StatsRequest struct {
	ChatID int64 `json:"chat_id"`
}

// StatsReply carries the per-chat statistics surface.
type StatsReply struct {
	ChatID          int64            `json:"chat_id"`
	Mode            string           `json:"mode"`
	ViolationCounts map[string]int64 `json:"violation_counts"`
	ActionCounts    map[string]int64 `json:"action_counts"`
	CacheHitRate    float64          `json:"cache_hit_rate"`
	QuotaUsage      map[string]int64 `json:"quota_usage"` // used per provider
}

// CommandReply is the generic request/reply acknowledgment. Err is empty on
// success.
type CommandReply struct {
	OK  bool   `json:"ok"`
	Err string `json:"err,omitempty"`
}

// ReplyOK encodes a success acknowledgment.
func ReplyOK() []byte {
	data, _ := json.Marshal(CommandReply{OK: true})
	return data
}

// ReplyErr encodes a failure acknowledgment carrying the reason.
func ReplyErr(err error) []byte {
	data, _ := json.Marshal(CommandReply{OK: false, Err: err.Error()})
	return data
}

// Encode marshals any wire struct, wrapping the error with package context.
func Encode(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode %T: %w", v, err)
	}
	return data, nil
}
