// Package enforce implements the escalation state machine that maps a
// security mode, a user's current tier, and a verdict severity to the next
// tier and the action to take. The transition function is pure: it performs
// no I/O, so every combination is unit-testable in isolation.
package enforce

import (
	"errors"
	"fmt"
	"time"

	"github.com/flushguard/engine/internal/policy"
)

// ErrInvalidMode reports a security mode string outside the defined set.
// The caller surfaces this to the command issuer; state stays unchanged.
var ErrInvalidMode = errors.New("enforce: invalid security mode")

// Mode is a chat's security posture.
type Mode string

const (
	ModeLow     Mode = "low"     // observation: warn only, tiers still advance
	ModeMedium  Mode = "medium"  // progressive restrictions
	ModeExtreme Mode = "extreme" // immediate perm-ban on any violation
)

// DefaultMode is applied to chats with no stored configuration.
const DefaultMode = ModeMedium

// ParseMode validates a mode string. Anything outside the three defined
// values is rejected; no undefined mode is ever applied.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeLow, ModeMedium, ModeExtreme:
		return Mode(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidMode, s)
}

// Tier is a user's position on the per-chat escalation ladder.
type Tier int

const (
	TierNone Tier = iota
	TierWarned
	TierMuted
	TierTempBanned
	TierPermBanned
)

var tierNames = map[Tier]string{
	TierNone:       "none",
	TierWarned:     "warned",
	TierMuted:      "muted",
	TierTempBanned: "temp-banned",
	TierPermBanned: "perm-banned",
}

func (t Tier) String() string {
	if name, ok := tierNames[t]; ok {
		return name
	}
	return "none"
}

// ParseTier maps a stored tier name back to a Tier. Unknown names map to
// TierNone so a corrupt record cannot fabricate a ban.
func ParseTier(s string) Tier {
	for t, name := range tierNames {
		if name == s {
			return t
		}
	}
	return TierNone
}

// ActionKind is the category of enforcement response.
type ActionKind string

const (
	ActionNone    ActionKind = "none"
	ActionWarn    ActionKind = "warn"
	ActionMute    ActionKind = "mute"
	ActionTempBan ActionKind = "temp-ban"
	ActionPermBan ActionKind = "perm-ban"
)

// Action is the enforcement decision for one message. The state machine
// only describes the action; the transport collaborator executes it.
type Action struct {
	Kind          ActionKind    `json:"kind"`
	Duration      time.Duration `json:"duration,omitempty"` // mute and temp-ban only
	Reason        string        `json:"reason"`
	Exempt        bool          `json:"exempt,omitempty"`
	DeleteMessage bool          `json:"delete_message,omitempty"`
}

// Config holds the operationally tunable enforcement parameters. Durations
// and the reset window are deliberately configuration, not constants.
type Config struct {
	// MuteDuration is the fixed mute length in medium mode.
	MuteDuration time.Duration
	// TempBanSchedule holds escalating temp-ban durations, indexed by how
	// many temp-bans the user has already served. The last entry repeats.
	TempBanSchedule []time.Duration
	// ResetWindow is the inactivity period after which a non-terminal tier
	// decays back to none.
	ResetWindow time.Duration
	// AdminDeletionAllowed permits deleting chat-admin messages for
	// critical categories. Lower severities never touch admin content.
	AdminDeletionAllowed bool
}

// DefaultConfig mirrors the operational defaults.
func DefaultConfig() Config {
	return Config{
		MuteDuration: 1 * time.Hour,
		TempBanSchedule: []time.Duration{
			24 * time.Hour,
			72 * time.Hour,
			7 * 24 * time.Hour,
		},
		ResetWindow:          30 * 24 * time.Hour,
		AdminDeletionAllowed: true,
	}
}

// tempBanDuration picks the escalating duration for the nth temp-ban.
func (c Config) tempBanDuration(priorTempBans int) time.Duration {
	if len(c.TempBanSchedule) == 0 {
		return 24 * time.Hour
	}
	if priorTempBans < 0 {
		priorTempBans = 0
	}
	if priorTempBans >= len(c.TempBanSchedule) {
		priorTempBans = len(c.TempBanSchedule) - 1
	}
	return c.TempBanSchedule[priorTempBans]
}

// Next computes the transition for one qualifying violation.
// priorTempBans selects the escalating temp-ban duration; it is the number
// of temp-bans already recorded for this user in this chat.
//
// Severity none never transitions. Critical severity jumps the tier to
// perm-banned from anywhere, in every mode; in low mode the tier still
// jumps but the issued action stays non-restrictive.
func Next(current Tier, mode Mode, sev policy.Severity, priorTempBans int, cfg Config) (Tier, Action) {
	if sev == policy.SeverityNone {
		return current, Action{Kind: ActionNone, Reason: "no violation"}
	}
	if current == TierPermBanned {
		// Terminal: a perm-banned user stays perm-banned. Content is
		// still removed.
		return TierPermBanned, Action{
			Kind:          ActionNone,
			Reason:        "already perm-banned",
			DeleteMessage: true,
		}
	}

	if sev == policy.SeverityCritical {
		act := Action{
			Kind:          ActionPermBan,
			Reason:        "critical violation",
			DeleteMessage: true,
		}
		if mode == ModeLow {
			act.Kind = ActionWarn
			act.Reason = "critical violation (observation mode)"
		}
		return TierPermBanned, act
	}

	switch mode {
	case ModeLow:
		next := current + 1
		if next > TierPermBanned {
			next = TierPermBanned
		}
		return next, Action{
			Kind:   ActionWarn,
			Reason: fmt.Sprintf("%s violation (observation mode)", sev),
		}

	case ModeExtreme:
		return TierPermBanned, Action{
			Kind:          ActionPermBan,
			Reason:        fmt.Sprintf("%s violation under extreme mode", sev),
			DeleteMessage: true,
		}

	default: // medium
		switch current {
		case TierNone:
			return TierWarned, Action{
				Kind:          ActionWarn,
				Reason:        fmt.Sprintf("%s violation", sev),
				DeleteMessage: true,
			}
		case TierWarned:
			return TierMuted, Action{
				Kind:          ActionMute,
				Duration:      cfg.MuteDuration,
				Reason:        "repeat violation",
				DeleteMessage: true,
			}
		case TierMuted:
			return TierTempBanned, Action{
				Kind:          ActionTempBan,
				Duration:      cfg.tempBanDuration(priorTempBans),
				Reason:        "repeat violation while muted",
				DeleteMessage: true,
			}
		default: // TierTempBanned
			return TierPermBanned, Action{
				Kind:          ActionPermBan,
				Reason:        "repeat violation after temp-ban",
				DeleteMessage: true,
			}
		}
	}
}

// Exemption resolves the sudo and admin carve-outs before any transition.
// It returns the action to issue and true when the identity is exempt from
// the normal state machine.
//
// Sudo is exempt from everything, content deletion included. Chat admins
// keep their accounts untouched; their content is deleted only for critical
// categories and only when the configuration flag allows it.
func Exemption(isSudo, isAdmin bool, sev policy.Severity, cfg Config) (Action, bool) {
	if isSudo {
		return Action{Kind: ActionNone, Reason: "sudo exempt", Exempt: true}, true
	}
	if isAdmin {
		act := Action{Kind: ActionNone, Reason: "admin exempt", Exempt: true}
		if sev == policy.SeverityCritical && cfg.AdminDeletionAllowed {
			act.DeleteMessage = true
			act.Reason = "admin exempt, critical content removed"
		}
		return act, true
	}
	return Action{}, false
}
