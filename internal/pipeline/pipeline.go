// Package pipeline orchestrates moderation of one message: exemption
// checks, cached verdict lookup, rule evaluation, AI classification, ledger
// update, and the enforcement decision. Processing never fails upward; any
// classifier outage degrades to a conservative rule-only verdict so every
// message receives a terminal decision.
package pipeline

import (
	"context"
	"log"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/flushguard/engine/internal/enforce"
	"github.com/flushguard/engine/internal/ledger"
	"github.com/flushguard/engine/internal/metrics"
	"github.com/flushguard/engine/internal/policy"
	"github.com/flushguard/engine/internal/protocol"
	"github.com/flushguard/engine/internal/ratelimit"
	"github.com/flushguard/engine/internal/store"
	"github.com/flushguard/engine/internal/transport"
)

// Cache is the verdict cache collaborator.
type Cache interface {
	Lookup(ctx context.Context, fingerprint string) (policy.Verdict, bool)
	Store(ctx context.Context, fingerprint string, v policy.Verdict)
}

// Classifier is the AI gateway collaborator.
type Classifier interface {
	Classify(ctx context.Context, text string) (policy.Verdict, error)
}

// Modes resolves a chat's security mode.
type Modes interface {
	Mode(ctx context.Context, chatID int64) enforce.Mode
}

// AuditLog records issued actions for statistics and review.
type AuditLog interface {
	AppendAction(ctx context.Context, e store.ActionEntry) error
}

// Backlog stores messages whose classification was inconclusive for later
// sweep analysis.
type Backlog interface {
	EnqueueBacklog(ctx context.Context, m store.BacklogMessage) error
}

// NoticeLimiter throttles visible enforcement notices.
type NoticeLimiter interface {
	Allow(ctx context.Context, identifier string, rule ratelimit.Rule) (bool, error)
}

// BotDirectory resolves allow-listed bot identities.
type BotDirectory interface {
	Allowed(userID int64) bool
}

// Pipeline wires the moderation stages together. All collaborators except
// engine, ledger, and modes are optional; nil disables the stage.
type Pipeline struct {
	Engine  *policy.Engine
	Tracker *policy.Tracker
	Cache   Cache
	Gateway Classifier
	Modes   Modes
	Ledger  *ledger.Ledger
	Sudo    transport.Directory
	Bots    BotDirectory
	Emitter transport.Emitter
	Audit   AuditLog
	Backlog Backlog
	Limiter NoticeLimiter
	Config  enforce.Config

	processed  atomic.Int64
	cacheHits  atomic.Int64
	cacheMiss  atomic.Int64
	violations atomic.Int64
}

// Process moderates one message and returns the decided action event. It
// never returns an error; infrastructure failures degrade to conservative
// behavior and are logged.
func (p *Pipeline) Process(ctx context.Context, m protocol.InboundMessage) protocol.ActionEvent {
	p.processed.Add(1)
	start := time.Now()

	ev := protocol.ActionEvent{
		EventID:   uuid.NewString(),
		ChatID:    m.ChatID,
		UserID:    m.UserID,
		MessageID: m.MessageID,
		Action:    string(enforce.ActionNone),
		DecidedAt: time.Now().Unix(),
	}

	// Sudo authors bypass classification entirely and never occupy quota.
	if p.Sudo != nil && p.Sudo.IsSudo(m.UserID) {
		metrics.MessagesTotal.WithLabelValues("exempt").Inc()
		ev.Exempt = true
		ev.Reason = "sudo exempt"
		ev.Category = string(policy.CategoryNone)
		ev.Severity = policy.SeverityNone.String()
		return ev
	}

	// Allow-listed bots are not moderated. Any other bot's message is
	// removed without touching escalation state.
	if m.IsBot {
		ev.Category = string(policy.CategoryNone)
		ev.Severity = policy.SeverityNone.String()
		if p.Bots != nil && !p.Bots.Allowed(m.UserID) {
			metrics.MessagesTotal.WithLabelValues("violation").Inc()
			ev.DeleteMessage = true
			ev.Reason = "unauthorized bot"
			ev.Source = string(policy.SourceRule)
			p.emit(ctx, ev, enforce.Action{Kind: enforce.ActionNone, DeleteMessage: true, Reason: ev.Reason})
			return ev
		}
		metrics.MessagesTotal.WithLabelValues("exempt").Inc()
		ev.Exempt = true
		ev.Reason = "bot message"
		return ev
	}

	// Commands, bare links, mentions, and empty messages skip
	// classification.
	if policy.Exempt(m.Text) {
		metrics.MessagesTotal.WithLabelValues("clean").Inc()
		ev.Category = string(policy.CategoryNone)
		ev.Severity = policy.SeverityNone.String()
		ev.Source = string(policy.SourceRule)
		return ev
	}

	verdict := p.classify(ctx, m)
	metrics.VerdictsTotal.WithLabelValues(string(verdict.Source), verdict.Severity.String()).Inc()
	metrics.ClassifyLatency.WithLabelValues(string(verdict.Source)).Observe(time.Since(start).Seconds())

	ev.Category = string(verdict.Category)
	ev.Severity = verdict.Severity.String()
	ev.Source = string(verdict.Source)
	ev.Confidence = verdict.Confidence
	ev.NeedsReview = verdict.NeedsReview

	if !verdict.Violating() {
		metrics.MessagesTotal.WithLabelValues("clean").Inc()
		return ev
	}
	p.violations.Add(1)
	metrics.MessagesTotal.WithLabelValues("violation").Inc()

	mode := enforce.DefaultMode
	if p.Modes != nil {
		mode = p.Modes.Mode(ctx, m.ChatID)
	}

	// Chat admins keep their accounts untouched; only critical content
	// is removed. The ledger does not advance for exempt identities.
	if act, exempt := enforce.Exemption(false, m.IsAdmin, verdict.Severity, p.Config); exempt {
		ev.Action = string(act.Kind)
		ev.DeleteMessage = act.DeleteMessage
		ev.Exempt = true
		ev.Reason = act.Reason
		p.emit(ctx, ev, act)
		return ev
	}

	_, act := p.Ledger.Record(ctx, m.ChatID, m.UserID, mode, verdict.Severity)
	ev.Action = string(act.Kind)
	ev.DurationSec = int64(act.Duration.Seconds())
	ev.DeleteMessage = act.DeleteMessage
	ev.Reason = act.Reason

	p.emit(ctx, ev, act)
	return ev
}

// classify resolves a verdict: cache, rules, split-message tracker, then
// the AI gateway. Gateway failure falls back to the conservative verdict
// and parks the message in the backlog for the sweep.
func (p *Pipeline) classify(ctx context.Context, m protocol.InboundMessage) policy.Verdict {
	fingerprint := policy.Fingerprint(m.Text)

	if p.Cache != nil {
		if v, ok := p.Cache.Lookup(ctx, fingerprint); ok {
			p.cacheHits.Add(1)
			metrics.CacheLookups.WithLabelValues("hit").Inc()
			return v
		}
		p.cacheMiss.Add(1)
		metrics.CacheLookups.WithLabelValues("miss").Inc()
	}

	if v, ok := p.Engine.Evaluate(m.Text); ok {
		p.cacheStore(ctx, fingerprint, v)
		return v
	}

	// Rules were inconclusive for the message alone; check whether it
	// completes a violation split across recent messages. Tracker hits
	// are history-dependent, so they are never cached by fingerprint.
	if p.Tracker != nil {
		if v, ok := p.Tracker.Observe(m.ChatID, m.UserID, m.Text, m.Sent()); ok {
			return v
		}
	}

	if p.Gateway != nil {
		v, err := p.Gateway.Classify(ctx, m.Text)
		if err == nil {
			p.cacheStore(ctx, fingerprint, v)
			return v
		}
		log.Printf("[pipeline] classify chat=%d msg=%d: %v (conservative fallback)",
			m.ChatID, m.MessageID, err)
	}

	// No classifier reached a decision. Fall back conservatively and
	// park the message for retroactive sweep analysis.
	if p.Backlog != nil && !m.Replay {
		entry := store.BacklogMessage{
			ChatID:    m.ChatID,
			UserID:    m.UserID,
			MessageID: m.MessageID,
			Body:      m.Text,
			SentAt:    m.Sent(),
		}
		if err := p.Backlog.EnqueueBacklog(ctx, entry); err != nil {
			log.Printf("[pipeline] enqueue backlog chat=%d msg=%d: %v", m.ChatID, m.MessageID, err)
		}
	}
	return policy.Conservative()
}

func (p *Pipeline) cacheStore(ctx context.Context, fingerprint string, v policy.Verdict) {
	if p.Cache == nil {
		return
	}
	p.Cache.Store(ctx, fingerprint, v)
}

// emit publishes the action event and appends the audit entry. Warn notices
// are rate limited per (chat, user): the ledger already advanced, only the
// visible notice is suppressed.
func (p *Pipeline) emit(ctx context.Context, ev protocol.ActionEvent, act enforce.Action) {
	metrics.ActionsTotal.WithLabelValues(ev.Action).Inc()

	if p.Audit != nil {
		entry := store.ActionEntry{
			EventID:   ev.EventID,
			ChatID:    ev.ChatID,
			UserID:    ev.UserID,
			MessageID: ev.MessageID,
			Category:  ev.Category,
			Severity:  ev.Severity,
			Source:    ev.Source,
			Action:    ev.Action,
			Duration:  act.Duration,
			Reason:    ev.Reason,
		}
		if err := p.Audit.AppendAction(ctx, entry); err != nil {
			log.Printf("[pipeline] audit chat=%d msg=%d: %v", ev.ChatID, ev.MessageID, err)
		}
	}

	if p.Emitter == nil {
		return
	}
	if act.Kind == enforce.ActionNone && !act.DeleteMessage {
		return
	}

	// Delete-only events are capped per chat so a flood of violating
	// messages cannot turn into an action storm on the adapter. Mutes and
	// bans always go through.
	if act.Kind == enforce.ActionNone && p.Limiter != nil {
		id := strconv.FormatInt(ev.ChatID, 10)
		if allowed, _ := p.Limiter.Allow(ctx, id, ratelimit.RuleChatActions); !allowed {
			log.Printf("[pipeline] delete action suppressed chat=%d msg=%d", ev.ChatID, ev.MessageID)
			return
		}
	}

	if act.Kind == enforce.ActionWarn && p.Limiter != nil {
		id := strconv.FormatInt(ev.ChatID, 10) + ":" + strconv.FormatInt(ev.UserID, 10)
		if allowed, _ := p.Limiter.Allow(ctx, id, ratelimit.RuleWarnNotice); !allowed {
			log.Printf("[pipeline] warn notice suppressed chat=%d user=%d", ev.ChatID, ev.UserID)
			return
		}
	}

	if err := p.Emitter.EmitAction(ctx, ev); err != nil {
		log.Printf("[pipeline] emit chat=%d msg=%d: %v", ev.ChatID, ev.MessageID, err)
	}
}

// CacheHitRate reports the fraction of cache lookups that hit, over the
// process lifetime.
func (p *Pipeline) CacheHitRate() float64 {
	hits := p.cacheHits.Load()
	total := hits + p.cacheMiss.Load()
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

// Processed reports the number of messages processed.
func (p *Pipeline) Processed() int64 { return p.processed.Load() }

// Violations reports the number of violating verdicts observed.
func (p *Pipeline) Violations() int64 { return p.violations.Load() }
