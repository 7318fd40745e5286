// Package ledger tracks per-(chat, user) violation history and drives the
// enforcement state machine. All updates for one key are serialized through
// a per-key lock so concurrent violations by the same user apply in arrival
// order and never double-advance or skip a tier.
//
// The in-memory record is authoritative for the current process; writes go
// through to the storage collaborator, and failed writes are queued for
// retry so a storage outage never blocks moderation.
package ledger

import (
	"context"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/flushguard/engine/internal/enforce"
	"github.com/flushguard/engine/internal/policy"
)

// Record is one user's violation history in one chat.
type Record struct {
	ChatID        int64
	UserID        int64
	Count         int
	Tier          enforce.Tier
	TempBans      int // temp-bans served, selects the escalating duration
	LastViolation time.Time
}

// Store is the durable persistence collaborator. Load reports found=false
// for users with no history.
type Store interface {
	LoadRecord(ctx context.Context, chatID, userID int64) (Record, bool, error)
	SaveRecord(ctx context.Context, rec Record) error
}

// Ledger owns all ViolationRecords for the process.
type Ledger struct {
	store Store
	cfg   enforce.Config
	now   func() time.Time

	mu      sync.Mutex
	locks   map[string]*sync.Mutex
	records map[string]*Record
	loaded  map[string]bool
	pending map[string]Record // failed writes awaiting retry
}

// New creates a Ledger backed by the given store. store may be nil for
// purely in-memory operation.
func New(store Store, cfg enforce.Config) *Ledger {
	return &Ledger{
		store:   store,
		cfg:     cfg,
		now:     time.Now,
		locks:   make(map[string]*sync.Mutex),
		records: make(map[string]*Record),
		loaded:  make(map[string]bool),
		pending: make(map[string]Record),
	}
}

func key(chatID, userID int64) string {
	return strconv.FormatInt(chatID, 10) + ":" + strconv.FormatInt(userID, 10)
}

// keyLock returns the mutex serializing one (chat, user) key. No lock ever
// spans more than one key, so cross-chat operations never contend.
func (l *Ledger) keyLock(k string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	if m, ok := l.locks[k]; ok {
		return m
	}
	m := &sync.Mutex{}
	l.locks[k] = m
	return m
}

// record returns the in-memory record for a key, loading it from the store
// on first touch. Caller must hold the key lock.
func (l *Ledger) record(ctx context.Context, chatID, userID int64) *Record {
	k := key(chatID, userID)

	l.mu.Lock()
	rec, ok := l.records[k]
	loaded := l.loaded[k]
	l.mu.Unlock()

	if ok && loaded {
		return rec
	}

	fresh := &Record{ChatID: chatID, UserID: userID}
	if l.store != nil {
		stored, found, err := l.store.LoadRecord(ctx, chatID, userID)
		if err != nil {
			log.Printf("[ledger] load %s: %v", k, err)
			// Treat as not-loaded so a later call retries the read.
			l.mu.Lock()
			if existing, ok := l.records[k]; ok {
				rec = existing
			} else {
				l.records[k] = fresh
				rec = fresh
			}
			l.mu.Unlock()
			return rec
		}
		if found {
			fresh = &stored
		}
	}

	l.mu.Lock()
	if existing, ok := l.records[k]; ok {
		// A record created during a load failure already carries
		// violations counted since; it stays authoritative over the
		// stored snapshot, which FlushPending will overwrite.
		fresh = existing
	} else {
		l.records[k] = fresh
	}
	l.loaded[k] = true
	l.mu.Unlock()
	return fresh
}

// maybeDecay applies the inactivity reset. Perm-ban is terminal and only an
// explicit Reset clears it. Caller must hold the key lock.
func (l *Ledger) maybeDecay(rec *Record) {
	if rec.Tier == enforce.TierNone || rec.Tier == enforce.TierPermBanned {
		return
	}
	if rec.LastViolation.IsZero() || l.cfg.ResetWindow <= 0 {
		return
	}
	if l.now().Sub(rec.LastViolation) > l.cfg.ResetWindow {
		rec.Tier = enforce.TierNone
		rec.TempBans = 0
	}
}

// Record applies one verdict to the user's history and returns the
// resulting record and enforcement action. Storage failures are logged and
// queued for retry; the computed action is returned regardless, so
// moderation is never blocked by a storage outage.
func (l *Ledger) Record(ctx context.Context, chatID, userID int64, mode enforce.Mode, sev policy.Severity) (Record, enforce.Action) {
	k := key(chatID, userID)
	lock := l.keyLock(k)
	lock.Lock()
	defer lock.Unlock()

	rec := l.record(ctx, chatID, userID)
	l.maybeDecay(rec)

	next, act := enforce.Next(rec.Tier, mode, sev, rec.TempBans, l.cfg)
	if sev > policy.SeverityNone {
		rec.Count++
		rec.LastViolation = l.now()
		rec.Tier = next
		if act.Kind == enforce.ActionTempBan {
			rec.TempBans++
		}
	}

	l.persist(ctx, k, *rec)
	return *rec, act
}

// CurrentTier reports the user's tier, with the inactivity decay applied.
func (l *Ledger) CurrentTier(ctx context.Context, chatID, userID int64) enforce.Tier {
	k := key(chatID, userID)
	lock := l.keyLock(k)
	lock.Lock()
	defer lock.Unlock()

	rec := l.record(ctx, chatID, userID)
	l.maybeDecay(rec)
	return rec.Tier
}

// Reset clears a user's escalation state. This is the administrative path
// and clears perm-ban as well.
func (l *Ledger) Reset(ctx context.Context, chatID, userID int64) {
	k := key(chatID, userID)
	lock := l.keyLock(k)
	lock.Lock()
	defer lock.Unlock()

	rec := l.record(ctx, chatID, userID)
	rec.Tier = enforce.TierNone
	rec.TempBans = 0
	rec.LastViolation = time.Time{}

	l.persist(ctx, k, *rec)
}

// Ban sets the user straight to the permanently banned tier. This is the
// administrative path; the violation count is untouched.
func (l *Ledger) Ban(ctx context.Context, chatID, userID int64) {
	k := key(chatID, userID)
	lock := l.keyLock(k)
	lock.Lock()
	defer lock.Unlock()

	rec := l.record(ctx, chatID, userID)
	rec.Tier = enforce.TierPermBanned
	rec.LastViolation = l.now()

	l.persist(ctx, k, *rec)
}

// Unban lifts a ban without erasing history: the tier drops to none but the
// violation count survives, so the next violation escalates from it.
func (l *Ledger) Unban(ctx context.Context, chatID, userID int64) {
	k := key(chatID, userID)
	lock := l.keyLock(k)
	lock.Lock()
	defer lock.Unlock()

	rec := l.record(ctx, chatID, userID)
	rec.Tier = enforce.TierNone
	rec.TempBans = 0

	l.persist(ctx, k, *rec)
}

func (l *Ledger) persist(ctx context.Context, k string, rec Record) {
	if l.store == nil {
		return
	}
	if err := l.store.SaveRecord(ctx, rec); err != nil {
		log.Printf("[ledger] save %s: %v (queued for retry)", k, err)
		l.mu.Lock()
		l.pending[k] = rec
		l.mu.Unlock()
		return
	}
	l.mu.Lock()
	delete(l.pending, k)
	l.mu.Unlock()
}

// FlushPending retries queued writes, in no particular order, and returns
// how many remain unflushed. A newer in-memory record supersedes the queued
// snapshot, so retries are at-least-once with last-write-wins per key.
func (l *Ledger) FlushPending(ctx context.Context) int {
	if l.store == nil {
		return 0
	}

	l.mu.Lock()
	batch := make(map[string]Record, len(l.pending))
	for k, rec := range l.pending {
		batch[k] = rec
	}
	l.mu.Unlock()

	for k, queued := range batch {
		lock := l.keyLock(k)
		lock.Lock()
		rec := queued
		l.mu.Lock()
		if current, ok := l.records[k]; ok {
			rec = *current
		}
		l.mu.Unlock()
		l.persist(ctx, k, rec)
		lock.Unlock()
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}
