// Package sweep re-runs the moderation pipeline over the backlog of
// messages whose live classification was inconclusive. It runs as a
// lower-priority background loop: bounded worker concurrency, a visible
// delay before a message becomes eligible, and a full back-off whenever
// live traffic is consuming the AI budget.
package sweep

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/flushguard/engine/internal/metrics"
	"github.com/flushguard/engine/internal/protocol"
	"github.com/flushguard/engine/internal/store"
)

// Processor handles one replayed message. Satisfied by pipeline.Pipeline.
type Processor interface {
	Process(ctx context.Context, m protocol.InboundMessage) protocol.ActionEvent
}

// Source claims and completes backlog work. Satisfied by store.Store.
type Source interface {
	ClaimBacklog(ctx context.Context, minAge time.Duration, limit int) ([]store.BacklogMessage, error)
	MarkAnalyzed(ctx context.Context, ids []int64) error
	ReleaseStaleClaims(ctx context.Context, maxHold time.Duration) (int64, error)
}

// Pressure reports whether live traffic needs the AI budget. Satisfied by
// quota.Governor.
type Pressure interface {
	UnderPressure(ctx context.Context, provider string, fraction float64) bool
}

// Config holds the sweep tuning knobs.
type Config struct {
	Interval  time.Duration // time between sweep cycles
	MinAge    time.Duration // backlog messages younger than this are left alone
	BatchSize int           // max messages claimed per cycle
	Workers   int           // concurrent message processors
	// PressureFraction is the primary-provider usage fraction above which
	// the sweep backs off entirely for the cycle.
	PressureFraction float64
	// ClaimHold is how long a claim may be held before a crashed sweeper's
	// rows are requeued.
	ClaimHold time.Duration
}

// DefaultConfig returns the operational defaults: a 30 minute visibility
// delay and modest concurrency.
func DefaultConfig() Config {
	return Config{
		Interval:         5 * time.Minute,
		MinAge:           30 * time.Minute,
		BatchSize:        100,
		Workers:          4,
		PressureFraction: 0.75,
		ClaimHold:        15 * time.Minute,
	}
}

// Sweeper drives the background re-analysis loop.
type Sweeper struct {
	src      Source
	proc     Processor
	pressure Pressure
	cfg      Config
}

// New creates a Sweeper. pressure may be nil to disable back-off.
func New(src Source, proc Processor, pressure Pressure, cfg Config) *Sweeper {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &Sweeper{src: src, proc: proc, pressure: pressure, cfg: cfg}
}

// Run executes sweep cycles until the context is cancelled. Position over
// the backlog lives in the store's claim state, so cancellation mid-batch
// loses nothing: unfinished claims are requeued after ClaimHold.
func (s *Sweeper) Run(ctx context.Context) {
	log.Printf("[sweep] running: interval=%s min_age=%s batch=%d workers=%d",
		s.cfg.Interval, s.cfg.MinAge, s.cfg.BatchSize, s.cfg.Workers)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("[sweep] stopped: %v", ctx.Err())
			return
		case <-ticker.C:
			n, err := s.RunOnce(ctx)
			if err != nil {
				log.Printf("[sweep] cycle: %v", err)
				continue
			}
			if n > 0 {
				log.Printf("[sweep] cycle processed %d messages", n)
			}
		}
	}
}

// RunOnce executes a single sweep cycle and returns how many messages were
// processed.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	if released, err := s.src.ReleaseStaleClaims(ctx, s.cfg.ClaimHold); err != nil {
		log.Printf("[sweep] release stale claims: %v", err)
	} else if released > 0 {
		log.Printf("[sweep] requeued %d stale claims", released)
	}

	// Batch work is strictly lower priority than live traffic.
	if s.pressure != nil && s.pressure.UnderPressure(ctx, "primary", s.cfg.PressureFraction) {
		log.Printf("[sweep] backing off: live traffic holds the AI budget")
		return 0, nil
	}

	batch, err := s.src.ClaimBacklog(ctx, s.cfg.MinAge, s.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	metrics.SweepBacklog.Set(float64(len(batch)))
	if len(batch) == 0 {
		return 0, nil
	}

	var (
		mu   sync.Mutex
		done []int64
	)

	work := make(chan store.BacklogMessage)
	var wg sync.WaitGroup
	for i := 0; i < s.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for m := range work {
				s.proc.Process(ctx, protocol.InboundMessage{
					ChatID:    m.ChatID,
					UserID:    m.UserID,
					MessageID: m.MessageID,
					Text:      m.Body,
					SentAt:    m.SentAt.Unix(),
					Replay:    true,
				})
				mu.Lock()
				done = append(done, m.ID)
				mu.Unlock()
			}
		}()
	}

feed:
	for _, m := range batch {
		select {
		case <-ctx.Done():
			break feed
		case work <- m:
		}
	}
	close(work)
	wg.Wait()

	if err := s.src.MarkAnalyzed(ctx, done); err != nil {
		// The claims expire and the rows replay: at-least-once.
		log.Printf("[sweep] mark analyzed: %v", err)
	}
	return len(done), nil
}
