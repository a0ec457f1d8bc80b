package embedding

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/charmbracelet/log"
	"github.com/theapemachine/mnemo/pkg/errors"
	"github.com/theapemachine/mnemo/pkg/memory"
)

type BackfillConfig struct {
	Workers       int           `mapstructure:"workers"`
	QueueSize     int           `mapstructure:"queueSize"`
	MaxAttempts   int           `mapstructure:"maxAttempts"`
	RetryInterval time.Duration `mapstructure:"retryInterval"`
	Sweep         time.Duration `mapstructure:"sweep"`
	SweepBatch    int           `mapstructure:"sweepBatch"`
}

func (cfg BackfillConfig) withDefaults() BackfillConfig {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}

	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}

	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}

	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 500 * time.Millisecond
	}

	if cfg.SweepBatch <= 0 {
		cfg.SweepBatch = 100
	}

	return cfg
}

/*
Target is where computed vectors go, and where the sweep finds records that
still need one.
*/
type Target interface {
	AttachEmbedding(ctx context.Context, id string, vector []float32) error
	Unembedded(ctx context.Context, limit int) ([]*memory.Record, error)
}

type Job struct {
	ID   string
	Text string
}

type BackfillStats struct {
	Embedded int64 `json:"embedded"`
	Failed   int64 `json:"failed"`
	Dropped  int64 `json:"dropped"`
}

/*
Backfill is the asynchronous embedding queue. Turns enqueue and move on,
a fixed worker pool embeds with bounded retries, and a periodic sweep picks
up anything that was dropped or failed.
*/
type Backfill struct {
	embedder Embedder
	target   Target
	cfg      BackfillConfig
	jobs     chan Job
	pending  sync.Map
	wg       sync.WaitGroup
	embedded atomic.Int64
	failed   atomic.Int64
	dropped  atomic.Int64
}

func NewBackfill(embedder Embedder, target Target, cfg BackfillConfig) *Backfill {
	cfg = cfg.withDefaults()

	return &Backfill{
		embedder: embedder,
		target:   target,
		cfg:      cfg,
		jobs:     make(chan Job, cfg.QueueSize),
	}
}

/*
Start launches the workers and, when configured, the sweeper. They stop when
ctx is cancelled, Wait blocks until they have.
*/
func (backfill *Backfill) Start(ctx context.Context) {
	for i := 0; i < backfill.cfg.Workers; i++ {
		backfill.wg.Add(1)

		go func() {
			defer backfill.wg.Done()

			for {
				select {
				case <-ctx.Done():
					return
				case job := <-backfill.jobs:
					backfill.process(ctx, job)
				}
			}
		}()
	}

	if backfill.cfg.Sweep > 0 {
		backfill.wg.Add(1)

		go func() {
			defer backfill.wg.Done()

			ticker := time.NewTicker(backfill.cfg.Sweep)
			defer ticker.Stop()

			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if _, err := backfill.Sweep(ctx); err != nil {
						log.Warn("backfill sweep failed", "error", err)
					}
				}
			}
		}()
	}

	log.Info("backfill started", "workers", backfill.cfg.Workers, "queue", backfill.cfg.QueueSize, "sweep", backfill.cfg.Sweep)
}

func (backfill *Backfill) Wait() {
	backfill.wg.Wait()
}

/*
Enqueue never blocks. A full queue drops the job, the sweep will find the
record again later.
*/
func (backfill *Backfill) Enqueue(id, text string) bool {
	if _, loaded := backfill.pending.LoadOrStore(id, struct{}{}); loaded {
		return true
	}

	select {
	case backfill.jobs <- Job{ID: id, Text: text}:
		return true
	default:
		backfill.pending.Delete(id)
		backfill.dropped.Add(1)
		log.Warn("backfill queue full, dropping job", "id", id)
		return false
	}
}

/*
Sweep enqueues one batch of records that have no embedding yet.
*/
func (backfill *Backfill) Sweep(ctx context.Context) (int, error) {
	records, err := backfill.target.Unembedded(ctx, backfill.cfg.SweepBatch)

	if err != nil {
		return 0, err
	}

	queued := 0

	for _, record := range records {
		if backfill.Enqueue(record.ID, record.Content) {
			queued++
		}
	}

	if queued > 0 {
		log.Debug("backfill sweep queued records", "count", queued)
	}

	return queued, nil
}

/*
RunOnce embeds every currently unembedded record synchronously, without the
worker pool. Records that fail are skipped, so it always terminates.
*/
func (backfill *Backfill) RunOnce(ctx context.Context) (BackfillStats, error) {
	seen := make(map[string]bool)

	for {
		records, err := backfill.target.Unembedded(ctx, backfill.cfg.SweepBatch+len(seen))

		if err != nil {
			return backfill.Stats(), err
		}

		progressed := false

		for _, record := range records {
			if seen[record.ID] {
				continue
			}

			seen[record.ID] = true
			progressed = true
			backfill.process(ctx, Job{ID: record.ID, Text: record.Content})
		}

		if !progressed || ctx.Err() != nil {
			return backfill.Stats(), ctx.Err()
		}
	}
}

func (backfill *Backfill) Stats() BackfillStats {
	return BackfillStats{
		Embedded: backfill.embedded.Load(),
		Failed:   backfill.failed.Load(),
		Dropped:  backfill.dropped.Load(),
	}
}

func (backfill *Backfill) process(ctx context.Context, job Job) {
	defer backfill.pending.Delete(job.ID)

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = backfill.cfg.RetryInterval

	attempts := 0

	err := backoff.Retry(func() error {
		attempts++
		vector, err := backfill.embedder.Embed(ctx, job.Text)

		if err != nil {
			switch errors.KindOf(err) {
			case errors.KindFatalConfig, errors.KindValidation:
				return backoff.Permanent(err)
			}

			return err
		}

		return backfill.target.AttachEmbedding(ctx, job.ID, vector)
	}, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(backfill.cfg.MaxAttempts-1)), ctx))

	if err != nil {
		backfill.failed.Add(1)
		log.Warn("backfill gave up on record", "id", job.ID, "attempts", attempts, "error", err)
		return
	}

	backfill.embedded.Add(1)
}
