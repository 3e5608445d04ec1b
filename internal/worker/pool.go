package worker

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ignite/keepup-email-engine/internal/config"
	"github.com/ignite/keepup-email-engine/internal/jobs"
	"github.com/ignite/keepup-email-engine/internal/pkg/distlock"
	"github.com/ignite/keepup-email-engine/internal/pkg/logger"
)

const (
	defaultBatchSize        = 25
	defaultPollInterval     = 5 * time.Second
	defaultConcurrency      = 4
	defaultStaleAge         = 10 * time.Minute
	defaultRecoveryInterval = time.Minute
)

// Pool runs the claim loop: N workers pull due jobs in batches and
// feed them through the processor, while a recovery loop returns jobs
// whose claimer died.
type Pool struct {
	processor *Processor
	jobs      *jobs.Store

	concurrency      int
	batchSize        int
	pollInterval     time.Duration
	staleAge         time.Duration
	recoveryInterval time.Duration
	recoveryLock     distlock.DistLock

	claimed   atomic.Int64
	processed atomic.Int64

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewPool creates a pool from worker config; zero values get defaults.
// recoveryLock may be nil; when set, only the instance holding it runs
// the stale-job sweep.
func NewPool(processor *Processor, jobsStore *jobs.Store, cfg config.WorkerConfig, recoveryLock distlock.DistLock) *Pool {
	p := &Pool{
		processor:        processor,
		jobs:             jobsStore,
		recoveryLock:     recoveryLock,
		concurrency:      cfg.Concurrency,
		batchSize:        cfg.BatchSize,
		pollInterval:     time.Duration(cfg.PollIntervalSeconds) * time.Second,
		staleAge:         time.Duration(cfg.StaleAgeMinutes) * time.Minute,
		recoveryInterval: time.Duration(cfg.RecoveryIntervalMinutes) * time.Minute,
	}
	if p.concurrency <= 0 {
		p.concurrency = defaultConcurrency
	}
	if p.batchSize <= 0 {
		p.batchSize = defaultBatchSize
	}
	if p.pollInterval <= 0 {
		p.pollInterval = defaultPollInterval
	}
	if p.staleAge <= 0 {
		p.staleAge = defaultStaleAge
	}
	if p.recoveryInterval <= 0 {
		p.recoveryInterval = defaultRecoveryInterval
	}
	return p
}

// Start launches the workers and the recovery loop. Calling Start on a
// running pool is a no-op.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	ctx, p.cancel = context.WithCancel(ctx)
	p.mu.Unlock()

	logger.Info("worker pool starting",
		"workerId", p.processor.WorkerID(), "concurrency", p.concurrency,
		"batchSize", p.batchSize, "pollInterval", p.pollInterval.String())

	for i := 0; i < p.concurrency; i++ {
		p.wg.Add(1)
		go p.runWorker(ctx)
	}

	p.wg.Add(1)
	go p.runRecovery(ctx)
}

// Stop cancels the loops and waits for in-flight jobs to finish.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	cancel := p.cancel
	p.mu.Unlock()

	cancel()
	p.wg.Wait()
	logger.Info("worker pool stopped",
		"workerId", p.processor.WorkerID(),
		"claimed", p.claimed.Load(), "processed", p.processed.Load())
}

// Stats reports lifetime claim and process counts.
func (p *Pool) Stats() (claimed, processed int64) {
	return p.claimed.Load(), p.processed.Load()
}

func (p *Pool) runWorker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		batch, err := p.jobs.Claim(ctx, p.processor.WorkerID(), p.batchSize)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("claim batch failed", "error", err.Error())
			p.sleep(ctx, p.pollInterval)
			continue
		}
		if len(batch) == 0 {
			p.sleep(ctx, p.pollInterval)
			continue
		}

		p.claimed.Add(int64(len(batch)))
		cache := newTickCache()
		for _, job := range batch {
			if ctx.Err() != nil {
				return
			}
			if err := p.processor.Process(ctx, cache, job); err != nil {
				logger.Error("job processing error; leaving for stale recovery",
					"jobId", job.ID, "error", err.Error())
				continue
			}
			p.processed.Add(1)
		}
	}
}

func (p *Pool) runRecovery(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.recoveryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.recoverStale(ctx)
		}
	}
}

// recoverStale requeues jobs stuck in processing. With a lock
// configured, instances that lose the race skip the sweep.
func (p *Pool) recoverStale(ctx context.Context) {
	if p.recoveryLock != nil {
		ok, err := p.recoveryLock.Acquire(ctx)
		if err != nil {
			if ctx.Err() == nil {
				logger.Warn("recovery lock acquire failed", "error", err.Error())
			}
			return
		}
		if !ok {
			return
		}
		defer func() {
			if err := p.recoveryLock.Release(context.WithoutCancel(ctx)); err != nil {
				logger.Warn("recovery lock release failed", "error", err.Error())
			}
		}()
	}

	n, err := p.jobs.RequeueStale(ctx, p.staleAge)
	if err != nil {
		if ctx.Err() == nil {
			logger.Error("stale job recovery failed", "error", err.Error())
		}
		return
	}
	if n > 0 {
		logger.Warn("requeued stale jobs", "count", n, "staleAge", p.staleAge.String())
	}
}

func (p *Pool) sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// randomJitter spreads next-day retries so a capped company does not
// wake every held job at the same instant.
func randomJitter(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int63n(int64(max-min)))
}
