package cache

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/layercache/layercache/pkg/observability"
)

const (
	defaultAsyncWorkers   = 4
	defaultAsyncQueueSize = 1024
)

// asyncJob is one background tier write: a promotion after a lower-tier hit,
// or the deferred leg of a write-back.
type asyncJob struct {
	op      Operation
	tier    Tier
	key     string
	value   []byte
	ttl     time.Duration
	retries int
}

// asyncWriter runs a fixed worker pool over a bounded job queue. Enqueue
// never blocks the caller: when the queue is full the job is dropped and
// counted.
type asyncWriter struct {
	jobs    chan asyncJob
	stopCh  chan struct{}
	wg      sync.WaitGroup
	stopped sync.Once

	stats   *StatsRecorder
	logger  observability.Logger
	metrics observability.MetricsClient
}

func newAsyncWriter(workers, queueSize int, stats *StatsRecorder, logger observability.Logger, metrics observability.MetricsClient) *asyncWriter {
	if workers <= 0 {
		workers = defaultAsyncWorkers
	}
	if queueSize <= 0 {
		queueSize = defaultAsyncQueueSize
	}

	w := &asyncWriter{
		jobs:    make(chan asyncJob, queueSize),
		stopCh:  make(chan struct{}),
		stats:   stats,
		logger:  logger,
		metrics: metrics,
	}
	w.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go w.worker()
	}
	return w
}

// enqueue hands a job to the pool. It reports false when the writer is
// stopped or the queue is full; either way the caller does not wait.
func (w *asyncWriter) enqueue(job asyncJob) bool {
	select {
	case <-w.stopCh:
		return false
	default:
	}

	select {
	case w.jobs <- job:
		return true
	default:
		w.logger.Warn("async write queue full, dropping job", map[string]interface{}{
			"kind": string(job.op),
			"tier": job.tier.Name(),
			"key":  job.key,
		})
		w.metrics.IncrementCounterWithLabels("cache_async_jobs_dropped_total", 1, map[string]string{
			"kind": string(job.op),
		})
		w.stats.RecordError(job.op)
		return false
	}
}

// stop closes the pool and waits for the workers to drain queued jobs.
func (w *asyncWriter) stop() {
	w.stopped.Do(func() {
		close(w.stopCh)
		w.wg.Wait()
	})
}

func (w *asyncWriter) worker() {
	defer w.wg.Done()
	for {
		select {
		case job := <-w.jobs:
			w.process(job)
		case <-w.stopCh:
			for {
				select {
				case job := <-w.jobs:
					w.process(job)
				default:
					return
				}
			}
		}
	}
}

// process performs the write against its own context so a finished caller
// cannot cancel it; remote tiers still bound each attempt with their own
// timeout. Write-back jobs may retry with exponential backoff, promotions
// never do.
func (w *asyncWriter) process(job asyncJob) {
	stop := w.metrics.StartTimer("cache_async_job_duration_seconds", map[string]string{
		"kind": string(job.op),
	})
	defer stop()

	write := func() error {
		return job.tier.Set(context.Background(), job.key, job.value, job.ttl)
	}

	start := time.Now()
	err := write()
	if err != nil && job.op == OpWriteBack && job.retries > 0 {
		bo := backoff.NewExponentialBackOff()
		bo.InitialInterval = 50 * time.Millisecond
		err = backoff.Retry(write, backoff.WithMaxRetries(bo, uint64(job.retries)))
	}
	elapsed := time.Since(start)

	result := "success"
	if err != nil {
		result = "failure"
		w.logger.Warn("async cache write failed", map[string]interface{}{
			"kind":  string(job.op),
			"tier":  job.tier.Name(),
			"key":   job.key,
			"error": err.Error(),
		})
	}
	w.stats.RecordAsyncWrite(job.op, job.tier.Name(), err == nil, elapsed)
	w.metrics.IncrementCounterWithLabels("cache_async_jobs_total", 1, map[string]string{
		"kind":   string(job.op),
		"result": result,
	})
}
