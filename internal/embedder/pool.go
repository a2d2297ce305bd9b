package embedder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kozaktomas/face-gate/internal/apperr"
	"github.com/kozaktomas/face-gate/internal/facematch"
	"github.com/kozaktomas/face-gate/internal/metrics"
	"github.com/kozaktomas/face-gate/internal/retrier"
	"golang.org/x/sync/semaphore"
)

// PoolOptions configures a Pool.
type PoolOptions struct {
	// Workers caps concurrent extractions.
	Workers int
	// Timeout bounds one Extract call, including waiting for a worker and retries.
	Timeout time.Duration
	Retry   retrier.Policy
	Logger  *slog.Logger
}

// Pool bounds concurrent calls to a Provider and retries transient failures,
// so slow extractions cannot starve the rest of the service.
type Pool struct {
	provider Provider
	sem      *semaphore.Weighted
	opts     PoolOptions
	log      *slog.Logger
}

// NewPool wraps provider.
func NewPool(provider Provider, opts PoolOptions) *Pool {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Pool{
		provider: provider,
		sem:      semaphore.NewWeighted(int64(opts.Workers)),
		opts:     opts,
		log:      opts.Logger,
	}
}

// Extract runs the provider on a pooled worker.
func (p *Pool) Extract(ctx context.Context, image []byte) (facematch.Embedding, error) {
	ctx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()

	if err := p.sem.Acquire(ctx, 1); err != nil {
		metrics.ExtractionFailures.WithLabelValues("busy").Inc()
		return nil, fmt.Errorf("waiting for embedding worker: %w: %w", apperr.ErrTimeout, err)
	}
	defer p.sem.Release(1)

	start := time.Now()
	var emb facematch.Embedding
	err := retrier.Do(ctx, p.opts.Retry, func(ctx context.Context) error {
		var err error
		emb, err = p.provider.Extract(ctx, image)
		if err != nil && apperr.Retryable(err) {
			p.log.Debug("embedding extraction failed, retrying", "error", err)
		}
		return err
	})
	metrics.ExtractionDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.ExtractionFailures.WithLabelValues(failureReason(err)).Inc()
		if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, apperr.ErrTimeout) {
			err = fmt.Errorf("%w: %w", apperr.ErrTimeout, err)
		}
		return nil, err
	}
	return emb, nil
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, apperr.ErrFaceNotFound):
		return "no_face"
	case errors.Is(err, apperr.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, facematch.ErrDimensionMismatch):
		return "dimension"
	default:
		return "provider"
	}
}

var _ Provider = (*Pool)(nil)
