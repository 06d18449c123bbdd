// Package executor runs a decided action list against the platform under
// bounded concurrency, batching, pacing and retry policy.
package executor

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/g-sync/gsync/internal/githubapi"
	"github.com/g-sync/gsync/internal/promotion"
	"github.com/g-sync/gsync/internal/reconcile"
)

const (
	defaultBatchSize         = 5
	defaultMaxConcurrent     = 5
	defaultMaxRetries        = 3
	defaultRetryBackoff      = 2 * time.Second
	logMessageBatchStarted   = "batch started"
	logMessageBatchFinished  = "batch finished"
	logMessageActionFailed   = "action failed"
	logMessageAuthFailure    = "authentication failure, halting remaining batches"
	logMessageRetryScheduled = "retry scheduled"
	logFieldBatchIndex       = "batch"
	logFieldBatchCount       = "batches"
	logFieldActionCount      = "actions"
	logFieldLogin            = "login"
	logFieldActionKind       = "kind"
	logFieldAttempt          = "attempt"
	logFieldBackoff          = "backoff"
)

// Outcome records the final result of exactly one action.
type Outcome struct {
	Action   reconcile.Action
	Success  bool
	Attempts int
	Err      error
}

// GraphMutator is the slice of the API client the executor needs.
type GraphMutator interface {
	Follow(ctx context.Context, login string) error
	Unfollow(ctx context.Context, login string) error
}

// Config bounds the executor's concurrency, pacing and retry behavior.
type Config struct {
	BatchSize             int
	MaxConcurrentRequests int
	RequestDelay          time.Duration
	RetryOnError          bool
	MaxRetries            int
	RetryBackoff          time.Duration
}

// Executor consumes an action list exactly once, producing one Outcome per
// attempted action. It is the only writer of the promotion records it is
// handed.
type Executor struct {
	client GraphMutator
	config Config
	logger *zap.Logger
	now    func() time.Time
}

// New constructs an Executor with defaults applied.
func New(client GraphMutator, configuration Config, logger *zap.Logger) *Executor {
	if configuration.BatchSize <= 0 {
		configuration.BatchSize = defaultBatchSize
	}
	if configuration.MaxConcurrentRequests <= 0 {
		configuration.MaxConcurrentRequests = defaultMaxConcurrent
	}
	if configuration.MaxRetries < 0 {
		configuration.MaxRetries = defaultMaxRetries
	}
	if configuration.RetryBackoff <= 0 {
		configuration.RetryBackoff = defaultRetryBackoff
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		client: client,
		config: configuration,
		logger: logger,
		now:    time.Now,
	}
}

// Execute runs the actions in sequential batches. Within a batch up to
// MaxConcurrentRequests actions run concurrently; the pool drains fully
// before the inter-batch delay and the next batch start. Promotion records
// are mutated only after an action's final outcome is known, under a single
// lock. A fatal authentication failure halts all remaining batches after the
// current one drains: actions not yet started are skipped, while attempts
// already in flight run to completion under the caller's context so their
// outcomes and store mutations are not lost. The returned error is then
// non-nil while the outcomes gathered so far remain valid.
func (executor *Executor) Execute(ctx context.Context, actions []reconcile.Action, records promotion.Records) ([]Outcome, error) {
	batches := splitBatches(actions, executor.config.BatchSize)

	var (
		outcomesMutex sync.Mutex
		outcomes      = make([]Outcome, 0, len(actions))
		recordsMutex  sync.Mutex
		fatalOnce     sync.Once
		fatalErr      error
	)

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	for batchIndex, batch := range batches {
		if runCtx.Err() != nil {
			break
		}

		executor.logger.Info(logMessageBatchStarted,
			zap.Int(logFieldBatchIndex, batchIndex+1),
			zap.Int(logFieldBatchCount, len(batches)),
			zap.Int(logFieldActionCount, len(batch)))

		var group errgroup.Group
		group.SetLimit(executor.config.MaxConcurrentRequests)
		for _, action := range batch {
			action := action
			group.Go(func() error {
				// Cooperative cancellation: actions not yet started are
				// skipped once a fatal failure is recorded.
				if runCtx.Err() != nil {
					return nil
				}
				outcome := executor.runAction(ctx, runCtx, action)
				if outcome.Attempts == 0 {
					return nil
				}
				if outcome.Success {
					executor.applyStoreMutation(&recordsMutex, records, action)
				} else if githubapi.IsAuth(outcome.Err) {
					fatalOnce.Do(func() {
						fatalErr = outcome.Err
						executor.logger.Error(logMessageAuthFailure, zap.Error(outcome.Err))
						cancelRun()
					})
				}
				outcomesMutex.Lock()
				outcomes = append(outcomes, outcome)
				outcomesMutex.Unlock()
				return nil
			})
		}
		_ = group.Wait()

		executor.logger.Info(logMessageBatchFinished,
			zap.Int(logFieldBatchIndex, batchIndex+1),
			zap.Int(logFieldBatchCount, len(batches)))

		isFinalBatch := batchIndex == len(batches)-1
		if !isFinalBatch && runCtx.Err() == nil {
			if !sleepContext(runCtx, executor.config.RequestDelay) {
				break
			}
		}
	}

	if fatalErr != nil {
		return outcomes, fatalErr
	}
	if ctx.Err() != nil {
		return outcomes, ctx.Err()
	}
	return outcomes, nil
}

// runAction performs one action with bounded retries. NotFound failures are
// benign and never retried; retryable failures honor the server's retry-after
// hint when present, falling back to a fixed backoff. Attempts run under ctx
// so a run halt never aborts a request already in flight; haltCtx gates the
// start of each attempt and the backoff waits between them.
func (executor *Executor) runAction(ctx context.Context, haltCtx context.Context, action reconcile.Action) Outcome {
	maxAttempts := 1
	if executor.config.RetryOnError {
		maxAttempts = 1 + executor.config.MaxRetries
	}

	outcome := Outcome{Action: action}
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if haltCtx.Err() != nil {
			return outcome
		}
		outcome.Attempts = attempt

		attemptErr := executor.performMutation(ctx, action)
		if attemptErr == nil {
			outcome.Success = true
			return outcome
		}
		outcome.Err = attemptErr

		if githubapi.IsAuth(attemptErr) || githubapi.IsNotFound(attemptErr) {
			return outcome
		}
		if !githubapi.IsRetryable(attemptErr) || attempt == maxAttempts {
			break
		}

		backoff := executor.config.RetryBackoff
		if hint, hasHint := githubapi.RetryAfterHint(attemptErr); hasHint {
			backoff = hint
		}
		executor.logger.Warn(logMessageRetryScheduled,
			zap.String(logFieldLogin, action.Login),
			zap.String(logFieldActionKind, string(action.Kind)),
			zap.Int(logFieldAttempt, attempt),
			zap.Duration(logFieldBackoff, backoff))
		if !sleepContext(haltCtx, backoff) {
			return outcome
		}
	}

	executor.logger.Warn(logMessageActionFailed,
		zap.String(logFieldLogin, action.Login),
		zap.String(logFieldActionKind, string(action.Kind)),
		zap.Int(logFieldAttempt, outcome.Attempts),
		zap.Error(outcome.Err))
	return outcome
}

func (executor *Executor) performMutation(ctx context.Context, action reconcile.Action) error {
	if action.Kind == reconcile.ActionKindFollow {
		return executor.client.Follow(ctx, action.Login)
	}
	return executor.client.Unfollow(ctx, action.Login)
}

// applyStoreMutation updates the promotion records for a successful action:
// new promotions enter the store, successful unfollows leave it.
func (executor *Executor) applyStoreMutation(recordsMutex *sync.Mutex, records promotion.Records, action reconcile.Action) {
	recordsMutex.Lock()
	defer recordsMutex.Unlock()
	switch {
	case action.Kind == reconcile.ActionKindFollow && action.Reason == reconcile.ReasonPromotionNew:
		records.Add(action.Login, executor.now())
	case action.Kind == reconcile.ActionKindUnfollow:
		records.Remove(action.Login)
	}
}

func splitBatches(actions []reconcile.Action, batchSize int) [][]reconcile.Action {
	var batches [][]reconcile.Action
	for start := 0; start < len(actions); start += batchSize {
		end := start + batchSize
		if end > len(actions) {
			end = len(actions)
		}
		batches = append(batches, actions[start:end])
	}
	return batches
}

func sleepContext(ctx context.Context, duration time.Duration) bool {
	if duration <= 0 {
		return true
	}
	timer := time.NewTimer(duration)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
