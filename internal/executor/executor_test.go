package executor_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/g-sync/gsync/internal/executor"
	"github.com/g-sync/gsync/internal/githubapi"
	"github.com/g-sync/gsync/internal/promotion"
	"github.com/g-sync/gsync/internal/reconcile"
)

// scriptedMutator serves errors per login per attempt and tracks in-flight
// request counts.
type scriptedMutator struct {
	mutex           sync.Mutex
	attemptsByLogin map[string]int
	errorsByLogin   map[string][]error

	inFlight     atomic.Int32
	maxInFlight  atomic.Int32
	requestDelay time.Duration
}

func newScriptedMutator() *scriptedMutator {
	return &scriptedMutator{
		attemptsByLogin: map[string]int{},
		errorsByLogin:   map[string][]error{},
	}
}

func (mutator *scriptedMutator) script(login string, attemptErrors ...error) {
	mutator.errorsByLogin[login] = attemptErrors
}

func (mutator *scriptedMutator) Follow(ctx context.Context, login string) error {
	return mutator.perform(ctx, login)
}

func (mutator *scriptedMutator) Unfollow(ctx context.Context, login string) error {
	return mutator.perform(ctx, login)
}

func (mutator *scriptedMutator) perform(ctx context.Context, login string) error {
	current := mutator.inFlight.Add(1)
	for {
		observed := mutator.maxInFlight.Load()
		if current <= observed || mutator.maxInFlight.CompareAndSwap(observed, current) {
			break
		}
	}
	defer mutator.inFlight.Add(-1)

	if mutator.requestDelay > 0 {
		select {
		case <-time.After(mutator.requestDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	mutator.mutex.Lock()
	defer mutator.mutex.Unlock()
	attemptIndex := mutator.attemptsByLogin[login]
	mutator.attemptsByLogin[login] = attemptIndex + 1
	scriptedErrors := mutator.errorsByLogin[login]
	if attemptIndex < len(scriptedErrors) {
		return scriptedErrors[attemptIndex]
	}
	return nil
}

func (mutator *scriptedMutator) attempts(login string) int {
	mutator.mutex.Lock()
	defer mutator.mutex.Unlock()
	return mutator.attemptsByLogin[login]
}

func followAction(login string) reconcile.Action {
	return reconcile.Action{Kind: reconcile.ActionKindFollow, Login: login, Reason: reconcile.ReasonReciprocate}
}

func unfollowAction(login string) reconcile.Action {
	return reconcile.Action{Kind: reconcile.ActionKindUnfollow, Login: login, Reason: reconcile.ReasonNonReciprocating}
}

func outcomeFor(t *testing.T, outcomes []executor.Outcome, login string) executor.Outcome {
	t.Helper()
	for _, outcome := range outcomes {
		if outcome.Action.Login == login {
			return outcome
		}
	}
	t.Fatalf("no outcome recorded for %q in %v", login, outcomes)
	return executor.Outcome{}
}

func TestExecuteAllSucceed(t *testing.T) {
	mutator := newScriptedMutator()
	actionExecutor := executor.New(mutator, executor.Config{BatchSize: 2, MaxConcurrentRequests: 2}, nil)

	actions := []reconcile.Action{followAction("a"), followAction("b"), unfollowAction("c")}
	outcomes, err := actionExecutor.Execute(context.Background(), actions, promotion.Records{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(outcomes) != len(actions) {
		t.Fatalf("expected %d outcomes, got %d", len(actions), len(outcomes))
	}
	for _, outcome := range outcomes {
		if !outcome.Success || outcome.Attempts != 1 {
			t.Fatalf("expected clean single-attempt success, got %+v", outcome)
		}
	}
}

func TestExecuteRetriesRateLimitThenSucceeds(t *testing.T) {
	mutator := newScriptedMutator()
	mutator.script("a", githubapi.NewRateLimitError("throttled", time.Millisecond))

	actionExecutor := executor.New(mutator, executor.Config{
		BatchSize:             1,
		MaxConcurrentRequests: 1,
		RetryOnError:          true,
		MaxRetries:            2,
		RetryBackoff:          time.Millisecond,
	}, nil)

	outcomes, err := actionExecutor.Execute(context.Background(), []reconcile.Action{followAction("a")}, promotion.Records{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	outcome := outcomeFor(t, outcomes, "a")
	if !outcome.Success || outcome.Attempts != 2 {
		t.Fatalf("expected success on attempt 2, got %+v", outcome)
	}
}

func TestExecuteRetryDisabledFailsImmediately(t *testing.T) {
	mutator := newScriptedMutator()
	mutator.script("a", githubapi.NewNetworkError("boom", nil))

	actionExecutor := executor.New(mutator, executor.Config{
		BatchSize:             1,
		MaxConcurrentRequests: 1,
		RetryOnError:          false,
		MaxRetries:            5,
	}, nil)

	outcomes, err := actionExecutor.Execute(context.Background(), []reconcile.Action{followAction("a")}, promotion.Records{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	outcome := outcomeFor(t, outcomes, "a")
	if outcome.Success || outcome.Attempts != 1 {
		t.Fatalf("expected single failed attempt, got %+v", outcome)
	}
}

func TestExecuteExhaustedRetriesDoNotAbortRun(t *testing.T) {
	mutator := newScriptedMutator()
	mutator.script("a",
		githubapi.NewNetworkError("boom", nil),
		githubapi.NewNetworkError("boom", nil),
		githubapi.NewNetworkError("boom", nil))

	actionExecutor := executor.New(mutator, executor.Config{
		BatchSize:             2,
		MaxConcurrentRequests: 1,
		RetryOnError:          true,
		MaxRetries:            2,
		RetryBackoff:          time.Millisecond,
	}, nil)

	actions := []reconcile.Action{followAction("a"), followAction("b")}
	outcomes, err := actionExecutor.Execute(context.Background(), actions, promotion.Records{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	failed := outcomeFor(t, outcomes, "a")
	if failed.Success || failed.Attempts != 3 {
		t.Fatalf("expected exhausted retries after 3 attempts, got %+v", failed)
	}
	succeeded := outcomeFor(t, outcomes, "b")
	if !succeeded.Success {
		t.Fatalf("expected sibling action to succeed, got %+v", succeeded)
	}
}

func TestExecuteNotFoundIsBenignAndNeverRetried(t *testing.T) {
	mutator := newScriptedMutator()
	mutator.script("gone", githubapi.NewNotFoundError("vanished"))

	actionExecutor := executor.New(mutator, executor.Config{
		BatchSize:             2,
		MaxConcurrentRequests: 2,
		RetryOnError:          true,
		MaxRetries:            3,
	}, nil)

	actions := []reconcile.Action{unfollowAction("gone"), followAction("b")}
	outcomes, err := actionExecutor.Execute(context.Background(), actions, promotion.Records{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	benign := outcomeFor(t, outcomes, "gone")
	if benign.Success || benign.Attempts != 1 || !githubapi.IsNotFound(benign.Err) {
		t.Fatalf("expected single benign not-found failure, got %+v", benign)
	}
	if mutator.attempts("gone") != 1 {
		t.Fatalf("expected 1 attempt against gone, got %d", mutator.attempts("gone"))
	}
}

func TestExecuteAuthErrorHaltsRemainingBatches(t *testing.T) {
	mutator := newScriptedMutator()
	mutator.script("a", githubapi.NewAuthError("bad credentials"))

	actionExecutor := executor.New(mutator, executor.Config{
		BatchSize:             1,
		MaxConcurrentRequests: 1,
		RetryOnError:          true,
		MaxRetries:            3,
	}, nil)

	actions := []reconcile.Action{followAction("a"), followAction("b"), followAction("c")}
	outcomes, err := actionExecutor.Execute(context.Background(), actions, promotion.Records{})
	if !githubapi.IsAuth(err) {
		t.Fatalf("expected auth error from Execute, got %v", err)
	}
	if len(outcomes) != 1 {
		t.Fatalf("expected only the failing outcome, got %v", outcomes)
	}
	if mutator.attempts("b") != 0 || mutator.attempts("c") != 0 {
		t.Fatalf("expected remaining actions never attempted, got b=%d c=%d", mutator.attempts("b"), mutator.attempts("c"))
	}
}

// gatedMutator keeps "slow" in flight until "fast" has already failed with an
// authentication error, then reports whether the halt aborted slow's request.
type gatedMutator struct {
	slowStarted chan struct{}
	fastDone    chan struct{}
}

func newGatedMutator() *gatedMutator {
	return &gatedMutator{
		slowStarted: make(chan struct{}),
		fastDone:    make(chan struct{}),
	}
}

func (mutator *gatedMutator) Follow(ctx context.Context, login string) error {
	if login == "fast" {
		defer close(mutator.fastDone)
		<-mutator.slowStarted
		return githubapi.NewAuthError("bad credentials")
	}

	close(mutator.slowStarted)
	<-mutator.fastDone
	time.Sleep(50 * time.Millisecond)
	if ctx.Err() != nil {
		return githubapi.NewNetworkError("request aborted", ctx.Err())
	}
	return nil
}

func (mutator *gatedMutator) Unfollow(ctx context.Context, login string) error {
	return mutator.Follow(ctx, login)
}

func TestExecuteAuthHaltLetsInFlightActionFinish(t *testing.T) {
	mutator := newGatedMutator()
	actionExecutor := executor.New(mutator, executor.Config{BatchSize: 2, MaxConcurrentRequests: 2}, nil)

	records := promotion.Records{}
	actions := []reconcile.Action{
		followAction("fast"),
		{Kind: reconcile.ActionKindFollow, Login: "slow", Reason: reconcile.ReasonPromotionNew},
	}
	outcomes, err := actionExecutor.Execute(context.Background(), actions, records)
	if !githubapi.IsAuth(err) {
		t.Fatalf("expected auth error from Execute, got %v", err)
	}
	if len(outcomes) != 2 {
		t.Fatalf("expected outcomes for both started actions, got %v", outcomes)
	}

	inFlight := outcomeFor(t, outcomes, "slow")
	if !inFlight.Success || inFlight.Attempts != 1 {
		t.Fatalf("expected in-flight action to finish despite the halt, got %+v", inFlight)
	}
	if !records.Contains("slow") {
		t.Fatal("expected the finished promotion follow to enter the store")
	}
}

func TestExecuteConcurrencyBound(t *testing.T) {
	mutator := newScriptedMutator()
	mutator.requestDelay = 10 * time.Millisecond

	maxConcurrent := 3
	actionExecutor := executor.New(mutator, executor.Config{
		BatchSize:             6,
		MaxConcurrentRequests: maxConcurrent,
	}, nil)

	var actions []reconcile.Action
	for _, login := range []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j", "k", "l"} {
		actions = append(actions, followAction(login))
	}

	outcomes, err := actionExecutor.Execute(context.Background(), actions, promotion.Records{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(outcomes) != len(actions) {
		t.Fatalf("expected %d outcomes, got %d", len(actions), len(outcomes))
	}
	if observed := int(mutator.maxInFlight.Load()); observed > maxConcurrent {
		t.Fatalf("in-flight requests peaked at %d, bound is %d", observed, maxConcurrent)
	}
}

func TestExecuteMutatesPromotionRecords(t *testing.T) {
	mutator := newScriptedMutator()
	actionExecutor := executor.New(mutator, executor.Config{BatchSize: 4, MaxConcurrentRequests: 2}, nil)

	records := promotion.Records{}
	records.Add("expired", time.Now().Add(-72*time.Hour))

	actions := []reconcile.Action{
		{Kind: reconcile.ActionKindUnfollow, Login: "expired", Reason: reconcile.ReasonPromotionExpired},
		{Kind: reconcile.ActionKindFollow, Login: "fresh", Reason: reconcile.ReasonPromotionNew},
		{Kind: reconcile.ActionKindFollow, Login: "friend", Reason: reconcile.ReasonReciprocate},
	}
	if _, err := actionExecutor.Execute(context.Background(), actions, records); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if records.Contains("expired") {
		t.Fatal("expected successful unfollow to remove the record")
	}
	if !records.Contains("fresh") {
		t.Fatal("expected successful promotion follow to enter the store")
	}
	if records.Contains("friend") {
		t.Fatal("reciprocate follows must not enter the store")
	}
}

func TestExecuteFailedPromotionFollowLeavesStoreUntouched(t *testing.T) {
	mutator := newScriptedMutator()
	mutator.script("fresh", githubapi.NewNotFoundError("vanished"))

	actionExecutor := executor.New(mutator, executor.Config{BatchSize: 1, MaxConcurrentRequests: 1}, nil)

	records := promotion.Records{}
	actions := []reconcile.Action{{Kind: reconcile.ActionKindFollow, Login: "fresh", Reason: reconcile.ReasonPromotionNew}}
	if _, err := actionExecutor.Execute(context.Background(), actions, records); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if records.Contains("fresh") {
		t.Fatal("failed follow must not enter the store")
	}
}
