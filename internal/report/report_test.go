package report_test

import (
	"errors"
	"testing"

	"github.com/g-sync/gsync/internal/executor"
	"github.com/g-sync/gsync/internal/reconcile"
	"github.com/g-sync/gsync/internal/report"
)

func TestSummarizeCounts(t *testing.T) {
	plan := reconcile.Plan{FollowerCount: 10, FollowingCount: 8, MutualCount: 6}
	outcomes := []executor.Outcome{
		{Action: reconcile.Action{Kind: reconcile.ActionKindFollow, Login: "a"}, Success: true, Attempts: 1},
		{Action: reconcile.Action{Kind: reconcile.ActionKindFollow, Login: "b"}, Success: false, Attempts: 3, Err: errors.New("boom")},
		{Action: reconcile.Action{Kind: reconcile.ActionKindUnfollow, Login: "c"}, Success: true, Attempts: 2},
	}

	summary := report.Summarize(plan, outcomes)

	if summary.Followers != 10 || summary.Following != 8 || summary.Mutual != 6 {
		t.Fatalf("unexpected snapshot counts %+v", summary)
	}
	if summary.NotFollowingBack != 2 || summary.NotFollowedBack != 4 {
		t.Fatalf("unexpected derived counts %+v", summary)
	}
	if summary.Follows != (report.KindSummary{Attempted: 2, Succeeded: 1, Failed: 1}) {
		t.Fatalf("unexpected follow summary %+v", summary.Follows)
	}
	if summary.Unfollows != (report.KindSummary{Attempted: 1, Succeeded: 1, Failed: 0}) {
		t.Fatalf("unexpected unfollow summary %+v", summary.Unfollows)
	}
}

func TestSummarizeNoOutcomes(t *testing.T) {
	summary := report.Summarize(reconcile.Plan{FollowerCount: 3, FollowingCount: 3, MutualCount: 3}, nil)
	if summary.Follows.Attempted != 0 || summary.Unfollows.Attempted != 0 {
		t.Fatalf("expected zero attempts, got %+v", summary)
	}
	if summary.NotFollowingBack != 0 || summary.NotFollowedBack != 0 {
		t.Fatalf("expected fully mutual graph, got %+v", summary)
	}
}
