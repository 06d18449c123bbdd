// Package report aggregates snapshot sizes and action outcomes into the run
// summary consumed by external notification code.
package report

import (
	"github.com/g-sync/gsync/internal/executor"
	"github.com/g-sync/gsync/internal/reconcile"
)

// KindSummary counts attempted, succeeded and failed actions of one kind.
type KindSummary struct {
	Attempted int `json:"attempted"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// RunSummary is the sole externally visible result of a run. Counts derive
// from the pre-reconciliation snapshot, never from a re-fetch.
type RunSummary struct {
	Followers        int         `json:"followers"`
	Following        int         `json:"following"`
	Mutual           int         `json:"mutual"`
	NotFollowingBack int         `json:"not_following_back"`
	NotFollowedBack  int         `json:"not_followed_back"`
	Follows          KindSummary `json:"follows"`
	Unfollows        KindSummary `json:"unfollows"`
	PromotedActive   int         `json:"promoted_active"`
	PromotedExpired  int         `json:"promoted_expired"`
}

// Summarize derives the run summary from a computed plan and the outcomes the
// executor produced. It has no side effects.
func Summarize(plan reconcile.Plan, outcomes []executor.Outcome) RunSummary {
	summary := RunSummary{
		Followers:        plan.FollowerCount,
		Following:        plan.FollowingCount,
		Mutual:           plan.MutualCount,
		NotFollowingBack: plan.FollowingCount - plan.MutualCount,
		NotFollowedBack:  plan.FollowerCount - plan.MutualCount,
	}

	for _, outcome := range outcomes {
		kindSummary := &summary.Unfollows
		if outcome.Action.Kind == reconcile.ActionKindFollow {
			kindSummary = &summary.Follows
		}
		kindSummary.Attempted++
		if outcome.Success {
			kindSummary.Succeeded++
		} else {
			kindSummary.Failed++
		}
	}
	return summary
}
