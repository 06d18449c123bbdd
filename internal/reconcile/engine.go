// Package reconcile computes the follow/unfollow actions required to bring
// the account's social graph in line with policy. The computation is pure:
// deterministic given its inputs and free of I/O.
package reconcile

import (
	"sort"
	"time"

	"github.com/g-sync/gsync/internal/promotion"
)

// ActionKind distinguishes the two mutations the platform supports.
type ActionKind string

const (
	// ActionKindFollow follows the target login.
	ActionKindFollow ActionKind = "follow"
	// ActionKindUnfollow unfollows the target login.
	ActionKindUnfollow ActionKind = "unfollow"
)

// Reason tags explaining why an action was produced.
const (
	ReasonReciprocate      = "reciprocate"
	ReasonPromotionExpired = "promotion-expired"
	ReasonPromotionNew     = "promotion-new"
	ReasonNonReciprocating = "non-reciprocating"
)

// Action is a single decided mutation. Immutable once created and consumed
// exactly once by the executor.
type Action struct {
	Kind   ActionKind
	Login  string
	Reason string
}

// BanLists carries the three declarative exclusion sets, keyed by normalized
// login. They are read-only inputs for a run.
type BanLists struct {
	NeverFollow      map[string]struct{}
	NeverUnfollow    map[string]struct{}
	IgnoreCompletely map[string]struct{}
}

// Input gathers everything the engine needs for one reconciliation pass.
type Input struct {
	Followers map[string]struct{}
	Following map[string]struct{}
	BanLists  BanLists
	Promoted  promotion.Records

	// Candidates is the ordered promotion candidate pool discovered from the
	// second-degree network. Only consulted when PromotionEnabled is set.
	Candidates       []string
	PromotionEnabled bool
	DaysPeriod       int
	CountUsers       int

	// UnfollowNonReciprocating gates whether non-promoted accounts that do
	// not follow back become unfollow candidates.
	UnfollowNonReciprocating bool

	Now time.Time
}

// Plan is the engine's output: the ordered action list plus the promoted
// logins that reciprocated and must leave the store without any action.
type Plan struct {
	Actions      []Action
	Reciprocated []string

	// Snapshot sizes after ignore filtering, kept for reporting.
	FollowerCount  int
	FollowingCount int
	MutualCount    int
}

// Compute runs the reconciliation algorithm. Unfollow actions precede follow
// actions; within each kind the order is deterministic for a given input.
func Compute(input Input) Plan {
	followers := withoutSet(input.Followers, input.BanLists.IgnoreCompletely)
	following := withoutSet(input.Following, input.BanLists.IgnoreCompletely)

	mutual := intersect(followers, following)

	plan := Plan{
		FollowerCount:  len(followers),
		FollowingCount: len(following),
		MutualCount:    len(mutual),
	}

	// Promoted logins that became mutual leave the store silently.
	remainingPromoted := promotion.Records{}
	for login, record := range input.Promoted {
		if _, isMutual := mutual[login]; isMutual {
			plan.Reciprocated = append(plan.Reciprocated, login)
			continue
		}
		remainingPromoted[login] = record
	}
	sort.Strings(plan.Reciprocated)

	var unfollowActions []Action
	expiredSet := make(map[string]struct{})
	for _, login := range remainingPromoted.Expired(input.Now, input.DaysPeriod) {
		expiredSet[login] = struct{}{}
		if _, isMutual := mutual[login]; isMutual {
			continue
		}
		if _, isProtected := input.BanLists.NeverUnfollow[login]; isProtected {
			continue
		}
		unfollowActions = append(unfollowActions, Action{Kind: ActionKindUnfollow, Login: login, Reason: ReasonPromotionExpired})
	}

	if input.UnfollowNonReciprocating {
		for _, login := range sortedLogins(following) {
			if _, isFollower := followers[login]; isFollower {
				continue
			}
			if _, isProtected := input.BanLists.NeverUnfollow[login]; isProtected {
				continue
			}
			if remainingPromoted.Contains(login) {
				continue
			}
			unfollowActions = append(unfollowActions, Action{Kind: ActionKindUnfollow, Login: login, Reason: ReasonNonReciprocating})
		}
	}

	var followActions []Action
	for _, login := range sortedLogins(followers) {
		if _, isFollowing := following[login]; isFollowing {
			continue
		}
		if _, isBanned := input.BanLists.NeverFollow[login]; isBanned {
			continue
		}
		followActions = append(followActions, Action{Kind: ActionKindFollow, Login: login, Reason: ReasonReciprocate})
	}

	if input.PromotionEnabled {
		capacity := input.CountUsers - activePromotedCount(remainingPromoted, expiredSet)
		for _, candidateLogin := range input.Candidates {
			if capacity <= 0 {
				break
			}
			if !isPromotionCandidate(candidateLogin, following, remainingPromoted, input.BanLists) {
				continue
			}
			followActions = append(followActions, Action{Kind: ActionKindFollow, Login: candidateLogin, Reason: ReasonPromotionNew})
			capacity--
		}
	}

	plan.Actions = append(unfollowActions, followActions...)
	return plan
}

// activePromotedCount counts store entries still occupying promotion quota:
// reciprocated logins are already gone and expired ones are slated for
// unfollow, so neither holds capacity.
func activePromotedCount(remainingPromoted promotion.Records, expiredSet map[string]struct{}) int {
	active := 0
	for login := range remainingPromoted {
		if _, isExpired := expiredSet[login]; isExpired {
			continue
		}
		active++
	}
	return active
}

func isPromotionCandidate(login string, following map[string]struct{}, promoted promotion.Records, banLists BanLists) bool {
	if _, isFollowing := following[login]; isFollowing {
		return false
	}
	if _, isIgnored := banLists.IgnoreCompletely[login]; isIgnored {
		return false
	}
	if _, isBanned := banLists.NeverFollow[login]; isBanned {
		return false
	}
	return !promoted.Contains(login)
}

func intersect(first map[string]struct{}, second map[string]struct{}) map[string]struct{} {
	intersection := make(map[string]struct{})
	for login := range first {
		if _, exists := second[login]; exists {
			intersection[login] = struct{}{}
		}
	}
	return intersection
}

func withoutSet(source map[string]struct{}, excluded map[string]struct{}) map[string]struct{} {
	filtered := make(map[string]struct{}, len(source))
	for login := range source {
		if _, isExcluded := excluded[login]; isExcluded {
			continue
		}
		filtered[login] = struct{}{}
	}
	return filtered
}

func sortedLogins(logins map[string]struct{}) []string {
	sorted := make([]string, 0, len(logins))
	for login := range logins {
		sorted = append(sorted, login)
	}
	sort.Strings(sorted)
	return sorted
}
