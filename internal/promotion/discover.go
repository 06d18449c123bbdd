package promotion

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/g-sync/gsync/internal/githubapi"
)

const (
	defaultDiscoverySeedsCount   = 5
	defaultDiscoveryPagesPerSeed = 2
	defaultDiscoveryMaxPage      = 5
	defaultDiscoveryConcurrency  = 3
	logMessageSeedPageFailed     = "seed follower page fetch failed"
	logMessageDiscoveryFinished  = "promotion discovery finished"
	logFieldSeedLogin            = "seed"
	logFieldPageNumber           = "page"
	logFieldCandidateCount       = "candidates"
)

// FollowerPageLister fetches a single page of followers for an arbitrary login.
type FollowerPageLister interface {
	ListFollowersOf(ctx context.Context, login string, page int) ([]string, error)
}

// DiscoveryConfig tunes how the second-degree network is sampled.
type DiscoveryConfig struct {
	SeedsCount    int
	PagesPerSeed  int
	MaxRandomPage int
	MaxConcurrent int
	Logger        *zap.Logger
}

// Discoverer builds the promotion candidate pool by sampling the followers of
// the account's own followers.
type Discoverer struct {
	lister        FollowerPageLister
	seedsCount    int
	pagesPerSeed  int
	maxConcurrent int
	logger        *zap.Logger
}

// NewDiscoverer constructs a Discoverer with defaults applied.
func NewDiscoverer(lister FollowerPageLister, configuration DiscoveryConfig) *Discoverer {
	seedsCount := configuration.SeedsCount
	if seedsCount <= 0 {
		seedsCount = defaultDiscoverySeedsCount
	}
	pagesPerSeed := configuration.PagesPerSeed
	if pagesPerSeed <= 0 {
		pagesPerSeed = defaultDiscoveryPagesPerSeed
	}
	maxPage := configuration.MaxRandomPage
	if maxPage <= 0 {
		maxPage = defaultDiscoveryMaxPage
	}
	if pagesPerSeed > maxPage {
		pagesPerSeed = maxPage
	}
	maxConcurrent := configuration.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = defaultDiscoveryConcurrency
	}
	logger := configuration.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Discoverer{
		lister:        lister,
		seedsCount:    seedsCount,
		pagesPerSeed:  pagesPerSeed,
		maxConcurrent: maxConcurrent,
		logger:        logger,
	}
}

// Discover returns up to count candidate logins from the second-degree
// network, ordered by follower-of-follower frequency descending and then
// lexicographically. Logins present in the exclusion set never appear.
// Discovery is deterministic for a given follower snapshot: seeds are the
// lexicographically first followers and pages are sampled in order.
func (discoverer *Discoverer) Discover(ctx context.Context, followers map[string]struct{}, excluded map[string]struct{}, count int) ([]string, error) {
	if count <= 0 || len(followers) == 0 {
		return nil, nil
	}

	seeds := sortedLogins(followers)
	if len(seeds) > discoverer.seedsCount {
		seeds = seeds[:discoverer.seedsCount]
	}

	var (
		frequencyMutex   sync.Mutex
		frequencyByLogin = make(map[string]int)
		group, groupCtx  = errgroup.WithContext(ctx)
	)
	group.SetLimit(discoverer.maxConcurrent)

	for _, seedLogin := range seeds {
		for page := 1; page <= discoverer.pagesPerSeed; page++ {
			seedLogin := seedLogin
			page := page
			group.Go(func() error {
				pageLogins, fetchErr := discoverer.lister.ListFollowersOf(groupCtx, seedLogin, page)
				if fetchErr != nil {
					// Credential failures abort discovery; anything else only
					// costs this page.
					if githubapi.IsAuth(fetchErr) {
						return fetchErr
					}
					discoverer.logger.Warn(logMessageSeedPageFailed,
						zap.String(logFieldSeedLogin, seedLogin),
						zap.Int(logFieldPageNumber, page),
						zap.Error(fetchErr))
					return nil
				}
				frequencyMutex.Lock()
				for _, login := range pageLogins {
					frequencyByLogin[login]++
				}
				frequencyMutex.Unlock()
				return nil
			})
		}
	}

	if waitErr := group.Wait(); waitErr != nil {
		return nil, waitErr
	}

	candidates := rankCandidates(frequencyByLogin, excluded, count)
	discoverer.logger.Info(logMessageDiscoveryFinished, zap.Int(logFieldCandidateCount, len(candidates)))
	return candidates, nil
}

// rankCandidates orders logins by frequency descending, breaking ties
// lexicographically, and trims to the requested count.
func rankCandidates(frequencyByLogin map[string]int, excluded map[string]struct{}, count int) []string {
	candidates := make([]string, 0, len(frequencyByLogin))
	for login := range frequencyByLogin {
		if _, isExcluded := excluded[login]; isExcluded {
			continue
		}
		candidates = append(candidates, login)
	}
	sort.Slice(candidates, func(firstIndex, secondIndex int) bool {
		firstLogin := candidates[firstIndex]
		secondLogin := candidates[secondIndex]
		if frequencyByLogin[firstLogin] != frequencyByLogin[secondLogin] {
			return frequencyByLogin[firstLogin] > frequencyByLogin[secondLogin]
		}
		return firstLogin < secondLogin
	})
	if len(candidates) > count {
		candidates = candidates[:count]
	}
	return candidates
}

func sortedLogins(logins map[string]struct{}) []string {
	sorted := make([]string, 0, len(logins))
	for login := range logins {
		sorted = append(sorted, login)
	}
	sort.Strings(sorted)
	return sorted
}
