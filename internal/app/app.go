// Package app orchestrates a single reconciliation pass: snapshot fetch,
// planning, execution, store persistence and summary.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/g-sync/gsync/internal/config"
	"github.com/g-sync/gsync/internal/executor"
	"github.com/g-sync/gsync/internal/githubapi"
	"github.com/g-sync/gsync/internal/promotion"
	"github.com/g-sync/gsync/internal/reconcile"
	"github.com/g-sync/gsync/internal/report"
)

const (
	errMessageLoadStore          = "load promotion store"
	errMessageSaveStore          = "save promotion store"
	errMessageFetchFollowers     = "fetch followers"
	errMessageFetchFollowing     = "fetch following"
	errMessageDiscoverCandidates = "discover promotion candidates"
	logMessageSnapshotFetched    = "snapshot fetched"
	logMessagePlanComputed       = "reconciliation plan computed"
	logMessageRunFinished        = "reconciliation run finished"
	logFieldFollowerCount        = "followers"
	logFieldFollowingCount       = "following"
	logFieldMutualCount          = "mutual"
	logFieldActionCount          = "actions"
	logFieldReciprocatedCount    = "reciprocated"
	logFieldFollowsSucceeded     = "follows_succeeded"
	logFieldUnfollowsSucceeded   = "unfollows_succeeded"
)

// Client is the full API surface the application consumes.
type Client interface {
	ListFollowers(ctx context.Context) (map[string]struct{}, error)
	ListFollowing(ctx context.Context) (map[string]struct{}, error)
	ListFollowersOf(ctx context.Context, login string, page int) ([]string, error)
	Follow(ctx context.Context, login string) error
	Unfollow(ctx context.Context, login string) error
}

// App wires the client, the promotion store and the configuration into the
// run and stats entry points.
type App struct {
	client        Client
	store         promotion.Store
	configuration config.Config
	logger        *zap.Logger
	now           func() time.Time
}

// New constructs an App. A nil logger disables logging.
func New(client Client, store promotion.Store, configuration config.Config, logger *zap.Logger) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &App{
		client:        client,
		store:         store,
		configuration: configuration,
		logger:        logger,
		now:           time.Now,
	}
}

// Run performs a full reconciliation pass. Whatever promotion store mutations
// succeeded are persisted even when the run fails partway.
func (application *App) Run(ctx context.Context) (report.RunSummary, error) {
	records, loadErr := application.store.Load()
	if loadErr != nil {
		return report.RunSummary{}, fmt.Errorf("%s: %w", errMessageLoadStore, loadErr)
	}

	followers, following, fetchErr := application.fetchSnapshot(ctx)
	if fetchErr != nil {
		return report.RunSummary{}, fetchErr
	}

	banLists := banListsFromConfig(application.configuration.BanLists)
	now := application.now()

	candidates, discoverErr := application.discoverCandidates(ctx, followers, following, banLists, records, now)
	if discoverErr != nil {
		return report.RunSummary{}, fmt.Errorf("%s: %w", errMessageDiscoverCandidates, discoverErr)
	}

	plan := reconcile.Compute(reconcile.Input{
		Followers:                followers,
		Following:                following,
		BanLists:                 banLists,
		Promoted:                 records,
		Candidates:               candidates,
		PromotionEnabled:         application.configuration.Promotion.Enabled,
		DaysPeriod:               application.configuration.Promotion.DaysPeriod,
		CountUsers:               application.configuration.Promotion.CountUsers,
		UnfollowNonReciprocating: application.configuration.Settings.UnfollowNonReciprocating,
		Now:                      now,
	})

	application.logger.Info(logMessagePlanComputed,
		zap.Int(logFieldActionCount, len(plan.Actions)),
		zap.Int(logFieldReciprocatedCount, len(plan.Reciprocated)))

	// Reciprocated promotions leave the store without an action.
	for _, login := range plan.Reciprocated {
		records.Remove(login)
	}

	actionExecutor := executor.New(application.client, executor.Config{
		BatchSize:             application.configuration.Settings.BatchSize,
		MaxConcurrentRequests: application.configuration.Settings.MaxConcurrentRequests,
		RequestDelay:          application.configuration.Settings.RequestDelay,
		RetryOnError:          application.configuration.Settings.RetryOnError,
		MaxRetries:            application.configuration.Settings.MaxRetries,
		RetryBackoff:          application.configuration.Settings.RetryBackoff,
	}, application.logger)

	outcomes, execErr := actionExecutor.Execute(ctx, plan.Actions, records)

	saveErr := application.store.Save(records)
	if saveErr != nil {
		saveErr = fmt.Errorf("%s: %w", errMessageSaveStore, saveErr)
	}

	summary := report.Summarize(plan, outcomes)
	application.applyPromotionCounts(&summary, records, now)

	application.logger.Info(logMessageRunFinished,
		zap.Int(logFieldFollowerCount, summary.Followers),
		zap.Int(logFieldFollowingCount, summary.Following),
		zap.Int(logFieldMutualCount, summary.Mutual),
		zap.Int(logFieldFollowsSucceeded, summary.Follows.Succeeded),
		zap.Int(logFieldUnfollowsSucceeded, summary.Unfollows.Succeeded))

	return summary, errors.Join(execErr, saveErr)
}

// Stats performs the read-only mode: snapshot fetch and summary computation
// with no actions produced, executed or persisted.
func (application *App) Stats(ctx context.Context) (report.RunSummary, error) {
	records, loadErr := application.store.Load()
	if loadErr != nil {
		return report.RunSummary{}, fmt.Errorf("%s: %w", errMessageLoadStore, loadErr)
	}

	followers, following, fetchErr := application.fetchSnapshot(ctx)
	if fetchErr != nil {
		return report.RunSummary{}, fetchErr
	}

	plan := reconcile.Compute(reconcile.Input{
		Followers: followers,
		Following: following,
		BanLists:  banListsFromConfig(application.configuration.BanLists),
		Promoted:  records,
		Now:       application.now(),
	})

	summary := report.Summarize(plan, nil)
	application.applyPromotionCounts(&summary, records, application.now())
	return summary, nil
}

func (application *App) fetchSnapshot(ctx context.Context) (map[string]struct{}, map[string]struct{}, error) {
	var (
		followers map[string]struct{}
		following map[string]struct{}
	)
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		fetched, err := application.client.ListFollowers(groupCtx)
		if err != nil {
			return fmt.Errorf("%s: %w", errMessageFetchFollowers, err)
		}
		followers = fetched
		return nil
	})
	group.Go(func() error {
		fetched, err := application.client.ListFollowing(groupCtx)
		if err != nil {
			return fmt.Errorf("%s: %w", errMessageFetchFollowing, err)
		}
		following = fetched
		return nil
	})
	if waitErr := group.Wait(); waitErr != nil {
		return nil, nil, waitErr
	}

	application.logger.Info(logMessageSnapshotFetched,
		zap.Int(logFieldFollowerCount, len(followers)),
		zap.Int(logFieldFollowingCount, len(following)))
	return followers, following, nil
}

// discoverCandidates samples the second-degree network when promotion is
// enabled and quota remains. Quota counts only store entries still holding a
// slot: reciprocated and expired entries free theirs, so their replacements
// are discovered within the same run.
func (application *App) discoverCandidates(ctx context.Context, followers map[string]struct{}, following map[string]struct{}, banLists reconcile.BanLists, records promotion.Records, now time.Time) ([]string, error) {
	promotionConfiguration := application.configuration.Promotion
	if !promotionConfiguration.Enabled {
		return nil, nil
	}
	active := activePromotedRecords(records, followers, following, now, promotionConfiguration.DaysPeriod)
	needed := promotionConfiguration.CountUsers - active
	if needed <= 0 {
		return nil, nil
	}

	excluded := make(map[string]struct{})
	for login := range followers {
		excluded[login] = struct{}{}
	}
	for login := range following {
		excluded[login] = struct{}{}
	}
	for login := range banLists.NeverFollow {
		excluded[login] = struct{}{}
	}
	for login := range banLists.IgnoreCompletely {
		excluded[login] = struct{}{}
	}
	for login := range records {
		excluded[login] = struct{}{}
	}
	excluded[githubapi.NormalizeLogin(application.configuration.Username)] = struct{}{}

	discoverer := promotion.NewDiscoverer(application.client, promotion.DiscoveryConfig{
		SeedsCount:    promotionConfiguration.SeedsCount,
		PagesPerSeed:  promotionConfiguration.PagesPerSeed,
		MaxRandomPage: promotionConfiguration.MaxRandomPage,
		MaxConcurrent: application.configuration.Settings.MaxConcurrentRequests,
		Logger:        application.logger,
	})
	return discoverer.Discover(ctx, followers, excluded, needed)
}

// activePromotedRecords counts store entries still occupying promotion quota,
// matching the planning engine's capacity accounting: mutual logins leave the
// store silently and expired ones are slated for unfollow, so neither holds a
// slot.
func activePromotedRecords(records promotion.Records, followers map[string]struct{}, following map[string]struct{}, now time.Time, daysPeriod int) int {
	active := 0
	for login, record := range records {
		_, isFollower := followers[login]
		_, isFollowing := following[login]
		if isFollower && isFollowing {
			continue
		}
		if record.Eligible(now, daysPeriod) {
			continue
		}
		active++
	}
	return active
}

func (application *App) applyPromotionCounts(summary *report.RunSummary, records promotion.Records, now time.Time) {
	if !application.configuration.Promotion.Enabled {
		return
	}
	expired := len(records.Expired(now, application.configuration.Promotion.DaysPeriod))
	summary.PromotedActive = len(records) - expired
	summary.PromotedExpired = expired
}

func banListsFromConfig(banLists config.BanListsConfig) reconcile.BanLists {
	return reconcile.BanLists{
		NeverFollow:      normalizedSet(banLists.NeverFollow),
		NeverUnfollow:    normalizedSet(banLists.NeverUnfollow),
		IgnoreCompletely: normalizedSet(banLists.IgnoreCompletely),
	}
}

func normalizedSet(logins []string) map[string]struct{} {
	set := make(map[string]struct{}, len(logins))
	for _, login := range logins {
		normalizedLogin := githubapi.NormalizeLogin(login)
		if normalizedLogin != "" {
			set[normalizedLogin] = struct{}{}
		}
	}
	return set
}
