package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/g-sync/gsync/internal/githubapi"
)

const (
	keyGithubUsername                = "github.username"
	keyGithubToken                   = "github.token"
	keyPromotionEnabled              = "promotion.enabled"
	keyPromotionDaysPeriod           = "promotion.days_period"
	keyPromotionCountUsers           = "promotion.count_users"
	keyPromotionSeedsCount           = "promotion.seeds_count"
	keyPromotionPagesPerSeed         = "promotion.pages_per_seed"
	keyPromotionMaxPage              = "promotion.max_random_page"
	keySettingsRetryOnError          = "settings.retry_on_error"
	keySettingsMaxRetries            = "settings.max_retries"
	keySettingsMaxConcurrentRequests = "settings.max_concurrent_requests"
	keySettingsRequestDelay          = "settings.request_delay"
	keySettingsBatchSize             = "settings.batch_size"
	keySettingsRetryBackoff          = "settings.retry_backoff"
	keySettingsUnfollowNonReciprocal = "settings.unfollow_non_reciprocating"
	keySettingsPromotedUsersFile     = "settings.promoted_users_file"
	keyBanListsNeverFollow           = "ban_lists.never_follow"
	keyBanListsNeverUnfollow         = "ban_lists.never_unfollow"
	keyBanListsIgnoreCompletely      = "ban_lists.ignore_completely"
	defaultPromotionEnabled          = true
	defaultDaysPeriod                = 3
	defaultCountUsers                = 500
	defaultSeedsCount                = 5
	defaultPagesPerSeed              = 2
	defaultMaxRandomPage             = 5
	defaultRetryOnError              = true
	defaultMaxRetries                = 3
	defaultMaxConcurrentRequests     = 5
	defaultRequestDelay              = 500 * time.Millisecond
	defaultBatchSize                 = 5
	defaultRetryBackoff              = 2 * time.Second
	defaultUnfollowNonReciprocating  = true
	defaultPromotedUsersFileName     = "promoted_users.txt"
	errMessageReadConfiguration      = "read configuration file"
	errMessageMissingUsername        = "github.username is required"
	errMessageMissingToken           = "github.token is required"
	errMessageInvalidDaysPeriod      = "promotion.days_period must be at least 1"
	errMessageNegativeCountUsers     = "promotion.count_users cannot be negative"
	errMessageInvalidSeedsCount      = "promotion.seeds_count must be at least 1"
	errMessageInvalidPagesPerSeed    = "promotion.pages_per_seed must be at least 1"
	errMessageInvalidBatchSize       = "settings.batch_size must be at least 1"
	errMessageInvalidConcurrency     = "settings.max_concurrent_requests must be at least 1"
	errMessageNegativeMaxRetries     = "settings.max_retries cannot be negative"
	errMessageNegativeRequestDelay   = "settings.request_delay cannot be negative"
)

// PromotionConfig controls the proactive-follow policy.
type PromotionConfig struct {
	Enabled       bool
	DaysPeriod    int
	CountUsers    int
	SeedsCount    int
	PagesPerSeed  int
	MaxRandomPage int
}

// SettingsConfig controls execution pacing and retry behavior.
type SettingsConfig struct {
	RetryOnError             bool
	MaxRetries               int
	MaxConcurrentRequests    int
	RequestDelay             time.Duration
	BatchSize                int
	RetryBackoff             time.Duration
	UnfollowNonReciprocating bool
	PromotedUsersFile        string
}

// BanListsConfig carries the three declarative exclusion lists.
type BanListsConfig struct {
	NeverFollow      []string
	NeverUnfollow    []string
	IgnoreCompletely []string
}

// Config is the immutable configuration value threaded into the engine and
// controller. It is never mutated after Load returns.
type Config struct {
	Username  string
	Token     string
	Promotion PromotionConfig
	Settings  SettingsConfig
	BanLists  BanListsConfig
}

// Load reads and validates the YAML configuration at the given path.
func Load(path string) (Config, error) {
	viperInstance := viper.New()
	viperInstance.SetConfigFile(path)
	applyDefaults(viperInstance)

	if readErr := viperInstance.ReadInConfig(); readErr != nil {
		return Config{}, fmt.Errorf("%s: %w", errMessageReadConfiguration, readErr)
	}

	configuration := Config{
		Username: githubapi.NormalizeLogin(viperInstance.GetString(keyGithubUsername)),
		Token:    viperInstance.GetString(keyGithubToken),
		Promotion: PromotionConfig{
			Enabled:       viperInstance.GetBool(keyPromotionEnabled),
			DaysPeriod:    viperInstance.GetInt(keyPromotionDaysPeriod),
			CountUsers:    viperInstance.GetInt(keyPromotionCountUsers),
			SeedsCount:    viperInstance.GetInt(keyPromotionSeedsCount),
			PagesPerSeed:  viperInstance.GetInt(keyPromotionPagesPerSeed),
			MaxRandomPage: viperInstance.GetInt(keyPromotionMaxPage),
		},
		Settings: SettingsConfig{
			RetryOnError:             viperInstance.GetBool(keySettingsRetryOnError),
			MaxRetries:               viperInstance.GetInt(keySettingsMaxRetries),
			MaxConcurrentRequests:    viperInstance.GetInt(keySettingsMaxConcurrentRequests),
			RequestDelay:             viperInstance.GetDuration(keySettingsRequestDelay),
			BatchSize:                viperInstance.GetInt(keySettingsBatchSize),
			RetryBackoff:             viperInstance.GetDuration(keySettingsRetryBackoff),
			UnfollowNonReciprocating: viperInstance.GetBool(keySettingsUnfollowNonReciprocal),
			PromotedUsersFile:        viperInstance.GetString(keySettingsPromotedUsersFile),
		},
		BanLists: BanListsConfig{
			NeverFollow:      viperInstance.GetStringSlice(keyBanListsNeverFollow),
			NeverUnfollow:    viperInstance.GetStringSlice(keyBanListsNeverUnfollow),
			IgnoreCompletely: viperInstance.GetStringSlice(keyBanListsIgnoreCompletely),
		},
	}

	if validationErr := configuration.Validate(); validationErr != nil {
		return Config{}, validationErr
	}
	return configuration, nil
}

func applyDefaults(viperInstance *viper.Viper) {
	viperInstance.SetDefault(keyPromotionEnabled, defaultPromotionEnabled)
	viperInstance.SetDefault(keyPromotionDaysPeriod, defaultDaysPeriod)
	viperInstance.SetDefault(keyPromotionCountUsers, defaultCountUsers)
	viperInstance.SetDefault(keyPromotionSeedsCount, defaultSeedsCount)
	viperInstance.SetDefault(keyPromotionPagesPerSeed, defaultPagesPerSeed)
	viperInstance.SetDefault(keyPromotionMaxPage, defaultMaxRandomPage)
	viperInstance.SetDefault(keySettingsRetryOnError, defaultRetryOnError)
	viperInstance.SetDefault(keySettingsMaxRetries, defaultMaxRetries)
	viperInstance.SetDefault(keySettingsMaxConcurrentRequests, defaultMaxConcurrentRequests)
	viperInstance.SetDefault(keySettingsRequestDelay, defaultRequestDelay)
	viperInstance.SetDefault(keySettingsBatchSize, defaultBatchSize)
	viperInstance.SetDefault(keySettingsRetryBackoff, defaultRetryBackoff)
	viperInstance.SetDefault(keySettingsUnfollowNonReciprocal, defaultUnfollowNonReciprocating)
	viperInstance.SetDefault(keySettingsPromotedUsersFile, defaultPromotedUsersFileName)
}

// Validate enforces the startup invariants. Violations surface as validation
// errors before any network access happens.
func (configuration Config) Validate() error {
	if configuration.Username == "" {
		return githubapi.NewValidationError(errMessageMissingUsername)
	}
	if configuration.Token == "" {
		return githubapi.NewValidationError(errMessageMissingToken)
	}
	if configuration.Promotion.DaysPeriod < 1 {
		return githubapi.NewValidationError(errMessageInvalidDaysPeriod)
	}
	if configuration.Promotion.CountUsers < 0 {
		return githubapi.NewValidationError(errMessageNegativeCountUsers)
	}
	if configuration.Promotion.SeedsCount < 1 {
		return githubapi.NewValidationError(errMessageInvalidSeedsCount)
	}
	if configuration.Promotion.PagesPerSeed < 1 {
		return githubapi.NewValidationError(errMessageInvalidPagesPerSeed)
	}
	if configuration.Settings.BatchSize < 1 {
		return githubapi.NewValidationError(errMessageInvalidBatchSize)
	}
	if configuration.Settings.MaxConcurrentRequests < 1 {
		return githubapi.NewValidationError(errMessageInvalidConcurrency)
	}
	if configuration.Settings.MaxRetries < 0 {
		return githubapi.NewValidationError(errMessageNegativeMaxRetries)
	}
	if configuration.Settings.RequestDelay < 0 {
		return githubapi.NewValidationError(errMessageNegativeRequestDelay)
	}
	return nil
}
