package main

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/g-sync/gsync/internal/app"
	"github.com/g-sync/gsync/internal/config"
	"github.com/g-sync/gsync/internal/githubapi"
	"github.com/g-sync/gsync/internal/promotion"
	"github.com/g-sync/gsync/internal/report"
	"github.com/g-sync/gsync/internal/server"
)

const (
	rootCommandUse               = "gsync"
	rootCommandShortDescription  = "Reconcile the account's follower graph against policy"
	runCommandUse                = "run"
	runCommandShortDescription   = "Perform a full reconciliation run"
	statsCommandUse              = "stats"
	statsCommandShortDescription = "Fetch the current snapshot and print summary statistics"
	serveCommandUse              = "serve"
	serveCommandShortDescription = "Serve summary statistics over HTTP"
	envPrefix                    = "GSYNC"
	flagConfigName               = "config"
	flagConfigDescription        = "Path to the YAML configuration file"
	flagHostName                 = "host"
	flagHostDescription          = "Host interface for the HTTP server"
	flagPortName                 = "port"
	flagPortDescription          = "Port for the HTTP server"
	defaultConfigFileName        = "gsync.yaml"
	defaultHost                  = "127.0.0.1"
	defaultPort                  = 8080
	errMessageLoggerCreate       = "create logger"
	errMessageClientCreate       = "create api client"
	errMessageStoreCreate        = "create promotion store"
	errMessageListenAndServe     = "listen and serve"
	logMessageStartingServer     = "starting HTTP server"
	logMessageServerStopped      = "server stopped"
	logMessageListenError        = "server listen failure"
	logFieldAddress              = "address"
	summaryHeaderLine            = "Run summary"
	summaryLineFormat            = "  %-20s %d\n"
	summaryKindLineFormat        = "  %-20s attempted=%d succeeded=%d failed=%d\n"
)

func main() {
	cobra.CheckErr(newRootCommand().Execute())
}

func newRootCommand() *cobra.Command {
	rootCommand := &cobra.Command{
		Use:   rootCommandUse,
		Short: rootCommandShortDescription,
	}
	rootCommand.PersistentFlags().String(flagConfigName, defaultConfigFileName, flagConfigDescription)
	bindFlagToViper(rootCommand, flagConfigName)

	cobra.OnInitialize(configureEnvironment)

	rootCommand.AddCommand(newRunCommand())
	rootCommand.AddCommand(newStatsCommand())
	rootCommand.AddCommand(newServeCommand())
	return rootCommand
}

func bindFlagToViper(command *cobra.Command, flagName string) {
	flag := command.PersistentFlags().Lookup(flagName)
	if flag == nil {
		flag = command.Flags().Lookup(flagName)
	}
	cobra.CheckErr(viper.BindPFlag(flagName, flag))
}

func configureEnvironment() {
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func newRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   runCommandUse,
		Short: runCommandShortDescription,
		RunE:  runReconciliationCommand,
	}
}

func newStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   statsCommandUse,
		Short: statsCommandShortDescription,
		RunE:  runStatsCommand,
	}
}

func newServeCommand() *cobra.Command {
	serveCommand := &cobra.Command{
		Use:   serveCommandUse,
		Short: serveCommandShortDescription,
		RunE:  runServeCommand,
	}
	serveCommand.Flags().String(flagHostName, defaultHost, flagHostDescription)
	serveCommand.Flags().Int(flagPortName, defaultPort, flagPortDescription)
	bindFlagToViper(serveCommand, flagHostName)
	bindFlagToViper(serveCommand, flagPortName)
	return serveCommand
}

func runReconciliationCommand(command *cobra.Command, arguments []string) error {
	application, logger, err := newApplication()
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	summary, runErr := application.Run(command.Context())
	printSummary(summary)
	return runErr
}

func runStatsCommand(command *cobra.Command, arguments []string) error {
	application, logger, err := newApplication()
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	summary, statsErr := application.Stats(command.Context())
	if statsErr != nil {
		return statsErr
	}
	printSummary(summary)
	return nil
}

func runServeCommand(command *cobra.Command, arguments []string) error {
	application, logger, err := newApplication()
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	router, routerErr := server.NewRouter(server.RouterConfig{
		Stats:  application,
		Logger: logger,
	})
	if routerErr != nil {
		return routerErr
	}

	host := viper.GetString(flagHostName)
	port := viper.GetInt(flagPortName)
	address := fmt.Sprintf("%s:%d", host, port)
	logger.Info(logMessageStartingServer, zap.String(logFieldAddress, address))

	httpServer := &http.Server{Addr: address, Handler: router}
	if listenErr := httpServer.ListenAndServe(); listenErr != nil && !errors.Is(listenErr, http.ErrServerClosed) {
		logger.Error(logMessageListenError, zap.Error(listenErr))
		return fmt.Errorf("%s: %w", errMessageListenAndServe, listenErr)
	}

	logger.Info(logMessageServerStopped)
	return nil
}

func newApplication() (*app.App, *zap.Logger, error) {
	logger, loggerErr := zap.NewProduction()
	if loggerErr != nil {
		return nil, nil, fmt.Errorf("%s: %w", errMessageLoggerCreate, loggerErr)
	}

	configuration, configErr := config.Load(viper.GetString(flagConfigName))
	if configErr != nil {
		return nil, nil, configErr
	}

	client, clientErr := githubapi.NewClient(githubapi.Config{
		Username: configuration.Username,
		Token:    configuration.Token,
	})
	if clientErr != nil {
		return nil, nil, fmt.Errorf("%s: %w", errMessageClientCreate, clientErr)
	}

	store, storeErr := promotion.NewFileStore(configuration.Settings.PromotedUsersFile)
	if storeErr != nil {
		return nil, nil, fmt.Errorf("%s: %w", errMessageStoreCreate, storeErr)
	}

	return app.New(client, store, configuration, logger), logger, nil
}

func printSummary(summary report.RunSummary) {
	fmt.Println(summaryHeaderLine)
	fmt.Printf(summaryLineFormat, "followers", summary.Followers)
	fmt.Printf(summaryLineFormat, "following", summary.Following)
	fmt.Printf(summaryLineFormat, "mutual", summary.Mutual)
	fmt.Printf(summaryLineFormat, "not following back", summary.NotFollowingBack)
	fmt.Printf(summaryLineFormat, "not followed back", summary.NotFollowedBack)
	fmt.Printf(summaryKindLineFormat, "follows", summary.Follows.Attempted, summary.Follows.Succeeded, summary.Follows.Failed)
	fmt.Printf(summaryKindLineFormat, "unfollows", summary.Unfollows.Attempted, summary.Unfollows.Succeeded, summary.Unfollows.Failed)
	fmt.Printf(summaryLineFormat, "promoted active", summary.PromotedActive)
	fmt.Printf(summaryLineFormat, "promoted expired", summary.PromotedExpired)
}
