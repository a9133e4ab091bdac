package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/hasib457/sparfiy-dwh/internal/cloud"
	"github.com/hasib457/sparfiy-dwh/internal/config"
	"github.com/hasib457/sparfiy-dwh/internal/etl"
)

var (
	configPath  string
	logLevelStr string
	skipReset   bool
)

var rootCmd = &cobra.Command{
	Use:   "dwh-etl",
	Short: "loads the Sparkify warehouse from S3 and builds the star schema",
	Run:   run,
}

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", "dwh.cfg", "path to the warehouse config file")
	rootCmd.Flags().StringVar(&logLevelStr, "log-level", log.InfoLevel.String(), "log level")
	rootCmd.Flags().BoolVar(&skipReset, "skip-reset", false, "keep the existing schemas instead of dropping them first")
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	if err := rootCmd.Execute(); err != nil {
		log.WithError(err).Fatal("error executing command")
	}
}

func run(cmd *cobra.Command, _ []string) {
	logger := newLogger()
	ctx := setupSignals()

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.WithError(err).Fatal("cannot load config")
	}
	if cfg.RoleARN == "" {
		logger.Fatalf("no IAM_ROLE.ARN in %s, provision the warehouse first", configPath)
	}

	clients, err := cloud.New(ctx, cfg.Key, cfg.Secret)
	if err != nil {
		logger.WithError(err).Fatal("cannot build aws clients")
	}

	db, conn, err := etl.Connect(ctx, cfg)
	if err != nil {
		logger.WithError(err).Fatal("cannot connect to the warehouse")
	}
	defer db.Close()
	defer conn.Close()

	params := etl.CopyParams{
		RoleARN:     cfg.RoleARN,
		Region:      cloud.Region,
		LogData:     cfg.LogData,
		LogJSONPath: cfg.LogJSONPath,
		SongData:    cfg.SongData,
	}

	checker := etl.NewDatasetChecker(clients.S3, logger)
	runner := etl.NewRunner(conn, params, logger)

	err = runner.Run(ctx, etl.RunOptions{
		SkipReset: skipReset,
		Preflight: func(ctx context.Context) error {
			return checker.Verify(ctx, params)
		},
	})
	if err != nil {
		logger.WithError(err).Fatal("etl run failed")
	}
	logger.Info("etl run completed")
}

func newLogger() log.FieldLogger {
	logger := log.WithFields(log.Fields{
		"app": "dwh-etl",
	})
	logLevel, err := log.ParseLevel(logLevelStr)
	if err != nil {
		logger.WithError(err).Fatalf("invalid log level: %s", logLevelStr)
	}
	logger.Logger.Level = logLevel
	return logger
}

func setupSignals() context.Context {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sig := <-sigs
		log.Infof("got signal %s, shutting down", sig)
		cancel()
	}()
	return ctx
}
