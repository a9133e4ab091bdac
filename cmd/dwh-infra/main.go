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
	"github.com/hasib457/sparfiy-dwh/internal/provision"
)

var (
	configPath  string
	logLevelStr string
	doCreate    bool
	doDelete    bool
)

var rootCmd = &cobra.Command{
	Use:   "dwh-infra",
	Short: "provisions and tears down the Sparkify warehouse",
	Run:   run,
}

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", "dwh.cfg", "path to the warehouse config file")
	rootCmd.Flags().StringVar(&logLevelStr, "log-level", log.InfoLevel.String(), "log level")
	rootCmd.Flags().BoolVar(&doCreate, "create", false, "create the IAM role, the cluster and the ingress rule")
	rootCmd.Flags().BoolVar(&doDelete, "delete", false, "delete the cluster, the IAM role and the ingress rule")
	rootCmd.MarkFlagsMutuallyExclusive("create", "delete")
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	if err := rootCmd.Execute(); err != nil {
		log.WithError(err).Fatal("error executing command")
	}
}

func run(cmd *cobra.Command, _ []string) {
	logger := newLogger()

	if !doCreate && !doDelete {
		logger.Info("no action specified, use --create or --delete")
		return
	}

	ctx := setupSignals()

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.WithError(err).Fatal("cannot load config")
	}

	clients, err := cloud.New(ctx, cfg.Key, cfg.Secret)
	if err != nil {
		logger.WithError(err).Fatal("cannot build aws clients")
	}

	p := provision.New(cfg, clients.IAM, clients.Redshift, clients.EC2, logger)

	var results []provision.StepResult
	if doCreate {
		results = p.CreateAll(ctx)
	} else {
		results = p.DeleteAll(ctx)
	}

	// Steps are best-effort; failures were logged above and the process
	// still exits 0. Rerunning resumes where the last run stopped.
	if n := provision.FailedCount(results); n > 0 {
		logger.Warnf("%d of %d steps failed, %s may be partially updated", n, len(results), configPath)
	} else {
		logger.Infof("all %d steps completed", len(results))
	}
}

func newLogger() log.FieldLogger {
	logger := log.WithFields(log.Fields{
		"app": "dwh-infra",
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
