package etl

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // postgres wire driver, Redshift speaks it
	log "github.com/sirupsen/logrus"

	"github.com/hasib457/sparfiy-dwh/internal/config"
)

// Execer is the slice of database/sql the runner needs. *sql.Conn and
// *sql.DB both satisfy it.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// DSN builds the keyword/value connection string for the endpoint stored in
// cfg after a provisioning run.
func DSN(cfg *config.Config) string {
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=require",
		cfg.Host, cfg.DBPort, cfg.DBName, cfg.DBUser, cfg.DBPassword)
}

// Connect opens the database and checks out the one connection the whole
// run executes on. database/sql pools by default; checking out a Conn keeps
// every statement on the same backend session.
func Connect(ctx context.Context, cfg *config.Config) (*sql.DB, *sql.Conn, error) {
	if cfg.Host == "" {
		return nil, nil, fmt.Errorf("no HOST in %s, provision the cluster first", cfg.Path())
	}

	db, err := sql.Open("postgres", DSN(cfg))
	if err != nil {
		return nil, nil, fmt.Errorf("open warehouse: %w", err)
	}
	conn, err := db.Conn(ctx)
	if err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("connect %s:%d: %w", cfg.Host, cfg.DBPort, err)
	}
	return db, conn, nil
}

// RunOptions tweak a pipeline run.
type RunOptions struct {
	// SkipReset keeps the existing schemas instead of dropping them first.
	SkipReset bool
	// Preflight, when set, runs before the staging loads. It only warns;
	// COPY is the authoritative failure when a dataset is unreadable.
	Preflight func(context.Context) error
}

// Runner executes the warehouse stages in order on one connection. Every
// statement runs without bind parameters, so multi-statement strings ride
// the simple protocol and each Exec commits on its own. The first SQL error
// aborts the run; committed statements stay committed.
type Runner struct {
	db     Execer
	params CopyParams
	log    log.FieldLogger
}

func NewRunner(db Execer, params CopyParams, logger log.FieldLogger) *Runner {
	return &Runner{db: db, params: params, log: logger.WithField("component", "etl")}
}

func (r *Runner) Run(ctx context.Context, opts RunOptions) error {
	if !opts.SkipReset {
		if err := r.ResetSchema(ctx); err != nil {
			return err
		}
	}
	if err := r.CreateSchema(ctx); err != nil {
		return err
	}
	if opts.Preflight != nil {
		if err := opts.Preflight(ctx); err != nil {
			r.log.WithError(err).Warn("dataset preflight failed, continuing to COPY")
		}
	}
	if err := r.LoadStaging(ctx); err != nil {
		return err
	}
	return r.Transform(ctx)
}

// ResetSchema drops both schemas with everything in them. Safe to run twice.
func (r *Runner) ResetSchema(ctx context.Context) error {
	return r.execAll(ctx, "reset-schema", DropStatements)
}

// CreateSchema builds the staging and star schema tables.
func (r *Runner) CreateSchema(ctx context.Context) error {
	return r.execAll(ctx, "create-schema", CreateStatements)
}

// LoadStaging bulk-loads the two staging tables from S3.
func (r *Runner) LoadStaging(ctx context.Context) error {
	return r.execAll(ctx, "load-staging", CopyStatements(r.params))
}

// Transform populates the dimensions and then the fact from staging.
func (r *Runner) Transform(ctx context.Context) error {
	return r.execAll(ctx, "transform", InsertStatements)
}

func (r *Runner) execAll(ctx context.Context, stage string, statements []string) error {
	stageLog := r.log.WithField("stage", stage)
	stageLog.Info("stage started")
	start := time.Now()

	for i, stmt := range statements {
		stageLog.Debugf("executing statement %d/%d: %s", i+1, len(statements), stmt)
		stmtStart := time.Now()
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%s statement %d/%d: %w", stage, i+1, len(statements), err)
		}
		stageLog.WithFields(log.Fields{
			"statement": fmt.Sprintf("%d/%d", i+1, len(statements)),
			"took":      time.Since(stmtStart).Round(time.Millisecond).String(),
		}).Info("statement committed")
	}

	stageLog.WithField("took", time.Since(start).Round(time.Millisecond).String()).Info("stage done")
	return nil
}
