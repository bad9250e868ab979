// Command evaluator runs one evaluation pass for a user and prints the ids of
// the achievements it unlocked, one per line.
//
//	evaluator -user u1
//	evaluator -seed -user u1
//	evaluator -user u1 -enrollment e1 -grade 8 -kind parcial -partial
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Jose-Baigorria/tracking-carrera/config"
	"github.com/Jose-Baigorria/tracking-carrera/internal/application/command"
	"github.com/Jose-Baigorria/tracking-carrera/internal/application/saga"
	"github.com/Jose-Baigorria/tracking-carrera/internal/bootstrap"
	"github.com/Jose-Baigorria/tracking-carrera/internal/infrastructure/tracing"
	"github.com/Jose-Baigorria/tracking-carrera/pkg/logger"
	"github.com/Jose-Baigorria/tracking-carrera/pkg/timeutil"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "evaluator: %v\n", err)
		os.Exit(1)
	}

	if err := run(ctx, cfg, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "evaluator: %v\n", err)
		if errors.Is(err, errUsage) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

var errUsage = errors.New("usage")

type options struct {
	userID  string
	seed    bool
	dbPath  string
	timeout time.Duration

	enrollmentID string
	grade        float64
	kind         string
	date         string
	partial      bool
	final        bool
	assignment   bool
	makeup       bool
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var o options
	fs := flag.NewFlagSet("evaluator", flag.ContinueOnError)
	fs.SetOutput(stderr)

	fs.StringVar(&o.userID, "user", "", "user id to evaluate (required)")
	fs.BoolVar(&o.seed, "seed", false, "upsert the embedded catalog before evaluating")
	fs.StringVar(&o.dbPath, "db", "", "sqlite database path (overrides STORE_SQLITE_PATH)")
	fs.DurationVar(&o.timeout, "timeout", time.Minute, "overall timeout")

	fs.StringVar(&o.enrollmentID, "enrollment", "", "record a grade on this enrollment before evaluating")
	fs.Float64Var(&o.grade, "grade", -2, "grade value 0-10, or -1 for a scheduled evaluation")
	fs.StringVar(&o.kind, "kind", "", "grade label such as parcial, final or tp")
	fs.StringVar(&o.date, "date", "", "grade date (YYYY-MM-DD), defaults to today")
	fs.BoolVar(&o.partial, "partial", false, "grade is a partial exam")
	fs.BoolVar(&o.final, "final", false, "grade is a final exam")
	fs.BoolVar(&o.assignment, "tp", false, "grade is an assignment")
	fs.BoolVar(&o.makeup, "makeup", false, "grade is a makeup exam")

	if err := fs.Parse(args); err != nil {
		return o, fmt.Errorf("%w: %v", errUsage, err)
	}
	if o.userID == "" {
		fs.Usage()
		return o, fmt.Errorf("%w: -user is required", errUsage)
	}
	if o.enrollmentID != "" && o.grade == -2 {
		return o, fmt.Errorf("%w: -enrollment needs -grade", errUsage)
	}
	return o, nil
}

func run(ctx context.Context, cfg *config.Config, args []string, stdout io.Writer) error {
	opts, err := parseFlags(args, os.Stderr)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()

	cfg.Engine.SeedCatalog = opts.seed
	cfg.Engine.AsyncEvents = false
	if opts.dbPath != "" {
		cfg.Store.Driver = config.DriverSQLite
		cfg.Store.SQLitePath = opts.dbPath
	}
	if cfg.Log.Output == logger.OutputStdout || cfg.Log.Output == logger.OutputBoth {
		cfg.Log.Output = logger.OutputStderr
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	// stdout carries the unlocked ids, so spans need a collector.
	if cfg.Tracing.Enabled && cfg.Tracing.Endpoint == "" {
		log.Warn("tracing needs OTEL_EXPORTER_OTLP_ENDPOINT in the evaluator, disabling")
		cfg.Tracing.Enabled = false
	}
	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing, tracing.Service{
		Name:        "evaluator",
		Environment: string(cfg.App.Environment),
		Version:     cfg.App.Version,
	}, log)
	if err != nil {
		log.Warn("tracing disabled", logger.Err(err))
	}
	defer func() { _ = shutdownTracing(context.WithoutCancel(ctx)) }()

	store, err := bootstrap.OpenStore(ctx, cfg.Store, log)
	if err != nil {
		return err
	}
	defer store.Close()

	cache, err := bootstrap.OpenRedis(cfg.Redis)
	if err != nil {
		log.Warn("redis unavailable, running without cache and lock", logger.Err(err))
		cache = nil
	}
	if cache != nil {
		defer cache.Close()
	}

	engine, err := bootstrap.NewEngine(ctx, cfg, store, cache, log)
	if err != nil {
		return err
	}
	defer func() { _ = engine.Close() }()

	var unlocked []string
	if opts.enrollmentID != "" {
		unlocked, err = recordGrade(ctx, engine, opts)
	} else {
		unlocked, err = evaluate(ctx, engine, opts.userID, log)
	}
	// Ids stored before a record failure are still printed.
	for _, id := range unlocked {
		if _, werr := fmt.Fprintln(stdout, id); werr != nil {
			return werr
		}
	}
	return err
}

func evaluate(ctx context.Context, engine *bootstrap.Engine, userID string, log *logger.Logger) ([]string, error) {
	result, err := engine.Flow.Execute(ctx, saga.EvaluationInput{UserID: userID, Trigger: saga.TriggerCLI})
	if err != nil {
		if result != nil {
			return result.NewUnlocks, err
		}
		return nil, err
	}
	if result.Skipped {
		log.Warn("another evaluation holds the user's lock", logger.UserID(userID))
	}
	return result.NewUnlocks, nil
}

func recordGrade(ctx context.Context, engine *bootstrap.Engine, opts options) ([]string, error) {
	cmd := command.RecordGradeCommand{
		UserID:              opts.userID,
		EnrollmentID:        opts.enrollmentID,
		Kind:                opts.kind,
		Value:               opts.grade,
		IsPartial:           opts.partial,
		IsFinal:             opts.final,
		IsAssignment:        opts.assignment,
		IsMakeup:            opts.makeup,
		CountsTowardAverage: true,
	}
	if opts.date != "" {
		d, err := timeutil.ParseDate(opts.date)
		if err != nil {
			return nil, fmt.Errorf("%w: bad -date: %v", errUsage, err)
		}
		cmd.Date = d
	}

	result, err := engine.RecordGrade.Handle(ctx, cmd)
	if err != nil {
		return nil, err
	}
	return result.NewUnlocks, nil
}
