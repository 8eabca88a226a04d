// Command agentcorpus turns instruction/response datasets into agent
// conversation training records and validates the result.
//
// Usage:
//
//	agentcorpus normalize -in raw.jsonl -out data/agent_training_data.jsonl [flags]
//	agentcorpus normalize -db-driver sqlite -db-dsn raw.db -db-query "SELECT instruction, output FROM alpaca" [flags]
//	agentcorpus validate -in data/agent_training_data.jsonl [-strict]
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"goa.design/clue/log"
	_ "modernc.org/sqlite"

	"goa.design/agentcorpus/runtime/corpus/config"
	"goa.design/agentcorpus/runtime/corpus/failure"
	"goa.design/agentcorpus/runtime/corpus/source"
	"goa.design/agentcorpus/runtime/corpus/synth"
	"goa.design/agentcorpus/runtime/corpus/telemetry"
	"goa.design/agentcorpus/runtime/corpus/validate"
	"goa.design/agentcorpus/runtime/corpus/writer"
)

func main() {
	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(2)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "normalize":
		err = runNormalize(ctx, os.Args[2:])
	case "validate":
		err = runValidate(ctx, os.Args[2:])
	case "help", "-h", "-help", "--help":
		usage(os.Stdout)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
		usage(os.Stderr)
		stop()
		os.Exit(2)
	}
	if err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
		stop()
		os.Exit(1)
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, `usage: agentcorpus <command> [flags]

commands:
  normalize  convert raw instruction/response JSONL into agent conversation records
  validate   check agent conversation records and report the success rate

run "agentcorpus <command> -h" for the flags of a command.`)
}

func runNormalize(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("normalize", flag.ContinueOnError)
	var (
		inF      = fs.String("in", "", "Raw JSONL input file (default stdin)")
		outF     = fs.String("out", "data/agent_training_data.jsonl", "Output JSONL file")
		configF  = fs.String("config", os.Getenv("CORPUS_CONFIG"), "YAML configuration file (env CORPUS_CONFIG)")
		presetF  = fs.String("preset", os.Getenv("CORPUS_PRESET"), "Built-in preset when no config file is given (env CORPUS_PRESET)")
		seedF    = fs.Uint64("seed", envUint("CORPUS_SEED", 0), "Tool selection seed, 0 for a random seed (env CORPUS_SEED)")
		workersF = fs.Int("workers", envInt("CORPUS_WORKERS", 0), "Synthesis goroutines, overrides the config (env CORPUS_WORKERS)")
		limitF   = fs.Int("limit", 0, "Maximum number of records to consume, overrides the config")
		logFileF = fs.String("log-file", "", "Also append logs to this file")
		debugF   = fs.Bool("debug", false, "Enable debug logs")

		dbDriverF = fs.String("db-driver", "", "Read records from a database instead of -in (valid values: sqlite, pgx)")
		dbDSNF    = fs.String("db-dsn", os.Getenv("CORPUS_DB_DSN"), "Database data source name (env CORPUS_DB_DSN)")
		dbQueryF  = fs.String("db-query", "", "Query selecting the raw records, one row per record")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, closeLog, err := setupLogging(ctx, *logFileF, *debugF)
	if err != nil {
		return err
	}
	defer closeLog()
	runID := uuid.NewString()
	ctx = telemetry.WithRunID(ctx, runID)

	cfg, err := loadConfig(*configF, *presetF)
	if err != nil {
		return err
	}
	if *workersF > 0 {
		cfg.Workers = *workersF
	}
	if *limitF > 0 {
		cfg.Limit = *limitF
	}
	catalog, err := cfg.Catalog()
	if err != nil {
		return err
	}
	opts := cfg.SynthOptions()
	if *seedF != 0 {
		opts = append(opts, synth.WithSeed(*seedF))
	}
	s, err := synth.New(catalog, opts...)
	if err != nil {
		return err
	}

	src, closeSrc, err := openSource(ctx, *inF, *dbDriverF, *dbDSNF, *dbQueryF)
	if err != nil {
		return err
	}
	defer closeSrc()
	if err := os.MkdirAll(filepath.Dir(*outF), 0o750); err != nil {
		return failure.Wrap(failure.KindIO, "create output directory", err)
	}
	out, err := os.Create(*outF) // #nosec G304 -- path is operator supplied
	if err != nil {
		return failure.Wrap(failure.KindIO, "create output", err)
	}

	log.Info(ctx, log.KV{K: "msg", V: "normalizing"},
		log.KV{K: "preset", V: cfg.Preset}, log.KV{K: "tools", V: catalog.Len()},
		log.KV{K: "workers", V: cfg.Workers}, log.KV{K: "out", V: *outF})

	w := writer.New(out, cfg.Resolver().Resolve, s,
		writer.WithLogger(telemetry.NewClueLogger()),
		writer.WithMetrics(telemetry.NewClueMetrics()),
		writer.WithTracer(telemetry.NewClueTracer()),
		writer.WithProgressEvery(cfg.ProgressEvery),
		writer.WithWorkers(cfg.Workers),
		writer.WithLimit(cfg.Limit),
	)
	stats, runErr := w.Run(ctx, src)
	if err := out.Close(); err != nil && runErr == nil {
		runErr = failure.Wrap(failure.KindIO, "close output", err)
	}
	fmt.Printf("run %s: processed %d records, succeeded %d, failed %d\n",
		runID, stats.Consumed, stats.Succeeded, stats.Failed)
	fmt.Printf("output written to %s\n", *outF)
	return runErr
}

func runValidate(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	var (
		inF     = fs.String("in", "data/agent_training_data.jsonl", "Agent conversation JSONL file")
		strictF = fs.Bool("strict", false, "Also check function call and observation payloads")
		failF   = fs.Bool("fail", false, "Exit with status 1 when any line has errors")
		debugF  = fs.Bool("debug", false, "Enable debug logs")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}
	ctx, closeLog, err := setupLogging(ctx, "", *debugF)
	if err != nil {
		return err
	}
	defer closeLog()

	f, err := os.Open(*inF) // #nosec G304 -- path is operator supplied
	if err != nil {
		return failure.Wrap(failure.KindIO, "open input", err)
	}
	defer func() { _ = f.Close() }()

	opts := []validate.Option{validate.WithLogger(telemetry.NewClueLogger())}
	if *strictF {
		opts = append(opts, validate.WithStrict())
	}
	fmt.Printf("validating %s\n", *inF)
	rep, err := validate.New(opts...).Run(ctx, f)
	if err != nil {
		return err
	}
	if err := rep.Print(os.Stdout); err != nil {
		return err
	}
	if *failF {
		return rep.Err()
	}
	return nil
}

// openSource returns the database source when driver is set and the JSONL
// source over path (or stdin) otherwise.
func openSource(ctx context.Context, path, driver, dsn, query string) (writer.Source, func(), error) {
	if driver != "" {
		if dsn == "" || query == "" {
			return nil, nil, failure.New(failure.KindConfig, "-db-driver requires -db-dsn and -db-query")
		}
		db, err := sql.Open(driver, dsn)
		if err != nil {
			return nil, nil, failure.Wrap(failure.KindConfig, "open database", err)
		}
		rows, err := source.Query(ctx, db, query)
		if err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return rows, func() {
			_ = rows.Close()
			_ = db.Close()
		}, nil
	}
	if path == "" {
		return source.JSONL(os.Stdin), func() {}, nil
	}
	f, err := os.Open(path) // #nosec G304 -- path is operator supplied
	if err != nil {
		return nil, nil, failure.Wrap(failure.KindIO, "open input", err)
	}
	return source.JSONL(f), func() { _ = f.Close() }, nil
}

// setupLogging configures clue. Logs go to stderr and, when path is set, are
// also appended to path.
func setupLogging(ctx context.Context, path string, debug bool) (context.Context, func(), error) {
	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	var (
		out     io.Writer = os.Stderr
		closeFn           = func() {}
	)
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return ctx, closeFn, failure.Wrap(failure.KindIO, "create log directory", err)
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600) // #nosec G304 -- path is operator supplied
		if err != nil {
			return ctx, closeFn, failure.Wrap(failure.KindIO, "open log file", err)
		}
		out = io.MultiWriter(os.Stderr, f)
		closeFn = func() { _ = f.Close() }
	}
	ctx = log.Context(ctx, log.WithFormat(format), log.WithOutput(out), log.WithDisableBuffering(unbuffered))
	if debug {
		ctx = log.Context(ctx, log.WithDebug())
		log.Debugf(ctx, "debug logs enabled")
	}
	return ctx, closeFn, nil
}

// unbuffered disables clue entry buffering.
func unbuffered(context.Context) bool { return true }

// loadConfig reads the config file when set, otherwise the named preset.
func loadConfig(path, preset string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	if preset != "" {
		return config.Preset(preset)
	}
	return config.Default(), nil
}

func envInt(key string, def int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return def
}

func envUint(key string, def uint64) uint64 {
	if v, err := strconv.ParseUint(os.Getenv(key), 10, 64); err == nil {
		return v
	}
	return def
}
