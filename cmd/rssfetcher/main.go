package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"reddot-watch/rssfetcher/internal/config"
	"reddot-watch/rssfetcher/internal/database"
	"reddot-watch/rssfetcher/internal/fetch"
	importfeeds "reddot-watch/rssfetcher/internal/import"
	"reddot-watch/rssfetcher/internal/process"
	"reddot-watch/rssfetcher/internal/server"
	"reddot-watch/rssfetcher/internal/server/storage"
)

// workerShutdownTimeout leaves room for an in-flight batch: a feed may
// take up to the read timeout plus the dial timeout.
const workerShutdownTimeout = 3 * time.Minute

const usage = `Usage: rssfetcher [command] [options]
Commands: serve, fetch-once, import

For command-specific options, use: rssfetcher [command] -h`

func init() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "2006-01-02 15:04:05"})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

func main() {
	godotenv.Load()
	cfg := config.DefaultConfig()

	var logLevelStr string
	addCommon := func(fs *flag.FlagSet) {
		fs.StringVar(&cfg.ConfigPath, "config", cfg.ConfigPath,
			"Path to the YAML feed configuration (env: RSSFETCHER_CONFIG)")
		fs.StringVar(&logLevelStr, "log-level", cfg.LogLevel.String(),
			"Log level: debug, info, warn, error (env: RSSFETCHER_LOG_LEVEL)")
	}

	serveCmd := flag.NewFlagSet("serve", flag.ExitOnError)
	addCommon(serveCmd)
	serveCmd.StringVar(&cfg.ServerHost, "host", cfg.ServerHost,
		"Host to bind the server to (env: RSSFETCHER_HOST)")
	serveCmd.IntVar(&cfg.ServerPort, "port", cfg.ServerPort,
		"Port to listen on (env: RSSFETCHER_PORT)")
	serveCmd.DurationVar(&cfg.DebounceWindow, "debounce", cfg.DebounceWindow,
		"Time to collect fetch jobs into one batch (env: RSSFETCHER_DEBOUNCE_WINDOW)")

	fetchCmd := flag.NewFlagSet("fetch-once", flag.ExitOnError)
	addCommon(fetchCmd)

	importCmd := flag.NewFlagSet("import", flag.ExitOnError)
	addCommon(importCmd)
	importCmd.StringVar(&cfg.FeedsCSVPath, "csv", cfg.FeedsCSVPath,
		"Path or http(s) URL of the feeds CSV file (env: RSSFETCHER_CSV_PATH)")

	if len(os.Args) < 2 {
		fmt.Println(usage)
		os.Exit(1)
	}

	var run func() error
	switch os.Args[1] {
	case "serve":
		serveCmd.Parse(os.Args[2:])
		run = func() error { return runServe(cfg) }
	case "fetch-once":
		fetchCmd.Parse(os.Args[2:])
		run = func() error { return runFetchOnce(cfg, fetchCmd.Args()) }
	case "import":
		importCmd.Parse(os.Args[2:])
		run = func() error { return runImport(cfg) }
	case "-h", "--help", "help":
		fmt.Println(usage)
		os.Exit(0)
	default:
		log.Error().Str("command", os.Args[1]).Msg("Unknown command")
		fmt.Println(usage)
		os.Exit(1)
	}

	// Handle log level parsing separately since it needs conversion
	if level, err := zerolog.ParseLevel(logLevelStr); err == nil {
		cfg.LogLevel = level
	}
	zerolog.SetGlobalLevel(cfg.LogLevel)

	if err := run(); err != nil {
		log.Error().Err(err).Str("command", os.Args[1]).Msg("Command failed")
		os.Exit(1)
	}
}

func storageConfig(s config.Storage) *database.Config {
	return database.NewConfig(s.Driver, s.Path)
}

// runServe runs the worker and the read API until SIGINT or SIGTERM.
func runServe(cfg *config.Config) error {
	source := config.NewFileSource(cfg.ConfigPath)
	doc, err := source.Load()
	if err != nil {
		return err
	}
	log.Info().Str("path", cfg.ConfigPath).Int("feeds", doc.Feeds.Len()).Msg("Loaded config")

	writer, err := database.OpenSwitch(storageConfig(doc.Storage))
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer writer.Close()

	reader, err := database.OpenSwitch(storageConfig(doc.Storage).ReadOnlyCopy())
	if err != nil {
		return fmt.Errorf("failed to open read-only database: %w", err)
	}
	defer reader.Close()

	worker := process.NewWorker(source, fetch.NewMulti(), writer, process.Options{
		Window: cfg.DebounceWindow,
		OnStorage: func(s config.Storage) error {
			return database.ReopenPair(writer, reader, storageConfig(s))
		},
	})
	worker.Start(doc)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	handler := server.NewRouter(storage.NewRepository(reader), log.Logger, cfg.SecretKey)
	serveErr := server.Run(ctx, cfg.ListenAddr(), handler, log.Logger)
	if serveErr != nil {
		log.Error().Err(serveErr).Msg("Server failed")
	} else {
		log.Info().Msg("Shutdown signal received")
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), workerShutdownTimeout)
	defer cancel()
	if err := worker.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Worker shutdown incomplete")
	}

	log.Info().Msg("Server exiting.")
	return serveErr
}

// runFetchOnce fetches every enabled feed, or only the named ones, a
// single time and exits.
func runFetchOnce(cfg *config.Config, feedIDs []string) error {
	doc, err := config.LoadFile(cfg.ConfigPath)
	if err != nil {
		return err
	}

	var jobs []process.Job
	if len(feedIDs) == 0 {
		for _, spec := range doc.Feeds.All() {
			if spec.Enabled {
				jobs = append(jobs, process.NewJob(spec))
			}
		}
	} else {
		for _, id := range feedIDs {
			spec, ok := doc.Feeds.Get(id)
			if !ok {
				return fmt.Errorf("unknown feed %q", id)
			}
			jobs = append(jobs, process.NewJob(spec))
		}
	}

	writer, err := database.OpenSwitch(storageConfig(doc.Storage))
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer writer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startTime := time.Now()
	persister := process.NewPersister(fetch.NewMulti(), writer, doc.Retention)
	res, err := persister.Persist(ctx, jobs)
	if err != nil {
		return err
	}

	_, _, failed := persister.Stats()
	log.Info().
		Int("feeds", res.Feeds).
		Int64("failed", failed).
		Int64("added", res.Added).
		Int64("removed", res.Removed).
		Dur("duration", time.Since(startTime)).
		Msg("Fetch finished")
	return nil
}

// runImport merges feeds from the CSV file into the configuration.
func runImport(cfg *config.Config) error {
	summary, err := importfeeds.NewImporter(cfg.ConfigPath).ImportFeeds(context.Background(), cfg.FeedsCSVPath)
	if err != nil {
		return err
	}

	fmt.Printf("Imported %d feeds successfully (%d already configured)\n", summary.Added, summary.Skipped)
	if len(summary.Errors) > 0 {
		fmt.Printf("Encountered %d errors:\n", len(summary.Errors))
		for _, err := range summary.Errors {
			fmt.Printf("  - %s\n", err)
		}
	}
	return nil
}
