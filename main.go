package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/imgtoold/imgtoold/dedupe"
	"github.com/imgtoold/imgtoold/modelscope"
	"github.com/imgtoold/imgtoold/service"
	"github.com/imgtoold/imgtoold/stats"
	"github.com/imgtoold/imgtoold/storage"
)

// Global flags
var (
	debug         bool
	printStats    bool
	listenAddr    string
	backendType   string
	dedupeType    string
	dedupeLockDir string
	cacheDir      string
	cacheURL      string
	s3Bucket      string
	s3Prefix      string
	gcsBucket     string
	gcsPrefix     string
	logLevel      string
	errorRate     float64
)

func main() {
	// Check if we have a subcommand
	if len(os.Args) > 1 && !strings.HasPrefix(os.Args[1], "-") {
		subcommand := os.Args[1]

		switch subcommand {
		case "clear":
			runClearCommand()
			return
		case "help", "-h", "--help":
			printHelp()
			return
		default:
			fmt.Fprintf(os.Stderr, "Unknown subcommand: %s\n\n", subcommand)
			printHelp()
			os.Exit(1)
		}
	}

	// No subcommand or starts with -, run the server
	runServeCommand()
}

func registerCommonFlags(fs *flag.FlagSet) {
	fs.BoolVar(&debug, "debug", getEnvBool("DEBUG", false), "Enable debug logging (env: DEBUG)")
	fs.StringVar(&logLevel, "log-level", getEnv("LOG_LEVEL", "info"), "Log level: debug, info, warn, error (env: LOG_LEVEL)")
	fs.StringVar(&backendType, "backend", getEnv("BACKEND_TYPE", "disk"), "Backend type: disk, s3, gcs (env: BACKEND_TYPE)")
	fs.StringVar(&cacheDir, "cache-dir", getEnv("CACHE_DIR", filepath.Join(os.TempDir(), "imgtoold")), "Local artifact directory for the disk backend (env: CACHE_DIR)")
	fs.StringVar(&s3Bucket, "s3-bucket", getEnv("S3_BUCKET", ""), "S3 bucket name (required for s3 backend) (env: S3_BUCKET)")
	fs.StringVar(&s3Prefix, "s3-prefix", getEnv("S3_PREFIX", ""), "S3 key prefix (optional) (env: S3_PREFIX)")
	fs.StringVar(&gcsBucket, "gcs-bucket", getEnv("GCS_BUCKET", ""), "GCS bucket name (required for gcs backend) (env: GCS_BUCKET)")
	fs.StringVar(&gcsPrefix, "gcs-prefix", getEnv("GCS_PREFIX", ""), "GCS object prefix (optional) (env: GCS_PREFIX)")
	fs.Float64Var(&errorRate, "error-rate", getEnvFloat("ERROR_RATE", 0.0), "Error injection rate (0.0-1.0) for testing error handling (env: ERROR_RATE)")
}

func runServeCommand() {
	serveFlags := flag.NewFlagSet("serve", flag.ExitOnError)
	registerCommonFlags(serveFlags)

	serveFlags.StringVar(&listenAddr, "listen", getEnv("LISTEN_ADDR", ":8080"), "HTTP listen address (env: LISTEN_ADDR)")
	serveFlags.StringVar(&cacheURL, "cache-url", getEnv("CACHE_URL", ""), "Public base URL for cached artifacts (env: CACHE_URL)")
	serveFlags.BoolVar(&printStats, "stats", getEnvBool("PRINT_STATS", true), "Print latency statistics on exit (env: PRINT_STATS)")
	serveFlags.StringVar(&dedupeType, "dedupe", getEnv("DEDUPE_TYPE", "memory"), "Deduplication type: memory (in-process), fslock (cross-process), noop (env: DEDUPE_TYPE)")
	serveFlags.StringVar(&dedupeLockDir, "dedupe-lock-dir", getEnv("DEDUPE_LOCK_DIR", ""), "Lock directory for fslock dedupe (env: DEDUPE_LOCK_DIR)")

	serveFlags.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Run the image tool server.\n\n")
		fmt.Fprintf(os.Stderr, "Flags (can also be set via environment variables):\n")
		serveFlags.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  LISTEN_ADDR         HTTP listen address\n")
		fmt.Fprintf(os.Stderr, "  CACHE_DIR           Local artifact directory (disk backend)\n")
		fmt.Fprintf(os.Stderr, "  CACHE_URL           Public base URL for cached artifacts\n")
		fmt.Fprintf(os.Stderr, "  BACKEND_TYPE        Backend type (disk, s3, gcs)\n")
		fmt.Fprintf(os.Stderr, "  S3_BUCKET           S3 bucket name\n")
		fmt.Fprintf(os.Stderr, "  S3_PREFIX           S3 key prefix\n")
		fmt.Fprintf(os.Stderr, "  GCS_BUCKET          GCS bucket name\n")
		fmt.Fprintf(os.Stderr, "  GCS_PREFIX          GCS object prefix\n")
		fmt.Fprintf(os.Stderr, "  DEDUPE_TYPE         Deduplication type (memory, fslock, noop)\n")
		fmt.Fprintf(os.Stderr, "  DEDUPE_LOCK_DIR     Lock directory for fslock dedupe\n")
		fmt.Fprintf(os.Stderr, "  MODELSCOPE_API_KEY  API key for the remote inference service\n")
		fmt.Fprintf(os.Stderr, "  LOG_LEVEL           Log level (debug, info, warn, error)\n")
		fmt.Fprintf(os.Stderr, "  DEBUG               Enable debug logging (true/false)\n")
		fmt.Fprintf(os.Stderr, "  PRINT_STATS         Print latency statistics on exit (true/false)\n")
		fmt.Fprintf(os.Stderr, "  ERROR_RATE          Error injection rate (0.0-1.0)\n")
		fmt.Fprintf(os.Stderr, "\nNote: Command-line flags take precedence over environment variables.\n")
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  # Serve from a local directory:\n")
		fmt.Fprintf(os.Stderr, "  %s -cache-dir=/var/cache/imgtoold -cache-url=https://img.example.com/cache\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  # Serve from S3:\n")
		fmt.Fprintf(os.Stderr, "  %s -backend=s3 -s3-bucket=my-artifacts -cache-url=https://my-artifacts.s3.amazonaws.com\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  # Environment variables only:\n")
		fmt.Fprintf(os.Stderr, "  BACKEND_TYPE=gcs GCS_BUCKET=my-artifacts MODELSCOPE_API_KEY=... %s\n", os.Args[0])
	}

	serveFlags.Parse(os.Args[1:])
	runServe()
}

func runClearCommand() {
	clearFlags := flag.NewFlagSet("clear", flag.ExitOnError)
	registerCommonFlags(clearFlags)

	clearFlags.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s clear [flags]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Remove every cached artifact from the configured backend.\n\n")
		fmt.Fprintf(os.Stderr, "Flags (can also be set via environment variables):\n")
		clearFlags.PrintDefaults()
	}

	clearFlags.Parse(os.Args[2:])
	runClear()
}

func printHelp() {
	fmt.Fprintf(os.Stderr, "Usage: %s [command] [flags]\n\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "A caching image tool server: fetch, transform, OCR and AI image generation.\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  (no command)  Run the server (default)\n")
	fmt.Fprintf(os.Stderr, "  clear         Remove every cached artifact\n")
	fmt.Fprintf(os.Stderr, "  help          Show this help message\n\n")
	fmt.Fprintf(os.Stderr, "Run '%s [command] -h' for more information about a command.\n", os.Args[0])
}

func runServe() {
	logger := buildLogger()
	ctx := context.Background()

	store, err := createStore(ctx, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating artifact store: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	dedupeGroup, err := createDedupeGroup()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating dedupe group: %v\n", err)
		os.Exit(1)
	}

	if cacheURL == "" {
		cacheURL = "http://localhost" + listenAddr + "/cache"
		logger.Warn("CACHE_URL not set, public artifact URLs default to the local listener", "cache_url", cacheURL)
	}

	var vision service.VisionClient
	var gen service.GenerationClient
	if apiKey := strings.TrimSpace(os.Getenv("MODELSCOPE_API_KEY")); apiKey != "" {
		client := modelscope.NewClient(apiKey, logger)
		vision = client
		gen = client
	} else {
		logger.Warn("MODELSCOPE_API_KEY not set, OCR, description, generation and edit are disabled")
	}

	svc := service.New(service.Config{
		Store:   store,
		BaseURL: cacheURL,
		Vision:  vision,
		Gen:     gen,
		Dedupe:  dedupeGroup,
		Logger:  logger,
	})

	recorder := stats.NewRecorder()
	handler := newServer(svc, recorder, logger, cacheDir, backendType == "disk")

	httpServer := &http.Server{
		Addr:    listenAddr,
		Handler: handler,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", listenAddr, "backend", backendType, "dedupe", dedupeType)
		errCh <- httpServer.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
		shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown failed", "error", err)
		}
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			fmt.Fprintf(os.Stderr, "Error running server: %v\n", err)
			os.Exit(1)
		}
	}

	if printStats {
		recorder.LogSummary(logger)
	}
}

func runClear() {
	logger := buildLogger()
	ctx := context.Background()

	store, err := createStore(ctx, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating artifact store: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	if err := store.Clear(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error clearing artifacts: %v\n", err)
		os.Exit(1)
	}

	fmt.Fprintf(os.Stdout, "Artifacts cleared successfully\n")
}

func createStore(ctx context.Context, logger *slog.Logger) (storage.Store, error) {
	backendType = strings.ToLower(backendType)

	var store storage.Store
	var err error

	switch backendType {
	case "disk":
		store, err = storage.NewDisk(cacheDir)

	case "s3":
		if s3Bucket == "" {
			return nil, fmt.Errorf("S3 bucket is required for the s3 backend (set via -s3-bucket flag or S3_BUCKET env var)")
		}
		store, err = storage.NewS3(ctx, s3Bucket, s3Prefix)

	case "gcs":
		if gcsBucket == "" {
			return nil, fmt.Errorf("GCS bucket is required for the gcs backend (set via -gcs-bucket flag or GCS_BUCKET env var)")
		}
		store, err = storage.NewGCS(ctx, gcsBucket, gcsPrefix)

	default:
		return nil, fmt.Errorf("unknown backend type: %s (supported: disk, s3, gcs)", backendType)
	}

	if err != nil {
		return nil, err
	}

	// Wrap with error injection if an error rate is configured
	if errorRate > 0 {
		store = storage.NewError(store, errorRate)
		logger.Info("error injection enabled", "rate", errorRate)
	}

	// Wrap with debug logging if debug mode is enabled
	if debug {
		store = storage.NewDebug(store, logger)
	}

	return store, nil
}

func createDedupeGroup() (dedupe.Group, error) {
	dedupeType = strings.ToLower(dedupeType)

	switch dedupeType {
	case "memory", "":
		// Default: in-process singleflight
		return dedupe.NewSingleflightGroup(), nil

	case "fslock", "fs":
		// Filesystem-backed, works across processes sharing a disk
		group, err := dedupe.NewFSLockGroup(dedupeLockDir)
		if err != nil {
			return nil, fmt.Errorf("failed to create fslock group: %w", err)
		}
		return group, nil

	case "noop":
		// No deduplication (useful for testing)
		return dedupe.NewNoOpGroup(), nil

	default:
		return nil, fmt.Errorf("unknown dedupe type: %s (supported: memory, fslock, noop)", dedupeType)
	}
}

func buildLogger() *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	} else {
		switch strings.ToLower(logLevel) {
		case "debug":
			level = slog.LevelDebug
		case "warn", "warning":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool gets a boolean environment variable or returns a default value.
// Accepts: true, false, 1, 0, yes, no (case insensitive).
func getEnvBool(key string, defaultValue bool) bool {
	value := strings.ToLower(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	return value == "true" || value == "1" || value == "yes"
}

// getEnvFloat gets a float64 environment variable or returns a default value.
func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var f float64
	if _, err := fmt.Sscanf(value, "%f", &f); err != nil {
		return defaultValue
	}
	return f
}
