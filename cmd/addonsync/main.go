package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"addonsync/internal/catalog"
	"addonsync/internal/config"
	"addonsync/internal/database"
	"addonsync/internal/downloader"
	"addonsync/internal/extractor"
	"addonsync/internal/special"
	"addonsync/internal/syncer"
)

func main() {
	if err := run(); err != nil {
		slog.Error("Application failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	reset := flag.Bool("reset", false, "forget all local download state so the next sync re-downloads everything")
	resetResource := flag.String("reset-resource", "", "comma-separated resource ids whose local download state should be forgotten")
	versionOf := flag.Int64("version-of", 0, "print the locally recorded version of a resource id and exit")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Setup structured logging
	setupLogging(cfg.LogLevel)
	logger := slog.Default()

	// Initialize database
	dbPath, err := cfg.DBPath()
	if err != nil {
		return err
	}
	db, err := database.New(dbPath)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			slog.Error("Failed to close database", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch {
	case *versionOf != 0:
		return printVersion(ctx, db, *versionOf)
	case *reset:
		if err := db.ResetDownloadDates(ctx); err != nil {
			return err
		}
		slog.Info("Download state cleared; the next sync will re-download everything")
		return nil
	case *resetResource != "":
		ids, err := parseResourceIDs(strings.Split(*resetResource, ","))
		if err != nil {
			return err
		}
		if err := db.ResetResourceDownloadDates(ctx, ids); err != nil {
			return err
		}
		slog.Info("Download state cleared for resources", "resource_ids", ids)
		return nil
	}

	// Positional arguments select a targeted sync; none means a full sync.
	var targetIDs []int64
	if args := flag.Args(); len(args) > 0 {
		targetIDs, err = parseResourceIDs(args)
		if err != nil {
			return err
		}
	}

	headers, err := cfg.Headers()
	if err != nil {
		return err
	}

	client := catalog.New(cfg.BaseURL, cfg.ManifestURL, headers, db, logger)

	// Some endpoints need the numeric user id. Resolve it once up front when
	// the environment didn't provide one; the headers map is not yet shared
	// with any goroutine at this point.
	if cfg.UserID == "" {
		me, err := client.FetchMe(ctx)
		if err != nil {
			slog.Warn("Could not resolve user id; continuing without it", "error", err)
		} else {
			headers["XF-Api-User"] = strconv.FormatInt(me.UserID, 10)
			slog.Info("Resolved user", "username", me.Username, "user_id", me.UserID)
		}
	}

	env, err := cfg.LoadEnvironment()
	if err != nil {
		return fmt.Errorf("failed to load environment settings: %w", err)
	}
	if env.DownloadFolder == "" {
		env.DownloadFolder = filepath.Join(cfg.ConfigDir, "downloads")
		slog.Info("No download folder configured, using default", "folder", env.DownloadFolder)
	}

	resolver := special.NewResolver(env.SpecialResources)
	extractorService := extractor.NewService(logger)
	dl := downloader.New(env, resolver, extractorService, headers, logger)

	s := syncer.New(db, client, resolver, dl, cfg.Env, logger, logEvent)

	slog.Info("Starting sync", "environment", cfg.Env, "targets", targetIDs)

	ok, err := s.Sync(ctx, targetIDs)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("sync finished with failures")
	}
	return nil
}

// logEvent surfaces sync progress on the default logger.
func logEvent(kind string, resourceID int64, detail string) {
	switch kind {
	case syncer.EventStart:
		slog.Info("Downloading", "resource_id", resourceID, "title", detail)
	case syncer.EventDone:
		if detail == syncer.DetailSkipped {
			slog.Debug("Up to date", "resource_id", resourceID)
		} else {
			slog.Info("Finished", "resource_id", resourceID, "result", detail)
		}
	}
}

func printVersion(ctx context.Context, db *database.DB, resourceID int64) error {
	version, found, err := db.GetRootVersionLocal(ctx, resourceID)
	if err != nil {
		return err
	}
	if !found {
		fmt.Printf("resource %d has never been synced\n", resourceID)
		return nil
	}
	fmt.Printf("resource %d local version: %d\n", resourceID, version)
	return nil
}

func parseResourceIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, arg := range args {
		arg = strings.TrimSpace(arg)
		if arg == "" {
			continue
		}
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid resource id %q", arg)
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("no resource ids given")
	}
	return ids, nil
}

// setupLogging configures structured logging based on the log level
func setupLogging(level string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	handler := slog.NewTextHandler(os.Stdout, opts)
	logger := slog.New(handler)
	slog.SetDefault(logger)
}
