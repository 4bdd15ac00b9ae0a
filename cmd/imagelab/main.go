package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/juju/clock"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"imagelab/internal/classify"
	"imagelab/internal/config"
	"imagelab/internal/gallery"
	"imagelab/internal/index"
	"imagelab/internal/mirror"
	"imagelab/internal/upload"
	"imagelab/internal/web"
)

const shutdownTimeout = 10 * time.Second

// flags collects command line overrides. Only flags the user actually set
// are applied on top of the environment.
type flags struct {
	envFile       string
	listen        string
	uploadDir     string
	presetDir     string
	dbPath        string
	classifierURL string
	logLevel      string
}

// setupLogging installs a charm handler as the slog default. Charm levels
// share slog's numeric values.
func setupLogging(level slog.Level) {
	handler := log.NewWithOptions(os.Stdout, log.Options{
		Level:           log.Level(level),
		TimeFormat:      time.RFC3339,
		ReportTimestamp: true,
		TimeFunction:    log.NowUTC,
		ReportCaller:    true,
	})

	slog.SetDefault(slog.New(handler))
}

func loadConfig(cmd *cobra.Command, f *flags) (config.Config, error) {
	var opts []config.ConfigOption
	changed := func(name string) bool {
		fl := cmd.Flags().Lookup(name)
		return fl != nil && fl.Changed
	}

	if changed("listen") {
		opts = append(opts, config.WithListen(f.listen))
	}
	if changed("upload-dir") {
		opts = append(opts, config.WithUploadDir(f.uploadDir))
	}
	if changed("preset-dir") {
		opts = append(opts, config.WithPresetDir(f.presetDir))
	}
	if changed("db") {
		opts = append(opts, config.WithDBPath(f.dbPath))
	}
	if changed("classifier-url") {
		opts = append(opts, config.WithClassifierURL(f.classifierURL))
	}
	if changed("log-level") {
		opts = append(opts, config.WithLogLevel(f.logLevel))
	}

	cfg, err := config.Load(f.envFile, opts...)
	if err != nil {
		return config.Config{}, err
	}

	// Absolute paths make the logs easier to follow.
	for _, dir := range []*string{&cfg.UploadDir, &cfg.PresetDir, &cfg.DBPath} {
		abs, err := filepath.Abs(*dir)
		if err != nil {
			return config.Config{}, fmt.Errorf("failed to resolve %s: %w", *dir, err)
		}
		*dir = abs
	}

	setupLogging(cfg.SlogLevel())
	return cfg, nil
}

// openRecords opens the upload index and, when configured, the bucket
// mirror. The caller closes the index.
func openRecords(ctx context.Context, cfg config.Config) (*index.Index, *mirror.Mirror, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return nil, nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	idx, err := index.Open(ctx, cfg.DBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open upload index: %w", err)
	}

	if !cfg.Mirror().Enabled() {
		return idx, nil, nil
	}

	m, err := mirror.New(cfg.Mirror())
	if err != nil {
		_ = idx.Close()
		return nil, nil, err
	}
	if err := m.EnsureBucket(ctx); err != nil {
		_ = idx.Close()
		return nil, nil, err
	}

	slog.Info("Mirroring uploads", "endpoint", cfg.MirrorEndpoint, "bucket", m.Bucket())
	return idx, m, nil
}

func newSweeper(fsys afero.Fs, cfg config.Config, idx *index.Index, m *mirror.Mirror) (*upload.Sweeper, error) {
	forgetters := []upload.Forgetter{idx}
	if m != nil {
		forgetters = append(forgetters, m)
	}

	return upload.NewSweeper(upload.SweeperConfig{
		Fs:         fsys,
		Dir:        cfg.UploadDir,
		Policy:     cfg.Retention(),
		Clock:      clock.WallClock,
		Forgetters: forgetters,
		OnSweep: func(result upload.SweepResult) {
			slog.Debug("Upload sweep finished", "removed", len(result.Removed), "kept", result.Kept, "failed", result.Failed)
		},
	})
}

func serve(ctx context.Context, cfg config.Config) error {
	fsys := afero.NewOsFs()

	store, err := upload.NewStore(fsys, cfg.UploadDir)
	if err != nil {
		return fmt.Errorf("failed to create upload dir: %w", err)
	}

	idx, m, err := openRecords(ctx, cfg)
	if err != nil {
		return err
	}
	defer idx.Close()

	classifier, err := classify.NewHTTPClassifier(cfg.ClassifierURL, classify.WithFs(fsys))
	if err != nil {
		return err
	}

	sweeper, err := newSweeper(fsys, cfg, idx, m)
	if err != nil {
		return err
	}

	webCfg := web.Config{
		Uploader:       upload.NewUploader(store, clock.WallClock, cfg.VerifyContent),
		Gallery:        gallery.New(fsys, cfg.PresetDir, store),
		Classifier:     classifier,
		Index:          idx,
		MaxUploadBytes: cfg.MaxUploadBytes,
	}
	if m != nil {
		webCfg.Mirror = m
	}

	server, err := web.NewServer(webCfg)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	httpServer := &http.Server{
		Addr:              cfg.Listen,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 20 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      90 * time.Second,
	}

	sweeps := sweeper.Start(ctx)

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		<-ctx.Done()
		return sweeps.Stop()
	})

	eg.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	eg.Go(func() error {
		slog.Info("Starting Image Lab HTTP server", "listen", cfg.Listen, "uploads", cfg.UploadDir, "presets", cfg.PresetDir)
		err := httpServer.ListenAndServe()
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}

		return nil
	})

	slog.Info("Image Lab Started")
	return eg.Wait()
}

func sweepOnce(ctx context.Context, cfg config.Config) error {
	fsys := afero.NewOsFs()

	idx, m, err := openRecords(ctx, cfg)
	if err != nil {
		return err
	}
	defer idx.Close()

	sweeper, err := newSweeper(fsys, cfg, idx, m)
	if err != nil {
		return err
	}

	result, err := sweeper.Sweep(ctx)
	if err != nil {
		return err
	}

	slog.Info("Sweep complete", "removed", len(result.Removed), "kept", result.Kept, "failed", result.Failed)
	return nil
}

func newRootCommand(ctx context.Context) *cobra.Command {
	f := &flags{}

	rootCmd := &cobra.Command{
		Use:           "imagelab",
		Short:         "Classify, transform and inspect images.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&f.envFile, "env-file", ".env", "optional dotenv file to read settings from")
	rootCmd.PersistentFlags().StringVar(&f.uploadDir, "upload-dir", "", "directory uploads are stored in")
	rootCmd.PersistentFlags().StringVar(&f.dbPath, "db", "", "path of the upload index database")
	rootCmd.PersistentFlags().StringVar(&f.logLevel, "log-level", "", "debug, info, warn or error")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the web server and the upload sweeper.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, f)
			if err != nil {
				return err
			}
			return serve(ctx, cfg)
		},
	}
	serveCmd.Flags().StringVar(&f.listen, "listen", "", "HTTP listen address")
	serveCmd.Flags().StringVar(&f.presetDir, "preset-dir", "", "directory of preset images")
	serveCmd.Flags().StringVar(&f.classifierURL, "classifier-url", "", "base URL of the inference service")

	sweepCmd := &cobra.Command{
		Use:   "sweep",
		Short: "Delete expired uploads once and exit.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, f)
			if err != nil {
				return err
			}
			return sweepOnce(ctx, cfg)
		},
	}

	rootCmd.AddCommand(serveCmd, sweepCmd)
	return rootCmd
}

func Run(ctx context.Context, args []string) error {
	cmd := newRootCommand(ctx)
	cmd.SetArgs(args)
	return cmd.ExecuteContext(ctx)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := Run(ctx, os.Args[1:])
	stop()

	if err != nil {
		slog.Error("Image Lab exited with error", "error", err)
		os.Exit(1)
	}
}
