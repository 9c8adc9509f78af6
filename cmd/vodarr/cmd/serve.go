package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/vodarr/vodarr/internal/admission"
	"github.com/vodarr/vodarr/internal/bus"
	"github.com/vodarr/vodarr/internal/callback"
	"github.com/vodarr/vodarr/internal/config"
	"github.com/vodarr/vodarr/internal/engine"
	"github.com/vodarr/vodarr/internal/ffmpeg"
	"github.com/vodarr/vodarr/internal/hardware"
	internalhttp "github.com/vodarr/vodarr/internal/http"
	"github.com/vodarr/vodarr/internal/http/handlers"
	"github.com/vodarr/vodarr/internal/httpclient"
	"github.com/vodarr/vodarr/internal/models"
	"github.com/vodarr/vodarr/internal/monitor"
	"github.com/vodarr/vodarr/internal/registry"
	"github.com/vodarr/vodarr/internal/scheduler"
	"github.com/vodarr/vodarr/internal/segments"
	"github.com/vodarr/vodarr/internal/subtitles"
	"github.com/vodarr/vodarr/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the vodarr server",
	Long: `Start the vodarr HTTP server and transcoding engine.

The server provides:
- REST API for submitting and managing transcode jobs
- HLS playlists and segments for stream jobs, file download for batch jobs
- WebSocket progress events at /ws/progress
- OpenAPI documentation at /docs`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	// Server flags
	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
	serveCmd.Flags().Int("port", 8765, "Port to listen on")

	// Transcoding flags
	serveCmd.Flags().Int("max-jobs", 0, "Maximum concurrent transcode jobs (0 = derive from hardware)")
	serveCmd.Flags().String("temp-dir", "", "Directory for job workspaces (default: system temp)")

	// Bind flags to viper
	mustBindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	mustBindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	mustBindPFlag("transcoding.max_concurrent_jobs", serveCmd.Flags().Lookup("max-jobs"))
	mustBindPFlag("transcoding.temp_directory", serveCmd.Flags().Lookup("temp-dir"))
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := slog.Default()

	var cfg config.Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// Setup graceful shutdown. The context is created before component
	// construction so hardware probing can be interrupted too.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		cancel()
	}()

	// Locate ffmpeg/ffprobe. A missing ffmpeg is fatal; a missing ffprobe
	// only degrades source probing.
	detector := ffmpeg.NewBinaryDetector(cfg.FFmpeg.BinaryPath, cfg.FFmpeg.ProbePath)
	info, err := detector.Detect(ctx)
	if err != nil {
		return fmt.Errorf("locating ffmpeg: %w", err)
	}

	// Profile the host: encoder families, GPU, tier, concurrency cap.
	profiler := hardware.NewProfiler(detector, logger)
	profile, err := profiler.Profile(ctx)
	if err != nil {
		return fmt.Errorf("profiling hardware: %w", err)
	}

	// Initialize the segment store backing job workspaces.
	store, err := segments.NewStore(cfg.Transcoding.TempDirectory, logger)
	if err != nil {
		return fmt.Errorf("initializing segment store: %w", err)
	}

	// Initialize the progress bus and the completion callback notifier.
	eventBus := bus.New(cfg.Limits.WSMaxSubscribers, logger)
	notifier := callback.New(httpclient.NewNotifier(logger), logger)

	// Initialize the job registry. Every status transition is published on
	// the bus; successful completions additionally fire the callback POST.
	reg := registry.New(cfg.Jobs, store, logger).WithTransitionHook(
		func(job *models.Job, from models.JobStatus) {
			eventBus.PublishStatus(job.ID, job.Status, job.ErrorMessage)
			if job.Status == models.StatusReady && job.Request.CallbackURL != "" {
				go notifier.Notify(ctx, job)
			}
		})

	// Sweep workspaces left behind by a previous run before accepting jobs.
	if removed, err := store.CleanOrphans(ctx, reg.Has); err != nil {
		logger.Warn("cleaning orphaned workspaces", slog.Any("error", err))
	} else if removed > 0 {
		logger.Info("cleaned orphaned workspaces on startup", slog.Int("removed", removed))
	}

	// Initialize load monitoring and admission control.
	mon := monitor.New(logger)
	adm := admission.New(profile, mon, cfg.Transcoding.MaxConcurrentJobs, logger)

	// Initialize the transcoding engine.
	eng := engine.New(&cfg, engine.Deps{
		Registry:  reg,
		Store:     store,
		Admission: adm,
		Planner:   engine.NewPlanner(&cfg, profile, logger),
		Runner:    ffmpeg.NewRunner(logger),
		Prober:    ffmpeg.NewProber(info.FFprobePath),
		Subtitles: subtitles.NewFetcher(httpclient.NewFetcher(logger), logger),
		Bus:       eventBus,
	}, logger)

	// Initialize the maintenance scheduler.
	sched := scheduler.New(reg, store, logger)

	// Initialize HTTP server
	server := internalhttp.NewServer(&cfg, logger, version.Version)

	// Register handlers
	healthHandler := handlers.NewHealthHandler(version.Version, reg)
	healthHandler.Register(server.API())

	systemHandler := handlers.NewSystemHandler(profile, mon, adm, reg)
	systemHandler.Register(server.API())

	transcodeHandler := handlers.NewTranscodeHandler(reg, profile, eng,
		cfg.Transcoding.EnableABR, cfg.Server.BaseURL, logger)
	transcodeHandler.Register(server.API())

	streamHandler := handlers.NewStreamHandler(reg, store, logger)
	streamHandler.RegisterChiRoutes(server.Router())

	wsHandler := handlers.NewWSHandler(eventBus, logger)
	wsHandler.RegisterChiRoutes(server.Router())

	// Run the long-lived components until the context is cancelled or one
	// of them fails.
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		mon.Run(gctx)
		return nil
	})

	g.Go(func() error {
		eng.Run(gctx)
		return nil
	})

	if err := sched.Start(gctx); err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}
	defer sched.Stop()

	logger.Info("starting vodarr server",
		slog.String("host", cfg.Server.Host),
		slog.Int("port", cfg.Server.Port),
		slog.String("version", version.Version),
		slog.String("tier", string(profile.Tier)),
		slog.Int("max_jobs", profile.MaxJobs),
	)

	g.Go(func() error {
		return server.ListenAndServe(gctx)
	})

	return g.Wait()
}
