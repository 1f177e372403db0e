package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"deskcast/internal/chat"
	"deskcast/internal/command"
	"deskcast/internal/config"
	"deskcast/internal/encode"
	"deskcast/internal/filestore"
	"deskcast/internal/logging"
	"deskcast/internal/quality"
	"deskcast/internal/server"
	"deskcast/internal/session"
	"deskcast/internal/stream"
	"deskcast/internal/types"
)

var (
	flagConfig  = flag.String("config", "", "Path to YAML config file")
	flagAddr    = flag.String("addr", "", "HTTP listen address (overrides config)")
	flagToken   = flag.String("token", "", "Bearer token for authentication (overrides config)")
	flagDisplay = flag.String("display", "", "X11 display to capture (overrides config, falls back to DISPLAY)")
	flagFPS     = flag.Int("fps", 0, "Initial capture frame rate (overrides config)")
	flagWidth   = flag.Int("width", 0, "Initial target frame width (overrides config)")
	flagQuality = flag.Int("quality", 0, "Initial JPEG quality (overrides config)")
	flagAudio   = flag.Bool("audio", false, "Capture desktop audio")
	flagTLS     = flag.Bool("tls", false, "Enable TLS with auto-generated self-signed certificate")
	flagUploads = flag.String("uploads", "", "Directory for uploaded files (overrides config)")
)

func main() {
	flag.Parse()
	logger := logging.GetDefaultLogger()

	cfg, err := config.Load(*flagConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("config load failed")
	}
	applyFlagOverrides(&cfg)

	if cfg.Display == "" {
		cfg.Display = os.Getenv("DISPLAY")
	}

	source, err := newFrameSource(cfg.Display)
	if err != nil {
		logger.Fatal().Err(err).Str("display", cfg.Display).Msg("screen capture init failed")
	}
	defer source.Close()

	injector, err := newInputInjector(cfg.Display)
	if err != nil {
		logger.Fatal().Err(err).Msg("input injection init failed")
	}
	defer injector.Close()

	q := cfg.Quality
	ctrl := quality.NewController(
		quality.Bounds{
			MinWidth: q.MinWidth, MaxWidth: q.MaxWidth,
			MinJPEGQuality: q.MinJPEGQuality, MaxJPEGQuality: q.MaxJPEGQuality,
			MinFPS: q.MinFPS, MaxFPS: q.MaxFPS,
		},
		source.Width(), source.Height(),
		quality.Settings{TargetWidth: q.Width, JPEGQuality: q.JPEGQuality, FPS: q.FPS},
	)

	broadcaster := stream.NewBroadcaster(source, encode.NewJPEGEncoder(), ctrl, logger)

	files, err := filestore.NewDirSink(cfg.UploadDir, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("dir", cfg.UploadDir).Msg("upload directory init failed")
	}

	srv := server.New(server.Config{
		Addr:  cfg.Addr,
		Token: cfg.Token,
		TLS:   *flagTLS,
		Session: session.Config{
			Broadcaster: broadcaster,
			Injector:    injector,
			Executor:    command.NewLogExecutor(logger),
			Chat:        chat.NewClient(cfg.Chat.BaseURL, cfg.Chat.APIKey, cfg.Chat.Model),
			Files:       files,
			Commands:    command.DefaultRegistry(),
			Logger:      logger,
		},
	})

	audioStop := startAudio(srv, cfg.Audio, logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
		if audioStop != nil {
			close(audioStop)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
		os.Exit(0)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("server stopped")
	}
}

func applyFlagOverrides(cfg *config.Config) {
	if *flagAddr != "" {
		cfg.Addr = *flagAddr
	}
	if *flagToken != "" {
		cfg.Token = *flagToken
	}
	if *flagDisplay != "" {
		cfg.Display = *flagDisplay
	}
	if *flagFPS > 0 {
		cfg.Quality.FPS = *flagFPS
	}
	if *flagWidth > 0 {
		cfg.Quality.Width = *flagWidth
	}
	if *flagQuality > 0 {
		cfg.Quality.JPEGQuality = *flagQuality
	}
	if *flagAudio {
		cfg.Audio = true
	}
	if *flagUploads != "" {
		cfg.UploadDir = *flagUploads
	}
}

// startAudio spins up the desktop audio pipeline when enabled. Failure
// is non-fatal: the stream continues without sound.
func startAudio(srv *server.Server, enabled bool, logger zerolog.Logger) chan struct{} {
	if !enabled {
		return nil
	}
	source, err := newAudioSource()
	if err != nil {
		logger.Warn().Err(err).Msg("audio capture unavailable, continuing without audio")
		return nil
	}

	stop := make(chan struct{})
	packets := make(chan *types.AudioPacket, 10)
	go func() {
		defer close(packets)
		defer source.Close()
		source.Run(packets, stop)
	}()
	go srv.FanOutAudio(packets)
	return stop
}
