package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/marriagesignal/studio/internal/api"
	"github.com/marriagesignal/studio/internal/catalog"
	"github.com/marriagesignal/studio/internal/config"
	"github.com/marriagesignal/studio/internal/db"
	"github.com/marriagesignal/studio/internal/events"
	"github.com/marriagesignal/studio/internal/generation"
	"github.com/marriagesignal/studio/internal/logging"
	"github.com/marriagesignal/studio/internal/pipeline"
	"github.com/marriagesignal/studio/internal/playback"
	"github.com/marriagesignal/studio/internal/production"
	"github.com/marriagesignal/studio/internal/session"
	"github.com/marriagesignal/studio/internal/ui"
	"github.com/marriagesignal/studio/internal/watcher"
)

const inboxDebounce = 500 * time.Millisecond

var serveHeadless bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the studio service (default command)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(serveHeadless)
	},
}

func init() {
	serveCmd.Flags().BoolVar(&serveHeadless, "headless", false, "run without the system tray")
}

func serve(headless bool) error {
	startTime := time.Now()

	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	headless = headless || cfg.Headless()

	if err := os.MkdirAll(cfg.DataDir(), 0755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}
	if err := os.MkdirAll(cfg.InboxDir(), 0755); err != nil {
		return fmt.Errorf("failed to create inbox dir: %w", err)
	}

	logger := logging.NewLogger(cfg.LogLevel())
	logger.Info("starting marriage signal studio", "version", config.Version, "data_dir", cfg.DataDir())

	database, err := db.New(cfg.DBPath(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	repo := catalog.NewRepository(database.Conn())

	authToken, err := ensureAuthToken(repo)
	if err != nil {
		return fmt.Errorf("failed to ensure auth token: %w", err)
	}

	fmt.Println()
	fmt.Println("╔═══════════════════════════════════════════════════════════╗")
	fmt.Printf("║  MARRIAGE SIGNAL STUDIO v%-32s ║\n", config.Version)
	fmt.Println("╠═══════════════════════════════════════════════════════════╣")
	fmt.Printf("║  API URL:    http://127.0.0.1:%-27d ║\n", cfg.Port())
	fmt.Printf("║  Auth Token: %-45s ║\n", authToken)
	fmt.Printf("║  Inbox:      %-45s ║\n", logging.SanitizePath(cfg.InboxDir()))
	fmt.Println("╚═══════════════════════════════════════════════════════════╝")
	fmt.Println()

	bus := events.NewBus()
	library := catalog.NewService(repo, logging.WithComponent(logger, "catalog"))

	personality := production.DefaultPersonalitySystem()
	if path := cfg.PersonalityFile(); path != "" {
		ps, err := production.LoadPersonalitySystem(path)
		if err != nil {
			return fmt.Errorf("failed to load personality file: %w", err)
		}
		personality = ps
		logger.Info("personality system loaded", "path", logging.SanitizePath(path))
	}

	client := newGenerationClient(cfg, logger)
	producer := production.NewProducer(client, production.Options{
		ShotDelay:   cfg.ShotDelay(),
		SpeechDelay: cfg.SpeechDelay(),
		RetryDelay:  production.DefaultRetryDelay,
		Personality: personality,
		Bus:         bus,
		Logger:      logging.WithComponent(logger, "production"),
	})

	sessions := session.NewManager(library, producer, session.Options{
		Bus:    bus,
		Logger: logging.WithComponent(logger, "session"),
	})

	var ffmpeg pipeline.FFmpeg = pipeline.NewExecFFmpeg(pipeline.Config{
		Path:   cfg.FFmpegPath(),
		Logger: logging.WithComponent(logger, "ffmpeg"),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if !ffmpeg.Available(ctx) {
		logger.Warn("ffmpeg not found, audio exports fall back to WAV")
		ffmpeg = pipeline.NewStubFFmpeg(logger)
	}

	runner := catalog.NewRunner(repo, sessions, logging.WithComponent(logger, "runner"), cfg.PollInterval())
	go runner.Start(ctx)

	inbox := watcher.New(cfg.InboxDir(), library, inboxDebounce, logging.WithComponent(logger, "inbox"))
	go func() {
		if err := inbox.Watch(ctx); err != nil {
			logger.Error("inbox watcher stopped", "error", err)
		}
	}()

	apiServer := api.NewServer(api.ServerConfig{
		Port:           cfg.Port(),
		Library:        library,
		Sessions:       sessions,
		Repository:     repo,
		Runner:         runner,
		PlaybackServer: playback.NewServer(logger),
		Bus:            bus,
		Generator:      client,
		FFmpeg:         ffmpeg,
		Logger:         logger,
		StartTime:      startTime,
		Version:        config.Version,
	})

	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Error("HTTP server error", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	quitCh := make(chan struct{})

	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received shutdown signal", "signal", sig)
			close(quitCh)
		case <-quitCh:
		}
	}()

	if headless {
		logger.Info("running in headless mode (no system tray)")
	} else {
		tray := ui.NewTray(ui.TrayConfig{
			Library: library,
			Preview: sessions,
			Runner:  runner,
			Logger:  logger,
			OnQuit: func() {
				close(quitCh)
			},
		})
		go tray.Run()
	}

	<-quitCh

	logger.Info("initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", "error", err)
	}
	sessions.CloseAll(shutdownCtx)
	cancel()

	logger.Info("shutdown complete")
	return nil
}

// newGenerationClient picks the story backend. Without a Gemini key,
// images and speech come from the stub generator.
func newGenerationClient(cfg config.Config, logger *slog.Logger) generation.Client {
	genLogger := logging.WithComponent(logger, "generation")

	var media generation.Client
	if cfg.GeminiAPIKey() != "" {
		media = generation.NewGeminiClient(cfg.GeminiBaseURL(), cfg.GeminiAPIKey(), genLogger)
	} else {
		media = generation.NewStubClient(genLogger)
	}

	switch cfg.StoryProvider() {
	case config.ProviderStub:
		return generation.NewStubClient(genLogger)
	case config.ProviderOpenAI:
		if cfg.OpenAIAPIKey() == "" {
			logger.Warn("no OpenAI API key configured, stories come from the default generator")
			return media
		}
		logger.Info("story generation via OpenAI")
		return generation.NewOpenAIStoryClient(cfg.OpenAIAPIKey(), media, genLogger)
	default:
		if cfg.GeminiAPIKey() == "" {
			logger.Warn("no Gemini API key configured, using the stub generator")
		}
		return media
	}
}

func ensureAuthToken(repo catalog.Repository) (string, error) {
	ctx := context.Background()

	existing, err := repo.GetConfig(ctx, "auth_token")
	if err == nil && existing != "" {
		return existing, nil
	}

	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", err
	}
	token := hex.EncodeToString(tokenBytes)

	if err := repo.SetConfig(ctx, "auth_token", token); err != nil {
		return "", err
	}

	return token, nil
}
