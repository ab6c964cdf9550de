package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/room4-2/voicebank/api"
	"github.com/room4-2/voicebank/config"
	"github.com/room4-2/voicebank/credential"
	"github.com/room4-2/voicebank/functions"
	"github.com/room4-2/voicebank/gemini"
	"github.com/room4-2/voicebank/logging"
	"github.com/room4-2/voicebank/mockdata"
	"github.com/room4-2/voicebank/server"
	"github.com/room4-2/voicebank/session"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	if cfg.OpenAIAPIKey == "" {
		logger.Warn("OPENAI_API_KEY is not set. Chat, transcription, and TTS will fail.")
	}
	if os.Getenv("OPENAI_REALTIME_API_KEY") == "" && cfg.OpenAIAPIKey != "" {
		logger.Info("OPENAI_REALTIME_API_KEY not set; realtime will use OPENAI_API_KEY.")
	}

	// Create session manager
	sessionManager, err := session.NewManager(cfg, nil, logger)
	if err != nil {
		logger.Fatal("Failed to create session manager", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	agent, err := newAgent(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to create agent", zap.Error(err))
	}

	minter := credential.NewMinter(cfg.OpenAIBaseURL, cfg.RealtimeAPIKey, cfg.RealtimeModel, nil)
	var apiAgent api.Agent
	if agent != nil {
		apiAgent = agent
		defer agent.Close()
	}
	handlers := api.NewHandlers(cfg, nil, minter, apiAgent, logger)

	srv := server.NewServerWebsocket(cfg, sessionManager, handlers.Routes(), logger)

	// Start cleanup routine
	go sessionManager.StartCleanupRoutine(ctx)

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Received shutdown signal")
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", zap.Error(err))
		}
	}()

	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("Server error", zap.Error(err))
	}

	logger.Info("Server stopped")
}

// newAgent returns nil when GEMINI_API_KEY is not configured
func newAgent(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*gemini.Agent, error) {
	if cfg.GeminiAPIKey == "" {
		logger.Info("GEMINI_API_KEY not set; /api/agent disabled")
		return nil, nil
	}
	data, err := mockdata.Load()
	if err != nil {
		return nil, err
	}
	return gemini.NewAgent(ctx, cfg.GeminiAPIKey, cfg.AgentModel, functions.NewToolbox(data), logger)
}
