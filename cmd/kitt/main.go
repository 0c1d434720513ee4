// Command kitt runs the KITT meeting-participant service: it loads
// configuration, constructs the shared provider clients, and starts the
// Supervisor's HTTP surface.
//
// SIGINT/SIGTERM trigger a graceful shutdown: stop accepting new HTTP
// connections, then tear down every live agent within a bounded deadline.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	sttapi "cloud.google.com/go/speech/apiv1"
	texttospeech "cloud.google.com/go/texttospeech/apiv1"
	"github.com/livekit/protocol/logger"
	"google.golang.org/api/option"

	"github.com/livekit-examples/kitt-agent/internal/config"
	"github.com/livekit-examples/kitt-agent/internal/kittlog"
	"github.com/livekit-examples/kitt-agent/internal/llm"
	"github.com/livekit-examples/kitt-agent/internal/supervisor"
	"github.com/livekit-examples/kitt-agent/internal/types"
)

const httpShutdownGrace = 5 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	kittlog.Init(cfg.Logging.Level)

	ctx := context.Background()

	var clientOpts []option.ClientOption
	if len(cfg.GoogleCredentialsJSON) > 0 {
		clientOpts = append(clientOpts, option.WithCredentialsJSON(cfg.GoogleCredentialsJSON))
	}

	sttClient, err := sttapi.NewClient(ctx, clientOpts...)
	if err != nil {
		logger.Errorw("failed to create speech client", err)
		os.Exit(1)
	}

	ttsClient, err := texttospeech.NewClient(ctx, clientOpts...)
	if err != nil {
		logger.Errorw("failed to create text-to-speech client", err)
		os.Exit(1)
	}

	llmClient := llm.New(llm.NewClient(cfg.OpenAIAPIKey), "")

	sup := supervisor.New(
		cfg.LiveKit.URL, cfg.LiveKit.APIKey, cfg.LiveKit.APISecret,
		sttClient, ttsClient, llmClient,
		types.DefaultLanguage(),
	)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: sup.Handler(),
	}

	go func() {
		logger.Infow("kitt listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorw("http server failed", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	logger.Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownGrace)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorw("http server shutdown error", err)
	}
	if err := sup.Shutdown(shutdownCtx); err != nil {
		logger.Errorw("supervisor shutdown error", err)
	}
}
