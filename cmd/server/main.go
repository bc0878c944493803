package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/obiente/translate/relay/internal/artifacts"
	"github.com/obiente/translate/relay/internal/config"
	serverhttp "github.com/obiente/translate/relay/internal/http"
	"github.com/obiente/translate/relay/internal/language"
	"github.com/obiente/translate/relay/internal/metrics"
	"github.com/obiente/translate/relay/internal/server"
	"github.com/obiente/translate/relay/internal/session"
	"github.com/obiente/translate/relay/internal/whisper"
	"github.com/obiente/translate/relay/internal/ws"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx)
	stop()
	if err != nil {
		var ce *config.ConfigError
		if errors.As(err, &ce) {
			log.Error().Err(err).Str("key", ce.Key).
				Msgf("set %s in the environment or in the file named by RELAY_CONFIG_FILE", ce.Key)
		} else {
			log.Error().Err(err).Msg("relay server failed")
		}
		os.Exit(1)
	}
}

// run wires the relay and blocks until ctx is cancelled. Resources opened
// here are released before it returns.
func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	lvl := zerolog.InfoLevel
	if cfg.LogLevel != "" {
		if l, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
			lvl = l
		}
	}
	log.Logger = log.Level(lvl)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	store := artifacts.New(cfg.RecordingDir, cfg.AudioExt)
	if err := store.Reset(); err != nil {
		return fmt.Errorf("prepare recording directory %s: %w", cfg.RecordingDir, err)
	}

	var idx *artifacts.Index
	deps := session.Deps{Store: store, Metrics: m}
	if cfg.IndexPath != "" {
		idx, err = artifacts.OpenIndex(cfg.IndexPath)
		if err != nil {
			return err
		}
		defer idx.Close()
		if err := idx.Clear(ctx); err != nil {
			return fmt.Errorf("clear chunk index: %w", err)
		}
		deps.Index = idx
	}

	tr, err := whisper.New(whisper.Options{
		Backend:   cfg.Transcriber,
		ModelPath: cfg.ModelPath,
		BaseURL:   cfg.OpenAIBaseURL,
		APIKey:    cfg.OpenAIAPIKey,
		Model:     cfg.TranscriptionModel,
		AudioExt:  cfg.AudioExt,
		Timeout:   cfg.LanguageTimeout(),
	})
	if err != nil {
		return fmt.Errorf("load %s transcriber: %w", cfg.Transcriber, err)
	}
	defer tr.Close()
	deps.Transcriber = tr

	deps.Language = language.NewClient(
		language.NewOpenAI(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.ChatModel, cfg.LanguageTimeout()),
		language.Options{
			MaxAttempts: cfg.LanguageMaxAttempts,
			RetryDelay:  cfg.LanguageRetryDelay(),
			Timeout:     cfg.LanguageTimeout(),
			RateLimit:   cfg.LanguageRateLimit,
			Metrics:     m,
		},
	)

	wss := ws.NewServer(ctx, session.NewHandler(deps), m, cfg.MaxAudioSize)
	sup := &server.Supervisor{
		Addr:         cfg.Addr,
		Handler:      serverhttp.NewRouter(wss, idx, reg),
		RestartDelay: cfg.RestartDelay(),
		Metrics:      m,
	}

	log.Info().
		Str("addr", cfg.Addr).
		Str("recording_dir", store.Dir()).
		Str("transcriber", cfg.Transcriber).
		Str("chat_model", cfg.ChatModel).
		Msg("relay server starting")
	return sup.Run(ctx)
}
