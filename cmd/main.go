package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/gennadis/voicechat/internal/auth"
	"github.com/gennadis/voicechat/internal/client"
	"github.com/gennadis/voicechat/internal/config"
	"github.com/gennadis/voicechat/internal/recorder"
	"github.com/gennadis/voicechat/internal/session"
	"github.com/gennadis/voicechat/internal/view"
	"github.com/gennadis/voicechat/storage"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %s", err)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()})))

	backend, err := openBackend(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to open local cache: %s", err)
	}
	cache := storage.NewCache(backend, cfg.MaxImagesPerSession)
	defer cache.Close()

	csrf, err := auth.NewCSRFHandler(cfg.BaseURL, cfg.CSRFToken)
	if err != nil {
		log.Fatalf("Failed to init csrf handler: %s", err)
	}
	if cfg.Cookie != "" {
		csrf.SetCookieHeader(cfg.Cookie)
	}
	if csrf.Token() == "" {
		if err := csrf.Refresh(ctx); err != nil {
			slog.Warn("No CSRF token available", "error", err)
		}
	}

	transcript := view.NewTranscript(os.Stdout, cfg.MediaBaseURL)
	api := client.NewClient(cfg, csrf)
	manager := session.NewManager(api, cache, transcript, session.Options{
		PageSize:   cfg.HistoryPageSize,
		Offline:    cfg.OfflineSessions,
		CacheMedia: cfg.CacheMedia,
	})

	mic := recorder.NewSession(recorder.NewExclusive(recorder.NewCommandDevice(cfg.MicCommand)), cfg.MicSampleRate)
	mic.OnState(func(st recorder.State) {
		slog.Debug("recorder state", slog.String("state", st.String()))
	})

	r := &repl{
		in:         bufio.NewReader(os.Stdin),
		out:        os.Stdout,
		manager:    manager,
		mic:        mic,
		transcript: transcript,
	}

	if restored, err := manager.Restore(ctx); err != nil {
		transcript.Alert(err)
	} else if !restored {
		transcript.Info("Type a message, or /help for commands.")
	}

	if err := r.run(ctx); err != nil && !errors.Is(err, io.EOF) {
		slog.Error("Input loop stopped", "error", err)
	}
	if mic.State() == recorder.Recording {
		mic.Stop()
	}
}

func openBackend(ctx context.Context, cfg *config.Config) (storage.Backend, error) {
	switch cfg.CacheBackend {
	case config.BackendRedis:
		return storage.NewRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.CacheQuotaBytes)
	default:
		db, err := storage.NewSqliteDB(cfg.CachePath)
		if err != nil {
			return nil, err
		}
		return storage.NewSQLite(db, cfg.CacheQuotaBytes)
	}
}

func (r *repl) run(ctx context.Context) error {
	for {
		r.prompt()
		line, err := r.in.ReadString('\n')
		if err != nil {
			return err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if quit := r.handle(ctx, line); quit {
			return nil
		}
	}
}

func (r *repl) prompt() {
	marks := ""
	if r.generateImage {
		marks += "[img]"
	}
	if r.mic.State() == recorder.Recording {
		marks += "[rec]"
	}
	fmt.Fprintf(r.out, "%s> ", marks)
}
