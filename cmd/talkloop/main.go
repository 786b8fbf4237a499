// Talkloop client - captures the mic, talks to the conversation backend,
// and plays the assistant's voice back.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/talkloop/talkloop/internal/audio"
	"github.com/talkloop/talkloop/internal/capture"
	"github.com/talkloop/talkloop/internal/config"
	"github.com/talkloop/talkloop/internal/playback"
	"github.com/talkloop/talkloop/internal/session"
	"github.com/talkloop/talkloop/internal/transport"
)

func main() {
	_ = godotenv.Load()

	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg := config.Load()

	tr, err := transport.FromURL(cfg.BackendURL)
	if err != nil {
		slog.Error("invalid backend URL", "url", cfg.BackendURL, "error", err)
		os.Exit(1)
	}

	speaker, err := playback.NewSpeaker(cfg.PlaybackSampleRate)
	if err != nil {
		slog.Error("failed to open audio output", "error", err)
		os.Exit(1)
	}

	ui := newConsoleUI()

	sess := session.New(session.PolicyFromConfig(cfg), session.Deps{
		Transport:  tr,
		NewMic:     func() capture.Mic { return capture.NewPortAudioMic() },
		NewEncoder: func() (capture.FrameEncoder, error) { return audio.NewEncoder(cfg.CaptureSampleRate) },
		NewPlayer: func(ctx context.Context) session.TurnPlayer {
			return playback.NewBuffer(ctx, speaker.NewSink, speaker)
		},
		Meter: ui,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := sess.Start(ctx); err != nil {
		slog.Error("failed to start session", "backend", cfg.BackendURL, "error", err)
		os.Exit(1)
	}

	slog.Info("conversation started", "backend", cfg.BackendURL, "session_id", sess.ID())
	go ui.Run(ctx, sess)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		slog.Info("shutting down...")
	case <-sess.Done():
	}

	sess.Stop()
	if err := sess.Err(); err != nil {
		slog.Error("session ended with error", "error", err)
		os.Exit(1)
	}
}
