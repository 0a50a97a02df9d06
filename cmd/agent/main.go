// The agent binary runs on each fixed device. Frames arrive as raw RGBA on
// stdin, typically from an ffmpeg rawvideo pipe:
//
//	ffmpeg -f v4l2 -i /dev/video0 -vf scale=64:48 -pix_fmt rgba -f rawvideo - | agent
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/lumora/hearthlink/internal/agent"
	"github.com/lumora/hearthlink/internal/config"
	"github.com/lumora/hearthlink/internal/motion"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("failed to load config")
	}
	if cfg.Agent.DeviceID == "" || cfg.Agent.GroupID == "" {
		log.Error().Msg("agent.device_id and agent.group_id are required")
		os.Exit(1)
	}

	src, err := motion.NewStreamSource(os.Stdin, cfg.Agent.Motion.FrameWidth, cfg.Agent.Motion.FrameHeight)
	if err != nil {
		log.Error().Err(err).Msg("bad frame source config")
		os.Exit(1)
	}

	a := agent.New(cfg.Agent, clockwork.NewRealClock(), src, nil)

	log.Info().
		Str("device", cfg.Agent.DeviceID).
		Str("group", cfg.Agent.GroupID).
		Str("server", cfg.Agent.ServerURL).
		Msg("hearthlink agent started")

	if err := a.Run(ctx); err != nil && ctx.Err() == nil {
		log.Error().Err(err).Msg("agent stopped")
		os.Exit(1)
	}
	log.Info().Msg("agent exited gracefully")
}
