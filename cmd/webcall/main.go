package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"rtcdemo/client/internal/caller"
	"rtcdemo/client/internal/config"
	"rtcdemo/client/internal/domain"
	"rtcdemo/client/internal/media"
	"rtcdemo/client/internal/panel"
	sigclient "rtcdemo/client/internal/signal"
	"rtcdemo/client/internal/webrtc"

	"github.com/gin-gonic/gin"
	pion "github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const helpText = `webcall - Place a WebRTC call through an HTTP signaling server

Usage:
  webcall [options]

Configuration is read from webcall.yaml (or the file named by
WEBCALL_CONFIG), a .env file and WEBCALL_* environment variables.

With panel.addr set, the call is started and ended from the control panel
(GET /ws, GET /state). Otherwise one call is placed right away and ended
on SIGINT/SIGTERM.

Environment Variables (common):
  WEBCALL_SIGNALING_BASE_URL   Signaling server origin (default http://localhost:9000/)
  WEBCALL_SIGNALING_PROTOCOL   trickle or gather (default trickle)
  WEBCALL_ICE_URLS             STUN/TURN server URLs
  WEBCALL_PANEL_ADDR           Control panel listen address, empty to disable
  WEBCALL_VIDEO_OUT            File receiving the remote H264 stream
  WEBCALL_LOG_LEVEL            trace, debug, info, warn or error

Examples:
  # Call and play back the remote video
  WEBCALL_PANEL_ADDR= WEBCALL_VIDEO_OUT=/dev/stdout webcall | ffplay -f h264 -

  # Serve the control panel
  WEBCALL_PANEL_ADDR=:9090 webcall

Options:
  -h, --help  Show this help message
`

func main() {
	if len(os.Args) > 1 && (os.Args[1] == "-h" || os.Args[1] == "--help") {
		fmt.Print(helpText)
		os.Exit(0)
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Str("module", "main").Msg("load config")
	}
	setupLogging(cfg.Log)

	ctx, cancel := ossignal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Str("module", "main").Msg("exit")
	}
	log.Info().Str("module", "main").Msg("done")
}

func setupLogging(c config.LogConfig) {
	if c.Format == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	level, _ := zerolog.ParseLevel(c.Level)
	zerolog.SetGlobalLevel(level)
	if level > zerolog.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	factory, err := webrtc.NewFactory(webrtc.Settings{
		URLs:              cfg.ICE.URLs,
		Username:          cfg.ICE.Username,
		Credential:        cfg.ICE.Credential,
		BundlePolicy:      cfg.ICE.BundlePolicy,
		TransportPolicy:   cfg.ICE.TransportPolicy,
		CandidatePoolSize: uint8(cfg.ICE.CandidatePoolSize),
	})
	if err != nil {
		return fmt.Errorf("create connection factory: %w", err)
	}

	signaler, err := sigclient.NewClient(sigclient.Options{
		BaseURL:          cfg.Signaling.BaseURL,
		SessionHeader:    cfg.Signaling.SessionHeader,
		ConnectPath:      cfg.Signaling.ConnectPath,
		CandidatePath:    cfg.Signaling.CandidatePath,
		SDPPath:          cfg.Signaling.SDPPath,
		DisconnectPath:   cfg.Signaling.DisconnectPath,
		SDPMethod:        cfg.Signaling.SDPMethod,
		RequireSessionID: cfg.Signaling.RequireSessionID,
		Timeout:          cfg.Signaling.Timeout,
		MaxRetries:       cfg.Signaling.Retry.MaxRetries,
		InitialInterval:  cfg.Signaling.Retry.InitialInterval,
		MaxInterval:      cfg.Signaling.Retry.MaxInterval,
	})
	if err != nil {
		return fmt.Errorf("create signaling client: %w", err)
	}

	prompter := media.Grant
	if cfg.Media.Deny {
		prompter = media.Deny
	}

	videoSink, closeVideo, err := newVideoSink(cfg.VideoOut)
	if err != nil {
		return err
	}
	defer closeVideo()

	ctrl, err := caller.New(caller.Deps{
		Media:    media.NewAcquirer(prompter),
		Conns:    factory,
		Signaler: signaler,
		Sinks:    []domain.MediaSink{videoSink, webrtc.NewDrainSink(pion.RTPCodecTypeAudio)},
	}, caller.Options{
		Constraints:   cfg.Constraints(),
		Offer:         cfg.OfferOptions(),
		Policy:        cfg.Signaling.Protocol,
		GatherTimeout: cfg.ICE.GatherTimeout,
	})
	if err != nil {
		return fmt.Errorf("create controller: %w", err)
	}

	var srv *http.Server
	if cfg.Panel.Addr != "" {
		p := panel.New(ctrl)
		ctrl.SetObserver(p)
		srv = &http.Server{Addr: cfg.Panel.Addr, Handler: p.Router(ctx)}
		go func() {
			log.Info().Str("module", "main").Str("addr", cfg.Panel.Addr).Msg("control panel listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Str("module", "main").Msg("control panel")
			}
		}()
	} else {
		go func() {
			if err := ctrl.StartCall(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Str("module", "main").Msg("call not established")
				return
			}
			log.Info().Str("module", "main").Msg("call established, press Ctrl-C to hang up")
		}()
	}

	// Run returns once ctx is done and the call, if any, has been torn down.
	err = ctrl.Run(ctx)
	log.Info().Str("module", "main").Msg("shutting down")

	if srv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Str("module", "main").Msg("control panel shutdown")
		}
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func newVideoSink(path string) (domain.MediaSink, func(), error) {
	if path == "" {
		return webrtc.NewDrainSink(pion.RTPCodecTypeVideo), func() {}, nil
	}

	log.Info().Str("module", "main").Str("path", path).Msg("writing remote H264 video")
	if path == "-" || path == "/dev/stdout" {
		return webrtc.NewH264Sink(os.Stdout), func() {}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open video output: %w", err)
	}
	return webrtc.NewH264Sink(f), func() { _ = f.Close() }, nil
}
