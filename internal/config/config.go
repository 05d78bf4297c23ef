package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"rtcdemo/client/internal/domain"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

const envPrefix = "WEBCALL"

// Protocol selects the candidate transmission policy and request shape.
const (
	ProtocolTrickle = "trickle"
	ProtocolGather  = "gather"
)

// Config holds the application configuration.
type Config struct {
	Signaling SignalingConfig `mapstructure:"signaling"`
	ICE       ICEConfig       `mapstructure:"ice"`
	Media     MediaConfig     `mapstructure:"media"`
	Offer     OfferConfig     `mapstructure:"offer"`
	Panel     PanelConfig     `mapstructure:"panel"`
	Log       LogConfig       `mapstructure:"log"`

	// VideoOut is a file path receiving the remote H264 stream; empty discards it.
	VideoOut string `mapstructure:"video_out"`
}

type SignalingConfig struct {
	BaseURL          string        `mapstructure:"base_url"`
	Protocol         string        `mapstructure:"protocol"`
	SessionHeader    string        `mapstructure:"session_header"`
	ConnectPath      string        `mapstructure:"connect_path"`
	CandidatePath    string        `mapstructure:"candidate_path"`
	SDPPath          string        `mapstructure:"sdp_path"`
	DisconnectPath   string        `mapstructure:"disconnect_path"`
	SDPMethod        string        `mapstructure:"sdp_method"`
	RequireSessionID bool          `mapstructure:"require_session_id"`
	Timeout          time.Duration `mapstructure:"timeout"`
	Retry            RetryConfig   `mapstructure:"retry"`
}

type RetryConfig struct {
	MaxRetries      uint64        `mapstructure:"max_retries"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
}

type ICEConfig struct {
	URLs              []string      `mapstructure:"urls"`
	Username          string        `mapstructure:"username"`
	Credential        string        `mapstructure:"credential"`
	BundlePolicy      string        `mapstructure:"bundle_policy"`
	TransportPolicy   string        `mapstructure:"transport_policy"`
	CandidatePoolSize int           `mapstructure:"candidate_pool_size"`
	GatherTimeout     time.Duration `mapstructure:"gather_timeout"`
}

type MediaConfig struct {
	Audio      bool   `mapstructure:"audio"`
	Video      bool   `mapstructure:"video"`
	Width      int    `mapstructure:"width"`
	Height     int    `mapstructure:"height"`
	FrameRate  int    `mapstructure:"framerate"`
	Deny       bool   `mapstructure:"deny"`
	AudioLabel string `mapstructure:"audio_label"`
	VideoLabel string `mapstructure:"video_label"`
}

type OfferConfig struct {
	ICERestart             bool `mapstructure:"ice_restart"`
	VoiceActivityDetection bool `mapstructure:"voice_activity_detection"`
}

type PanelConfig struct {
	Addr string `mapstructure:"addr"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("signaling.base_url", "http://localhost:9000/")
	v.SetDefault("signaling.protocol", ProtocolTrickle)
	v.SetDefault("signaling.session_header", "Session-ID")
	v.SetDefault("signaling.connect_path", "connect")
	v.SetDefault("signaling.candidate_path", "candidate")
	v.SetDefault("signaling.sdp_path", "sdp")
	v.SetDefault("signaling.disconnect_path", "disconnect")
	v.SetDefault("signaling.sdp_method", "")
	v.SetDefault("signaling.require_session_id", true)
	v.SetDefault("signaling.timeout", "10s")
	v.SetDefault("signaling.retry.max_retries", 2)
	v.SetDefault("signaling.retry.initial_interval", "200ms")
	v.SetDefault("signaling.retry.max_interval", "2s")

	v.SetDefault("ice.urls", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("ice.username", "")
	v.SetDefault("ice.credential", "")
	v.SetDefault("ice.bundle_policy", "balanced")
	v.SetDefault("ice.transport_policy", "all")
	v.SetDefault("ice.candidate_pool_size", 0)
	v.SetDefault("ice.gather_timeout", "10s")

	v.SetDefault("media.audio", true)
	v.SetDefault("media.video", true)
	v.SetDefault("media.width", 640)
	v.SetDefault("media.height", 480)
	v.SetDefault("media.framerate", 30)
	v.SetDefault("media.deny", false)
	v.SetDefault("media.audio_label", "default")
	v.SetDefault("media.video_label", "default")

	v.SetDefault("offer.ice_restart", false)
	v.SetDefault("offer.voice_activity_detection", true)

	v.SetDefault("panel.addr", ":9090")
	v.SetDefault("video_out", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

// Load reads configuration from a .env file (if present), an optional YAML
// file and WEBCALL_* environment variables, in increasing precedence.
func Load() (*Config, error) {
	// godotenv.Load does not overwrite existing env vars
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// WEBCALL_PANEL_ADDR= must be able to disable the panel.
	v.AllowEmptyEnv(true)
	setDefaults(v)

	if file := os.Getenv(envPrefix + "_CONFIG"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	} else {
		v.SetConfigName("webcall")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}
	if used := v.ConfigFileUsed(); used != "" {
		log.Info().Str("module", "config").Str("file", used).Msg("loaded config file")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() error {
	c.Signaling.Protocol = strings.ToLower(c.Signaling.Protocol)
	switch c.Signaling.Protocol {
	case ProtocolTrickle, ProtocolGather:
	default:
		return fmt.Errorf("signaling.protocol must be %q or %q, got %q", ProtocolTrickle, ProtocolGather, c.Signaling.Protocol)
	}

	c.Signaling.SDPMethod = strings.ToUpper(c.Signaling.SDPMethod)
	switch c.Signaling.SDPMethod {
	case "":
		c.Signaling.SDPMethod = "POST"
		if c.Signaling.Protocol == ProtocolGather {
			c.Signaling.SDPMethod = "PUT"
		}
	case "POST", "PUT":
	default:
		return fmt.Errorf("signaling.sdp_method must be POST or PUT, got %q", c.Signaling.SDPMethod)
	}

	u, err := url.Parse(c.Signaling.BaseURL)
	if err != nil {
		return fmt.Errorf("parse signaling.base_url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("signaling.base_url must be an http(s) URL, got %q", c.Signaling.BaseURL)
	}
	if c.Signaling.SessionHeader == "" {
		return fmt.Errorf("signaling.session_header is required")
	}

	switch c.ICE.BundlePolicy {
	case "balanced", "max-compat", "max-bundle":
	default:
		return fmt.Errorf("unknown ice.bundle_policy %q", c.ICE.BundlePolicy)
	}
	switch c.ICE.TransportPolicy {
	case "all", "relay":
	default:
		return fmt.Errorf("unknown ice.transport_policy %q", c.ICE.TransportPolicy)
	}
	if c.ICE.CandidatePoolSize < 0 || c.ICE.CandidatePoolSize > 255 {
		return fmt.Errorf("ice.candidate_pool_size out of range: %d", c.ICE.CandidatePoolSize)
	}

	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	return nil
}

// Constraints returns the capture constraints for the media acquirer.
func (c *Config) Constraints() domain.MediaConstraints {
	return domain.MediaConstraints{
		Audio:      c.Media.Audio,
		Video:      c.Media.Video,
		Width:      c.Media.Width,
		Height:     c.Media.Height,
		FrameRate:  c.Media.FrameRate,
		AudioLabel: c.Media.AudioLabel,
		VideoLabel: c.Media.VideoLabel,
	}
}

// OfferOptions returns the options passed to offer creation.
func (c *Config) OfferOptions() domain.OfferOptions {
	return domain.OfferOptions{
		ICERestart:             c.Offer.ICERestart,
		VoiceActivityDetection: c.Offer.VoiceActivityDetection,
	}
}
