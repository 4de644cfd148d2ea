package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

var ErrInvalidConfig = errors.New("invalid config")

// Timing holds every bounded wait of the lobby protocol.
type Timing struct {
	Tick              time.Duration `env:"TICK"                envDefault:"50ms"`
	StartGuard        time.Duration `env:"START_GUARD"         envDefault:"750ms"`
	PlayerInfoTimeout time.Duration `env:"PLAYER_INFO_TIMEOUT" envDefault:"1500ms"`
	AckTimeout        time.Duration `env:"ACK_TIMEOUT"         envDefault:"2s"`
	SceneTimeout      time.Duration `env:"SCENE_TIMEOUT"       envDefault:"15s"`
	LoadingEstimate   time.Duration `env:"LOADING_ESTIMATE"    envDefault:"5s"`
	AutoStartTick     time.Duration `env:"AUTOSTART_TICK"      envDefault:"250ms"`
	SoloGrace         time.Duration `env:"SOLO_GRACE"          envDefault:"3s"`
	ListTimeout       time.Duration `env:"LIST_TIMEOUT"        envDefault:"3s"`
}

type Config struct {
	Addr         string `env:"ADDR"         envDefault:":8080"`
	DatabaseURL  string `env:"DATABASE_URL"`
	OTelEndpoint string `env:"OTEL_ENDPOINT"`

	// OriginPatterns lists extra browser origins allowed to open /ws,
	// e.g. "localhost:*" during development.
	OriginPatterns []string `env:"ORIGIN_PATTERNS" envSeparator:","`

	ServerURL   string `env:"SERVER_URL"   envDefault:"ws://localhost:8080"`
	DisplayName string `env:"DISPLAY_NAME" envDefault:"Player"`
	// DebugSolo lets the auto-start watcher begin a match with a single
	// player after SoloGrace. Development builds only.
	DebugSolo bool `env:"DEBUG_SOLO"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	LogDev   bool   `env:"LOG_DEV"`

	DefaultCapacity int            `env:"DEFAULT_CAPACITY" envDefault:"4"`
	ModeTeams       map[string]int `env:"MODE_TEAMS"       envDefault:"duel:1,squad:2" envKeyValSeparator:":"`

	Timing Timing
}

// Default returns the configuration with every default applied and no
// environment consulted.
func Default() Config {
	var c Config
	if err := env.ParseWithOptions(&c, env.Options{Prefix: "LOBBY_", Environment: map[string]string{}}); err != nil {
		panic(err) // defaults are static
	}
	return c
}

// Load reads an optional .env file and then the LOBBY_* environment.
func Load(files ...string) (Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load env file: %w", err)
	}
	var c Config
	if err := env.ParseWithOptions(&c, env.Options{Prefix: "LOBBY_"}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) Validate() error {
	if c.DefaultCapacity <= 0 {
		return fmt.Errorf("%w: default capacity %d", ErrInvalidConfig, c.DefaultCapacity)
	}
	return c.Timing.Validate()
}

func (t Timing) Validate() error {
	for name, d := range map[string]time.Duration{
		"tick":                t.Tick,
		"player info timeout": t.PlayerInfoTimeout,
		"ack timeout":         t.AckTimeout,
		"scene timeout":       t.SceneTimeout,
		"autostart tick":      t.AutoStartTick,
		"list timeout":        t.ListTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %v", ErrInvalidConfig, name, d)
		}
	}
	if t.StartGuard < 0 || t.SoloGrace < 0 || t.LoadingEstimate < 0 {
		return fmt.Errorf("%w: negative duration", ErrInvalidConfig)
	}
	return nil
}

// TeamsFor returns the team count configured for a mode; unknown modes get
// zero, which team assignment treats as free-for-all.
func (c Config) TeamsFor(mode string) int { return c.ModeTeams[mode] }
