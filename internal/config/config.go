package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/DoyleJ11/davinci-client/internal/roomstate"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Config struct {
	ServerURL  string
	RoomID     string
	NumPlayers int
	Policy     roomstate.Policy
	LogLevel   string
	LogFormat  string // console | json
}

// Parse reads flags, falling back to the environment (optionally seeded from
// a .env file), then to defaults.
func Parse(args []string) (Config, error) {
	// A missing .env is fine.
	_ = godotenv.Load()

	var cfg Config
	var policy string
	fs := flag.NewFlagSet("davinci-client", flag.ContinueOnError)

	fs.StringVar(&cfg.ServerURL, "server", "", "Collaborator base URL")
	fs.StringVar(&cfg.RoomID, "room", "", "Room to open on start")
	fs.IntVar(&cfg.NumPlayers, "players", 0, "Players for a new room (2-4)")
	fs.StringVar(&policy, "stale", "", "Out-of-order fetches: last-writer-wins or discard")
	fs.StringVar(&cfg.LogLevel, "log-level", "", "debug, info, warn or error")
	fs.StringVar(&cfg.LogFormat, "log-format", "", "console or json")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg.ServerURL = orEnv(cfg.ServerURL, "DAVINCI_SERVER", "http://localhost:8080")
	cfg.RoomID = orEnv(cfg.RoomID, "DAVINCI_ROOM", "")
	cfg.LogLevel = orEnv(cfg.LogLevel, "LOG_LEVEL", "info")
	cfg.LogFormat = orEnv(cfg.LogFormat, "LOG_FORMAT", "console")
	policy = orEnv(policy, "DAVINCI_STALE_POLICY", string(roomstate.LastWriterWins))

	if cfg.NumPlayers == 0 {
		if s := os.Getenv("DAVINCI_PLAYERS"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil {
				return Config{}, errors.New("invalid DAVINCI_PLAYERS env variable")
			}
			cfg.NumPlayers = n
		} else {
			cfg.NumPlayers = 2
		}
	}
	if cfg.NumPlayers < 2 || cfg.NumPlayers > 4 {
		return Config{}, fmt.Errorf("players must be between 2 and 4, got %d", cfg.NumPlayers)
	}

	switch roomstate.Policy(policy) {
	case roomstate.LastWriterWins, roomstate.DiscardStale:
		cfg.Policy = roomstate.Policy(policy)
	default:
		return Config{}, fmt.Errorf("unknown stale policy %q", policy)
	}

	switch cfg.LogFormat {
	case "console", "json":
	default:
		return Config{}, fmt.Errorf("unknown log format %q", cfg.LogFormat)
	}
	if _, err := zapcore.ParseLevel(cfg.LogLevel); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Logger builds the process logger described by cfg.
func (cfg Config) Logger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	var zc zap.Config
	if cfg.LogFormat == "json" {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	// stdout belongs to the game display
	zc.OutputPaths = []string{"stderr"}
	return zc.Build()
}

func orEnv(v, key, def string) string {
	if v != "" {
		return v
	}
	if e := os.Getenv(key); e != "" {
		return e
	}
	return def
}
