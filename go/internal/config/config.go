package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/mcdev12/handduel/go/internal/dbconfig"
	"github.com/mcdev12/handduel/go/internal/models"
)

// ConfigPathEnv names the optional YAML config file.
const ConfigPathEnv = "HANDDUEL_CONFIG"

const defaultICEServer = "stun:stun.l.google.com:19302"

// Config is the handduel client configuration. YAML is applied over the
// defaults, then environment variables over YAML.
type Config struct {
	ServerURL string `yaml:"server_url"`
	APIURL    string `yaml:"api_url"`

	Username string               `yaml:"username"`
	Password string               `yaml:"password"`
	Token    string               `yaml:"token"`
	UserID   models.ParticipantID `yaml:"user_id"`

	SamplePeriod     time.Duration `yaml:"sample_period"`
	DetectionTimeout time.Duration `yaml:"detection_timeout"`
	SubmitTimeout    time.Duration `yaml:"submit_timeout"`
	DialAttempts     int           `yaml:"dial_attempts"`
	DialBackoff      time.Duration `yaml:"dial_backoff"`

	ICEServers []string `yaml:"ice_servers"`
	FramesDir  string   `yaml:"frames_dir"`

	NATSURL     string `yaml:"nats_url"`
	DatabaseURL string `yaml:"database_url"`
	StatusAddr  string `yaml:"status_addr"`
	LogLevel    string `yaml:"log_level"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		ServerURL:        "ws://localhost:8000/ws/multiplayer",
		APIURL:           "http://localhost:8000",
		SamplePeriod:     2 * time.Second,
		DetectionTimeout: 3 * time.Second,
		SubmitTimeout:    10 * time.Second,
		DialAttempts:     3,
		DialBackoff:      time.Second,
		ICEServers:       []string{defaultICEServer},
		FramesDir:        "frames",
		LogLevel:         "info",
	}
}

// Load reads .env, the YAML file at path (or $HANDDUEL_CONFIG when path is
// empty) and the environment, in that order.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	cfg := Default()
	if path == "" {
		path = os.Getenv(ConfigPathEnv)
	}
	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if cfg.DatabaseURL == "" && dbconfig.Configured() {
		cfg.DatabaseURL = dbconfig.NewConfigFromEnv().DSN()
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	cfg.ServerURL = getEnv("HANDDUEL_SERVER_URL", cfg.ServerURL)
	cfg.APIURL = getEnv("HANDDUEL_API_URL", cfg.APIURL)
	cfg.Username = getEnv("HANDDUEL_USERNAME", cfg.Username)
	cfg.Password = getEnv("HANDDUEL_PASSWORD", cfg.Password)
	cfg.Token = getEnv("HANDDUEL_TOKEN", cfg.Token)
	cfg.FramesDir = getEnv("HANDDUEL_FRAMES_DIR", cfg.FramesDir)
	cfg.NATSURL = getEnv("NATS_URL", cfg.NATSURL)
	cfg.DatabaseURL = getEnv("DATABASE_URL", cfg.DatabaseURL)
	cfg.StatusAddr = getEnv("HANDDUEL_STATUS_ADDR", cfg.StatusAddr)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.DialAttempts = getEnvAsInt("HANDDUEL_DIAL_ATTEMPTS", cfg.DialAttempts)
	cfg.SamplePeriod = getEnvAsDuration("HANDDUEL_SAMPLE_PERIOD", cfg.SamplePeriod)
	cfg.DetectionTimeout = getEnvAsDuration("HANDDUEL_DETECTION_TIMEOUT", cfg.DetectionTimeout)
	cfg.SubmitTimeout = getEnvAsDuration("HANDDUEL_SUBMIT_TIMEOUT", cfg.SubmitTimeout)
	cfg.DialBackoff = getEnvAsDuration("HANDDUEL_DIAL_BACKOFF", cfg.DialBackoff)

	if v := os.Getenv("HANDDUEL_ICE_SERVERS"); v != "" {
		cfg.ICEServers = splitList(v)
	}
	if v := os.Getenv("HANDDUEL_USER_ID"); v != "" {
		id, err := models.ParseParticipantID(v)
		if err != nil {
			return fmt.Errorf("HANDDUEL_USER_ID: %w", err)
		}
		cfg.UserID = id
	}
	return nil
}

// Validate checks that the client can authenticate and reach the server.
func (c Config) Validate() error {
	if c.ServerURL == "" {
		return errors.New("server url is required")
	}
	if c.APIURL == "" {
		return errors.New("api url is required")
	}
	switch {
	case c.Token != "":
		if c.UserID == 0 {
			return errors.New("user id is required with a static token")
		}
	case c.Username == "" || c.Password == "":
		return errors.New("either a token or username and password is required")
	}
	if c.SamplePeriod <= 0 {
		return fmt.Errorf("sample period must be positive, got %s", c.SamplePeriod)
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	return nil
}

// Level returns the parsed log level, defaulting to info.
func (c Config) Level() zerolog.Level {
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
		log.Warn().Str("key", key).Str("value", value).Msg("ignoring non-integer value")
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		log.Warn().Str("key", key).Str("value", value).Msg("ignoring invalid duration")
	}
	return defaultValue
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
