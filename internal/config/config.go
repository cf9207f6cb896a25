// Package config provides configuration management for the studio service.
// Defaults are overridden by an optional YAML file and then by environment
// variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// Default values
	DefaultPort          = 8797
	DefaultLogLevel      = "info"
	DefaultDataDir       = ".marriage-signal"
	DefaultStoryProvider = ProviderGemini
	DefaultPollInterval  = 2 * time.Second
	DefaultShotDelay     = 500 * time.Millisecond
	DefaultSpeechDelay   = 300 * time.Millisecond

	// Environment variable names
	EnvPort            = "SIGNAL_PORT"
	EnvLogLevel        = "SIGNAL_LOG_LEVEL"
	EnvDataDir         = "SIGNAL_DATA_DIR"
	EnvGeminiAPIKey    = "SIGNAL_GEMINI_API_KEY"
	EnvGeminiBaseURL   = "SIGNAL_GEMINI_BASE_URL"
	EnvOpenAIAPIKey    = "SIGNAL_OPENAI_API_KEY"
	EnvStoryProvider   = "SIGNAL_STORY_PROVIDER"
	EnvHeadless        = "SIGNAL_HEADLESS"
	EnvPollIntervalMs  = "SIGNAL_POLL_INTERVAL_MS"
	EnvShotDelayMs     = "SIGNAL_SHOT_DELAY_MS"
	EnvSpeechDelayMs   = "SIGNAL_TTS_DELAY_MS"
	EnvFFmpegPath      = "SIGNAL_FFMPEG_PATH"
	EnvPersonalityFile = "SIGNAL_PERSONALITY_FILE"
	EnvConfigFile      = "SIGNAL_CONFIG_FILE"

	// Story providers
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
	ProviderStub   = "stub"

	DBFilename     = "studio.db"
	ConfigFilename = "config.yaml"
)

// Config defines the application configuration interface
type Config interface {
	Port() int
	LogLevel() string
	DataDir() string
	DBPath() string
	InboxDir() string
	GeminiAPIKey() string
	GeminiBaseURL() string
	OpenAIAPIKey() string
	StoryProvider() string
	Headless() bool
	PollInterval() time.Duration
	ShotDelay() time.Duration
	SpeechDelay() time.Duration
	FFmpegPath() string
	PersonalityFile() string
}

// fileConfig is the YAML file layout. Zero values leave the default alone.
type fileConfig struct {
	Port            int    `yaml:"port"`
	LogLevel        string `yaml:"log_level"`
	DataDir         string `yaml:"data_dir"`
	Headless        *bool  `yaml:"headless"`
	PersonalityFile string `yaml:"personality_file"`
	FFmpegPath      string `yaml:"ffmpeg_path"`
	Generation      struct {
		Provider      string `yaml:"provider"`
		GeminiAPIKey  string `yaml:"gemini_api_key"`
		GeminiBaseURL string `yaml:"gemini_base_url"`
		OpenAIAPIKey  string `yaml:"openai_api_key"`
		ShotDelayMs   int    `yaml:"shot_delay_ms"`
		SpeechDelayMs int    `yaml:"tts_delay_ms"`
	} `yaml:"generation"`
	Jobs struct {
		PollIntervalMs int `yaml:"poll_interval_ms"`
	} `yaml:"jobs"`
}

// EnvConfig reads configuration from the YAML file and environment
type EnvConfig struct {
	port            int
	logLevel        string
	dataDir         string
	geminiAPIKey    string
	geminiBaseURL   string
	openAIAPIKey    string
	storyProvider   string
	headless        bool
	pollInterval    time.Duration
	shotDelay       time.Duration
	speechDelay     time.Duration
	ffmpegPath      string
	personalityFile string
	configFile      string
}

// New creates a new EnvConfig with defaults, file and environment overrides
func New() (*EnvConfig, error) {
	cfg := &EnvConfig{
		port:          DefaultPort,
		logLevel:      DefaultLogLevel,
		dataDir:       defaultDataDir(),
		storyProvider: DefaultStoryProvider,
		pollInterval:  DefaultPollInterval,
		shotDelay:     DefaultShotDelay,
		speechDelay:   DefaultSpeechDelay,
	}
	if dd := os.Getenv(EnvDataDir); dd != "" {
		cfg.dataDir = dd
	}

	path := os.Getenv(EnvConfigFile)
	required := path != ""
	if !required {
		path = filepath.Join(cfg.dataDir, ConfigFilename)
	}
	if err := cfg.loadFile(path, required); err != nil {
		return nil, err
	}

	if err := cfg.loadEnv(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *EnvConfig) loadFile(path string, required bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !required {
			return nil
		}
		return fmt.Errorf("reading config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	c.configFile = path

	if fc.Port != 0 {
		c.port = fc.Port
	}
	setString(&c.logLevel, fc.LogLevel)
	setString(&c.dataDir, fc.DataDir)
	if fc.Headless != nil {
		c.headless = *fc.Headless
	}
	setString(&c.personalityFile, fc.PersonalityFile)
	setString(&c.ffmpegPath, fc.FFmpegPath)
	setString(&c.storyProvider, fc.Generation.Provider)
	setString(&c.geminiAPIKey, fc.Generation.GeminiAPIKey)
	setString(&c.geminiBaseURL, fc.Generation.GeminiBaseURL)
	setString(&c.openAIAPIKey, fc.Generation.OpenAIAPIKey)
	if fc.Generation.ShotDelayMs > 0 {
		c.shotDelay = time.Duration(fc.Generation.ShotDelayMs) * time.Millisecond
	}
	if fc.Generation.SpeechDelayMs > 0 {
		c.speechDelay = time.Duration(fc.Generation.SpeechDelayMs) * time.Millisecond
	}
	if fc.Jobs.PollIntervalMs > 0 {
		c.pollInterval = time.Duration(fc.Jobs.PollIntervalMs) * time.Millisecond
	}
	return nil
}

func (c *EnvConfig) loadEnv() error {
	if p := os.Getenv(EnvPort); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		c.port = port
	}

	setString(&c.logLevel, os.Getenv(EnvLogLevel))
	setString(&c.dataDir, os.Getenv(EnvDataDir))
	setString(&c.geminiAPIKey, os.Getenv(EnvGeminiAPIKey))
	setString(&c.geminiBaseURL, os.Getenv(EnvGeminiBaseURL))
	setString(&c.openAIAPIKey, os.Getenv(EnvOpenAIAPIKey))
	setString(&c.storyProvider, strings.ToLower(os.Getenv(EnvStoryProvider)))
	setString(&c.ffmpegPath, os.Getenv(EnvFFmpegPath))
	setString(&c.personalityFile, os.Getenv(EnvPersonalityFile))

	if h := os.Getenv(EnvHeadless); h != "" {
		v, err := strconv.ParseBool(h)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvHeadless, err)
		}
		c.headless = v
	}

	for _, d := range []struct {
		env string
		dst *time.Duration
	}{
		{EnvPollIntervalMs, &c.pollInterval},
		{EnvShotDelayMs, &c.shotDelay},
		{EnvSpeechDelayMs, &c.speechDelay},
	} {
		v := os.Getenv(d.env)
		if v == "" {
			continue
		}
		ms, err := strconv.Atoi(v)
		if err != nil || ms < 0 {
			return fmt.Errorf("invalid %s: must be a non-negative number of milliseconds", d.env)
		}
		*d.dst = time.Duration(ms) * time.Millisecond
	}
	return nil
}

func (c *EnvConfig) validate() error {
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port %d: port must be between 1 and 65535", c.port)
	}
	switch c.storyProvider {
	case ProviderGemini, ProviderOpenAI, ProviderStub:
	default:
		return fmt.Errorf("invalid story provider %q: want gemini, openai or stub", c.storyProvider)
	}
	if c.pollInterval <= 0 {
		return fmt.Errorf("invalid poll interval %v", c.pollInterval)
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// Port returns the HTTP server port
func (c *EnvConfig) Port() int {
	return c.port
}

// LogLevel returns the log level (debug, info, warn, error)
func (c *EnvConfig) LogLevel() string {
	return c.logLevel
}

// DataDir returns the data directory path
func (c *EnvConfig) DataDir() string {
	return c.dataDir
}

// DBPath returns the full path to the SQLite database file
func (c *EnvConfig) DBPath() string {
	return filepath.Join(c.dataDir, DBFilename)
}

// InboxDir is watched for project documents to import.
func (c *EnvConfig) InboxDir() string {
	return filepath.Join(c.dataDir, "inbox")
}

func (c *EnvConfig) GeminiAPIKey() string {
	return c.geminiAPIKey
}

func (c *EnvConfig) GeminiBaseURL() string {
	return c.geminiBaseURL
}

func (c *EnvConfig) OpenAIAPIKey() string {
	return c.openAIAPIKey
}

// StoryProvider is gemini, openai or stub. Without an API key the
// service falls back to stub.
func (c *EnvConfig) StoryProvider() string {
	return c.storyProvider
}

func (c *EnvConfig) Headless() bool {
	return c.headless
}

func (c *EnvConfig) PollInterval() time.Duration {
	return c.pollInterval
}

func (c *EnvConfig) ShotDelay() time.Duration {
	return c.shotDelay
}

func (c *EnvConfig) SpeechDelay() time.Duration {
	return c.speechDelay
}

func (c *EnvConfig) FFmpegPath() string {
	return c.ffmpegPath
}

func (c *EnvConfig) PersonalityFile() string {
	return c.personalityFile
}

// ConfigFile is the YAML file that was applied, if any.
func (c *EnvConfig) ConfigFile() string {
	return c.configFile
}

// defaultDataDir returns the default data directory path
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return DefaultDataDir
	}
	return filepath.Join(home, DefaultDataDir)
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
