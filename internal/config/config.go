// ABOUTME: Centralized configuration for paperchat
// ABOUTME: Defaults, then an optional YAML preferences file, then environment variables
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"
)

const appName = "paperchat"

// Encoder backends
const (
	EncoderWorker = "worker"
	EncoderOpenAI = "openai"
)

// State backends
const (
	StateSQLite = "sqlite"
	StateCharm  = "charm"
	StateMemory = "memory"
)

// Config holds all configuration for paperchat
type Config struct {
	// LLM settings
	Model         string        `yaml:"model"`
	OpenAIKey     string        `yaml:"openai_api_key,omitempty"`
	GeminiKey     string        `yaml:"gemini_api_key,omitempty"`
	PerplexityKey string        `yaml:"perplexity_api_key,omitempty"`
	ChatGLMKey    string        `yaml:"chatglm_api_key,omitempty"`
	CustomKey     string        `yaml:"custom_api_key,omitempty"`
	CustomAPIURL  string        `yaml:"custom_api_url,omitempty"`
	LLMTimeout    time.Duration `yaml:"llm_timeout"`

	// PDF parsing
	UseRemoteParser bool          `yaml:"remote_parser"`
	RemoteParserKey string        `yaml:"remote_parser_api_key,omitempty"`
	RemoteParserURL string        `yaml:"remote_parser_url"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	PollMaxWait     time.Duration `yaml:"poll_max_wait"`
	PollMaxAttempts int           `yaml:"poll_max_attempts"`

	// Retrieval
	ChunkWords       int `yaml:"chunk_words"`
	CacheSize        int `yaml:"cache_size"`
	MaxConversations int `yaml:"max_conversations"`

	// Embeddings
	Encoder        string `yaml:"encoder"`
	EncoderCommand string `yaml:"encoder_command"`
	EncoderModel   string `yaml:"encoder_model"`
	EmbeddingURL   string `yaml:"embedding_url,omitempty"`
	QueryCacheSize int    `yaml:"query_cache_size"`

	// Storage
	DataDir      string `yaml:"data_dir"`
	StateBackend string `yaml:"state_backend"`
	CharmHost    string `yaml:"charm_host"`
	CharmDBName  string `yaml:"charm_db"`
	ResetCache   bool   `yaml:"reset_cache"`

	// Logging
	LogLevel string `yaml:"log_level"`
	LogJSON  bool   `yaml:"log_json"`

	// preferences file this config was read from
	path string
	// reset_cache was set in that file rather than the environment
	fileReset bool
}

// Default returns the built-in defaults
func Default() *Config {
	return &Config{
		Model:            "gemini-pro",
		LLMTimeout:       5 * time.Minute,
		RemoteParserURL:  "https://api.cloud.llamaindex.ai/api/parsing/",
		PollInterval:     time.Second,
		PollMaxWait:      5 * time.Minute,
		PollMaxAttempts:  300,
		ChunkWords:       256,
		CacheSize:        5,
		MaxConversations: 5,
		Encoder:          EncoderWorker,
		EncoderCommand:   "paperchat-encoder",
		EncoderModel:     "Xenova/all-MiniLM-L6-v2",
		QueryCacheSize:   128,
		DataDir:          DefaultDataDir(),
		StateBackend:     StateSQLite,
		CharmHost:        "charm.2389.dev",
		CharmDBName:      appName,
		LogLevel:         "info",
	}
}

// DefaultDataDir returns $XDG_DATA_HOME/paperchat
func DefaultDataDir() string {
	return filepath.Join(xdg.DataHome, appName)
}

// DefaultConfigPath returns $XDG_CONFIG_HOME/paperchat/config.yaml
func DefaultConfigPath() string {
	return filepath.Join(xdg.ConfigHome, appName, "config.yaml")
}

// Load reads the preferences file named by PAPERCHAT_CONFIG (or the default path)
// and applies environment overrides
func Load() (*Config, error) {
	return LoadFile(getEnv("PAPERCHAT_CONFIG", DefaultConfigPath()))
}

// LoadFile is Load with an explicit preferences file. A missing file is not an error.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	cfg.path = path

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		cfg.fileReset = cfg.ResetCache
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	cfg.applyEnv()
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() {
	c.Model = getEnv("PAPERCHAT_MODEL", c.Model)
	c.OpenAIKey = getEnv("OPENAI_API_KEY", c.OpenAIKey)
	c.GeminiKey = getEnv("GEMINI_API_KEY", c.GeminiKey)
	c.PerplexityKey = getEnv("PERPLEXITY_API_KEY", c.PerplexityKey)
	c.ChatGLMKey = getEnv("CHATGLM_API_KEY", c.ChatGLMKey)
	c.CustomKey = getEnv("CUSTOM_API_KEY", c.CustomKey)
	c.CustomAPIURL = getEnv("PAPERCHAT_CUSTOM_API_URL", c.CustomAPIURL)
	c.LLMTimeout = getEnvDuration("PAPERCHAT_LLM_TIMEOUT", c.LLMTimeout)

	c.UseRemoteParser = getEnvBool("PAPERCHAT_REMOTE_PARSER", c.UseRemoteParser)
	c.RemoteParserKey = getEnv("LLAMA_PARSE_API_KEY", c.RemoteParserKey)
	c.RemoteParserURL = getEnv("PAPERCHAT_REMOTE_PARSER_URL", c.RemoteParserURL)
	c.PollInterval = getEnvDuration("PAPERCHAT_POLL_INTERVAL", c.PollInterval)
	c.PollMaxWait = getEnvDuration("PAPERCHAT_POLL_MAX_WAIT", c.PollMaxWait)
	c.PollMaxAttempts = getEnvInt("PAPERCHAT_POLL_MAX_ATTEMPTS", c.PollMaxAttempts)

	c.ChunkWords = getEnvInt("PAPERCHAT_CHUNK_WORDS", c.ChunkWords)
	c.CacheSize = getEnvInt("PAPERCHAT_CACHE_SIZE", c.CacheSize)
	c.MaxConversations = getEnvInt("PAPERCHAT_MAX_CONVERSATIONS", c.MaxConversations)

	c.Encoder = getEnv("PAPERCHAT_ENCODER", c.Encoder)
	c.EncoderCommand = getEnv("PAPERCHAT_ENCODER_COMMAND", c.EncoderCommand)
	c.EncoderModel = getEnv("PAPERCHAT_ENCODER_MODEL", c.EncoderModel)
	c.EmbeddingURL = getEnv("PAPERCHAT_EMBEDDING_URL", c.EmbeddingURL)
	c.QueryCacheSize = getEnvInt("PAPERCHAT_QUERY_CACHE", c.QueryCacheSize)

	c.DataDir = getEnv("PAPERCHAT_DATA_DIR", c.DataDir)
	c.StateBackend = getEnv("PAPERCHAT_STATE_BACKEND", c.StateBackend)
	c.CharmHost = getEnv("CHARM_HOST", c.CharmHost)
	c.CharmDBName = getEnv("PAPERCHAT_CHARM_DB", c.CharmDBName)
	c.ResetCache = getEnvBool("PAPERCHAT_RESET_CACHE", c.ResetCache)

	c.LogLevel = getEnv("PAPERCHAT_LOG_LEVEL", c.LogLevel)
	c.LogJSON = getEnvBool("PAPERCHAT_LOG_JSON", c.LogJSON)
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Model) == "" {
		return errors.New("PAPERCHAT_MODEL must not be empty")
	}
	if c.ChunkWords <= 0 {
		return fmt.Errorf("PAPERCHAT_CHUNK_WORDS must be positive, got %d", c.ChunkWords)
	}
	if c.CacheSize <= 0 {
		return fmt.Errorf("PAPERCHAT_CACHE_SIZE must be positive, got %d", c.CacheSize)
	}
	if c.MaxConversations <= 0 {
		return fmt.Errorf("PAPERCHAT_MAX_CONVERSATIONS must be positive, got %d", c.MaxConversations)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("PAPERCHAT_POLL_INTERVAL must be positive, got %v", c.PollInterval)
	}
	if c.PollMaxWait < c.PollInterval {
		return fmt.Errorf("PAPERCHAT_POLL_MAX_WAIT must be at least the poll interval, got %v", c.PollMaxWait)
	}
	if c.PollMaxAttempts <= 0 {
		return fmt.Errorf("PAPERCHAT_POLL_MAX_ATTEMPTS must be positive, got %d", c.PollMaxAttempts)
	}
	if c.LLMTimeout <= 0 {
		return fmt.Errorf("PAPERCHAT_LLM_TIMEOUT must be positive, got %v", c.LLMTimeout)
	}
	switch c.Encoder {
	case EncoderWorker, EncoderOpenAI:
	default:
		return fmt.Errorf("PAPERCHAT_ENCODER must be %q or %q, got %q", EncoderWorker, EncoderOpenAI, c.Encoder)
	}
	switch c.StateBackend {
	case StateSQLite, StateCharm, StateMemory:
	default:
		return fmt.Errorf("PAPERCHAT_STATE_BACKEND must be sqlite, charm or memory, got %q", c.StateBackend)
	}
	return nil
}

// UseRemote reports whether the remote parser is enabled and has a key
func (c *Config) UseRemote() bool {
	return c.UseRemoteParser && c.RemoteParserKey != ""
}

// APIKey returns the key configured for a provider name
func (c *Config) APIKey(provider string) string {
	switch provider {
	case "openai":
		return c.OpenAIKey
	case "gemini":
		return c.GeminiKey
	case "perplexity":
		return c.PerplexityKey
	case "chatglm":
		return c.ChatGLMKey
	case "custom":
		return c.CustomKey
	default:
		return ""
	}
}

// DBPath returns the SQLite database path inside DataDir
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, appName+".db")
}

// ClearReset turns off the one-shot reset_cache trigger once it has fired. When the
// trigger came from the preferences file, only its reset_cache key is rewritten to
// false; other keys and comments are left as they were.
func (c *Config) ClearReset() error {
	c.ResetCache = false
	if !c.fileReset || c.path == "" {
		return nil
	}

	data, err := os.ReadFile(c.path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", c.path, err)
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to parse %s: %w", c.path, err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return fmt.Errorf("%s is not a YAML mapping", c.path)
	}
	m := doc.Content[0]
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == "reset_cache" {
			m.Content[i+1].Tag = "!!bool"
			m.Content[i+1].Value = "false"
		}
	}

	out, err := yaml.Marshal(&doc)
	if err != nil {
		return err
	}
	if err := os.WriteFile(c.path, out, 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", c.path, err)
	}
	c.fileReset = false
	return nil
}

// Save writes the config as YAML, creating directories as needed
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// Helper functions
func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	return v == "true" || v == "1"
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
