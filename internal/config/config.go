package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var (
	exeDirCache  string
	pathOverride string
)

const (
	DefaultPromptMaxTokens = 77
	DefaultRenderMaxTokens = 75
	DefaultMarker          = "negative:"
	DefaultNegativeBlock   = "negative: blurry, lowres, deformed, watermark, text, logo"
)

// getExecutableDir returns the directory where the executable is located
func getExecutableDir() string {
	if exeDirCache != "" {
		return exeDirCache
	}
	execPath, err := os.Executable()
	if err != nil {
		exeDirCache = "."
		return exeDirCache
	}
	execPath, err = filepath.EvalSymlinks(execPath)
	if err != nil {
		exeDirCache = "."
		return exeDirCache
	}
	exeDirCache = filepath.Dir(execPath)
	return exeDirCache
}

type Config struct {
	LLM     LLMConfig     `yaml:"llm"`
	Prompt  PromptConfig  `yaml:"prompt"`
	Render  RenderConfig  `yaml:"render"`
	Paths   PathsConfig   `yaml:"paths"`
	Cache   CacheConfig   `yaml:"cache,omitempty"`
	History HistoryConfig `yaml:"history,omitempty"`
	Audit   AuditConfig   `yaml:"audit,omitempty"`
	Batch   BatchConfig   `yaml:"batch,omitempty"`
	Logging LoggingConfig `yaml:"logging"`
}

// LLMConfig selects the backend that expands an idea.
// Provider is one of "ollama", "openai" or "anthropic".
// An empty BaseURL picks the provider's default endpoint.
type LLMConfig struct {
	Provider     string        `yaml:"provider"`
	BaseURL      string        `yaml:"base_url,omitempty"`
	APIKey       string        `yaml:"api_key,omitempty"`
	Model        string        `yaml:"model"`
	Temperature  float32       `yaml:"temperature"`
	TopP         float32       `yaml:"top_p"`
	MaxTokens    int           `yaml:"max_tokens,omitempty"` // generation cap for chat APIs
	Timeout      time.Duration `yaml:"timeout"`
	MaxRetries   int           `yaml:"max_retries,omitempty"`
	RetryBackoff time.Duration `yaml:"retry_backoff,omitempty"`
}

// PromptConfig is the reconciliation policy for generated prompts.
type PromptConfig struct {
	MaxTokens     int    `yaml:"max_tokens"`
	Marker        string `yaml:"marker"`
	NegativeBlock string `yaml:"negative_block"`
	// Counter is "word" (default) or "tiktoken".
	Counter  string `yaml:"counter,omitempty"`
	Encoding string `yaml:"encoding,omitempty"`
	Preset   string `yaml:"preset,omitempty"`
}

// RenderConfig configures the image backend. MaxTokens is the render-side
// budget and is deliberately separate from Prompt.MaxTokens.
type RenderConfig struct {
	BaseURL   string        `yaml:"base_url,omitempty"`
	APIKey    string        `yaml:"api_key,omitempty"`
	Model     string        `yaml:"model"`
	Size      string        `yaml:"size"`
	Quality   string        `yaml:"quality,omitempty"`
	MaxTokens int           `yaml:"max_tokens"`
	Timeout   time.Duration `yaml:"timeout"`
}

type PathsConfig struct {
	Root             string `yaml:"root,omitempty"`
	PromptsDir       string `yaml:"prompts_dir"`
	OutputPromptsDir string `yaml:"output_prompts_dir"`
	OutputPNGDir     string `yaml:"output_png_dir"`
	PresetsDir       string `yaml:"presets_dir,omitempty"`
}

// CacheConfig controls caching of raw LLM expansions.
// Backend is "none", "memory" or "redis".
type CacheConfig struct {
	Backend       string        `yaml:"backend"`
	TTL           time.Duration `yaml:"ttl"`
	RedisAddr     string        `yaml:"redis_addr,omitempty"`
	RedisPassword string        `yaml:"redis_password,omitempty"`
	RedisDB       int           `yaml:"redis_db,omitempty"`
	RedisPrefix   string        `yaml:"redis_prefix,omitempty"`
}

type HistoryConfig struct {
	Enabled    bool   `yaml:"enabled"`
	SQLitePath string `yaml:"sqlite_path"`
}

type AuditConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Dir           string `yaml:"dir"`
	RetentionDays int    `yaml:"retention_days"`
	FilePrefix    string `yaml:"file_prefix"`
}

type BatchConfig struct {
	Concurrency int           `yaml:"concurrency"`
	Interval    time.Duration `yaml:"interval"`
	Burst       int           `yaml:"burst"`
	Schedule    string        `yaml:"schedule,omitempty"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format,omitempty"`
	File   string `yaml:"file,omitempty"`
}

func DefaultConfig() *Config {
	return &Config{
		LLM: LLMConfig{
			Provider:    "ollama",
			Model:       "llama2-uncensored:latest",
			Temperature: 0.35,
			TopP:        0.9,
			MaxTokens:   512,
			Timeout:     120 * time.Second,
		},
		Prompt: PromptConfig{
			MaxTokens:     DefaultPromptMaxTokens,
			Marker:        DefaultMarker,
			NegativeBlock: DefaultNegativeBlock,
			Counter:       "word",
			Encoding:      "cl100k_base",
		},
		Render: RenderConfig{
			BaseURL:   "http://localhost:8080/v1",
			Model:     "stabilityai/stable-diffusion-xl-base-1.0",
			Size:      "1024x1024",
			MaxTokens: DefaultRenderMaxTokens,
			Timeout:   10 * time.Minute,
		},
		Paths: PathsConfig{
			PromptsDir:       filepath.Join("resources", "prompts"),
			OutputPromptsDir: filepath.Join("resources", "prompts"),
			OutputPNGDir:     filepath.Join("resources", "output", "png"),
			PresetsDir:       filepath.Join("resources", "presets"),
		},
		Cache: CacheConfig{
			Backend:     "memory",
			TTL:         30 * time.Minute,
			RedisAddr:   "localhost:6379",
			RedisPrefix: "sdxlprompt:",
		},
		History: HistoryConfig{
			Enabled:    true,
			SQLitePath: ".sdxlprompt.db",
		},
		Audit: AuditConfig{
			Enabled:       false,
			Dir:           ".sdxlprompt/audit",
			RetentionDays: 7,
			FilePrefix:    "promptbuild",
		},
		Batch: BatchConfig{
			Concurrency: 2,
			Interval:    2 * time.Second,
			Burst:       2,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// SetPath overrides the config file location for this process.
func SetPath(p string) {
	pathOverride = strings.TrimSpace(p)
}

func ConfigDir() string {
	return filepath.Dir(ConfigPath())
}

// ConfigPath resolves --config, then $SDXLPROMPT_CONFIG, then the file
// beside the executable.
func ConfigPath() string {
	if pathOverride != "" {
		return pathOverride
	}
	if env := strings.TrimSpace(os.Getenv("SDXLPROMPT_CONFIG")); env != "" {
		return env
	}
	exeDir := getExecutableDir()
	return filepath.Join(exeDir, ".sdxlprompt.yaml")
}

func Load() (*Config, error) {
	return LoadFromPath(ConfigPath())
}

// LoadFromPath reads a YAML config over the defaults. A missing file yields
// the defaults. Environment overrides are applied last.
func LoadFromPath(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := strings.TrimSpace(os.Getenv("OLLAMA_URL")); v != "" && c.LLM.Provider == "ollama" {
		c.LLM.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("SDXLPROMPT_MODEL")); v != "" {
		c.LLM.Model = v
	}
	if c.LLM.APIKey == "" {
		switch c.LLM.Provider {
		case "openai":
			c.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
		case "anthropic":
			c.LLM.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		}
	}
	if c.Render.APIKey == "" {
		c.Render.APIKey = os.Getenv("OPENAI_API_KEY")
	}
}

// SetProvider switches the LLM provider, dropping the endpoint and key that
// belonged to the previous one.
func (c *Config) SetProvider(provider string) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == c.LLM.Provider {
		return
	}
	if c.LLM.Model == DefaultConfig().LLM.Model {
		c.LLM.Model = ""
	}
	c.LLM.Provider = provider
	c.LLM.BaseURL = ""
	c.LLM.APIKey = ""
	c.applyEnv()
}

// Validate rejects settings the rest of the program cannot work with.
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case "ollama", "openai", "anthropic":
	default:
		return fmt.Errorf("llm.provider must be ollama, openai or anthropic, got %q", c.LLM.Provider)
	}
	if c.Prompt.MaxTokens <= 0 {
		return fmt.Errorf("prompt.max_tokens must be > 0")
	}
	if c.Render.MaxTokens <= 0 {
		return fmt.Errorf("render.max_tokens must be > 0")
	}
	marker := strings.TrimSpace(c.Prompt.Marker)
	if marker == "" || len(strings.Fields(marker)) != 1 {
		return fmt.Errorf("prompt.marker must be a single token")
	}
	neg := strings.Fields(c.Prompt.NegativeBlock)
	if len(neg) > 0 && neg[0] != marker {
		return fmt.Errorf("prompt.negative_block must start with %q", marker)
	}
	switch c.Prompt.Counter {
	case "", "word", "tiktoken":
	default:
		return fmt.Errorf("prompt.counter must be word or tiktoken, got %q", c.Prompt.Counter)
	}
	switch c.Cache.Backend {
	case "", "none", "memory", "redis":
	default:
		return fmt.Errorf("cache.backend must be none, memory or redis, got %q", c.Cache.Backend)
	}
	if c.Batch.Concurrency < 0 {
		return fmt.Errorf("batch.concurrency must be >= 0")
	}
	return nil
}

// Resolve joins a relative path onto Paths.Root.
func (c *Config) Resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	root := c.Paths.Root
	if root == "" {
		root = "."
	}
	return filepath.Join(root, p)
}

func (c *Config) Save() error {
	dir := ConfigDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(ConfigPath(), data, 0600)
}
