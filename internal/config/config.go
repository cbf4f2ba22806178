// Package config loads the YAML configuration shared by the server and the terminal client.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/MegaGrindStone/llamachat/internal/chat"
	"github.com/MegaGrindStone/llamachat/internal/services"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// PathEnv overrides the location of the configuration file.
const PathEnv = "LLAMACHAT_CONFIG"

// Defaults of the configuration.
const (
	DefaultPort         = "3001"
	DefaultPrefix       = "/api"
	DefaultUpstream     = "http://localhost:12434"
	DefaultModel        = "ai/qwen2.5:0.5B-F16"
	DefaultSystemPrompt = "You are a helpful AI assistant."
	DefaultStyle        = "monokai"
	DefaultLogLevel     = "info"
)

const defaultOllamaHost = "http://localhost:11434"

// LLM builds the completion backend of a provider.
type LLM interface {
	Completer(systemPrompt string, logger *slog.Logger) (chat.Completer, error)
	ProviderName() string
}

// BaseLLMConfig contains the common fields for all LLM configurations.
type BaseLLMConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
}

// Config is the complete configuration.
type Config struct {
	Port     string  `yaml:"port"`
	BuildDir string  `yaml:"buildDir"`
	LogLevel string  `yaml:"logLevel"`
	Proxy    Proxy   `yaml:"proxy"`
	LLM      LLM     `yaml:"llm"`
	Chat     Chat    `yaml:"chat"`
	Render   Render  `yaml:"render"`
	Journal  Journal `yaml:"journal"`
}

// Proxy configures the forwarding of API traffic.
type Proxy struct {
	Prefix   string `yaml:"prefix"`
	Upstream string `yaml:"upstream"`
}

// Chat configures chat sessions.
type Chat struct {
	SystemPrompt   string        `yaml:"systemPrompt"`
	CopyResetDelay time.Duration `yaml:"copyResetDelay"`
}

// Render configures message rendering.
type Render struct {
	Style    string `yaml:"style"`
	Markdown bool   `yaml:"markdown"`
}

// Journal configures the proxy exchange journal.
type Journal struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
	Keep    int    `yaml:"keep"`
}

// LlamaCppConfig calls a llama.cpp server through its OpenAI-compatible endpoint.
type LlamaCppConfig struct {
	BaseLLMConfig `yaml:",inline"`
	Host          string `yaml:"host"`
	Path          string `yaml:"path"`
}

// OpenAIConfig calls an OpenAI-compatible API through go-openai.
type OpenAIConfig struct {
	BaseLLMConfig `yaml:",inline"`
	APIKey        string `yaml:"apiKey"`
	BaseURL       string `yaml:"baseURL"`
}

// AnthropicConfig calls the Anthropic Messages API.
type AnthropicConfig struct {
	BaseLLMConfig `yaml:",inline"`
	APIKey        string `yaml:"apiKey"`
	BaseURL       string `yaml:"baseURL"`
	MaxTokens     int    `yaml:"maxTokens"`
}

// OllamaConfig calls an Ollama server.
type OllamaConfig struct {
	BaseLLMConfig `yaml:",inline"`
	Host          string `yaml:"host"`
}

// Default returns the configuration used when no file exists.
func Default() Config {
	return Config{
		Port:     DefaultPort,
		LogLevel: DefaultLogLevel,
		Proxy: Proxy{
			Prefix:   DefaultPrefix,
			Upstream: DefaultUpstream,
		},
		LLM: defaultLlamaCpp(),
		Chat: Chat{
			SystemPrompt:   DefaultSystemPrompt,
			CopyResetDelay: chat.DefaultCopyResetDelay,
		},
		Render: Render{
			Style: DefaultStyle,
		},
		Journal: Journal{
			Keep: services.DefaultJournalKeep,
		},
	}
}

func defaultLlamaCpp() *LlamaCppConfig {
	return &LlamaCppConfig{
		BaseLLMConfig: BaseLLMConfig{Provider: "llamacpp", Model: DefaultModel},
		Host:          DefaultUpstream,
		Path:          services.DefaultLlamaCppPath,
	}
}

// Dir returns the directory holding the configuration file and the journal database.
func Dir() (string, error) {
	cfgDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("error getting user config dir: %w", err)
	}
	return filepath.Join(cfgDir, "llamachat"), nil
}

// Path returns the configuration file location, honoring PathEnv.
func Path() (string, error) {
	if p := os.Getenv(PathEnv); p != "" {
		return p, nil
	}
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// Load reads .env from the working directory, if present, and then the configuration at path. A
// missing file yields Default.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("error loading .env: %w", err)
	}

	cfg := Default()

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("error opening config file: %w", err)
	}
	defer f.Close()

	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("error decoding config file: %w", err)
	}
	return cfg, nil
}

// UnmarshalYAML decodes the configuration on top of the values already in c, choosing the LLM
// configuration type by its provider field.
func (c *Config) UnmarshalYAML(value *yaml.Node) error {
	var rawConfig struct {
		Port     string         `yaml:"port"`
		BuildDir string         `yaml:"buildDir"`
		LogLevel string         `yaml:"logLevel"`
		Proxy    Proxy          `yaml:"proxy"`
		LLM      map[string]any `yaml:"llm"`
		Chat     Chat           `yaml:"chat"`
		Render   Render         `yaml:"render"`
		Journal  Journal        `yaml:"journal"`
	}
	rawConfig.Port = c.Port
	rawConfig.BuildDir = c.BuildDir
	rawConfig.LogLevel = c.LogLevel
	rawConfig.Proxy = c.Proxy
	rawConfig.Chat = c.Chat
	rawConfig.Render = c.Render
	rawConfig.Journal = c.Journal

	if err := value.Decode(&rawConfig); err != nil {
		return err
	}

	c.Port = rawConfig.Port
	c.BuildDir = rawConfig.BuildDir
	c.LogLevel = rawConfig.LogLevel
	c.Proxy = rawConfig.Proxy
	c.Chat = rawConfig.Chat
	c.Render = rawConfig.Render
	c.Journal = rawConfig.Journal

	if rawConfig.LLM == nil {
		return nil
	}

	llmProvider, ok := rawConfig.LLM["provider"].(string)
	if !ok {
		return fmt.Errorf("llm provider is required")
	}

	llmRawYAML, err := yaml.Marshal(rawConfig.LLM)
	if err != nil {
		return err
	}

	var llm LLM
	switch llmProvider {
	case "llamacpp":
		llm = defaultLlamaCpp()
	case "openai":
		llm = &OpenAIConfig{}
	case "ollama":
		llm = &OllamaConfig{}
	case "anthropic":
		llm = &AnthropicConfig{}
	default:
		return fmt.Errorf("unknown llm provider: %s", llmProvider)
	}

	if err := yaml.Unmarshal(llmRawYAML, llm); err != nil {
		return err
	}

	c.LLM = llm

	return nil
}

// Level parses LogLevel.
func (c Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(c.LogLevel))); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	return level, nil
}

// JournalPath returns the journal database location, defaulting to exchanges.db in Dir.
func (c Config) JournalPath() (string, error) {
	if c.Journal.Path != "" {
		return c.Journal.Path, nil
	}
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "exchanges.db"), nil
}

func (l LlamaCppConfig) ProviderName() string { return "llamacpp" }

func (l LlamaCppConfig) Completer(systemPrompt string, logger *slog.Logger) (chat.Completer, error) {
	if l.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	if l.Host == "" {
		return nil, fmt.Errorf("host is required")
	}
	return services.NewLlamaCpp(l.Host, l.Path, l.Model, systemPrompt, nil, logger), nil
}

func (o OpenAIConfig) ProviderName() string { return "openai" }

func (o OpenAIConfig) Completer(systemPrompt string, logger *slog.Logger) (chat.Completer, error) {
	if o.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	apiKey := o.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	return services.NewOpenAI(apiKey, o.BaseURL, o.Model, systemPrompt, logger), nil
}

func (o OllamaConfig) ProviderName() string { return "ollama" }

func (o OllamaConfig) Completer(systemPrompt string, logger *slog.Logger) (chat.Completer, error) {
	if o.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	host := o.Host
	if host == "" {
		host = os.Getenv("OLLAMA_HOST")
	}
	if host == "" {
		host = defaultOllamaHost
	}
	return services.NewOllama(host, o.Model, systemPrompt, logger)
}

func (a AnthropicConfig) ProviderName() string { return "anthropic" }

func (a AnthropicConfig) Completer(systemPrompt string, logger *slog.Logger) (chat.Completer, error) {
	if a.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	apiKey := a.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	return services.NewAnthropic(apiKey, a.BaseURL, a.Model, systemPrompt, a.MaxTokens, logger), nil
}
