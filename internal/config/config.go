package config

import (
	"bytes"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	appdefaults "github.com/shato-ai/voice-server/config"

	"github.com/shato-ai/voice-server/internal/logger"
	"github.com/spf13/viper"
)

// StagesConfig holds the endpoints of the four pipeline stages and the toggles
// for the optional ones. Disabling a toggle collapses the corresponding stage
// to "skipped" instead of maintaining a separate pipeline variant.
type StagesConfig struct {
	STTURL           string `mapstructure:"stt_url"`
	LLMURL           string `mapstructure:"llm_url"`
	ValidatorURL     string `mapstructure:"validator_url"`
	TTSURL           string `mapstructure:"tts_url"`
	ValidatorEnabled bool   `mapstructure:"validator_enabled"`
	TTSEnabled       bool   `mapstructure:"tts_enabled"`
}

// RetryConfig bounds the orchestrator-to-stage retry behavior. Retries apply
// only to connection-level failures, never to 4xx rejections.
type RetryConfig struct {
	Attempts     int `mapstructure:"attempts"`
	DelaySeconds int `mapstructure:"delay_seconds"`
}

// Delay returns the fixed inter-attempt delay.
func (r RetryConfig) Delay() time.Duration {
	return time.Duration(r.DelaySeconds) * time.Second
}

// LLMConfig selects and parameterizes the completion backend.
type LLMConfig struct {
	Backend     string  `mapstructure:"backend"`
	OllamaURL   string  `mapstructure:"ollama_url"`
	OllamaModel string  `mapstructure:"ollama_model"`
	OpenAIModel string  `mapstructure:"openai_model"`
	Temperature float64 `mapstructure:"temperature"`
	TopP        float64 `mapstructure:"top_p"`
	TopK        int     `mapstructure:"top_k"`
}

// TTSConfig represents a ttsConfig.
type TTSConfig struct {
	Voice string `mapstructure:"voice"`
}

// TLSConfig enables HTTPS. With Enabled set but no cert on disk the server
// falls back to an in-memory self-signed certificate.
type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertPath string `mapstructure:"cert_path"`
	KeyPath  string `mapstructure:"key_path"`
}

// Config represents a config.
type Config struct {
	RootDir        string        `mapstructure:"-"`
	HTTPAddr       string        `mapstructure:"http_addr"`
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	CorpusDir      string        `mapstructure:"corpus_dir"`
	ServeChat      bool          `mapstructure:"serve_chat"`
	ServeValidator bool          `mapstructure:"serve_validator"`
	Stages         StagesConfig  `mapstructure:"stages"`
	Retry          RetryConfig   `mapstructure:"retry"`
	LLM            LLMConfig     `mapstructure:"llm"`
	TTS            TTSConfig     `mapstructure:"tts"`
	TLS            TLSConfig     `mapstructure:"tls"`
	Log            logger.Config `mapstructure:"log"`
}

// Load executes the load function.
func Load() (Config, error) {
	rootDir, err := resolveRootDir()
	if err != nil {
		return Config{}, err
	}

	v := newViper()
	v.SetConfigName("conf")
	v.SetConfigType("yaml")
	v.AddConfigPath(rootDir)

	if err := v.ReadConfig(bytes.NewReader(appdefaults.Default)); err != nil {
		return Config{}, fmt.Errorf("load embedded config: %w", err)
	}

	if err := v.MergeInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}

	cfg.RootDir = rootDir
	deriveHTTPAddr(&cfg)
	derivePaths(&cfg)

	return cfg, nil
}

// LoadConfig executes the loadConfig function.
func LoadConfig(configPath string) (Config, error) {
	path := strings.TrimSpace(configPath)
	if path == "" {
		return Load()
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return Config{}, err
	}

	rootDir := strings.TrimSpace(os.Getenv("SHATO_ROOT_DIR"))
	if rootDir == "" {
		rootDir = filepath.Dir(absPath)
		if filepath.Base(rootDir) == "config" {
			rootDir = filepath.Dir(rootDir)
		}
	}

	v := newViper()
	v.SetConfigType("yaml")

	if err := v.ReadConfig(bytes.NewReader(appdefaults.Default)); err != nil {
		return Config{}, fmt.Errorf("load embedded config: %w", err)
	}

	v.SetConfigFile(absPath)
	if err := v.MergeInConfig(); err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}

	cfg.RootDir = rootDir
	deriveHTTPAddr(&cfg)
	derivePaths(&cfg)

	return cfg, nil
}

func newViper() *viper.Viper {
	v := viper.New()

	v.SetDefault("http_addr", "")
	v.SetDefault("port", 8080)
	v.SetDefault("corpus_dir", "./data")
	v.SetDefault("serve_chat", true)
	v.SetDefault("serve_validator", true)
	v.SetDefault("stages.validator_enabled", true)
	v.SetDefault("stages.tts_enabled", true)
	v.SetDefault("retry.attempts", 3)
	v.SetDefault("retry.delay_seconds", 2)
	v.SetDefault("llm.backend", "ollama")
	v.SetDefault("llm.ollama_url", "http://localhost:11434")
	v.SetDefault("llm.ollama_model", "gemma3:270m")
	v.SetDefault("llm.openai_model", "gpt-5-nano")
	v.SetDefault("llm.temperature", 0.1)
	v.SetDefault("llm.top_p", 0.9)
	v.SetDefault("llm.top_k", 4)
	v.SetDefault("tts.voice", "af_heart")
	v.SetDefault("tls.enabled", false)
	v.SetDefault("tls.cert_path", "")
	v.SetDefault("tls.key_path", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.stdout", true)
	v.SetDefault("log.file.enabled", true)
	v.SetDefault("log.file.path", "./data/logs")
	v.SetDefault("log.file.name", "voice-server.log")
	v.SetDefault("log.file.max_size_mb", 100)
	v.SetDefault("log.file.max_backups", 5)
	v.SetDefault("log.file.max_age_days", 30)
	v.SetDefault("log.file.compress", true)

	v.SetEnvPrefix("shato")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v
}

func deriveHTTPAddr(cfg *Config) {
	if cfg.HTTPAddr != "" {
		return
	}
	port := cfg.Port
	if port == 0 {
		port = 8080
	}
	if cfg.Host == "" {
		cfg.HTTPAddr = fmt.Sprintf(":%d", port)
		return
	}
	cfg.HTTPAddr = net.JoinHostPort(cfg.Host, strconv.Itoa(port))
}

func resolveRootDir() (string, error) {
	if root := strings.TrimSpace(os.Getenv("SHATO_ROOT_DIR")); root != "" {
		return filepath.Abs(root)
	}

	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}

	dir := wd
	for i := 0; i < 6; i++ {
		if fileExists(filepath.Join(dir, "conf.yaml")) {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return wd, nil
}

func derivePaths(cfg *Config) {
	cfg.CorpusDir = resolvePath(cfg.RootDir, cfg.CorpusDir, "data")
}

func resolvePath(rootDir string, configured string, fallback string) string {
	path := strings.TrimSpace(configured)
	if path == "" {
		path = fallback
	}
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(rootDir, path)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
