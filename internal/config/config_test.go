package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "conf.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, "port: 8080\n")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}

	if cfg.HTTPAddr != ":8080" {
		t.Fatalf("HTTPAddr=%q, want :8080", cfg.HTTPAddr)
	}
	if !cfg.ServeChat || !cfg.ServeValidator {
		t.Fatalf("built-in services disabled by default: chat=%v validator=%v", cfg.ServeChat, cfg.ServeValidator)
	}
	if !cfg.Stages.ValidatorEnabled || !cfg.Stages.TTSEnabled {
		t.Fatalf("stages disabled by default: %+v", cfg.Stages)
	}
	if cfg.Retry.Attempts != 3 || cfg.Retry.Delay() != 2*time.Second {
		t.Fatalf("retry=%+v", cfg.Retry)
	}
	if cfg.LLM.Backend != "ollama" || cfg.LLM.TopK != 4 {
		t.Fatalf("llm=%+v", cfg.LLM)
	}
	if cfg.TTS.Voice != "af_heart" {
		t.Fatalf("voice=%q", cfg.TTS.Voice)
	}
	if cfg.TLS.Enabled {
		t.Fatal("tls enabled by default, want disabled")
	}
	if cfg.Log.Level != "info" {
		t.Fatalf("log level=%q", cfg.Log.Level)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	path := writeConfig(t, `
host: 127.0.0.1
port: 9000
serve_chat: false
stages:
  stt_url: http://stt:8003/transcribe
  tts_enabled: false
retry:
  attempts: 1
llm:
  backend: openai
  temperature: 0.5
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}

	if cfg.HTTPAddr != "127.0.0.1:9000" {
		t.Fatalf("HTTPAddr=%q", cfg.HTTPAddr)
	}
	if cfg.ServeChat {
		t.Fatal("serve_chat=true, want override to false")
	}
	if cfg.Stages.STTURL != "http://stt:8003/transcribe" {
		t.Fatalf("stt_url=%q", cfg.Stages.STTURL)
	}
	if cfg.Stages.TTSEnabled {
		t.Fatal("tts_enabled=true, want override to false")
	}
	if !cfg.Stages.ValidatorEnabled {
		t.Fatal("validator_enabled lost its default")
	}
	if cfg.Retry.Attempts != 1 {
		t.Fatalf("retry attempts=%d", cfg.Retry.Attempts)
	}
	if cfg.LLM.Backend != "openai" || cfg.LLM.Temperature != 0.5 {
		t.Fatalf("llm=%+v", cfg.LLM)
	}
	// Untouched keys keep embedded defaults.
	if cfg.LLM.OllamaURL != "http://localhost:11434" {
		t.Fatalf("ollama_url=%q", cfg.LLM.OllamaURL)
	}
}

func TestLoadConfigEnvOverride(t *testing.T) {
	path := writeConfig(t, "port: 8080\n")

	t.Setenv("SHATO_TTS_VOICE", "af_bella")
	t.Setenv("SHATO_STAGES_TTS_ENABLED", "false")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if cfg.TTS.Voice != "af_bella" {
		t.Fatalf("voice=%q, want env override", cfg.TTS.Voice)
	}
	if cfg.Stages.TTSEnabled {
		t.Fatal("tts_enabled=true, want env override to false")
	}
}

func TestLoadConfigResolvesCorpusDir(t *testing.T) {
	path := writeConfig(t, "corpus_dir: examples\n")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	want := filepath.Join(filepath.Dir(path), "examples")
	if cfg.CorpusDir != want {
		t.Fatalf("CorpusDir=%q, want %q", cfg.CorpusDir, want)
	}
}

func TestLoadConfigRootDirFromEnv(t *testing.T) {
	root := t.TempDir()
	path := writeConfig(t, "port: 8080\n")

	t.Setenv("SHATO_ROOT_DIR", root)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if cfg.RootDir != root {
		t.Fatalf("RootDir=%q, want %q", cfg.RootDir, root)
	}
	if cfg.CorpusDir != filepath.Join(root, "data") {
		t.Fatalf("CorpusDir=%q", cfg.CorpusDir)
	}
}
