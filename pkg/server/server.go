// Package server wires configuration, logging, the retrieval index, the stage
// clients and the HTTP surface into one runnable process.
package server

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	appconfig "github.com/shato-ai/voice-server/internal/config"
	"github.com/shato-ai/voice-server/internal/httpapi"
	"github.com/shato-ai/voice-server/internal/llm"
	"github.com/shato-ai/voice-server/internal/llm/backend"
	applogger "github.com/shato-ai/voice-server/internal/logger"
	"github.com/shato-ai/voice-server/internal/pipeline"
	"github.com/shato-ai/voice-server/internal/retrieval"
	"github.com/shato-ai/voice-server/internal/robot"
	"github.com/shato-ai/voice-server/internal/stage"
	"github.com/shato-ai/voice-server/internal/ws"
)

// Server represents a server.
type Server struct {
	cfg    appconfig.Config
	logger *zap.Logger
	server *http.Server
}

// New loads configuration from configPath (empty means discovery from the
// working directory) and builds the full service graph.
func New(configPath string) (*Server, error) {
	cfg, err := appconfig.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("load voice-server config: %w", err)
	}

	logger, err := applogger.New(cfg.Log)
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	logger.Info("logger configured",
		zap.String("level", cfg.Log.Level),
		zap.Bool("stdout", cfg.Log.Stdout),
		zap.Bool("file_enabled", cfg.Log.File.Enabled),
		zap.String("file_path", cfg.Log.File.Path),
	)
	logger.Info("config loaded",
		zap.String("config_path", configPath),
		zap.String("root_dir", cfg.RootDir),
		zap.String("http_addr", cfg.HTTPAddr),
		zap.String("corpus_dir", cfg.CorpusDir),
		zap.Bool("serve_chat", cfg.ServeChat),
		zap.Bool("serve_validator", cfg.ServeValidator),
	)

	index, err := retrieval.Load(cfg.CorpusDir, logger)
	if err != nil {
		return nil, fmt.Errorf("build retrieval index: %w", err)
	}

	clients := stage.NewClients(
		stage.Endpoints{
			STT:       cfg.Stages.STTURL,
			LLM:       cfg.Stages.LLMURL,
			Validator: cfg.Stages.ValidatorURL,
			TTS:       cfg.Stages.TTSURL,
		},
		stage.RetryPolicy{Attempts: cfg.Retry.Attempts, Delay: cfg.Retry.Delay()},
		logger,
	)

	hub := ws.NewHub(logger)
	orchestrator := pipeline.New(
		clients,
		pipeline.Options{
			ValidatorEnabled: cfg.Stages.ValidatorEnabled,
			TTSEnabled:       cfg.Stages.TTSEnabled,
			Voice:            cfg.TTS.Voice,
		},
		logger,
		hub,
		pipeline.NewLogSink(logger),
	)

	deps := httpapi.Deps{
		Pipeline: orchestrator,
		Hub:      hub.Handle,
		Pinger:   clients,
		Endpoints: stage.Endpoints{
			STT:       cfg.Stages.STTURL,
			LLM:       cfg.Stages.LLMURL,
			Validator: cfg.Stages.ValidatorURL,
			TTS:       cfg.Stages.TTSURL,
		},
		Logger: logger,
	}
	if cfg.ServeChat {
		deps.Chat = llm.NewService(index, newCompleter(cfg.LLM), cfg.LLM.TopK, logger)
	}
	if cfg.ServeValidator {
		deps.Validator = robot.NewService(logger)
	}

	router := httpapi.NewRouter(deps)
	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: router,
	}

	return &Server{
		cfg:    cfg,
		logger: logger,
		server: httpServer,
	}, nil
}

// Logger exposes the configured logger for the process entry point.
func (s *Server) Logger() *zap.Logger {
	if s == nil {
		return zap.NewNop()
	}
	return s.logger
}

// Run executes the run method.
func (s *Server) Run() error {
	if s == nil || s.server == nil {
		return nil
	}

	err := s.listen()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Addr executes the addr method.
func (s *Server) Addr() string {
	if s == nil || s.server == nil {
		return ""
	}
	return s.server.Addr
}

// Shutdown executes the shutdown method.
func (s *Server) Shutdown(ctx context.Context) error {
	if s == nil || s.server == nil {
		return nil
	}
	err := s.server.Shutdown(ctx)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func newCompleter(cfg appconfig.LLMConfig) backend.Completer {
	opts := backend.Options{Temperature: cfg.Temperature, TopP: cfg.TopP}
	if cfg.Backend == "openai" {
		return backend.NewOpenAI(cfg.OpenAIModel, opts)
	}
	return backend.NewOllama(cfg.OllamaURL, cfg.OllamaModel, opts)
}

func (s *Server) listen() error {
	if !s.cfg.TLS.Enabled {
		s.logger.Info("starting http server", zap.String("addr", s.cfg.HTTPAddr))
		return s.server.ListenAndServe()
	}

	certPath := filepath.Clean(s.cfg.TLS.CertPath)
	keyPath := filepath.Clean(s.cfg.TLS.KeyPath)
	if fileExists(certPath) && fileExists(keyPath) {
		s.logger.Info("starting https server", zap.String("addr", s.cfg.HTTPAddr))
		return s.server.ListenAndServeTLS(certPath, keyPath)
	}

	cert, err := selfSignedCert(s.cfg.Host)
	if err != nil {
		return fmt.Errorf("failed to generate tls cert: %w", err)
	}
	s.server.TLSConfig = &tls.Config{Certificates: []tls.Certificate{cert}}
	s.logger.Info("starting https server with in-memory cert", zap.String("addr", s.cfg.HTTPAddr))
	return s.server.ListenAndServeTLS("", "")
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// selfSignedCert builds a throwaway certificate covering localhost and the
// configured host.
func selfSignedCert(host string) (tls.Certificate, error) {
	serialNumber, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return tls.Certificate{}, err
	}

	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, err
	}

	dnsNames := []string{"localhost"}
	ipAddresses := []net.IP{net.ParseIP("127.0.0.1"), net.ParseIP("::1")}
	if host != "" && host != "0.0.0.0" && host != "::" {
		if ip := net.ParseIP(host); ip != nil {
			ipAddresses = append(ipAddresses, ip)
		} else {
			dnsNames = append(dnsNames, host)
		}
	}

	notBefore := time.Now().Add(-time.Minute)
	template := x509.Certificate{
		SerialNumber: serialNumber,
		Subject:      pkix.Name{CommonName: "shato-local", Organization: []string{"shato"}},
		NotBefore:    notBefore,
		NotAfter:     notBefore.Add(365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     dnsNames,
		IPAddresses:  ipAddresses,
	}

	derBytes, err := x509.CreateCertificate(rand.Reader, &template, &template, &privateKey.PublicKey, privateKey)
	if err != nil {
		return tls.Certificate{}, err
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: derBytes})
	keyBytes, err := x509.MarshalECPrivateKey(privateKey)
	if err != nil {
		return tls.Certificate{}, err
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyBytes})

	return tls.X509KeyPair(certPEM, keyPEM)
}
