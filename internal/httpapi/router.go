// Package httpapi mounts the HTTP surface: the orchestrator endpoint, the
// built-in chat and validator services, health aggregation and the websocket
// event stream.
package httpapi

import (
	"context"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/shato-ai/voice-server/internal/llm"
	"github.com/shato-ai/voice-server/internal/pipeline"
	"github.com/shato-ai/voice-server/internal/robot"
	"github.com/shato-ai/voice-server/internal/stage"
)

// allowedAudioExts limits uploads to the formats the transcription stage
// accepts.
var allowedAudioExts = map[string]bool{
	".wav":  true,
	".mp3":  true,
	".m4a":  true,
	".flac": true,
}

// PipelineRunner runs one audio request through the pipeline.
type PipelineRunner interface {
	Run(ctx context.Context, filename string, audio []byte) (pipeline.Response, *pipeline.HardError)
}

// ChatService answers completion turns for the built-in /chat endpoint.
type ChatService interface {
	Chat(ctx context.Context, message string) llm.ChatResponse
}

// Validator validates commands for the built-in /execute_command endpoint.
type Validator interface {
	Execute(name string, params map[string]any) (robot.Result, error)
}

// Pinger probes a stage service's health endpoint.
type Pinger interface {
	Ping(ctx context.Context, endpoint string) string
}

// Deps carries everything the router mounts. Chat and Validator are nil when
// the corresponding built-in service is disabled.
type Deps struct {
	Pipeline  PipelineRunner
	Chat      ChatService
	Validator Validator
	Hub       http.HandlerFunc
	Pinger    Pinger
	Endpoints stage.Endpoints
	Logger    *zap.Logger
}

// NewRouter builds the gin engine.
func NewRouter(deps Deps) *gin.Engine {
	router := gin.New()
	router.RedirectTrailingSlash = false
	router.RedirectFixedPath = false
	router.Use(gin.Recovery())
	router.Use(requestLogger(deps.Logger))

	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"service": "shato-voice-server",
		})
	})

	router.GET("/health", healthHandler(deps))

	processAudio := processAudioHandler(deps)
	router.POST("/process_audio", processAudio)
	router.POST("/process_audio/", processAudio)

	if deps.Hub != nil {
		router.GET("/ws", func(c *gin.Context) {
			deps.Hub(c.Writer, c.Request)
		})
	}

	if deps.Chat != nil {
		router.POST("/chat", chatHandler(deps.Chat))
	}
	if deps.Validator != nil {
		router.POST("/execute_command", executeCommandHandler(deps.Validator))
	}

	return router
}

func processAudioHandler(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		file, err := c.FormFile("audio")
		if err != nil {
			file, err = c.FormFile("file")
		}
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "No audio provided"})
			return
		}

		ext := strings.ToLower(filepath.Ext(file.Filename))
		if !allowedAudioExts[ext] {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "Unsupported audio format; expected wav, mp3, m4a or flac"})
			return
		}

		opened, err := file.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "Unreadable audio upload"})
			return
		}
		audio, err := io.ReadAll(opened)
		opened.Close()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "Unreadable audio upload"})
			return
		}
		if len(audio) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "Empty audio upload"})
			return
		}

		response, hardErr := deps.Pipeline.Run(c.Request.Context(), file.Filename, audio)
		if hardErr != nil {
			c.JSON(http.StatusBadGateway, gin.H{"detail": hardErr.Error()})
			return
		}
		c.JSON(http.StatusOK, response)
	}
}

func chatHandler(chat ChatService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body struct {
			Message string `json:"message"`
		}
		if err := c.ShouldBindJSON(&body); err != nil || strings.TrimSpace(body.Message) == "" {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "Empty message"})
			return
		}
		c.JSON(http.StatusOK, chat.Chat(c.Request.Context(), body.Message))
	}
}

func executeCommandHandler(validator Validator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body struct {
			Command       string         `json:"command"`
			CommandParams map[string]any `json:"command_params"`
		}
		if err := c.ShouldBindJSON(&body); err != nil || body.Command == "" {
			c.JSON(http.StatusBadRequest, gin.H{"status": "error", "reason": "missing command"})
			return
		}

		result, err := validator.Execute(body.Command, body.CommandParams)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"status": "error",
				"reason": "Invalid command or parameters: " + err.Error(),
			})
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

// healthHandler aggregates the reachability of every configured stage. The
// server itself answers ok; stage statuses are informational.
func healthHandler(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		stages := gin.H{}
		if deps.Pinger != nil {
			probe := func(name string, endpoint string) {
				if endpoint == "" {
					return
				}
				stages[name] = deps.Pinger.Ping(c.Request.Context(), endpoint)
			}
			probe("stt", deps.Endpoints.STT)
			probe("llm", deps.Endpoints.LLM)
			probe("validator", deps.Endpoints.Validator)
			probe("tts", deps.Endpoints.TTS)
		}
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "shato-voice-server",
			"stages":  stages,
		})
	}
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		if logger == nil {
			return
		}
		logger.Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("query", c.Request.URL.RawQuery),
			zap.String("client_ip", c.ClientIP()),
			zap.Int("status", c.Writer.Status()),
			zap.Int("bytes", c.Writer.Size()),
			zap.Duration("latency", latency),
			zap.String("user_agent", c.Request.UserAgent()),
		)
	}
}
