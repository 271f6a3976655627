// Package robot is the in-process command validation service. Validated
// commands are acknowledged and logged; no motion hardware is driven from
// here.
package robot

import (
	"go.uber.org/zap"

	"github.com/shato-ai/voice-server/internal/command"
)

// Result is the acknowledgement for a validated command.
type Result struct {
	Status  string     `json:"status"`
	Service string     `json:"service"`
	Data    ResultData `json:"data"`
}

// ResultData carries the validated command echo.
type ResultData struct {
	Command string         `json:"command"`
	Params  map[string]any `json:"params"`
	Message string         `json:"message"`
}

// Service validates candidate commands against the robot command schema.
type Service struct {
	logger *zap.Logger
}

// NewService builds a validation service.
func NewService(logger *zap.Logger) *Service {
	return &Service{logger: logger}
}

// Execute validates name and params. On success the normalized parameters,
// with schema defaults applied, are echoed back. Validation failures return
// the typed command error for the transport layer to map.
func (s *Service) Execute(name string, params map[string]any) (Result, error) {
	cmd, err := command.Validate(name, params)
	if err != nil {
		s.logger.Warn("command rejected",
			zap.String("command", name),
			zap.Error(err),
		)
		return Result{}, err
	}

	normalized := cmd.Params()
	s.logger.Info("command validated",
		zap.String("command", string(cmd.Name)),
		zap.Any("params", normalized),
	)

	return Result{
		Status:  "success",
		Service: "validator",
		Data: ResultData{
			Command: string(cmd.Name),
			Params:  normalized,
			Message: cmd.Describe(),
		},
	}, nil
}
