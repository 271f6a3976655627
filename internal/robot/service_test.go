package robot

import (
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/shato-ai/voice-server/internal/command"
)

func TestExecuteValidCommand(t *testing.T) {
	service := NewService(zap.NewNop())

	result, err := service.Execute("move_to", map[string]any{"x": 3.0, "y": 7.0})
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if result.Status != "success" || result.Service != "validator" {
		t.Fatalf("result=%+v", result)
	}
	if result.Data.Command != "move_to" {
		t.Fatalf("command=%q, want move_to", result.Data.Command)
	}
	if result.Data.Params["x"] != 3.0 || result.Data.Params["y"] != 7.0 {
		t.Fatalf("params=%v", result.Data.Params)
	}
	if result.Data.Message != "Command 'move_to' validated successfully" {
		t.Fatalf("message=%q", result.Data.Message)
	}
}

func TestExecuteAppliesPatrolDefaults(t *testing.T) {
	service := NewService(zap.NewNop())

	result, err := service.Execute("start_patrol", map[string]any{"route_id": "bedrooms"})
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if result.Data.Params["speed"] != "medium" {
		t.Fatalf("speed=%v, want medium default", result.Data.Params["speed"])
	}
	if result.Data.Params["repeat_count"] != 1 {
		t.Fatalf("repeat_count=%v, want 1", result.Data.Params["repeat_count"])
	}
}

func TestExecuteUnknownCommand(t *testing.T) {
	service := NewService(zap.NewNop())

	_, err := service.Execute("self_destruct", nil)
	var unknown *command.UnknownCommandError
	if !errors.As(err, &unknown) {
		t.Fatalf("err=%v, want UnknownCommandError", err)
	}
}

func TestExecuteInvalidParams(t *testing.T) {
	service := NewService(zap.NewNop())

	_, err := service.Execute("rotate", map[string]any{"angle": 90.0, "direction": "sideways"})
	var invalid *command.InvalidParamsError
	if !errors.As(err, &invalid) {
		t.Fatalf("err=%v, want InvalidParamsError", err)
	}
	if invalid.Field != "direction" {
		t.Fatalf("field=%q, want direction", invalid.Field)
	}
}
