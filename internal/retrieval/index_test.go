package retrieval

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func exampleCorpus() []Example {
	return []Example{
		{
			Category:  "movement",
			UserInput: "go to the kitchen",
			ExpectedOutput: map[string]any{
				"response":       "Moving to the kitchen.",
				"command":        "move_to",
				"command_params": map[string]any{"x": 4, "y": 2},
			},
		},
		{
			Category:  "rotation",
			UserInput: "turn around",
			ExpectedOutput: map[string]any{
				"response":       "Rotating 180 degrees.",
				"command":        "rotate",
				"command_params": map[string]any{"angle": 180, "direction": "clockwise"},
			},
		},
		{
			Category:  "patrol",
			UserInput: "patrol the second floor",
			ExpectedOutput: map[string]any{
				"response":       "Starting patrol.",
				"command":        "start_patrol",
				"command_params": map[string]any{"route_id": "second_floor"},
			},
		},
	}
}

func TestNewSkipsMalformedEntries(t *testing.T) {
	examples := append(exampleCorpus(),
		Example{UserInput: "no expected output"},
		Example{UserInput: "empty expected output", ExpectedOutput: map[string]any{}},
	)

	index := New(examples)
	if index.Len() != 3 {
		t.Fatalf("Len=%d, want 3", index.Len())
	}
}

func TestTopKRanksByOverlap(t *testing.T) {
	index := New(exampleCorpus())

	results := index.TopK("patrol the bedrooms", 2)
	if len(results) != 2 {
		t.Fatalf("len=%d, want 2", len(results))
	}
	if !strings.Contains(results[0], "start_patrol") {
		t.Fatalf("top result=%q, want the patrol example first", results[0])
	}
}

func TestTopKDeterministic(t *testing.T) {
	index := New(exampleCorpus())

	first := index.TopK("please rotate", 3)
	second := index.TopK("please rotate", 3)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("TopK not deterministic: %v vs %v", first, second)
	}
}

func TestTopKClampsToCorpusSize(t *testing.T) {
	index := New(exampleCorpus())

	results := index.TopK("anything", 10)
	if len(results) != 3 {
		t.Fatalf("len=%d, want 3", len(results))
	}
}

func TestTopKEmptyIndex(t *testing.T) {
	index := New(nil)
	if results := index.TopK("anything", 4); results != nil {
		t.Fatalf("results=%v, want nil", results)
	}
}

func TestLoadMergesJSONAndYAML(t *testing.T) {
	dir := t.TempDir()

	jsonBody := `[{"category":"movement","user_input":"go forward","expected_output":{"response":"ok","command":"move_to","command_params":{"x":1,"y":0}}}]`
	if err := os.WriteFile(filepath.Join(dir, "movement.json"), []byte(jsonBody), 0o644); err != nil {
		t.Fatalf("write json corpus: %v", err)
	}

	yamlBody := "- category: rotation\n  user_input: spin\n  expected_output:\n    response: spinning\n    command: rotate\n    command_params:\n      angle: 90\n      direction: clockwise\n"
	if err := os.WriteFile(filepath.Join(dir, "rotation.yaml"), []byte(yamlBody), 0o644); err != nil {
		t.Fatalf("write yaml corpus: %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644); err != nil {
		t.Fatalf("write txt file: %v", err)
	}

	index, err := Load(dir, zap.NewNop())
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if index.Len() != 2 {
		t.Fatalf("Len=%d, want 2", index.Len())
	}
}

func TestLoadSkipsBrokenFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write broken corpus: %v", err)
	}

	index, err := Load(dir, zap.NewNop())
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if index.Len() != 0 {
		t.Fatalf("Len=%d, want 0", index.Len())
	}
}

func TestLoadMissingDirYieldsEmptyIndex(t *testing.T) {
	index, err := Load(filepath.Join(t.TempDir(), "absent"), zap.NewNop())
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if index.Len() != 0 {
		t.Fatalf("Len=%d, want 0", index.Len())
	}
}
