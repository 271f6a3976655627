// Package retrieval holds the command-example corpus used to ground the
// completion prompt. The index is built once at startup, is immutable
// afterwards, and is safe for concurrent reads without synchronization.
package retrieval

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Example is one (input, expected-output) pair from the corpus.
type Example struct {
	Category       string         `json:"category" yaml:"category"`
	UserInput      string         `json:"user_input" yaml:"user_input"`
	ExpectedOutput map[string]any `json:"expected_output" yaml:"expected_output"`
}

// Index is an immutable in-memory view of the corpus. The embedding
// similarity search proper is an external collaborator; the in-process
// ranking is a deterministic lexical stand-in over the same documents.
type Index struct {
	docs []document
}

type document struct {
	text   string
	tokens map[string]struct{}
}

type documentPayload struct {
	Input         string `json:"input"`
	Response      any    `json:"response"`
	Command       any    `json:"command"`
	CommandParams any    `json:"command_params"`
}

// Load reads every *.json and *.yaml/*.yml file in dir and builds an index
// from the well-formed examples. Entries without an expected_output object
// are skipped. A missing directory yields an empty index, not an error.
func Load(dir string, logger *zap.Logger) (*Index, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Warn("corpus directory missing; retrieval index empty", zap.String("dir", dir))
			return New(nil), nil
		}
		return nil, fmt.Errorf("read corpus dir %s: %w", dir, err)
	}

	var examples []Example
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		var (
			batch   []Example
			loadErr error
		)
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".json":
			batch, loadErr = loadJSONFile(path)
		case ".yaml", ".yml":
			batch, loadErr = loadYAMLFile(path)
		default:
			continue
		}
		if loadErr != nil {
			logger.Warn("skipping unreadable corpus file", zap.String("path", path), zap.Error(loadErr))
			continue
		}
		examples = append(examples, batch...)
	}

	index := New(examples)
	logger.Info("retrieval index built",
		zap.String("dir", dir),
		zap.Int("examples", len(examples)),
		zap.Int("indexed", index.Len()),
	)
	return index, nil
}

// New builds an index from examples already in memory, skipping entries
// without a well-formed expected_output.
func New(examples []Example) *Index {
	index := &Index{}
	for _, example := range examples {
		if len(example.ExpectedOutput) == 0 {
			continue
		}
		payload := documentPayload{
			Input:         example.UserInput,
			Response:      example.ExpectedOutput["response"],
			Command:       example.ExpectedOutput["command"],
			CommandParams: example.ExpectedOutput["command_params"],
		}
		data, err := json.Marshal(payload)
		if err != nil {
			continue
		}
		text := string(data)
		index.docs = append(index.docs, document{text: text, tokens: tokenize(text)})
	}
	return index
}

// Len returns the number of indexed documents.
func (ix *Index) Len() int {
	return len(ix.docs)
}

// TopK returns up to k documents ranked by token overlap with query.
// Ties keep corpus order, so results are deterministic.
func (ix *Index) TopK(query string, k int) []string {
	if k <= 0 || len(ix.docs) == 0 {
		return nil
	}
	queryTokens := tokenize(query)

	type scored struct {
		idx   int
		score int
	}
	ranked := make([]scored, len(ix.docs))
	for i, doc := range ix.docs {
		ranked[i] = scored{idx: i, score: overlap(queryTokens, doc.tokens)}
	}
	sort.SliceStable(ranked, func(a, b int) bool {
		return ranked[a].score > ranked[b].score
	})

	if k > len(ranked) {
		k = len(ranked)
	}
	results := make([]string, 0, k)
	for _, entry := range ranked[:k] {
		results = append(results, ix.docs[entry.idx].text)
	}
	return results
}

func loadJSONFile(path string) ([]Example, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var examples []Example
	if err := json.Unmarshal(data, &examples); err != nil {
		return nil, err
	}
	return examples, nil
}

func loadYAMLFile(path string) ([]Example, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var examples []Example
	if err := yaml.Unmarshal(data, &examples); err != nil {
		return nil, err
	}
	return examples, nil
}

func tokenize(text string) map[string]struct{} {
	tokens := make(map[string]struct{})
	for _, field := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9') && r != '_'
	}) {
		tokens[field] = struct{}{}
	}
	return tokens
}

func overlap(a map[string]struct{}, b map[string]struct{}) int {
	if len(b) < len(a) {
		a, b = b, a
	}
	count := 0
	for token := range a {
		if _, ok := b[token]; ok {
			count++
		}
	}
	return count
}
