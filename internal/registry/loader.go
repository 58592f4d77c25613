// Package registry builds the model catalog from a models directory.
package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"npud/internal/common/fsutil"
	"npud/pkg/types"
)

// Formats recognized by the scanner, keyed by lowercase extension. Bundles
// (.mlmodelc, .mlpackage) are directories.
var formats = map[string]string{
	".mlmodel":   "mlmodel",
	".mlmodelc":  "mlmodelc",
	".mlpackage": "mlpackage",
	".gguf":      "gguf",
}

// Architecture families.
const (
	ArchTransformer = "transformer"
	ArchCNN         = "cnn"
	ArchRNN         = "rnn"
	ArchHybrid      = "hybrid"
)

var archHints = []struct {
	arch  string
	words []string
}{
	{ArchTransformer, []string{"bert", "distilbert", "roberta", "gpt", "llama", "mistral", "t5", "vit", "whisper", "clip", "transformer", "phi", "qwen"}},
	{ArchRNN, []string{"lstm", "gru", "rnn"}},
	{ArchCNN, []string{"resnet", "vgg", "mobilenet", "efficientnet", "yolo", "unet", "inception", "densenet", "cnn"}},
}

// Scanner discovers model artifacts in a directory.
type Scanner struct {
	// WithSize fills SizeMB by walking each artifact.
	WithSize bool
}

func NewScanner() *Scanner { return &Scanner{WithSize: true} }

// Scan lists the models directly under dir, sorted by ID. The ID is the file
// name without its extension; a duplicate stem keeps the first format found in
// name order and skips the rest.
func (s *Scanner) Scan(dir string) ([]types.Model, error) {
	base, err := fsutil.ExpandHome(dir)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("abs path: %w", err)
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	seen := make(map[string]bool)
	var models []types.Model
	for _, e := range entries {
		name := e.Name()
		ext := strings.ToLower(filepath.Ext(name))
		format, ok := formats[ext]
		if !ok {
			continue
		}
		// single-file formats must be files, bundles may be either
		if e.IsDir() && (format == "mlmodel" || format == "gguf") {
			continue
		}
		id := strings.TrimSuffix(name, filepath.Ext(name))
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		p := filepath.Join(abs, name)
		m := types.Model{
			ID:           id,
			Name:         id,
			Path:         p,
			Format:       format,
			Architecture: InferArchitecture(name, format),
		}
		if s.WithSize {
			if n, err := fsutil.Size(p); err == nil {
				m.SizeMB = n >> 20
			}
		}
		models = append(models, m)
	}
	sort.Slice(models, func(i, j int) bool { return models[i].ID < models[j].ID })
	return models, nil
}

// InferArchitecture guesses the network family from the artifact name. GGUF
// files hold language models and are always transformers; names with no hint
// are hybrid.
func InferArchitecture(name, format string) string {
	if format == "gguf" {
		return ArchTransformer
	}
	tokens := strings.FieldsFunc(strings.ToLower(name), func(r rune) bool {
		return r == '-' || r == '_' || r == '.' || r == ' '
	})
	for _, h := range archHints {
		for _, w := range h.words {
			for _, tok := range tokens {
				if hintMatches(tok, w) {
					return h.arch
				}
			}
		}
	}
	return ArchHybrid
}

// hintMatches reports whether tok is word, optionally followed by a version
// such as "50", "v3" or "v8n".
func hintMatches(tok, word string) bool {
	rest, ok := strings.CutPrefix(tok, word)
	if !ok {
		return false
	}
	if rest == "" || isDigit(rest[0]) {
		return true
	}
	return len(rest) > 1 && rest[0] == 'v' && isDigit(rest[1])
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

// LoadDir scans dir with a default Scanner.
func LoadDir(dir string) ([]types.Model, error) {
	return NewScanner().Scan(dir)
}

// Find returns the model with id.
func Find(models []types.Model, id string) (types.Model, bool) {
	for _, m := range models {
		if m.ID == id {
			return m, true
		}
	}
	return types.Model{}, false
}
