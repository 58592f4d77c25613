//go:build llama

package bridge

import (
	"os"
	"strings"
	"sync"

	llama "github.com/go-skynet/go-llama.cpp"

	"npud/pkg/types"
)

// LlamaBridge serves GGUF models through go-llama.cpp in embedding mode. The
// first input tensor carries token ids; the single output is the embedding.
type LlamaBridge struct {
	ctxSize int
	threads int

	mu     sync.Mutex
	next   Handle
	models map[Handle]*llama.LLama
}

func NewLlamaBridge(ctxSize, threads int) (NativeBridge, error) {
	return &LlamaBridge{ctxSize: ctxSize, threads: max(1, threads), models: make(map[Handle]*llama.LLama)}, nil
}

func (b *LlamaBridge) Name() string { return "llama" }

// Compile is a no-op for GGUF; the file is loaded as-is.
func (b *LlamaBridge) Compile(modelPath string, _ ComputeUnits) (string, error) {
	if !strings.HasSuffix(strings.ToLower(modelPath), ".gguf") {
		return "", Errorf("compile", CodeInvalidModel, "not a gguf file: %s", modelPath)
	}
	if _, err := os.Stat(modelPath); err != nil {
		return "", Errorf("compile", CodeInvalidModel, "%v", err)
	}
	return modelPath, nil
}

func (b *LlamaBridge) Load(compiledPath string, _ ComputeUnits) (Handle, error) {
	m, err := llama.New(compiledPath, llama.SetContext(b.ctxSize), llama.EnableEmbeddings)
	if err != nil {
		return 0, Errorf("load", CodeInvalidModel, "%v", err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next++
	b.models[b.next] = m
	return b.next, nil
}

func (b *LlamaBridge) Free(h Handle) {
	b.mu.Lock()
	m, ok := b.models[h]
	delete(b.models, h)
	b.mu.Unlock()
	if ok {
		m.Free()
	}
}

func (b *LlamaBridge) Schema(Handle) (string, error) {
	return "", Errorf("schema", CodeUnsupported, "gguf models carry no tensor schema")
}

func (b *LlamaBridge) Predict(h Handle, inputJSON string, _ int) (string, error) {
	b.mu.Lock()
	m, ok := b.models[h]
	b.mu.Unlock()
	if !ok {
		return "", Errorf("predict", CodeInvalidModel, "unknown handle %d", h)
	}
	inputs, err := DecodeInputs([]byte(inputJSON))
	if err != nil {
		return "", err
	}
	if len(inputs) == 0 {
		return "", Errorf("predict", CodeInvalidInput, "no token tensor")
	}
	tokens := make([]int, len(inputs[0].Data))
	for i, v := range inputs[0].Data {
		tokens[i] = int(v)
	}
	emb, err := m.TokenEmbeddings(tokens, llama.SetThreads(b.threads))
	if err != nil {
		return "", Errorf("predict", CodeTransient, "%v", err)
	}
	out, err := EncodeOutputs(nil, []types.Tensor{{Name: "embedding", Shape: []int{1, len(emb)}, Data: emb}})
	if err != nil {
		return "", err
	}
	return string(out), nil
}
