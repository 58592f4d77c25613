package bridge

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"npud/pkg/types"
)

func writeModel(t *testing.T, schema string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "m.mlmodel")
	require.NoError(t, os.WriteFile(p, make([]byte, 2<<20), 0o644))
	if schema != "" {
		require.NoError(t, os.WriteFile(p+SchemaSuffix, []byte(schema), 0o644))
	}
	return p
}

func TestSimBridge_ZeroOutputsFromSchema(t *testing.T) {
	p := writeModel(t, `{"inputs":[{"name":"x","shape":[1,10]}],"outputs":[{"name":"y","shape":[1,10]}]}`)
	b := NewSimBridge()
	cp, err := b.Compile(p, ComputeAll)
	require.NoError(t, err)
	h, err := b.Load(cp, ComputeAll)
	require.NoError(t, err)

	fp, ok := b.FootprintMB(h)
	require.True(t, ok)
	assert.Equal(t, uint64(2), fp)

	in, err := EncodeInputs(nil, []types.Tensor{{Name: "x", Shape: []int{1, 10}, Data: make([]float32, 10)}})
	require.NoError(t, err)
	out, err := b.Predict(h, string(in), 1000)
	require.NoError(t, err)
	got, err := DecodeOutputs([]byte(out))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "y", got[0].Name)
	assert.Equal(t, make([]float32, 10), got[0].Data)

	b.Free(h)
	b.Free(h)
	assert.Equal(t, int64(1), b.Frees())
	assert.Equal(t, 0, b.Loaded())
}

func TestSimBridge_UnknownSchemaEchoes(t *testing.T) {
	b := NewSimBridge()
	h, err := b.Load(writeModel(t, ""), ComputeAll)
	require.NoError(t, err)
	_, err = b.Schema(h)
	assert.Equal(t, CodeUnsupported, CodeOf(err))

	in, _ := EncodeInputs(nil, []types.Tensor{{Name: "x", Shape: []int{2}, Data: []float32{3, 4}}})
	out, err := b.Predict(h, string(in), 0)
	require.NoError(t, err)
	got, _ := DecodeOutputs([]byte(out))
	assert.Equal(t, []float32{3, 4}, got[0].Data)
}

func TestSimBridge_MissingModel(t *testing.T) {
	_, err := NewSimBridge().Compile(filepath.Join(t.TempDir(), "nope.mlmodel"), ComputeAll)
	assert.Equal(t, CodeInvalidModel, CodeOf(err))
}

func TestSimBridge_LatencyBeyondTimeout(t *testing.T) {
	b := NewSimBridge(WithSimLatency(50 * time.Millisecond))
	h, err := b.Load(writeModel(t, ""), ComputeAll)
	require.NoError(t, err)
	_, err = b.Predict(h, `{"inputs":[]}`, 5)
	assert.Equal(t, CodeTimeout, CodeOf(err))
}
