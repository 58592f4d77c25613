package bridge

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"npud/pkg/types"
)

func TestEncodeInputs_Document(t *testing.T) {
	in := []types.Tensor{{Name: "x", Shape: []int{1, 3}, Data: []float32{0, 1.5, -2}}}
	got, err := EncodeInputs(nil, in)
	require.NoError(t, err)
	assert.JSONEq(t, `{"inputs":[{"name":"x","shape":[1,3],"data":[0,1.5,-2]}]}`, string(got))
}

func TestEncodeInputs_ReusesBuffer(t *testing.T) {
	buf := make([]byte, 0, 256)
	first, err := EncodeInputs(buf, []types.Tensor{{Name: "a", Shape: []int{1}, Data: []float32{1}}})
	require.NoError(t, err)
	second, err := EncodeInputs(first, []types.Tensor{{Name: "b", Shape: []int{1}, Data: []float32{2}}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"inputs":[{"name":"b","shape":[1],"data":[2]}]}`, string(second))
}

func TestDecodeOutputs_NonFinite(t *testing.T) {
	got, err := DecodeOutputs([]byte(`{"outputs":[{"name":"y","shape":[4],"data":[1,"NaN","-Inf",null]}]}`))
	require.NoError(t, err)
	require.Len(t, got, 1)
	d := got[0].Data
	assert.Equal(t, float32(1), d[0])
	assert.True(t, math.IsNaN(float64(d[1])))
	assert.True(t, math.IsInf(float64(d[2]), -1))
	assert.True(t, math.IsNaN(float64(d[3])))
}

func TestDecodeOutputs_Malformed(t *testing.T) {
	_, err := DecodeOutputs([]byte(`{"outputs":[`))
	require.Error(t, err)
	assert.Equal(t, CodeInternal, CodeOf(err))

	_, err = DecodeOutputs([]byte(`{"result":1}`))
	require.Error(t, err)
}

func TestNonFiniteSurvivesEncode(t *testing.T) {
	nan := float32(math.NaN())
	b, err := EncodeOutputs(nil, []types.Tensor{{Name: "y", Shape: []int{2}, Data: []float32{nan, float32(math.Inf(1))}}})
	require.NoError(t, err)
	got, err := DecodeOutputs(b)
	require.NoError(t, err)
	assert.True(t, math.IsNaN(float64(got[0].Data[0])))
	assert.True(t, math.IsInf(float64(got[0].Data[1]), 1))
}

func TestParseSchema(t *testing.T) {
	s, err := ParseSchema(`{"inputs":[{"name":"x","shape":[1,10]}],"outputs":[{"name":"y","shape":[1,10]}]}`)
	require.NoError(t, err)
	assert.True(t, s.Known)
	assert.Equal(t, []types.TensorSpec{{Name: "x", Shape: []int{1, 10}}}, s.Inputs)
	assert.Equal(t, "y", s.Outputs[0].Name)

	_, err = ParseSchema(`not json`)
	assert.Error(t, err)
	_, err = ParseSchema(`{}`)
	assert.Error(t, err)
}

func TestCodes(t *testing.T) {
	assert.True(t, IsRecoverable(Errorf("predict", CodeTimeout, "slow")))
	assert.True(t, IsRecoverable(Errorf("predict", CodeBusy, "")))
	assert.False(t, IsRecoverable(Errorf("predict", CodeInvalidInput, "bad")))
	assert.Equal(t, "bridge predict: busy", Errorf("predict", CodeBusy, "").Error())
}
