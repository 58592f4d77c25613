package bridge

import (
	"math"
	"strconv"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"npud/pkg/types"
)

// Wire format:
//
//	input:  {"inputs":[{"name":"x","shape":[1,10],"data":[0,0,...]}]}
//	output: {"outputs":[{"name":"y","shape":[1,10],"data":[...]}]}
//	schema: {"inputs":[{"name":"x","shape":[1,10]}],"outputs":[...]}
//
// Non-finite values travel as the strings "NaN", "+Inf" and "-Inf"; null
// decodes as NaN.

type wireTensor struct {
	Name  string `json:"name"`
	Shape []int  `json:"shape"`
	Data  []any  `json:"data"`
}

func wireData(data []float32) []any {
	out := make([]any, len(data))
	for i, v := range data {
		f := float64(v)
		switch {
		case math.IsNaN(f):
			out[i] = "NaN"
		case math.IsInf(f, 1):
			out[i] = "+Inf"
		case math.IsInf(f, -1):
			out[i] = "-Inf"
		default:
			out[i] = v
		}
	}
	return out
}

func encodeTensors(dst []byte, key string, tensors []types.Tensor) ([]byte, error) {
	dst = append(dst[:0], `{"`+key+`":[]}`...)
	path := key + ".-1"
	for _, t := range tensors {
		var err error
		dst, err = sjson.SetBytes(dst, path, wireTensor{Name: t.Name, Shape: t.Shape, Data: wireData(t.Data)})
		if err != nil {
			return nil, Errorf("encode", CodeInvalidInput, "tensor %q: %v", t.Name, err)
		}
	}
	return dst, nil
}

// EncodeInputs appends the input document to dst[:0] and returns it.
func EncodeInputs(dst []byte, tensors []types.Tensor) ([]byte, error) {
	return encodeTensors(dst, "inputs", tensors)
}

// EncodeOutputs is the bridge-side counterpart of DecodeOutputs.
func EncodeOutputs(dst []byte, tensors []types.Tensor) ([]byte, error) {
	return encodeTensors(dst, "outputs", tensors)
}

// DecodeInputs parses an input document.
func DecodeInputs(payload []byte) ([]types.Tensor, error) {
	return decodeTensors(payload, "inputs", "decode-inputs", CodeInvalidInput)
}

// DecodeOutputs parses an output document.
func DecodeOutputs(payload []byte) ([]types.Tensor, error) {
	return decodeTensors(payload, "outputs", "decode-outputs", CodeInternal)
}

func decodeTensors(payload []byte, key, op string, code Code) ([]types.Tensor, error) {
	if !gjson.ValidBytes(payload) {
		return nil, Errorf(op, code, "malformed payload")
	}
	arr := gjson.GetBytes(payload, key)
	if !arr.IsArray() {
		return nil, Errorf(op, code, "missing %q array", key)
	}
	var out []types.Tensor
	arr.ForEach(func(_, v gjson.Result) bool {
		t := types.Tensor{Name: v.Get("name").String()}
		for _, d := range v.Get("shape").Array() {
			t.Shape = append(t.Shape, int(d.Int()))
		}
		data := v.Get("data").Array()
		t.Data = make([]float32, len(data))
		for i, x := range data {
			t.Data[i] = decodeValue(x)
		}
		out = append(out, t)
		return true
	})
	return out, nil
}

func decodeValue(x gjson.Result) float32 {
	switch x.Type {
	case gjson.Number:
		return float32(x.Num)
	case gjson.String:
		if f, err := strconv.ParseFloat(x.Str, 64); err == nil {
			return float32(f)
		}
	}
	return float32(math.NaN())
}

// ParseSchema parses a schema document. Any failure yields an error; callers
// degrade to an unknown schema.
func ParseSchema(doc string) (types.Schema, error) {
	if !gjson.Valid(doc) {
		return types.Schema{}, Errorf("schema", CodeInternal, "malformed schema document")
	}
	root := gjson.Parse(doc)
	ins, outs := root.Get("inputs"), root.Get("outputs")
	if !ins.IsArray() && !outs.IsArray() {
		return types.Schema{}, Errorf("schema", CodeInternal, "schema has neither inputs nor outputs")
	}
	return types.Schema{Known: true, Inputs: specs(ins), Outputs: specs(outs)}, nil
}

func specs(arr gjson.Result) []types.TensorSpec {
	var out []types.TensorSpec
	for _, v := range arr.Array() {
		s := types.TensorSpec{Name: v.Get("name").String()}
		for _, d := range v.Get("shape").Array() {
			s.Shape = append(s.Shape, int(d.Int()))
		}
		out = append(out, s)
	}
	return out
}

// EncodeSchema renders a schema document.
func EncodeSchema(s types.Schema) (string, error) {
	doc := `{"inputs":[],"outputs":[]}`
	var err error
	for _, in := range s.Inputs {
		if doc, err = sjson.Set(doc, "inputs.-1", in); err != nil {
			return "", err
		}
	}
	for _, o := range s.Outputs {
		if doc, err = sjson.Set(doc, "outputs.-1", o); err != nil {
			return "", err
		}
	}
	return doc, nil
}
