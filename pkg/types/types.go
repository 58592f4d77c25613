package types

// Tensor is a named, dense float32 tensor as exchanged with the accelerator bridge.
type Tensor struct {
	// Tensor name as declared by the model schema.
	// example: input_1
	Name string `json:"name" example:"input_1"`
	// Dimensions, outermost first.
	// example: [1,10]
	Shape []int `json:"shape" example:"1,10"`
	// Row-major element values; len(Data) must equal the product of Shape.
	Data []float32 `json:"data"`
}

// Elements returns the element count implied by Shape.
func (t Tensor) Elements() int {
	if len(t.Shape) == 0 {
		return 0
	}
	n := 1
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

// TensorSpec describes one input or output of a model.
type TensorSpec struct {
	Name  string `json:"name" example:"input_1"`
	Shape []int  `json:"shape" example:"1,10"`
}

// Schema is the input/output description reported by the bridge.
// Known is false when the bridge could not describe the model.
type Schema struct {
	Known   bool         `json:"known" example:"true"`
	Inputs  []TensorSpec `json:"inputs,omitempty"`
	Outputs []TensorSpec `json:"outputs,omitempty"`
}
