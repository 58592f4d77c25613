package types

// Model represents a discoverable or loadable model on disk.
type Model struct {
	// Stable identifier for the model.
	// example: mobilenet-v3
	ID string `json:"id" example:"mobilenet-v3"`
	// Human-friendly name.
	// example: MobileNet V3
	Name string `json:"name" example:"MobileNet V3"`
	// Absolute path to the model file or bundle on disk.
	// example: /home/user/models/mobilenet-v3.mlpackage
	Path string `json:"path" example:"/home/user/models/mobilenet-v3.mlpackage"`
	// Model format derived from the file extension (mlmodel, mlmodelc, mlpackage, gguf).
	// example: mlpackage
	Format string `json:"format" example:"mlpackage"`
	// Network architecture family: transformer, cnn, rnn or hybrid.
	// example: cnn
	Architecture string `json:"architecture" example:"cnn"`
	// Size of the model artifact in MB, when known.
	// example: 21
	SizeMB uint64 `json:"size_mb,omitempty" example:"21"`
}
