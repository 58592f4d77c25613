// Package bridge defines the contract with the native accelerator runtime and
// the plumbing around it: structured errors, the JSON tensor codec and a
// bounded worker pool that keeps blocking native calls off request goroutines.
//
// Backends:
//
//   - SimBridge: in-process simulation used when no accelerator is detected
//     and in tests.
//   - LlamaBridge: go-llama.cpp embedding runtime, built with `-tags=llama`.
//     Without the tag NewLlamaBridge returns an unavailable error.
package bridge

// Handle is an opaque reference to a loaded model owned by the bridge.
type Handle uint64

// ComputeUnits selects which engines the runtime may schedule on.
type ComputeUnits string

const (
	ComputeAll          ComputeUnits = "all"
	ComputeCPUOnly      ComputeUnits = "cpu_only"
	ComputeCPUAndGPU    ComputeUnits = "cpu_and_gpu"
	ComputeCPUAndNeural ComputeUnits = "cpu_and_ne"
)

// NativeBridge is the blocking interface to the accelerator runtime. Payloads
// are JSON documents; see EncodeInputs and DecodeOutputs. Implementations
// return *Error so callers can tell recoverable failures from fatal ones.
// Returned strings are owned by the caller.
type NativeBridge interface {
	Compile(modelPath string, units ComputeUnits) (compiledPath string, err error)
	Load(compiledPath string, units ComputeUnits) (Handle, error)
	Free(h Handle)
	// Schema describes inputs and outputs. Failures are advisory.
	Schema(h Handle) (string, error)
	Predict(h Handle, inputJSON string, timeoutMS int) (string, error)
}

// FootprintReporter is implemented by bridges that know the exact memory
// held by a loaded model.
type FootprintReporter interface {
	FootprintMB(h Handle) (uint64, bool)
}

// Resetter is implemented by bridges that can reset device state between
// retry attempts.
type Resetter interface {
	Reset() error
}

// Namer is implemented by bridges that report a backend name for status.
type Namer interface {
	Name() string
}

// NameOf returns the backend name of b, or "native".
func NameOf(b NativeBridge) string {
	if n, ok := b.(Namer); ok {
		return n.Name()
	}
	return "native"
}
