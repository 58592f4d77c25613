//go:build !llama

package bridge

// NewLlamaBridge fails in builds without the 'llama' tag; default builds stay
// CGO-free.
func NewLlamaBridge(ctxSize, threads int) (NativeBridge, error) {
	return nil, Errorf("init", CodeUnavailable, "llama support not built (missing 'llama' build tag)")
}
