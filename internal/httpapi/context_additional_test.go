package httpapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newRequest(method, path string) *http.Request { return httptest.NewRequest(method, path, nil) }

func serve(h http.Handler, r *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestSetBaseContext_NilResetsToBackground(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	SetBaseContext(ctx)
	// nolint:staticcheck // SA1012: this test intentionally passes nil to verify fallback behavior
	SetBaseContext(nil)
	if serverBaseCtx != context.Background() {
		t.Fatalf("base context not reset")
	}
}

func TestJoinContexts_CancelsWhenEitherDone(t *testing.T) {
	a, ac := context.WithCancel(context.Background())
	b, bc := context.WithCancel(context.Background())
	defer bc()
	j, cancelJ := joinContexts(a, b)
	defer cancelJ()
	ac()
	select {
	case <-j.Done():
	case <-time.After(500 * time.Millisecond):
		t.Fatal("joined context did not cancel when first parent canceled")
	}

	a2, ac2 := context.WithCancel(context.Background())
	defer ac2()
	b2, bc2 := context.WithCancel(context.Background())
	j2, cancelJ2 := joinContexts(a2, b2)
	defer cancelJ2()
	bc2()
	select {
	case <-j2.Done():
	case <-time.After(500 * time.Millisecond):
		t.Fatal("joined context did not cancel when second parent canceled")
	}
}

type ctxKey struct{}

func TestJoinContexts_KeepsRequestValues(t *testing.T) {
	b := context.WithValue(context.Background(), ctxKey{}, "rid")
	j, cancel := joinContexts(context.Background(), b)
	defer cancel()
	if j.Value(ctxKey{}) != "rid" {
		t.Fatalf("request values lost")
	}
}

func TestWorkContext_AppliesRequestTimeout(t *testing.T) {
	SetRequestTimeoutSeconds(1)
	defer SetRequestTimeoutSeconds(0)
	ctx, cancel := workContext(context.Background())
	defer cancel()
	dl, ok := ctx.Deadline()
	if !ok || time.Until(dl) > time.Second {
		t.Fatalf("deadline = %v, %v", dl, ok)
	}
}

func TestInfer_ShutdownSkipsResponseBody(t *testing.T) {
	base, cancel := context.WithCancel(context.Background())
	SetBaseContext(base)
	defer SetBaseContext(nil)
	cancel()
	svc := &mockService{submitErr: errors.New("canceled")}
	w := do(t, NewMux(svc), http.MethodPost, "/infer", inferBody)
	if w.Body.Len() != 0 {
		t.Fatalf("expected empty body on shutdown, got %q", w.Body.String())
	}
}
