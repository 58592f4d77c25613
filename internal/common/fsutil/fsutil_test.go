package fsutil

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestExpandHome(t *testing.T) {
	// Set a deterministic HOME for the duration of this test so we never skip.
	origHome, hadHome := os.LookupEnv("HOME")
	origUserProfile, hadUserProfile := os.LookupEnv("USERPROFILE")
	t.Cleanup(func() {
		if hadHome {
			_ = os.Setenv("HOME", origHome)
		} else {
			_ = os.Unsetenv("HOME")
		}
		if hadUserProfile {
			_ = os.Setenv("USERPROFILE", origUserProfile)
		} else {
			_ = os.Unsetenv("USERPROFILE")
		}
	})

	home := t.TempDir()
	// Configure both env vars for cross-platform behavior of os.UserHomeDir.
	_ = os.Setenv("HOME", home)
	if runtime.GOOS == "windows" {
		_ = os.Setenv("USERPROFILE", home)
	}
	// raw path unaffected
	if got, err := ExpandHome("/tmp"); err != nil || got != "/tmp" {
		t.Fatalf("got %q err=%v", got, err)
	}
	// empty path
	if got, err := ExpandHome(""); err != nil || got != "" {
		t.Fatalf("got %q err=%v", got, err)
	}
	// ~ expansion
	p, err := ExpandHome("~")
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if p != home {
		t.Fatalf("expected %q, got %q", home, p)
	}
	// ~/subdir
	sub := "test-sub"
	exp, err := ExpandHome("~/" + sub)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if runtime.GOOS == "windows" {
		if filepath.Base(exp) != sub {
			t.Fatalf("unexpected expanded path: %q", exp)
		}
	} else {
		expected := filepath.Join(home, sub)
		if exp != expected {
			t.Fatalf("expected %q, got %q", expected, exp)
		}
	}
}

func TestSize(t *testing.T) {
	dir := t.TempDir()
	bundle := filepath.Join(dir, "m.mlmodelc")
	if err := os.MkdirAll(filepath.Join(bundle, "weights"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	_ = os.WriteFile(filepath.Join(bundle, "model.mil"), make([]byte, 100), 0o644)
	_ = os.WriteFile(filepath.Join(bundle, "weights", "weight.bin"), make([]byte, 900), 0o644)

	n, err := Size(bundle)
	if err != nil || n != 1000 {
		t.Fatalf("dir size: got %d err=%v", n, err)
	}
	n, err = Size(filepath.Join(bundle, "model.mil"))
	if err != nil || n != 100 {
		t.Fatalf("file size: got %d err=%v", n, err)
	}
	if _, err := Size(filepath.Join(dir, "missing")); err == nil {
		t.Fatalf("expected error for missing path")
	}
	if !PathExists(bundle) {
		t.Fatalf("bundle should exist")
	}
	if _, err := ModTimeUnix(bundle); err != nil {
		t.Fatalf("modtime: %v", err)
	}
}
