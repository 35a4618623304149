package secrets_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/dereadi/thermal-memory/internal/secrets"
)

func TestNewVault_LoaderError(t *testing.T) {
	_, err := secrets.NewVault(func() (map[string]string, error) {
		return nil, errors.New("boom")
	})
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestVault_ReloadErrorKeepsValues(t *testing.T) {
	fail := false
	v, err := secrets.NewVault(func() (map[string]string, error) {
		if fail {
			return nil, errors.New("unavailable")
		}
		return map[string]string{"mcp_api_key": "k1"}, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	fail = true
	if err := v.Reload(); err == nil {
		t.Fatal("expected reload error")
	}
	if got := v.Get("mcp_api_key"); got != "k1" {
		t.Errorf("Get = %q, want previous value", got)
	}
	if got := v.Get("missing"); got != "" {
		t.Errorf("missing key = %q", got)
	}
}

func TestFileLoaderRotation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "key")
	if err := os.WriteFile(path, []byte("first\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	v, err := secrets.NewVault(secrets.Chain(
		secrets.Static(map[string]string{"mcp_api_key": "from-config"}),
		secrets.FileLoader("mcp_api_key", path),
	))
	if err != nil {
		t.Fatal(err)
	}
	get := v.Getter("mcp_api_key")
	if got := get(); got != "first" {
		t.Fatalf("key = %q, want file value over config", got)
	}

	if err := os.WriteFile(path, []byte("second"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := v.Reload(); err != nil {
		t.Fatal(err)
	}
	if got := get(); got != "second" {
		t.Errorf("key after rotation = %q", got)
	}
}

func TestFileLoaderEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "key")
	if err := os.WriteFile(path, []byte("  \n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := secrets.FileLoader("k", path)(); err == nil {
		t.Fatal("expected error for empty secret file")
	}
	vals, err := secrets.FileLoader("k", "")()
	if err != nil || len(vals) != 0 {
		t.Fatalf("empty path = %v, %v", vals, err)
	}
}

func TestStaticOmitsEmpty(t *testing.T) {
	vals, _ := secrets.Static(map[string]string{"a": "", "b": "x"})()
	if _, ok := vals["a"]; ok || vals["b"] != "x" {
		t.Errorf("unexpected values: %v", vals)
	}
}

func TestVault_ConcurrentAccess(t *testing.T) {
	v, err := secrets.NewVault(secrets.Static(map[string]string{"k": "v"}))
	if err != nil {
		t.Fatal(err)
	}
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(2)
		go func() { defer wg.Done(); _ = v.Get("k") }()
		go func() { defer wg.Done(); _ = v.Reload() }()
	}
	wg.Wait()
}

func TestReloadOnSignal(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	v, err := secrets.NewVault(func() (map[string]string, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		return map[string]string{"n": string(rune('0' + calls))}, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	stop := v.ReloadOnSignal(context.Background(), syscall.SIGHUP)
	defer stop()

	if err := syscall.Kill(os.Getpid(), syscall.SIGHUP); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for v.Get("n") != "2" {
		if time.Now().After(deadline) {
			t.Fatal("vault not reloaded after SIGHUP")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
