// Package secrets holds credentials that can rotate while the node runs,
// such as the MCP API key.
package secrets

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
)

// Loader returns the current set of named secrets.
type Loader func() (map[string]string, error)

// Vault caches the loaded secrets. Reload swaps the whole set at once;
// readers never see a partial update.
type Vault struct {
	mu     sync.RWMutex
	values map[string]string
	loader Loader
}

// NewVault loads the initial secrets. A loader error is fatal here because
// there is nothing to fall back to.
func NewVault(loader Loader) (*Vault, error) {
	vals, err := loader()
	if err != nil {
		return nil, fmt.Errorf("initial secret load: %w", err)
	}
	return &Vault{values: vals, loader: loader}, nil
}

// Get returns the named secret or "" when absent.
func (v *Vault) Get(name string) string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.values[name]
}

// Getter returns a func bound to name, for callers that read a single key.
func (v *Vault) Getter(name string) func() string {
	return func() string { return v.Get(name) }
}

// Reload re-runs the loader. On error the previous secrets stay in place.
func (v *Vault) Reload() error {
	vals, err := v.loader()
	if err != nil {
		return fmt.Errorf("reload secrets: %w", err)
	}
	v.mu.Lock()
	v.values = vals
	v.mu.Unlock()
	return nil
}

// ReloadOnSignal reloads the vault each time one of sigs arrives until ctx
// ends. The returned func stops listening.
func (v *Vault) ReloadOnSignal(ctx context.Context, sigs ...os.Signal) func() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, sigs...)
	ctx, cancel := context.WithCancel(ctx)

	go func() {
		defer signal.Stop(ch)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ch:
				if err := v.Reload(); err != nil {
					slog.Error("secret reload failed, keeping previous values", "error", err)
					continue
				}
				slog.Info("secrets reloaded")
			}
		}
	}()
	return cancel
}
