package secrets

import (
	"fmt"
	"maps"
	"os"
	"strings"
)

// Static returns a Loader with fixed values. Empty values are omitted.
func Static(values map[string]string) Loader {
	return func() (map[string]string, error) {
		out := make(map[string]string, len(values))
		for k, v := range values {
			if v != "" {
				out[k] = v
			}
		}
		return out, nil
	}
}

// FileLoader reads a single secret from path, trimming surrounding
// whitespace. An empty path yields no values.
func FileLoader(name, path string) Loader {
	return func() (map[string]string, error) {
		if path == "" {
			return map[string]string{}, nil
		}
		data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from the operator
		if err != nil {
			return nil, fmt.Errorf("read secret %s: %w", name, err)
		}
		v := strings.TrimSpace(string(data))
		if v == "" {
			return nil, fmt.Errorf("secret file %s is empty", path)
		}
		return map[string]string{name: v}, nil
	}
}

// Chain merges loaders in order; later loaders override earlier ones. The
// first error aborts the load.
func Chain(loaders ...Loader) Loader {
	return func() (map[string]string, error) {
		out := map[string]string{}
		for _, l := range loaders {
			vals, err := l()
			if err != nil {
				return nil, err
			}
			maps.Copy(out, vals)
		}
		return out, nil
	}
}
