package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

// toJSON re-encodes a YAML config file as JSON so a single strict JSON
// decoder (with DisallowUnknownFields) serves both formats. Files
// without a yaml extension pass through untouched.
func toJSON(path string, data []byte) ([]byte, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
	default:
		return data, nil
	}

	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	j, err := json.Marshal(stringifyKeys(v))
	if err != nil {
		return nil, fmt.Errorf("config: re-encode %s: %w", path, err)
	}
	return j, nil
}

// stringifyKeys guards against non-string mapping keys (yaml allows
// numeric and boolean keys), which json.Marshal would reject.
func stringifyKeys(v any) any {
	switch x := v.(type) {
	case map[string]any:
		for k, child := range x {
			x[k] = stringifyKeys(child)
		}
		return x
	case map[any]any:
		out := make(map[string]any, len(x))
		for k, child := range x {
			out[fmt.Sprint(k)] = stringifyKeys(child)
		}
		return out
	case []any:
		for i := range x {
			x[i] = stringifyKeys(x[i])
		}
		return x
	default:
		return v
	}
}
