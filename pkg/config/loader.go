package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

// varPattern matches ${VAR} and ${VAR:-default}.
var varPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// Resolver supplies interpolation values, consulted in this order: CLI
// overrides, environment variables, decrypted secrets, then the
// placeholder's own default.
type Resolver struct {
	Overrides map[string]string
	Secrets   map[string]string
	Getenv    func(string) (string, bool)
}

func (r Resolver) resolve(name string, hasDefault bool, def string) (string, error) {
	if v, ok := r.Overrides[name]; ok {
		return v, nil
	}
	getenv := r.Getenv
	if getenv == nil {
		getenv = os.LookupEnv
	}
	if v, ok := getenv(name); ok {
		return v, nil
	}
	if v, ok := r.Secrets[name]; ok {
		return v, nil
	}
	if hasDefault {
		return def, nil
	}
	return "", fmt.Errorf("config: required variable ${%s} is not set in environment, CLI overrides, or encrypted secrets", name)
}

// Interpolate replaces every ${VAR}/${VAR:-default} placeholder in s.
func Interpolate(s string, r Resolver) (string, error) {
	var firstErr error
	out := varPattern.ReplaceAllStringFunc(s, func(match string) string {
		if firstErr != nil {
			return match
		}
		sub := varPattern.FindStringSubmatch(match)
		name := sub[1]
		hasDefault := bytes.Contains([]byte(match), []byte(":-"))
		resolved, err := r.resolve(name, hasDefault, sub[2])
		if err != nil {
			firstErr = err
			return match
		}
		return resolved
	})
	if firstErr != nil {
		return "", firstErr
	}
	return out, nil
}

func walkAndInterpolate(v interface{}, r Resolver) (interface{}, error) {
	switch val := v.(type) {
	case string:
		return Interpolate(val, r)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			resolved, err := walkAndInterpolate(item, r)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			resolved, err := walkAndInterpolate(item, r)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return v, nil
	}
}

var (
	schemaOnce    sync.Once
	schemaCompiled *jsonschema.Schema
	schemaErr     error
)

func compileSchema(schemaPath string) (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		schemaCompiled, schemaErr = compiler.Compile(schemaPath)
	})
	return schemaCompiled, schemaErr
}

// Load reads path (JSON or YAML, detected by extension), interpolates every
// ${VAR} placeholder against r, validates the result against schemaPath (if
// non-empty and the file exists), and decodes it into an AppConfig.
func Load(path string, r Resolver, schemaPath string) (AppConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return AppConfig{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	var generic interface{}
	if err := decodeByExtension(path, raw, &generic); err != nil {
		return AppConfig{}, fmt.Errorf("config: parse %s: %w", path, err)
	}

	jsonGeneric, err := toJSONCompatible(generic)
	if err != nil {
		return AppConfig{}, err
	}

	interpolated, err := walkAndInterpolate(jsonGeneric, r)
	if err != nil {
		return AppConfig{}, err
	}

	if schemaPath != "" {
		if _, statErr := os.Stat(schemaPath); statErr == nil {
			schema, err := compileSchema(schemaPath)
			if err != nil {
				return AppConfig{}, fmt.Errorf("config: compile schema: %w", err)
			}
			if err := schema.Validate(interpolated); err != nil {
				return AppConfig{}, fmt.Errorf("config: schema validation failed: %w", err)
			}
		}
	}

	merged, err := mergeOntoDefault(interpolated)
	if err != nil {
		return AppConfig{}, err
	}
	return merged, nil
}

func decodeByExtension(path string, raw []byte, out interface{}) error {
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(raw, out)
	default:
		return json.Unmarshal(raw, out)
	}
}

// toJSONCompatible round-trips through JSON to collapse yaml.v3's
// map[string]interface{} vs map[interface{}]interface{} distinctions.
func toJSONCompatible(v interface{}) (interface{}, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("config: normalize document: %w", err)
	}
	var out interface{}
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("config: normalize document: %w", err)
	}
	return out, nil
}

func mergeOntoDefault(interpolated interface{}) (AppConfig, error) {
	cfg := Default()
	b, err := json.Marshal(interpolated)
	if err != nil {
		return AppConfig{}, fmt.Errorf("config: marshal interpolated document: %w", err)
	}
	if err := json.Unmarshal(b, &cfg); err != nil {
		return AppConfig{}, fmt.Errorf("config: decode document: %w", err)
	}
	return cfg, nil
}
