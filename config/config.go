// Package config holds the flat key/value configuration shared by the
// Cholec80 dataset builders and the archive provisioner.
//
// A Config is immutable: With returns a modified copy, and nothing in this
// module rewrites a configuration file behind the caller's back. Lookups are
// lazy, so a missing pipeline key only surfaces when a builder asks for it.
package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"math"
	"os"
	"sort"

	"github.com/pkg/errors"
)

// DefaultPath is the relative location tried when no explicit path is given
// and the bundled default cannot be used.
const DefaultPath = "configs/config.json"

// Keys used by the dataset builders.
const (
	KeyDir                     = "cholec80_dir"
	KeyFileShuffle             = "n_file_shuffle"
	KeyParallelInterleaveCalls = "n_parallel_interleave_calls"
	KeyInterleaveCycle         = "n_interleave_cycle"
	KeyInterleaveBlock         = "n_interleave_block"
	KeyBatchShuffle            = "n_batch_shuffle"
	KeyParallelParseCalls      = "n_parallel_parse_calls"
	KeyPrefetch                = "n_prefetch"
)

// PipelineKeys lists the integer tuning keys a complete configuration holds.
var PipelineKeys = []string{
	KeyFileShuffle,
	KeyParallelInterleaveCalls,
	KeyInterleaveCycle,
	KeyInterleaveBlock,
	KeyBatchShuffle,
	KeyParallelParseCalls,
	KeyPrefetch,
}

var (
	// ErrMissingKey is returned when a lookup names a key the configuration
	// does not hold.
	ErrMissingKey = errors.New("missing configuration key")

	// ErrInvalidValue is returned when a key holds a value of the wrong type.
	ErrInvalidValue = errors.New("invalid configuration value")
)

//go:embed configs/config.json
var bundled []byte

// Config is a flat, JSON-serializable mapping of keys to scalar values.
// The zero value is an empty configuration.
type Config struct {
	values map[string]any
}

// Load reads a configuration. An explicit path always wins; otherwise the
// default bundled with the binary is used, then DefaultPath relative to the
// working directory.
func Load(path string) (Config, error) {
	if path != "" {
		return LoadFile(path)
	}
	cfg, err := Parse(bundled)
	if err == nil {
		return cfg, nil
	}
	cfg, ferr := LoadFile(DefaultPath)
	if ferr != nil {
		return Config{}, errors.Wrapf(ferr, "bundled config unusable (%v)", err)
	}
	return cfg, nil
}

// LoadFile reads and parses the JSON configuration at path.
func LoadFile(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "failed to read config %s", path)
	}
	cfg, err := Parse(b)
	if err != nil {
		return Config{}, errors.Wrapf(err, "failed to parse config %s", path)
	}
	return cfg, nil
}

// Parse decodes a JSON object. Numbers keep their literal form so that a
// load/save cycle reproduces the input exactly.
func Parse(b []byte) (Config, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	values := make(map[string]any)
	if err := dec.Decode(&values); err != nil {
		return Config{}, errors.Wrap(err, "malformed config JSON")
	}
	if dec.More() {
		return Config{}, errors.New("malformed config JSON: trailing data")
	}
	return Config{values: values}, nil
}

// New builds a configuration from the given values. The map is copied.
func New(values map[string]any) Config {
	cp := make(map[string]any, len(values))
	for k, v := range values {
		cp[k] = v
	}
	return Config{values: cp}
}

// With returns a copy of c with key set to value.
func (c Config) With(key string, value any) Config {
	cp := make(map[string]any, len(c.values)+1)
	for k, v := range c.values {
		cp[k] = v
	}
	cp[key] = value
	return Config{values: cp}
}

// Has reports whether key is present.
func (c Config) Has(key string) bool {
	_, ok := c.values[key]
	return ok
}

// Keys returns the configuration keys in lexicographic order.
func (c Config) Keys() []string {
	keys := make([]string, 0, len(c.values))
	for k := range c.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// GetString returns the string stored under key.
func (c Config) GetString(key string) (string, error) {
	v, ok := c.values[key]
	if !ok {
		return "", errors.Wrapf(ErrMissingKey, "%q", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", errors.Wrapf(ErrInvalidValue, "%q: want string, got %T", key, v)
	}
	return s, nil
}

// GetInt returns the integer stored under key.
func (c Config) GetInt(key string) (int, error) {
	v, ok := c.values[key]
	if !ok {
		return 0, errors.Wrapf(ErrMissingKey, "%q", key)
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, errors.Wrapf(ErrInvalidValue, "%q: want integer, got %s", key, n)
		}
		return int(i), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, errors.Wrapf(ErrInvalidValue, "%q: want integer, got %v", key, n)
		}
		return int(n), nil
	default:
		return 0, errors.Wrapf(ErrInvalidValue, "%q: want integer, got %T", key, v)
	}
}

// Validate eagerly checks that the dataset directory and every pipeline key
// are present and well typed.
func (c Config) Validate() error {
	if _, err := c.GetString(KeyDir); err != nil {
		return err
	}
	for _, key := range PipelineKeys {
		if _, err := c.GetInt(key); err != nil {
			return err
		}
	}
	return nil
}

// Marshal encodes c as a JSON object with sorted keys and 2-space indent,
// without a trailing newline.
func (c Config) Marshal() ([]byte, error) {
	values := c.values
	if values == nil {
		values = map[string]any{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(values); err != nil {
		return nil, errors.Wrap(err, "failed to encode config")
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
