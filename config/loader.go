package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360/apicore/errors"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "APICORE"

const (
	formatJSON = "json"
	formatYAML = "yaml"
)

// durationFields lists the document paths holding durations. Each accepts a
// Go duration string ("500ms", "1h30m"), a day count ("7d") or nanoseconds.
var durationFields = [][]string{
	{"cache", "memory", "remote_ttl"},
	{"cache", "memory", "persistent_ttl"},
	{"cache", "store", "conn_max_lifetime"},
	{"cache", "store", "slow_query_threshold"},
	{"batch", "wait_time"},
}

// Loader layers configuration documents over DefaultConfig.
type Loader struct {
	layers     []string
	validation bool
	lookupEnv  func(string) (string, bool)
}

// NewLoader creates a loader with validation enabled.
func NewLoader() *Loader {
	return &Loader{validation: true, lookupEnv: os.LookupEnv}
}

// AddLayer adds a file. Later layers override earlier ones key by key.
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation turns schema and semantic validation on or off.
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// Load merges all layers over the defaults, applies environment overrides
// and validates the result.
func (l *Loader) Load() (Config, error) {
	merged, err := toMap(DefaultConfig())
	if err != nil {
		return Config{}, errors.WrapFatal(err, "Loader", "Load", "encode defaults")
	}

	for _, path := range l.layers {
		doc, err := l.readLayer(path)
		if err != nil {
			return Config{}, err
		}
		merged = deepMergeMaps(merged, doc)
	}

	cfg, err := fromMap(merged)
	if err != nil {
		return Config{}, errors.WrapInvalid(err, "Loader", "Load", "decode merged config")
	}
	if err := l.applyEnvOverrides(&cfg); err != nil {
		return Config{}, err
	}

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return Config{}, err
		}
	}
	return cfg, nil
}

// LoadFile loads a single file over the defaults.
func (l *Loader) LoadFile(path string) (Config, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load reads one JSON or YAML file over the defaults with validation.
func Load(path string) (Config, error) {
	return NewLoader().LoadFile(path)
}

// Parse decodes a single document (format "json" or "yaml") over the
// defaults without consulting the environment.
func Parse(data []byte, format string) (Config, error) {
	l := &Loader{validation: true, lookupEnv: func(string) (string, bool) { return "", false }}
	doc, err := l.decode(data, format)
	if err != nil {
		return Config{}, err
	}

	merged, err := toMap(DefaultConfig())
	if err != nil {
		return Config{}, errors.WrapFatal(err, "Parse", "Parse", "encode defaults")
	}
	cfg, err := fromMap(deepMergeMaps(merged, doc))
	if err != nil {
		return Config{}, errors.WrapInvalid(err, "Parse", "Parse", "decode config")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (l *Loader) readLayer(path string) (map[string]any, error) {
	format, err := formatForPath(path)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Loader", "readLayer", "check config path")
	}
	data, err := safeReadFile(path)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Loader", "readLayer", "read "+path)
	}
	doc, err := l.decode(data, format)
	if err != nil {
		return nil, errors.Wrap(err, "Loader", "readLayer", "decode "+path)
	}
	return doc, nil
}

// decode turns a document into a JSON-shaped map, checks it against the
// schema and converts duration strings to nanoseconds.
func (l *Loader) decode(data []byte, format string) (map[string]any, error) {
	var jsonData []byte
	switch format {
	case formatJSON:
		jsonData = data
	case formatYAML:
		var raw map[string]any
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, errors.WrapInvalid(err, "Loader", "decode", "parse YAML")
		}
		if raw == nil {
			raw = map[string]any{}
		}
		converted, err := json.Marshal(raw)
		if err != nil {
			return nil, errors.WrapInvalid(err, "Loader", "decode", "convert YAML to JSON")
		}
		jsonData = converted
	default:
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Loader", "decode",
			fmt.Sprintf("unknown format %q", format))
	}

	if err := validateJSONDepth(jsonData); err != nil {
		return nil, errors.WrapInvalid(err, "Loader", "decode", "check structure")
	}

	var doc map[string]any
	dec := json.NewDecoder(bytes.NewReader(jsonData))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, errors.WrapInvalid(err, "Loader", "decode", "parse JSON")
	}
	if doc == nil {
		doc = map[string]any{}
	}

	if l.validation {
		if err := validateSchema(doc); err != nil {
			return nil, errors.WrapInvalid(err, "Loader", "decode", "validate schema")
		}
	}
	if err := parseDurations(doc); err != nil {
		return nil, errors.WrapInvalid(err, "Loader", "decode", "parse durations")
	}
	return doc, nil
}

func parseDurations(doc map[string]any) error {
	for _, path := range durationFields {
		parent := doc
		for _, key := range path[:len(path)-1] {
			next, ok := parent[key].(map[string]any)
			if !ok {
				parent = nil
				break
			}
			parent = next
		}
		if parent == nil {
			continue
		}

		leaf := path[len(path)-1]
		s, ok := parent[leaf].(string)
		if !ok {
			continue
		}
		d, err := parseDurationWithDays(s)
		if err != nil {
			return fmt.Errorf("%s: %w", strings.Join(path, "."), err)
		}
		parent[leaf] = d.Nanoseconds()
	}
	return nil
}

// parseDurationWithDays parses Go durations plus a whole-day form like "7d".
func parseDurationWithDays(s string) (time.Duration, error) {
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, fmt.Errorf("invalid day duration %q", s)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}

// deepMergeMaps returns base with override applied; nested objects merge
// key by key and everything else is replaced.
func deepMergeMaps(base, override map[string]any) map[string]any {
	result := make(map[string]any, len(base)+len(override))
	for k, v := range base {
		result[k] = v
	}
	for k, v := range override {
		if v == nil {
			continue
		}
		if baseMap, ok := base[k].(map[string]any); ok {
			if overrideMap, ok := v.(map[string]any); ok {
				result[k] = deepMergeMaps(baseMap, overrideMap)
				continue
			}
		}
		result[k] = v
	}
	return result
}

func toMap(cfg Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

func fromMap(doc map[string]any) (Config, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnvOverrides sets connection strings from the environment.
// APICORE_REDIS_URL and APICORE_NATS_URL select their backend unless the
// document already chose the other one.
func (l *Loader) applyEnvOverrides(cfg *Config) error {
	get := func(name string) (string, bool, error) {
		key := EnvPrefix + "_" + name
		val, ok := l.lookupEnv(key)
		if !ok || val == "" {
			return "", false, nil
		}
		if err := validateEnvVar(key, val); err != nil {
			return "", false, errors.WrapInvalid(err, "Loader", "applyEnvOverrides", "read "+key)
		}
		return val, true, nil
	}

	remote := &cfg.Cache.Remote
	for _, backend := range []string{RemoteRedis, RemoteNATS} {
		val, ok, err := get(strings.ToUpper(backend) + "_URL")
		if err != nil {
			return err
		}
		if !ok || (remote.Enabled() && remote.Backend != backend) {
			continue
		}
		remote.Backend = backend
		remote.URL = val
	}

	if val, ok, err := get("CACHE_DSN"); err != nil {
		return err
	} else if ok {
		cfg.Cache.Store.DSN = val
	}
	return nil
}

// SaveToFile writes the configuration as JSON or YAML depending on the
// extension. Durations are written in nanoseconds.
func (c Config) SaveToFile(path string) error {
	format, err := formatForPath(path)
	if err != nil {
		return errors.WrapInvalid(err, "Config", "SaveToFile", "check config path")
	}

	var data []byte
	if format == formatYAML {
		doc, err := toMap(c)
		if err != nil {
			return errors.WrapFatal(err, "Config", "SaveToFile", "encode config")
		}
		data, err = yaml.Marshal(normalizeNumbers(doc))
		if err != nil {
			return errors.WrapFatal(err, "Config", "SaveToFile", "encode YAML")
		}
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
		if err != nil {
			return errors.WrapFatal(err, "Config", "SaveToFile", "encode JSON")
		}
	}

	if err := safeWriteFile(path, data); err != nil {
		return errors.WrapTransient(err, "Config", "SaveToFile", "write "+path)
	}
	return nil
}

// normalizeNumbers replaces json.Number values so YAML emits plain scalars.
func normalizeNumbers(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, inner := range t {
			t[k] = normalizeNumbers(inner)
		}
		return t
	case []any:
		for i, inner := range t {
			t[i] = normalizeNumbers(inner)
		}
		return t
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		f, _ := t.Float64()
		return f
	default:
		return v
	}
}
