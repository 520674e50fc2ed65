package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/c360/flexbuf/errors"
)

// EnvPrefix prefixes every environment override, e.g. FLEXBUF_BUFFER_CAPACITY.
const EnvPrefix = "FLEXBUF"

// Config file formats
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// Loader handles configuration loading with layers and overrides. Later
// layers override the fields they set; unset fields keep earlier values.
type Loader struct {
	layers     []string
	validation bool
	envPrefix  string
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{envPrefix: EnvPrefix}
}

// AddLayer adds a configuration file layer
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation enables or disables configuration validation
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// Load loads and merges all configuration layers over Default, then applies
// environment overrides.
func (l *Loader) Load() (*Config, error) {
	cfg := Default()

	for _, path := range l.layers {
		data, err := safeReadFile(path)
		if err != nil {
			return nil, errors.WrapInvalid(fmt.Errorf("%w: %w", errors.ErrConfigNotFound, err),
				"Loader", "Load", "read "+path)
		}
		if err := decodeInto(cfg, data, formatOf(path)); err != nil {
			return nil, errors.WrapInvalid(fmt.Errorf("%w: %w", errors.ErrInvalidConfig, err),
				"Loader", "Load", "parse "+path)
		}
	}

	if err := ApplyEnv(cfg, l.envPrefix); err != nil {
		return nil, err
	}

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// Load reads one config file, applies FLEXBUF_* overrides and validates the
// result.
func Load(path string) (*Config, error) {
	l := NewLoader()
	l.AddLayer(path)
	l.EnableValidation(true)
	return l.Load()
}

// Parse decodes a document in the given format over Default and validates
// it. Environment overrides are not applied.
func Parse(data []byte, format string) (*Config, error) {
	cfg := Default()
	if err := decodeInto(cfg, data, format); err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %w", errors.ErrInvalidConfig, err),
			"Config", "Parse", "parse document")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decodeInto checks data against the schema and decodes it over cfg.
func decodeInto(cfg *Config, data []byte, format string) error {
	var doc any
	switch format {
	case FormatJSON:
		if err := validateJSONDepth(data); err != nil {
			return fmt.Errorf("invalid JSON structure: %w", err)
		}
		if err := json.Unmarshal(data, &doc); err != nil {
			return err
		}
	case FormatYAML:
		if err := validateYAMLDepth(data); err != nil {
			return fmt.Errorf("invalid YAML structure: %w", err)
		}
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown config format %q", format)
	}
	if doc == nil {
		// empty document keeps the defaults
		return nil
	}
	if err := ValidateSchema(doc); err != nil {
		return err
	}

	if format == FormatJSON {
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		return dec.Decode(cfg)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	return dec.Decode(cfg)
}

// formatOf maps a file extension to a format; "" when unsupported.
func formatOf(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return ""
	}
}

// ApplyEnv applies prefix_* environment overrides to cfg.
func ApplyEnv(cfg *Config, prefix string) error {
	lookup := func(key string) (string, bool, error) {
		name := prefix + "_" + key
		val, ok := os.LookupEnv(name)
		if !ok || val == "" {
			return "", false, nil
		}
		if err := validateEnvVar(name, val); err != nil {
			return "", false, errors.WrapInvalid(err, "Config", "ApplyEnv", "read "+name)
		}
		return val, true, nil
	}
	str := func(key string, dst *string) error {
		val, ok, err := lookup(key)
		if ok {
			*dst = val
		}
		return err
	}
	num := func(key string, dst *int) error {
		val, ok, err := lookup(key)
		if err != nil || !ok {
			return err
		}
		n, err := strconv.Atoi(val)
		if err != nil {
			return errors.WrapInvalid(fmt.Errorf("%w: %w", errors.ErrInvalidConfig, err),
				"Config", "ApplyEnv", "parse "+prefix+"_"+key)
		}
		*dst = n
		return nil
	}

	var urls string
	steps := []error{
		num("BUFFER_CAPACITY", &cfg.Buffer.Capacity),
		num("BUFFER_ALIGNMENT", &cfg.Buffer.Alignment),
		str("BUFFER_ALLOCATOR", &cfg.Buffer.Allocator),
		str("SOURCE_TYPE", &cfg.Source.Type),
		str("SOURCE_PATH", &cfg.Source.Path),
		str("UDP_ADDRESS", &cfg.Source.UDP.Address),
		str("NATS_URLS", &urls),
		str("NATS_USERNAME", &cfg.NATS.Username),
		str("NATS_PASSWORD", &cfg.NATS.Password),
		str("NATS_TOKEN", &cfg.NATS.Token),
		str("NATS_SUBJECT", &cfg.Sinks.NATS.Subject),
		str("METRICS_ADDRESS", &cfg.Metrics.Address),
		str("LOG_LEVEL", &cfg.Log.Level),
		str("LOG_FORMAT", &cfg.Log.Format),
	}
	for _, err := range steps {
		if err != nil {
			return err
		}
	}
	if urls != "" {
		cfg.NATS.URLs = strings.Split(urls, ",")
	}
	return nil
}

// Save writes the configuration as YAML or JSON depending on the extension
// of path.
func (c *Config) Save(path string) error {
	data, err := c.Marshal(formatOf(path))
	if err != nil {
		return err
	}
	if err := safeWriteFile(path, data); err != nil {
		return errors.WrapTransient(err, "Config", "Save", "write "+path)
	}
	return nil
}

// Marshal encodes the configuration in format.
func (c *Config) Marshal(format string) ([]byte, error) {
	switch format {
	case FormatJSON:
		data, err := json.MarshalIndent(c, "", "  ")
		if err != nil {
			return nil, errors.WrapFatal(err, "Config", "Marshal", "encode JSON")
		}
		return append(data, '\n'), nil
	case FormatYAML:
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(c); err != nil {
			return nil, errors.WrapFatal(err, "Config", "Marshal", "encode YAML")
		}
		if err := enc.Close(); err != nil {
			return nil, errors.WrapFatal(err, "Config", "Marshal", "encode YAML")
		}
		return buf.Bytes(), nil
	default:
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Marshal",
			fmt.Sprintf("format %q", format))
	}
}
