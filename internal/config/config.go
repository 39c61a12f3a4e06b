// Package config defines the JSON-serializable configuration model for the
// catalog importer. Fields mirror the JSON structure of configs/*.json; a
// small Options helper gives typed access to free-form parser options.
//
// Example (trimmed):
//
//	{
//	  "job":     "catalog_import",
//	  "storage": { "kind": "sqlite", "db": { "dsn": "file:catalog.db", "auto_create_table": true } },
//	  "parser":  { "kind": "csv", "options": { "comma": ",", "source_encoding": "utf-8" } },
//	  "staging": { "dir": "storage/uploads", "max_bytes": 2097152 },
//	  "runtime": { "workers": 2, "max_attempts": 3, "retry_backoff": "2s" }
//	}
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the top-level object decoded from a config file.
type Config struct {
	// Job labels metrics and log lines for this deployment.
	Job string `json:"job"`

	Storage Storage       `json:"storage"`
	Parser  Parser        `json:"parser"`
	Staging Staging       `json:"staging"`
	Runtime RuntimeConfig `json:"runtime"`
	Metrics Metrics       `json:"metrics"`
	Log     Log           `json:"log"`
	Status  StatusServer  `json:"status"`
}

// Storage selects the backend holding products and upload records.
type Storage struct {
	// Kind selects the backend: "postgres", "sqlite", "mssql" or "mysql".
	Kind string   `json:"kind"`
	DB   DBConfig `json:"db"`
}

// DBConfig configures the database backend.
type DBConfig struct {
	// DSN is the driver connection string.
	DSN string `json:"dsn"`

	// ProductsTable is the upsert target; defaults to "products".
	ProductsTable string `json:"products_table"`

	// UploadsTable holds upload job records; defaults to "file_uploads".
	UploadsTable string `json:"uploads_table"`

	// AutoCreateTable creates both tables (with the unique constraint on
	// unique_key) when they are missing.
	AutoCreateTable bool `json:"auto_create_table"`
}

// Parser selects how staged files are read.
type Parser struct {
	// Kind is always "csv".
	Kind string `json:"kind"`

	// Options is interpreted by the CSV reader and normalizer:
	//   comma (string), lazy_quotes (bool), source_encoding (string),
	//   normalize_nfc (bool), header_map (object)
	Options Options `json:"options"`
}

// Staging configures where accepted uploads are copied before ingestion.
type Staging struct {
	Dir        string   `json:"dir"`
	MaxBytes   int64    `json:"max_bytes"`
	AllowedExt []string `json:"allowed_ext"`
}

// RuntimeConfig controls the background worker pool.
type RuntimeConfig struct {
	// Workers is the number of jobs processed concurrently.
	Workers int `json:"workers"`

	// MaxAttempts bounds retries of a run whose status could not be recorded.
	MaxAttempts int `json:"max_attempts"`

	RetryBackoff Duration `json:"retry_backoff"`
	PollInterval Duration `json:"poll_interval"`

	// MaxConsecutiveWriteFailures escalates a run to failed after that many
	// upserts fail in a row. Zero disables escalation.
	MaxConsecutiveWriteFailures int `json:"max_consecutive_write_failures"`
}

// Metrics selects the metrics backend.
type Metrics struct {
	// Backend is "none", "pushgateway" or "datadog".
	Backend        string   `json:"backend"`
	PushgatewayURL string   `json:"pushgateway_url"`
	DatadogAddr    string   `json:"datadog_addr"`
	Namespace      string   `json:"namespace"`
	Tags           []string `json:"tags"`
}

// Log configures the structured logger.
type Log struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// StatusServer configures the read-only status API.
type StatusServer struct {
	Addr string `json:"addr"`
}

// Default returns a Config with every default applied.
func Default() Config {
	var c Config
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.Job == "" {
		c.Job = "catalog_import"
	}
	if c.Storage.Kind == "" {
		c.Storage.Kind = "sqlite"
	}
	if c.Storage.DB.ProductsTable == "" {
		c.Storage.DB.ProductsTable = "products"
	}
	if c.Storage.DB.UploadsTable == "" {
		c.Storage.DB.UploadsTable = "file_uploads"
	}
	if c.Parser.Kind == "" {
		c.Parser.Kind = "csv"
	}
	if c.Parser.Options == nil {
		c.Parser.Options = Options{}
	}
	if c.Staging.Dir == "" {
		c.Staging.Dir = "storage/uploads"
	}
	if c.Staging.MaxBytes == 0 {
		c.Staging.MaxBytes = 2 << 20
	}
	if len(c.Staging.AllowedExt) == 0 {
		c.Staging.AllowedExt = []string{".csv", ".txt"}
	}
	if c.Runtime.Workers == 0 {
		c.Runtime.Workers = 2
	}
	if c.Runtime.MaxAttempts == 0 {
		c.Runtime.MaxAttempts = 3
	}
	if c.Runtime.RetryBackoff == 0 {
		c.Runtime.RetryBackoff = Duration(2 * time.Second)
	}
	if c.Runtime.PollInterval == 0 {
		c.Runtime.PollInterval = Duration(5 * time.Second)
	}
	if c.Metrics.Backend == "" {
		c.Metrics.Backend = "none"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Status.Addr == "" {
		c.Status.Addr = ":8080"
	}
}

// Load reads and decodes the config file at path, then applies defaults and
// environment overrides. An empty path yields the defaults plus env.
func Load(path string) (Config, error) {
	var c Config
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return Config{}, fmt.Errorf("open config: %w", err)
		}
		defer f.Close()

		dec := json.NewDecoder(f)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&c); err != nil {
			return Config{}, fmt.Errorf("decode config %s: %w", path, err)
		}
	}
	c.ApplyEnv(os.Getenv)
	c.applyDefaults()
	return c, nil
}

// ApplyEnv overrides fields from environment variables (12-factor style).
// getenv is usually os.Getenv; tests pass a map lookup.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv("CATALOG_STORAGE_KIND"); v != "" {
		c.Storage.Kind = v
	}
	if v := getenv("CATALOG_DSN"); v != "" {
		c.Storage.DB.DSN = v
	}
	if v := getenv("CATALOG_STAGING_DIR"); v != "" {
		c.Staging.Dir = v
	}
	if v := getenv("CATALOG_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := getenv("PUSHGATEWAY_URL"); v != "" {
		c.Metrics.PushgatewayURL = v
	}
	if v := getenv("DD_AGENT_ADDR"); v != "" {
		c.Metrics.DatadogAddr = v
	}
	c.Runtime.Workers = pickInt(envInt(getenv, "CATALOG_WORKERS"), c.Runtime.Workers)
	c.Runtime.MaxAttempts = pickInt(envInt(getenv, "CATALOG_MAX_ATTEMPTS"), c.Runtime.MaxAttempts)
}

// envInt reads an int from the environment, returning 0 when unset/invalid.
func envInt(getenv func(string) string, k string) int {
	if s := getenv(k); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return 0
}

// pickInt chooses the first positive value a, otherwise returns b.
func pickInt(a, b int) int {
	if a > 0 {
		return a
	}
	return b
}

// Duration is a time.Duration that decodes from a JSON string such as "2s"
// or from a number of nanoseconds.
type Duration time.Duration

// D returns d as a time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

// MarshalJSON encodes d in time.Duration string form.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON accepts "1500ms"-style strings or integer nanoseconds.
func (d *Duration) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" || s == "" {
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		v, err := time.ParseDuration(str)
		if err != nil {
			return fmt.Errorf("duration %q: %w", str, err)
		}
		*d = Duration(v)
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("duration %s: %w", s, err)
	}
	*d = Duration(n)
	return nil
}

// Options is a small helper to fetch typed values from arbitrary JSON maps.
// It performs minimal type coercion and returns the provided default when a
// key is absent or of an unexpected type.
type Options map[string]any

// String returns the string value for key or def.
func (o Options) String(key, def string) string {
	if v, ok := o[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}

// Bool returns the bool value for key or def.
func (o Options) Bool(key string, def bool) bool {
	if v, ok := o[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return def
}

// Rune returns the first rune of a string value for key, or def.
func (o Options) Rune(key string, def rune) rune {
	if v, ok := o[key]; ok {
		if s, ok := v.(string); ok && len(s) > 0 {
			return []rune(s)[0]
		}
	}
	return def
}

// StringMap returns a map[string]string for key when the value is an object
// whose values are strings. Non-string values are ignored.
func (o Options) StringMap(key string) map[string]string {
	res := map[string]string{}
	if v, ok := o[key]; ok {
		switch m := v.(type) {
		case map[string]any:
			for k, vv := range m {
				if s, ok := vv.(string); ok {
					res[k] = s
				}
			}
		case map[string]string:
			for k, s := range m {
				res[k] = s
			}
		}
	}
	return res
}

// UnmarshalJSON decodes a missing or null "options" object to a non-nil,
// empty Options map.
func (o *Options) UnmarshalJSON(b []byte) error {
	if len(b) == 0 || string(b) == "null" {
		*o = Options{}
		return nil
	}
	var tmp map[string]any
	if err := json.Unmarshal(b, &tmp); err != nil {
		return err
	}
	*o = Options(tmp)
	return nil
}
