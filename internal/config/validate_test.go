package config

import (
	"path/filepath"
	"strings"
	"testing"
)

// hasIssue reports whether issues contains an Issue with the given severity,
// path, and a Message containing msgSubstr.
func hasIssue(t *testing.T, issues []Issue, sev IssueSeverity, path, msgSubstr string) bool {
	t.Helper()
	for _, iss := range issues {
		if iss.Severity == sev && iss.Path == path && strings.Contains(iss.Message, msgSubstr) {
			return true
		}
	}
	return false
}

func validConfig() Config {
	c := Default()
	c.Storage.DB.DSN = "file:catalog.db"
	return c
}

func TestValidate_DefaultsWithDSNAreClean(t *testing.T) {
	t.Parallel()

	if issues := Validate(validConfig()); len(issues) != 0 {
		t.Fatalf("Validate(defaults) = %+v, want no issues", issues)
	}
}

func TestValidate_MissingJob(t *testing.T) {
	t.Parallel()

	c := validConfig()
	c.Job = "  "
	issues := Validate(c)
	if !hasIssue(t, issues, SeverityError, "job", "job must not be empty") {
		t.Fatalf("expected SeverityError for job; got issues: %+v", issues)
	}
}

/*
TestValidate_Storage covers the storage section: an empty DSN is an error, an
unknown kind only warns, and table names must be identifiers.
*/
func TestValidate_Storage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
		sev    IssueSeverity
		path   string
		substr string
	}{
		{
			name:   "empty dsn",
			mutate: func(c *Config) { c.Storage.DB.DSN = "" },
			sev:    SeverityError, path: "storage.db.dsn", substr: "must not be empty",
		},
		{
			name:   "unknown kind",
			mutate: func(c *Config) { c.Storage.Kind = "oracle" },
			sev:    SeverityWarning, path: "storage.kind", substr: "unknown storage kind",
		},
		{
			name:   "empty kind",
			mutate: func(c *Config) { c.Storage.Kind = "" },
			sev:    SeverityError, path: "storage.kind", substr: "must not be empty",
		},
		{
			name:   "bad products table",
			mutate: func(c *Config) { c.Storage.DB.ProductsTable = "products; drop" },
			sev:    SeverityError, path: "storage.db.products_table", substr: "not a valid identifier",
		},
		{
			name:   "same tables",
			mutate: func(c *Config) { c.Storage.DB.UploadsTable = c.Storage.DB.ProductsTable },
			sev:    SeverityError, path: "storage.db.uploads_table", substr: "must differ",
		},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			c := validConfig()
			tc.mutate(&c)
			issues := Validate(c)
			if !hasIssue(t, issues, tc.sev, tc.path, tc.substr) {
				t.Fatalf("missing %s at %s (%q); got %+v", tc.sev, tc.path, tc.substr, issues)
			}
		})
	}
}

func TestValidate_SchemaQualifiedTableAccepted(t *testing.T) {
	t.Parallel()

	c := validConfig()
	c.Storage.Kind = "postgres"
	c.Storage.DB.ProductsTable = "catalog.products"
	if HasErrors(Validate(c)) {
		t.Fatalf("schema-qualified table rejected: %+v", Validate(c))
	}
}

func TestValidate_ParserAndRuntime(t *testing.T) {
	t.Parallel()

	c := validConfig()
	c.Parser.Kind = "xml"
	c.Parser.Options = Options{"comma": `"`}
	c.Runtime.Workers = 0
	c.Runtime.MaxAttempts = -1
	c.Runtime.MaxConsecutiveWriteFailures = -2

	issues := Validate(c)
	for _, want := range []struct {
		path, substr string
	}{
		{"parser.kind", "unsupported parser kind"},
		{"parser.options.comma", "invalid delimiter"},
		{"runtime.workers", "must be positive"},
		{"runtime.max_attempts", "must be positive"},
		{"runtime.max_consecutive_write_failures", "must not be negative"},
	} {
		if !hasIssue(t, issues, SeverityError, want.path, want.substr) {
			t.Errorf("missing error at %s; got %+v", want.path, issues)
		}
	}
}

func TestValidate_MetricsBackends(t *testing.T) {
	t.Parallel()

	c := validConfig()
	c.Metrics.Backend = "pushgateway"
	if !hasIssue(t, Validate(c), SeverityError, "metrics.pushgateway_url", "requires") {
		t.Fatalf("pushgateway without url should be an error")
	}

	c.Metrics.Backend = "datadog"
	if !hasIssue(t, Validate(c), SeverityError, "metrics.datadog_addr", "requires") {
		t.Fatalf("datadog without addr should be an error")
	}
	c.Metrics.DatadogAddr = "127.0.0.1:8125"
	if HasErrors(Validate(c)) {
		t.Fatalf("datadog with addr should validate: %+v", Validate(c))
	}

	c.Metrics.Backend = "graphite"
	if !hasIssue(t, Validate(c), SeverityWarning, "metrics.backend", "unknown metrics backend") {
		t.Fatalf("unknown backend should warn")
	}
}

func TestValidate_StagingAndLog(t *testing.T) {
	t.Parallel()

	c := validConfig()
	c.Staging.AllowedExt = []string{"csv"}
	c.Log.Level = "trace"
	c.Log.Format = "xml"

	issues := Validate(c)
	if !hasIssue(t, issues, SeverityWarning, "staging.allowed_ext[0]", "does not start with a dot") {
		t.Errorf("missing extension warning; got %+v", issues)
	}
	if !hasIssue(t, issues, SeverityWarning, "log.level", "unknown log level") {
		t.Errorf("missing log level warning; got %+v", issues)
	}
	if !hasIssue(t, issues, SeverityWarning, "log.format", "unknown log format") {
		t.Errorf("missing log format warning; got %+v", issues)
	}
	if HasErrors(issues) {
		t.Errorf("warnings only expected; got %+v", issues)
	}
}

func TestValidate_ShippedConfigs(t *testing.T) {
	paths, err := filepath.Glob(filepath.Join("..", "..", "configs", "*.json"))
	if err != nil {
		t.Fatal(err)
	}
	if len(paths) == 0 {
		t.Skip("no configs directory")
	}
	for _, p := range paths {
		c, err := Load(p)
		if err != nil {
			t.Errorf("Load(%s): %v", p, err)
			continue
		}
		for _, iss := range Validate(c) {
			t.Errorf("%s: %v", filepath.Base(p), iss)
		}
	}
}
