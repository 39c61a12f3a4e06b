// Package config provides configuration models and helpers for the importer.
//
// This file adds a lightweight linter/validator for Config values. It performs
// static checks over a decoded Config and returns a list of issues (errors and
// warnings) that callers can surface in a CLI or tests.
package config

import (
	"fmt"
	"regexp"
	"strings"
)

// IssueSeverity represents the severity of a configuration issue.
type IssueSeverity string

const (
	// SeverityError indicates a configuration error that should block execution.
	SeverityError IssueSeverity = "error"
	// SeverityWarning indicates a problem worth surfacing that does not block
	// execution.
	SeverityWarning IssueSeverity = "warning"
)

// Issue describes a single validation finding. Path is a dotted path into
// the config (e.g. "storage.db.dsn").
type Issue struct {
	Severity IssueSeverity
	Path     string
	Message  string
}

// Error implements the error interface.
func (i Issue) Error() string {
	return fmt.Sprintf("%s at %s: %s", i.Severity, i.Path, i.Message)
}

// HasErrors reports whether issues contains at least one SeverityError.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}

// tableName accepts plain or schema-qualified identifiers.
var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// Validate performs static validation of c. It does not mutate c.
func Validate(c Config) []Issue {
	var issues []Issue

	if strings.TrimSpace(c.Job) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "job",
			Message:  "job must not be empty; it labels metrics and log lines",
		})
	}
	issues = append(issues, validateStorage(c.Storage)...)
	issues = append(issues, validateParser(c.Parser)...)
	issues = append(issues, validateStaging(c.Staging)...)
	issues = append(issues, validateRuntime(c.Runtime)...)
	issues = append(issues, validateMetrics(c.Metrics)...)
	issues = append(issues, validateLog(c.Log)...)

	return issues
}

func validateStorage(s Storage) []Issue {
	var issues []Issue

	if strings.TrimSpace(s.Kind) == "" {
		return append(issues, Issue{
			Severity: SeverityError,
			Path:     "storage.kind",
			Message:  "storage.kind must not be empty",
		})
	}

	known := map[string]struct{}{
		"postgres": {},
		"mysql":    {},
		"mssql":    {},
		"sqlite":   {},
	}
	if _, ok := known[s.Kind]; !ok {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "storage.kind",
			Message:  fmt.Sprintf("unknown storage kind %q; ensure a matching backend is registered", s.Kind),
		})
	}

	if strings.TrimSpace(s.DB.DSN) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "storage.db.dsn",
			Message:  "storage.db.dsn must not be empty",
		})
	}
	for path, name := range map[string]string{
		"storage.db.products_table": s.DB.ProductsTable,
		"storage.db.uploads_table":  s.DB.UploadsTable,
	} {
		if !tableName.MatchString(name) {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     path,
				Message:  fmt.Sprintf("table name %q is not a valid identifier", name),
			})
		}
	}
	if s.DB.ProductsTable != "" && s.DB.ProductsTable == s.DB.UploadsTable {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "storage.db.uploads_table",
			Message:  "uploads_table must differ from products_table",
		})
	}

	return issues
}

func validateParser(p Parser) []Issue {
	var issues []Issue

	if p.Kind != "csv" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "parser.kind",
			Message:  fmt.Sprintf("unsupported parser kind %q; only delimited text (csv) is supported", p.Kind),
		})
	}

	switch comma := p.Options.Rune("comma", ','); comma {
	case '"', '\r', '\n', 0xFFFD:
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "parser.options.comma",
			Message:  fmt.Sprintf("invalid delimiter %q", comma),
		})
	}

	for alias, canonical := range p.Options.StringMap("header_map") {
		if strings.TrimSpace(alias) == "" || strings.TrimSpace(canonical) == "" {
			issues = append(issues, Issue{
				Severity: SeverityWarning,
				Path:     "parser.options.header_map",
				Message:  "header_map contains an empty alias or target; entry is ignored",
			})
		}
	}

	return issues
}

func validateStaging(s Staging) []Issue {
	var issues []Issue

	if strings.TrimSpace(s.Dir) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "staging.dir",
			Message:  "staging.dir must not be empty",
		})
	}
	if s.MaxBytes < 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "staging.max_bytes",
			Message:  "max_bytes must not be negative",
		})
	}
	for i, ext := range s.AllowedExt {
		if !strings.HasPrefix(ext, ".") {
			issues = append(issues, Issue{
				Severity: SeverityWarning,
				Path:     fmt.Sprintf("staging.allowed_ext[%d]", i),
				Message:  fmt.Sprintf("extension %q does not start with a dot and will never match", ext),
			})
		}
	}

	return issues
}

func validateRuntime(r RuntimeConfig) []Issue {
	var issues []Issue

	if r.Workers <= 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "runtime.workers",
			Message:  "workers must be positive",
		})
	}
	if r.MaxAttempts <= 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "runtime.max_attempts",
			Message:  "max_attempts must be positive",
		})
	}
	if r.RetryBackoff < 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "runtime.retry_backoff",
			Message:  "retry_backoff must not be negative",
		})
	}
	if r.PollInterval < 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "runtime.poll_interval",
			Message:  "poll_interval must not be negative",
		})
	}
	if r.MaxConsecutiveWriteFailures < 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "runtime.max_consecutive_write_failures",
			Message:  "max_consecutive_write_failures must not be negative",
		})
	}

	return issues
}

func validateMetrics(m Metrics) []Issue {
	var issues []Issue

	switch m.Backend {
	case "", "none":
	case "pushgateway":
		if strings.TrimSpace(m.PushgatewayURL) == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "metrics.pushgateway_url",
				Message:  "pushgateway backend requires pushgateway_url",
			})
		}
	case "datadog":
		if strings.TrimSpace(m.DatadogAddr) == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "metrics.datadog_addr",
				Message:  "datadog backend requires datadog_addr",
			})
		}
	default:
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "metrics.backend",
			Message:  fmt.Sprintf("unknown metrics backend %q; metrics will be disabled", m.Backend),
		})
	}

	return issues
}

func validateLog(l Log) []Issue {
	var issues []Issue

	switch strings.ToLower(l.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "log.level",
			Message:  fmt.Sprintf("unknown log level %q; info is used", l.Level),
		})
	}
	switch strings.ToLower(l.Format) {
	case "", "json", "text":
	default:
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "log.format",
			Message:  fmt.Sprintf("unknown log format %q; json is used", l.Format),
		})
	}

	return issues
}
