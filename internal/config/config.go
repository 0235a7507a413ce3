// Package config loads the YAML configuration file and validates it
// against an embedded CUE schema that also supplies defaults.
package config

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaCUE string

// Config is the validated configuration.
type Config struct {
	Database        string    `yaml:"database"`
	Log             Log       `yaml:"log"`
	Policy          string    `yaml:"policy"`
	MaxContentBytes int       `yaml:"max_content_bytes"`
	Trace           Trace     `yaml:"trace"`
	Moderator       Moderator `yaml:"moderator"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type Trace struct {
	Enabled bool   `yaml:"enabled"`
	Output  string `yaml:"output"`
}

// Moderator identifies the acting moderator for approvals run from the CLI.
type Moderator struct {
	Name      string `yaml:"name"`
	IP        string `yaml:"ip"`
	UserAgent string `yaml:"user_agent"`
}

// SlogLevel maps the configured level name.
func (l Log) SlogLevel() slog.Level {
	switch l.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Default returns the schema defaults.
func Default() (*Config, error) {
	return Parse(nil)
}

// Load reads and validates the file at path. An empty path yields the
// defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse validates YAML data against the schema and fills defaults.
func Parse(data []byte) (*Config, error) {
	raw := map[string]any{}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
		if raw == nil {
			raw = map[string]any{}
		}
	}

	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE)
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	v := schema.LookupPath(cue.ParsePath("#Config")).Unify(ctx.Encode(raw))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	r := reader{v: v}
	cfg := &Config{
		Database:        r.str("database"),
		Log:             Log{Level: r.str("log.level"), Format: r.str("log.format")},
		Policy:          r.str("policy"),
		MaxContentBytes: int(r.int("max_content_bytes")),
		Trace:           Trace{Enabled: r.bool("trace.enabled"), Output: r.str("trace.output")},
		Moderator: Moderator{
			Name:      r.str("moderator.name"),
			IP:        r.str("moderator.ip"),
			UserAgent: r.str("moderator.user_agent"),
		},
	}
	if r.err != nil {
		return nil, r.err
	}
	return cfg, nil
}

// reader pulls concrete fields out of a validated value, keeping the
// first error.
type reader struct {
	v   cue.Value
	err error
}

func (r *reader) field(path string) cue.Value {
	f := r.v.LookupPath(cue.ParsePath(path))
	if d, ok := f.Default(); ok {
		return d
	}
	return f
}

func (r *reader) str(path string) string {
	s, err := r.field(path).String()
	if err != nil && r.err == nil {
		r.err = fmt.Errorf("field %s: %w", path, err)
	}
	return s
}

func (r *reader) int(path string) int64 {
	n, err := r.field(path).Int64()
	if err != nil && r.err == nil {
		r.err = fmt.Errorf("field %s: %w", path, err)
	}
	return n
}

func (r *reader) bool(path string) bool {
	b, err := r.field(path).Bool()
	if err != nil && r.err == nil {
		r.err = fmt.Errorf("field %s: %w", path, err)
	}
	return b
}
