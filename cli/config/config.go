package config

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pithecene-io/fedsearch/backend"
	"github.com/pithecene-io/fedsearch/cql"
	"github.com/pithecene-io/fedsearch/federator"
	"github.com/pithecene-io/fedsearch/session"
	"github.com/pithecene-io/fedsearch/sru"
	"github.com/pithecene-io/fedsearch/translate"
	"github.com/pithecene-io/fedsearch/types"
)

// Config represents a fedsearch.yaml configuration file.
// All values are optional; CLI flags override them.
type Config struct {
	Federation FederationConfig        `yaml:"federation"`
	Targets    map[string]TargetConfig `yaml:"targets"`
	Attributes AttributesConfig        `yaml:"attributes"`
	Log        LogConfig               `yaml:"log"`
	Notify     NotifyConfig            `yaml:"notify"`
	Archive    ArchiveConfig           `yaml:"archive"`
	Server     ServerConfig            `yaml:"server"`
}

// FederationConfig bounds dispatch.
type FederationConfig struct {
	MaxConcurrency int      `yaml:"max_concurrency"`
	Deadline       Duration `yaml:"deadline"`
	DrainGrace     Duration `yaml:"drain_grace"`
	// RejectOverlap fails overlapping session operations instead of queueing them.
	RejectOverlap bool `yaml:"reject_overlap"`
	// QuoteStyle is "backslash" (default) or "doubled".
	QuoteStyle string `yaml:"quote_style"`
}

// TargetConfig is one named target. Name is the map key.
type TargetConfig struct {
	Type string `yaml:"type"`
	// Address is host:port for session targets.
	Address string `yaml:"address"`
	// URL is the base URL for http targets.
	URL      string `yaml:"url"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`

	ResultSetName  string `yaml:"result_set_name"`
	ElementSetName string `yaml:"element_set_name"`
	RecordSyntax   string `yaml:"record_syntax"`

	Version       string            `yaml:"version"`
	RecordSchema  string            `yaml:"record_schema"`
	RecordPacking string            `yaml:"record_packing"`
	Headers       map[string]string `yaml:"headers,omitempty"`
	Retries       *int              `yaml:"retries,omitempty"`
	Timeout       Duration          `yaml:"timeout,omitempty"`
}

// AttributesConfig overrides the default attribute set. A code of 0 removes
// a mapping.
type AttributesConfig struct {
	Use       map[string]int `yaml:"use"`
	Relations map[string]int `yaml:"relations"`
}

// LogConfig holds logging defaults.
type LogConfig struct {
	Level string `yaml:"level"`
}

// NotifyConfig selects the completion notifier.
type NotifyConfig struct {
	Type    string            `yaml:"type"` // webhook or redis
	URL     string            `yaml:"url"`
	Channel string            `yaml:"channel,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty"`
	Retries *int              `yaml:"retries,omitempty"`
}

// ArchiveConfig selects the result archive.
type ArchiveConfig struct {
	Backend     string `yaml:"backend"` // fs or s3
	Path        string `yaml:"path"`
	Dataset     string `yaml:"dataset"`
	Region      string `yaml:"region"`
	Endpoint    string `yaml:"endpoint"`
	S3PathStyle bool   `yaml:"s3_path_style"`
}

// ServerConfig holds gateway defaults.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalYAML renders the duration as a string.
func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

// Validate checks target, notify and archive sections.
func (c *Config) Validate() error {
	var errs []error
	for _, name := range c.TargetNames() {
		t := c.Targets[name]
		kind, err := types.ParseTargetKind(t.Type)
		if err != nil {
			errs = append(errs, fmt.Errorf("targets.%s: %w", name, err))
			continue
		}
		switch {
		case kind == types.KindSession && t.Address == "":
			errs = append(errs, fmt.Errorf("targets.%s: session target requires address", name))
		case kind == types.KindHTTP && t.URL == "":
			errs = append(errs, fmt.Errorf("targets.%s: http target requires url", name))
		}
		if t.Retries != nil && *t.Retries < 0 {
			errs = append(errs, fmt.Errorf("targets.%s: retries must be >= 0", name))
		}
	}
	if c.Federation.MaxConcurrency < 0 {
		errs = append(errs, errors.New("federation.max_concurrency must be >= 0"))
	}
	if _, err := c.quoteStyle(); err != nil {
		errs = append(errs, err)
	}
	switch c.Notify.Type {
	case "":
	case "webhook", "redis":
		if c.Notify.URL == "" {
			errs = append(errs, fmt.Errorf("notify: %s notifier requires url", c.Notify.Type))
		}
	default:
		errs = append(errs, fmt.Errorf("notify.type %q must be webhook or redis", c.Notify.Type))
	}
	switch c.Archive.Backend {
	case "":
	case "fs", "s3":
		if c.Archive.Path == "" {
			errs = append(errs, fmt.Errorf("archive: %s backend requires path", c.Archive.Backend))
		}
	default:
		errs = append(errs, fmt.Errorf("archive.backend %q must be fs or s3", c.Archive.Backend))
	}
	return errors.Join(errs...)
}

// TargetNames returns the configured target names in sorted order.
func (c *Config) TargetNames() []string {
	names := make([]string, 0, len(c.Targets))
	for name := range c.Targets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Directory converts the targets section into a backend directory.
// Call Validate first; invalid targets are skipped.
func (c *Config) Directory() backend.Directory {
	dir := make(backend.Directory, len(c.Targets))
	for name, t := range c.Targets {
		kind, err := types.ParseTargetKind(t.Type)
		if err != nil {
			continue
		}
		ep := backend.Endpoint{
			Name:     name,
			Kind:     kind,
			Address:  t.Address,
			Database: t.Database,
			User:     t.User,
			Password: t.Password,
			Timeout:  t.Timeout.Duration,
			Options:  map[string]string{},
		}
		if kind == types.KindHTTP {
			ep.Address = t.URL
		}
		setOption(ep.Options, "version", t.Version)
		setOption(ep.Options, "record_schema", t.RecordSchema)
		setOption(ep.Options, "record_packing", t.RecordPacking)
		if t.Retries != nil {
			ep.Options["retries"] = strconv.Itoa(*t.Retries)
		}
		for k, v := range t.Headers {
			ep.Options[sru.HeaderOptionPrefix+k] = v
		}
		dir[name] = ep
	}
	return dir
}

func setOption(opts map[string]string, key, value string) {
	if value != "" {
		opts[key] = value
	}
}

// ApplyTargetDefaults fills request fields the caller left empty from the
// matching configured target: result set, element set, record syntax and
// per-target timeout.
func (c *Config) ApplyTargetDefaults(req *types.FederationRequest) {
	for i := range req.Targets {
		spec := &req.Targets[i]
		t, ok := c.Targets[spec.Name]
		if !ok {
			continue
		}
		if spec.ResultSetName == "" {
			spec.ResultSetName = t.ResultSetName
		}
		if spec.ElementSetName == "" {
			spec.ElementSetName = t.ElementSetName
		}
		if spec.RecordSyntax == "" {
			spec.RecordSyntax = t.RecordSyntax
		}
		if spec.Timeout == 0 {
			spec.Timeout = t.Timeout.Duration
		}
	}
}

// AttributeSet returns the default attribute set with configured overrides.
func (c *Config) AttributeSet() *translate.AttributeSet {
	base := translate.Bib1()
	if len(c.Attributes.Use) == 0 && len(c.Attributes.Relations) == 0 {
		return base
	}
	return base.Merge(c.Attributes.Use, c.Attributes.Relations)
}

// FederatorConfig converts the federation section.
func (c *Config) FederatorConfig() federator.Config {
	quotes, _ := c.quoteStyle()
	return federator.Config{
		MaxConcurrency: c.Federation.MaxConcurrency,
		Deadline:       c.Federation.Deadline.Duration,
		DrainGrace:     c.Federation.DrainGrace.Duration,
		Quotes:         quotes,
	}
}

// SessionOptions returns options shared by all session-protocol targets.
// Credentials come from each endpoint.
func (c *Config) SessionOptions() session.Options {
	return session.Options{RejectOverlap: c.Federation.RejectOverlap}
}

func (c *Config) quoteStyle() (cql.QuoteStyle, error) {
	switch strings.ToLower(c.Federation.QuoteStyle) {
	case "", "backslash":
		return cql.QuoteBackslash, nil
	case "doubled":
		return cql.QuoteDoubled, nil
	default:
		return cql.QuoteBackslash, fmt.Errorf("federation.quote_style %q must be backslash or doubled", c.Federation.QuoteStyle)
	}
}
