package backend

import (
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/pithecene-io/fedsearch/types"
)

// Endpoint is the connection detail for a named target.
type Endpoint struct {
	Name string
	Kind types.TargetKind
	// Address is host:port for session targets and a base URL for HTTP targets.
	Address  string
	Database string
	User     string
	Password string
	// Timeout bounds connect and each round trip. Zero means no per-target bound.
	Timeout time.Duration
	// Options carries protocol-specific settings such as the SRU version.
	Options map[string]string
}

// Directory resolves target names to endpoints.
type Directory map[string]Endpoint

// Lookup returns the configured endpoint for spec. Unconfigured targets are
// resolved from their name: "host:port/database" for session targets and an
// absolute http(s) URL for HTTP targets.
func (d Directory) Lookup(spec types.TargetSpec) (Endpoint, error) {
	if ep, ok := d[spec.Name]; ok {
		if ep.Kind != "" && ep.Kind != spec.Kind {
			return Endpoint{}, fmt.Errorf("target %q is configured as %s, requested as %s", spec.Name, ep.Kind, spec.Kind)
		}
		ep.Name, ep.Kind = spec.Name, spec.Kind
		return ep, nil
	}
	return ParseEndpoint(spec.Name, spec.Kind)
}

// ParseEndpoint derives an endpoint from a target name.
func ParseEndpoint(name string, kind types.TargetKind) (Endpoint, error) {
	ep := Endpoint{Name: name, Kind: kind}
	switch kind {
	case types.KindSession:
		addr, db, _ := strings.Cut(name, "/")
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return Endpoint{}, fmt.Errorf("target %q: not a configured target or host:port[/database]", name)
		}
		ep.Address, ep.Database = addr, db
	case types.KindHTTP:
		u, err := url.Parse(name)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return Endpoint{}, fmt.Errorf("target %q: not a configured target or http(s) URL", name)
		}
		ep.Address = name
	default:
		return Endpoint{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return ep, nil
}
