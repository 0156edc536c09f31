package rush

import (
	"fmt"
	"regexp"

	"github.com/davecgh/go-spew/spew"
)

// Config is a declarative description of a desired app network: a
// set of named, configured apps and the directed links between their
// ports. Configs are plain values; callers typically Clone a config,
// mutate the copy and re-apply it with Configure.
type Config struct {
	apps  map[string]AppConfig
	links []string
}

// NewConfig returns an empty configuration.
func NewConfig() *Config {
	return &Config{apps: make(map[string]AppConfig)}
}

// SetApp binds name to an app configuration, replacing any previous
// binding for that name.
func (c *Config) SetApp(name string, conf AppConfig) {
	c.apps[name] = conf
}

// AddLink adds a link specification of the form
//
//	"<app>.<port> -> <app>.<port>"
//
// to the configuration. Whitespace around tokens is ignored by the
// parser, but the literal spec string is the link's identity: two
// differently spelled specs denoting the same edge are different
// links, so callers must canonicalize their spelling. Adding the
// same spec twice is a no-op; a malformed spec is a fatal error.
//
// The order in which link specs are added is significant for graphs
// with cycles: earlier-added edges win when the breathe schedule has
// to break a cycle.
func (c *Config) AddLink(spec string) {
	if _, err := parseLink(spec); err != nil {
		panic(err.Error())
	}
	for _, have := range c.links {
		if have == spec {
			return
		}
	}
	c.links = append(c.links, spec)
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	nc := NewConfig()
	for name, conf := range c.apps {
		nc.apps[name] = conf
	}
	nc.links = append(nc.links, c.links...)
	return nc
}

func (c *Config) hasLink(spec string) bool {
	for _, have := range c.links {
		if have == spec {
			return true
		}
	}
	return false
}

// linkSpec is the grammar for link specifications. Whitespace is
// permitted around every token.
var linkSpec = regexp.MustCompile(
	`^\s*([A-Za-z_][A-Za-z0-9_]*)\s*\.\s*([A-Za-z_][A-Za-z0-9_]*)` +
		`\s*->\s*([A-Za-z_][A-Za-z0-9_]*)\s*\.\s*([A-Za-z_][A-Za-z0-9_]*)\s*$`)

// linkParts is a parsed link specification.
type linkParts struct {
	from, output string
	to, input    string
}

func parseLink(spec string) (linkParts, error) {
	m := linkSpec.FindStringSubmatch(spec)
	if m == nil {
		return linkParts{}, fmt.Errorf("invalid link spec: %q", spec)
	}
	return linkParts{from: m[1], output: m[2], to: m[3], input: m[4]}, nil
}

func mustParseLink(spec string) linkParts {
	parts, err := parseLink(spec)
	if err != nil {
		panic(err.Error())
	}
	return parts
}

// identityState renders app configurations into canonical strings:
// type name plus fields, with map keys sorted and pointer addresses
// elided,
// so that two configurations compare equal exactly when their type
// and parameters are equal.
var identityState = &spew.ConfigState{
	Indent:                  " ",
	SortKeys:                true,
	DisablePointerAddresses: true,
	DisableCapacities:       true,
}

// identity returns the canonical key of an app configuration. Graph
// migration reuses a live app instance only when both its name and
// this key are unchanged.
func identity(conf AppConfig) string {
	return identityState.Sdump(conf)
}
