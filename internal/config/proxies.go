package config

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/rennerdo30/proxyreg/internal/option"
)

// Entry is one persisted proxy option as read from the file.
type Entry struct {
	Key   string
	Value string
	Line  int
}

// ProxyEntries returns the proxy section in document order.
// A missing or empty section yields no entries.
func (c *Config) ProxyEntries() ([]Entry, error) {
	n := &c.Proxy
	if n.Kind == 0 {
		return nil, nil
	}
	if n.Kind == yaml.ScalarNode && n.Tag == "!!null" {
		return nil, nil
	}
	if n.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("proxy: line %d: expected a mapping of option keys to values", n.Line)
	}

	entries := make([]Entry, 0, len(n.Content)/2)
	for i := 0; i+1 < len(n.Content); i += 2 {
		k, v := n.Content[i], n.Content[i+1]
		if k.Kind != yaml.ScalarNode {
			return nil, fmt.Errorf("proxy: line %d: option key must be a scalar", k.Line)
		}
		if v.Kind != yaml.ScalarNode {
			return nil, fmt.Errorf("proxy: line %d: value of %q must be a scalar", v.Line, k.Value)
		}
		value := v.Value
		if v.Tag == "!!null" {
			value = ""
		}
		entries = append(entries, Entry{Key: k.Value, Value: value, Line: k.Line})
	}
	return entries, nil
}

// SetProxyOptions replaces the proxy section with opts, in order.
func (c *Config) SetProxyOptions(opts []*option.Option) {
	n := yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, opt := range opts {
		n.Content = append(n.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: opt.Key()},
			&yaml.Node{Kind: yaml.ScalarNode, Tag: valueTag(opt), Value: opt.Literal()},
		)
	}
	c.Proxy = n
}

func valueTag(opt *option.Option) string {
	spec := opt.Spec()
	if spec.Kind == option.Integer && len(spec.Values) == 0 {
		return "!!int"
	}
	return "!!str"
}
