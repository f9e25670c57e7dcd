package config

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"
)

// ParseNode parses YAML bytes into a document node without expanding
// environment variables.
func ParseNode(data []byte) (*yaml.Node, error) {
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, fmt.Errorf("failed to parse yaml: %w", err)
	}
	return &node, nil
}

// EncodeNode encodes a node with the indentation used for config files.
func EncodeNode(node *yaml.Node) ([]byte, error) {
	var buf bytes.Buffer
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	if err := encoder.Encode(node); err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	if err := encoder.Close(); err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	return buf.Bytes(), nil
}

// ReplaceSection sets the top-level key of doc to value. Comments attached
// to the old section, and to entries of the old section that still exist
// under the same key, are carried over. A missing key is appended.
func ReplaceSection(doc *yaml.Node, key string, value *yaml.Node) error {
	root := doc
	if root.Kind == yaml.DocumentNode {
		if len(root.Content) == 0 {
			root.Content = []*yaml.Node{{Kind: yaml.MappingNode, Tag: "!!map"}}
		}
		root = root.Content[0]
	}
	if root.Kind != yaml.MappingNode {
		return fmt.Errorf("expected mapping node, got %v", root.Kind)
	}

	for i := 0; i+1 < len(root.Content); i += 2 {
		if root.Content[i].Value != key {
			continue
		}
		old := root.Content[i+1]
		value.HeadComment = old.HeadComment
		value.LineComment = old.LineComment
		value.FootComment = old.FootComment
		carryEntryComments(old, value)
		root.Content[i+1] = value
		return nil
	}

	root.Content = append(root.Content,
		&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key},
		value,
	)
	return nil
}

// carryEntryComments copies key and value comments from old mapping entries
// onto entries of next with the same key.
func carryEntryComments(old, next *yaml.Node) {
	if old.Kind != yaml.MappingNode || next.Kind != yaml.MappingNode {
		return
	}
	byKey := make(map[string][2]*yaml.Node, len(old.Content)/2)
	for i := 0; i+1 < len(old.Content); i += 2 {
		byKey[old.Content[i].Value] = [2]*yaml.Node{old.Content[i], old.Content[i+1]}
	}
	for i := 0; i+1 < len(next.Content); i += 2 {
		prev, ok := byKey[next.Content[i].Value]
		if !ok {
			continue
		}
		k, v := next.Content[i], next.Content[i+1]
		k.HeadComment, k.LineComment, k.FootComment = prev[0].HeadComment, prev[0].LineComment, prev[0].FootComment
		v.LineComment = prev[1].LineComment
		if v.Kind == yaml.ScalarNode && prev[1].Kind == yaml.ScalarNode && v.Tag == "!!str" {
			v.Style = prev[1].Style
		}
	}
}

// UpdateProxySection rewrites the proxy section of an existing config file
// image, leaving the rest of the document as written.
func (c *Config) UpdateProxySection(data []byte) ([]byte, error) {
	doc, err := ParseNode(data)
	if err != nil {
		return nil, err
	}
	if doc.Kind == 0 {
		doc = &yaml.Node{Kind: yaml.DocumentNode}
	}
	section := c.Proxy
	if section.Kind == 0 {
		section = yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	}
	if err := ReplaceSection(doc, "proxy", &section); err != nil {
		return nil, err
	}
	return EncodeNode(doc)
}
