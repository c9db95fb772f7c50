package config

import (
	"bytes"
	"fmt"
	"strings"

	yaml "go.yaml.in/yaml/v3"

	"prestic/internal/profile"
)

// document mirrors the file layout. Profiles stays a raw node so the
// declaration order of profiles and their options survives decoding; Go
// maps would destroy it.
type document struct {
	Settings Settings  `yaml:"settings"`
	Profiles yaml.Node `yaml:"profiles"`
}

// ParseBytes parses one configuration document. Unknown top-level or
// settings fields are rejected; profile options are free-form and left to
// the resolver.
func ParseBytes(data []byte) (*Config, error) {
	var doc document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	blocks, err := decodeProfiles(&doc.Profiles)
	if err != nil {
		return nil, err
	}
	return &Config{Settings: doc.Settings, Profiles: blocks}, nil
}

func decodeProfiles(node *yaml.Node) ([]profile.Block, error) {
	node = deref(node)
	if node == nil || node.Kind == 0 || node.Tag == "!!null" {
		return nil, nil
	}
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("profiles: expected a mapping, got %s", kindName(node))
	}

	var blocks []profile.Block
	for i := 0; i+1 < len(node.Content); i += 2 {
		name := node.Content[i].Value
		b, err := decodeBlock(name, deref(node.Content[i+1]))
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, b)
	}
	return blocks, nil
}

func decodeBlock(name string, node *yaml.Node) (profile.Block, error) {
	b := profile.Block{Name: name}
	if node == nil || node.Kind == 0 || node.Tag == "!!null" {
		return b, nil
	}
	if node.Kind != yaml.MappingNode {
		return b, fmt.Errorf("profile %q: expected a mapping, got %s", name, kindName(node))
	}

	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i].Value
		value := deref(node.Content[i+1])

		switch value.Kind {
		case yaml.MappingNode:
			// Nested maps spell dotted keys: env: {FOO: x} == env.FOO: x.
			for j := 0; j+1 < len(value.Content); j += 2 {
				sub := deref(value.Content[j+1])
				vals, err := optionValues(key+"."+value.Content[j].Value, sub, false)
				if err != nil {
					return b, fmt.Errorf("profile %q: %w", name, err)
				}
				b.Options = append(b.Options, profile.Option{
					Key:    key + "." + value.Content[j].Value,
					Values: vals,
				})
			}
		default:
			vals, err := optionValues(key, value, profile.ListKey(key))
			if err != nil {
				return b, fmt.Errorf("profile %q: %w", name, err)
			}
			b.Options = append(b.Options, profile.Option{Key: key, Values: vals})
		}
	}
	return b, nil
}

// optionValues turns an option value node into its string list. Scalars of
// list-typed options are word-split so `command: backup ~/docs` and
// `command: [backup, ~/docs]` mean the same thing.
func optionValues(key string, node *yaml.Node, split bool) ([]string, error) {
	switch node.Kind {
	case yaml.ScalarNode:
		if node.Tag == "!!null" {
			return nil, nil
		}
		if split {
			return splitArgs(node.Value), nil
		}
		return []string{node.Value}, nil
	case yaml.SequenceNode:
		out := make([]string, 0, len(node.Content))
		for _, item := range node.Content {
			item = deref(item)
			if item.Kind != yaml.ScalarNode {
				return nil, fmt.Errorf("option %q: list items must be scalars", key)
			}
			out = append(out, item.Value)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("option %q: unsupported value type %s", key, kindName(node))
	}
}

func deref(node *yaml.Node) *yaml.Node {
	for node != nil && node.Kind == yaml.AliasNode {
		node = node.Alias
	}
	return node
}

func kindName(node *yaml.Node) string {
	switch node.Kind {
	case yaml.DocumentNode:
		return "document"
	case yaml.SequenceNode:
		return "sequence"
	case yaml.MappingNode:
		return "mapping"
	case yaml.ScalarNode:
		return "scalar"
	default:
		return "unknown"
	}
}

// splitArgs splits a command line the way a POSIX shell tokenizes words:
// whitespace separates, single and double quotes group, backslash escapes
// the next rune outside single quotes. No expansion of any kind.
func splitArgs(s string) []string {
	var (
		out     []string
		cur     strings.Builder
		started bool
		quote   rune
		escaped bool
	)
	for _, r := range s {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case r == '\\' && quote != '\'':
			started = true
			escaped = true
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				cur.WriteRune(r)
			}
		case r == '\'' || r == '"':
			started = true
			quote = r
		case r == ' ' || r == '\t' || r == '\n':
			if started {
				out = append(out, cur.String())
				cur.Reset()
				started = false
			}
		default:
			started = true
			cur.WriteRune(r)
		}
	}
	if started {
		out = append(out, cur.String())
	}
	return out
}
