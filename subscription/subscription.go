// Package subscription describes which channels and namespaces a stream
// processor observes and how. A subscription is static configuration: it is
// validated eagerly at construction and never mutated on the streaming path,
// so classification and routing never encounter a partially valid setup.
package subscription

import (
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"
)

// ErrInvalid is wrapped by all configuration validation failures. Invalid
// configuration halts setup before any streaming begins; it is never
// downgraded to a runtime condition.
var ErrInvalid = errors.New("subscription: invalid configuration")

// ChannelMode selects how a channel is monitored. A given (namespace,
// channel) pair is monitored in exactly one mode at a time.
type ChannelMode string

const (
	// ModeValues monitors a channel through full snapshots of its value.
	ModeValues ChannelMode = "values"

	// ModeUpdates monitors a channel through per-node partial updates.
	ModeUpdates ChannelMode = "updates"
)

type (
	// Channel describes one monitored state slot.
	Channel struct {
		// Key is the channel name (e.g. "messages", "notes"). Required.
		Key string `yaml:"key"`
		// Mode selects snapshot or delta monitoring. When empty the
		// config-level PreferUpdates toggle decides.
		Mode ChannelMode `yaml:"mode,omitempty"`
		// Artifact, when non-empty, tags the channel as producing
		// displayable artifacts of the given kind. Changes then emit
		// Artifact events instead of generic channel events.
		Artifact string `yaml:"artifact,omitempty"`
		// Filter, when non-nil, suppresses channel observations for
		// which it returns false. It runs after the changed-value check
		// and before any event is emitted.
		Filter func(ns string, value any) bool `yaml:"-"`
	}

	// Tokens describes the token-streaming subscription: which namespaces
	// stream incremental text, and whether tool-call fragments are
	// tracked.
	Tokens struct {
		// Include lists the namespace patterns that stream tokens.
		// Patterns are exact node-type paths, trailing-wildcard
		// prefixes ("research:*"), or the "all" sentinel. Required and
		// non-empty when token streaming is enabled.
		Include []string `yaml:"include"`
		// Exclude lists namespace patterns that never stream tokens.
		// Exclusion always overrides inclusion.
		Exclude []string `yaml:"exclude,omitempty"`
		// RequireTags, when non-empty, restricts token streaming to
		// frames whose metadata tags intersect this set.
		RequireTags []string `yaml:"require_tags,omitempty"`
		// IncludeToolCalls enables reconstruction of fragmented
		// tool-call arguments from the token stream.
		IncludeToolCalls bool `yaml:"include_tool_calls,omitempty"`
	}

	// Config is the full subscription configuration handed to a processor
	// at construction.
	Config struct {
		// Channels lists the monitored channels. May be empty when only
		// token streaming is active.
		Channels []Channel `yaml:"channels,omitempty"`
		// Tokens enables token streaming when non-nil.
		Tokens *Tokens `yaml:"tokens,omitempty"`
		// PreferUpdates selects delta-mode monitoring for channels that
		// do not pin an explicit mode.
		PreferUpdates bool `yaml:"prefer_updates,omitempty"`
		// ToolSchemas maps tool names to JSON Schema documents used to
		// validate reconstructed tool-call arguments. Schemas are
		// compiled during Validate; a schema that does not compile is a
		// configuration error.
		ToolSchemas map[string]string `yaml:"tool_schemas,omitempty"`

		compiled map[string]*jsonschema.Schema
	}
)

// ParseYAML decodes and validates a YAML subscription document.
func ParseYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalid, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate eagerly checks the configuration and compiles any tool schemas.
// It resolves defaulted channel modes in place so later lookups are total.
// Validate must succeed before the configuration reaches a processor.
func (c *Config) Validate() error {
	seen := make(map[string]struct{}, len(c.Channels))
	for i := range c.Channels {
		ch := &c.Channels[i]
		if strings.TrimSpace(ch.Key) == "" {
			return fmt.Errorf("%w: channel %d: key is required", ErrInvalid, i)
		}
		if _, dup := seen[ch.Key]; dup {
			return fmt.Errorf("%w: channel %q configured twice", ErrInvalid, ch.Key)
		}
		seen[ch.Key] = struct{}{}
		switch ch.Mode {
		case ModeValues, ModeUpdates:
		case "":
			if c.PreferUpdates {
				ch.Mode = ModeUpdates
			} else {
				ch.Mode = ModeValues
			}
		default:
			return fmt.Errorf("%w: channel %q: unknown mode %q", ErrInvalid, ch.Key, ch.Mode)
		}
		if ch.Artifact != "" && strings.TrimSpace(ch.Artifact) == "" {
			return fmt.Errorf("%w: channel %q: blank artifact kind", ErrInvalid, ch.Key)
		}
		ch.Artifact = strings.TrimSpace(ch.Artifact)
	}
	if c.Tokens != nil {
		if len(c.Tokens.Include) == 0 {
			return fmt.Errorf("%w: tokens: include patterns are required", ErrInvalid)
		}
		for _, p := range append(append([]string(nil), c.Tokens.Include...), c.Tokens.Exclude...) {
			if strings.TrimSpace(p) == "" {
				return fmt.Errorf("%w: tokens: empty namespace pattern", ErrInvalid)
			}
		}
	}
	if len(c.ToolSchemas) > 0 {
		compiled := make(map[string]*jsonschema.Schema, len(c.ToolSchemas))
		for tool, doc := range c.ToolSchemas {
			if strings.TrimSpace(tool) == "" {
				return fmt.Errorf("%w: tool schema with empty tool name", ErrInvalid)
			}
			schema, err := compileSchema(tool, doc)
			if err != nil {
				return fmt.Errorf("%w: tool %q schema: %s", ErrInvalid, tool, err)
			}
			compiled[tool] = schema
		}
		c.compiled = compiled
	}
	return nil
}

// Channel returns the descriptor for the given key, or nil when the channel
// is not monitored.
func (c *Config) Channel(key string) *Channel {
	for i := range c.Channels {
		if c.Channels[i].Key == key {
			return &c.Channels[i]
		}
	}
	return nil
}

// Schema returns the compiled argument schema for a tool, or nil when none is
// configured. Only meaningful after Validate.
func (c *Config) Schema(tool string) *jsonschema.Schema {
	return c.compiled[tool]
}

func compileSchema(tool, doc string) (*jsonschema.Schema, error) {
	parsed, err := jsonschema.UnmarshalJSON(strings.NewReader(doc))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}
	name := "tool/" + tool + ".json"
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, parsed); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := compiler.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}
