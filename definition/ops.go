package definition

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/agentstation/runnable"
)

// ErrUnknownOp is returned when a lambda names an op that is not registered.
var ErrUnknownOp = errors.New("definition: unknown op")

// OpBuilder creates lambda nodes for one op.
type OpBuilder interface {
	Metadata() OpMetadata
	Build(name string, config map[string]any) (runnable.Node, error)
}

// OpMetadata describes an op and the JSON schema of its config.
type OpMetadata struct {
	Op           string         `json:"op" yaml:"op"`
	Category     string         `json:"category" yaml:"category"`
	Description  string         `json:"description" yaml:"description"`
	ConfigSchema map[string]any `json:"config_schema,omitempty" yaml:"config_schema,omitempty"`
	Examples     []OpExample    `json:"examples,omitempty" yaml:"examples,omitempty"`
}

// OpExample shows an op config with a sample input and output.
type OpExample struct {
	Name   string         `json:"name" yaml:"name"`
	Config map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
	Input  any            `json:"input,omitempty" yaml:"input,omitempty"`
	Output any            `json:"output,omitempty" yaml:"output,omitempty"`
}

// Registry holds op builders by op name.
type Registry struct {
	builders map[string]OpBuilder
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{builders: make(map[string]OpBuilder)}
}

// Register adds a builder, replacing any builder with the same op.
func (r *Registry) Register(builder OpBuilder) {
	r.builders[builder.Metadata().Op] = builder
}

// Get returns the builder for op.
func (r *Registry) Get(op string) (OpBuilder, bool) {
	b, ok := r.builders[op]
	return b, ok
}

// Ops returns the metadata of every registered op, sorted by op.
func (r *Registry) Ops() []OpMetadata {
	out := make([]OpMetadata, 0, len(r.builders))
	for _, b := range r.builders {
		out = append(out, b.Metadata())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Op < out[j].Op })
	return out
}

// Build validates config against the op's schema and builds the node.
func (r *Registry) Build(op, name string, config map[string]any) (runnable.Node, error) {
	b, ok := r.builders[op]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownOp, op)
	}

	meta := b.Metadata()
	if err := ValidateConfig(&meta, config); err != nil {
		return nil, fmt.Errorf("node %q: %w", name, err)
	}
	return b.Build(name, config)
}

// ValidateConfig checks config against the op's schema. Ops without a schema
// accept any config.
func ValidateConfig(meta *OpMetadata, config map[string]any) error {
	if len(meta.ConfigSchema) == 0 {
		return nil
	}
	if config == nil {
		config = map[string]any{}
	}

	schemaJSON, err := json.Marshal(meta.ConfigSchema)
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}
	configJSON, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(schemaJSON),
		gojsonschema.NewBytesLoader(configJSON),
	)
	if err != nil {
		return fmt.Errorf("validate config: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("%w: %s config: %s", ErrInvalidDefinition, meta.Op, strings.Join(msgs, "; "))
	}
	return nil
}

// opFunc adapts a metadata value and a build function into an OpBuilder.
type opFunc struct {
	meta  OpMetadata
	build func(name string, config map[string]any) (runnable.Node, error)
}

func (o opFunc) Metadata() OpMetadata { return o.meta }

func (o opFunc) Build(name string, config map[string]any) (runnable.Node, error) {
	return o.build(name, config)
}

// NewOp creates an OpBuilder from metadata and a build function.
func NewOp(meta OpMetadata, build func(name string, config map[string]any) (runnable.Node, error)) OpBuilder {
	return opFunc{meta: meta, build: build}
}
