// Package definition builds runnable node trees from YAML documents.
//
// A document names a root node. Composite nodes nest their children:
//
//	name: pipeline
//	node:
//	  type: sequence
//	  steps:
//	    - type: lambda
//	      op: add
//	      config: {value: 1}
//	    - type: parallel
//	      branches:
//	        doubled: {type: lambda, op: multiply, config: {factor: 2}}
//	        squared: {type: lambda, op: power, config: {exponent: 2}}
package definition

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"
)

// Node types.
const (
	TypeLambda      = "lambda"
	TypeSequence    = "sequence"
	TypeParallel    = "parallel"
	TypeBranch      = "branch"
	TypeRetry       = "retry"
	TypeEach        = "each"
	TypeFallback    = "fallback"
	TypePassthrough = "passthrough"
)

// Predicate languages for branch cases.
const (
	LangLua = "lua"
	LangJS  = "js"
)

// ErrInvalidDefinition is returned for a document that fails validation.
var ErrInvalidDefinition = errors.New("definition: invalid")

// Definition is a parsed document.
type Definition struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description,omitempty"`
	Version     string         `yaml:"version,omitempty"`
	Metadata    map[string]any `yaml:"metadata,omitempty"`
	Node        *NodeDef       `yaml:"node"`
}

// NodeDef describes one node and, for composites, its children.
type NodeDef struct {
	Type        string         `yaml:"type"`
	Name        string         `yaml:"name,omitempty"`
	Description string         `yaml:"description,omitempty"`
	Timeout     string         `yaml:"timeout,omitempty"`
	Concurrency int            `yaml:"concurrency,omitempty"`

	// lambda
	Op     string         `yaml:"op,omitempty"`
	Config map[string]any `yaml:"config,omitempty"`

	// sequence
	Steps []*NodeDef `yaml:"steps,omitempty"`

	// parallel
	Branches map[string]*NodeDef `yaml:"branches,omitempty"`

	// branch
	Cases   []*CaseDef `yaml:"cases,omitempty"`
	Default *NodeDef   `yaml:"default,omitempty"`

	// retry, each, and the primary of fallback
	Node  *NodeDef  `yaml:"node,omitempty"`
	Retry *RetryDef `yaml:"retry,omitempty"`

	// fallback
	Alternatives []*NodeDef `yaml:"alternatives,omitempty"`
}

// CaseDef is one branch case. When is a boolean expression over input.
type CaseDef struct {
	When string   `yaml:"when"`
	Lang string   `yaml:"lang,omitempty"`
	Node *NodeDef `yaml:"node"`
}

// RetryDef configures a retry node. Unset fields keep the node defaults.
type RetryDef struct {
	MaxAttempts int     `yaml:"max_attempts,omitempty"`
	Delay       string  `yaml:"delay,omitempty"`
	Multiplier  float64 `yaml:"multiplier,omitempty"`
	MaxDelay    string  `yaml:"max_delay,omitempty"`
	Jitter      *bool   `yaml:"jitter,omitempty"`

	// RetryOn lists the failure kinds worth retrying, e.g. "invocation failed".
	// Empty retries every failure except context cancellation.
	RetryOn []string `yaml:"retry_on,omitempty"`
}

// Parse decodes a YAML document. Unknown fields are rejected.
func Parse(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.UnmarshalWithOptions(data, &def, yaml.Strict()); err != nil {
		return nil, fmt.Errorf("parse definition: %w", err)
	}
	return &def, nil
}

// ParseFile reads and decodes a YAML document.
func ParseFile(path string) (*Definition, error) {
	data, err := os.ReadFile(path) //nolint:gosec // caller chooses the definition file
	if err != nil {
		return nil, fmt.Errorf("read definition: %w", err)
	}
	return Parse(data)
}

// Marshal encodes a definition as YAML.
func Marshal(def *Definition) ([]byte, error) {
	return yaml.Marshal(def)
}

// Validate checks the structure of the whole tree. Op configs are checked
// against their schemas when the tree is built.
func (d *Definition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidDefinition)
	}
	if d.Node == nil {
		return fmt.Errorf("%w: node is required", ErrInvalidDefinition)
	}
	return d.Node.validate("node")
}

func (n *NodeDef) validate(path string) error {
	if n == nil {
		return invalid(path, "node is empty")
	}
	if n.Timeout != "" {
		if _, err := time.ParseDuration(n.Timeout); err != nil {
			return invalid(path, "invalid timeout: %v", err)
		}
	}
	if n.Concurrency < 0 {
		return invalid(path, "concurrency cannot be negative")
	}

	switch n.Type {
	case TypeLambda:
		if n.Op == "" {
			return invalid(path, "lambda requires op")
		}

	case TypePassthrough:

	case TypeSequence:
		if len(n.Steps) == 0 {
			return invalid(path, "sequence requires at least one step")
		}
		for i, step := range n.Steps {
			if err := step.validate(fmt.Sprintf("%s.steps[%d]", path, i)); err != nil {
				return err
			}
		}

	case TypeParallel:
		if len(n.Branches) == 0 {
			return invalid(path, "parallel requires at least one branch")
		}
		for key, b := range n.Branches {
			if err := b.validate(path + ".branches." + key); err != nil {
				return err
			}
		}

	case TypeBranch:
		if n.Default == nil {
			return invalid(path, "branch requires a default")
		}
		for i, c := range n.Cases {
			casePath := fmt.Sprintf("%s.cases[%d]", path, i)
			if c == nil || c.When == "" {
				return invalid(casePath, "case requires when")
			}
			if c.Lang != "" && c.Lang != LangLua && c.Lang != LangJS {
				return invalid(casePath, "unknown lang %q", c.Lang)
			}
			if err := c.Node.validate(casePath + ".node"); err != nil {
				return err
			}
		}
		if err := n.Default.validate(path + ".default"); err != nil {
			return err
		}

	case TypeRetry:
		if n.Retry != nil {
			if err := n.Retry.validate(path + ".retry"); err != nil {
				return err
			}
		}
		return n.Node.validate(path + ".node")

	case TypeEach:
		return n.Node.validate(path + ".node")

	case TypeFallback:
		if len(n.Alternatives) == 0 {
			return invalid(path, "fallback requires at least one alternative")
		}
		if err := n.Node.validate(path + ".node"); err != nil {
			return err
		}
		for i, alt := range n.Alternatives {
			if err := alt.validate(fmt.Sprintf("%s.alternatives[%d]", path, i)); err != nil {
				return err
			}
		}

	case "":
		return invalid(path, "type is required")

	default:
		return invalid(path, "unknown type %q", n.Type)
	}
	return nil
}

func (r *RetryDef) validate(path string) error {
	if r.MaxAttempts < 0 {
		return invalid(path, "max_attempts cannot be negative")
	}
	if r.Multiplier < 0 {
		return invalid(path, "multiplier cannot be negative")
	}
	for field, value := range map[string]string{"delay": r.Delay, "max_delay": r.MaxDelay} {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			return invalid(path, "invalid %s: %v", field, err)
		}
	}
	return nil
}

func invalid(path, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrInvalidDefinition, path, fmt.Sprintf(format, args...))
}
