package runnable

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a node failure.
type Kind string

// Failure kinds.
const (
	// InvocationFailed marks a failure raised by a wrapped function.
	InvocationFailed Kind = "invocation failed"

	// PredicateFailed marks a branch predicate that returned an error.
	PredicateFailed Kind = "predicate failed"

	// RetriesExhausted matches, through errors.Is, a retry node that used
	// every attempt. The NodeError it returns keeps the last failure's Kind.
	RetriesExhausted Kind = "retries exhausted"

	// AggregateFailure marks a parallel node with one or more failing children.
	AggregateFailure Kind = "aggregate failure"
)

// Error implements error so a Kind can be used as an errors.Is target.
func (k Kind) Error() string {
	return string(k)
}

// NodeError is the failure type returned by every node in this package.
type NodeError struct {
	// Kind classifies the failure.
	Kind Kind

	// Node is the name of the node reporting the failure.
	Node string

	// Index is the position of the failing child, or -1.
	Index int

	// Key is the name of the failing child in a parallel node.
	Key string

	// Attempt is the number of attempts made by a retry node.
	Attempt int

	// Cause is the underlying failure.
	Cause error

	exhausted bool
}

func newError(kind Kind, node string, cause error) *NodeError {
	return &NodeError{Kind: kind, Node: node, Index: -1, Cause: cause}
}

// Error formats the failure with its positional context.
func (e *NodeError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %q", e.Kind, e.Node)
	if e.Index >= 0 {
		fmt.Fprintf(&b, " at index %d", e.Index)
	}
	if e.Key != "" {
		fmt.Fprintf(&b, " at key %q", e.Key)
	}
	if e.Attempt > 0 {
		fmt.Fprintf(&b, " after %d attempts", e.Attempt)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *NodeError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is this error's Kind, or RetriesExhausted when
// the error ends a retry node's attempt budget.
func (e *NodeError) Is(target error) bool {
	k, ok := target.(Kind)
	if !ok {
		return false
	}
	return k == e.Kind || (k == RetriesExhausted && e.exhausted)
}

// KindOf returns the kind of the outermost NodeError in err's chain.
func KindOf(err error) (Kind, bool) {
	var ne *NodeError
	if errors.As(err, &ne) {
		return ne.Kind, true
	}
	return "", false
}

// wrap attaches positional context to a child failure while keeping its kind.
// Failures that are not NodeErrors are classified as InvocationFailed.
func wrap(node string, index int, err error) *NodeError {
	kind, ok := KindOf(err)
	if !ok {
		kind = InvocationFailed
	}
	ne := newError(kind, node, err)
	ne.Index = index
	return ne
}
