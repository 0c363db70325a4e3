package testutil

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/agentstation/runnable"
)

// Assert provides test assertions.
type Assert struct {
	t *testing.T
}

// NewAssert creates a new assert helper.
func NewAssert(t *testing.T) *Assert {
	return &Assert{t: t}
}

// Equal asserts that two values are equal.
func (a *Assert) Equal(expected, actual any, msgAndArgs ...any) {
	a.t.Helper()
	if !reflect.DeepEqual(expected, actual) {
		a.fail(fmt.Sprintf("Expected: %v (%T)\nActual: %v (%T)", expected, expected, actual, actual), msgAndArgs...)
	}
}

// Nil asserts that a value is nil.
func (a *Assert) Nil(value any, msgAndArgs ...any) {
	a.t.Helper()
	if !isNil(value) {
		a.fail(fmt.Sprintf("Expected nil, but got: %v", value), msgAndArgs...)
	}
}

// NotNil asserts that a value is not nil.
func (a *Assert) NotNil(value any, msgAndArgs ...any) {
	a.t.Helper()
	if isNil(value) {
		a.fail("Expected non-nil value, but got nil", msgAndArgs...)
	}
}

// True asserts that a value is true.
func (a *Assert) True(value bool, msgAndArgs ...any) {
	a.t.Helper()
	if !value {
		a.fail("Expected true, but got false", msgAndArgs...)
	}
}

// False asserts that a value is false.
func (a *Assert) False(value bool, msgAndArgs ...any) {
	a.t.Helper()
	if value {
		a.fail("Expected false, but got true", msgAndArgs...)
	}
}

// Error asserts that an error occurred.
func (a *Assert) Error(err error, msgAndArgs ...any) {
	a.t.Helper()
	if err == nil {
		a.fail("Expected error, but got nil", msgAndArgs...)
	}
}

// NoError asserts that no error occurred.
func (a *Assert) NoError(err error, msgAndArgs ...any) {
	a.t.Helper()
	if err != nil {
		a.fail(fmt.Sprintf("Expected no error, but got: %v", err), msgAndArgs...)
	}
}

// ErrorIs asserts that target is in err's chain.
func (a *Assert) ErrorIs(err, target error, msgAndArgs ...any) {
	a.t.Helper()
	if !errors.Is(err, target) {
		a.fail(fmt.Sprintf("Expected error chain to contain %q, but got: %v", target, err), msgAndArgs...)
	}
}

// NodeError asserts that err is a *runnable.NodeError of the given kind and
// returns it.
func (a *Assert) NodeError(err error, kind runnable.Kind, msgAndArgs ...any) *runnable.NodeError {
	a.t.Helper()
	var ne *runnable.NodeError
	if !errors.As(err, &ne) {
		a.fail(fmt.Sprintf("Expected *runnable.NodeError, but got: %T %v", err, err), msgAndArgs...)
		return nil
	}
	if ne.Kind != kind {
		a.fail(fmt.Sprintf("Expected kind %q, but got %q: %v", kind, ne.Kind, err), msgAndArgs...)
	}
	return ne
}

// Contains asserts that a string contains a substring.
func (a *Assert) Contains(s, substr string, msgAndArgs ...any) {
	a.t.Helper()
	if !strings.Contains(s, substr) {
		a.fail(fmt.Sprintf("Expected %q to contain %q", s, substr), msgAndArgs...)
	}
}

// Len asserts the length of a collection.
func (a *Assert) Len(collection any, length int, msgAndArgs ...any) {
	a.t.Helper()
	actual := getLen(collection)
	if actual != length {
		a.fail(fmt.Sprintf("Expected length %d, but got %d", length, actual), msgAndArgs...)
	}
}

// Eventually asserts that a condition becomes true within a timeout.
func (a *Assert) Eventually(condition func() bool, timeout time.Duration, msgAndArgs ...any) {
	a.t.Helper()

	deadline := time.Now().Add(timeout)
	interval := max(timeout/100, time.Millisecond)

	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(interval)
	}

	a.fail("Condition did not become true within timeout", msgAndArgs...)
}

// Panics asserts that a function panics.
func (a *Assert) Panics(fn func(), msgAndArgs ...any) {
	a.t.Helper()

	defer func() {
		if r := recover(); r == nil {
			a.fail("Expected panic, but function completed normally", msgAndArgs...)
		}
	}()

	fn()
}

// Invokes asserts that a node succeeds and returns its output.
func (a *Assert) Invokes(n runnable.Node, input any) any {
	a.t.Helper()
	out, err := n.Invoke(context.Background(), input)
	a.NoError(err, "node %q failed", n.Name())
	return out
}

// Fails asserts that a node fails and returns the error.
func (a *Assert) Fails(n runnable.Node, input any) error {
	a.t.Helper()
	_, err := n.Invoke(context.Background(), input)
	a.Error(err, "expected node %q to fail", n.Name())
	return err
}

func (a *Assert) fail(message string, msgAndArgs ...any) {
	if len(msgAndArgs) > 0 {
		if format, ok := msgAndArgs[0].(string); ok && len(msgAndArgs) > 1 {
			message = fmt.Sprintf(format, msgAndArgs[1:]...) + "\n" + message
		} else if len(msgAndArgs) == 1 {
			message = fmt.Sprintf("%v\n%s", msgAndArgs[0], message)
		}
	}
	a.t.Fatal(message)
}

func isNil(value any) bool {
	if value == nil {
		return true
	}

	v := reflect.ValueOf(value)
	switch v.Kind() {
	case reflect.Chan, reflect.Func, reflect.Interface, reflect.Map, reflect.Ptr, reflect.Slice:
		return v.IsNil()
	}

	return false
}

func getLen(value any) int {
	v := reflect.ValueOf(value)
	switch v.Kind() {
	case reflect.Array, reflect.Chan, reflect.Map, reflect.Slice, reflect.String:
		return v.Len()
	default:
		panic(fmt.Sprintf("Cannot get length of type %T", value))
	}
}
