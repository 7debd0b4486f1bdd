package pipeline

import (
	"errors"
	"fmt"
)

var (
	// Flow errors returned by Port.Push
	ErrNotLinked = errors.New("port not linked")
	ErrFlushing  = errors.New("port is flushing")
	ErrEOS       = errors.New("end of stream")
	ErrNoHandler = errors.New("port has no chain handler")

	// Graph errors
	ErrAlreadyLinked     = errors.New("port already linked")
	ErrCapsIncompatible  = errors.New("caps not compatible")
	ErrWrongDirection    = errors.New("port direction mismatch")
	ErrPortNotFound      = errors.New("port not found")
	ErrDuplicatePort     = errors.New("port name already in use")
	ErrNodeNotFound      = errors.New("node not found")
	ErrDuplicateNode     = errors.New("node name already in use")
	ErrAlreadyParented   = errors.New("node already belongs to a bin")
	ErrNotRequestable    = errors.New("node does not provide request ports")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrUnknownNodeType   = errors.New("unknown node type")
	ErrNodeCreation      = errors.New("node creation failed")
	ErrUnknownProperty   = errors.New("unknown property")
	ErrPropertyType      = errors.New("property value has wrong type")
	ErrPropertyRange     = errors.New("property value out of range")
	ErrInvalidTemplate   = errors.New("invalid port template")
	ErrProxyUnbound      = errors.New("proxy port has no target")
	ErrProxyAlreadyBound = errors.New("proxy port already bound")
	ErrProxyNotAdded     = errors.New("proxy port not added to a bin")
)

// ErrorClass identifies which construction phase failed. The numeric value
// doubles as the process exit code used by the server binary.
type ErrorClass int

const (
	ClassCreation ErrorClass = iota + 1
	ClassLink
	ClassPadLink
	ClassProxyCreate
	ClassPortLookup
	ClassProxyBind
)

func (c ErrorClass) String() string {
	switch c {
	case ClassCreation:
		return "creation"
	case ClassLink:
		return "link"
	case ClassPadLink:
		return "pad-link"
	case ClassProxyCreate:
		return "proxy-create"
	case ClassPortLookup:
		return "port-lookup"
	case ClassProxyBind:
		return "proxy-bind"
	default:
		return "unknown"
	}
}

// ConstructionError is an unrecoverable failure while assembling a composite
// or while routing one of its dynamic ports.
type ConstructionError struct {
	Class     ErrorClass
	Composite string
	Op        string
	Err       error
}

func NewConstructionError(class ErrorClass, composite, op string, err error) *ConstructionError {
	return &ConstructionError{Class: class, Composite: composite, Op: op, Err: err}
}

func (e *ConstructionError) Error() string {
	return fmt.Sprintf("%s: %s (%s): %v", e.Composite, e.Op, e.Class, e.Err)
}

func (e *ConstructionError) Unwrap() error {
	return e.Err
}

func (e *ConstructionError) ExitCode() int {
	return int(e.Class)
}

// AsConstructionError extracts a ConstructionError from an error chain.
func AsConstructionError(err error) (*ConstructionError, bool) {
	var ce *ConstructionError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// LinkError reports a failed link between two ports.
type LinkError struct {
	Src string
	Dst string
	Err error
}

func (e *LinkError) Error() string {
	return fmt.Sprintf("link %s -> %s: %v", e.Src, e.Dst, e.Err)
}

func (e *LinkError) Unwrap() error {
	return e.Err
}
