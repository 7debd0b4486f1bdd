package pipeline

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

type PropertyKind string

const (
	PropertyInt    PropertyKind = "int"
	PropertyString PropertyKind = "string"
	PropertyBool   PropertyKind = "bool"
)

// PropertySpec declares a typed node property. Min and Max bound integer
// properties when either is non-zero.
type PropertySpec struct {
	Name        string       `json:"name"`
	Kind        PropertyKind `json:"kind"`
	Default     any          `json:"default"`
	Min         int64        `json:"min,omitempty"`
	Max         int64        `json:"max,omitempty"`
	Description string       `json:"description,omitempty"`
}

// PropertyChangeFunc runs after validation and before the value is stored.
// Returning an error rejects the new value.
type PropertyChangeFunc func(value any) error

type property struct {
	spec     PropertySpec
	value    any
	onChange PropertyChangeFunc
}

// Coerce converts value into the canonical Go type for the property kind
// and enforces the declared range.
func (s PropertySpec) Coerce(value any) (any, error) {
	switch s.Kind {
	case PropertyInt:
		n, err := toInt64(value)
		if err != nil {
			return nil, fmt.Errorf("%w: %s expects int: %v", ErrPropertyType, s.Name, err)
		}
		if (s.Min != 0 || s.Max != 0) && (n < s.Min || n > s.Max) {
			return nil, fmt.Errorf("%w: %s=%d not in [%d, %d]", ErrPropertyRange, s.Name, n, s.Min, s.Max)
		}
		return int(n), nil

	case PropertyString:
		str, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("%w: %s expects string, got %T", ErrPropertyType, s.Name, value)
		}
		return str, nil

	case PropertyBool:
		switch v := value.(type) {
		case bool:
			return v, nil
		case string:
			b, err := strconv.ParseBool(v)
			if err != nil {
				return nil, fmt.Errorf("%w: %s expects bool: %v", ErrPropertyType, s.Name, err)
			}
			return b, nil
		default:
			return nil, fmt.Errorf("%w: %s expects bool, got %T", ErrPropertyType, s.Name, value)
		}

	default:
		return nil, fmt.Errorf("%w: %s has unknown kind %q", ErrPropertyType, s.Name, s.Kind)
	}
}

func toInt64(value any) (int64, error) {
	switch v := value.(type) {
	case int:
		return int64(v), nil
	case int8:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case uint:
		return toInt64(uint64(v))
	case uint8:
		return int64(v), nil
	case uint16:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case uint64:
		if v > math.MaxInt64 {
			return 0, fmt.Errorf("%d overflows int64", v)
		}
		return int64(v), nil
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("%v is not integral", v)
		}
		// float64(math.MaxInt64) rounds up to 2^63, which is out of range.
		if v < math.MinInt64 || v >= math.MaxInt64 {
			return 0, fmt.Errorf("%v overflows int64", v)
		}
		return int64(v), nil
	case float32:
		return toInt64(float64(v))
	case string:
		return strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	default:
		return 0, fmt.Errorf("unsupported type %T", value)
	}
}

// InstallProperty declares a property. Declaring the same name twice or a
// default that does not satisfy its PropertySpec is a programming error and panics.
func (e *Element) InstallProperty(spec PropertySpec, onChange PropertyChangeFunc) {
	value, err := spec.Coerce(spec.Default)
	if err != nil {
		panic(fmt.Sprintf("pipeline: invalid default for %s.%s: %v", e.name, spec.Name, err))
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.props[spec.Name]; exists {
		panic(fmt.Sprintf("pipeline: property %s.%s installed twice", e.name, spec.Name))
	}
	e.props[spec.Name] = &property{spec: spec, value: value, onChange: onChange}
	e.propOrder = append(e.propOrder, spec.Name)
}

func (e *Element) Property(name string) (any, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	prop, ok := e.props[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownProperty, e.name, name)
	}
	return prop.value, nil
}

func (e *Element) SetProperty(name string, value any) error {
	e.mu.RLock()
	prop, ok := e.props[name]
	e.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s.%s", ErrUnknownProperty, e.name, name)
	}

	v, err := prop.spec.Coerce(value)
	if err != nil {
		return err
	}
	if prop.onChange != nil {
		if err := prop.onChange(v); err != nil {
			return fmt.Errorf("set %s.%s: %w", e.name, name, err)
		}
	}

	e.mu.Lock()
	prop.value = v
	e.mu.Unlock()
	return nil
}

func (e *Element) PropertySpecs() []PropertySpec {
	e.mu.RLock()
	defer e.mu.RUnlock()

	specs := make([]PropertySpec, 0, len(e.propOrder))
	for _, name := range e.propOrder {
		specs = append(specs, e.props[name].spec)
	}
	return specs
}

// IntProperty returns an int property or 0 when it is not declared.
func (e *Element) IntProperty(name string) int {
	v, err := e.Property(name)
	if err != nil {
		return 0
	}
	n, _ := v.(int)
	return n
}

func (e *Element) StringProperty(name string) string {
	v, err := e.Property(name)
	if err != nil {
		return ""
	}
	s, _ := v.(string)
	return s
}

func (e *Element) BoolProperty(name string) bool {
	v, err := e.Property(name)
	if err != nil {
		return false
	}
	b, _ := v.(bool)
	return b
}
