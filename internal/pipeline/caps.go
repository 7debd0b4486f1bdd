package pipeline

import (
	"sort"
	"strings"
)

// Caps describes the data format carried by a port, e.g.
// "video/x-raw,width=640,height=480". The first comma separated token is the
// media type, the rest are key=value fields.
type Caps string

const CapsAny Caps = "ANY"

func (c Caps) IsAny() bool {
	s := strings.TrimSpace(string(c))
	return s == "" || strings.EqualFold(s, string(CapsAny))
}

func (c Caps) MediaType() string {
	if c.IsAny() {
		return ""
	}
	head, _, _ := strings.Cut(string(c), ",")
	return strings.TrimSpace(head)
}

func (c Caps) Fields() map[string]string {
	fields := make(map[string]string)
	if c.IsAny() {
		return fields
	}
	parts := strings.Split(string(c), ",")
	for _, part := range parts[1:] {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || key == "" {
			continue
		}
		fields[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return fields
}

// CanIntersect reports whether data described by c can flow into a port
// described by other. ANY matches everything; otherwise media types must be
// equal and fields present on both sides must agree.
func (c Caps) CanIntersect(other Caps) bool {
	if c.IsAny() || other.IsAny() {
		return true
	}
	if c.MediaType() != other.MediaType() {
		return false
	}
	theirs := other.Fields()
	for key, value := range c.Fields() {
		if v, ok := theirs[key]; ok && v != value {
			return false
		}
	}
	return true
}

// Intersect returns the most specific caps accepted by both sides, or an
// empty string when they do not intersect.
func (c Caps) Intersect(other Caps) Caps {
	if !c.CanIntersect(other) {
		return ""
	}
	if c.IsAny() {
		return other
	}
	if other.IsAny() {
		return c
	}

	merged := c.Fields()
	for key, value := range other.Fields() {
		merged[key] = value
	}
	keys := make([]string, 0, len(merged))
	for key := range merged {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(c.MediaType())
	for _, key := range keys {
		b.WriteString(",")
		b.WriteString(key)
		b.WriteString("=")
		b.WriteString(merged[key])
	}
	return Caps(b.String())
}

func (c Caps) String() string {
	if c.IsAny() {
		return string(CapsAny)
	}
	return string(c)
}
