package bins

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/KevinKickass/OpenMediaCore/internal/types"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.uber.org/multierr"
)

//go:embed schema/composite-v1.json
var compositeSchemaJSON string

type Validator struct {
	schema *jsonschema.Schema
}

func NewValidator() (*Validator, error) {
	compiler := jsonschema.NewCompiler()

	if err := compiler.AddResource("composite-v1.json",
		strings.NewReader(compositeSchemaJSON)); err != nil {
		return nil, fmt.Errorf("failed to add schema resource: %w", err)
	}

	schema, err := compiler.Compile("composite-v1.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}

	return &Validator{schema: schema}, nil
}

// ValidateDocument checks JSON-encoded data against the composite schema.
func (v *Validator) ValidateDocument(data []byte) error {
	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}

	if err := v.schema.Validate(doc); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}

	return nil
}

// ValidateDefinition checks a decoded definition against the schema and
// verifies that every reference names a declared node.
func (v *Validator) ValidateDefinition(def *types.CompositeDefinition) error {
	data, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("failed to marshal definition: %w", err)
	}
	if err := v.ValidateDocument(data); err != nil {
		return err
	}
	return checkReferences(def)
}

func checkReferences(def *types.CompositeDefinition) error {
	var errs error
	nodes := make(map[string]bool, len(def.Nodes))
	for _, n := range def.Nodes {
		if nodes[n.Name] {
			errs = multierr.Append(errs, fmt.Errorf("duplicate node %q", n.Name))
		}
		nodes[n.Name] = true
	}

	node := func(where, name string) {
		if !nodes[name] {
			errs = multierr.Append(errs, fmt.Errorf("%s: unknown node %q", where, name))
		}
	}
	ref := func(where, r string) {
		n, _, err := types.SplitRef(r)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", where, err))
			return
		}
		node(where, n)
	}

	for i, chain := range def.Chains {
		for _, name := range chain {
			node(fmt.Sprintf("chain %d", i), name)
		}
	}
	for _, l := range def.Links {
		ref("link", l.From)
		ref("link", l.To)
	}

	proxies := make(map[string]bool, len(def.Proxies))
	for _, p := range def.Proxies {
		if proxies[p.Name] {
			errs = multierr.Append(errs, fmt.Errorf("duplicate proxy %q", p.Name))
		}
		proxies[p.Name] = true
		ref("proxy "+p.Name, p.Target)
	}

	bridgeProperty := ""
	if def.Bridge != nil {
		bridgeProperty = def.Bridge.Property
		node("bridge", def.Bridge.Source)
	}

	props := make(map[string]types.PropertyDefinition, len(def.Properties))
	for _, p := range def.Properties {
		if _, dup := props[p.Name]; dup {
			errs = multierr.Append(errs, fmt.Errorf("duplicate property %q", p.Name))
		}
		props[p.Name] = p
		switch {
		case p.Target != "":
			ref("property "+p.Name, p.Target)
		case p.Name != bridgeProperty:
			errs = multierr.Append(errs, fmt.Errorf("property %q has no target", p.Name))
		}
	}
	if bridgeProperty != "" {
		if p, ok := props[bridgeProperty]; !ok || p.Kind != "string" {
			errs = multierr.Append(errs, fmt.Errorf("bridge property %q must be a declared string property", bridgeProperty))
		}
	}

	if def.Routing != nil {
		node("routing", def.Routing.Demuxer)
		seen := make(map[string]bool)
		for _, r := range def.Routing.Routes {
			if seen[r.Category] {
				errs = multierr.Append(errs, fmt.Errorf("routing: duplicate category %q", r.Category))
			}
			seen[r.Category] = true
			node("route "+r.Category, r.Queue)
			node("route "+r.Category, r.Target)
		}
	}

	for _, name := range def.Handoff {
		node("handoff", name)
	}
	return errs
}
