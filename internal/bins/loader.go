package bins

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/KevinKickass/OpenMediaCore/internal/types"
	"gopkg.in/yaml.v3"
)

//go:embed definitions/*.yaml
var builtinDefinitions embed.FS

var definitionExtensions = []string{".yaml", ".yml", ".json"}

// DefinitionLoader resolves composite definitions by name. Files in the
// search paths take precedence over the built-in definitions.
type DefinitionLoader struct {
	cache       sync.Map
	validator   *Validator
	searchPaths []string
}

func NewDefinitionLoader(searchPaths []string) (*DefinitionLoader, error) {
	validator, err := NewValidator()
	if err != nil {
		return nil, fmt.Errorf("failed to create validator: %w", err)
	}

	return &DefinitionLoader{
		validator:   validator,
		searchPaths: searchPaths,
	}, nil
}

func (l *DefinitionLoader) Load(name string) (*types.CompositeDefinition, error) {
	if cached, ok := l.cache.Load(name); ok {
		return cached.(*types.CompositeDefinition), nil
	}

	data, source, err := l.read(name)
	if err != nil {
		return nil, err
	}

	def, err := l.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("definition %s: %w", source, err)
	}

	l.cache.Store(name, def)
	return def, nil
}

// Parse decodes a YAML or JSON definition and validates it.
func (l *DefinitionLoader) Parse(data []byte) (*types.CompositeDefinition, error) {
	var doc interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}

	// Round-trip through JSON so the schema sees plain JSON values.
	jsonData, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to convert definition: %w", err)
	}
	if err := l.validator.ValidateDocument(jsonData); err != nil {
		return nil, err
	}

	var def types.CompositeDefinition
	if err := json.Unmarshal(jsonData, &def); err != nil {
		return nil, fmt.Errorf("failed to unmarshal definition: %w", err)
	}
	if err := checkReferences(&def); err != nil {
		return nil, fmt.Errorf("invalid references: %w", err)
	}
	return &def, nil
}

func (l *DefinitionLoader) read(name string) ([]byte, string, error) {
	for _, searchPath := range l.searchPaths {
		for _, ext := range definitionExtensions {
			fullPath := filepath.Join(searchPath, name+ext)
			data, err := os.ReadFile(fullPath)
			if err == nil {
				return data, fullPath, nil
			}
		}
	}

	path := "definitions/" + name + ".yaml"
	data, err := builtinDefinitions.ReadFile(path)
	if err == nil {
		return data, "builtin:" + name, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, "", err
	}
	return nil, "", fmt.Errorf("definition not found: %s (searched in: %v and built-ins)", name, l.searchPaths)
}

// Names lists every definition the loader can resolve.
func (l *DefinitionLoader) Names() []string {
	seen := make(map[string]bool)

	entries, _ := fs.ReadDir(builtinDefinitions, "definitions")
	for _, e := range entries {
		seen[strings.TrimSuffix(e.Name(), ".yaml")] = true
	}
	for _, searchPath := range l.searchPaths {
		entries, err := os.ReadDir(searchPath)
		if err != nil {
			continue
		}
		for _, e := range entries {
			ext := filepath.Ext(e.Name())
			for _, known := range definitionExtensions {
				if ext == known && !e.IsDir() {
					seen[strings.TrimSuffix(e.Name(), ext)] = true
				}
			}
		}
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (l *DefinitionLoader) ClearCache() {
	l.cache.Range(func(key, value interface{}) bool {
		l.cache.Delete(key)
		return true
	})
}
