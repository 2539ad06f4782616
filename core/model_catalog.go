package core

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ModelEntry is one selectable backend model.
type ModelEntry struct {
	ID    string `yaml:"id"`
	Label string `yaml:"label"`
	// VRAMGB is the advisory footprint shown next to the model.
	VRAMGB float64 `yaml:"vram_gb,omitempty"`
}

// ModelCatalog lists the models the picker offers, in display order.
type ModelCatalog struct {
	Models []ModelEntry `yaml:"models"`
}

// DefaultModelCatalog matches the two pipelines the backend ships with.
func DefaultModelCatalog() *ModelCatalog {
	return &ModelCatalog{Models: []ModelEntry{
		{ID: "flux", Label: "FLUX.2 Klein", VRAMGB: 8},
		{ID: "qwen", Label: "Qwen Layered", VRAMGB: 12},
	}}
}

// LoadModelCatalog reads a YAML catalog. An empty path yields the default catalog.
//
// Example file:
//
//	models:
//	  - id: flux
//	    label: FLUX.2 Klein
//	    vram_gb: 8
func LoadModelCatalog(path string) (*ModelCatalog, error) {
	if path == "" {
		return DefaultModelCatalog(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model catalog: %w", err)
	}
	return ParseModelCatalog(path, data)
}

// ParseModelCatalog decodes and validates catalog YAML. name is used in errors only.
func ParseModelCatalog(name string, data []byte) (*ModelCatalog, error) {
	var cat ModelCatalog
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return nil, ErrCatalogInvalid(name, err.Error())
	}
	if len(cat.Models) == 0 {
		return nil, ErrCatalogInvalid(name, "no models listed")
	}
	seen := make(map[string]bool, len(cat.Models))
	for i := range cat.Models {
		m := &cat.Models[i]
		m.ID = strings.TrimSpace(m.ID)
		if m.ID == "" {
			return nil, ErrCatalogInvalid(name, fmt.Sprintf("entry %d has no id", i))
		}
		if seen[m.ID] {
			return nil, ErrCatalogInvalid(name, fmt.Sprintf("duplicate id %q", m.ID))
		}
		seen[m.ID] = true
		if m.Label == "" {
			m.Label = strings.ToUpper(m.ID)
		}
	}
	return &cat, nil
}

// Lookup returns the entry for id.
func (c *ModelCatalog) Lookup(id string) (ModelEntry, bool) {
	for _, m := range c.Models {
		if m.ID == id {
			return m, true
		}
	}
	return ModelEntry{}, false
}

// Label returns the display label for id, or "MODEL" when nothing is loaded.
func (c *ModelCatalog) Label(id string) string {
	if id == "" {
		return "MODEL"
	}
	if m, ok := c.Lookup(id); ok {
		return m.Label
	}
	return strings.ToUpper(id)
}
