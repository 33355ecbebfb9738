// Package schema loads declarative YAML cube definitions into cube configs.
package schema

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/l7mp/dcube/pkg/aggregate"
	"github.com/l7mp/dcube/pkg/cube"
	"github.com/l7mp/dcube/pkg/field"
)

// FieldSpec is the YAML declaration of one cube field.
type FieldSpec struct {
	Name            string `yaml:"name"`
	Type            string `yaml:"type,omitempty"`
	DisplayName     string `yaml:"displayName,omitempty"`
	Default         any    `yaml:"default,omitempty"`
	Aggregator      string `yaml:"aggregator,omitempty"`
	Dimension       bool   `yaml:"dimension,omitempty"`
	LeafDimension   bool   `yaml:"leafDimension,omitempty"`
	ParentDimension string `yaml:"parentDimension,omitempty"`
}

// Spec is the YAML declaration of a cube.
type Spec struct {
	Name   string         `yaml:"name,omitempty"`
	IDSpec string         `yaml:"idSpec,omitempty"`
	Fields []FieldSpec    `yaml:"fields"`
	Info   map[string]any `yaml:"info,omitempty"`
}

// Load parses a YAML cube declaration into a cube config. Unknown YAML keys, unknown field types
// and unknown aggregator tokens are errors.
func Load(r io.Reader) (cube.Config, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var spec Spec
	if err := dec.Decode(&spec); err != nil {
		return cube.Config{}, fmt.Errorf("failed to parse cube schema: %w", err)
	}
	if len(spec.Fields) == 0 {
		return cube.Config{}, fmt.Errorf("cube schema declares no fields")
	}

	cfg := cube.Config{Info: spec.Info}
	if spec.IDSpec != "" {
		cfg.IDSpec = spec.IDSpec
	}
	if spec.Name != "" {
		if cfg.Info == nil {
			cfg.Info = map[string]any{}
		}
		cfg.Info["name"] = spec.Name
	}

	for _, fs := range spec.Fields {
		if fs.Name == "" {
			return cube.Config{}, fmt.Errorf("cube schema field without a name")
		}
		ft := field.Type(fs.Type)
		if fs.Type != "" && !ft.Valid() {
			return cube.Config{}, fmt.Errorf("field %q: unknown type %q", fs.Name, fs.Type)
		}
		if fs.Aggregator != "" {
			if _, err := aggregate.ForToken(fs.Aggregator); err != nil {
				return cube.Config{}, fmt.Errorf("field %q: %w", fs.Name, err)
			}
		}
		cfg.Fields = append(cfg.Fields, field.CubeConfig{
			Config: field.Config{
				Name:         fs.Name,
				Type:         ft,
				DisplayName:  fs.DisplayName,
				DefaultValue: fs.Default,
			},
			IsDimension:     fs.Dimension,
			Aggregator:      fs.Aggregator,
			IsLeafDimension: fs.LeafDimension,
			ParentDimension: fs.ParentDimension,
		})
	}
	return cfg, nil
}

// LoadFile loads a YAML cube declaration from a file.
func LoadFile(path string) (cube.Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return cube.Config{}, fmt.Errorf("failed to open cube schema: %w", err)
	}
	defer f.Close()
	return Load(f)
}
