package discovery

import (
	"fmt"

	"github.com/systmms/secretsync/pkg/descriptor"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

// Shape A: a single remote key.
const singleShapeSchema = `{
  "type": "object",
  "required": ["enabled", "remoteKey"],
  "properties": {
    "enabled": {"type": "boolean"},
    "remoteKey": {"type": "string"}
  }
}`

// Shape B: a non-empty list of remote keys, each a string or an object.
const arrayShapeSchema = `{
  "type": "object",
  "required": ["enabled", "remoteKeys"],
  "properties": {
    "enabled": {"type": "boolean"},
    "remoteKeys": {
      "type": "array",
      "minItems": 1,
      "items": {"type": ["string", "object"]}
    }
  }
}`

// shapeKind is the outcome of matching a secrets block
type shapeKind int

const (
	shapeNone shapeKind = iota
	shapeSingle
	shapeArray
)

func (k shapeKind) String() string {
	switch k {
	case shapeSingle:
		return "single"
	case shapeArray:
		return "array"
	default:
		return "none"
	}
}

type singleBlock struct {
	Enabled         bool                       `yaml:"enabled"`
	RemoteKey       string                     `yaml:"remoteKey"`
	SecretStoreRef  string                     `yaml:"secretStoreRef"`
	RefreshInterval string                     `yaml:"refreshInterval"`
	Generator       *descriptor.GenerationSpec `yaml:"generator"`
	Optional        bool                       `yaml:"optional"`
}

type arrayBlock struct {
	Enabled         bool         `yaml:"enabled"`
	RemoteKeys      []arrayEntry `yaml:"remoteKeys"`
	SecretStoreRef  string       `yaml:"secretStoreRef"`
	RefreshInterval string       `yaml:"refreshInterval"`
	Optional        bool         `yaml:"optional"`
}

// arrayEntry accepts either a bare string or a mapping
type arrayEntry struct {
	RemoteKey string                     `yaml:"remoteKey"`
	Generator *descriptor.GenerationSpec `yaml:"generator"`
	Optional  *bool                      `yaml:"optional"`
}

func (e *arrayEntry) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		return node.Decode(&e.RemoteKey)
	}
	type plain arrayEntry
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	*e = arrayEntry(p)
	return nil
}

// shapeMatcher holds the compiled shape schemas
type shapeMatcher struct {
	single *gojsonschema.Schema
	array  *gojsonschema.Schema
}

func newShapeMatcher() (*shapeMatcher, error) {
	single, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(singleShapeSchema))
	if err != nil {
		return nil, fmt.Errorf("failed to compile single shape schema: %w", err)
	}
	array, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(arrayShapeSchema))
	if err != nil {
		return nil, fmt.Errorf("failed to compile array shape schema: %w", err)
	}
	return &shapeMatcher{single: single, array: array}, nil
}

// match tries the single shape, then the array shape.
func (m *shapeMatcher) match(node *yaml.Node) (shapeKind, error) {
	var data interface{}
	if err := node.Decode(&data); err != nil {
		return shapeNone, err
	}

	for _, candidate := range []struct {
		kind   shapeKind
		schema *gojsonschema.Schema
	}{
		{shapeSingle, m.single},
		{shapeArray, m.array},
	} {
		result, err := candidate.schema.Validate(gojsonschema.NewGoLoader(data))
		if err != nil {
			// Values JSON cannot represent never match a shape
			return shapeNone, nil
		}
		if result.Valid() {
			return candidate.kind, nil
		}
	}
	return shapeNone, nil
}
