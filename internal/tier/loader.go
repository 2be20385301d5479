package tier

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

// tierFileSchema validates operator tier override files.
const tierFileSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "title": "finsight tier table",
  "type": "object",
  "required": ["sources"],
  "additionalProperties": false,
  "properties": {
    "sources": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["id", "min_tier"],
        "additionalProperties": false,
        "properties": {
          "id": {"type": "string", "pattern": "^[a-z0-9_]+$"},
          "category": {"type": "string", "enum": ["economic", "market", "search"]},
          "min_tier": {"type": "string", "enum": ["starter", "standard", "premium"]},
          "description": {"type": "string"}
        }
      }
    }
  }
}`

type tierFile struct {
	Sources []Rule `yaml:"sources"`
}

// LoadFile reads a YAML tier table, validates it against the schema and
// returns a Registry built from it.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied config path
	if err != nil {
		return nil, fmt.Errorf("reading tier file: %w", err)
	}
	return ParseYAML(data)
}

// ParseYAML validates and parses a YAML tier table.
func ParseYAML(data []byte) (*Registry, error) {
	var raw interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing tier YAML: %w", err)
	}
	jsonBytes, err := json.Marshal(normalizeYAML(raw))
	if err != nil {
		return nil, fmt.Errorf("converting tier YAML to JSON: %w", err)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(tierFileSchema),
		gojsonschema.NewBytesLoader(jsonBytes),
	)
	if err != nil {
		return nil, fmt.Errorf("tier schema validation failed: %w", err)
	}
	if !result.Valid() {
		var msgs []string
		for _, verr := range result.Errors() {
			msgs = append(msgs, "- "+verr.String())
		}
		return nil, fmt.Errorf("tier schema validation errors:\n%s", strings.Join(msgs, "\n"))
	}

	var tf tierFile
	if err := yaml.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("decoding tier table: %w", err)
	}
	return NewRegistry(tf.Sources)
}

// normalizeYAML converts map[interface{}]interface{} nodes into
// map[string]interface{} so the document can be marshalled as JSON.
func normalizeYAML(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		for k, val := range t {
			t[k] = normalizeYAML(val)
		}
		return t
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = normalizeYAML(val)
		}
		return out
	case []interface{}:
		for i, val := range t {
			t[i] = normalizeYAML(val)
		}
		return t
	default:
		return v
	}
}
