// Package recipe loads sub-recipe definitions from YAML files on disk —
// the file a platform__subrecipe__<name> tool ultimately hands to
// `goose run --recipe <path>`. Grounded on the teacher's
// pkg/config/loader.go YAML-config-file shape; parameter schemas are
// validated at load time the way the pack's service registry validates
// tool payload schemas (goadesign-goa-ai/registry/service.go), using
// santhosh-tekuri/jsonschema.
package recipe

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"
)

// Recipe is the on-disk shape of one sub-recipe file.
type Recipe struct {
	Name                   string         `yaml:"name"`
	Description            string         `yaml:"description"`
	Instructions           string         `yaml:"instructions"`
	Parameters             map[string]any `yaml:"parameters"`
	SequentialWhenRepeated bool           `yaml:"sequential_when_repeated"`
}

// Load reads and parses the recipe file at path. If Parameters is set it
// must be a well-formed JSON Schema document; Load rejects the file
// otherwise rather than deferring the error to first invocation.
func Load(path string) (*Recipe, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("recipe: read %s: %w", path, err)
	}
	var r Recipe
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("recipe: parse %s: %w", path, err)
	}
	if r.Name == "" {
		return nil, fmt.Errorf("recipe: %s: missing name", path)
	}
	if len(r.Parameters) > 0 {
		if err := validateSchema(r.Parameters); err != nil {
			return nil, fmt.Errorf("recipe: %s: invalid parameters schema: %w", path, err)
		}
	}
	return &r, nil
}

func validateSchema(schema map[string]any) error {
	c := jsonschema.NewCompiler()
	if err := c.AddResource("parameters.json", schema); err != nil {
		return fmt.Errorf("add schema resource: %w", err)
	}
	if _, err := c.Compile("parameters.json"); err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	return nil
}

// ValidateArgs checks args against the recipe's declared parameter schema.
// It's a no-op when the recipe declares no schema.
func (r *Recipe) ValidateArgs(args map[string]any) error {
	if len(r.Parameters) == 0 {
		return nil
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("parameters.json", r.Parameters); err != nil {
		return fmt.Errorf("recipe: add schema resource: %w", err)
	}
	schema, err := c.Compile("parameters.json")
	if err != nil {
		return fmt.Errorf("recipe: compile schema: %w", err)
	}

	// Round-trip through JSON so Go types (e.g. plain ints) normalize to
	// the same representation jsonschema expects from decoded JSON.
	raw, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("recipe: encode arguments: %w", err)
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return fmt.Errorf("recipe: decode arguments: %w", err)
	}

	if err := schema.Validate(decoded); err != nil {
		return fmt.Errorf("recipe: %s: arguments don't satisfy parameters schema: %w", r.Name, err)
	}
	return nil
}
