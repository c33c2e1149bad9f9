package transcript

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed schema.schema.json
var metaSchemaData []byte

var (
	metaSchemaOnce sync.Once
	metaSchema     *jsonschema.Schema
	metaSchemaErr  error
)

func compiledMetaSchema() (*jsonschema.Schema, error) {
	metaSchemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("schema.schema.json", strings.NewReader(string(metaSchemaData))); err != nil {
			metaSchemaErr = fmt.Errorf("add embedded meta-schema: %w", err)
			return
		}
		metaSchema, metaSchemaErr = compiler.Compile("schema.schema.json")
	})
	return metaSchema, metaSchemaErr
}

// ValidateSchemaDoc checks a YAML schema document against the embedded
// meta-schema before it is decoded into typed form. The document is
// round-tripped through JSON so the validator sees plain JSON values.
func ValidateSchemaDoc(data []byte) error {
	meta, err := compiledMetaSchema()
	if err != nil {
		return err
	}

	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("decode schema document: %w", err)
	}

	jsonData, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("normalize schema document: %w", err)
	}
	var normalized any
	if err := json.Unmarshal(jsonData, &normalized); err != nil {
		return fmt.Errorf("normalize schema document: %w", err)
	}

	if err := meta.Validate(normalized); err != nil {
		if ve, ok := err.(*jsonschema.ValidationError); ok {
			var msgs []string
			collectValidationErrors(ve, &msgs)
			return fmt.Errorf("schema document invalid:\n%s", strings.Join(msgs, "\n"))
		}
		return fmt.Errorf("schema document invalid: %w", err)
	}
	return nil
}

func collectValidationErrors(err *jsonschema.ValidationError, msgs *[]string) {
	if err.InstanceLocation != "" {
		*msgs = append(*msgs, fmt.Sprintf("- %s: %s", err.InstanceLocation, err.Message))
	}
	for _, cause := range err.Causes {
		collectValidationErrors(cause, msgs)
	}
}
