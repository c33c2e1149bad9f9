package transcript

import (
	_ "embed"
	"fmt"
)

//go:embed claude-code.yaml
var builtinClaudeCode []byte

// BuiltinSchemaName is the name of the schema shipped with chronicle.
const BuiltinSchemaName = "claude-code"

// BuiltinSchemas parses the schemas embedded in the binary. The embedded
// documents are validated at build-test time, so a parse failure here is a
// programming error.
func BuiltinSchemas() (map[string]*Schema, error) {
	s, err := ParseSchema(builtinClaudeCode)
	if err != nil {
		return nil, fmt.Errorf("embedded schema %s: %w", BuiltinSchemaName, err)
	}
	return map[string]*Schema{s.Name: s}, nil
}
