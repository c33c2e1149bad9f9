package main

import (
	"fmt"
	"sort"

	"chronicle/pkg/transcript"

	"github.com/spf13/cobra"
)

// newSchemaCmd creates the "chronicle schema" parent command.
func newSchemaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Inspect and validate transcript schemas",
		Long:  "Commands for listing the loaded transcript schemas and validating\nschema files before installing them under the schemas directory.",
	}

	cmd.AddCommand(newSchemaListCmd(), newSchemaValidateCmd())
	return cmd
}

// newSchemaListCmd creates the "chronicle schema list" subcommand.
func newSchemaListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List loaded schemas",
		Long:  "Lists the builtin schemas plus any valid schema files from the schemas\ndirectory, with their version and event rule count.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			paths, err := ResolvePaths()
			if err != nil {
				return err
			}
			schemas, err := loadSchemas(paths.SchemasDir)
			if err != nil {
				return err
			}

			names := make([]string, 0, len(schemas))
			for name := range schemas {
				names = append(names, name)
			}
			sort.Strings(names)

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%-24s %-10s %s\n", "NAME", "VERSION", "EVENTS")
			for _, name := range names {
				s := schemas[name]
				version := s.Version
				if version == "" {
					version = "-"
				}
				fmt.Fprintf(w, "%-24s %-10s %d\n", s.Name, version, len(s.Events))
			}
			return nil
		},
	}
}

// newSchemaValidateCmd creates the "chronicle schema validate" subcommand.
func newSchemaValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file> [file...]",
		Short: "Validate schema files",
		Long:  "Parses, validates and compiles each schema file, reporting problems\nper file. Exits non-zero if any file is invalid.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()
			invalid := 0
			for _, path := range args {
				s, err := transcript.LoadSchemaFile(path)
				if err != nil {
					invalid++
					fmt.Fprintf(w, "invalid  %s: %v\n", path, err)
					continue
				}
				fmt.Fprintf(w, "ok       %s (schema %q, %d events)\n", path, s.Name, len(s.Events))
			}
			if invalid > 0 {
				return fmt.Errorf("%d invalid schema file(s)", invalid)
			}
			return nil
		},
	}
}
