package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/c360/flexbuf/config"
)

func newConfigCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print or validate relay configuration",
	}

	var format string
	defaultCmd := &cobra.Command{
		Use:   "default",
		Short: "Print the default configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := config.Default().Marshal(format)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	defaultCmd.Flags().StringVarP(&format, "format", "f", config.FormatYAML, "Output format: yaml or json")

	validateCmd := &cobra.Command{
		Use:   "validate [path]",
		Short: "Validate a configuration file against the schema and semantic rules",
		Long: `validate loads the file with FLEXBUF_* environment overrides applied and
reports the first problem found. Without a path the --config flag is used.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := root.configPath
			if len(args) == 1 {
				path = args[0]
			}
			if path == "" {
				return fmt.Errorf("no configuration file given")
			}
			if _, err := config.Load(path); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s: configuration is valid\n", path)
			return nil
		},
	}

	schemaCmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON schema configuration files are checked against",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := cmd.OutOrStdout().Write(config.Schema())
			return err
		},
	}

	cmd.AddCommand(defaultCmd, validateCmd, schemaCmd)
	return cmd
}
