package main

import (
	"fmt"
	"strings"

	"github.com/cuemby/burrow/pkg/client"
	"github.com/spf13/cobra"
)

var namespaceCmd = &cobra.Command{
	Use:     "namespace",
	Aliases: []string{"ns"},
	Short:   "Manage namespaces through the admin API",
}

var namespaceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List namespaces",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		pending, _ := cmd.Flags().GetBool("pending")
		format, _ := cmd.Flags().GetString("output")

		c, err := newAdminClient(cmd)
		if err != nil {
			return err
		}

		list, err := c.List(cmd.Context(), pending)
		if err != nil {
			return fmt.Errorf("failed to list namespaces: %w", err)
		}
		return printNamespaces(cmd.OutOrStdout(), format, list)
	},
}

var namespaceGetCmd = &cobra.Command{
	Use:   "get NAME",
	Short: "Show one namespace",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("output")

		c, err := newAdminClient(cmd)
		if err != nil {
			return err
		}

		ns, err := c.Get(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("failed to get namespace: %w", err)
		}
		return printDescriptor(cmd.OutOrStdout(), format, ns)
	},
}

var namespaceCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Create a namespace",
	Long: `Create a namespace.

Examples:
  # Standalone namespace
  burrow namespace create tenant-a

  # Shared schema root and a member using it
  burrow namespace create schema --shared-schema
  burrow namespace create tenant-b --shared-schema-name schema

  # Extra creation parameters forwarded to the storage engine
  burrow namespace create tenant-c --param max_size=1gb`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		shared, _ := cmd.Flags().GetBool("shared-schema")
		sharedName, _ := cmd.Flags().GetString("shared-schema-name")
		rawParams, _ := cmd.Flags().GetStringArray("param")

		params, err := parseParams(rawParams)
		if err != nil {
			return err
		}

		c, err := newAdminClient(cmd)
		if err != nil {
			return err
		}

		if _, err := c.Create(cmd.Context(), name, client.CreateRequest{
			SharedSchema:     shared,
			SharedSchemaName: sharedName,
			Params:           params,
		}); err != nil {
			return fmt.Errorf("failed to create namespace: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "✓ Namespace created: %s\n", name)
		return nil
	},
}

var namespaceDeleteCmd = &cobra.Command{
	Use:   "delete NAME",
	Short: "Delete a namespace",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newAdminClient(cmd)
		if err != nil {
			return err
		}

		if err := c.Delete(cmd.Context(), args[0]); err != nil {
			return fmt.Errorf("failed to delete namespace: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "✓ Namespace deleted: %s\n", args[0])
		return nil
	},
}

func init() {
	namespaceCmd.AddCommand(namespaceListCmd)
	namespaceCmd.AddCommand(namespaceGetCmd)
	namespaceCmd.AddCommand(namespaceCreateCmd)
	namespaceCmd.AddCommand(namespaceDeleteCmd)

	namespaceListCmd.Flags().Bool("pending", false, "Include namespaces that are being created or deleted")
	namespaceListCmd.Flags().StringP("output", "o", outputTable, "Output format: table, json or yaml")
	namespaceGetCmd.Flags().StringP("output", "o", outputTable, "Output format: table, json or yaml")

	namespaceCreateCmd.Flags().Bool("shared-schema", false, "Make this namespace a shared schema root")
	namespaceCreateCmd.Flags().String("shared-schema-name", "", "Use the schema of this root namespace")
	namespaceCreateCmd.Flags().StringArray("param", nil, "Creation parameter as key=value (repeatable)")

	rootCmd.AddCommand(namespaceCmd)
}

// parseParams turns key=value pairs into creation parameters
func parseParams(pairs []string) (map[string]interface{}, error) {
	if len(pairs) == 0 {
		return nil, nil
	}

	params := make(map[string]interface{}, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --param %q, want key=value", pair)
		}
		if key == "shared_schema" || key == "shared_schema_name" {
			return nil, fmt.Errorf("use --shared-schema or --shared-schema-name instead of --param %s", key)
		}
		params[key] = value
	}
	return params, nil
}
