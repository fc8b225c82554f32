package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/cuemby/burrow/pkg/client"
	"github.com/cuemby/burrow/pkg/registry"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Create the namespaces declared in a YAML file",
	Long: `Create the namespaces declared in a YAML file. Namespaces that already
exist are skipped. Shared schema roots are created before their members.

Example file:
  kind: Namespace
  metadata:
    name: schema
  spec:
    sharedSchema: true
  ---
  kind: Namespace
  metadata:
    name: tenant-a
  spec:
    sharedSchemaName: schema
    params:
      max_size: 1gb

Examples:
  burrow apply -f namespaces.yaml`,
	RunE: runApply,
}

func init() {
	applyCmd.Flags().StringP("file", "f", "", "YAML file to apply (required)")
	_ = applyCmd.MarkFlagRequired("file")

	rootCmd.AddCommand(applyCmd)
}

// NamespaceResource is one document of an apply file
type NamespaceResource struct {
	Kind     string           `yaml:"kind"`
	Metadata ResourceMetadata `yaml:"metadata"`
	Spec     NamespaceSpec    `yaml:"spec"`
}

type ResourceMetadata struct {
	Name string `yaml:"name"`
}

type NamespaceSpec struct {
	SharedSchema     bool                   `yaml:"sharedSchema"`
	SharedSchemaName string                 `yaml:"sharedSchemaName"`
	Params           map[string]interface{} `yaml:"params"`
}

func runApply(cmd *cobra.Command, args []string) error {
	filename, _ := cmd.Flags().GetString("file")

	f, err := os.Open(filename)
	if err != nil {
		return fmt.Errorf("failed to read file: %v", err)
	}
	defer f.Close()

	resources, err := decodeResources(f)
	if err != nil {
		return err
	}

	c, err := newAdminClient(cmd)
	if err != nil {
		return err
	}

	for _, res := range orderResources(resources) {
		if err := applyNamespace(cmd, c, res); err != nil {
			return err
		}
	}
	return nil
}

// decodeResources reads every YAML document and checks it is a namespace
func decodeResources(r io.Reader) ([]NamespaceResource, error) {
	dec := yaml.NewDecoder(r)

	var resources []NamespaceResource
	for {
		var res NamespaceResource
		err := dec.Decode(&res)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %v", err)
		}

		if res.Kind != "Namespace" {
			return nil, fmt.Errorf("unsupported resource kind: %q", res.Kind)
		}
		if res.Metadata.Name == "" {
			return nil, fmt.Errorf("namespace metadata.name is required")
		}
		if res.Spec.SharedSchema && res.Spec.SharedSchemaName != "" {
			return nil, fmt.Errorf("namespace %s: sharedSchema and sharedSchemaName are mutually exclusive", res.Metadata.Name)
		}
		resources = append(resources, res)
	}
	return resources, nil
}

// orderResources moves shared schema members after everything else, keeping
// file order within each group
func orderResources(in []NamespaceResource) []NamespaceResource {
	out := make([]NamespaceResource, 0, len(in))
	for _, res := range in {
		if res.Spec.SharedSchemaName == "" {
			out = append(out, res)
		}
	}
	for _, res := range in {
		if res.Spec.SharedSchemaName != "" {
			out = append(out, res)
		}
	}
	return out
}

func applyNamespace(cmd *cobra.Command, c *client.Client, res NamespaceResource) error {
	name := res.Metadata.Name
	out := cmd.OutOrStdout()

	_, err := c.Create(cmd.Context(), name, client.CreateRequest{
		SharedSchema:     res.Spec.SharedSchema,
		SharedSchemaName: res.Spec.SharedSchemaName,
		Params:           res.Spec.Params,
	})
	switch {
	case err == nil:
		fmt.Fprintf(out, "✓ Namespace created: %s\n", name)
	case client.IsKind(err, registry.KindAlreadyExists):
		fmt.Fprintf(out, "Namespace already exists: %s (skipping)\n", name)
	default:
		return fmt.Errorf("failed to create namespace %s: %w", name, err)
	}
	return nil
}
