package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/cuemby/burrow/pkg/api"
	"gopkg.in/yaml.v3"
)

// Output formats accepted by -o
const (
	outputTable = "table"
	outputJSON  = "json"
	outputYAML  = "yaml"
)

// namespaceRow is the printable form of a namespace
type namespaceRow struct {
	Name             string `json:"name" yaml:"name"`
	SharedSchemaName string `json:"shared_schema_name,omitempty" yaml:"shared_schema_name,omitempty"`
}

func rowsOf(list []api.NamespaceSummary) []namespaceRow {
	rows := make([]namespaceRow, 0, len(list))
	for _, ns := range list {
		row := namespaceRow{Name: ns.Name}
		if ns.SharedSchemaName != nil {
			row.SharedSchemaName = *ns.SharedSchemaName
		}
		rows = append(rows, row)
	}
	return rows
}

func printNamespaces(w io.Writer, format string, list []api.NamespaceSummary) error {
	rows := rowsOf(list)

	switch format {
	case outputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	case outputYAML:
		enc := yaml.NewEncoder(w)
		defer enc.Close()
		return enc.Encode(rows)
	case outputTable, "":
		tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
		fmt.Fprintln(tw, "NAME\tSHARED SCHEMA")
		for _, r := range rows {
			shared := r.SharedSchemaName
			if shared == "" {
				shared = "-"
			}
			fmt.Fprintf(tw, "%s\t%s\n", r.Name, shared)
		}
		return tw.Flush()
	default:
		return fmt.Errorf("unknown output format %q (want table, json or yaml)", format)
	}
}

// descriptor mirrors api.NamespaceResponse with yaml keys
type descriptor struct {
	ID               string  `json:"id" yaml:"id"`
	Name             string  `json:"name" yaml:"name"`
	SchemaKind       string  `json:"schema_kind" yaml:"schema_kind"`
	SharedSchemaName *string `json:"shared_schema_name" yaml:"shared_schema_name"`
	State            string  `json:"state" yaml:"state"`
	CreatedAt        string  `json:"created_at" yaml:"created_at"`
}

func printDescriptor(w io.Writer, format string, ns *api.NamespaceResponse) error {
	switch format {
	case outputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(ns)
	case outputYAML:
		enc := yaml.NewEncoder(w)
		defer enc.Close()
		return enc.Encode(descriptor(*ns))
	case outputTable, "":
		shared := "-"
		if ns.SharedSchemaName != nil {
			shared = *ns.SharedSchemaName
		}
		tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
		fmt.Fprintf(tw, "Name:\t%s\n", ns.Name)
		fmt.Fprintf(tw, "ID:\t%s\n", ns.ID)
		fmt.Fprintf(tw, "Kind:\t%s\n", ns.SchemaKind)
		fmt.Fprintf(tw, "Shared schema:\t%s\n", shared)
		fmt.Fprintf(tw, "State:\t%s\n", ns.State)
		fmt.Fprintf(tw, "Created:\t%s\n", ns.CreatedAt)
		return tw.Flush()
	default:
		return fmt.Errorf("unknown output format %q (want table, json or yaml)", format)
	}
}
