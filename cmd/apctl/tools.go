package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/adminpilot/control-plane/internal/tools"
	"github.com/spf13/cobra"
)

var toolsJSON bool

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the tools the agent can call",
	Long: `List every tool in the agent's catalog with its safety class.

Destructive tools are held for confirmation when the server runs with
AGENT_DESTRUCTIVE_MODE=confirm. Read-only tools never write to the audit trail.`,
	Args: cobra.NoArgs,
	RunE: runTools,
}

func init() {
	toolsCmd.Flags().BoolVar(&toolsJSON, "json", false, "print the declarations as JSON")
	rootCmd.AddCommand(toolsCmd)
}

func runTools(cmd *cobra.Command, _ []string) error {
	decls := tools.NewRegistry().List()
	out := cmd.OutOrStdout()

	if toolsJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(decls)
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tCLASS\tDESCRIPTION")
	for _, d := range decls {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", d.Name, safetyClass(d), d.Description)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "\n%d tools\n", len(decls))
	return nil
}

func safetyClass(d tools.Declaration) string {
	switch {
	case d.Destructive:
		return "destructive"
	case d.ReadOnly:
		return "read-only"
	default:
		return "mutating"
	}
}
