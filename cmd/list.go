package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/spf13/cobra"
)

var listEndpoint string

// newListCmd creates the command that lists the tools a running toolgate
// exposes, rendered as a table.
func newListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the tools a running toolgate exposes",
		Args:  cobra.NoArgs,
		RunE:  runList,
	}

	cmd.Flags().StringVar(&listEndpoint, "endpoint", "http://localhost:8090/mcp", "toolgate endpoint URL")
	return cmd
}

func runList(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
	defer cancel()

	mcpClient, err := client.NewStreamableHttpClient(listEndpoint)
	if err != nil {
		return fmt.Errorf("creating client: %w", err)
	}
	defer mcpClient.Close()

	if err := mcpClient.Start(ctx); err != nil {
		return fmt.Errorf("connecting to %s: %w", listEndpoint, err)
	}

	_, err = mcpClient.Initialize(ctx, mcp.InitializeRequest{
		Params: struct {
			ProtocolVersion string                 `json:"protocolVersion"`
			Capabilities    mcp.ClientCapabilities `json:"capabilities"`
			ClientInfo      mcp.Implementation     `json:"clientInfo"`
		}{
			ProtocolVersion: "2024-11-05",
			ClientInfo: mcp.Implementation{
				Name:    "toolgate-cli",
				Version: "1.0.0",
			},
		},
	})
	if err != nil {
		return fmt.Errorf("initializing session: %w", err)
	}

	result, err := mcpClient.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return fmt.Errorf("listing tools: %w", err)
	}

	if len(result.Tools) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No tools exposed")
		return nil
	}

	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Tool", "Description"})
	for _, tool := range result.Tools {
		t.AppendRow(table.Row{tool.Name, truncate(tool.Description, 80)})
	}
	t.Render()

	fmt.Fprintf(cmd.OutOrStdout(), "%d tools exposed\n", len(result.Tools))
	return nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
