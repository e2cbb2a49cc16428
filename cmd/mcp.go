package cmd

import (
	"github.com/spf13/cobra"

	"github.com/joescharf/codereview/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP stdio server",
	Long: `Start an MCP (Model Context Protocol) server on stdio so agents can
request code reviews. Configure it in an MCP client with:

  {
    "mcpServers": {
      "codereview": { "command": "codereview", "args": ["mcp"] }
    }
  }

Available tools: review_code, review_repo_file, list_reviews

Every call is made as the configured user (--user or user_id).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		svc, err := getService(ctx)
		if err != nil {
			return err
		}
		s, err := getStore()
		if err != nil {
			return err
		}
		logger.Info("mcp server starting")
		return mcp.NewServer(svc, s, currentUser(), buildVersion).ServeStdio(ctx)
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
