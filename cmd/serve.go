package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"github.com/theapemachine/mnemo/pkg/auth"
	"github.com/theapemachine/mnemo/pkg/service"
)

var (
	portFlag int
	hostFlag string

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP or MCP server",
		Long:  longServe,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	httpCmd = &cobra.Command{
		Use:   "http",
		Short: "Serve turns and memory over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			e, err := buildEngine()

			if err != nil {
				return err
			}

			defer e.Close()

			cfg := e.cfg.Server

			if cmd.Flags().Changed("port") {
				cfg.HTTP.Port = portFlag
			}

			if cmd.Flags().Changed("host") {
				cfg.HTTP.Host = hostFlag
			}

			authService, err := auth.NewService(cfg.Auth)

			if err != nil {
				return err
			}

			e.start(ctx)

			srv := service.NewServer(
				cfg.HTTP,
				authService,
				e.orchestrator,
				e.episodes,
				e.retriever,
				service.WithStats("backfill", func() any { return e.backfill.Stats() }),
			)

			return srv.Start(ctx)
		},
	}

	mcpCmd = &cobra.Command{
		Use:   "mcp",
		Short: "Serve the memory and web-search tools over MCP stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			scope := scopeFlags(cmd)
			e, err := buildEngine()

			if err != nil {
				return err
			}

			defer e.Close()

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			e.start(ctx)

			srv := server.NewMCPServer(
				projectName,
				"1.0.0",
				server.WithToolCapabilities(true),
				server.WithLogging(),
			)

			e.registry.RegisterMCP(srv, scope)
			log.Info("mcp server on stdio", "user", scope.User, "persona", scope.Persona)

			return server.ServeStdio(srv)
		},
	}
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.AddCommand(httpCmd)
	serveCmd.AddCommand(mcpCmd)

	httpCmd.Flags().IntVarP(&portFlag, "port", "p", 3210, "Port to serve on")
	httpCmd.Flags().StringVarP(&hostFlag, "host", "H", "0.0.0.0", "Host address to bind to")

	mcpCmd.Flags().StringP("user", "u", "", "User whose memories the tools search")
	mcpCmd.Flags().StringP("persona", "P", "default", "Persona whose memories the tools search")
	mcpCmd.MarkFlagRequired("user")
}

var longServe = `
Serve the engine over HTTP, or its tools over MCP.

Examples:
  # Serve the HTTP API on port 8080
  mnemo serve http --port 8080

  # Expose search_memories and web_search to an MCP client
  mnemo serve mcp --user alice --persona coach
`
