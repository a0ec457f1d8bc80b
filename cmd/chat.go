package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"github.com/theapemachine/mnemo/pkg/client"
	"github.com/theapemachine/mnemo/pkg/orchestrator"
)

var (
	promptStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	replyStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	statusStyle = lipgloss.NewStyle().Faint(true).Italic(true)
	toolStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("81"))
	errorStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))

	chatCmd = &cobra.Command{
		Use:   "chat",
		Short: "Talk to a persona in the terminal",
		Long:  longChat,
		RunE: func(cmd *cobra.Command, args []string) error {
			tier, err := tierFlag(cmd)

			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			scope := scopeFlags(cmd)
			preferred, _ := cmd.Flags().GetString("provider")
			var turn func(ctx context.Context, message string) (<-chan orchestrator.Event, error)

			if remote, _ := cmd.Flags().GetString("remote"); remote != "" {
				token, _ := cmd.Flags().GetString("token")
				remoteClient := client.NewClient(remote, token)

				turn = func(ctx context.Context, message string) (<-chan orchestrator.Event, error) {
					return remoteClient.Turn(ctx, scope.Persona, message, preferred)
				}
			} else {
				e, err := buildEngine()

				if err != nil {
					return err
				}

				defer e.Close()

				e.start(ctx)

				turn = func(ctx context.Context, message string) (<-chan orchestrator.Event, error) {
					return e.orchestrator.HandleTurn(ctx, orchestrator.Turn{
						Scope: scope, Message: message, Tier: tier, Provider: preferred,
					}), nil
				}
			}

			scanner := bufio.NewScanner(os.Stdin)

			for {
				fmt.Print(promptStyle.Render("you › "))

				if !scanner.Scan() {
					return scanner.Err()
				}

				line := strings.TrimSpace(scanner.Text())

				switch line {
				case "":
					continue
				case "/quit", "/exit":
					return nil
				}

				chatTurn(ctx, line, turn)
			}
		},
	}
)

/*
chatTurn prints one streamed turn. Ctrl-C aborts the reply, not the session.
*/
func chatTurn(
	ctx context.Context,
	message string,
	turn func(context.Context, string) (<-chan orchestrator.Event, error),
) {
	turnCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	events, err := turn(turnCtx, message)

	if err != nil {
		fmt.Println(errorStyle.Render(err.Error()))
		return
	}

	for event := range events {
		render(event)
	}
}

func render(event orchestrator.Event) {
	switch event.Kind {
	case orchestrator.EventStatus:
		if event.Status.Reset {
			fmt.Println()
		}

		fmt.Println(statusStyle.Render(fmt.Sprintf("[%s · %s]", event.Status.Provider, event.Status.Model)))
	case orchestrator.EventText:
		fmt.Print(replyStyle.Render(event.Text))
	case orchestrator.EventTool:
		if event.Tool.Phase == orchestrator.ToolPhaseCall {
			fmt.Println(toolStyle.Render(fmt.Sprintf("\n⚙ %s %s", event.Tool.Name, event.Tool.Arguments)))
		}
	case orchestrator.EventError:
		fmt.Println(errorStyle.Render(event.Error.Message))
	case orchestrator.EventDone:
		fmt.Println()

		if event.Done.Facts > 0 {
			fmt.Println(statusStyle.Render(fmt.Sprintf("[remembered %d fact(s)]", event.Done.Facts)))
		}
	}
}

func init() {
	rootCmd.AddCommand(chatCmd)

	chatCmd.Flags().StringP("user", "u", os.Getenv("USER"), "User id to remember under")
	chatCmd.Flags().StringP("persona", "P", "default", "Persona to talk to")
	chatCmd.Flags().StringP("tier", "t", "free", "Subscription tier: free, pro, premium or enterprise")
	chatCmd.Flags().String("provider", "", "Provider id to try first, when the tier allows it")
	chatCmd.Flags().String("remote", "", "Talk to a running server at this URL instead of in-process")
	chatCmd.Flags().String("token", os.Getenv("MNEMO_TOKEN"), "Bearer token for --remote")
}

var longChat = `
Start an interactive conversation. Every turn goes through the same memory,
retrieval and provider pipeline as the HTTP API. Type /quit to leave.

Examples:
  mnemo chat --persona coach --tier pro

  # Against a server, with a token from "mnemo token"
  mnemo chat --persona coach --remote http://localhost:3210 --token $TOKEN
`
