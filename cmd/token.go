package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/theapemachine/mnemo/pkg/auth"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a bearer token for the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		tier, err := tierFlag(cmd)

		if err != nil {
			return err
		}

		cfg, err := loadConfig()

		if err != nil {
			return err
		}

		authService, err := auth.NewService(cfg.Server.Auth)

		if err != nil {
			return err
		}

		scope := scopeFlags(cmd)
		token, err := authService.Issue(scope.User, scope.Persona, tier)

		if err != nil {
			return err
		}

		fmt.Println(token)

		return nil
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)

	tokenCmd.Flags().StringP("user", "u", "", "User the token is issued to")
	tokenCmd.Flags().StringP("persona", "P", "", "Default persona for requests")
	tokenCmd.Flags().StringP("tier", "t", "free", "Subscription tier: free, pro, premium or enterprise")
	tokenCmd.MarkFlagRequired("user")
}
