package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"tripsync/auth"
	"tripsync/config"
)

func tokenCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "token",
		Short:   "issue an access token for local development",
		Example: `tripsync token --uid u1 --name Aditya`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if err := cfg.Validate(); err != nil {
				return err
			}
			uid, _ := cmd.Flags().GetString("uid")
			name, _ := cmd.Flags().GetString("name")
			email, _ := cmd.Flags().GetString("email")

			token, err := auth.NewJWTManager(cfg.JWTSecret, cfg.TokenTTL).Generate(auth.Identity{
				UID:         uid,
				DisplayName: name,
				Email:       email,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().String("uid", "", "user id (required)")
	cmd.Flags().String("name", "", "display name")
	cmd.Flags().String("email", "", "email")
	if err := cmd.MarkFlagRequired("uid"); err != nil {
		panic(err)
	}
	return cmd
}
