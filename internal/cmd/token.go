package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/tabula/internal/auth"
	"github.com/telhawk-systems/tabula/internal/config"
	"github.com/telhawk-systems/tabula/internal/models"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a bearer token for local testing",
	Long: `Sign a token with auth.jwt_secret that the API accepts in jwt mode.
Intended for development and load tests; production tokens come from the
identity provider.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadedConfig()
		if err != nil {
			return err
		}
		if cfg.Auth.Mode != config.AuthModeJWT {
			return fmt.Errorf("token minting requires auth.mode=%s", config.AuthModeJWT)
		}
		if cfg.Auth.JWTSecret == "" {
			return errors.New("auth.jwt_secret is not set")
		}

		subject, _ := cmd.Flags().GetString("subject")
		email, _ := cmd.Flags().GetString("email")
		name, _ := cmd.Flags().GetString("name")
		ttl, _ := cmd.Flags().GetDuration("ttl")
		if subject == "" {
			return errors.New("--subject is required")
		}

		signer := auth.NewSigner(cfg.Auth.JWTSecret, ttl, cfg.Auth.Audience, cfg.Auth.Issuer)
		token, err := signer.Sign(models.Identity{ID: subject, Email: email, DisplayName: name})
		if err != nil {
			return fmt.Errorf("failed to sign token: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.Flags().String("subject", "", "user id (sub claim)")
	tokenCmd.Flags().String("email", "", "email claim")
	tokenCmd.Flags().String("name", "", "display name")
	tokenCmd.Flags().Duration("ttl", time.Hour, "token lifetime")
}
