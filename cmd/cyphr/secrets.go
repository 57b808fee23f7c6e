package main

import (
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"

	"github.com/cfieandres/cyphr-tableau/internal/adapter/gateway"
	"github.com/cfieandres/cyphr-tableau/internal/infra/config"
)

func encryptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "encrypt <value>",
		Short: "Encrypt a secret for use in the config file",
		Long: `Encrypt prints an enc: value that config loading decrypts with the
passphrase in CYPHR_CONFIG_KEY.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			passphrase := os.Getenv("CYPHR_CONFIG_KEY")
			if passphrase == "" {
				return fmt.Errorf("CYPHR_CONFIG_KEY must be set")
			}
			enc, err := config.EncryptSecret(args[0], passphrase)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), enc)
			return nil
		},
	}
}

func tokenCmd(opts *rootOptions) *cobra.Command {
	var (
		subject string
		roles   []string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an admin JWT signed with the configured secret",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if cfg.Auth.JWTSecret == "" {
				return fmt.Errorf("auth.jwt_secret (or CYPHR_JWT_SECRET) must be set")
			}
			now := time.Now()
			token, err := gateway.IssueJWT([]byte(cfg.Auth.JWTSecret), cfg.Auth.JWTIssuer, subject, roles, jwt.RegisteredClaims{
				IssuedAt:  jwt.NewNumericDate(now),
				ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			})
			if err != nil {
				return fmt.Errorf("sign token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "admin", "token subject")
	cmd.Flags().StringSliceVar(&roles, "role", []string{gateway.RoleAdmin}, "roles to grant")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
