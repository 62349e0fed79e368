package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/adminpilot/control-plane/internal/auth"
	"github.com/spf13/cobra"
)

var (
	tokenSubject string
	tokenRole    string
	tokenTTL     time.Duration
	tokenIssuer  string
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a signed bearer token for the API",
	Long: `Mint an HS256 bearer token accepted by the server's JWT provider.

The signing secret is read from ADMINPILOT_JWT_SECRET and must match the
server's. The issuer defaults to ADMINPILOT_JWT_ISSUER.`,
	Example: `  apctl token --subject ops@example.com --role admin --ttl 8h`,
	Args:    cobra.NoArgs,
	RunE:    runToken,
}

func init() {
	issuer := os.Getenv("ADMINPILOT_JWT_ISSUER")
	if issuer == "" {
		issuer = "adminpilot"
	}
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "", "subject (user id) the token identifies")
	tokenCmd.Flags().StringVar(&tokenRole, "role", "admin", "role claim")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", time.Hour, "token lifetime")
	tokenCmd.Flags().StringVar(&tokenIssuer, "issuer", issuer, "issuer claim")
	_ = tokenCmd.MarkFlagRequired("subject")
	rootCmd.AddCommand(tokenCmd)
}

func runToken(cmd *cobra.Command, _ []string) error {
	secret := os.Getenv("ADMINPILOT_JWT_SECRET")
	if secret == "" {
		return errors.New("ADMINPILOT_JWT_SECRET is not set")
	}
	if tokenTTL <= 0 {
		return fmt.Errorf("--ttl must be positive, got %s", tokenTTL)
	}
	tok, err := auth.MintToken([]byte(secret), tokenIssuer, tokenSubject, tokenRole, tokenTTL)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), tok)
	return nil
}
