package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-gallery/internal/web/middleware"
)

var tokenCmd = &cobra.Command{
	Use:   "token <caller-id>",
	Short: "Issue an API bearer token for a caller",
	Long: `Issue an HS256 bearer token for <caller-id>, signed with AUTH_JWT_SECRET.
The caller id is recorded in the audit log of every identification made with
the token.

Examples:
  face-gallery token door-7 --ttl 720h`,
	Args: cobra.ExactArgs(1),
	RunE: runToken,
}

func init() {
	rootCmd.AddCommand(tokenCmd)

	tokenCmd.Flags().Duration("ttl", 24*time.Hour, "Token lifetime")
}

func runToken(cmd *cobra.Command, args []string) error {
	ttl := mustGetDuration(cmd, "ttl")
	if ttl <= 0 {
		return errors.New("--ttl must be positive")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	auth := middleware.NewAuthenticator(cfg.Auth)
	if !auth.Enabled() {
		return errors.New("AUTH_JWT_SECRET is not set, the server accepts the X-Caller-ID header instead")
	}

	token, err := auth.IssueToken(args[0], ttl)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}
