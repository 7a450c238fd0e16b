package cmd

import (
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var inMemory bool

var rootCmd = &cobra.Command{
	Use:   "face-gallery",
	Short: "Face identity gallery with audited identification",
	Long: `Face Gallery enrolls known people from face images and identifies the
person in a query image against the enrolled gallery. Every identification
attempt is recorded in an append-only audit log.

Descriptors are computed by an external face embedding server and stored in
PostgreSQL with pgvector.`,
	SilenceUsage: true,
}

// Root returns the root command for fang.
func Root() *cobra.Command {
	return rootCmd
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().BoolVar(&inMemory, "memory", false, "Keep the gallery and audit log in memory (development only)")
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}
