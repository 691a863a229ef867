package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "face-matcher",
	Short: "Find a person's faces across a photo library",
	Long: `Face Matcher detects faces in a photo library, stores their feature
vectors and attributes them to people. A search starts from a person's
verified faces (or their primary photo) and matches every library image
against them.

The library is a local directory (LIBRARY_ROOT) or a PhotoPrism instance
(PHOTOPRISM_URL). Faces are stored in PostgreSQL (DATABASE_URL) or in a
local SQLite file (SQLITE_PATH).`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}
