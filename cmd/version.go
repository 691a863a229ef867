package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-matcher/internal/config"
)

// Build metadata variables, set by -ldflags at compile time.
var (
	Version   = "dev"
	CommitSHA = "unknown"
	BuildDate = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version and the active backends",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("face-matcher %s (%s, %s)\n", Version, CommitSHA, BuildDate)
		fmt.Printf("  Go:      %s\n", runtime.Version())

		cfg := config.Load()
		fmt.Printf("  Store:   %s\n", storeKind(cfg))
		fmt.Printf("  Images:  %s\n", sourceKind(cfg))
		fmt.Printf("  Model:   %s\n", cfg.Analyzer.Model)
		m := cfg.Tuning.Matching
		fmt.Printf("  Match:   distance <= %.2f, cosine >= %.2f\n", m.ObservationThreshold, m.CosineThreshold)
	},
}

func storeKind(cfg *config.Config) string {
	if cfg.Database.URL != "" {
		return "postgres"
	}
	return "sqlite " + cfg.Database.SQLitePath
}

func sourceKind(cfg *config.Config) string {
	if cfg.Library.Root != "" {
		return "library " + cfg.Library.Root
	}
	return "photoprism " + cfg.PhotoPrism.URL
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
