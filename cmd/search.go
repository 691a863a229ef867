package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-matcher/internal/config"
	"github.com/kozaktomas/face-matcher/internal/database"
	"github.com/kozaktomas/face-matcher/internal/search"
)

var searchCmd = &cobra.Command{
	Use:   "search <person>",
	Short: "Search the library for a person's faces",
	Long: `Search every library image for faces of a person, given by id or name.

The person's verified faces are the references. A person without verified
faces is bootstrapped from their primary photo. Images are processed in order
of their date distance to the reference photos; images whose faces are
already stored are matched without extracting them again.

Examples:
  # Search for Jan Novák
  face-matcher search "Jan Novák"

  # Print the attributed faces as JSON
  face-matcher search "Jan Novák" --json

  # Return after the first images instead of waiting for the rest
  face-matcher search "Jan Novák" --wait=false`,
	Args: cobra.ExactArgs(1),
	RunE: runSearch,
}

func init() {
	rootCmd.AddCommand(searchCmd)

	searchCmd.Flags().Bool("json", false, "Output attributed faces as JSON")
	searchCmd.Flags().Bool("wait", true, "Wait for images processed after the search returned")
	searchCmd.Flags().Int("concurrency", 0, "Parallel extractions (default from SEARCH_CONCURRENCY)")
}

func runSearch(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	c, err := countFlag(cmd, "concurrency")
	if err != nil {
		return err
	}
	if c > 0 {
		cfg.Tuning.Search.Concurrency = c
	}
	jsonOutput := mustGetBool(cmd, "json")
	wait := mustGetBool(cmd, "wait")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eng, closeEngine, err := openEngine(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeEngine()

	person, err := eng.FindPerson(ctx, args[0])
	if err != nil {
		return err
	}

	var (
		mu  sync.Mutex
		bar *progressbar.ProgressBar
	)
	progress := func(p search.Progress) {
		if jsonOutput {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if bar == nil {
			bar = progressbar.NewOptions(p.Total,
				progressbar.OptionSetDescription("Searching"),
				progressbar.OptionShowCount(),
				progressbar.OptionShowIts(),
				progressbar.OptionSetItsString("photos"),
				progressbar.OptionShowElapsedTimeOnFinish(),
				progressbar.OptionSetPredictTime(true),
				progressbar.OptionFullWidth(),
			)
		}
		bar.ChangeMax(p.Total)
		bar.Describe(fmt.Sprintf("%s (%d matched)", p.Phase, p.Matched))
		_ = bar.Set(p.Processed)
	}

	if !jsonOutput {
		fmt.Printf("Searching for %s...\n", person.Name)
	}
	matched, err := eng.StartSearch(ctx, person.ID, progress)
	if err != nil {
		return fmt.Errorf("search failed after %d matches: %w", matched, err)
	}
	if wait {
		eng.Wait()
	}
	if !jsonOutput {
		fmt.Printf("\n\nMatched %d new faces of %s\n", matched, person.Name)
	}

	faces, err := database.FetchByOwner(ctx, eng.Store(), person.ID, false)
	if err != nil {
		return fmt.Errorf("failed to list faces: %w", err)
	}
	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(toFaceOutputs(faces))
	}
	printFaces(cfg, faces)
	return nil
}
